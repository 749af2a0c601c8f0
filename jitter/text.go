// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package jitter

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goims/imsmedia/media"
)

// t140WaitMs is how long a gap blocks delivery before the stream skips
// ahead; redundant generations usually close the gap well before this.
const t140WaitMs = 1000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextBuffer orders T.140 payloads by sequence. The RED decoder adds both
// primary and redundant generations under their original sequence numbers,
// so a gap left by a lost primary is healed when its redundant copy
// arrives; duplicates are dropped. A leading byte order mark is stripped
// once at stream start.
type TextBuffer struct {
	mu sync.Mutex

	queue   *media.DataQueue
	nextSeq uint16
	started bool
	atStart bool

	lost uint64

	log zerolog.Logger
}

func NewTextBuffer() *TextBuffer {
	return &TextBuffer{
		queue:   media.NewDataQueue(),
		atStart: true,
		log:     log.With().Str("caller", "text-jitter").Logger(),
	}
}

// Reset restarts sequencing and the BOM rule.
func (b *TextBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.Clear()
	b.started = false
	b.atStart = true
}

// Count returns buffered payloads.
func (b *TextBuffer) Count() int { return b.queue.Count() }

// Add inserts in ascending sequence order, dropping duplicates.
func (b *TextBuffer) Add(p *media.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && seqBefore(p.Seq, b.nextSeq) {
		// generation older than anything still deliverable
		return
	}

	pos := 0
	b.queue.SetReadPosFirst()
	for q := b.queue.GetNext(); q != nil; q = b.queue.GetNext() {
		if q.Seq == p.Seq {
			return
		}
		if seqBefore(p.Seq, q.Seq) {
			break
		}
		pos++
	}
	b.queue.InsertAt(pos, p)
}

// Get returns the next in order payload, or nil when the head is not due.
// A gap older than the wait budget is skipped and counted as lost.
func (b *TextBuffer) Get(now int64) *media.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	head := b.queue.Get()
	if head == nil {
		return nil
	}

	if !b.started {
		b.started = true
		b.nextSeq = head.Seq
	}

	if head.Seq != b.nextSeq {
		if now-head.ArrivalTime < t140WaitMs {
			return nil
		}
		// give up on the missing generations
		b.lost += uint64(head.Seq - b.nextSeq)
		b.log.Debug().Uint16("want", b.nextSeq).Uint16("got", head.Seq).Msg("text gap skipped")
		b.nextSeq = head.Seq
	}

	out := head.Clone()
	b.queue.Delete()
	b.nextSeq++

	if b.atStart {
		out.Data = bytes.TrimPrefix(out.Data, utf8BOM)
		b.atStart = false
		if len(out.Data) == 0 {
			return b.getNextLocked(now)
		}
	}
	return out
}

func (b *TextBuffer) getNextLocked(now int64) *media.Packet {
	head := b.queue.Get()
	if head == nil || head.Seq != b.nextSeq {
		return nil
	}
	out := head.Clone()
	b.queue.Delete()
	b.nextSeq++
	return out
}

// Lost reports how many generations were abandoned.
func (b *TextBuffer) Lost() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

// seqBefore reports whether a precedes b in 16 bit serial arithmetic.
func seqBefore(a, b uint16) bool {
	return a != b && b-a < 1<<15
}
