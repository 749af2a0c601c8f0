// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package jitter

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goims/imsmedia/media"
)

// RxStatus classifies what happened to a frame on its way through the
// receive path; it feeds the media quality counters.
type RxStatus int

const (
	RxNormal RxStatus = iota
	RxLate
	RxNotReceived
	RxDuplicated
	RxDiscarded
)

func (s RxStatus) String() string {
	switch s {
	case RxNormal:
		return "normal"
	case RxLate:
		return "late"
	case RxNotReceived:
		return "notReceived"
	case RxDuplicated:
		return "duplicated"
	case RxDiscarded:
		return "discarded"
	}
	return "unknown"
}

// StatusCollector receives per frame status and buffer occupancy for the
// session quality reporter.
type StatusCollector interface {
	OnRxStatus(seq uint16, status RxStatus)
	OnBufferStatus(curr, max int)
}

// checkUpdatePacketCount is how many successful gets pass between depth
// adaptation queries.
const checkUpdatePacketCount = 50

// sidMaxSize bounds an AMR/EVS silence descriptor payload.
const sidMaxSize = 6

// AudioBuffer is the adaptive audio jitter buffer: it reorders packets by
// timestamp, fills gaps with no-data descriptors and migrates its depth
// toward the analyser's target outside talk spurts.
type AudioBuffer struct {
	mu sync.Mutex

	queue    *media.DataQueue
	analyser *NetworkAnalyser

	samplesPerMs uint32
	frameTS      uint32 // RTP units per frame
	frameDur     int32  // ms per frame
	tolerance    uint32

	initDepth int
	minDepth  int
	maxDepth  int
	currDepth int
	nextDepth int

	playingTS    uint32
	started      bool
	waiting      bool
	firstPacket  bool
	ignoreSID    bool
	talkSpurtEnd bool

	getCount  int
	sidCount  uint64
	dropCount uint64

	collector StatusCollector
	log       zerolog.Logger
}

// NewAudioBuffer creates a buffer for the codec's clock: samplesPerMs is
// the RTP tick rate in kHz, frameDurMs the playout tick.
func NewAudioBuffer(samplesPerMs uint32, frameDurMs int32) *AudioBuffer {
	if samplesPerMs == 0 {
		samplesPerMs = 8
	}
	if frameDurMs <= 0 {
		frameDurMs = 20
	}
	b := &AudioBuffer{
		queue:        media.NewDataQueue(),
		analyser:     NewNetworkAnalyser(),
		samplesPerMs: samplesPerMs,
		frameTS:      samplesPerMs * uint32(frameDurMs),
		frameDur:     frameDurMs,
		firstPacket:  true,
		talkSpurtEnd: true,
		log:          log.With().Str("caller", "audio-jitter").Logger(),
	}
	b.tolerance = b.frameTS / 2
	b.SetJitterBufferSize(4, 1, 9)
	return b
}

// SetJitterBufferSize configures initial, minimum and maximum depth in
// packets.
func (b *AudioBuffer) SetJitterBufferSize(init, min, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initDepth = init
	b.minDepth = min
	b.maxDepth = max
	b.currDepth = init
	b.nextDepth = init
	b.analyser.SetMinMaxDepth(min, max)
}

// SetJitterOptions configures the analyser and the SID bypass.
func (b *AudioBuffer) SetJitterOptions(reduceTH int32, stepSize int, zValue float64, ignoreSID bool) {
	b.mu.Lock()
	b.ignoreSID = ignoreSID
	b.mu.Unlock()
	b.analyser.SetOptions(reduceTH, stepSize, zValue, b.frameDur)
}

// SetStatusCollector wires the quality reporter.
func (b *AudioBuffer) SetStatusCollector(c StatusCollector) {
	b.mu.Lock()
	b.collector = c
	b.mu.Unlock()
}

// CurrentDepth returns the current target depth in packets.
func (b *AudioBuffer) CurrentDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currDepth
}

// Count returns buffered packets.
func (b *AudioBuffer) Count() int { return b.queue.Count() }

// Reset empties the buffer and restarts anchoring.
func (b *AudioBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.Clear()
	b.started = false
	b.waiting = false
	b.firstPacket = true
	b.talkSpurtEnd = true
	b.getCount = 0
	b.analyser.Reset()
}

func (b *AudioBuffer) isSID(p *media.Packet) bool {
	return len(p.Data) > 0 && len(p.Data) <= sidMaxSize
}

// Add inserts a packet keeping ascending (timestamp, seq) order. Exact
// sequence duplicates are dropped.
func (b *AudioBuffer) Add(p *media.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.Marker || b.firstPacket {
		// new talk spurt: re-anchor the transit analyser
		b.analyser.UpdateBaseTimestamp(p.Timestamp/b.samplesPerMs, p.ArrivalTime)
		b.firstPacket = false
	}
	b.analyser.CalculateTransitTimeDifference(p.Timestamp/b.samplesPerMs, p.ArrivalTime)

	if b.ignoreSID && b.isSID(p) {
		b.sidCount++
		// SID frames advance time but never occupy depth
		return
	}

	pos := 0
	b.queue.SetReadPosFirst()
	for q := b.queue.GetNext(); q != nil; q = b.queue.GetNext() {
		if q.Seq == p.Seq && q.Timestamp == p.Timestamp {
			b.dropCount++
			if b.collector != nil {
				b.collector.OnRxStatus(p.Seq, RxDuplicated)
			}
			return
		}
		if q.Timestamp > p.Timestamp || (q.Timestamp == p.Timestamp && q.Seq > p.Seq) {
			break
		}
		pos++
	}
	b.queue.InsertAt(pos, p)

	if b.collector != nil {
		b.collector.OnBufferStatus(b.queue.Count(), b.maxDepth)
	}
}

// resyncLocked purges the queue when the buffered anchor ran away from the
// playout clock beyond twice the maximum depth.
func (b *AudioBuffer) resyncLocked(head *media.Packet) bool {
	if !b.started {
		return false
	}

	gap := int64(head.Timestamp) - int64(b.playingTS)
	if gap < 0 {
		gap = -gap
	}
	limit := int64(2*b.maxDepth) * int64(b.frameTS)
	if gap <= limit {
		return false
	}

	b.log.Debug().Uint32("playing", b.playingTS).Uint32("head", head.Timestamp).Msg("resync to new anchor")
	// everything below the new anchor is unplayable now
	for b.queue.Count() > 0 && b.queue.Get().Timestamp != head.Timestamp {
		if b.collector != nil {
			b.collector.OnRxStatus(b.queue.Get().Seq, RxDiscarded)
		}
		b.queue.Delete()
	}
	b.started = false
	b.waiting = true
	return true
}

// Get is invoked at each playout tick and returns exactly one descriptor:
// the due frame, a late frame, or an empty no-data descriptor.
func (b *AudioBuffer) Get(now int64) (*media.Packet, RxStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	head := b.queue.Get()

	if !b.started {
		if head == nil {
			return b.noData(), RxNotReceived
		}
		if b.waiting && b.queue.Count() < b.currDepth {
			return b.noData(), RxNotReceived
		}
		b.started = true
		b.waiting = false
		b.playingTS = head.Timestamp
		return b.deliver(RxNormal)
	}

	b.playingTS += b.frameTS

	if head == nil {
		b.talkSpurtEnd = true
		return b.noData(), RxNotReceived
	}

	if b.resyncLocked(head) {
		return b.noData(), RxNotReceived
	}

	diff := int64(head.Timestamp) - int64(b.playingTS)
	switch {
	case diff > int64(b.tolerance):
		// head is in the future: nothing due this tick
		b.talkSpurtEnd = true
		return b.noData(), RxNotReceived

	case diff < -int64(b.tolerance):
		// late but present: deliver out of schedule
		b.playingTS = head.Timestamp
		return b.deliver(RxLate)

	default:
		return b.deliver(RxNormal)
	}
}

func (b *AudioBuffer) deliver(status RxStatus) (*media.Packet, RxStatus) {
	head := b.queue.Get()
	out := head.Clone()
	b.queue.Delete()

	b.talkSpurtEnd = b.isSID(out)
	b.getCount++
	if b.getCount >= checkUpdatePacketCount {
		b.getCount = 0
		b.adaptLocked(out.ArrivalTime)
	}

	if b.collector != nil {
		b.collector.OnRxStatus(out.Seq, status)
		b.collector.OnBufferStatus(b.queue.Count(), b.maxDepth)
	}
	return out, status
}

// adaptLocked migrates the depth toward the analyser target, never in the
// middle of a talk spurt.
func (b *AudioBuffer) adaptLocked(now int64) {
	b.nextDepth = b.analyser.NextDepth(b.currDepth, now)
	if b.nextDepth == b.currDepth {
		return
	}
	if !b.talkSpurtEnd {
		return
	}
	b.log.Debug().Int("curr", b.currDepth).Int("next", b.nextDepth).Msg("jitter depth migrate")
	b.currDepth = b.nextDepth
}

func (b *AudioBuffer) noData() *media.Packet {
	return &media.Packet{
		Sub:       media.SubAudioNoData,
		Timestamp: b.playingTS,
		Valid:     false,
	}
}
