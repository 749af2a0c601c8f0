// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package jitter

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goims/imsmedia/media"
)

// VideoEvents is how the buffer asks the session for recovery actions.
type VideoEvents interface {
	OnRequestIDR()
	OnNack(pid uint16, blp uint16)
	OnPacketLossRate(percent int)
}

// VideoBuffer reassembles fragmented video frames. The payload decoder
// marks fragment boundaries on the descriptors (Header for a fragment
// start, Marker for the frame end); the buffer groups fragments by RTP
// timestamp and delivers a frame once every fragment arrived in sequence
// and the marker was seen.
type VideoBuffer struct {
	mu sync.Mutex

	frags   []*media.Packet
	frameTS uint32
	nextSeq uint16
	haveSeq bool

	lossRecovery bool

	// sliding loss window
	windowMs    int64
	thresholdPc int
	windowStart int64
	received    int
	lost        int

	events VideoEvents
	log    zerolog.Logger
}

func NewVideoBuffer() *VideoBuffer {
	return &VideoBuffer{
		windowMs: 5000,
		log:      log.With().Str("caller", "video-jitter").Logger(),
	}
}

// SetLossRecovery enables NACK emission on mid frame loss.
func (b *VideoBuffer) SetLossRecovery(on bool) {
	b.mu.Lock()
	b.lossRecovery = on
	b.mu.Unlock()
}

// SetLossMonitor configures the sliding loss window and the rate that
// raises a packet loss event, in percent.
func (b *VideoBuffer) SetLossMonitor(windowMs int64, thresholdPercent int) {
	b.mu.Lock()
	b.windowMs = windowMs
	b.thresholdPc = thresholdPercent
	b.mu.Unlock()
}

func (b *VideoBuffer) SetEvents(ev VideoEvents) {
	b.mu.Lock()
	b.events = ev
	b.mu.Unlock()
}

// Add accepts one fragment and returns a complete frame when p finished
// one, else nil.
func (b *VideoBuffer) Add(p *media.Packet) *media.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.monitorLocked(p)

	if b.haveSeq && p.Seq != b.nextSeq {
		// missing sequence mid frame: the whole frame is unusable
		if len(b.frags) > 0 {
			b.log.Debug().Uint16("want", b.nextSeq).Uint16("got", p.Seq).Msg("fragment gap, frame dropped")
			b.frags = b.frags[:0]
			if b.events != nil {
				b.events.OnRequestIDR()
				if b.lossRecovery {
					b.events.OnNack(b.nextSeq, nackBitmap(b.nextSeq, p.Seq))
				}
			}
		}
		// resync on the new fragment
		b.frameTS = 0
	}
	b.nextSeq = p.Seq + 1
	b.haveSeq = true

	if len(b.frags) > 0 && p.Timestamp != b.frameTS {
		// new timestamp while assembling: previous frame never completed
		b.frags = b.frags[:0]
		if b.events != nil {
			b.events.OnRequestIDR()
		}
	}

	if len(b.frags) == 0 {
		if !p.Header {
			// tail of a frame whose start we never saw
			return nil
		}
		b.frameTS = p.Timestamp
	}
	b.frags = append(b.frags, p.Clone())

	if !p.Marker {
		return nil
	}

	// marker on the last fragment: frame complete
	frame := b.assembleLocked()
	b.frags = b.frags[:0]
	return frame
}

func (b *VideoBuffer) assembleLocked() *media.Packet {
	size := 0
	for _, f := range b.frags {
		size += len(f.Data)
	}
	out := &media.Packet{
		Data:        make([]byte, 0, size),
		Timestamp:   b.frameTS,
		Marker:      true,
		Seq:         b.frags[len(b.frags)-1].Seq,
		Sub:         media.SubMedia,
		Frame:       b.frags[0].Frame,
		ArrivalTime: b.frags[len(b.frags)-1].ArrivalTime,
		Header:      true,
		Valid:       true,
	}
	for _, f := range b.frags {
		out.Data = append(out.Data, f.Data...)
	}
	return out
}

// monitorLocked tracks the loss rate over the configured sliding window.
func (b *VideoBuffer) monitorLocked(p *media.Packet) {
	if b.windowStart == 0 {
		b.windowStart = p.ArrivalTime
	}
	if b.haveSeq {
		gap := int(p.Seq - b.nextSeq)
		if gap > 0 && gap < maxMisorderVideo {
			b.lost += gap
		}
	}
	b.received++

	if b.thresholdPc > 0 && p.ArrivalTime-b.windowStart >= b.windowMs {
		total := b.received + b.lost
		if total > 0 {
			rate := b.lost * 100 / total
			if rate >= b.thresholdPc && b.events != nil {
				b.events.OnPacketLossRate(rate)
			}
		}
		b.windowStart = p.ArrivalTime
		b.received = 0
		b.lost = 0
	}
}

const maxMisorderVideo = 3000

// nackBitmap builds the BLP mask covering want..got-1 after the PID.
func nackBitmap(want, got uint16) uint16 {
	var blp uint16
	for s := want + 1; s != got && s-want <= 16; s++ {
		blp |= 1 << (s - want - 1)
	}
	return blp
}
