// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"sync"

	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
)

const (
	dtmfVolume = 10
	// the end event is repeated for robustness, RFC 4733 2.5.1.4
	dtmfEndRepeat = 3
)

type dtmfJob struct {
	event      uint8
	durationMs int32
}

// DtmfEncoderNode turns queued dial digits into RFC 4733 event packets at
// the configured frame interval. It is a source node paced by wall clock:
// each service emits the events that became due since the last one. The
// first packet of an event carries the marker; the final event is
// retransmitted with the end bit set.
type DtmfEncoderNode struct {
	pipeline.BaseNode

	mu   sync.Mutex
	jobs []dtmfJob

	frameMs      int32
	samplesPerMs uint32

	// active event state
	active     bool
	event      uint8
	eventTS    uint32
	sentMs     int32
	totalMs    int32
	endLeft    int
	nextDueMs  int64
	firstOfEvt bool

	clockTS uint32
}

func NewDtmfEncoderNode(frameMs int32, samplesPerMs uint32) *DtmfEncoderNode {
	if frameMs <= 0 {
		frameMs = 20
	}
	return &DtmfEncoderNode{
		BaseNode:     pipeline.NewBaseNode("DtmfEncoder", media.TypeAudio),
		frameMs:      frameMs,
		samplesPerMs: samplesPerMs,
	}
}

func (n *DtmfEncoderNode) IsSourceNode() bool { return true }

func (n *DtmfEncoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *DtmfEncoderNode) Stop() {
	n.mu.Lock()
	n.jobs = nil
	n.active = false
	n.mu.Unlock()
	n.SetState(pipeline.NodeStopped)
}

// SendDtmf queues one digit for transmission.
func (n *DtmfEncoderNode) SendDtmf(digit rune, durationMs int32) bool {
	ev, ok := media.DTMFFromRune(digit)
	if !ok {
		return false
	}
	if durationMs <= 0 {
		durationMs = 4 * n.frameMs
	}
	n.mu.Lock()
	n.jobs = append(n.jobs, dtmfJob{event: ev, durationMs: durationMs})
	n.mu.Unlock()
	return true
}

func (n *DtmfEncoderNode) ProcessData() {
	now := media.NowMillis()

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		if len(n.jobs) == 0 {
			return
		}
		job := n.jobs[0]
		n.jobs = n.jobs[1:]
		n.active = true
		n.event = job.event
		n.totalMs = job.durationMs
		n.sentMs = 0
		n.endLeft = dtmfEndRepeat
		n.firstOfEvt = true
		n.clockTS += uint32(n.frameMs) * n.samplesPerMs
		n.eventTS = n.clockTS
		n.nextDueMs = now
	}

	for n.active && now >= n.nextDueMs {
		n.emitLocked()
		n.nextDueMs += int64(n.frameMs)
	}
}

func (n *DtmfEncoderNode) emitLocked() {
	ending := n.sentMs >= n.totalMs

	dur := n.sentMs + n.frameMs
	if dur > n.totalMs {
		dur = n.totalMs
	}
	ev := media.DTMFEvent{
		Event:      n.event,
		EndOfEvent: ending,
		Volume:     dtmfVolume,
		Duration:   uint16(uint32(dur) * n.samplesPerMs),
	}

	sub := media.SubDTMF
	if ending {
		n.endLeft--
		if n.endLeft == 0 {
			n.active = false
			sub = media.SubDTMFEnd
		}
	} else {
		n.sentMs += n.frameMs
	}

	n.SendDataToRearNode(&media.Packet{
		Data:      media.DTMFEncode(ev),
		Timestamp: n.eventTS,
		Marker:    n.firstOfEvt,
		Sub:       sub,
		Valid:     true,
	})
	n.firstOfEvt = false
}
