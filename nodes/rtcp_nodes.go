// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
	"github.com/goims/imsmedia/rtp"
)

// RtcpEncoderNode runs the report transmitter: a self clocked goroutine
// waits out the session's computed interval, assembles the compound and
// hands it to the socket writer. Feedback packets queued in between ride
// the next compound, or go out immediately for time critical requests.
type RtcpEncoderNode struct {
	pipeline.BaseNode
	sess *rtp.Session

	mu       sync.Mutex
	pending  []rtcp.Packet
	interval time.Duration // fixed override; zero means session computed

	stop chan struct{}
	done chan struct{}
}

func NewRtcpEncoderNode(mt media.Type, sess *rtp.Session) *RtcpEncoderNode {
	return &RtcpEncoderNode{
		BaseNode: pipeline.NewBaseNode("RtcpEncoder", mt),
		sess:     sess,
	}
}

func (n *RtcpEncoderNode) IsRunTime() bool { return true }

func (n *RtcpEncoderNode) ProcessData() {}

// SetInterval pins the report interval; used when the signalled RTCP
// config carries an explicit period.
func (n *RtcpEncoderNode) SetInterval(d time.Duration) {
	n.mu.Lock()
	n.interval = d
	n.mu.Unlock()
}

func (n *RtcpEncoderNode) Start() error {
	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	n.SetState(pipeline.NodeRunning)
	go n.run()
	return nil
}

// Stop cancels the transmit timer and joins the goroutine.
func (n *RtcpEncoderNode) Stop() {
	if n.State() != pipeline.NodeRunning {
		return
	}
	close(n.stop)
	<-n.done
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *RtcpEncoderNode) run() {
	defer close(n.done)
	timer := time.NewTimer(n.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-n.stop:
			// leave the session with a BYE
			n.transmit(true)
			return
		case <-timer.C:
			n.transmit(false)
			timer.Reset(n.nextInterval())
		}
	}
}

func (n *RtcpEncoderNode) nextInterval() time.Duration {
	n.mu.Lock()
	fixed := n.interval
	n.mu.Unlock()
	if fixed > 0 {
		return fixed
	}
	return n.sess.NextInterval()
}

// QueueFeedback schedules fb into the next compound.
func (n *RtcpEncoderNode) QueueFeedback(fb rtcp.Packet) {
	n.mu.Lock()
	n.pending = append(n.pending, fb)
	n.mu.Unlock()
}

// SendFeedbackNow assembles and emits a compound immediately, carrying fb.
func (n *RtcpEncoderNode) SendFeedbackNow(fb rtcp.Packet) {
	n.QueueFeedback(fb)
	n.transmit(false)
}

func (n *RtcpEncoderNode) transmit(bye bool) {
	n.mu.Lock()
	extra := n.pending
	n.pending = nil
	n.mu.Unlock()

	_, buf, err := n.sess.BuildCompound(time.Now(), extra, bye)
	if err != nil {
		n.Log.Error().Err(err).Msg("rtcp compound build failed")
		return
	}
	n.sess.OnRTCPSent(len(buf), media.NowMillis())

	n.SendDataToRearNode(&media.Packet{
		Data:  buf,
		Sub:   media.SubRTCPPacket,
		Valid: true,
	})
}

// RtcpDecoderNode parses received compounds and feeds the session, which
// dispatches block level effects (SR tracking, BYE handling, feedback).
type RtcpDecoderNode struct {
	pipeline.BaseNode
	sess *rtp.Session

	// LastRxMillis is the arrival time of the last valid compound, for
	// the inactivity watchdog.
	mu          sync.Mutex
	lastRx      int64
	DecodeFails uint64
}

func NewRtcpDecoderNode(mt media.Type, sess *rtp.Session) *RtcpDecoderNode {
	return &RtcpDecoderNode{
		BaseNode: pipeline.NewBaseNode("RtcpDecoder", mt),
		sess:     sess,
	}
}

func (n *RtcpDecoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *RtcpDecoderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

// LastRxMillis returns when the last valid compound arrived.
func (n *RtcpDecoderNode) LastRxMillis() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastRx
}

func (n *RtcpDecoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		pkts, err := rtp.UnmarshalCompound(p.Data)
		if err != nil {
			n.DecodeFails++
			continue
		}
		arrival := p.ArrivalTime
		if arrival == 0 {
			arrival = media.NowMillis()
		}
		n.sess.OnRTCPReceived(len(p.Data))
		n.sess.ProcessCompound(pkts, arrival)

		n.mu.Lock()
		n.lastRx = arrival
		n.mu.Unlock()
	}
}
