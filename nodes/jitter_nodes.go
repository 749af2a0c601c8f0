// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"time"

	"github.com/goims/imsmedia/jitter"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
)

// AudioJitterNode fronts the adaptive audio buffer. Input descriptors go
// straight into the buffer; playout is self clocked, one Get per frame
// interval delivered downstream (including no-data fillers so the player
// keeps its cadence).
type AudioJitterNode struct {
	pipeline.BaseNode
	Buffer *jitter.AudioBuffer

	frameDur time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewAudioJitterNode(samplesPerMs uint32, frameDurMs int32) *AudioJitterNode {
	return &AudioJitterNode{
		BaseNode: pipeline.NewBaseNode("AudioJitterBuffer", media.TypeAudio),
		Buffer:   jitter.NewAudioBuffer(samplesPerMs, frameDurMs),
		frameDur: time.Duration(frameDurMs) * time.Millisecond,
	}
}

func (n *AudioJitterNode) IsRunTime() bool { return true }

func (n *AudioJitterNode) Start() error {
	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	n.SetState(pipeline.NodeRunning)
	go n.playout()
	return nil
}

func (n *AudioJitterNode) Stop() {
	if n.State() != pipeline.NodeRunning {
		return
	}
	close(n.stop)
	<-n.done
	n.ClearInput()
	n.Buffer.Reset()
	n.SetState(pipeline.NodeStopped)
}

// OnDataFromFrontNode feeds the buffer directly; the playout clock is the
// only consumer.
func (n *AudioJitterNode) OnDataFromFrontNode(p *media.Packet) {
	n.Buffer.Add(p)
}

func (n *AudioJitterNode) ProcessData() {}

func (n *AudioJitterNode) playout() {
	defer close(n.done)
	ticker := time.NewTicker(n.frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			p, _ := n.Buffer.Get(media.NowMillis())
			if p != nil {
				n.SendDataToRearNode(p)
			}
		}
	}
}

// VideoJitterNode fronts frame reassembly: fragments in, whole frames out.
type VideoJitterNode struct {
	pipeline.BaseNode
	Buffer *jitter.VideoBuffer
}

func NewVideoJitterNode() *VideoJitterNode {
	return &VideoJitterNode{
		BaseNode: pipeline.NewBaseNode("VideoJitterBuffer", media.TypeVideo),
		Buffer:   jitter.NewVideoBuffer(),
	}
}

func (n *VideoJitterNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *VideoJitterNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *VideoJitterNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		if frame := n.Buffer.Add(p); frame != nil {
			n.SendDataToRearNode(frame)
		}
	}
}

// TextJitterNode fronts the T.140 sequencing buffer.
type TextJitterNode struct {
	pipeline.BaseNode
	Buffer *jitter.TextBuffer
}

func NewTextJitterNode() *TextJitterNode {
	return &TextJitterNode{
		BaseNode: pipeline.NewBaseNode("TextJitterBuffer", media.TypeText),
		Buffer:   jitter.NewTextBuffer(),
	}
}

func (n *TextJitterNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *TextJitterNode) Stop() {
	n.ClearInput()
	n.Buffer.Reset()
	n.SetState(pipeline.NodeStopped)
}

func (n *TextJitterNode) ProcessData() {
	now := media.NowMillis()
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.Buffer.Add(p)
	}
	for out := n.Buffer.Get(now); out != nil; out = n.Buffer.Get(now) {
		n.SendDataToRearNode(out)
	}
}
