// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"io"
	"time"

	"github.com/goims/imsmedia/audio"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
)

// FrameReader supplies already encoded codec frames, the surface an
// external AMR/EVS codec wrapper plugs into.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// AudioSourceNode is the capture end of the transmit graph. It is self
// clocked at the packet interval: each tick reads one frame, either LPCM
// from a PCM reader (file or device) encoded by the software codec, or a
// finished frame from an external codec wrapper.
type AudioSourceNode struct {
	pipeline.BaseNode

	pcm    io.Reader
	codec  audio.PCMCodec
	frames FrameReader

	frameMs      int32
	samplesPerMs uint32

	ts    uint32
	first bool

	stop chan struct{}
	done chan struct{}
}

// NewAudioSourceNodePCM captures LPCM from r and encodes with codec.
func NewAudioSourceNodePCM(r io.Reader, codec audio.PCMCodec, frameMs int32, samplesPerMs uint32) *AudioSourceNode {
	return &AudioSourceNode{
		BaseNode:     pipeline.NewBaseNode("AudioSource", media.TypeAudio),
		pcm:          r,
		codec:        codec,
		frameMs:      frameMs,
		samplesPerMs: samplesPerMs,
	}
}

// NewAudioSourceNodeFrames captures finished frames from an external codec.
func NewAudioSourceNodeFrames(fr FrameReader, frameMs int32, samplesPerMs uint32) *AudioSourceNode {
	return &AudioSourceNode{
		BaseNode:     pipeline.NewBaseNode("AudioSource", media.TypeAudio),
		frames:       fr,
		frameMs:      frameMs,
		samplesPerMs: samplesPerMs,
	}
}

func (n *AudioSourceNode) IsRunTime() bool { return true }

func (n *AudioSourceNode) ProcessData() {}

func (n *AudioSourceNode) Start() error {
	n.first = true
	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	n.SetState(pipeline.NodeRunning)
	go n.capture()
	return nil
}

func (n *AudioSourceNode) Stop() {
	if n.State() != pipeline.NodeRunning {
		return
	}
	close(n.stop)
	<-n.done
	n.SetState(pipeline.NodeStopped)
}

func (n *AudioSourceNode) capture() {
	defer close(n.done)
	ticker := time.NewTicker(time.Duration(n.frameMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			if !n.emitFrame() {
				return
			}
		}
	}
}

func (n *AudioSourceNode) emitFrame() bool {
	var frame []byte
	if n.frames != nil {
		f, err := n.frames.ReadFrame()
		if err != nil {
			n.Log.Debug().Err(err).Msg("frame source finished")
			return false
		}
		frame = f
	} else {
		lpcm := make([]byte, int(n.frameMs)*int(n.samplesPerMs)*2)
		if _, err := io.ReadFull(n.pcm, lpcm); err != nil {
			n.Log.Debug().Err(err).Msg("pcm source finished")
			return false
		}
		frame = n.codec.Encode(lpcm)
	}

	n.ts += uint32(n.frameMs) * n.samplesPerMs
	n.SendDataToRearNode(&media.Packet{
		Data:      frame,
		Timestamp: n.ts,
		Marker:    n.first,
		Sub:       media.SubMedia,
		Valid:     true,
	})
	n.first = false
	return true
}

// AudioPlayerNode is the render end of the receive graph: it decodes
// frames from the jitter buffer into LPCM and writes them to the output
// device writer, substituting silence for no-data ticks.
type AudioPlayerNode struct {
	pipeline.BaseNode

	out   io.Writer
	codec audio.PCMCodec

	frameMs      int32
	samplesPerMs uint32

	Rendered uint64
	Silence  uint64
}

func NewAudioPlayerNode(out io.Writer, codec audio.PCMCodec, frameMs int32, samplesPerMs uint32) *AudioPlayerNode {
	return &AudioPlayerNode{
		BaseNode:     pipeline.NewBaseNode("AudioPlayer", media.TypeAudio),
		out:          out,
		codec:        codec,
		frameMs:      frameMs,
		samplesPerMs: samplesPerMs,
	}
}

func (n *AudioPlayerNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *AudioPlayerNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *AudioPlayerNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		if p.Sub == media.SubAudioNoData || len(p.Data) == 0 {
			n.Silence++
			if n.out != nil {
				silence := make([]byte, int(n.frameMs)*int(n.samplesPerMs)*2)
				n.out.Write(silence)
			}
			continue
		}

		lpcm := p.Data
		if n.codec != nil {
			lpcm = n.codec.Decode(p.Data)
		}
		if n.out != nil {
			if _, err := n.out.Write(lpcm); err != nil {
				n.Log.Debug().Err(err).Msg("render write failed")
				continue
			}
		}
		n.Rendered++
	}
}
