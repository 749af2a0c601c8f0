// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"encoding/binary"
	"sync"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
)

// TextPayloadEncoderNode packs T.140 blocks, optionally with RFC 2198
// redundancy: each packet carries up to redundantLevel previous blocks so
// a lost packet's text survives in its successors (RFC 4103).
type TextPayloadEncoderNode struct {
	pipeline.BaseNode

	mu  sync.Mutex
	cfg config.TextConfig

	redEnabled bool
	redLevel   int
	redPT      uint8
	t140PT     uint8

	history []*media.Packet
}

func NewTextPayloadEncoderNode(cfg config.TextConfig) *TextPayloadEncoderNode {
	n := &TextPayloadEncoderNode{
		BaseNode: pipeline.NewBaseNode("TextPayloadEncoder", media.TypeText),
	}
	n.applyText(cfg)
	return n
}

func (n *TextPayloadEncoderNode) applyText(cfg config.TextConfig) {
	n.cfg = cfg
	n.redEnabled = cfg.RedundantPayload > 0 && cfg.RedundantLevel > 0
	n.redLevel = int(cfg.RedundantLevel)
	n.redPT = uint8(cfg.RedundantPayload)
	n.t140PT = uint8(cfg.TxPayloadTypeNumber)
}

func (n *TextPayloadEncoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *TextPayloadEncoderNode) Stop() {
	n.ClearInput()
	n.mu.Lock()
	n.history = nil
	n.mu.Unlock()
	n.SetState(pipeline.NodeStopped)
}

func (n *TextPayloadEncoderNode) IsSameConfig(cfg any) bool {
	c, ok := cfg.(config.TextConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.CodecType == c.CodecType &&
		n.cfg.RedundantPayload == c.RedundantPayload &&
		n.cfg.RedundantLevel == c.RedundantLevel
}

func (n *TextPayloadEncoderNode) UpdateConfig(cfg any) error {
	c, ok := cfg.(config.TextConfig)
	if !ok {
		return errBadFrameSize
	}
	n.mu.Lock()
	n.applyText(c)
	n.mu.Unlock()
	return nil
}

func (n *TextPayloadEncoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.encodeBlock(p)
	}
}

func (n *TextPayloadEncoderNode) encodeBlock(p *media.Packet) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.redEnabled {
		out := p.Clone()
		out.Sub = media.SubRTPPayload
		n.SendDataToRearNode(out)
		return
	}

	payload := encodeRED(n.history, p, n.t140PT)

	n.history = append(n.history, p.Clone())
	if len(n.history) > n.redLevel {
		n.history = n.history[len(n.history)-n.redLevel:]
	}

	n.SendDataToRearNode(&media.Packet{
		Data:      payload,
		Timestamp: p.Timestamp,
		Marker:    p.Marker,
		Seq:       p.Seq,
		Sub:       media.SubRTPPayload,
		Valid:     true,
	})
}

// encodeRED lays out RFC 2198: one 4 byte header per redundant block,
// a 1 byte terminal header for the primary, then block data oldest first.
func encodeRED(history []*media.Packet, primary *media.Packet, t140PT uint8) []byte {
	size := 1 + len(primary.Data)
	for _, h := range history {
		size += 4 + len(h.Data)
	}

	out := make([]byte, 0, size)
	for _, h := range history {
		tsOffset := primary.Timestamp - h.Timestamp
		var hdr [4]byte
		hdr[0] = 0x80 | t140PT&0x7F
		binary.BigEndian.PutUint16(hdr[1:3], uint16(tsOffset&0x3FFF)<<2|uint16(len(h.Data)>>8)&0x03)
		hdr[3] = byte(len(h.Data))
		out = append(out, hdr[:]...)
	}
	out = append(out, t140PT&0x7F)

	for _, h := range history {
		out = append(out, h.Data...)
	}
	return append(out, primary.Data...)
}

// TextPayloadDecoderNode unpacks T.140 and RED payload. Every contained
// generation is forwarded under its original sequence and timestamp; the
// text buffer downstream handles ordering and de duplication.
type TextPayloadDecoderNode struct {
	pipeline.BaseNode

	mu  sync.Mutex
	cfg config.TextConfig
	red bool
}

func NewTextPayloadDecoderNode(cfg config.TextConfig) *TextPayloadDecoderNode {
	return &TextPayloadDecoderNode{
		BaseNode: pipeline.NewBaseNode("TextPayloadDecoder", media.TypeText),
		cfg:      cfg,
		red:      cfg.RedundantPayload > 0,
	}
}

func (n *TextPayloadDecoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *TextPayloadDecoderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *TextPayloadDecoderNode) IsSameConfig(cfg any) bool {
	c, ok := cfg.(config.TextConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.CodecType == c.CodecType && n.cfg.RedundantPayload == c.RedundantPayload
}

func (n *TextPayloadDecoderNode) UpdateConfig(cfg any) error {
	c, ok := cfg.(config.TextConfig)
	if !ok {
		return errBadFrameSize
	}
	n.mu.Lock()
	n.cfg = c
	n.red = c.RedundantPayload > 0
	n.mu.Unlock()
	return nil
}

func (n *TextPayloadDecoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.mu.Lock()
		red := n.red
		n.mu.Unlock()

		if !red {
			out := p.Clone()
			out.Sub = media.SubMedia
			n.SendDataToRearNode(out)
			continue
		}
		n.decodeRED(p)
	}
}

type redBlock struct {
	tsOffset uint32
	length   int
}

func (n *TextPayloadDecoderNode) decodeRED(p *media.Packet) {
	var blocks []redBlock
	pos := 0
	for {
		if pos >= len(p.Data) {
			return
		}
		b := p.Data[pos]
		if b&0x80 == 0 {
			pos++
			break
		}
		if pos+4 > len(p.Data) {
			return
		}
		mid := binary.BigEndian.Uint16(p.Data[pos+1 : pos+3])
		blocks = append(blocks, redBlock{
			tsOffset: uint32(mid >> 2),
			length:   int(mid&0x03)<<8 | int(p.Data[pos+3]),
		})
		pos += 4
	}

	// redundant generations precede the primary; generation k is seq - k
	for i, blk := range blocks {
		if pos+blk.length > len(p.Data) {
			return
		}
		gen := len(blocks) - i
		n.SendDataToRearNode(&media.Packet{
			Data:        append([]byte(nil), p.Data[pos:pos+blk.length]...),
			Timestamp:   p.Timestamp - blk.tsOffset,
			Seq:         p.Seq - uint16(gen),
			Sub:         media.SubMedia,
			ArrivalTime: p.ArrivalTime,
			Valid:       true,
		})
		pos += blk.length
	}

	n.SendDataToRearNode(&media.Packet{
		Data:        append([]byte(nil), p.Data[pos:]...),
		Timestamp:   p.Timestamp,
		Marker:      p.Marker,
		Seq:         p.Seq,
		Sub:         media.SubMedia,
		ArrivalTime: p.ArrivalTime,
		Valid:       true,
	})
}
