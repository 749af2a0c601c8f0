// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"sync"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
)

const (
	avcNALTypeIDR = 5
	avcNALTypeSPS = 7
	avcNALTypePPS = 8
	avcNALTypeFUA = 28

	hevcNALTypeVPS = 32
	hevcNALTypeSPS = 33
	hevcNALTypePPS = 34
	hevcNALTypeFU  = 49

	fuStartBit = 0x80
	fuEndBit   = 0x40
)

// rtpPayloadOverhead leaves room for the RTP header inside the MTU.
const rtpPayloadOverhead = 16

// VideoPayloadEncoderNode packetizes NAL units: a unit that fits goes out
// as a single NAL packet, larger ones are split into fragmentation units
// (FU-A for AVC, FU for HEVC). Parameter sets are retained and re sent in
// front of every IDR so late joiners can decode.
type VideoPayloadEncoderNode struct {
	pipeline.BaseNode

	mu   sync.Mutex
	cfg  config.VideoConfig
	hevc bool
	mtu  int

	paramSets [][]byte
}

func NewVideoPayloadEncoderNode(cfg config.VideoConfig) *VideoPayloadEncoderNode {
	n := &VideoPayloadEncoderNode{
		BaseNode: pipeline.NewBaseNode("VideoPayloadEncoder", media.TypeVideo),
	}
	n.applyVideo(cfg)
	return n
}

func (n *VideoPayloadEncoderNode) applyVideo(cfg config.VideoConfig) {
	n.cfg = cfg
	n.hevc = cfg.CodecType == config.CodecHEVC
	n.mtu = int(cfg.MaxMtuBytes)
	if n.mtu == 0 {
		n.mtu = 1500
	}
}

func (n *VideoPayloadEncoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *VideoPayloadEncoderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *VideoPayloadEncoderNode) IsSameConfig(cfg any) bool {
	c, ok := cfg.(config.VideoConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.CodecType == c.CodecType && n.cfg.PacketizationMode == c.PacketizationMode &&
		n.cfg.MaxMtuBytes == c.MaxMtuBytes
}

func (n *VideoPayloadEncoderNode) UpdateConfig(cfg any) error {
	c, ok := cfg.(config.VideoConfig)
	if !ok {
		return errBadFrameSize
	}
	n.mu.Lock()
	n.applyVideo(c)
	n.mu.Unlock()
	return nil
}

func (n *VideoPayloadEncoderNode) nalType(nal []byte) int {
	if len(nal) == 0 {
		return -1
	}
	if n.hevc {
		return int(nal[0]>>1) & 0x3F
	}
	return int(nal[0]) & 0x1F
}

func (n *VideoPayloadEncoderNode) isParamSet(t int) bool {
	if n.hevc {
		return t == hevcNALTypeVPS || t == hevcNALTypeSPS || t == hevcNALTypePPS
	}
	return t == avcNALTypeSPS || t == avcNALTypePPS
}

func (n *VideoPayloadEncoderNode) isIDR(t int) bool {
	if n.hevc {
		// BLA_W_LP .. CRA
		return t >= 16 && t <= 21
	}
	return t == avcNALTypeIDR
}

func (n *VideoPayloadEncoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.encodeNAL(p)
	}
}

func (n *VideoPayloadEncoderNode) encodeNAL(p *media.Packet) {
	n.mu.Lock()
	maxPayload := n.mtu - rtpPayloadOverhead
	t := n.nalType(p.Data)

	if n.isParamSet(t) {
		n.paramSets = append(n.paramSets, append([]byte(nil), p.Data...))
	}
	var prefix [][]byte
	if n.isIDR(t) {
		prefix = n.paramSets
	}
	n.mu.Unlock()

	for _, ps := range prefix {
		n.SendDataToRearNode(&media.Packet{
			Data:      ps,
			Timestamp: p.Timestamp,
			Sub:       media.SubRTPPayload,
			Frame:     media.FrameConfig,
			Header:    true,
			Valid:     true,
		})
	}

	if len(p.Data) <= maxPayload {
		out := p.Clone()
		out.Sub = media.SubRTPPayload
		out.Header = true
		n.SendDataToRearNode(out)
		return
	}

	n.fragment(p, maxPayload)
}

func (n *VideoPayloadEncoderNode) fragment(p *media.Packet, maxPayload int) {
	t := n.nalType(p.Data)

	var fuHeaderLen, skip int
	var indicator []byte
	if n.hevc {
		// PayloadHdr carries type 49, layer and TID from the original
		indicator = []byte{byte(hevcNALTypeFU<<1) | p.Data[0]&0x81, p.Data[1]}
		fuHeaderLen = 3
		skip = 2
	} else {
		indicator = []byte{p.Data[0]&0xE0 | avcNALTypeFUA}
		fuHeaderLen = 2
		skip = 1
	}

	rest := p.Data[skip:]
	chunk := maxPayload - fuHeaderLen
	first := true
	for len(rest) > 0 {
		nn := chunk
		last := false
		if nn >= len(rest) {
			nn = len(rest)
			last = true
		}

		fu := byte(t)
		if first {
			fu |= fuStartBit
		}
		if last {
			fu |= fuEndBit
		}

		data := make([]byte, 0, len(indicator)+1+nn)
		data = append(data, indicator...)
		data = append(data, fu)
		data = append(data, rest[:nn]...)
		rest = rest[nn:]

		n.SendDataToRearNode(&media.Packet{
			Data:      data,
			Timestamp: p.Timestamp,
			Marker:    p.Marker && last,
			Sub:       media.SubRTPPayload,
			Frame:     p.Frame,
			Header:    first,
			Valid:     last,
		})
		first = false
	}
}

// VideoPayloadDecoderNode undoes packetization: single NAL packets pass
// through, fragmentation units are unwrapped with start/end tracking for
// the reassembly buffer. Received parameter sets are retained.
type VideoPayloadDecoderNode struct {
	pipeline.BaseNode

	mu   sync.Mutex
	cfg  config.VideoConfig
	hevc bool

	paramSets [][]byte
}

func NewVideoPayloadDecoderNode(cfg config.VideoConfig) *VideoPayloadDecoderNode {
	return &VideoPayloadDecoderNode{
		BaseNode: pipeline.NewBaseNode("VideoPayloadDecoder", media.TypeVideo),
		cfg:      cfg,
		hevc:     cfg.CodecType == config.CodecHEVC,
	}
}

func (n *VideoPayloadDecoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *VideoPayloadDecoderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *VideoPayloadDecoderNode) IsSameConfig(cfg any) bool {
	c, ok := cfg.(config.VideoConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.CodecType == c.CodecType && n.cfg.PacketizationMode == c.PacketizationMode
}

func (n *VideoPayloadDecoderNode) UpdateConfig(cfg any) error {
	c, ok := cfg.(config.VideoConfig)
	if !ok {
		return errBadFrameSize
	}
	n.mu.Lock()
	n.cfg = c
	n.hevc = c.CodecType == config.CodecHEVC
	n.mu.Unlock()
	return nil
}

// ParameterSets returns the retained VPS/SPS/PPS units.
func (n *VideoPayloadDecoderNode) ParameterSets() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]byte, len(n.paramSets))
	for i, ps := range n.paramSets {
		out[i] = append([]byte(nil), ps...)
	}
	return out
}

func (n *VideoPayloadDecoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.decodeOne(p)
	}
}

func (n *VideoPayloadDecoderNode) decodeOne(p *media.Packet) {
	if len(p.Data) < 2 {
		return
	}

	var t int
	if n.hevc {
		t = int(p.Data[0]>>1) & 0x3F
	} else {
		t = int(p.Data[0]) & 0x1F
	}

	fuType := avcNALTypeFUA
	if n.hevc {
		fuType = hevcNALTypeFU
	}

	if t != fuType {
		// single NAL unit packet
		if n.retainParamSet(t, p.Data) {
			p.Frame = media.FrameConfig
		}
		out := p.Clone()
		out.Sub = media.SubRTPPayload
		out.Header = true
		out.Valid = true
		n.SendDataToRearNode(out)
		return
	}

	// unwrap the fragmentation unit
	var fu byte
	var nalType int
	var payload []byte
	var header []byte
	if n.hevc {
		if len(p.Data) < 3 {
			return
		}
		fu = p.Data[2]
		nalType = int(fu & 0x3F)
		payload = p.Data[3:]
		if fu&fuStartBit != 0 {
			header = []byte{byte(nalType<<1) | p.Data[0]&0x81, p.Data[1]}
		}
	} else {
		fu = p.Data[1]
		nalType = int(fu & 0x1F)
		payload = p.Data[2:]
		if fu&fuStartBit != 0 {
			header = []byte{p.Data[0]&0xE0 | byte(nalType)}
		}
	}

	out := &media.Packet{
		Data:        append(header, payload...),
		Timestamp:   p.Timestamp,
		Marker:      p.Marker,
		Seq:         p.Seq,
		Sub:         media.SubRTPPayload,
		ArrivalTime: p.ArrivalTime,
		Header:      fu&fuStartBit != 0,
		Valid:       fu&fuEndBit != 0,
	}
	if n.isIDRType(nalType) {
		out.Frame = media.FrameIDR
	}
	n.SendDataToRearNode(out)
}

func (n *VideoPayloadDecoderNode) isIDRType(t int) bool {
	if n.hevc {
		return t >= 16 && t <= 21
	}
	return t == avcNALTypeIDR
}

func (n *VideoPayloadDecoderNode) retainParamSet(t int, nal []byte) bool {
	var isPS bool
	if n.hevc {
		isPS = t == hevcNALTypeVPS || t == hevcNALTypeSPS || t == hevcNALTypePPS
	} else {
		isPS = t == avcNALTypeSPS || t == avcNALTypePPS
	}
	if isPS {
		n.mu.Lock()
		n.paramSets = append(n.paramSets, append([]byte(nil), nal...))
		n.mu.Unlock()
	}
	return isPS
}
