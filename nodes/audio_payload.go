// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"sync"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
)

// CmrSink receives codec mode requests carried in the inbound payload.
type CmrSink interface {
	OnCmr(cmr uint8)
}

// audioPayloadCodec is the per codec payload strategy, picked at Start
// from the config instead of branching per packet.
type audioPayloadCodec interface {
	encode(frames [][]byte) ([]byte, error)
	decode(payload []byte) (frames [][]byte, cmr uint8, err error)
	isSID(frame []byte) bool
}

type amrPayload struct {
	octetAligned bool
	wb           bool
	cmr          uint8
}

func (c *amrPayload) encode(frames [][]byte) ([]byte, error) {
	return encodeAMR(frames, c.cmr, c.octetAligned, c.wb)
}

func (c *amrPayload) decode(payload []byte) ([][]byte, uint8, error) {
	return decodeAMR(payload, c.octetAligned, c.wb)
}

func (c *amrPayload) isSID(frame []byte) bool {
	ft, ok := amrFrameTypeFromSize(len(frame), c.wb)
	return ok && amrIsSID(ft, c.wb)
}

type evsPayload struct {
	headerFullOnly bool
	cmr            uint8
}

func (c *evsPayload) encode(frames [][]byte) ([]byte, error) {
	if !c.headerFullOnly && len(frames) == 1 && c.cmr == evsCMRNone {
		return encodeEVSCompact(frames[0])
	}
	return encodeEVSHeaderFull(frames, c.cmr)
}

func (c *evsPayload) decode(payload []byte) ([][]byte, uint8, error) {
	return decodeEVS(payload, c.headerFullOnly)
}

func (c *evsPayload) isSID(frame []byte) bool {
	ft, ok := evsFrameTypeFromSize(len(frame))
	return ok && evsIsSID(ft)
}

// passthroughPayload serves codecs whose frames are the payload (G.711).
type passthroughPayload struct{}

func (passthroughPayload) encode(frames [][]byte) ([]byte, error) {
	if len(frames) != 1 {
		return nil, errBadFrameSize
	}
	return frames[0], nil
}

func (passthroughPayload) decode(payload []byte) ([][]byte, uint8, error) {
	return [][]byte{payload}, amrCMRNone, nil
}

func (passthroughPayload) isSID(frame []byte) bool { return false }

func newAudioPayloadCodec(cfg config.AudioConfig) audioPayloadCodec {
	switch cfg.CodecType {
	case config.CodecAMR:
		return &amrPayload{octetAligned: cfg.Amr.OctetAligned, cmr: amrCMRNone}
	case config.CodecAMRWB:
		return &amrPayload{octetAligned: cfg.Amr.OctetAligned, wb: true, cmr: amrCMRNone}
	case config.CodecEVS:
		return &evsPayload{headerFullOnly: cfg.Evs.UseHeaderFullOnlyOnTx, cmr: evsCMRNone}
	default:
		return passthroughPayload{}
	}
}

// audioPayloadConfigEqual is the live update rule shared by both payload
// nodes: anything beyond these fields can be applied in place.
func audioPayloadConfigEqual(a, b config.AudioConfig) bool {
	return a.CodecType == b.CodecType &&
		a.Amr.OctetAligned == b.Amr.OctetAligned &&
		a.PtimeMillis == b.PtimeMillis &&
		a.Evs.EvsBandwidth == b.Evs.EvsBandwidth &&
		a.Evs.UseHeaderFullOnlyOnTx == b.Evs.UseHeaderFullOnlyOnTx &&
		a.Evs.UseHeaderFullOnlyOnRx == b.Evs.UseHeaderFullOnlyOnRx &&
		a.Evs.ChannelAwareMode == b.Evs.ChannelAwareMode
}

// AudioPayloadEncoderNode formats encoder frames into RTP payload,
// aggregating frames up to maxPtime when configured.
type AudioPayloadEncoderNode struct {
	pipeline.BaseNode

	mu    sync.Mutex
	cfg   config.AudioConfig
	codec audioPayloadCodec

	maxFrames int
	bundle    []*media.Packet
}

func NewAudioPayloadEncoderNode(cfg config.AudioConfig) *AudioPayloadEncoderNode {
	n := &AudioPayloadEncoderNode{
		BaseNode: pipeline.NewBaseNode("AudioPayloadEncoder", media.TypeAudio),
	}
	n.apply(cfg)
	return n
}

func (n *AudioPayloadEncoderNode) apply(cfg config.AudioConfig) {
	n.cfg = cfg
	n.codec = newAudioPayloadCodec(cfg)
	n.maxFrames = 1
	if cfg.PtimeMillis > 0 && cfg.MaxPtimeMillis > cfg.PtimeMillis {
		// aggregation bound: one payload carries maxPtime/ptime frames
		n.maxFrames = int(cfg.MaxPtimeMillis / cfg.PtimeMillis)
	}
}

func (n *AudioPayloadEncoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *AudioPayloadEncoderNode) Stop() {
	n.ClearInput()
	n.mu.Lock()
	n.bundle = nil
	n.mu.Unlock()
	n.SetState(pipeline.NodeStopped)
}

func (n *AudioPayloadEncoderNode) IsSameConfig(cfg any) bool {
	c, ok := cfg.(config.AudioConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return audioPayloadConfigEqual(n.cfg, c)
}

func (n *AudioPayloadEncoderNode) UpdateConfig(cfg any) error {
	c, ok := cfg.(config.AudioConfig)
	if !ok {
		return errBadFrameSize
	}
	n.mu.Lock()
	n.apply(c)
	n.mu.Unlock()
	return nil
}

// SetCmr updates the codec mode request carried on outgoing payload,
// honouring a remote request (TMMBR driven or payload carried).
func (n *AudioPayloadEncoderNode) SetCmr(cmr uint8) {
	n.mu.Lock()
	switch c := n.codec.(type) {
	case *amrPayload:
		c.cmr = cmr
	case *evsPayload:
		c.cmr = cmr
	}
	n.mu.Unlock()
}

func (n *AudioPayloadEncoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		if p.Sub == media.SubDTMF || p.Sub == media.SubDTMFEnd {
			// events pass through untouched
			n.SendDataToRearNode(p)
			continue
		}
		n.mu.Lock()
		n.bundle = append(n.bundle, p)
		flush := len(n.bundle) >= n.maxFrames
		n.mu.Unlock()
		if flush {
			n.flushBundle()
		}
	}
}

func (n *AudioPayloadEncoderNode) flushBundle() {
	n.mu.Lock()
	bundle := n.bundle
	n.bundle = nil
	codec := n.codec
	n.mu.Unlock()
	if len(bundle) == 0 {
		return
	}

	frames := make([][]byte, len(bundle))
	for i, p := range bundle {
		frames[i] = p.Data
	}
	payload, err := codec.encode(frames)
	if err != nil {
		n.Log.Debug().Err(err).Msg("payload encode dropped")
		return
	}

	first := bundle[0]
	n.SendDataToRearNode(&media.Packet{
		Data:      payload,
		Timestamp: first.Timestamp,
		Marker:    first.Marker,
		Sub:       media.SubRTPPayload,
		Valid:     true,
	})
}

// AudioPayloadDecoderNode unpacks RTP payload into codec frames and
// surfaces the inbound CMR.
type AudioPayloadDecoderNode struct {
	pipeline.BaseNode

	mu      sync.Mutex
	cfg     config.AudioConfig
	codec   audioPayloadCodec
	cmrSink CmrSink
	lastCmr uint8

	samplesPerFrame uint32
}

func NewAudioPayloadDecoderNode(cfg config.AudioConfig) *AudioPayloadDecoderNode {
	n := &AudioPayloadDecoderNode{
		BaseNode: pipeline.NewBaseNode("AudioPayloadDecoder", media.TypeAudio),
		lastCmr:  amrCMRNone,
	}
	n.applyDecoder(cfg)
	return n
}

func (n *AudioPayloadDecoderNode) applyDecoder(cfg config.AudioConfig) {
	n.cfg = cfg
	rxCfg := cfg
	rxCfg.Evs.UseHeaderFullOnlyOnTx = cfg.Evs.UseHeaderFullOnlyOnRx
	n.codec = newAudioPayloadCodec(rxCfg)
	n.samplesPerFrame = uint32(cfg.SamplingRateKHz) * uint32(cfg.PtimeMillis)
}

func (n *AudioPayloadDecoderNode) SetCmrSink(s CmrSink) {
	n.mu.Lock()
	n.cmrSink = s
	n.mu.Unlock()
}

func (n *AudioPayloadDecoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *AudioPayloadDecoderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *AudioPayloadDecoderNode) IsSameConfig(cfg any) bool {
	c, ok := cfg.(config.AudioConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return audioPayloadConfigEqual(n.cfg, c)
}

func (n *AudioPayloadDecoderNode) UpdateConfig(cfg any) error {
	c, ok := cfg.(config.AudioConfig)
	if !ok {
		return errBadFrameSize
	}
	n.mu.Lock()
	n.applyDecoder(c)
	n.mu.Unlock()
	return nil
}

func (n *AudioPayloadDecoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.mu.Lock()
		codec := n.codec
		sink := n.cmrSink
		last := n.lastCmr
		n.mu.Unlock()

		frames, cmr, err := codec.decode(p.Data)
		if err != nil {
			n.Log.Debug().Err(err).Msg("payload decode dropped")
			continue
		}

		if cmr != last && sink != nil {
			sink.OnCmr(cmr)
			n.mu.Lock()
			n.lastCmr = cmr
			n.mu.Unlock()
		}

		ts := p.Timestamp
		for i, f := range frames {
			if f == nil {
				ts += n.samplesPerFrame
				continue
			}
			n.SendDataToRearNode(&media.Packet{
				Data:        f,
				Timestamp:   ts,
				Marker:      p.Marker && i == 0,
				Seq:         p.Seq,
				Sub:         media.SubMedia,
				ArrivalTime: p.ArrivalTime,
				Valid:       true,
			})
			ts += n.samplesPerFrame
		}
	}
}
