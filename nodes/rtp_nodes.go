// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"sync"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
	"github.com/goims/imsmedia/rtp"
)

// cvoExtensionLen is the one byte CVO header extension, TS 26.114 6.2.3.
const cvoExtensionLen = 1

// RtpEncoderNode frames payload descriptors into RTP packets: the session
// assigns sequence and SSRC, while the RTP timestamp is the one the
// descriptor carries, not derived by the session; the node injects the CVO
// extension and any session provided header extensions, and gates voice
// while a DTMF burst is in flight so events never interleave with speech
// inside one timestamp run.
type RtpEncoderNode struct {
	pipeline.BaseNode
	sess *rtp.Session

	mu          sync.Mutex
	payloadType uint8
	dtmfPT      uint8
	dtmfActive  bool

	cvoID          uint8
	cvoOrientation uint8

	extensions []rtp.HeaderExtension

	MTUDrops uint64
}

func NewRtpEncoderNode(mt media.Type, sess *rtp.Session, cfg config.RtpConfig, payloadType, dtmfPT uint8) *RtpEncoderNode {
	n := &RtpEncoderNode{
		BaseNode:    pipeline.NewBaseNode("RtpEncoder", mt),
		sess:        sess,
		payloadType: payloadType,
		dtmfPT:      dtmfPT,
	}
	if cfg.MaxMtuBytes > 0 {
		sess.MTU = int(cfg.MaxMtuBytes)
	}
	sess.SetPayloadTypes(payloadType, dtmfPT)
	return n
}

func (n *RtpEncoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *RtpEncoderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

// UpdateConfig refreshes payload numbering and MTU live; the framing
// layer has no state worth a restart.
func (n *RtpEncoderNode) UpdateConfig(cfg any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch c := cfg.(type) {
	case config.AudioConfig:
		n.payloadType = uint8(c.TxPayloadTypeNumber)
		n.dtmfPT = uint8(c.DtmfTxPayloadTypeNumber)
		if c.MaxMtuBytes > 0 {
			n.sess.MTU = int(c.MaxMtuBytes)
		}
	case config.VideoConfig:
		n.payloadType = uint8(c.TxPayloadTypeNumber)
		if c.MaxMtuBytes > 0 {
			n.sess.MTU = int(c.MaxMtuBytes)
		}
	case config.TextConfig:
		n.payloadType = uint8(c.TxPayloadTypeNumber)
		if c.RedundantPayload > 0 {
			n.payloadType = uint8(c.RedundantPayload)
		}
	}
	n.sess.SetPayloadTypes(n.payloadType, n.dtmfPT)
	return nil
}

// SetCVO configures the negotiated CVO extension id and the current
// device orientation; the extension rides the last packet of each frame.
func (n *RtpEncoderNode) SetCVO(id uint8, orientation uint8) {
	n.mu.Lock()
	n.cvoID = id
	n.cvoOrientation = orientation
	n.mu.Unlock()
}

// SetHeaderExtensions replaces the session supplied extension list sent
// on subsequent packets.
func (n *RtpEncoderNode) SetHeaderExtensions(exts []config.RtpHeaderExtension) {
	n.mu.Lock()
	n.extensions = n.extensions[:0]
	for _, e := range exts {
		n.extensions = append(n.extensions, rtp.HeaderExtension{ID: e.LocalID, Payload: e.ExtensionData})
	}
	n.mu.Unlock()
}

func (n *RtpEncoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.encodeOne(p)
	}
}

func (n *RtpEncoderNode) encodeOne(p *media.Packet) {
	n.mu.Lock()
	pt := n.payloadType
	switch p.Sub {
	case media.SubDTMF:
		n.dtmfActive = true
		pt = n.dtmfPT
	case media.SubDTMFEnd:
		n.dtmfActive = false
		pt = n.dtmfPT
	default:
		if n.dtmfActive {
			// voice gated while the event burst is in flight
			n.mu.Unlock()
			return
		}
	}

	exts := append([]rtp.HeaderExtension(nil), n.extensions...)
	if n.cvoID > 0 && p.Marker && n.Media == media.TypeVideo {
		exts = append(exts, rtp.HeaderExtension{ID: n.cvoID, Payload: []byte{n.cvoOrientation}})
	}
	n.mu.Unlock()

	buf, err := n.sess.EncodePacket(p.Data, p.Timestamp, p.Marker, pt, exts)
	if err != nil {
		if err == rtp.ErrMTUExceeded {
			n.MTUDrops++
		}
		n.Log.Debug().Err(err).Msg("rtp encode dropped")
		return
	}

	n.SendDataToRearNode(&media.Packet{
		Data:      buf,
		Timestamp: p.Timestamp,
		Marker:    p.Marker,
		Sub:       media.SubRTPPacket,
		Valid:     true,
	})
}

// OrientationSink consumes received CVO rotations.
type OrientationSink interface {
	OnVideoOrientation(orientation uint8)
}

// RtpDecoderNode parses received datagrams through the session's inbound
// statistics pipeline and forwards the payload with RTP timing attached.
type RtpDecoderNode struct {
	pipeline.BaseNode
	sess *rtp.Session

	mu          sync.Mutex
	cvoID       uint8
	orientation OrientationSink
	extSink     func(exts []config.RtpHeaderExtension)

	samplesPerMs uint32
}

func NewRtpDecoderNode(mt media.Type, sess *rtp.Session, samplesPerMs uint32) *RtpDecoderNode {
	return &RtpDecoderNode{
		BaseNode:     pipeline.NewBaseNode("RtpDecoder", mt),
		sess:         sess,
		samplesPerMs: samplesPerMs,
	}
}

func (n *RtpDecoderNode) SetCVO(id uint8, sink OrientationSink) {
	n.mu.Lock()
	n.cvoID = id
	n.orientation = sink
	n.mu.Unlock()
}

// SetExtensionSink forwards received header extensions to the session.
func (n *RtpDecoderNode) SetExtensionSink(sink func(exts []config.RtpHeaderExtension)) {
	n.mu.Lock()
	n.extSink = sink
	n.mu.Unlock()
}

func (n *RtpDecoderNode) Start() error {
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *RtpDecoderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *RtpDecoderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		arrivalTS := uint32(p.ArrivalTime) * n.samplesPerMs
		pkt, err := n.sess.DecodePacket(p.Data, nil, p.ArrivalTime, arrivalTS)
		if err != nil {
			n.Log.Debug().Err(err).Msg("rtp decode dropped")
			continue
		}

		n.mu.Lock()
		if n.cvoID > 0 && n.orientation != nil {
			if ext := pkt.GetExtension(n.cvoID); len(ext) >= cvoExtensionLen {
				n.orientation.OnVideoOrientation(ext[0])
			}
		}
		if n.extSink != nil {
			var exts []config.RtpHeaderExtension
			for _, id := range pkt.GetExtensionIDs() {
				if id == n.cvoID {
					continue
				}
				exts = append(exts, config.RtpHeaderExtension{
					LocalID:       id,
					ExtensionData: append([]byte(nil), pkt.GetExtension(id)...),
				})
			}
			if len(exts) > 0 {
				n.extSink(exts)
			}
		}
		n.mu.Unlock()

		n.SendDataToRearNode(&media.Packet{
			Data:        pkt.Payload,
			Timestamp:   pkt.Timestamp,
			Marker:      pkt.Marker,
			Seq:         pkt.SequenceNumber,
			Sub:         media.SubRTPPayload,
			ArrivalTime: p.ArrivalTime,
			Valid:       true,
		})
	}
}
