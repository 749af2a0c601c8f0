// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goims/imsmedia/audio"
	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
	"github.com/goims/imsmedia/rtp"
)

// sink collects descriptors pushed to it.
type sink struct {
	pipeline.BaseNode
	mu   sync.Mutex
	pkts []*media.Packet
}

func newSink() *sink {
	return &sink{BaseNode: pipeline.NewBaseNode("sink", media.TypeAudio)}
}

func (s *sink) Start() error { s.SetState(pipeline.NodeRunning); return nil }
func (s *sink) Stop()        { s.SetState(pipeline.NodeStopped) }
func (s *sink) ProcessData() {}

func (s *sink) OnDataFromFrontNode(p *media.Packet) {
	s.mu.Lock()
	s.pkts = append(s.pkts, p.Clone())
	s.mu.Unlock()
}

func (s *sink) all() []*media.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*media.Packet(nil), s.pkts...)
}

func amrFrame(ft int, wb bool) []byte {
	f := make([]byte, amrFrameBytes(ft, wb))
	for i := range f {
		f[i] = byte(0xA0 + i)
	}
	// clear the bits below the frame's bit length
	bits := amrBits(ft, wb)
	if rem := bits % 8; rem != 0 {
		f[len(f)-1] &= 0xFF << (8 - rem)
	}
	return f
}

func TestAMRRoundtripOctetAligned(t *testing.T) {
	for ft := 0; ft <= 8; ft++ {
		frame := amrFrame(ft, false)
		payload, err := encodeAMR([][]byte{frame}, amrCMRNone, true, false)
		require.NoError(t, err)

		frames, cmr, err := decodeAMR(payload, true, false)
		require.NoError(t, err)
		assert.Equal(t, uint8(amrCMRNone), cmr)
		require.Len(t, frames, 1)
		assert.Equal(t, frame, frames[0], "ft=%d", ft)
	}
}

func TestAMRRoundtripBandwidthEfficient(t *testing.T) {
	for _, wb := range []bool{false, true} {
		maxFT := 8
		if wb {
			maxFT = 9
		}
		for ft := 0; ft <= maxFT; ft++ {
			frame := amrFrame(ft, wb)
			payload, err := encodeAMR([][]byte{frame}, 2, false, wb)
			require.NoError(t, err)

			frames, cmr, err := decodeAMR(payload, false, wb)
			require.NoError(t, err)
			assert.Equal(t, uint8(2), cmr)
			require.Len(t, frames, 1)
			assert.Equal(t, frame, frames[0], "wb=%v ft=%d", wb, ft)
		}
	}
}

func TestAMRMultiFrame(t *testing.T) {
	in := [][]byte{amrFrame(7, false), amrFrame(7, false), amrFrame(8, false)}
	payload, err := encodeAMR(in, amrCMRNone, true, false)
	require.NoError(t, err)

	frames, _, err := decodeAMR(payload, true, false)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i := range in {
		assert.Equal(t, in[i], frames[i])
	}
}

func TestAMRDecodeShort(t *testing.T) {
	_, _, err := decodeAMR([]byte{0xF0}, true, false)
	assert.Error(t, err)
}

func TestEVSCompactRoundtrip(t *testing.T) {
	frame := make([]byte, evsFrameBytes(4)) // 13.2 kbps
	payload, err := encodeEVSCompact(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), len(payload))

	frames, cmr, err := decodeEVS(payload, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(evsCMRNone), cmr)
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestEVSHeaderFullRoundtrip(t *testing.T) {
	f1 := bytes.Repeat([]byte{0x11}, evsFrameBytes(2))
	f2 := bytes.Repeat([]byte{0x22}, evsFrameBytes(2))
	payload, err := encodeEVSHeaderFull([][]byte{f1, f2}, 0x05)
	require.NoError(t, err)

	frames, cmr, err := decodeEVS(payload, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x05), cmr)
	require.Len(t, frames, 2)
	assert.Equal(t, f1, frames[0])
	assert.Equal(t, f2, frames[1])
}

func TestEVSSIDSize(t *testing.T) {
	assert.True(t, evsIsSID(12))
	assert.Equal(t, 6, evsFrameBytes(evsFTSID))
}

func audioCfg(codec config.CodecType) config.AudioConfig {
	return config.AudioConfig{
		RtpConfig: config.RtpConfig{
			MediaDirection: config.DirectionSendReceive,
			MaxMtuBytes:    1500,
		},
		CodecType:           codec,
		PtimeMillis:         20,
		MaxPtimeMillis:      20,
		SamplingRateKHz:     8,
		TxPayloadTypeNumber: 97,
		RxPayloadTypeNumber: 97,
		Amr:                 config.AmrParams{OctetAligned: true},
	}
}

func TestAudioPayloadNodesRoundtrip(t *testing.T) {
	cfg := audioCfg(config.CodecAMR)
	enc := NewAudioPayloadEncoderNode(cfg)
	dec := NewAudioPayloadDecoderNode(cfg)
	out := newSink()
	enc.ConnectRearNode(dec)
	dec.ConnectRearNode(out)

	require.NoError(t, enc.Start())
	require.NoError(t, dec.Start())

	frame := amrFrame(7, false)
	enc.OnDataFromFrontNode(&media.Packet{
		Data:      frame,
		Timestamp: 160,
		Marker:    true,
		Sub:       media.SubMedia,
		Valid:     true,
	})
	enc.ProcessData()
	dec.ProcessData()

	got := out.all()
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0].Data)
	assert.Equal(t, uint32(160), got[0].Timestamp)
	assert.True(t, got[0].Marker)
}

func TestAudioPayloadIsSameConfig(t *testing.T) {
	cfg := audioCfg(config.CodecAMR)
	enc := NewAudioPayloadEncoderNode(cfg)

	same := cfg
	same.Dscp = 34 // irrelevant for the payload layer
	assert.True(t, enc.IsSameConfig(same))

	diff := cfg
	diff.Amr.OctetAligned = false
	assert.False(t, enc.IsSameConfig(diff))

	diff = cfg
	diff.CodecType = config.CodecEVS
	assert.False(t, enc.IsSameConfig(diff))
}

type cmrCapture struct{ cmrs []uint8 }

func (c *cmrCapture) OnCmr(cmr uint8) { c.cmrs = append(c.cmrs, cmr) }

func TestAudioPayloadDecoderCmr(t *testing.T) {
	cfg := audioCfg(config.CodecAMR)
	dec := NewAudioPayloadDecoderNode(cfg)
	capt := &cmrCapture{}
	dec.SetCmrSink(capt)
	dec.ConnectRearNode(newSink())
	require.NoError(t, dec.Start())

	payload, err := encodeAMR([][]byte{amrFrame(5, false)}, 4, true, false)
	require.NoError(t, err)
	dec.OnDataFromFrontNode(&media.Packet{Data: payload, Sub: media.SubRTPPayload, Valid: true})
	dec.ProcessData()

	require.Equal(t, []uint8{4}, capt.cmrs)
}

func TestDtmfEncoderSeries(t *testing.T) {
	n := NewDtmfEncoderNode(20, 8)
	out := newSink()
	n.ConnectRearNode(out)
	require.NoError(t, n.Start())
	defer n.Stop()

	require.True(t, n.SendDtmf('5', 60))
	require.False(t, n.SendDtmf('x', 60))

	// service until the event series completes
	deadline := time.Now().Add(2 * time.Second)
	for len(out.all()) < 6 && time.Now().Before(deadline) {
		n.ProcessData()
		time.Sleep(5 * time.Millisecond)
	}

	pkts := out.all()
	require.GreaterOrEqual(t, len(pkts), 6)

	// marker only on the first packet of the event
	assert.True(t, pkts[0].Marker)
	for _, p := range pkts[1:] {
		assert.False(t, p.Marker)
	}

	// constant timestamp across the event
	for _, p := range pkts[1:] {
		assert.Equal(t, pkts[0].Timestamp, p.Timestamp)
	}

	// last three retransmit the end event
	var ev media.DTMFEvent
	for _, p := range pkts[len(pkts)-dtmfEndRepeat:] {
		require.NoError(t, media.DTMFDecode(p.Data, &ev))
		assert.True(t, ev.EndOfEvent)
		assert.Equal(t, uint8(5), ev.Event)
	}
	assert.Equal(t, media.SubDTMFEnd, pkts[len(pkts)-1].Sub)
}

func TestRtpEncoderDtmfGating(t *testing.T) {
	sess := rtp.NewSession(1, "t", 8)
	cfg := audioCfg(config.CodecAMR)
	enc := NewRtpEncoderNode(media.TypeAudio, sess, cfg.RtpConfig, 97, 101)
	out := newSink()
	enc.ConnectRearNode(out)
	require.NoError(t, enc.Start())

	enc.OnDataFromFrontNode(&media.Packet{Data: []byte{1}, Sub: media.SubRTPPayload, Timestamp: 160, Valid: true})
	enc.OnDataFromFrontNode(&media.Packet{Data: media.DTMFEncode(media.DTMFEvent{Event: 1}), Sub: media.SubDTMF, Timestamp: 320, Valid: true})
	// voice while the burst is in flight: dropped
	enc.OnDataFromFrontNode(&media.Packet{Data: []byte{2}, Sub: media.SubRTPPayload, Timestamp: 320, Valid: true})
	enc.OnDataFromFrontNode(&media.Packet{Data: media.DTMFEncode(media.DTMFEvent{Event: 1, EndOfEvent: true}), Sub: media.SubDTMFEnd, Timestamp: 320, Valid: true})
	// after the burst, voice flows again
	enc.OnDataFromFrontNode(&media.Packet{Data: []byte{3}, Sub: media.SubRTPPayload, Timestamp: 480, Valid: true})
	enc.ProcessData()

	pkts := out.all()
	require.Len(t, pkts, 4)
	for _, p := range pkts {
		assert.Equal(t, media.SubRTPPacket, p.Sub)
	}
}

func TestRtpEncodeDecodeThroughSession(t *testing.T) {
	txSess := rtp.NewSession(1, "tx", 8)
	rxSess := rtp.NewSession(2, "rx", 8)
	cfg := audioCfg(config.CodecAMR)

	enc := NewRtpEncoderNode(media.TypeAudio, txSess, cfg.RtpConfig, 97, 101)
	dec := NewRtpDecoderNode(media.TypeAudio, rxSess, 8)
	out := newSink()
	enc.ConnectRearNode(dec)
	dec.ConnectRearNode(out)
	require.NoError(t, enc.Start())
	require.NoError(t, dec.Start())

	payload := []byte{0xF0, 0x3C}
	enc.OnDataFromFrontNode(&media.Packet{Data: payload, Sub: media.SubRTPPayload, Timestamp: 160, Marker: true, Valid: true})
	enc.ProcessData()
	dec.ProcessData()

	got := out.all()
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].Data)
	assert.Equal(t, uint32(160), got[0].Timestamp)
	assert.True(t, got[0].Marker)
	assert.Equal(t, media.SubRTPPayload, got[0].Sub)

	// receiver side created the record
	assert.Equal(t, 1, rxSess.ReceiverCount())
}

func TestRtcpEncoderDecoderFlow(t *testing.T) {
	txSess := rtp.NewSession(1, "tx", 8)
	rxSess := rtp.NewSession(2, "rx", 8)

	enc := NewRtcpEncoderNode(media.TypeAudio, txSess)
	enc.SetInterval(20 * time.Millisecond)
	dec := NewRtcpDecoderNode(media.TypeAudio, rxSess)
	out := newSink()
	enc.ConnectRearNode(dec)
	dec.ConnectRearNode(out)

	require.NoError(t, dec.Start())
	require.NoError(t, enc.Start())

	require.Eventually(t, func() bool {
		dec.ProcessData()
		return dec.LastRxMillis() > 0
	}, 2*time.Second, 10*time.Millisecond)

	enc.Stop()
	assert.Equal(t, pipeline.NodeStopped, enc.State())
	assert.Zero(t, dec.DecodeFails)
}

func TestVideoPayloadFragmentationRoundtrip(t *testing.T) {
	vcfg := config.VideoConfig{
		RtpConfig: config.RtpConfig{MaxMtuBytes: 100},
		CodecType: config.CodecAVC,
	}
	enc := NewVideoPayloadEncoderNode(vcfg)
	dec := NewVideoPayloadDecoderNode(vcfg)
	frags := newSink()
	enc.ConnectRearNode(dec)
	dec.ConnectRearNode(frags)
	require.NoError(t, enc.Start())
	require.NoError(t, dec.Start())

	// a 300 byte IDR NAL: type 5
	nal := make([]byte, 300)
	nal[0] = 0x65
	for i := 1; i < len(nal); i++ {
		nal[i] = byte(i)
	}
	enc.OnDataFromFrontNode(&media.Packet{Data: nal, Timestamp: 9000, Marker: true, Sub: media.SubMedia, Valid: true})
	enc.ProcessData()
	dec.ProcessData()

	pkts := frags.all()
	require.Greater(t, len(pkts), 1)

	// reassemble what the decoder unwrapped
	var rebuilt []byte
	for i, p := range pkts {
		if i == 0 {
			assert.True(t, p.Header)
			rebuilt = append(rebuilt, p.Data...)
			continue
		}
		rebuilt = append(rebuilt, p.Data...)
	}
	assert.Equal(t, nal, rebuilt)
	assert.True(t, pkts[len(pkts)-1].Valid)    // end bit seen
	assert.True(t, pkts[len(pkts)-1].Marker)   // frame boundary kept
	assert.Equal(t, media.FrameIDR, pkts[0].Frame)
}

func TestVideoPayloadParameterSetRetention(t *testing.T) {
	vcfg := config.VideoConfig{
		RtpConfig: config.RtpConfig{MaxMtuBytes: 1500},
		CodecType: config.CodecAVC,
	}
	enc := NewVideoPayloadEncoderNode(vcfg)
	out := newSink()
	enc.ConnectRearNode(out)
	require.NoError(t, enc.Start())

	sps := []byte{0x67, 0x42, 0xC0, 0x0C}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := append([]byte{0x65}, bytes.Repeat([]byte{0xAB}, 50)...)

	enc.OnDataFromFrontNode(&media.Packet{Data: sps, Sub: media.SubMedia, Valid: true})
	enc.OnDataFromFrontNode(&media.Packet{Data: pps, Sub: media.SubMedia, Valid: true})
	enc.OnDataFromFrontNode(&media.Packet{Data: idr, Sub: media.SubMedia, Marker: true, Valid: true})
	enc.ProcessData()

	pkts := out.all()
	// sps, pps, then re-sent sps+pps in front of the IDR, then the IDR
	require.Len(t, pkts, 5)
	assert.Equal(t, sps, pkts[2].Data)
	assert.Equal(t, pps, pkts[3].Data)
	assert.Equal(t, media.FrameConfig, pkts[2].Frame)
	assert.Equal(t, idr, pkts[4].Data)
}

func TestHEVCFragmentationRoundtrip(t *testing.T) {
	vcfg := config.VideoConfig{
		RtpConfig: config.RtpConfig{MaxMtuBytes: 80},
		CodecType: config.CodecHEVC,
	}
	enc := NewVideoPayloadEncoderNode(vcfg)
	dec := NewVideoPayloadDecoderNode(vcfg)
	out := newSink()
	enc.ConnectRearNode(dec)
	dec.ConnectRearNode(out)
	require.NoError(t, enc.Start())
	require.NoError(t, dec.Start())

	// IDR_W_RADL (type 19): (19<<1)=0x26 in the first header byte
	nal := append([]byte{0x26, 0x01}, bytes.Repeat([]byte{0x77}, 200)...)
	enc.OnDataFromFrontNode(&media.Packet{Data: nal, Timestamp: 18000, Marker: true, Sub: media.SubMedia, Valid: true})
	enc.ProcessData()
	dec.ProcessData()

	pkts := out.all()
	require.Greater(t, len(pkts), 1)
	var rebuilt []byte
	for _, p := range pkts {
		rebuilt = append(rebuilt, p.Data...)
	}
	assert.Equal(t, nal, rebuilt)
}

func TestTextREDRoundtrip(t *testing.T) {
	tcfg := config.TextConfig{
		CodecType:           config.CodecT140,
		TxPayloadTypeNumber: 111,
		RedundantPayload:    112,
		RedundantLevel:      2,
	}
	enc := NewTextPayloadEncoderNode(tcfg)
	dec := NewTextPayloadDecoderNode(tcfg)
	out := newSink()
	enc.ConnectRearNode(dec)
	dec.ConnectRearNode(out)
	require.NoError(t, enc.Start())
	require.NoError(t, dec.Start())

	texts := []string{"a", "b", "c"}
	for i, s := range texts {
		enc.OnDataFromFrontNode(&media.Packet{
			Data:      []byte(s),
			Seq:       uint16(10 + i),
			Timestamp: uint32(1000 * (i + 1)),
			Sub:       media.SubMedia,
			Valid:     true,
		})
	}
	enc.ProcessData()

	// fix up sequence numbers the transport would assign: reuse input seq
	dec.ProcessData()

	pkts := out.all()
	// packet1: a; packet2: red(a)+b; packet3: red(a)+red(b)+c
	require.Len(t, pkts, 6)

	// the last packet's primary is c with its redundant generations b, a
	last3 := pkts[3:]
	assert.Equal(t, "a", string(last3[0].Data))
	assert.Equal(t, "b", string(last3[1].Data))
	assert.Equal(t, "c", string(last3[2].Data))
	// generation sequence arithmetic holds
	assert.Equal(t, last3[2].Seq-2, last3[0].Seq)
	assert.Equal(t, last3[2].Seq-1, last3[1].Seq)
}

func TestAudioSourceToPlayerG711(t *testing.T) {
	codec, err := audio.NewPCMCodec(0)
	require.NoError(t, err)

	pcmIn := bytes.Repeat([]byte{0x10, 0x20}, 8*20*30) // 30 frames of 20ms at 8kHz
	src := NewAudioSourceNodePCM(bytes.NewReader(pcmIn), codec, 20, 8)

	var rendered bytes.Buffer
	player := NewAudioPlayerNode(&rendered, codec, 20, 8)
	src.ConnectRearNode(player)

	require.NoError(t, player.Start())
	require.NoError(t, src.Start())

	require.Eventually(t, func() bool {
		player.ProcessData()
		return player.Rendered >= 3
	}, 3*time.Second, 10*time.Millisecond)

	src.Stop()
	assert.Greater(t, rendered.Len(), 0)
}
