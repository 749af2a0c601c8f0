// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package imsmedia

import (
	"io"
	"time"

	"github.com/goims/imsmedia/audio"
	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/jitter"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/nodes"
	"github.com/goims/imsmedia/pipeline"
	"github.com/goims/imsmedia/rtp"
	"github.com/goims/imsmedia/transport"
)

// SessionIO carries the device side endpoints a session renders from and
// to. Any of them may be nil: capture and playback devices are external
// collaborators and a session without them still runs its receive path,
// RTCP and DTMF.
type SessionIO struct {
	// PCMSource supplies LPCM for the software codec path (G.711).
	PCMSource io.Reader
	// FrameSource supplies finished frames from an external codec.
	FrameSource nodes.FrameReader
	// PCMSink receives decoded LPCM (the playout device).
	PCMSink io.Writer
}

// graphSet is the up to three graphs a session runs per media type.
type graphSet struct {
	tx   *pipeline.Graph
	rx   *pipeline.Graph
	rtcp *pipeline.Graph

	rtpSock  *transport.UDPSocket
	rtcpSock *transport.UDPSocket

	rtpSess *rtp.Session

	// handles the session reaches into after build
	dtmf     *nodes.DtmfEncoderNode
	rtcpEnc  *nodes.RtcpEncoderNode
	rtcpDec  *nodes.RtcpDecoderNode
	rtpEnc   *nodes.RtpEncoderNode
	audioBuf *jitter.AudioBuffer
	videoBuf *jitter.VideoBuffer
	payEnc   *nodes.AudioPayloadEncoderNode
	payDec   *nodes.AudioPayloadDecoderNode

	videoPayEnc *nodes.VideoPayloadEncoderNode
	textPayEnc  *nodes.TextPayloadEncoderNode
}

func (g *graphSet) start(dir config.MediaDirection) error {
	if g.rtcp != nil {
		if err := g.rtcp.Start(); err != nil {
			return err
		}
	}
	if g.rx != nil && dirReceives(dir) {
		if err := g.rx.Start(); err != nil {
			return err
		}
	}
	if g.tx != nil && dirSends(dir) {
		if err := g.tx.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (g *graphSet) stop() {
	if g.tx != nil {
		g.tx.Stop()
	}
	if g.rx != nil {
		g.rx.Stop()
	}
	if g.rtcp != nil {
		g.rtcp.Stop()
	}
}

func (g *graphSet) closeSockets() {
	if g.rtpSock != nil {
		g.rtpSock.Close()
	}
	if g.rtcpSock != nil {
		g.rtcpSock.Close()
	}
}

func dirSends(d config.MediaDirection) bool {
	return d == config.DirectionSendOnly || d == config.DirectionSendReceive
}

func dirReceives(d config.MediaDirection) bool {
	return d == config.DirectionReceiveOnly || d == config.DirectionSendReceive
}

// openSockets binds (or adopts) the RTP/RTCP socket pair and applies the
// QoS options from the flow config.
func openSockets(s *Session, rc config.RtpConfig) error {
	rtpSock := transport.NewUDPSocket(s.localRTP)
	rtcpSock := transport.NewUDPSocket(s.localRTCP)

	if s.rtpConn != nil {
		rtpSock.OpenWithConn(s.rtpConn)
	} else if err := rtpSock.Open(); err != nil {
		return ErrPortUnavailable
	}
	if s.rtcpConn != nil {
		rtcpSock.OpenWithConn(s.rtcpConn)
	} else if err := rtcpSock.Open(); err != nil {
		rtpSock.Close()
		return ErrPortUnavailable
	}

	if rc.Dscp > 0 {
		rtpSock.SetSocketOpt(transport.OptDSCP, int(rc.Dscp))
		rtcpSock.SetSocketOpt(transport.OptDSCP, int(rc.Dscp))
	}

	raddr, err := resolveRemote(rc)
	if err != nil {
		rtpSock.Close()
		rtcpSock.Close()
		return err
	}
	rtpSock.SetPeerEndpoint(raddr.rtp)
	rtcpSock.SetPeerEndpoint(raddr.rtcp)

	s.graphs.rtpSock = rtpSock
	s.graphs.rtcpSock = rtcpSock
	return nil
}

// buildAudioGraphs wires the audio pipelines:
//
//	tx:  AudioSource -> PayloadEncoder -> RtpEncoder -> SocketWriter
//	     DtmfEncoder ------------------/
//	rx:  SocketReader -> RtpDecoder -> PayloadDecoder -> JitterBuffer -> AudioPlayer
//	rtcp: SocketReader -> RtcpDecoder ; RtcpEncoder -> SocketWriter
func buildAudioGraphs(s *Session, cfg config.AudioConfig, sio SessionIO) error {
	g := s.graphs
	samplesPerMs := uint32(cfg.SamplingRateKHz)
	if samplesPerMs == 0 {
		samplesPerMs = 8
	}
	frameMs := cfg.PtimeMillis
	if frameMs == 0 {
		frameMs = 20
	}

	// transmit
	tx := pipeline.NewGraph("audio-tx")
	var source *nodes.AudioSourceNode
	switch {
	case sio.FrameSource != nil:
		source = nodes.NewAudioSourceNodeFrames(sio.FrameSource, frameMs, samplesPerMs)
	case sio.PCMSource != nil:
		codec, err := audio.NewPCMCodec(uint8(cfg.TxPayloadTypeNumber))
		if err == nil {
			source = nodes.NewAudioSourceNodePCM(sio.PCMSource, codec, frameMs, samplesPerMs)
		} else {
			s.log.Warn().Err(err).Msg("no software codec, transmit runs DTMF only")
		}
	}

	g.payEnc = nodes.NewAudioPayloadEncoderNode(cfg)
	g.rtpEnc = nodes.NewRtpEncoderNode(media.TypeAudio, g.rtpSess, cfg.RtpConfig,
		uint8(cfg.TxPayloadTypeNumber), uint8(cfg.DtmfTxPayloadTypeNumber))
	writer := nodes.NewSocketWriterNode(media.TypeAudio, g.rtpSock)

	if source != nil {
		tx.AddNode(source, false)
		tx.AddNode(g.payEnc, true)
	} else {
		tx.AddNode(g.payEnc, false)
	}
	tx.AddNode(g.rtpEnc, true)
	tx.AddNode(writer, true)

	// DTMF branch joins at the RTP encoder
	g.dtmf = nodes.NewDtmfEncoderNode(frameMs, uint32(cfg.DtmfSamplingRateKHz))
	tx.AddNode(g.dtmf, false)
	tx.Connect(g.dtmf, g.rtpEnc)

	// receive
	rx := pipeline.NewGraph("audio-rx")
	reader := nodes.NewSocketReaderNode(media.TypeAudio, g.rtpSock, media.SubRTPPacket)
	rtpDec := nodes.NewRtpDecoderNode(media.TypeAudio, g.rtpSess, samplesPerMs)
	rtpDec.SetExtensionSink(s.onHeaderExtensions)
	g.payDec = nodes.NewAudioPayloadDecoderNode(cfg)
	g.payDec.SetCmrSink(s)
	jb := nodes.NewAudioJitterNode(samplesPerMs, frameMs)
	jb.Buffer.SetStatusCollector(s.quality)
	g.audioBuf = jb.Buffer

	var playCodec audio.PCMCodec
	if c, err := audio.NewPCMCodec(uint8(cfg.RxPayloadTypeNumber)); err == nil {
		playCodec = c
	}
	player := nodes.NewAudioPlayerNode(sio.PCMSink, playCodec, frameMs, samplesPerMs)

	rx.AddNode(reader, false)
	rx.AddNode(rtpDec, true)
	rx.AddNode(g.payDec, true)
	rx.AddNode(jb, true)
	rx.AddNode(player, true)

	s.graphs.tx = tx
	s.graphs.rx = rx
	buildRtcpGraph(s, cfg.Rtcp)
	return nil
}

// buildVideoGraphs wires the video pipelines; capture and render surfaces
// are external, so tx starts at the payload encoder fed through the
// session's NAL injection entry point.
func buildVideoGraphs(s *Session, cfg config.VideoConfig) error {
	g := s.graphs

	tx := pipeline.NewGraph("video-tx")
	payEnc := nodes.NewVideoPayloadEncoderNode(cfg)
	g.videoPayEnc = payEnc
	g.rtpEnc = nodes.NewRtpEncoderNode(media.TypeVideo, g.rtpSess, cfg.RtpConfig,
		uint8(cfg.TxPayloadTypeNumber), 0)
	if cfg.CvoValue > 0 {
		g.rtpEnc.SetCVO(uint8(cfg.CvoValue), uint8(cfg.DeviceOrientation/90))
	}
	writer := nodes.NewSocketWriterNode(media.TypeVideo, g.rtpSock)

	tx.AddNode(payEnc, false)
	tx.AddNode(g.rtpEnc, true)
	tx.AddNode(writer, true)

	rx := pipeline.NewGraph("video-rx")
	reader := nodes.NewSocketReaderNode(media.TypeVideo, g.rtpSock, media.SubRTPPacket)
	rtpDec := nodes.NewRtpDecoderNode(media.TypeVideo, g.rtpSess, 90)
	rtpDec.SetExtensionSink(s.onHeaderExtensions)
	if cfg.CvoValue > 0 {
		rtpDec.SetCVO(uint8(cfg.CvoValue), s)
	}
	payDec := nodes.NewVideoPayloadDecoderNode(cfg)
	jb := nodes.NewVideoJitterNode()
	jb.Buffer.SetEvents(s)
	jb.Buffer.SetLossRecovery(true)
	g.videoBuf = jb.Buffer

	rx.AddNode(reader, false)
	rx.AddNode(rtpDec, true)
	rx.AddNode(payDec, true)
	rx.AddNode(jb, true)

	s.graphs.tx = tx
	s.graphs.rx = rx
	buildRtcpGraph(s, cfg.Rtcp)
	return nil
}

// buildTextGraphs wires the T.140 pipelines.
func buildTextGraphs(s *Session, cfg config.TextConfig) error {
	g := s.graphs

	tx := pipeline.NewGraph("text-tx")
	payEnc := nodes.NewTextPayloadEncoderNode(cfg)
	g.textPayEnc = payEnc
	pt := uint8(cfg.TxPayloadTypeNumber)
	if cfg.RedundantPayload > 0 {
		pt = uint8(cfg.RedundantPayload)
	}
	g.rtpEnc = nodes.NewRtpEncoderNode(media.TypeText, g.rtpSess, cfg.RtpConfig, pt, 0)
	writer := nodes.NewSocketWriterNode(media.TypeText, g.rtpSock)

	tx.AddNode(payEnc, false)
	tx.AddNode(g.rtpEnc, true)
	tx.AddNode(writer, true)

	rx := pipeline.NewGraph("text-rx")
	reader := nodes.NewSocketReaderNode(media.TypeText, g.rtpSock, media.SubRTPPacket)
	rtpDec := nodes.NewRtpDecoderNode(media.TypeText, g.rtpSess, 1)
	payDec := nodes.NewTextPayloadDecoderNode(cfg)
	jb := nodes.NewTextJitterNode()

	rx.AddNode(reader, false)
	rx.AddNode(rtpDec, true)
	rx.AddNode(payDec, true)
	rx.AddNode(jb, true)

	s.graphs.tx = tx
	s.graphs.rx = rx
	buildRtcpGraph(s, cfg.Rtcp)
	return nil
}

// buildRtcpGraph wires the two RTCP chains over the control socket.
func buildRtcpGraph(s *Session, rc config.RtcpConfig) {
	g := s.graphs

	graph := pipeline.NewGraph("rtcp")
	reader := nodes.NewSocketReaderNode(s.mediaType, g.rtcpSock, media.SubRTCPPacket)
	g.rtcpDec = nodes.NewRtcpDecoderNode(s.mediaType, g.rtpSess)
	graph.AddNode(reader, false)
	graph.AddNode(g.rtcpDec, true)

	g.rtcpEnc = nodes.NewRtcpEncoderNode(s.mediaType, g.rtpSess)
	if rc.IntervalSec > 0 {
		g.rtcpEnc.SetInterval(time.Duration(rc.IntervalSec) * time.Second)
	}
	writer := nodes.NewSocketWriterNode(s.mediaType, g.rtcpSock)
	graph.AddNode(g.rtcpEnc, false)
	graph.AddNode(writer, true)

	s.graphs.rtcp = graph
}
