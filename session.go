// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package imsmedia

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/rtcp"
	"github.com/rs/zerolog"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
	"github.com/goims/imsmedia/rtp"
)

// Session states.
const (
	StateClosed    = "closed"
	StateOpened    = "opened"
	StateActive    = "active"
	StateSuspended = "suspended"
)

type remoteAddrs struct {
	rtp  *net.UDPAddr
	rtcp *net.UDPAddr
}

func resolveRemote(rc config.RtpConfig) (remoteAddrs, error) {
	ip := net.ParseIP(rc.RemoteRtpAddress)
	if ip == nil || rc.RemoteRtpPort <= 0 {
		return remoteAddrs{}, ErrInvalidParam
	}
	rtcpPort := int(rc.RemoteRtpPort) + 1
	if rc.Rtcp.TransmitPort > 0 {
		rtcpPort = int(rc.Rtcp.TransmitPort)
	}
	return remoteAddrs{
		rtp:  &net.UDPAddr{IP: ip, Port: int(rc.RemoteRtpPort)},
		rtcp: &net.UDPAddr{IP: ip, Port: rtcpPort},
	}, nil
}

// Session is one media flow: a state machine over up to three stream
// graphs and the RTP protocol state they share. All mutations arrive on
// the manager's request goroutine; the data path talks to the session
// only through events.
type Session struct {
	id        int
	mediaType media.Type

	fsm *fsm.FSM

	localRTP  *net.UDPAddr
	localRTCP *net.UDPAddr
	rtpConn   net.PacketConn
	rtcpConn  net.PacketConn

	graphs *graphSet

	audioCfg config.AudioConfig
	videoCfg config.VideoConfig
	textCfg  config.TextConfig

	quality  *qualityMonitor
	emit     func(ev Event, arg uint32)
	emitExts func(exts []config.RtpHeaderExtension)

	log zerolog.Logger
}

func (s *Session) State() string { return s.fsm.Current() }

func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: "open", Src: []string{StateClosed}, Dst: StateOpened},
			{Name: "activate", Src: []string{StateOpened, StateSuspended, StateActive}, Dst: StateActive},
			{Name: "suspend", Src: []string{StateOpened, StateActive, StateSuspended}, Dst: StateSuspended},
			{Name: "close", Src: []string{StateOpened, StateActive, StateSuspended}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
}

// open binds sockets, builds the graphs for the configured media type and
// moves to opened, then activates or suspends per the flow direction.
func (s *Session) open(cfg any, sio SessionIO) error {
	if s.State() != StateClosed {
		return ErrNotReady
	}

	s.graphs = &graphSet{}

	var rc config.RtpConfig
	var build func() error
	switch c := cfg.(type) {
	case config.AudioConfig:
		s.audioCfg = c
		rc = c.RtpConfig
		build = func() error { return buildAudioGraphs(s, c, sio) }
	case config.VideoConfig:
		s.videoCfg = c
		rc = c.RtpConfig
		build = func() error { return buildVideoGraphs(s, c) }
	case config.TextConfig:
		s.textCfg = c
		rc = c.RtpConfig
		build = func() error { return buildTextGraphs(s, c) }
	default:
		return ErrInvalidParam
	}

	cname := rc.Rtcp.CanonicalName
	if cname == "" {
		cname = uuid.NewString()
	}
	s.graphs.rtpSess = rtp.NewSession(uint32(s.id), cname, sampleRateKHz(cfg))
	s.graphs.rtpSess.SetEventHandler(s)
	if rc.MaxMtuBytes > 0 {
		s.graphs.rtpSess.MTU = int(rc.MaxMtuBytes)
	}

	if err := openSockets(s, rc); err != nil {
		return err
	}
	if err := build(); err != nil {
		s.graphs.closeSockets()
		return ErrNoResources
	}

	if err := fsmEvent(s.fsm, "open"); err != nil {
		return ErrNotReady
	}

	s.quality.start()
	return s.applyDirection(rc.MediaDirection)
}

func sampleRateKHz(cfg any) uint32 {
	switch c := cfg.(type) {
	case config.AudioConfig:
		if c.SamplingRateKHz > 0 {
			return uint32(c.SamplingRateKHz)
		}
		return 8
	case config.VideoConfig:
		return 90
	default:
		return 1
	}
}

// applyDirection starts or stops graphs to match the negotiated flow.
func (s *Session) applyDirection(dir config.MediaDirection) error {
	if dir == config.DirectionInactive || dir == config.DirectionNoFlow {
		s.graphs.stop()
		return fsmEvent(s.fsm, "suspend")
	}

	if err := s.graphs.start(dir); err != nil {
		return ErrNoResources
	}
	return fsmEvent(s.fsm, "activate")
}

// modify applies a new config: a changed remote endpoint forces a full
// graph rebuild, anything else updates the graphs in place.
func (s *Session) modify(cfg any, sio SessionIO) error {
	if s.State() == StateClosed {
		return ErrNotReady
	}

	newRC, err := flowConfig(cfg)
	if err != nil {
		return err
	}
	oldRC, _ := flowConfig(s.currentConfig())

	if !oldRC.SameEndpoint(newRC) {
		// remote moved: tear down and rebuild against the new endpoint
		s.graphs.stop()
		s.graphs.closeSockets()
		s.quality.stopWatch()
		s.fsm.SetState(StateClosed)
		return s.open(cfg, sio)
	}

	s.storeConfig(cfg)
	var errs error
	for _, g := range []*pipeline.Graph{s.graphs.tx, s.graphs.rx, s.graphs.rtcp} {
		if g == nil {
			continue
		}
		if err := g.Update(cfg); err != nil {
			errs = err
		}
	}
	if errs != nil {
		return errs
	}
	return s.applyDirection(newRC.MediaDirection)
}

func flowConfig(cfg any) (config.RtpConfig, error) {
	switch c := cfg.(type) {
	case config.AudioConfig:
		return c.RtpConfig, nil
	case config.VideoConfig:
		return c.RtpConfig, nil
	case config.TextConfig:
		return c.RtpConfig, nil
	default:
		return config.RtpConfig{}, ErrInvalidParam
	}
}

func (s *Session) currentConfig() any {
	switch s.mediaType {
	case media.TypeAudio:
		return s.audioCfg
	case media.TypeVideo:
		return s.videoCfg
	default:
		return s.textCfg
	}
}

func (s *Session) storeConfig(cfg any) {
	switch c := cfg.(type) {
	case config.AudioConfig:
		s.audioCfg = c
	case config.VideoConfig:
		s.videoCfg = c
	case config.TextConfig:
		s.textCfg = c
	}
}

// close is safe on any state, including a half-opened session whose
// graphs were built but never started.
func (s *Session) close() {
	if s.quality != nil {
		s.quality.stopWatch()
	}
	if s.graphs != nil {
		s.graphs.stop()
		s.graphs.closeSockets()
	}
	if s.State() != StateClosed {
		fsmEvent(s.fsm, "close")
	}
}

// fsmEvent fires a transition, treating an already reached state as done.
func fsmEvent(f *fsm.FSM, name string) error {
	err := f.Event(context.Background(), name)
	if err == nil {
		return nil
	}
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	return err
}

func (s *Session) setThreshold(thr config.MediaQualityThreshold) {
	s.quality.setThreshold(thr)
	if s.graphs.videoBuf != nil && thr.RtpPacketLossDurationMillis > 0 && len(thr.RtpPacketLossRate) > 0 {
		s.graphs.videoBuf.SetLossMonitor(int64(thr.RtpPacketLossDurationMillis), int(thr.RtpPacketLossRate[0]))
	}
}

func (s *Session) sendDtmf(digit rune, durationMs int32) error {
	if s.graphs == nil || s.graphs.dtmf == nil {
		return ErrNotSupported
	}
	if s.State() != StateActive {
		return ErrNotReady
	}
	if !s.graphs.dtmf.SendDtmf(digit, durationMs) {
		return ErrInvalidParam
	}
	return nil
}

// sendVideoNAL feeds one encoded NAL unit from the external codec into
// the transmit graph.
func (s *Session) sendVideoNAL(nal []byte, timestamp uint32, marker bool, frame media.FrameType) error {
	if s.graphs == nil || s.graphs.videoPayEnc == nil {
		return ErrNotSupported
	}
	if s.State() != StateActive {
		return ErrNotReady
	}
	s.graphs.videoPayEnc.OnDataFromFrontNode(&media.Packet{
		Data:      nal,
		Timestamp: timestamp,
		Marker:    marker,
		Sub:       media.SubMedia,
		Frame:     frame,
		Valid:     true,
	})
	return nil
}

// sendText feeds one T.140 block into the transmit graph.
func (s *Session) sendText(text string, timestamp uint32) error {
	if s.graphs == nil || s.graphs.textPayEnc == nil {
		return ErrNotSupported
	}
	if s.State() != StateActive {
		return ErrNotReady
	}
	s.graphs.textPayEnc.OnDataFromFrontNode(&media.Packet{
		Data:      []byte(text),
		Timestamp: timestamp,
		Sub:       media.SubMedia,
		Valid:     true,
	})
	return nil
}

func (s *Session) sendHeaderExtensions(exts []config.RtpHeaderExtension) error {
	if s.graphs == nil || s.graphs.rtpEnc == nil {
		return ErrNotReady
	}
	s.graphs.rtpEnc.SetHeaderExtensions(exts)
	return nil
}

// OnSessionEvent implements rtp.EventHandler: protocol engine events are
// translated to client notifications.
func (s *Session) OnSessionEvent(ev rtp.Event, arg uint32) {
	switch ev {
	case rtp.EventRequestVideoIdrFrame:
		s.emit(EventRequestVideoIdrFrame, arg)
	case rtp.EventRequestVideoBitrateChange:
		s.emit(EventRequestVideoBitrateChange, arg)
	case rtp.EventRequestAudioCmr:
		s.emit(EventRequestAudioCmr, arg)
	case rtp.EventNotifyError:
		s.emit(EventNotifyError, arg)
	case rtp.EventByeReceived:
		s.log.Debug().Uint32("ssrc", arg).Msg("remote left the session")
	case rtp.EventSSRCCollision:
		s.log.Warn().Uint32("ssrc", arg).Msg("collision, new local SSRC rolled")
		// the old SSRC leaves with a BYE on the next compound
		if s.graphs != nil && s.graphs.rtcpEnc != nil {
			s.graphs.rtcpEnc.QueueFeedback(&rtcp.Goodbye{Sources: []uint32{arg}})
		}
	}
}

// onHeaderExtensions forwards received header extensions to the client.
func (s *Session) onHeaderExtensions(exts []config.RtpHeaderExtension) {
	if s.emitExts != nil {
		s.emitExts(exts)
	}
}

// OnCmr implements nodes.CmrSink: an inbound codec mode request is the
// encoder's business, which lives outside the engine.
func (s *Session) OnCmr(cmr uint8) {
	s.emit(EventRequestAudioCmr, uint32(cmr))
}

// OnRequestIDR implements jitter.VideoEvents: receive side frame loss
// asks the remote for a refresh and tells the client.
func (s *Session) OnRequestIDR() {
	if s.graphs.rtcpEnc != nil {
		remote := s.remoteSSRC()
		s.graphs.rtcpEnc.SendFeedbackNow(s.graphs.rtpSess.BuildPLI(remote))
	}
	s.emit(EventRequestVideoIdrFrame, 0)
}

// OnNack implements jitter.VideoEvents.
func (s *Session) OnNack(pid, blp uint16) {
	if s.graphs.rtcpEnc != nil {
		remote := s.remoteSSRC()
		s.graphs.rtcpEnc.QueueFeedback(s.graphs.rtpSess.BuildNack(remote, pid, blp))
	}
}

// OnPacketLossRate implements jitter.VideoEvents.
func (s *Session) OnPacketLossRate(percent int) {
	s.emit(EventPacketLoss, uint32(percent))
}

// OnVideoOrientation implements nodes.OrientationSink.
func (s *Session) OnVideoOrientation(orientation uint8) {
	s.log.Debug().Uint8("cvo", orientation).Msg("remote video orientation")
}

func (s *Session) remoteSSRC() uint32 {
	// single remote sender per session; take any tracked source
	sess := s.graphs.rtpSess
	if sess == nil {
		return 0
	}
	return sess.FirstRemoteSSRC()
}

func (s *Session) String() string {
	return fmt.Sprintf("session %d %s state=%s", s.id, s.mediaType, s.State())
}
