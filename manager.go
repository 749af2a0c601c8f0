// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package imsmedia

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
)

// Parcel is the opaque message surface of the signalling IPC: an
// operation tag, the target session and a loosely typed payload that is
// decoded into the media type's config object.
type Parcel struct {
	Op        string
	SessionID int
	Payload   any
}

// Parcel operation tags.
const (
	OpOpenSession     = "openSession"
	OpCloseSession    = "closeSession"
	OpModifySession   = "modifySession"
	OpSetThreshold    = "setMediaQualityThreshold"
	OpSendDtmf        = "sendDtmf"
	OpHeaderExtension = "sendHeaderExtension"
)

// Manager owns every session of one media type. Requests run on a single
// request goroutine so session state never sees concurrent mutation;
// client callbacks run on a separate response goroutine so a client
// calling back into the manager cannot deadlock the stack.
type Manager struct {
	mediaType media.Type
	cb        SessionCallback
	metrics   *managerMetrics

	mu       sync.Mutex
	sessions map[int]*Session

	requests  chan func()
	responses chan func()
	quit      chan struct{}
	wg        sync.WaitGroup

	log zerolog.Logger
}

func NewManager(mt media.Type, cb SessionCallback) *Manager {
	m := &Manager{
		mediaType: mt,
		cb:        cb,
		metrics:   newManagerMetrics(mt.String()),
		sessions:  make(map[int]*Session),
		requests:  make(chan func(), 64),
		responses: make(chan func(), 64),
		quit:      make(chan struct{}),
		log:       log.With().Str("caller", "manager").Str("media", mt.String()).Logger(),
	}

	m.wg.Add(2)
	go m.worker(m.requests)
	go m.worker(m.responses)
	return m
}

// Metrics exposes the manager's prometheus registry.
func (m *Manager) Metrics() *managerMetrics { return m.metrics }

func (m *Manager) worker(ch chan func()) {
	defer m.wg.Done()
	for {
		select {
		case <-m.quit:
			// drain what is already queued
			for {
				select {
				case fn := <-ch:
					fn()
				default:
					return
				}
			}
		case fn := <-ch:
			fn()
		}
	}
}

// Shutdown closes every session and stops both workers.
func (m *Manager) Shutdown() {
	done := make(chan struct{})
	m.request(func() {
		m.mu.Lock()
		ids := make([]int, 0, len(m.sessions))
		for id := range m.sessions {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		for _, id := range ids {
			m.closeLocked(id)
		}
		close(done)
	})
	<-done
	close(m.quit)
	m.wg.Wait()
}

func (m *Manager) request(fn func()) {
	select {
	case m.requests <- fn:
	case <-m.quit:
	}
}

func (m *Manager) respond(fn func()) {
	select {
	case m.responses <- fn:
	case <-m.quit:
	}
}

// SessionState reports a session's state, or closed for unknown ids.
func (m *Manager) SessionState(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.State()
	}
	return StateClosed
}

// OpenSessionConns opens a session over pre bound connections, the way
// the platform hands sockets to the engine. Pass nil conns to let the
// engine bind its own ports on laddr.
func (m *Manager) OpenSessionConns(id int, cfg any, sio SessionIO, laddr *net.UDPAddr, rtpConn, rtcpConn net.PacketConn) {
	m.request(func() {
		m.mu.Lock()
		if _, exists := m.sessions[id]; exists {
			m.mu.Unlock()
			m.respond(func() { m.cb.OnOpenFailure(id, ErrInvalidParam) })
			return
		}

		s := &Session{
			id:        id,
			mediaType: m.mediaType,
			fsm:       newSessionFSM(),
			rtpConn:   rtpConn,
			rtcpConn:  rtcpConn,
			log:       m.log.With().Int("session", id).Logger(),
		}
		if laddr != nil {
			s.localRTP = laddr
			s.localRTCP = &net.UDPAddr{IP: laddr.IP, Port: laddr.Port + 1, Zone: laddr.Zone}
		} else {
			s.localRTP = &net.UDPAddr{IP: net.IPv4zero, Port: 0}
			s.localRTCP = &net.UDPAddr{IP: net.IPv4zero, Port: 0}
		}
		s.emit = func(ev Event, arg uint32) {
			m.respond(func() { m.cb.OnEvent(id, ev, arg) })
		}
		s.emitExts = func(exts []config.RtpHeaderExtension) {
			m.respond(func() { m.cb.OnHeaderExtensionReceived(id, exts) })
		}
		s.quality = newQualityMonitor(strconv.Itoa(id), m.metrics,
			s.emit,
			func(st config.MediaQualityStatus) {
				m.respond(func() { m.cb.OnMediaQualityStatusChanged(id, st) })
			})

		m.sessions[id] = s
		m.mu.Unlock()

		if err := s.open(cfg, sio); err != nil {
			s.close()
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
			m.respond(func() { m.cb.OnOpenFailure(id, err) })
			return
		}
		m.respond(func() { m.cb.OnOpenSuccess(id) })
	})
}

// OpenSession opens a session that binds its own ephemeral ports.
func (m *Manager) OpenSession(id int, cfg any, sio SessionIO) {
	m.OpenSessionConns(id, cfg, sio, nil, nil, nil)
}

// CloseSession tears a session down and releases its sockets.
func (m *Manager) CloseSession(id int) {
	m.request(func() { m.closeLocked(id) })
}

func (m *Manager) closeLocked(id int) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	m.respond(func() { m.cb.OnSessionClosed(id) })
}

// ModifySession applies a config change to a running session.
func (m *Manager) ModifySession(id int, cfg any, sio SessionIO) {
	m.request(func() {
		s := m.lookup(id)
		if s == nil {
			m.respond(func() { m.cb.OnModifyResponse(id, ErrInvalidParam) })
			return
		}
		err := s.modify(cfg, sio)
		m.respond(func() { m.cb.OnModifyResponse(id, err) })
	})
}

// SetMediaQualityThreshold delivers watchdog thresholds to the session.
func (m *Manager) SetMediaQualityThreshold(id int, thr config.MediaQualityThreshold) {
	m.request(func() {
		if s := m.lookup(id); s != nil {
			s.setThreshold(thr)
		}
	})
}

// SendDtmf queues a digit on the session's DTMF branch.
func (m *Manager) SendDtmf(id int, digit rune, durationMs int32) {
	m.request(func() {
		if s := m.lookup(id); s != nil {
			if err := s.sendDtmf(digit, durationMs); err != nil {
				m.respond(func() { m.cb.OnEvent(id, EventNotifyError, 0) })
			}
		}
	})
}

// SendVideoNAL injects one encoded NAL unit from the external video
// codec into the session's transmit graph.
func (m *Manager) SendVideoNAL(id int, nal []byte, timestamp uint32, marker bool, frame media.FrameType) {
	m.request(func() {
		if s := m.lookup(id); s != nil {
			s.sendVideoNAL(nal, timestamp, marker, frame)
		}
	})
}

// SendText injects one T.140 block into the session's transmit graph.
func (m *Manager) SendText(id int, text string, timestamp uint32) {
	m.request(func() {
		if s := m.lookup(id); s != nil {
			s.sendText(text, timestamp)
		}
	})
}

// SendHeaderExtension injects header extensions on outgoing packets.
func (m *Manager) SendHeaderExtension(id int, exts []config.RtpHeaderExtension) {
	m.request(func() {
		if s := m.lookup(id); s != nil {
			s.sendHeaderExtensions(exts)
		}
	})
}

func (m *Manager) lookup(id int) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Dispatch routes a raw signalling parcel: the payload map is decoded
// into this manager's config type before the operation runs.
func (m *Manager) Dispatch(p Parcel) error {
	switch p.Op {
	case OpOpenSession, OpModifySession:
		cfg, err := m.decodeConfig(p.Payload)
		if err != nil {
			return ErrInvalidParam
		}
		if p.Op == OpOpenSession {
			m.OpenSession(p.SessionID, cfg, SessionIO{})
		} else {
			m.ModifySession(p.SessionID, cfg, SessionIO{})
		}
		return nil

	case OpCloseSession:
		m.CloseSession(p.SessionID)
		return nil

	case OpSetThreshold:
		var thr config.MediaQualityThreshold
		if err := config.DecodeParcel(p.Payload, &thr); err != nil {
			return ErrInvalidParam
		}
		m.SetMediaQualityThreshold(p.SessionID, thr)
		return nil

	case OpSendDtmf:
		var req struct {
			Digit    string `mapstructure:"digit"`
			Duration int32  `mapstructure:"duration"`
		}
		if err := config.DecodeParcel(p.Payload, &req); err != nil || req.Digit == "" {
			return ErrInvalidParam
		}
		m.SendDtmf(p.SessionID, rune(req.Digit[0]), req.Duration)
		return nil

	case OpHeaderExtension:
		var exts []config.RtpHeaderExtension
		if err := config.DecodeParcel(p.Payload, &exts); err != nil {
			return ErrInvalidParam
		}
		m.SendHeaderExtension(p.SessionID, exts)
		return nil
	}
	return fmt.Errorf("%w: op %q", ErrNotSupported, p.Op)
}

func (m *Manager) decodeConfig(payload any) (any, error) {
	switch m.mediaType {
	case media.TypeAudio:
		var c config.AudioConfig
		err := config.DecodeParcel(payload, &c)
		return c, err
	case media.TypeVideo:
		var c config.VideoConfig
		err := config.DecodeParcel(payload, &c)
		return c, err
	default:
		var c config.TextConfig
		err := config.DecodeParcel(payload, &c)
		return c, err
	}
}
