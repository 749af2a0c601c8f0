// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package transport wraps the pre-bound UDP sockets a media flow runs on.
// Incoming datagrams are dispatched to a listener from the socket reader
// goroutine; the listener must not block and is expected to push into a
// data queue and wake its scheduler.
package transport

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goims/imsmedia/media"
)

// SocketOpt selects a per socket option for SetSocketOpt.
type SocketOpt int

const (
	// OptDSCP sets the differentiated services code point (6 bits).
	OptDSCP SocketOpt = iota
	// OptTTL sets the unicast hop limit.
	OptTTL
)

// Listener receives datagrams on the socket reader goroutine.
type Listener interface {
	OnReadDataFromSocket(data []byte, addr *net.UDPAddr, arrival int64)
}

// ErrorHandler is notified when the reader goroutine terminates on a fatal
// socket error.
type ErrorHandler func(err error)

// Socket is the UDP send/receive surface a socket node owns.
type Socket interface {
	Open() error
	// OpenWithConn adopts an already bound connection (pre-provisioned fd).
	OpenWithConn(conn net.PacketConn)
	SetPeerEndpoint(addr *net.UDPAddr)
	SetSocketOpt(opt SocketOpt, value int) error
	Listen(l Listener)
	Send(data []byte) (int, error)
	LocalAddr() *net.UDPAddr
	Close() error
}

// UDPSocket binds a local UDP port and serves one reader goroutine.
type UDPSocket struct {
	Laddr net.UDPAddr

	conn    net.PacketConn
	peer    *net.UDPAddr
	onError ErrorHandler

	mu        sync.Mutex
	listener  Listener
	listening bool

	closed chan struct{}
	log    zerolog.Logger
}

func NewUDPSocket(laddr *net.UDPAddr) *UDPSocket {
	return &UDPSocket{
		Laddr:  *laddr,
		closed: make(chan struct{}),
		log:    log.With().Str("caller", "socket").Str("laddr", laddr.String()).Logger(),
	}
}

// OnError registers the fatal error handler. Must be set before Listen.
func (s *UDPSocket) OnError(h ErrorHandler) {
	s.onError = h
}

func (s *UDPSocket) Open() error {
	if s.conn != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp", &s.Laddr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.Laddr = *conn.LocalAddr().(*net.UDPAddr)
	return nil
}

func (s *UDPSocket) OpenWithConn(conn net.PacketConn) {
	s.conn = conn
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		s.Laddr = *a
	}
}

func (s *UDPSocket) SetPeerEndpoint(addr *net.UDPAddr) {
	s.peer = addr
}

// SetSocketOpt applies DSCP or TTL on the underlying socket. The DSCP value
// is shifted into the TOS/TCLASS field.
func (s *UDPSocket) SetSocketOpt(opt SocketOpt, value int) error {
	udp, ok := s.conn.(*net.UDPConn)
	if !ok {
		return errors.New("socket options require a UDP connection")
	}

	raw, err := udp.SyscallConn()
	if err != nil {
		return err
	}

	var optErr error
	err = raw.Control(func(fd uintptr) {
		switch opt {
		case OptDSCP:
			optErr = setSockOptDSCP(int(fd), value)
		case OptTTL:
			optErr = setSockOptTTL(int(fd), value)
		default:
			optErr = errors.New("unknown socket option")
		}
	})
	if err != nil {
		return err
	}
	return optErr
}

// Listen installs l and starts the reader goroutine. Calling it again
// swaps the listener without spawning a second reader.
func (s *UDPSocket) Listen(l Listener) {
	s.mu.Lock()
	s.listener = l
	already := s.listening
	s.listening = true
	s.mu.Unlock()
	if !already {
		go s.readLoop()
	}
}

func (s *UDPSocket) currentListener() Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

func (s *UDPSocket) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if e, ok := err.(net.Error); ok && e.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("socket read failed")
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		addr, _ := from.(*net.UDPAddr)
		if l := s.currentListener(); l != nil {
			l.OnReadDataFromSocket(data, addr, media.NowMillis())
		}
	}
}

// Send writes one datagram to the peer endpoint, retrying transient EINTR.
func (s *UDPSocket) Send(data []byte) (int, error) {
	if s.peer == nil {
		return 0, errors.New("peer endpoint not set")
	}
	for {
		n, err := s.conn.WriteTo(data, s.peer)
		if err != nil && errors.Is(err, syscall.EINTR) {
			continue
		}
		return n, err
	}
}

func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	return &s.Laddr
}

func (s *UDPSocket) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	if s.conn == nil {
		return nil
	}
	// Give an in flight read a chance to finish
	if udp, ok := s.conn.(*net.UDPConn); ok {
		udp.SetReadDeadline(time.Now())
	}
	return s.conn.Close()
}
