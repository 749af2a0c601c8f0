// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureListener struct {
	got chan []byte
}

func (l *captureListener) OnReadDataFromSocket(data []byte, addr *net.UDPAddr, arrival int64) {
	l.got <- data
}

func TestUDPSocketSendReceive(t *testing.T) {
	a := NewUDPSocket(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, a.Open())
	defer a.Close()

	b := NewUDPSocket(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, b.Open())
	defer b.Close()

	a.SetPeerEndpoint(b.LocalAddr())

	l := &captureListener{got: make(chan []byte, 1)}
	b.Listen(l)

	payload := []byte{0x80, 0x00, 0x01, 0x02}
	n, err := a.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	select {
	case got := <-l.got:
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not dispatched to listener")
	}
}

func TestUDPSocketSendWithoutPeer(t *testing.T) {
	s := NewUDPSocket(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, s.Open())
	defer s.Close()

	_, err := s.Send([]byte{1})
	assert.Error(t, err)
}

func TestUDPSocketOptions(t *testing.T) {
	s := NewUDPSocket(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, s.Open())
	defer s.Close()

	// EF voice marking and a telephony TTL
	assert.NoError(t, s.SetSocketOpt(OptDSCP, 46))
	assert.NoError(t, s.SetSocketOpt(OptTTL, 64))
}

func TestUDPSocketAdoptConn(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	s := NewUDPSocket(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	s.OpenWithConn(conn)
	defer s.Close()

	assert.Equal(t, conn.LocalAddr().String(), s.LocalAddr().String())
}
