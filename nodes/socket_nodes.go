// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package nodes contains the concrete pipeline nodes: socket endpoints,
// RTP/RTCP framing, payload formats for AMR/EVS, AVC/HEVC and T.140, the
// DTMF generator and the audio source/player pair.
package nodes

import (
	"errors"
	"net"

	"github.com/goims/imsmedia/media"
	"github.com/goims/imsmedia/pipeline"
	"github.com/goims/imsmedia/transport"
)

var (
	errShortPayload = errors.New("payload too short")
	errBadFrameSize = errors.New("unrecognised frame size")
)

// SocketReaderNode owns the receive half of a socket: datagrams land on
// its input queue from the socket goroutine carrying their arrival time,
// and the scheduler drains them downstream.
type SocketReaderNode struct {
	pipeline.BaseNode
	sock transport.Socket
	sub  media.SubType
}

func NewSocketReaderNode(mt media.Type, sock transport.Socket, sub media.SubType) *SocketReaderNode {
	return &SocketReaderNode{
		BaseNode: pipeline.NewBaseNode("SocketReader", mt),
		sock:     sock,
		sub:      sub,
	}
}

func (n *SocketReaderNode) IsSourceNode() bool { return true }

func (n *SocketReaderNode) Start() error {
	if err := n.sock.Open(); err != nil {
		return err
	}
	n.sock.Listen(n)
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *SocketReaderNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

// OnReadDataFromSocket runs on the socket goroutine; it must only queue
// and wake.
func (n *SocketReaderNode) OnReadDataFromSocket(data []byte, addr *net.UDPAddr, arrival int64) {
	n.OnDataFromFrontNode(&media.Packet{
		Data:        data,
		Sub:         n.sub,
		ArrivalTime: arrival,
		Valid:       true,
	})
}

func (n *SocketReaderNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		n.SendDataToRearNode(p)
	}
}

// SocketWriterNode sends every inbound descriptor as one datagram. Send
// errors are logged and counted; the node keeps running after any of them.
type SocketWriterNode struct {
	pipeline.BaseNode
	sock transport.Socket

	SendErrors uint64
}

func NewSocketWriterNode(mt media.Type, sock transport.Socket) *SocketWriterNode {
	return &SocketWriterNode{
		BaseNode: pipeline.NewBaseNode("SocketWriter", mt),
		sock:     sock,
	}
}

func (n *SocketWriterNode) Start() error {
	if err := n.sock.Open(); err != nil {
		return err
	}
	n.SetState(pipeline.NodeRunning)
	return nil
}

func (n *SocketWriterNode) Stop() {
	n.ClearInput()
	n.SetState(pipeline.NodeStopped)
}

func (n *SocketWriterNode) ProcessData() {
	for p := n.PopInput(); p != nil; p = n.PopInput() {
		if _, err := n.sock.Send(p.Data); err != nil {
			n.SendErrors++
			n.Log.Debug().Err(err).Msg("send failed")
		}
	}
}
