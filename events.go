// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package imsmedia is the session layer of the IMS media engine: per media
// managers that own sessions, dispatch signalling parcels on a request
// goroutine, run stream graphs over pre bound sockets and report media
// quality back on a response goroutine.
package imsmedia

import "errors"

// Control path results, returned to the request handler which converts
// them into response parcels.
var (
	ErrInvalidParam    = errors.New("imsmedia: invalid param")
	ErrNotReady        = errors.New("imsmedia: not ready")
	ErrNoMemory        = errors.New("imsmedia: no memory")
	ErrNoResources     = errors.New("imsmedia: no resources")
	ErrPortUnavailable = errors.New("imsmedia: port unavailable")
	ErrNotSupported    = errors.New("imsmedia: not supported")
)

// Event is an asynchronous stack notification.
type Event int

const (
	EventNotifyError Event = iota
	EventMediaInactivityRTP
	EventMediaInactivityRTCP
	EventPacketLoss
	EventRequestVideoIdrFrame
	EventRequestVideoBitrateChange
	EventRequestAudioCmr
	EventFirstMediaPacketReceived
)

func (e Event) String() string {
	switch e {
	case EventNotifyError:
		return "notifyError"
	case EventMediaInactivityRTP:
		return "rtpInactivity"
	case EventMediaInactivityRTCP:
		return "rtcpInactivity"
	case EventPacketLoss:
		return "packetLoss"
	case EventRequestVideoIdrFrame:
		return "requestIdr"
	case EventRequestVideoBitrateChange:
		return "requestBitrateChange"
	case EventRequestAudioCmr:
		return "requestCmr"
	case EventFirstMediaPacketReceived:
		return "firstPacket"
	}
	return "unknown"
}
