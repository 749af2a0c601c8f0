// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package rtp implements the per flow RTP/RTCP protocol engine: sender and
// receiver records with RFC 3550 appendix A statistics, RTCP bandwidth and
// timer computation, compound packet assembly/parsing and feedback messages.
// Wire level packet codecs come from pion/rtp and pion/rtcp; this package
// owns the session state around them.
package rtp

import "errors"

var (
	ErrInvalidParams    = errors.New("rtp: invalid params")
	ErrMemoryFail       = errors.New("rtp: memory fail")
	ErrMTUExceeded      = errors.New("rtp: mtu exceeded")
	ErrDecode           = errors.New("rtp: decode error")
	ErrOwnSSRCCollision = errors.New("rtp: own ssrc collision")
	ErrNoRTPPacket      = errors.New("rtp: no rtp packet")
	ErrByeReceived      = errors.New("rtp: bye received")
)
