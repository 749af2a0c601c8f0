// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package imsmedia

import "github.com/goims/imsmedia/config"

// SessionCallback is the response surface toward the signalling client.
// All methods are invoked on the manager's response goroutine, never from
// the data path, so implementations may call back into the manager.
type SessionCallback interface {
	OnOpenSuccess(sessionID int)
	OnOpenFailure(sessionID int, err error)
	OnModifyResponse(sessionID int, err error)
	OnSessionClosed(sessionID int)

	OnHeaderExtensionReceived(sessionID int, exts []config.RtpHeaderExtension)
	OnMediaQualityStatusChanged(sessionID int, status config.MediaQualityStatus)

	// OnEvent carries data path notifications: inactivity watchdogs,
	// packet loss, keyframe and bitrate requests.
	OnEvent(sessionID int, ev Event, arg uint32)
}

// NopCallback is a SessionCallback that ignores everything; embed it when
// only a few notifications matter.
type NopCallback struct{}

func (NopCallback) OnOpenSuccess(int)                                          {}
func (NopCallback) OnOpenFailure(int, error)                                   {}
func (NopCallback) OnModifyResponse(int, error)                                {}
func (NopCallback) OnSessionClosed(int)                                        {}
func (NopCallback) OnHeaderExtensionReceived(int, []config.RtpHeaderExtension) {}
func (NopCallback) OnMediaQualityStatusChanged(int, config.MediaQualityStatus) {}
func (NopCallback) OnEvent(int, Event, uint32)                                 {}
