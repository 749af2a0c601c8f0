// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package imsmedia

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/media"
)

type recordingCallback struct {
	NopCallback
	mu       sync.Mutex
	opened   []int
	failed   []int
	modified []int
	closed   []int
	events   []Event
	statuses []config.MediaQualityStatus
}

func (c *recordingCallback) OnOpenSuccess(id int) {
	c.mu.Lock()
	c.opened = append(c.opened, id)
	c.mu.Unlock()
}

func (c *recordingCallback) OnOpenFailure(id int, err error) {
	c.mu.Lock()
	c.failed = append(c.failed, id)
	c.mu.Unlock()
}

func (c *recordingCallback) OnModifyResponse(id int, err error) {
	c.mu.Lock()
	c.modified = append(c.modified, id)
	c.mu.Unlock()
}

func (c *recordingCallback) OnSessionClosed(id int) {
	c.mu.Lock()
	c.closed = append(c.closed, id)
	c.mu.Unlock()
}

func (c *recordingCallback) OnEvent(id int, ev Event, arg uint32) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *recordingCallback) openedIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.opened...)
}

func (c *recordingCallback) failedIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.failed...)
}

func (c *recordingCallback) closedIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closed...)
}

func (c *recordingCallback) modifiedIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.modified...)
}

func testAudioConfig(remotePort int32) config.AudioConfig {
	return config.AudioConfig{
		RtpConfig: config.RtpConfig{
			MediaDirection:   config.DirectionSendReceive,
			RemoteRtpAddress: "127.0.0.1",
			RemoteRtpPort:    remotePort,
			Rtcp: config.RtcpConfig{
				CanonicalName: "tester@local",
				IntervalSec:   1,
			},
			MaxMtuBytes: 1500,
		},
		PtimeMillis:             20,
		MaxPtimeMillis:          20,
		CodecType:               config.CodecPCMU,
		TxPayloadTypeNumber:     0,
		RxPayloadTypeNumber:     0,
		SamplingRateKHz:         8,
		DtmfTxPayloadTypeNumber: 101,
		DtmfSamplingRateKHz:     8,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestManagerOpenCloseLifecycle(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	m.OpenSession(1, testAudioConfig(40000), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "open response")
	assert.Equal(t, StateActive, m.SessionState(1))

	m.CloseSession(1)
	waitFor(t, func() bool { return len(cb.closedIDs()) == 1 }, "close response")
	assert.Equal(t, StateClosed, m.SessionState(1))
}

func TestManagerOpenBadConfig(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	cfg := testAudioConfig(40000)
	cfg.RemoteRtpAddress = "not-an-ip"
	m.OpenSession(7, cfg, SessionIO{})
	waitFor(t, func() bool { return len(cb.failedIDs()) == 1 }, "open failure")
	assert.Equal(t, StateClosed, m.SessionState(7))
}

func TestManagerDuplicateOpenFails(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	m.OpenSession(1, testAudioConfig(40002), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "first open")

	m.OpenSession(1, testAudioConfig(40002), SessionIO{})
	waitFor(t, func() bool { return len(cb.failedIDs()) == 1 }, "duplicate rejected")
}

func TestModifyInPlaceVsRebuild(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	m.OpenSession(1, testAudioConfig(40004), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "open")

	// same endpoint: in place update
	cfg := testAudioConfig(40004)
	cfg.Dscp = 34
	m.ModifySession(1, cfg, SessionIO{})
	waitFor(t, func() bool { return len(cb.modifiedIDs()) == 1 }, "modify response")
	assert.Equal(t, StateActive, m.SessionState(1))

	// changed endpoint: rebuild
	cfg = testAudioConfig(40006)
	m.ModifySession(1, cfg, SessionIO{})
	waitFor(t, func() bool { return len(cb.modifiedIDs()) == 2 }, "rebuild response")
	assert.Equal(t, StateActive, m.SessionState(1))

	m.CloseSession(1)
	waitFor(t, func() bool { return len(cb.closedIDs()) == 1 }, "close")
}

func TestModifyInactiveSuspends(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	m.OpenSession(1, testAudioConfig(40008), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "open")

	cfg := testAudioConfig(40008)
	cfg.MediaDirection = config.DirectionInactive
	m.ModifySession(1, cfg, SessionIO{})
	waitFor(t, func() bool { return m.SessionState(1) == StateSuspended }, "suspended")

	cfg.MediaDirection = config.DirectionSendReceive
	m.ModifySession(1, cfg, SessionIO{})
	waitFor(t, func() bool { return m.SessionState(1) == StateActive }, "reactivated")
}

func TestDispatchParcels(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	err := m.Dispatch(Parcel{
		Op:        OpOpenSession,
		SessionID: 3,
		Payload: map[string]any{
			"mediaDirection":   int(config.DirectionSendReceive),
			"remoteRtpAddress": "127.0.0.1",
			"remoteRtpPort":    40010,
			"codecType":        int(config.CodecPCMU),
			"samplingRateKHz":  8,
			"ptimeMillis":      20,
		},
	})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "parcel open")

	require.NoError(t, m.Dispatch(Parcel{Op: OpCloseSession, SessionID: 3}))
	waitFor(t, func() bool { return len(cb.closedIDs()) == 1 }, "parcel close")

	err = m.Dispatch(Parcel{Op: "bogus"})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestAudioEndToEndLoopback(t *testing.T) {
	// two managers talking to each other over loopback: A transmits a
	// G.711 tone from a PCM reader, B renders into a buffer
	cbA := &recordingCallback{}
	cbB := &recordingCallback{}
	mA := NewManager(media.TypeAudio, cbA)
	mB := NewManager(media.TypeAudio, cbB)
	defer mA.Shutdown()
	defer mB.Shutdown()

	laddrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 41000}
	laddrB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 41002}

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 8*20*200) // 200 frames
	var rendered syncBuffer

	cfgA := testAudioConfig(int32(laddrB.Port))
	cfgB := testAudioConfig(int32(laddrA.Port))

	mA.OpenSessionConns(1, cfgA, SessionIO{PCMSource: bytes.NewReader(pcm)}, laddrA, nil, nil)
	mB.OpenSessionConns(2, cfgB, SessionIO{PCMSink: &rendered}, laddrB, nil, nil)

	waitFor(t, func() bool { return len(cbA.openedIDs()) == 1 && len(cbB.openedIDs()) == 1 }, "both open")
	waitFor(t, func() bool { return rendered.Len() > 0 }, "media rendered at B")

	mA.CloseSession(1)
	mB.CloseSession(2)
	waitFor(t, func() bool { return len(cbA.closedIDs()) == 1 && len(cbB.closedIDs()) == 1 }, "both closed")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func testVideoConfig(remotePort int32) config.VideoConfig {
	return config.VideoConfig{
		RtpConfig: config.RtpConfig{
			MediaDirection:   config.DirectionSendReceive,
			RemoteRtpAddress: "127.0.0.1",
			RemoteRtpPort:    remotePort,
			MaxMtuBytes:      1300,
		},
		CodecType:           config.CodecAVC,
		TxPayloadTypeNumber: 99,
		RxPayloadTypeNumber: 99,
		Framerate:           30,
		Bitrate:             512,
		CvoValue:            4,
	}
}

func TestVideoSessionOpenAndInject(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeVideo, cb)
	defer m.Shutdown()

	m.OpenSession(1, testVideoConfig(40020), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "video open")
	assert.Equal(t, StateActive, m.SessionState(1))

	// a small IDR with parameter sets ahead of it
	m.SendVideoNAL(1, []byte{0x67, 0x42, 0xC0, 0x0C}, 3000, false, media.FrameConfig)
	m.SendVideoNAL(1, []byte{0x68, 0xCE, 0x3C, 0x80}, 3000, false, media.FrameConfig)
	m.SendVideoNAL(1, append([]byte{0x65}, bytes.Repeat([]byte{0x11}, 64)...), 3000, true, media.FrameIDR)

	time.Sleep(100 * time.Millisecond)
	cb.mu.Lock()
	for _, ev := range cb.events {
		assert.NotEqual(t, EventNotifyError, ev)
	}
	cb.mu.Unlock()

	m.CloseSession(1)
	waitFor(t, func() bool { return len(cb.closedIDs()) == 1 }, "video close")
}

func testTextConfig(remotePort int32) config.TextConfig {
	return config.TextConfig{
		RtpConfig: config.RtpConfig{
			MediaDirection:   config.DirectionSendReceive,
			RemoteRtpAddress: "127.0.0.1",
			RemoteRtpPort:    remotePort,
			MaxMtuBytes:      1500,
		},
		CodecType:           config.CodecT140,
		TxPayloadTypeNumber: 111,
		RxPayloadTypeNumber: 111,
		RedundantPayload:    112,
		RedundantLevel:      2,
	}
}

func TestTextSessionOpenAndSend(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeText, cb)
	defer m.Shutdown()

	m.OpenSession(1, testTextConfig(40022), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "text open")

	m.SendText(1, "hello", 1000)
	m.SendText(1, " rtt", 1300)

	time.Sleep(100 * time.Millisecond)
	m.CloseSession(1)
	waitFor(t, func() bool { return len(cb.closedIDs()) == 1 }, "text close")
}

func TestSendDtmfRequiresActive(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	m.OpenSession(1, testAudioConfig(40012), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "open")

	m.SendDtmf(1, '5', 100)
	// no error event: the digit was accepted
	time.Sleep(50 * time.Millisecond)
	cb.mu.Lock()
	for _, ev := range cb.events {
		assert.NotEqual(t, EventNotifyError, ev)
	}
	cb.mu.Unlock()
}

func TestThresholdDelivery(t *testing.T) {
	cb := &recordingCallback{}
	m := NewManager(media.TypeAudio, cb)
	defer m.Shutdown()

	m.OpenSession(1, testAudioConfig(40014), SessionIO{})
	waitFor(t, func() bool { return len(cb.openedIDs()) == 1 }, "open")

	// a tight RTP inactivity timer fires quickly on an idle session
	m.SetMediaQualityThreshold(1, config.MediaQualityThreshold{
		RtpInactivityTimerMillis:  []int32{200},
		RtpHysteresisTimeInMillis: 10000,
	})

	waitFor(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		for _, ev := range cb.events {
			if ev == EventMediaInactivityRTP {
				return true
			}
		}
		return false
	}, "inactivity event")
}
