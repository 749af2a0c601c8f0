// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAudio() AudioConfig {
	return AudioConfig{
		RtpConfig: RtpConfig{
			MediaDirection:   DirectionSendReceive,
			RemoteRtpAddress: "192.0.2.10",
			RemoteRtpPort:    20000,
			Rtcp: RtcpConfig{
				CanonicalName: "user@example",
				TransmitPort:  20001,
				IntervalSec:   5,
			},
			Dscp:        46,
			MaxMtuBytes: 1500,
		},
		PtimeMillis:         20,
		MaxPtimeMillis:      240,
		CodecType:           CodecAMRWB,
		TxPayloadTypeNumber: 97,
		RxPayloadTypeNumber: 97,
		SamplingRateKHz:     16,
		Amr:                 AmrParams{AmrMode: 8, OctetAligned: true},
	}
}

func TestAudioConfigEquality(t *testing.T) {
	a := sampleAudio()
	b := sampleAudio()

	// reflexive, symmetric
	assert.True(t, a.Equal(a))
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	// transitive through a third copy
	c := sampleAudio()
	assert.True(t, b.Equal(c))
	assert.True(t, a.Equal(c))

	b.Amr.OctetAligned = false
	assert.False(t, a.Equal(b))
}

func TestAssignmentYieldsEquality(t *testing.T) {
	a := sampleAudio()
	b := a
	assert.True(t, a.Equal(b))

	amr := a.Amr
	assert.True(t, amr.Equal(a.Amr))

	evs := EvsParams{EvsMode: 5, ChannelAwareMode: 3}
	evs2 := evs
	assert.True(t, evs.Equal(evs2))
}

func TestSameEndpoint(t *testing.T) {
	a := sampleAudio()
	b := sampleAudio()
	b.PtimeMillis = 40
	assert.True(t, a.SameEndpoint(b.RtpConfig))

	b.RemoteRtpPort = 30000
	assert.False(t, a.SameEndpoint(b.RtpConfig))
}

func TestDecodeParcelRoundtrip(t *testing.T) {
	parcel := map[string]any{
		"mediaDirection":   3,
		"remoteRtpAddress": "198.51.100.7",
		"remoteRtpPort":    14000,
		"codecType":        int(CodecEVS),
		"samplingRateKHz":  32,
		"ptimeMillis":      "20", // weakly typed on purpose
		"rtcp": map[string]any{
			"canonicalName": "term4",
			"transmitPort":  14001,
		},
		"evs": map[string]any{
			"evsMode":          7,
			"channelAwareMode": 3,
		},
	}

	var cfg AudioConfig
	require.NoError(t, DecodeParcel(parcel, &cfg))

	assert.Equal(t, DirectionSendReceive, cfg.MediaDirection)
	assert.Equal(t, "198.51.100.7", cfg.RemoteRtpAddress)
	assert.Equal(t, int32(14000), cfg.RemoteRtpPort)
	assert.Equal(t, CodecEVS, cfg.CodecType)
	assert.Equal(t, int32(20), cfg.PtimeMillis)
	assert.Equal(t, "term4", cfg.Rtcp.CanonicalName)
	assert.Equal(t, int8(3), cfg.Evs.ChannelAwareMode)
}

func TestThresholdEquality(t *testing.T) {
	a := MediaQualityThreshold{
		RtpInactivityTimerMillis:  []int32{5000, 10000},
		RtcpInactivityTimerMillis: 5000,
		RtpHysteresisTimeInMillis: 3000,
		RtpPacketLossRate:         []int32{1, 3},
	}
	b := a
	b.RtpInactivityTimerMillis = append([]int32(nil), a.RtpInactivityTimerMillis...)
	assert.True(t, a.Equal(b))

	b.RtpPacketLossRate = []int32{1, 5}
	assert.False(t, a.Equal(b))
}

func TestHeaderExtensionEquality(t *testing.T) {
	a := RtpHeaderExtension{LocalID: 4, ExtensionData: []byte{0x01}}
	b := RtpHeaderExtension{LocalID: 4, ExtensionData: []byte{0x01}}
	assert.True(t, a.Equal(b))
	b.ExtensionData = []byte{0x02}
	assert.False(t, a.Equal(b))
}
