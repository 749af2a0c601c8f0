// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package config holds the session parameter value objects delivered by
// the signalling layer. Parcels arrive as loosely typed maps and are
// decoded with mapstructure; equality drives graph reuse decisions.
package config

import (
	"slices"

	"github.com/mitchellh/mapstructure"
)

// MediaDirection is the negotiated flow direction.
type MediaDirection int

const (
	DirectionNoFlow MediaDirection = iota
	DirectionSendOnly
	DirectionReceiveOnly
	DirectionSendReceive
	DirectionInactive
)

// CodecType enumerates the codecs the engine negotiates around.
type CodecType int

const (
	CodecNone CodecType = iota
	CodecAMR
	CodecAMRWB
	CodecEVS
	CodecPCMU
	CodecPCMA
	CodecAVC
	CodecHEVC
	CodecT140
)

// AmrParams carries the AMR/AMR-WB negotiation outcome.
type AmrParams struct {
	AmrMode             int32 `mapstructure:"amrMode"`
	OctetAligned        bool  `mapstructure:"octetAligned"`
	MaxRedundancyMillis int32 `mapstructure:"maxRedundancyMillis"`
}

func (p AmrParams) Equal(o AmrParams) bool { return p == o }

// EvsParams carries the EVS negotiation outcome (3GPP TS 26.445 annex A).
type EvsParams struct {
	EvsBandwidth          int32 `mapstructure:"evsBandwidth"`
	EvsMode               int32 `mapstructure:"evsMode"`
	ChannelAwareMode      int8  `mapstructure:"channelAwareMode"`
	UseHeaderFullOnlyOnTx bool  `mapstructure:"useHeaderFullOnlyOnTx"`
	UseHeaderFullOnlyOnRx bool  `mapstructure:"useHeaderFullOnlyOnRx"`
	CodecModeRequest      int8  `mapstructure:"codecModeRequest"`
}

func (p EvsParams) Equal(o EvsParams) bool { return p == o }

// RtcpConfig describes the RTCP leg of a flow.
type RtcpConfig struct {
	CanonicalName    string `mapstructure:"canonicalName"`
	TransmitPort     int32  `mapstructure:"transmitPort"`
	IntervalSec      int32  `mapstructure:"intervalSec"`
	RtcpXrBlockTypes int32  `mapstructure:"rtcpXrBlockTypes"`
}

func (c RtcpConfig) Equal(o RtcpConfig) bool { return c == o }

// RtpConfig is the common flow description every media type shares.
type RtpConfig struct {
	MediaDirection   MediaDirection `mapstructure:"mediaDirection"`
	RemoteRtpAddress string         `mapstructure:"remoteRtpAddress"`
	RemoteRtpPort    int32          `mapstructure:"remoteRtpPort"`
	Rtcp             RtcpConfig     `mapstructure:"rtcp"`
	Dscp             int32          `mapstructure:"dscp"`
	MaxMtuBytes      int32          `mapstructure:"maxMtuBytes"`
}

// SameEndpoint reports whether the remote address and port match; the
// session keeps the existing graph in that case.
func (c RtpConfig) SameEndpoint(o RtpConfig) bool {
	return c.RemoteRtpAddress == o.RemoteRtpAddress && c.RemoteRtpPort == o.RemoteRtpPort
}

// AudioConfig is the full audio session parameter set.
type AudioConfig struct {
	RtpConfig               `mapstructure:",squash"`
	PtimeMillis             int32     `mapstructure:"ptimeMillis"`
	MaxPtimeMillis          int32     `mapstructure:"maxPtimeMillis"`
	DtxEnabled              bool      `mapstructure:"dtxEnabled"`
	CodecType               CodecType `mapstructure:"codecType"`
	TxPayloadTypeNumber     int32     `mapstructure:"txPayloadTypeNumber"`
	RxPayloadTypeNumber     int32     `mapstructure:"rxPayloadTypeNumber"`
	SamplingRateKHz         int32     `mapstructure:"samplingRateKHz"`
	DtmfTxPayloadTypeNumber int32     `mapstructure:"dtmfTxPayloadTypeNumber"`
	DtmfRxPayloadTypeNumber int32     `mapstructure:"dtmfRxPayloadTypeNumber"`
	DtmfSamplingRateKHz     int32     `mapstructure:"dtmfSamplingRateKHz"`
	Amr                     AmrParams `mapstructure:"amr"`
	Evs                     EvsParams `mapstructure:"evs"`
}

func (c AudioConfig) Equal(o AudioConfig) bool { return c == o }

// VideoConfig is the full video session parameter set.
type VideoConfig struct {
	RtpConfig             `mapstructure:",squash"`
	CodecType             CodecType `mapstructure:"codecType"`
	TxPayloadTypeNumber   int32     `mapstructure:"txPayloadTypeNumber"`
	RxPayloadTypeNumber   int32     `mapstructure:"rxPayloadTypeNumber"`
	SamplingRateKHz       int32     `mapstructure:"samplingRateKHz"`
	VideoMode             int32     `mapstructure:"videoMode"`
	Framerate             int32     `mapstructure:"framerate"`
	Bitrate               int32     `mapstructure:"bitrate"`
	CvoValue              int32     `mapstructure:"cvoValue"`
	DeviceOrientation     int32     `mapstructure:"deviceOrientationDegree"`
	ResolutionWidth       int32     `mapstructure:"resolutionWidth"`
	ResolutionHeight      int32     `mapstructure:"resolutionHeight"`
	IntraFrameIntervalSec int32     `mapstructure:"intraFrameIntervalSec"`
	PacketizationMode     int32     `mapstructure:"packetizationMode"`
}

func (c VideoConfig) Equal(o VideoConfig) bool { return c == o }

// TextConfig is the real time text parameter set.
type TextConfig struct {
	RtpConfig           `mapstructure:",squash"`
	CodecType           CodecType `mapstructure:"codecType"`
	TxPayloadTypeNumber int32     `mapstructure:"txPayloadTypeNumber"`
	RxPayloadTypeNumber int32     `mapstructure:"rxPayloadTypeNumber"`
	BitRate             int32     `mapstructure:"bitRate"`
	RedundantPayload    int32     `mapstructure:"redundantPayload"`
	RedundantLevel      int32     `mapstructure:"redundantLevel"`
	KeepRedundantLevel  bool      `mapstructure:"keepRedundantLevel"`
}

func (c TextConfig) Equal(o TextConfig) bool { return c == o }

// RtpHeaderExtension is one negotiated RTP header extension element.
type RtpHeaderExtension struct {
	LocalID       uint8  `mapstructure:"localId"`
	ExtensionData []byte `mapstructure:"extensionData"`
}

func (e RtpHeaderExtension) Equal(o RtpHeaderExtension) bool {
	return e.LocalID == o.LocalID && slices.Equal(e.ExtensionData, o.ExtensionData)
}

// MediaQualityThreshold configures the receiver side watchdogs.
type MediaQualityThreshold struct {
	RtpInactivityTimerMillis    []int32 `mapstructure:"rtpInactivityTimerMillis"`
	RtcpInactivityTimerMillis   int32   `mapstructure:"rtcpInactivityTimerMillis"`
	RtpHysteresisTimeInMillis   int32   `mapstructure:"rtpHysteresisTimeInMillis"`
	RtpPacketLossDurationMillis int32   `mapstructure:"rtpPacketLossDurationMillis"`
	RtpPacketLossRate           []int32 `mapstructure:"rtpPacketLossRate"`
	RtpJitterMillis             []int32 `mapstructure:"rtpJitterMillis"`
	NotifyCurrentStatus         bool    `mapstructure:"notifyCurrentStatus"`
}

func (t MediaQualityThreshold) Equal(o MediaQualityThreshold) bool {
	return slices.Equal(t.RtpInactivityTimerMillis, o.RtpInactivityTimerMillis) &&
		t.RtcpInactivityTimerMillis == o.RtcpInactivityTimerMillis &&
		t.RtpHysteresisTimeInMillis == o.RtpHysteresisTimeInMillis &&
		t.RtpPacketLossDurationMillis == o.RtpPacketLossDurationMillis &&
		slices.Equal(t.RtpPacketLossRate, o.RtpPacketLossRate) &&
		slices.Equal(t.RtpJitterMillis, o.RtpJitterMillis) &&
		t.NotifyCurrentStatus == o.NotifyCurrentStatus
}

// MediaQualityStatus is the measured state reported against thresholds.
type MediaQualityStatus struct {
	RtpInactivityTimeMillis  int32 `mapstructure:"rtpInactivityTimeMillis"`
	RtcpInactivityTimeMillis int32 `mapstructure:"rtcpInactivityTimeMillis"`
	RtpPacketLossRate        int32 `mapstructure:"rtpPacketLossRate"`
	RtpJitterMillis          int32 `mapstructure:"rtpJitterMillis"`
}

// DecodeParcel decodes a loosely typed parcel payload into a config value
// object, with weak type conversion the way IPC payloads need it.
func DecodeParcel(in any, out any) error {
	cfg := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           out,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	return decoder.Decode(in)
}
