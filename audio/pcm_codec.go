// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package audio

import (
	"fmt"

	"github.com/zaf/g711"
)

// PCMCodec converts between 16 bit LPCM and a wire codec. AMR, AMR-WB and
// EVS run in external codec hardware; G.711 is the software implemented
// strategy so audio graphs work end to end without a device.
type PCMCodec interface {
	// Encode compresses 16 bit LPCM into the wire format.
	Encode(lpcm []byte) []byte
	// Decode expands the wire format back to 16 bit LPCM.
	Decode(payload []byte) []byte
	// FrameBytes is the encoded size of one frame of frameMs at 8 kHz.
	FrameBytes(frameMs int) int
}

type g711Codec struct {
	enc func([]byte) []byte
	dec func([]byte) []byte
}

func (c *g711Codec) Encode(lpcm []byte) []byte    { return c.enc(lpcm) }
func (c *g711Codec) Decode(payload []byte) []byte { return c.dec(payload) }

func (c *g711Codec) FrameBytes(frameMs int) int {
	// one byte per sample at 8 kHz
	return frameMs * 8
}

// NewPCMCodec returns the strategy for a payload type: 0 is PCMU, 8 PCMA.
func NewPCMCodec(payloadType uint8) (PCMCodec, error) {
	switch payloadType {
	case 0:
		return &g711Codec{enc: g711.EncodeUlaw, dec: g711.DecodeUlaw}, nil
	case 8:
		return &g711Codec{enc: g711.EncodeAlaw, dec: g711.DecodeAlaw}, nil
	default:
		return nil, fmt.Errorf("no software codec for payload type %d", payloadType)
	}
}
