// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package audio

import (
	"bytes"
	"testing"

	"github.com/mattetti/filebuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMCodecRoundtrip(t *testing.T) {
	for _, pt := range []uint8{0, 8} {
		codec, err := NewPCMCodec(pt)
		require.NoError(t, err)

		lpcm := bytes.Repeat([]byte{0x12, 0x05}, 160)
		encoded := codec.Encode(lpcm)
		assert.Equal(t, 160, len(encoded), "one byte per sample")

		decoded := codec.Decode(encoded)
		assert.Equal(t, len(lpcm), len(decoded))
	}

	_, err := NewPCMCodec(97)
	assert.Error(t, err)
}

func TestPCMCodecFrameBytes(t *testing.T) {
	codec, err := NewPCMCodec(0)
	require.NoError(t, err)
	assert.Equal(t, 160, codec.FrameBytes(20))
}

func TestWavWriteReadRoundtrip(t *testing.T) {
	fb := filebuffer.New(nil)

	w := NewWavWriter(fb, 8000)
	lpcm := bytes.Repeat([]byte{0x34, 0x12}, 320)
	_, err := w.Write(lpcm)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	fb.Seek(0, 0)
	r := NewWavReader(fb)
	require.NoError(t, r.ReadHeaders())
	assert.Equal(t, uint32(8000), r.SampleRate())

	got := make([]byte, len(lpcm))
	n, err := r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, len(lpcm), n)
	assert.Equal(t, lpcm, got)
}
