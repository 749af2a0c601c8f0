// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundtrip(t *testing.T) {
	for n := uint8(1); n <= 24; n++ {
		w := NewWriter()
		val := uint32(0xABCDEF) & (1<<n - 1)
		w.Write(val, n)
		w.Write(0x5, 3)

		r := NewReader(w.Bytes())
		assert.Equal(t, val, r.Read(n), "n=%d", n)
		assert.Equal(t, uint32(0x5), r.Read(3))
		assert.False(t, r.EOF())
	}
}

func TestReaderEOF(t *testing.T) {
	r := NewReader([]byte{0xFF})
	assert.Equal(t, uint32(0xFF), r.Read(8))
	assert.Equal(t, uint32(0), r.Read(1))
	assert.True(t, r.EOF())
}

func TestExpGolomb(t *testing.T) {
	// First values of the ue(v) table
	vectors := map[uint32][]byte{
		0: {0x80},       // 1
		1: {0x40},       // 010
		2: {0x60},       // 011
		3: {0x20},       // 00100
		7: {0x10},       // 0001000
		8: {0x12},       // 000100100... only first value checked
	}
	for want, buf := range vectors {
		r := NewReader(buf)
		assert.Equal(t, want, r.ReadUE(), "buf=%x", buf)
	}
}

func TestExpGolombRoundtrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 2, 3, 10, 255, 65535, 1 << 20, 1<<31 - 1} {
		w := NewWriter()
		w.WriteUE(v)
		r := NewReader(w.Bytes())
		assert.Equal(t, v, r.ReadUE(), "v=%d", v)
	}
}

func TestWriteBytesAligned(t *testing.T) {
	w := NewWriter()
	w.WriteBytes([]byte{0x01, 0x02, 0x03})
	require.Equal(t, []byte{0x01, 0x02, 0x03}, w.Bytes())
}

func TestWriteBytesUnaligned(t *testing.T) {
	w := NewWriter()
	w.Write(0xF, 4)
	w.WriteBytes([]byte{0xAB})
	w.AddPadding()

	r := NewReader(w.Bytes())
	assert.Equal(t, uint32(0xF), r.Read(4))
	assert.Equal(t, uint32(0xAB), r.Read(8))
}

func TestReadBytesAligned(t *testing.T) {
	r := NewReader([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	r.Read(8)
	dst := make([]byte, 3)
	r.ReadBytes(dst)
	assert.Equal(t, []byte{0xAD, 0xBE, 0xEF}, dst)
}
