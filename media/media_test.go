// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNTPTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 500000000) // .5 sec
	ntp := NTPTimestamp(now)

	assert.Equal(t, uint64(1700000000+2208988800), ntp>>32)
	// 500000 usec * 4294 ~= half of the 32 bit fraction range
	frac := uint32(ntp)
	assert.InDelta(t, float64(1<<31), float64(frac), float64(1<<22))
}

func TestCompressedNTP(t *testing.T) {
	ntp := uint64(0x1122334455667788)
	assert.Equal(t, uint32(0x33445566), CompressedNTP(ntp))
}

func TestCalcRtpTimestamp(t *testing.T) {
	prevNTP := NTPTimestamp(time.Unix(1000, 0))
	curNTP := NTPTimestamp(time.Unix(1000, 40*int64(time.Millisecond)))

	// 8 kHz clock: 40ms -> 320 ticks
	got := CalcRtpTimestamp(1600, curNTP, prevNTP, 8)
	assert.InDelta(t, 1600+320, int(got), 8)

	// Zero previous time keeps the previous timestamp
	assert.Equal(t, uint32(1600), CalcRtpTimestamp(1600, curNTP, 0, 8))
}

func TestGenerateSSRC(t *testing.T) {
	for _, term := range []uint32{0, 1, 7, 15} {
		ssrc := GenerateSSRC(term)
		assert.Equal(t, term&0x0F, ssrc&0x0F)
		assert.Zero(t, ssrc&0xF0000000)
	}

	a := GenerateSSRC(3)
	b := GenerateSSRC(3)
	assert.NotEqual(t, a, b)
}

func TestDataQueueOrder(t *testing.T) {
	q := NewDataQueue()
	for i := 0; i < 5; i++ {
		q.Add(&Packet{Seq: uint16(i), Data: []byte{byte(i)}})
	}
	require.Equal(t, 5, q.Count())

	for i := 0; i < 5; i++ {
		p := q.Get()
		require.NotNil(t, p)
		assert.Equal(t, uint16(i), p.Seq)
		q.Delete()
	}
	assert.Zero(t, q.Count())
	assert.Nil(t, q.Get())
}

func TestDataQueueInsertAt(t *testing.T) {
	q := NewDataQueue()
	q.Add(&Packet{Seq: 1})
	q.Add(&Packet{Seq: 3})
	q.InsertAt(1, &Packet{Seq: 2})

	assert.Equal(t, uint16(1), q.GetAt(0).Seq)
	assert.Equal(t, uint16(2), q.GetAt(1).Seq)
	assert.Equal(t, uint16(3), q.GetAt(2).Seq)
	assert.Equal(t, uint16(3), q.GetLast().Seq)
}

func TestDataQueueCopiesOnInsert(t *testing.T) {
	q := NewDataQueue()
	buf := []byte{1, 2, 3}
	q.Add(&Packet{Data: buf})
	buf[0] = 9

	assert.Equal(t, byte(1), q.Get().Data[0])
}

func TestDataQueueIterator(t *testing.T) {
	q := NewDataQueue()
	for i := 0; i < 3; i++ {
		q.Add(&Packet{Seq: uint16(i)})
	}

	q.SetReadPosFirst()
	var seqs []uint16
	for p := q.GetNext(); p != nil; p = q.GetNext() {
		seqs = append(seqs, p.Seq)
	}
	assert.Equal(t, []uint16{0, 1, 2}, seqs)
}
