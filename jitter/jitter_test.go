// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package jitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goims/imsmedia/media"
)

type statusSink struct {
	statuses map[RxStatus]int
	maxFill  int
}

func newStatusSink() *statusSink {
	return &statusSink{statuses: map[RxStatus]int{}}
}

func (s *statusSink) OnRxStatus(seq uint16, status RxStatus) {
	s.statuses[status]++
}

func (s *statusSink) OnBufferStatus(curr, max int) {
	if curr > s.maxFill {
		s.maxFill = curr
	}
}

func audioPkt(seq uint16, ts uint32, arrival int64, payload int) *media.Packet {
	return &media.Packet{
		Data:        make([]byte, payload),
		Timestamp:   ts,
		Seq:         seq,
		Sub:         media.SubMedia,
		ArrivalTime: arrival,
		Valid:       true,
	}
}

func TestAnalyserDepthClamp(t *testing.T) {
	a := NewNetworkAnalyser()
	a.SetMinMaxDepth(2, 8)
	a.SetOptions(80, 1, 2.0, 20)

	// no samples: target stays at the minimum
	for depth := 0; depth <= 10; depth++ {
		next := a.NextDepth(depth, 0)
		assert.GreaterOrEqual(t, next, 2)
		assert.LessOrEqual(t, next, 8)
	}
}

func TestAnalyserGrowOnJitter(t *testing.T) {
	a := NewNetworkAnalyser()
	a.SetMinMaxDepth(1, 9)
	a.SetOptions(80, 1, 2.0, 20)

	a.UpdateBaseTimestamp(0, 0)
	// packets with increasing transit deviation: ~100ms swing
	for i := 1; i <= 20; i++ {
		jitterMs := int64(i%5) * 100
		a.CalculateTransitTimeDifference(uint32(i*20), int64(i*20)+jitterMs)
	}

	next := a.NextDepth(1, 1000)
	assert.Greater(t, next, 1)
	assert.LessOrEqual(t, next, 9)
}

func TestAnalyserShrinkNeedsGoodHold(t *testing.T) {
	a := NewNetworkAnalyser()
	a.SetMinMaxDepth(1, 9)
	a.SetOptions(80, 1, 2.0, 20)

	a.UpdateBaseTimestamp(0, 0)
	for i := 1; i <= 20; i++ {
		a.CalculateTransitTimeDifference(uint32(i*20), int64(i*20))
	}

	// first query enters good but must not shrink yet
	assert.Equal(t, 5, a.NextDepth(5, 1000))
	assert.Equal(t, StatusGood, a.Status())
	// before the hold expires, still no shrink
	assert.Equal(t, 5, a.NextDepth(5, 1000+goodStatusHold-1))
	// after the hold, one step down
	assert.Equal(t, 4, a.NextDepth(5, 1000+goodStatusHold))
}

func TestAnalyserLossForcesBad(t *testing.T) {
	a := NewNetworkAnalyser()
	a.SetMinMaxDepth(1, 9)
	a.OnPacketLoss()
	a.NextDepth(5, 0)
	assert.Equal(t, StatusBad, a.Status())
}

func TestAudioBufferFIFOIdentity(t *testing.T) {
	b := NewAudioBuffer(8, 20)
	b.SetJitterBufferSize(1, 1, 9)

	// duplicate free input, timestamps strictly increasing by frame size:
	// every Get returns exactly one entry, in input order
	for i := 0; i < 20; i++ {
		b.Add(audioPkt(uint16(i), uint32(i*160), int64(i*20), 32))
	}
	for i := 0; i < 20; i++ {
		p, status := b.Get(int64(i * 20))
		require.NotNil(t, p)
		assert.Equal(t, RxNormal, status, "tick %d", i)
		assert.Equal(t, uint16(i), p.Seq)
	}
}

func TestAudioBufferReorder(t *testing.T) {
	b := NewAudioBuffer(8, 20)
	b.SetJitterBufferSize(1, 1, 4)

	// reverse arrival order
	b.Add(audioPkt(2, 320, 0, 32))
	b.Add(audioPkt(1, 160, 1, 32))
	b.Add(audioPkt(0, 0, 2, 32))

	for i, wantTS := range []uint32{0, 160, 320} {
		p, status := b.Get(int64(i * 20))
		require.NotNil(t, p)
		assert.Equal(t, RxNormal, status)
		assert.Equal(t, wantTS, p.Timestamp)
	}
}

func TestAudioBufferResync(t *testing.T) {
	b := NewAudioBuffer(8, 20)
	b.SetJitterBufferSize(1, 1, 4)

	b.Add(audioPkt(2, 320, 0, 32))
	b.Add(audioPkt(1, 160, 1, 32))
	b.Add(audioPkt(0, 0, 2, 32))

	for range []int{0, 1, 2} {
		p, _ := b.Get(0)
		require.NotNil(t, p)
	}

	// large forward gap: beyond 2x maxdepth worth of samples
	b.Add(audioPkt(3, 20000, 100, 32))

	p, status := b.Get(100)
	assert.Equal(t, RxNotReceived, status)
	assert.Equal(t, media.SubAudioNoData, p.Sub)

	p, status = b.Get(120)
	require.NotNil(t, p)
	assert.Equal(t, RxNormal, status)
	assert.Equal(t, uint32(20000), p.Timestamp)
}

func TestAudioBufferDuplicateDrop(t *testing.T) {
	sink := newStatusSink()
	b := NewAudioBuffer(8, 20)
	b.SetJitterBufferSize(1, 1, 4)
	b.SetStatusCollector(sink)

	b.Add(audioPkt(5, 800, 0, 32))
	b.Add(audioPkt(5, 800, 1, 32))
	assert.Equal(t, 1, b.Count())
	assert.Equal(t, 1, sink.statuses[RxDuplicated])
}

func TestAudioBufferNoData(t *testing.T) {
	b := NewAudioBuffer(8, 20)
	b.SetJitterBufferSize(1, 1, 4)

	b.Add(audioPkt(0, 0, 0, 32))
	p, status := b.Get(0)
	require.NotNil(t, p)
	assert.Equal(t, RxNormal, status)

	// nothing buffered for the next tick
	p, status = b.Get(20)
	assert.Equal(t, RxNotReceived, status)
	assert.Equal(t, media.SubAudioNoData, p.Sub)

	// a late joiner for the following tick is still delivered
	b.Add(audioPkt(2, 320, 39, 32))
	p, status = b.Get(40)
	require.NotNil(t, p)
	assert.Equal(t, RxNormal, status)
	assert.Equal(t, uint16(2), p.Seq)
}

func TestAudioBufferSIDBypass(t *testing.T) {
	b := NewAudioBuffer(8, 20)
	b.SetJitterBufferSize(1, 1, 4)
	b.SetJitterOptions(80, 1, 2.0, true)

	b.Add(audioPkt(0, 0, 0, 5)) // SID sized payload
	assert.Zero(t, b.Count())

	b.Add(audioPkt(1, 160, 1, 32))
	assert.Equal(t, 1, b.Count())
}

func TestAudioBufferCapacityBound(t *testing.T) {
	// 300 adds against a buffer that the playout drains one per tick:
	// nothing is dropped as the queue orders on timestamp, but fill is
	// reported to the collector
	sink := newStatusSink()
	b := NewAudioBuffer(8, 20)
	b.SetJitterBufferSize(2, 1, 9)
	b.SetStatusCollector(sink)

	delivered := 0
	for i := 0; i < 300; i++ {
		b.Add(audioPkt(uint16(i), uint32(i*160), int64(i*20), 16))
		if p, status := b.Get(int64(i * 20)); p != nil && status != RxNotReceived {
			delivered++
		}
	}
	assert.GreaterOrEqual(t, delivered, 250)
	assert.LessOrEqual(t, delivered, 300)
	assert.Greater(t, sink.maxFill, 0)
}

type videoSink struct {
	idr  int
	nack []uint16
	loss []int
}

func (v *videoSink) OnRequestIDR()              { v.idr++ }
func (v *videoSink) OnNack(pid, blp uint16)     { v.nack = append(v.nack, pid) }
func (v *videoSink) OnPacketLossRate(rate int)  { v.loss = append(v.loss, rate) }

func vidPkt(seq uint16, ts uint32, start, marker bool, data ...byte) *media.Packet {
	return &media.Packet{
		Data:      data,
		Timestamp: ts,
		Seq:       seq,
		Marker:    marker,
		Header:    start,
		Sub:       media.SubRTPPayload,
	}
}

func TestVideoBufferAssembly(t *testing.T) {
	b := NewVideoBuffer()

	require.Nil(t, b.Add(vidPkt(1, 3000, true, false, 0x01, 0x02)))
	require.Nil(t, b.Add(vidPkt(2, 3000, false, false, 0x03)))
	frame := b.Add(vidPkt(3, 3000, false, true, 0x04))

	require.NotNil(t, frame)
	assert.True(t, frame.Valid)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, frame.Data)
	assert.Equal(t, uint32(3000), frame.Timestamp)
}

func TestVideoBufferGapDiscardsAndRequestsIDR(t *testing.T) {
	sink := &videoSink{}
	b := NewVideoBuffer()
	b.SetEvents(sink)
	b.SetLossRecovery(true)

	require.Nil(t, b.Add(vidPkt(1, 3000, true, false, 0x01)))
	// seq 2 lost mid frame
	frame := b.Add(vidPkt(3, 3000, false, true, 0x03))

	assert.Nil(t, frame)
	assert.Equal(t, 1, sink.idr)
	require.Len(t, sink.nack, 1)
	assert.Equal(t, uint16(2), sink.nack[0])
}

func TestVideoBufferLossRateEvent(t *testing.T) {
	sink := &videoSink{}
	b := NewVideoBuffer()
	b.SetEvents(sink)
	b.SetLossMonitor(1000, 10)

	// every second sequence number missing: about 50% loss over the window
	arrival := int64(0)
	seq := uint16(0)
	for i := 0; i < 30; i++ {
		p := vidPkt(seq, uint32(i*3000), true, true, 0x01)
		p.ArrivalTime = arrival
		b.Add(p)
		seq += 2
		arrival += 66
	}
	assert.NotEmpty(t, sink.loss)
}

func TestTextBufferInOrder(t *testing.T) {
	b := NewTextBuffer()

	b.Add(&media.Packet{Seq: 10, Data: []byte("h")})
	b.Add(&media.Packet{Seq: 11, Data: []byte("i")})

	p := b.Get(0)
	require.NotNil(t, p)
	assert.Equal(t, "h", string(p.Data))
	p = b.Get(0)
	require.NotNil(t, p)
	assert.Equal(t, "i", string(p.Data))
	assert.Nil(t, b.Get(0))
}

func TestTextBufferRedundancyHealsGap(t *testing.T) {
	b := NewTextBuffer()

	b.Add(&media.Packet{Seq: 1, Data: []byte("a")})
	require.NotNil(t, b.Get(0))

	// primary for seq 2 lost; seq 3 arrives first
	b.Add(&media.Packet{Seq: 3, Data: []byte("c"), ArrivalTime: 10})
	assert.Nil(t, b.Get(20)) // gap still within wait budget

	// redundant generation of seq 2 arrives with the next packet
	b.Add(&media.Packet{Seq: 2, Data: []byte("b"), ArrivalTime: 30})
	p := b.Get(40)
	require.NotNil(t, p)
	assert.Equal(t, "b", string(p.Data))
	p = b.Get(40)
	require.NotNil(t, p)
	assert.Equal(t, "c", string(p.Data))
	assert.Zero(t, b.Lost())
}

func TestTextBufferSkipsStaleGap(t *testing.T) {
	b := NewTextBuffer()

	b.Add(&media.Packet{Seq: 1, Data: []byte("a")})
	require.NotNil(t, b.Get(0))

	b.Add(&media.Packet{Seq: 5, Data: []byte("e"), ArrivalTime: 0})
	p := b.Get(t140WaitMs + 1)
	require.NotNil(t, p)
	assert.Equal(t, "e", string(p.Data))
	assert.Equal(t, uint64(3), b.Lost())
}

func TestTextBufferStripsLeadingBOM(t *testing.T) {
	b := NewTextBuffer()
	b.Add(&media.Packet{Seq: 1, Data: append([]byte{0xEF, 0xBB, 0xBF}, 'x')})

	p := b.Get(0)
	require.NotNil(t, p)
	assert.Equal(t, "x", string(p.Data))

	// BOM only stripped at stream start
	b.Add(&media.Packet{Seq: 2, Data: append([]byte{0xEF, 0xBB, 0xBF}, 'y')})
	p = b.Get(0)
	require.NotNil(t, p)
	assert.Equal(t, append([]byte{0xEF, 0xBB, 0xBF}, 'y'), p.Data)
}
