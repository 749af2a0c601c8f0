// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package media

import (
	"math/rand"
	"time"
)

var ntpEpochOffset int64 = 2208988800

// NTPTimestamp converts wall clock time into the 64 bit NTP format:
// high 32 bits UNIX seconds since the NTP epoch, low 32 bits fraction.
func NTPTimestamp(t time.Time) uint64 {
	seconds := t.Unix() + ntpEpochOffset

	usec := int64(t.Nanosecond()) / 1000
	frac := uint64(usec) * 4294

	return uint64(seconds)<<32 | frac
}

// GetCurrentNTPTimestamp returns the NTP timestamp of now.
func GetCurrentNTPTimestamp() uint64 {
	return NTPTimestamp(time.Now())
}

// CompressedNTP returns the middle 32 bits of a 64 bit NTP timestamp,
// the format used by LSR/DLSR report block fields.
func CompressedNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// NTPToTime converts a 64 bit NTP timestamp back to wall clock time.
func NTPToTime(ntp uint64) time.Time {
	seconds := int64(ntp>>32) - ntpEpochOffset
	frac := float64(ntp&0xFFFFFFFF) / (1 << 32)
	return time.Unix(seconds, int64(frac*1e9))
}

// NowMillis is the millisecond clock used for arrival times and playout
// scheduling.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// CalcRtpTimestamp derives the RTP timestamp for the wall clock instant
// curNTP given the previous packet's timestamp pair. A zero previous NTP
// time yields the previous RTP timestamp unchanged.
func CalcRtpTimestamp(prevRtp uint32, curNTP, prevNTP uint64, samplingRateKHz uint32) uint32 {
	if prevNTP == 0 {
		return prevRtp
	}

	curUsec := int64(curNTP>>32)*1000000 + int64(uint32(curNTP))/4294
	prevUsec := int64(prevNTP>>32)*1000000 + int64(uint32(prevNTP))/4294

	deltaMs := (curUsec - prevUsec) / 1000
	return prevRtp + uint32(int64(samplingRateKHz)*deltaMs)
}

var rng = rand.New(rand.NewSource(time.Now().UnixMicro()))

// GenerateSSRC makes a fresh synchronisation source identifier whose low
// four bits encode the terminal number.
func GenerateSSRC(terminalNumber uint32) uint32 {
	return rng.Uint32()<<8&0x0FFFFFFF | terminalNumber&0x0F
}

// Rand32 returns a random 32 bit value from the shared seeded source.
func Rand32() uint32 {
	return rng.Uint32()
}
