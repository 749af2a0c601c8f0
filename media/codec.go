// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package media

import "time"

// Codec describes the RTP clock properties of a negotiated payload type.
type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

var (
	CodecAMR     = Codec{Name: "AMR", PayloadType: 97, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
	CodecAMRWB   = Codec{Name: "AMR-WB", PayloadType: 98, SampleRate: 16000, SampleDur: 20 * time.Millisecond}
	CodecEVS     = Codec{Name: "EVS", PayloadType: 96, SampleRate: 16000, SampleDur: 20 * time.Millisecond}
	CodecPCMU    = Codec{Name: "PCMU", PayloadType: 0, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
	CodecPCMA    = Codec{Name: "PCMA", PayloadType: 8, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
	CodecAVC     = Codec{Name: "H264", PayloadType: 99, SampleRate: 90000}
	CodecHEVC    = Codec{Name: "H265", PayloadType: 100, SampleRate: 90000}
	CodecT140    = Codec{Name: "t140", PayloadType: 111, SampleRate: 1000, SampleDur: 300 * time.Millisecond}
	CodecT140RED = Codec{Name: "red", PayloadType: 112, SampleRate: 1000, SampleDur: 300 * time.Millisecond}
	CodecDTMF    = Codec{Name: "telephone-event", PayloadType: 101, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
	CodecDTMFWB  = Codec{Name: "telephone-event", PayloadType: 102, SampleRate: 16000, SampleDur: 20 * time.Millisecond}
)

// SampleTimestamp returns the RTP timestamp increment of one frame.
func (c *Codec) SampleTimestamp() uint32 {
	return uint32(float64(c.SampleRate) * c.SampleDur.Seconds())
}

// SampleRateKHz returns the clock rate in kHz as used by timestamp math.
func (c *Codec) SampleRateKHz() uint32 {
	return c.SampleRate / 1000
}
