// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package rtp

import "net"

// RFC 3550 appendix A.1 source validation constants.
const (
	minSequential = 0
	maxDropout    = 3000
	maxMisorder   = 100
)

// ReceiverRecord tracks one observed remote SSRC, structured after
// RFC 3550 appendix A: sequence validation state, loss accounting and the
// interarrival jitter estimator.
type ReceiverRecord struct {
	SSRC uint32

	baseSeq       uint32
	maxSeq        uint16
	badSeq        uint32
	cycles        uint32
	received      uint32
	receivedPrior uint32
	expectedPrior uint32
	probation     int

	// jitter estimator, RFC 3550 6.4.1
	transit int64
	jitter  float64

	// last received SR, for DLSR arithmetic
	lastSRCompressed uint32
	lastSRArrival    int64

	// Sender reports whether data arrived since the last report interval.
	Sender bool
	// FromCSRC marks records created from a CSRC list entry; those never
	// count as active senders.
	FromCSRC bool

	Addr *net.UDPAddr

	Octets  uint64
	Packets uint64
}

// newReceiverRecord accounts for the packet that created it: with an empty
// probation requirement the first packet is accepted immediately.
func newReceiverRecord(ssrc uint32, seq uint16) *ReceiverRecord {
	r := &ReceiverRecord{SSRC: ssrc}
	r.initSeq(seq)
	if minSequential > 0 {
		r.probation = minSequential
		r.maxSeq = seq - 1
	} else {
		r.received = 1
	}
	return r
}

func (r *ReceiverRecord) initSeq(seq uint16) {
	r.baseSeq = uint32(seq)
	r.maxSeq = seq
	r.badSeq = rtpSeqMod + 1 // so seq == badSeq is false
	r.cycles = 0
	r.received = 0
	r.receivedPrior = 0
	r.expectedPrior = 0
}

// updateSeq validates seq per RFC 3550 A.1 and reports whether the packet
// is accepted into the statistics.
func (r *ReceiverRecord) updateSeq(seq uint16) bool {
	udelta := seq - r.maxSeq

	if r.probation > 0 {
		// Source is not valid until minSequential packets in sequence
		if seq == r.maxSeq+1 {
			r.probation--
			r.maxSeq = seq
			if r.probation == 0 {
				r.initSeq(seq)
				r.received++
				return true
			}
		} else {
			r.probation = minSequential - 1
			r.maxSeq = seq
		}
		return false
	}

	switch {
	case udelta < maxDropout:
		// in order, with permissible gap
		if seq < r.maxSeq {
			// sequence wrapped
			r.cycles += rtpSeqMod
		}
		r.maxSeq = seq

	case udelta <= maxSeqNum-maxMisorder:
		// the sequence made a very large jump
		if uint32(seq) == r.badSeq {
			// Two sequential packets: the other side restarted without
			// telling us. Resync with it.
			r.initSeq(seq)
		} else {
			r.badSeq = uint32(seq+1) & (rtpSeqMod - 1)
			return false
		}

	default:
		// duplicate or reordered packet, still counted
	}

	r.received++
	return true
}

// updateJitter advances the interarrival jitter estimate given the packet
// RTP timestamp and the arrival instant expressed in RTP units.
func (r *ReceiverRecord) updateJitter(packetTS, arrivalTS uint32) {
	transit := int64(arrivalTS) - int64(packetTS)
	d := transit - r.transit
	r.transit = transit
	if d < 0 {
		d = -d
	}
	r.jitter += (float64(d) - r.jitter) / 16
}

// Jitter returns the current interarrival jitter estimate in RTP units.
func (r *ReceiverRecord) Jitter() uint32 { return uint32(r.jitter) }

// ExtendedMaxSeq returns cycles<<16 | maxSeq.
func (r *ReceiverRecord) ExtendedMaxSeq() uint32 {
	return r.cycles + uint32(r.maxSeq)
}

// Cycles returns the number of detected sequence wrap arounds.
func (r *ReceiverRecord) Cycles() uint32 { return r.cycles / rtpSeqMod }

func (r *ReceiverRecord) expected() uint32 {
	return r.ExtendedMaxSeq() - r.baseSeq + 1
}

// lostTotals returns cumulative lost (clamped into the 24 bit signed field)
// and the fraction lost for the elapsed report interval, RFC 3550 A.3.
func (r *ReceiverRecord) lostTotals() (cumLost int32, fraction uint8) {
	expected := r.expected()
	lost := int64(expected) - int64(r.received)
	// cumulative loss is carried in a 24 bit signed field
	if lost > 0x7FFFFF {
		lost = 0x7FFFFF
	}
	if lost < -0x800000 {
		lost = -0x800000
	}

	expectedInterval := expected - r.expectedPrior
	r.expectedPrior = expected
	receivedInterval := r.received - r.receivedPrior
	r.receivedPrior = r.received

	lostInterval := int32(expectedInterval) - int32(receivedInterval)
	if expectedInterval == 0 || lostInterval <= 0 {
		fraction = 0
	} else {
		fraction = uint8((lostInterval << 8) / int32(expectedInterval))
	}
	return int32(lost), fraction
}
