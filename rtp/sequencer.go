// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package rtp

import "github.com/goims/imsmedia/media"

const (
	maxSeqNum uint16 = 65535
	rtpSeqMod        = 1 << 16
)

// Sequencer generates the outgoing sequence number stream for one SSRC,
// tracking wrap arounds so extended sequence numbers stay monotonic.
// Not thread safe; callers wrap it.
type Sequencer struct {
	seqNum          uint16
	wrapAroundCount uint16
}

func NewSequencer() Sequencer {
	s := Sequencer{}
	s.Init(uint16(media.Rand32()))
	return s
}

func (s *Sequencer) Init(seq uint16) {
	s.seqNum = seq
	s.wrapAroundCount = 0
}

func (s *Sequencer) NextSeqNumber() uint16 {
	s.seqNum++
	if s.seqNum == 0 {
		s.wrapAroundCount++
	}
	return s.seqNum
}

func (s *Sequencer) SeqNumber() uint16 { return s.seqNum }

func (s *Sequencer) ExtendedSeq() uint64 {
	return uint64(s.seqNum) + uint64(rtpSeqMod)*uint64(s.wrapAroundCount)
}
