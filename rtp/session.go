// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package rtp

import (
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goims/imsmedia/media"
)

// Event is a session level notification dispatched to the owner.
type Event int

const (
	EventNotifyError Event = iota
	EventByeReceived
	EventSSRCCollision
	EventRequestVideoIdrFrame
	EventRequestVideoBitrateChange
	EventRequestAudioCmr
	EventNackReceived
)

// EventHandler receives session notifications. Calls arrive on the thread
// that processed the triggering packet and must not block.
type EventHandler interface {
	OnSessionEvent(ev Event, arg uint32)
}

// SenderRecord is the transmit side state of the local SSRC.
type SenderRecord struct {
	SSRC      uint32
	Seq       Sequencer
	Timestamp uint32

	Octets  uint32
	Packets uint32

	// last NTP used for an SR, full and compressed forms
	LastSRNTP        uint64
	LastSRCompressed uint32
	LastSRTime       int64

	PayloadType     uint8
	DTMFPayloadType uint8
	SampleRateKHz   uint32

	prevNTP uint64
}

// Session is the per flow RTP state: the local sender record, the table of
// observed remote sources and the RTCP transmission schedule.
type Session struct {
	mu sync.Mutex

	sender    SenderRecord
	receivers map[uint32]*ReceiverRecord

	// MTU bounds any formed outgoing packet.
	MTU int

	rtcp rtcpState

	handler EventHandler

	// counters for protocol errors
	Discarded  uint64
	Duplicated uint64

	cname string
	log   zerolog.Logger
}

// NewSession creates session state for one local SSRC. cname is carried in
// every SDES chunk.
func NewSession(terminalNumber uint32, cname string, sampleRateKHz uint32) *Session {
	s := &Session{
		receivers: make(map[uint32]*ReceiverRecord),
		MTU:       1500,
		cname:     cname,
		log:       log.With().Str("caller", "rtp-session").Logger(),
	}
	s.sender.SSRC = media.GenerateSSRC(terminalNumber)
	s.sender.Seq = NewSequencer()
	s.sender.SampleRateKHz = sampleRateKHz
	s.rtcp.init()
	s.log = s.log.With().Uint32("ssrc", s.sender.SSRC).Logger()
	return s
}

func (s *Session) SetEventHandler(h EventHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Session) notify(ev Event, arg uint32) {
	if s.handler != nil {
		s.handler.OnSessionEvent(ev, arg)
	}
}

// LocalSSRC returns the current local synchronisation source.
func (s *Session) LocalSSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender.SSRC
}

// Sender returns a copy of the sender record for reporting.
func (s *Session) Sender() SenderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender
}

// SetPayloadTypes configures the outbound payload numbering.
func (s *Session) SetPayloadTypes(pt, dtmfPT uint8) {
	s.mu.Lock()
	s.sender.PayloadType = pt
	s.sender.DTMFPayloadType = dtmfPT
	s.mu.Unlock()
}

// Receiver returns the record of a remote SSRC, or nil.
func (s *Session) Receiver(ssrc uint32) *ReceiverRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receivers[ssrc]
}

// FirstRemoteSSRC returns an active remote sender's SSRC, or zero when
// nothing was received yet. Sessions track a single remote sender, so
// "any" is "the" one.
func (s *Session) FirstRemoteSSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ssrc, rec := range s.receivers {
		if !rec.FromCSRC {
			return ssrc
		}
	}
	return 0
}

// ReceiverCount returns the number of tracked remote sources.
func (s *Session) ReceiverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receivers)
}

// HeaderExtension is one element injected into the one byte extension
// block of outgoing packets.
type HeaderExtension struct {
	ID      uint8
	Payload []byte
}

// EncodePacket forms the outgoing packet for payload at the given RTP
// timestamp: the session assigns sequence and SSRC and enforces the MTU.
func (s *Session) EncodePacket(payload []byte, timestamp uint32, marker bool, pt uint8, exts []HeaderExtension) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: s.sender.Seq.NextSeqNumber(),
			Timestamp:      timestamp,
			SSRC:           s.sender.SSRC,
		},
		Payload: payload,
	}
	for _, e := range exts {
		if err := pkt.Header.SetExtension(e.ID, e.Payload); err != nil {
			return nil, err
		}
	}

	if pkt.MarshalSize() > s.MTU {
		return nil, ErrMTUExceeded
	}

	buf, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}

	s.sender.Timestamp = timestamp
	s.sender.Packets++
	s.sender.Octets += uint32(len(payload))
	s.rtcp.weSentData = true
	return buf, nil
}

// NextTimestamp derives the RTP timestamp for a packet formed now, using
// the wall clock delta since the previous transmission.
func (s *Session) NextTimestamp(nowNTP uint64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := media.CalcRtpTimestamp(s.sender.Timestamp, nowNTP, s.sender.prevNTP, s.sender.SampleRateKHz)
	s.sender.prevNTP = nowNTP
	return ts
}

// DecodePacket parses buf and runs the inbound statistics pipeline:
// record lookup/creation with probation, sequence validation, octet and
// jitter accounting. arrivalMs is the wall clock arrival; arrivalTS the
// same instant in RTP units.
func (s *Session) DecodePacket(buf []byte, from *net.UDPAddr, arrivalMs int64, arrivalTS uint32) (*rtp.Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		s.mu.Lock()
		s.Discarded++
		s.mu.Unlock()
		return nil, ErrDecode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pkt.SSRC == s.sender.SSRC {
		// Our own SSRC from another transport address: collision. Roll a
		// new identity; the caller sends BYE for the old one.
		old := s.sender.SSRC
		s.sender.SSRC = media.GenerateSSRC(old & 0x0F)
		s.log.Warn().Uint32("old", old).Uint32("new", s.sender.SSRC).Msg("SSRC collision resolved")
		s.notify(EventSSRCCollision, old)
		return nil, ErrOwnSSRCCollision
	}

	rec, ok := s.receivers[pkt.SSRC]
	if !ok {
		rec = newReceiverRecord(pkt.SSRC, pkt.SequenceNumber)
		rec.Addr = from
		s.receivers[pkt.SSRC] = rec
		s.rtcp.members++
		s.rtcp.senders++
		rec.Sender = true
		rec.Packets++
		rec.Octets += uint64(len(pkt.Payload))
		rec.updateJitter(pkt.Timestamp, arrivalTS)
		rec.lastSRArrival = 0

		for _, csrc := range pkt.CSRC {
			if _, exists := s.receivers[csrc]; !exists {
				cr := newReceiverRecord(csrc, pkt.SequenceNumber)
				cr.FromCSRC = true
				s.receivers[csrc] = cr
				s.rtcp.members++
			}
		}
		return pkt, nil
	}

	if rec.Addr != nil && from != nil && rec.Addr.String() != from.String() {
		// remote changed transport; re-register under the new address
		rec.Addr = from
	}

	if !rec.updateSeq(pkt.SequenceNumber) {
		s.Discarded++
		return nil, ErrDecode
	}

	if !rec.Sender && !rec.FromCSRC {
		rec.Sender = true
		s.rtcp.senders++
	}
	rec.Packets++
	rec.Octets += uint64(len(pkt.Payload))
	rec.updateJitter(pkt.Timestamp, arrivalTS)

	return pkt, nil
}
