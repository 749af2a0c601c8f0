// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package rtp

import (
	"math"
	"time"

	"github.com/pion/rtcp"

	"github.com/goims/imsmedia/media"
)

// XRDecodeEnabled gates parsing of received RTCP XR blocks. The transmit
// side always supports XR; receive side conformance is still incomplete so
// it stays off by default.
var XRDecodeEnabled = false

const (
	// rtcpMinTime is the minimum report interval, RFC 3550 6.2.
	rtcpMinTime = 5 * time.Second
	// rtcpCompensation corrects for the unconditional reconsideration
	// timer bias, e-3/2.
	rtcpCompensation = 1.21828
	// rtcpSizeGain is the 1/16 low pass constant for avg_rtcp_size.
	rtcpSizeGain = 16.0
)

// rtcpState carries the RFC 3550 6.3 transmission timing variables.
type rtcpState struct {
	tp int64 // last RTCP transmission, ms
	tn int64 // next scheduled transmission, ms

	pmembers int
	members  int
	senders  int

	rtcpBW     float64 // bytes per second available to RTCP
	weSent     bool
	weSentData bool // data sent since the last report was issued
	avgSize    float64
	initial    bool
}

func (st *rtcpState) init() {
	st.members = 1
	st.pmembers = 1
	st.avgSize = 128
	st.initial = true
	st.rtcpBW = 64000 * 0.05 / 8 // 5% of a nominal 64 kbit/s stream
}

// SetRtcpBandwidth configures the RTCP share in bytes per second.
func (s *Session) SetRtcpBandwidth(bytesPerSec float64) {
	s.mu.Lock()
	s.rtcp.rtcpBW = bytesPerSec
	s.mu.Unlock()
}

// rtcpInterval computes the deterministic calculated interval of
// RFC 3550 6.3.1 before randomisation.
func rtcpInterval(members, senders int, rtcpBW float64, weSent bool, avgSize float64, initial bool) time.Duration {
	tmin := rtcpMinTime
	if initial {
		tmin = rtcpMinTime / 2
	}

	n := members
	if senders > 0 && float64(senders) < float64(members)*0.25 {
		// senders get a quarter of the bandwidth
		if weSent {
			rtcpBW *= 0.25
			n = senders
		} else {
			rtcpBW *= 0.75
			n = members - senders
		}
	}

	t := tmin
	if rtcpBW > 0 {
		calc := time.Duration(avgSize * float64(n) / rtcpBW * float64(time.Second))
		if calc > t {
			t = calc
		}
	}
	return t
}

// NextInterval returns the randomised, compensated time until the next
// RTCP transmission.
func (s *Session) NextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.rtcp

	t := rtcpInterval(st.members, st.senders, st.rtcpBW, st.weSent, st.avgSize, st.initial)
	// Uniform(0.5, 1.5) spread, divided by the reconsideration compensation
	factor := (0.5 + float64(media.Rand32())/float64(math.MaxUint32)) / rtcpCompensation
	return time.Duration(float64(t) * factor)
}

// OnRTCPSent updates the timer state after a compound of size bytes went out.
func (s *Session) OnRTCPSent(size int, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.rtcp

	st.tp = nowMs
	st.initial = false
	st.avgSize += (float64(size) - st.avgSize) / rtcpSizeGain
	st.pmembers = st.members
	st.weSent = st.weSentData
	st.weSentData = false
}

// OnRTCPReceived updates avg_rtcp_size for any received compound.
func (s *Session) OnRTCPReceived(size int) {
	s.mu.Lock()
	s.rtcp.avgSize += (float64(size) - s.rtcp.avgSize) / rtcpSizeGain
	s.mu.Unlock()
}

// onByeReceived removes the source and applies reverse reconsideration,
// RFC 3550 6.3.4: when membership shrinks the schedule is rescaled so the
// remaining members do not burst.
func (s *Session) onByeReceived(ssrc uint32, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.rtcp

	rec, ok := s.receivers[ssrc]
	if !ok {
		return
	}
	if rec.Sender && st.senders > 0 {
		st.senders--
	}
	delete(s.receivers, ssrc)
	if st.members > 1 {
		st.members--
	}

	if st.members < st.pmembers && st.pmembers > 0 {
		ratio := float64(st.members) / float64(st.pmembers)
		st.tn = nowMs + int64(ratio*float64(st.tn-nowMs))
		st.tp = nowMs - int64(ratio*float64(nowMs-st.tp))
		st.pmembers = st.members
	}
}

// BuildCompound assembles the outgoing compound: SR when we sent RTP since
// the last report, otherwise RR; always exactly one SDES carrying CNAME;
// then any pending feedback or XR tails and an optional BYE.
func (s *Session) BuildCompound(now time.Time, extra []rtcp.Packet, bye bool) ([]rtcp.Packet, []byte, error) {
	s.mu.Lock()

	nowNTP := media.NTPTimestamp(now)
	reports := s.reportBlocksLocked(now)

	var pkts []rtcp.Packet
	if s.rtcp.weSentData {
		s.sender.LastSRNTP = nowNTP
		s.sender.LastSRCompressed = media.CompressedNTP(nowNTP)
		s.sender.LastSRTime = now.UnixMilli()

		pkts = append(pkts, &rtcp.SenderReport{
			SSRC:        s.sender.SSRC,
			NTPTime:     nowNTP,
			RTPTime:     s.sender.Timestamp,
			PacketCount: s.sender.Packets,
			OctetCount:  s.sender.Octets,
			Reports:     reports,
		})
	} else {
		pkts = append(pkts, &rtcp.ReceiverReport{
			SSRC:    s.sender.SSRC,
			Reports: reports,
		})
	}

	pkts = append(pkts, &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: s.sender.SSRC,
			Items: []rtcp.SourceDescriptionItem{{
				Type: rtcp.SDESCNAME,
				Text: s.cname,
			}},
		}},
	})

	pkts = append(pkts, extra...)

	if bye {
		pkts = append(pkts, &rtcp.Goodbye{Sources: []uint32{s.sender.SSRC}})
	}
	s.mu.Unlock()

	buf, err := rtcp.Marshal(pkts)
	if err != nil {
		return nil, nil, err
	}
	return pkts, buf, nil
}

// reportBlocksLocked builds one reception report block per active remote
// sender, RFC 3550 A.3 and 6.4.1.
func (s *Session) reportBlocksLocked(now time.Time) []rtcp.ReceptionReport {
	var reports []rtcp.ReceptionReport
	for _, rec := range s.receivers {
		if !rec.Sender || rec.FromCSRC {
			continue
		}
		cum, fraction := rec.lostTotals()

		var dlsr uint32
		if rec.lastSRArrival > 0 {
			// delay in 1/65536 seconds
			dlsr = uint32((now.UnixMilli() - rec.lastSRArrival) * 65536 / 1000)
		}

		reports = append(reports, rtcp.ReceptionReport{
			SSRC:               rec.SSRC,
			FractionLost:       fraction,
			TotalLost:          uint32(cum) & 0xFFFFFF,
			LastSequenceNumber: rec.ExtendedMaxSeq(),
			Jitter:             rec.Jitter(),
			LastSenderReport:   rec.lastSRCompressed,
			Delay:              dlsr,
		})
		rec.Sender = false
		if s.rtcp.senders > 0 {
			s.rtcp.senders--
		}
	}
	return reports
}

// ProcessCompound consumes a received compound: updates SR tracking, member
// tables and dispatches feedback messages to the session handler.
func (s *Session) ProcessCompound(pkts []rtcp.Packet, nowMs int64) {
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			s.mu.Lock()
			if rec, ok := s.receivers[p.SSRC]; ok {
				rec.lastSRCompressed = media.CompressedNTP(p.NTPTime)
				rec.lastSRArrival = nowMs
			}
			s.mu.Unlock()

		case *rtcp.ReceiverReport:
			// reception quality of our stream; nothing to store per flow yet

		case *rtcp.Goodbye:
			for _, ssrc := range p.Sources {
				s.onByeReceived(ssrc, nowMs)
				s.notify(EventByeReceived, ssrc)
			}

		case *rtcp.TransportLayerNack:
			for _, nack := range p.Nacks {
				s.notify(EventNackReceived, uint32(nack.PacketID))
			}

		case *rtcp.PictureLossIndication:
			s.notify(EventRequestVideoIdrFrame, p.MediaSSRC)

		case *rtcp.FullIntraRequest:
			s.notify(EventRequestVideoIdrFrame, p.MediaSSRC)

		case *TMMBR:
			s.notify(EventRequestVideoBitrateChange, p.Bitrate())

		case *TMMBN:
			// notification of our own request; informational

		case *rtcp.ExtendedReport:
			if !XRDecodeEnabled {
				continue
			}
			// conformance gap: block level decoding not wired yet

		case *APPPacket:
			// application defined; surfaced through stats only
		}
	}
}
