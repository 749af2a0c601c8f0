// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package rtp

import (
	"encoding/binary"

	"github.com/pion/rtcp"

	"github.com/goims/imsmedia/bitstream"
)

const (
	tmmbrFMT uint8 = 3
	tmmbnFMT uint8 = 4
)

// Feedback builders. The media SSRC is taken as given and not validated
// against zero; senders that have not yet learned the remote SSRC emit
// permissive feedback the same way the deployed stacks do.

// BuildNack creates an RTPFB generic NACK (FMT 1) with one PID+BLP entry.
func (s *Session) BuildNack(mediaSSRC uint32, pid uint16, blp uint16) rtcp.Packet {
	return &rtcp.TransportLayerNack{
		SenderSSRC: s.LocalSSRC(),
		MediaSSRC:  mediaSSRC,
		Nacks: []rtcp.NackPair{
			{PacketID: pid, LostPackets: rtcp.PacketBitmap(blp)},
		},
	}
}

// BuildPLI creates a PSFB picture loss indication (FMT 1, empty FCI).
func (s *Session) BuildPLI(mediaSSRC uint32) rtcp.Packet {
	return &rtcp.PictureLossIndication{
		SenderSSRC: s.LocalSSRC(),
		MediaSSRC:  mediaSSRC,
	}
}

// BuildFIR creates a PSFB full intra request (FMT 4) with one entry.
func (s *Session) BuildFIR(mediaSSRC uint32, seqNr uint8) rtcp.Packet {
	return &rtcp.FullIntraRequest{
		SenderSSRC: s.LocalSSRC(),
		MediaSSRC:  mediaSSRC,
		FIR: []rtcp.FIREntry{
			{SSRC: mediaSSRC, SequenceNumber: seqNr},
		},
	}
}

// BuildTMMBR creates an RTPFB temporary maximum media bitrate request.
func (s *Session) BuildTMMBR(mediaSSRC uint32, bitrate uint32, overhead uint16) rtcp.Packet {
	t := &TMMBR{
		SenderSSRC: s.LocalSSRC(),
		MediaSSRC:  mediaSSRC,
		tmmbFCI: tmmbFCI{
			SSRC:     mediaSSRC,
			Overhead: overhead,
		},
	}
	t.SetBitrate(bitrate)
	return t
}

// BuildTMMBN creates the matching notification.
func (s *Session) BuildTMMBN(mediaSSRC uint32, bitrate uint32, overhead uint16) rtcp.Packet {
	t := &TMMBN{
		SenderSSRC: s.LocalSSRC(),
		MediaSSRC:  mediaSSRC,
		tmmbFCI: tmmbFCI{
			SSRC:     mediaSSRC,
			Overhead: overhead,
		},
	}
	t.SetBitrate(bitrate)
	return t
}

// tmmbFCI is the shared 8 byte FCI of TMMBR/TMMBN, RFC 5104 4.2.1.2:
// SSRC, 6 bit exponent, 17 bit mantissa, 9 bit measured overhead.
type tmmbFCI struct {
	SSRC     uint32
	Exp      uint8
	Mantissa uint32
	Overhead uint16
}

// Bitrate returns mantissa << exp in bits per second.
func (f *tmmbFCI) Bitrate() uint32 {
	return f.Mantissa << f.Exp
}

// SetBitrate picks the smallest exponent whose mantissa fits 17 bits.
func (f *tmmbFCI) SetBitrate(bps uint32) {
	exp := uint8(0)
	mantissa := bps
	for mantissa > 0x1FFFF {
		mantissa >>= 1
		exp++
	}
	f.Exp = exp
	f.Mantissa = mantissa
}

func (f *tmmbFCI) marshal() []byte {
	w := bitstream.NewWriter()
	w.Write(f.SSRC>>16, 16)
	w.Write(f.SSRC&0xFFFF, 16)
	w.Write(uint32(f.Exp), 6)
	w.Write(f.Mantissa, 17)
	w.Write(uint32(f.Overhead), 9)
	return w.Bytes()
}

func (f *tmmbFCI) unmarshal(buf []byte) error {
	if len(buf) < 8 {
		return ErrDecode
	}
	f.SSRC = binary.BigEndian.Uint32(buf[:4])
	r := bitstream.NewReader(buf[4:8])
	f.Exp = uint8(r.Read(6))
	f.Mantissa = r.Read(17)
	f.Overhead = uint16(r.Read(9))
	return nil
}

func marshalTMMB(fmt uint8, senderSSRC, mediaSSRC uint32, fci *tmmbFCI) ([]byte, error) {
	h := rtcp.Header{
		Count:  fmt,
		Type:   rtcp.TypeTransportSpecificFeedback,
		Length: 4, // sender + media + 8 byte FCI
	}
	hb, err := h.Marshal()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 20)
	buf = append(buf, hb...)
	buf = binary.BigEndian.AppendUint32(buf, senderSSRC)
	buf = binary.BigEndian.AppendUint32(buf, mediaSSRC)
	buf = append(buf, fci.marshal()...)
	return buf, nil
}

func unmarshalTMMB(raw []byte, wantFMT uint8, senderSSRC, mediaSSRC *uint32, fci *tmmbFCI) error {
	if len(raw) < 20 {
		return ErrDecode
	}
	var h rtcp.Header
	if err := h.Unmarshal(raw); err != nil {
		return err
	}
	if h.Type != rtcp.TypeTransportSpecificFeedback || h.Count != wantFMT {
		return ErrDecode
	}
	*senderSSRC = binary.BigEndian.Uint32(raw[4:8])
	*mediaSSRC = binary.BigEndian.Uint32(raw[8:12])
	return fci.unmarshal(raw[12:20])
}

// TMMBR is the temporary maximum media bitrate request (RFC 5104).
type TMMBR struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	tmmbFCI
}

func (t *TMMBR) Marshal() ([]byte, error) {
	return marshalTMMB(tmmbrFMT, t.SenderSSRC, t.MediaSSRC, &t.tmmbFCI)
}

func (t *TMMBR) Unmarshal(raw []byte) error {
	return unmarshalTMMB(raw, tmmbrFMT, &t.SenderSSRC, &t.MediaSSRC, &t.tmmbFCI)
}

func (t *TMMBR) MarshalSize() int { return 20 }

func (t *TMMBR) DestinationSSRC() []uint32 { return []uint32{t.MediaSSRC} }

// TMMBN is the temporary maximum media bitrate notification (RFC 5104).
type TMMBN struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	tmmbFCI
}

func (t *TMMBN) Marshal() ([]byte, error) {
	return marshalTMMB(tmmbnFMT, t.SenderSSRC, t.MediaSSRC, &t.tmmbFCI)
}

func (t *TMMBN) Unmarshal(raw []byte) error {
	return unmarshalTMMB(raw, tmmbnFMT, &t.SenderSSRC, &t.MediaSSRC, &t.tmmbFCI)
}

func (t *TMMBN) MarshalSize() int { return 20 }

func (t *TMMBN) DestinationSSRC() []uint32 { return []uint32{t.MediaSSRC} }
