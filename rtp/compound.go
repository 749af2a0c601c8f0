// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package rtp

import (
	"encoding/binary"

	"github.com/pion/rtcp"
)

// UnmarshalCompound walks a received RTCP compound. It trusts each header
// length for advancing but clamps to the end of the buffer, skips unknown
// payload types, and keeps parsing after an unrecognised leading packet so
// XR led compounds observed in the wild still yield their tail.
func UnmarshalCompound(buf []byte) ([]rtcp.Packet, error) {
	if len(buf) < 4 {
		return nil, ErrDecode
	}

	var out []rtcp.Packet
	for len(buf) >= 4 {
		var h rtcp.Header
		if err := h.Unmarshal(buf); err != nil {
			break
		}

		claimed := (int(h.Length) + 1) * 4
		if claimed > len(buf) {
			claimed = len(buf)
		}
		seg := buf[:claimed]

		if pkt := unmarshalSegment(h, seg); pkt != nil {
			out = append(out, pkt)
		}
		buf = buf[claimed:]
	}

	if len(out) == 0 {
		return nil, ErrDecode
	}
	return out, nil
}

func unmarshalSegment(h rtcp.Header, seg []byte) rtcp.Packet {
	switch h.Type {
	case rtcp.TypeApplicationDefined:
		app := &APPPacket{}
		if err := app.Unmarshal(seg); err != nil {
			return nil
		}
		return app

	case rtcp.TypeTransportSpecificFeedback:
		switch h.Count {
		case tmmbrFMT:
			t := &TMMBR{}
			if err := t.Unmarshal(seg); err != nil {
				return nil
			}
			return t
		case tmmbnFMT:
			t := &TMMBN{}
			if err := t.Unmarshal(seg); err != nil {
				return nil
			}
			return t
		}
	}

	pkts, err := rtcp.Unmarshal(seg)
	if err != nil || len(pkts) == 0 {
		// malformed segment: dropped; the compound only fails to decode
		// when no segment survives
		return nil
	}
	if _, unknown := pkts[0].(*rtcp.RawPacket); unknown {
		// unknown payload type: skipped
		return nil
	}
	return pkts[0]
}

// APPPacket is the application defined RTCP packet (PT 204). Decoding
// follows the permissive layout of deployed IMS stacks: the four bytes
// after the common header are the ASCII name and everything that remains
// is application data, preserved verbatim even when the header length
// disagrees with the buffer.
type APPPacket struct {
	SubType uint8
	SSRC    uint32
	Name    uint32
	Data    []byte
}

func (a *APPPacket) Unmarshal(raw []byte) error {
	if len(raw) < 8 {
		return ErrDecode
	}
	var h rtcp.Header
	if err := h.Unmarshal(raw); err != nil {
		return err
	}
	a.SubType = h.Count
	a.Name = binary.BigEndian.Uint32(raw[4:8])
	a.Data = append(a.Data[:0], raw[8:]...)
	return nil
}

// Marshal writes the RFC 3550 6.7 layout: header, SSRC, name, data padded
// to a word boundary.
func (a *APPPacket) Marshal() ([]byte, error) {
	dataLen := (len(a.Data) + 3) &^ 3
	h := rtcp.Header{
		Count:  a.SubType,
		Type:   rtcp.TypeApplicationDefined,
		Length: uint16((12+dataLen)/4 - 1),
	}
	hb, err := h.Marshal()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 12+dataLen)
	copy(buf, hb)
	binary.BigEndian.PutUint32(buf[4:8], a.SSRC)
	binary.BigEndian.PutUint32(buf[8:12], a.Name)
	copy(buf[12:], a.Data)
	return buf, nil
}

func (a *APPPacket) MarshalSize() int {
	return 12 + (len(a.Data)+3)&^3
}

func (a *APPPacket) DestinationSSRC() []uint32 {
	return []uint32{a.SSRC}
}
