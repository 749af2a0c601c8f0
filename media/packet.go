// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package media holds the datum types shared by every pipeline node: the
// packet descriptor, the inter node queue and the wall clock / RTP time math.
package media

// Type identifies the media a session or node carries.
type Type int

const (
	TypeAudio Type = iota
	TypeVideo
	TypeText
)

func (t Type) String() string {
	switch t {
	case TypeAudio:
		return "audio"
	case TypeVideo:
		return "video"
	case TypeText:
		return "text"
	}
	return "unknown"
}

// SubType tags what the descriptor bytes are, so a consumer node knows how
// to treat them without sniffing the buffer.
type SubType int

const (
	SubUndefined SubType = iota
	// SubMedia is compressed media straight out of an encoder or into a decoder.
	SubMedia
	// SubRTPPayload is a formed RTP payload (after payload encode / before payload decode).
	SubRTPPayload
	// SubRTPPacket is a complete RTP packet on the wire.
	SubRTPPacket
	// SubRTCPPacket is a complete RTCP compound on the wire.
	SubRTCPPacket
	// SubDTMF is an RFC 4733 event payload.
	SubDTMF
	SubDTMFEnd
	// SubAudioNoData is an empty playout tick descriptor from the jitter buffer.
	SubAudioNoData
	// SubRefreshed marks a decoder refresh point (IDR boundary).
	SubRefreshed
	// SubControl carries an inline control message between nodes.
	SubControl
)

// FrameType tags the video frame kind carried by a descriptor.
type FrameType int

const (
	FrameUndefined FrameType = iota
	FrameIDR
	FrameInter
	// FrameConfig carries VPS/SPS/PPS parameter sets.
	FrameConfig
)

// Packet is the descriptor passed between nodes. Ownership of Data moves
// with the descriptor; a node that forwards to several rears must clone.
type Packet struct {
	Data      []byte
	Timestamp uint32
	Marker    bool
	Seq       uint16
	Sub       SubType
	Frame     FrameType

	// ArrivalTime is the wall clock receive time in milliseconds.
	ArrivalTime int64

	// Header marks the first fragment of a fragmented frame.
	Header bool
	// Valid marks a fully reassembled frame.
	Valid bool
}

// Clone deep copies the descriptor including its byte buffer.
func (p *Packet) Clone() *Packet {
	cp := *p
	cp.Data = make([]byte, len(p.Data))
	copy(cp.Data, p.Data)
	return &cp
}
