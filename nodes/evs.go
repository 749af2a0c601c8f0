// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

// EVS RTP payload per 3GPP TS 26.445 annex A: compact format carries the
// bare frame whose size identifies the mode; header full format prefixes
// an optional CMR byte (high bit set) and one ToC byte per frame.

const (
	evsFTSID     = 12
	evsCMRNone   = 0x7F
	evsHeaderCMR = 0x80
	evsToCFollow = 0x40
)

// primary mode payload sizes in bytes, indexed by frame type
var evsPrimaryBytes = [13]int{7, 18, 20, 24, 33, 41, 61, 80, 120, 160, 240, 320, 6}

func evsFrameTypeFromSize(size int) (int, bool) {
	for ft, b := range evsPrimaryBytes {
		if b == size {
			return ft, true
		}
	}
	return 0, false
}

func evsFrameBytes(ft int) int {
	if ft < 0 || ft >= len(evsPrimaryBytes) {
		return 0
	}
	return evsPrimaryBytes[ft]
}

func evsIsSID(ft int) bool { return ft == evsFTSID }

// encodeEVSCompact is the compact format: the frame is the payload.
func encodeEVSCompact(frame []byte) ([]byte, error) {
	if _, ok := evsFrameTypeFromSize(len(frame)); !ok {
		return nil, errBadFrameSize
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// encodeEVSHeaderFull prefixes CMR (when requested) and ToC bytes.
func encodeEVSHeaderFull(frames [][]byte, cmr uint8) ([]byte, error) {
	size := len(frames)
	if cmr != evsCMRNone {
		size++
	}
	for _, f := range frames {
		size += len(f)
	}

	out := make([]byte, 0, size)
	if cmr != evsCMRNone {
		out = append(out, evsHeaderCMR|cmr&0x7F)
	}
	for i, f := range frames {
		ft, ok := evsFrameTypeFromSize(len(f))
		if !ok {
			return nil, errBadFrameSize
		}
		toc := byte(ft) & 0x3F
		if i < len(frames)-1 {
			toc |= evsToCFollow
		}
		out = append(out, toc)
	}
	for _, f := range frames {
		out = append(out, f...)
	}
	return out, nil
}

// decodeEVS handles both formats: a payload whose size matches a primary
// mode exactly is compact, anything else is parsed header full.
func decodeEVS(payload []byte, headerFullOnly bool) (frames [][]byte, cmr uint8, err error) {
	if len(payload) == 0 {
		return nil, evsCMRNone, errShortPayload
	}

	if !headerFullOnly {
		if _, ok := evsFrameTypeFromSize(len(payload)); ok {
			frame := make([]byte, len(payload))
			copy(frame, payload)
			return [][]byte{frame}, evsCMRNone, nil
		}
	}

	cmr = evsCMRNone
	pos := 0
	if payload[pos]&evsHeaderCMR != 0 {
		cmr = payload[pos] & 0x7F
		pos++
	}

	var fts []int
	for {
		if pos >= len(payload) {
			return nil, cmr, errShortPayload
		}
		toc := payload[pos]
		pos++
		fts = append(fts, int(toc&0x3F))
		if toc&evsToCFollow == 0 {
			break
		}
	}

	for _, ft := range fts {
		n := evsFrameBytes(ft)
		if n == 0 || pos+n > len(payload) {
			return nil, cmr, errShortPayload
		}
		frame := make([]byte, n)
		copy(frame, payload[pos:pos+n])
		pos += n
		frames = append(frames, frame)
	}
	return frames, cmr, nil
}
