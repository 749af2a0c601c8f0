// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package nodes

import (
	"github.com/goims/imsmedia/bitstream"
)

// RFC 4867 payload format for AMR and AMR-WB, bandwidth efficient and
// octet aligned. Speech frames enter and leave storage format (bits left
// aligned, the last byte zero padded at its low end).

const (
	amrCMRNone  = 15
	amrFTSID    = 8
	amrWBFTSID  = 9
	amrFTNoData = 15
)

// class A+B+C bits per frame type
var amrFrameBits = [16]int{95, 103, 118, 134, 148, 159, 204, 244, 39, 0, 0, 0, 0, 0, 0, 0}

var amrWBFrameBits = [16]int{132, 177, 253, 285, 317, 365, 397, 461, 477, 40, 0, 0, 0, 0, 0, 0}

func amrBits(ft int, wb bool) int {
	if ft < 0 || ft > 15 {
		return 0
	}
	if wb {
		return amrWBFrameBits[ft]
	}
	return amrFrameBits[ft]
}

func amrFrameBytes(ft int, wb bool) int {
	return (amrBits(ft, wb) + 7) / 8
}

// amrFrameTypeFromSize resolves the frame type of a storage format frame
// by its byte length.
func amrFrameTypeFromSize(size int, wb bool) (int, bool) {
	for ft := 0; ft < 16; ft++ {
		if amrBits(ft, wb) > 0 && amrFrameBytes(ft, wb) == size {
			return ft, true
		}
	}
	return 0, false
}

// amrIsSID reports a silence descriptor frame type.
func amrIsSID(ft int, wb bool) bool {
	if wb {
		return ft == amrWBFTSID
	}
	return ft == amrFTSID
}

// encodeAMR packs frames into one RTP payload with the given CMR.
func encodeAMR(frames [][]byte, cmr uint8, octetAligned, wb bool) ([]byte, error) {
	w := bitstream.NewWriter()

	w.Write(uint32(cmr), 4)
	if octetAligned {
		w.AddPadding()
	}

	fts := make([]int, len(frames))
	for i, f := range frames {
		ft, ok := amrFrameTypeFromSize(len(f), wb)
		if !ok {
			return nil, errBadFrameSize
		}
		fts[i] = ft

		followed := uint32(0)
		if i < len(frames)-1 {
			followed = 1
		}
		w.Write(followed, 1)
		w.Write(uint32(ft), 4)
		w.Write(1, 1) // frame quality
		if octetAligned {
			w.AddPadding()
		}
	}

	for i, f := range frames {
		if octetAligned {
			w.WriteBytes(f)
			continue
		}
		writeBitsFrom(w, f, amrBits(fts[i], wb))
	}
	return w.Bytes(), nil
}

// decodeAMR unpacks an RTP payload into storage format frames plus the
// carried codec mode request.
func decodeAMR(payload []byte, octetAligned, wb bool) (frames [][]byte, cmr uint8, err error) {
	if len(payload) < 2 {
		return nil, 0, errShortPayload
	}

	r := bitstream.NewReader(payload)
	cmr = uint8(r.Read(4))
	if octetAligned {
		r.Read(4)
	}

	var fts []int
	for {
		followed := r.Read(1)
		ft := int(r.Read(4))
		r.Read(1) // quality
		if octetAligned {
			r.Read(2)
		}
		if r.EOF() {
			return nil, 0, errShortPayload
		}
		fts = append(fts, ft)
		if followed == 0 {
			break
		}
	}

	for _, ft := range fts {
		if ft == amrFTNoData {
			frames = append(frames, nil)
			continue
		}
		bits := amrBits(ft, wb)
		if bits == 0 {
			return nil, 0, errBadFrameSize
		}

		var frame []byte
		if octetAligned {
			frame = make([]byte, amrFrameBytes(ft, wb))
			r.ReadBytes(frame)
		} else {
			frame = readBitsInto(r, bits)
		}
		if r.EOF() {
			return nil, 0, errShortPayload
		}
		frames = append(frames, frame)
	}
	return frames, cmr, nil
}

// writeBitsFrom appends the first nbits of the storage frame.
func writeBitsFrom(w *bitstream.Writer, data []byte, nbits int) {
	i := 0
	for ; nbits >= 8; nbits -= 8 {
		w.Write(uint32(data[i]), 8)
		i++
	}
	if nbits > 0 {
		w.Write(uint32(data[i])>>(8-uint8(nbits)), uint8(nbits))
	}
}

// readBitsInto reads nbits into a fresh storage format frame.
func readBitsInto(r *bitstream.Reader, nbits int) []byte {
	out := make([]byte, 0, (nbits+7)/8)
	for ; nbits >= 8; nbits -= 8 {
		out = append(out, byte(r.Read(8)))
	}
	if nbits > 0 {
		out = append(out, byte(r.Read(uint8(nbits)))<<(8-uint8(nbits)))
	}
	return out
}
