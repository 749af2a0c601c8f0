// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package audio

import (
	"encoding/binary"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavWriter records 16 bit LPCM into a WAV container. It is an io.Writer
// so it can stand in as a session's playout sink to capture a call leg;
// Close finalises the headers.
type WavWriter struct {
	enc        *wav.Encoder
	sampleRate int
}

func NewWavWriter(w io.WriteSeeker, sampleRate int) *WavWriter {
	return &WavWriter{
		enc:        wav.NewEncoder(w, sampleRate, 16, 1, 1),
		sampleRate: sampleRate,
	}
}

// Write consumes little endian 16 bit LPCM.
func (ww *WavWriter) Write(lpcm []byte) (int, error) {
	samples := make([]int, len(lpcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(lpcm[i*2:])))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: ww.sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := ww.enc.Write(buf); err != nil {
		return 0, err
	}
	return len(lpcm), nil
}

// Close patches the RIFF sizes; the file is not playable before.
func (ww *WavWriter) Close() error {
	return ww.enc.Close()
}
