// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package audio provides the software audio helpers the pipeline's source
// and player nodes build on: a RIFF/WAV PCM reader for file backed capture
// and G.711 codec strategies for self contained encode/decode.
package audio

import (
	"io"

	"github.com/go-audio/riff"
)

// WavReader streams raw PCM out of a WAV container. It parses headers up
// to the data chunk and then serves plain Read calls, so a source node can
// treat a file like a capture device.
type WavReader struct {
	riff.Parser
	chunkData *riff.Chunk
	DataSize  int
}

func NewWavReader(r io.Reader) *WavReader {
	parser := riff.New(r)
	return &WavReader{Parser: *parser}
}

// ReadHeaders parses the RIFF headers up to and including the data chunk.
func (r *WavReader) ReadHeaders() error {
	if err := r.readFmt(); err != nil {
		return err
	}
	return r.readDataChunk()
}

// SampleRate returns the container sample rate; valid after ReadHeaders.
func (r *WavReader) SampleRate() uint32 {
	return r.Parser.SampleRate
}

func (r *WavReader) readFmt() error {
	if err := r.Parser.ParseHeaders(); err != nil {
		return err
	}
	for {
		chunk, err := r.NextChunk()
		if err != nil {
			return err
		}
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}
		return chunk.DecodeWavHeader(&r.Parser)
	}
}

func (r *WavReader) readDataChunk() error {
	for {
		chunk, err := r.NextChunk()
		if err != nil {
			return err
		}
		if chunk.ID != riff.DataFormatID {
			chunk.Drain()
			continue
		}
		r.chunkData = chunk
		r.DataSize = chunk.Size
		return nil
	}
}

// Read returns the PCM stream underneath the data chunk.
func (r *WavReader) Read(buf []byte) (n int, err error) {
	if r.chunkData == nil {
		if err := r.readDataChunk(); err != nil {
			return 0, err
		}
	}
	return r.chunkData.Read(buf)
}
