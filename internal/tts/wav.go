package tts

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// WAV audio format tags
const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// ErrNotWAV is returned when audio bytes lack a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a WAV stream")

// PCMFormat describes decoded WAV sample data.
type PCMFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
	IsFloat    bool
}

// BytesPerFrame returns the bytes needed for one sample of every channel.
func (f PCMFormat) BytesPerFrame() int {
	return f.BitDepth / 8 * f.Channels
}

// WAV is a decoded WAV stream.
type WAV struct {
	Format PCMFormat
	Data   []byte
}

// Duration returns the playback length of the sample data.
func (w WAV) Duration() time.Duration {
	frame := w.Format.BytesPerFrame()
	if frame == 0 || w.Format.SampleRate == 0 {
		return 0
	}
	frames := len(w.Data) / frame
	return time.Duration(frames) * time.Second / time.Duration(w.Format.SampleRate)
}

// DecodeWAV reads the format of audio and returns it with the raw sample
// bytes, which are handed to the device unconverted.
//
// Synthesizers streaming to a pipe write placeholder sizes (0xFFFFFFFF or
// 0) because the length is unknown up front. A data size that is missing
// or runs past the end therefore means "until the end of the stream".
// Extensible headers are treated as integer PCM.
func DecodeWAV(audio []byte) (WAV, error) {
	if len(audio) < 12 || string(audio[0:4]) != "RIFF" || string(audio[8:12]) != "WAVE" {
		return WAV{}, ErrNotWAV
	}

	r := bytes.NewReader(audio)
	dec := wav.NewDecoder(r)
	if err := dec.FwdToPCM(); err != nil {
		return WAV{}, fmt.Errorf("read WAV headers: %w", err)
	}
	if dec.PCMChunk == nil {
		return WAV{}, errors.New("WAV stream has no data chunk")
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 || dec.BitDepth == 0 {
		return WAV{}, errors.New("WAV stream has no usable fmt chunk")
	}

	format := PCMFormat{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
	case wavFormatIEEEFloat:
		format.IsFloat = true
	default:
		return WAV{}, fmt.Errorf("unsupported WAV format tag %#x", dec.WavAudioFormat)
	}

	// The decoder stops with the reader at the first sample byte.
	start := len(audio) - r.Len()
	end := len(audio)
	if size := dec.PCMSize; size > 0 && size <= end-start {
		end = start + size
	}
	data := audio[start:end]
	if frame := format.BytesPerFrame(); frame > 0 {
		data = data[:len(data)-len(data)%frame]
	}
	return WAV{Format: format, Data: data}, nil
}
