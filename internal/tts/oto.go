//go:build !nocgo

package tts

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const backendOto = "oto"

// otoPollInterval is how often playback completion is checked.
const otoPollInterval = 10 * time.Millisecond

// otoReadyTimeout bounds audio device initialization.
const otoReadyTimeout = 5 * time.Second

// otoStallGrace is how long playback may overrun the audio's length
// before the device is considered stuck.
const otoStallGrace = 5 * time.Second

// OtoPlayer plays WAV audio in-process through the system audio device.
// oto allows one context per process, so the context is created from the
// first chunk's format and later chunks must match it.
type OtoPlayer struct {
	mu      sync.Mutex
	context *oto.Context
	format  PCMFormat
}

// NewOtoPlayer returns a player whose device is opened lazily.
func NewOtoPlayer() (*OtoPlayer, error) {
	return &OtoPlayer{}, nil
}

// Play decodes audio and blocks until the device has drained it.
// Cancelling ctx stops playback.
func (p *OtoPlayer) Play(ctx context.Context, audio []byte) error {
	wav, err := DecodeWAV(audio)
	if err != nil {
		return &Error{Backend: backendOto, Op: "play", Err: err}
	}

	octx, err := p.contextFor(wav.Format)
	if err != nil {
		return &Error{Backend: backendOto, Op: "play", Err: err}
	}

	player := octx.NewPlayer(bytes.NewReader(wav.Data))
	defer player.Close()
	player.Play()

	stalled := time.NewTimer(wav.Duration() + otoStallGrace)
	defer stalled.Stop()
	ticker := time.NewTicker(otoPollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return &Error{Backend: backendOto, Op: "play", Err: ctx.Err()}
		case <-stalled.C:
			player.Pause()
			return &Error{Backend: backendOto, Op: "play", Err: fmt.Errorf("playback of %v audio stalled", wav.Duration())}
		case <-ticker.C:
		}
	}
	return player.Err()
}

func (p *OtoPlayer) contextFor(format PCMFormat) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.context != nil {
		if format != p.format {
			return nil, fmt.Errorf("audio format %+v differs from device format %+v", format, p.format)
		}
		return p.context, nil
	}

	sampleFormat, err := otoFormat(format)
	if err != nil {
		return nil, err
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       sampleFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	select {
	case <-ready:
	case <-time.After(otoReadyTimeout):
		return nil, fmt.Errorf("audio context initialization timeout after %v", otoReadyTimeout)
	}

	p.context = octx
	p.format = format
	return octx, nil
}

func otoFormat(format PCMFormat) (oto.Format, error) {
	switch {
	case format.IsFloat && format.BitDepth == 32:
		return oto.FormatFloat32LE, nil
	case !format.IsFloat && format.BitDepth == 16:
		return oto.FormatSignedInt16LE, nil
	case !format.IsFloat && format.BitDepth == 8:
		return oto.FormatUnsignedInt8, nil
	}
	return 0, fmt.Errorf("unsupported sample format: %d-bit float=%v", format.BitDepth, format.IsFloat)
}
