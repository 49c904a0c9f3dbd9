//go:build nocgo

package tts

import (
	"context"
	"errors"
)

// OtoPlayer is unavailable in builds without cgo.
type OtoPlayer struct{}

// NewOtoPlayer reports that in-process playback was compiled out.
func NewOtoPlayer() (*OtoPlayer, error) {
	return nil, errors.New("oto playback requires a cgo build; use playback.backend: command")
}

// Play never succeeds in nocgo builds.
func (p *OtoPlayer) Play(ctx context.Context, audio []byte) error {
	return &Error{Backend: "oto", Op: "play", Err: errors.New("not available in nocgo builds")}
}
