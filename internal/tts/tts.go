// Package tts holds the speech collaborators the speak daemon orchestrates:
// synthesizers turning text into WAV audio and players sending audio to a
// device. The daemon only depends on the Synthesizer and Player interfaces.
package tts

import (
	"context"
	"fmt"

	"github.com/harrison/speak/internal/models"
)

// Synthesizer converts one request into WAV audio bytes.
// Implementations may be slow and may fail for unknown voices or languages.
type Synthesizer interface {
	Synthesize(ctx context.Context, msg models.QueueMessage) ([]byte, error)
}

// Player plays WAV audio, blocking until the audio has finished.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// VoiceLister is implemented by synthesizers that can enumerate voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]string, error)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ctx context.Context, msg models.QueueMessage) ([]byte, error)

// Synthesize calls f.
func (f SynthesizerFunc) Synthesize(ctx context.Context, msg models.QueueMessage) ([]byte, error) {
	return f(ctx, msg)
}

// Error reports a failed collaborator operation.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
