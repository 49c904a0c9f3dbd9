package tts

import (
	"fmt"

	"github.com/harrison/speak/internal/config"
)

// NewSynthesizer returns the synthesizer selected by cfg.Backend.
func NewSynthesizer(cfg config.SynthesisConfig) (Synthesizer, error) {
	switch cfg.Backend {
	case config.SynthesisHTTP:
		return NewClient(cfg), nil
	case config.SynthesisCommand:
		return NewCommandSynthesizer(cfg.Command, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown synthesis backend %q", cfg.Backend)
	}
}

// NewPlayer returns the player selected by cfg.Backend.
func NewPlayer(cfg config.PlaybackConfig) (Player, error) {
	switch cfg.Backend {
	case config.PlaybackCommand:
		return NewCommandPlayer(cfg.Command, cfg.Timeout)
	case config.PlaybackOto:
		return NewOtoPlayer()
	default:
		return nil, fmt.Errorf("unknown playback backend %q", cfg.Backend)
	}
}
