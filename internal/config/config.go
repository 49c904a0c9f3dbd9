package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/harrison/speak/internal/models"
)

// Synthesis backends
const (
	SynthesisHTTP    = "http"
	SynthesisCommand = "command"
)

// Playback backends
const (
	PlaybackCommand = "command"
	PlaybackOto     = "oto"
)

// WorkerConfig controls the queueing daemon
type WorkerConfig struct {
	// IdleTimeout is how long the daemon waits without submissions before exiting
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"SPEAK_IDLE_TIMEOUT"`

	// MaxConnections bounds concurrently handled client connections
	MaxConnections int `yaml:"max_connections" env:"SPEAK_MAX_CONNECTIONS"`

	// BufferSize is how many synthesized chunks may wait for playback
	BufferSize int `yaml:"buffer_size" env:"SPEAK_BUFFER_SIZE"`

	// QueueSize is how many requests may wait for synthesis
	QueueSize int `yaml:"queue_size" env:"SPEAK_QUEUE_SIZE"`

	// PollInterval is how often the accept loop wakes to check for idleness
	PollInterval time.Duration `yaml:"poll_interval"`

	// HandlerTimeout bounds the time one connection may hold an admission slot
	HandlerTimeout time.Duration `yaml:"handler_timeout"`

	// MaxRequestBytes caps the size of one request body
	MaxRequestBytes int64 `yaml:"max_request_bytes"`

	// StartTimeout is how long a starter waits for the socket to appear
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// ClientConfig controls the submission path
type ClientConfig struct {
	// ConnectTimeout applies to dial, write and reply read
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// MaxRetries is the number of submission attempts
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the pause between attempts
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// SynthesisConfig selects and configures the speech synthesizer
type SynthesisConfig struct {
	Backend string `yaml:"backend" env:"SPEAK_SYNTHESIS_BACKEND"`

	// BaseURL of an OpenAI-compatible speech server (http backend)
	BaseURL string `yaml:"base_url" env:"SPEAK_SYNTHESIS_URL"`

	// Model name sent to the speech server (http backend)
	Model string `yaml:"model"`

	// RequestsPerSecond limits requests to the speech server, 0 disables limiting
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Command reads text on stdin and writes WAV on stdout (command backend).
	// Arguments may contain {voice}, {speed} and {lang} placeholders.
	Command []string `yaml:"command"`

	// Timeout bounds one synthesis call
	Timeout time.Duration `yaml:"timeout"`
}

// PlaybackConfig selects and configures the audio player
type PlaybackConfig struct {
	Backend string `yaml:"backend" env:"SPEAK_PLAYBACK_BACKEND"`

	// Command plays WAV audio. Audio is written to stdin unless an argument
	// contains the {file} placeholder, in which case a temp file is used.
	Command []string `yaml:"command"`

	// Timeout bounds one playback call, 0 means no limit
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig controls the playback journal
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" env:"SPEAK_HISTORY"`

	// KeepDays is how long journal entries are retained
	KeepDays int `yaml:"keep_days"`
}

// Config represents speak configuration options
type Config struct {
	// RuntimeDir holds worker.pid, worker.sock, worker.lock and worker.log
	RuntimeDir string `yaml:"runtime_dir" env:"SPEAK_HOME"`

	// Voice, Speed and Lang are the default speech parameters
	Voice string  `yaml:"voice" env:"SPEAK_VOICE"`
	Speed float64 `yaml:"speed" env:"SPEAK_SPEED"`
	Lang  string  `yaml:"lang" env:"SPEAK_LANG"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level" env:"SPEAK_LOG_LEVEL"`

	Worker    WorkerConfig    `yaml:"worker"`
	Client    ClientConfig    `yaml:"client"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Playback  PlaybackConfig  `yaml:"playback"`
	History   HistoryConfig   `yaml:"history"`
}

// DefaultPlaybackCommand streams WAV audio from stdin through ffplay.
func DefaultPlaybackCommand() []string {
	return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-f", "wav", "-i", "pipe:0"}
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Voice:    models.DefaultVoice,
		Speed:    models.DefaultSpeed,
		Lang:     models.DefaultLang,
		LogLevel: "info",
		Worker: WorkerConfig{
			IdleTimeout:     30 * time.Second,
			MaxConnections:  24,
			BufferSize:      3,
			QueueSize:       256,
			PollInterval:    time.Second,
			HandlerTimeout:  5 * time.Second,
			MaxRequestBytes: 1 << 20,
			StartTimeout:    5 * time.Second,
		},
		Client: ClientConfig{
			ConnectTimeout: 5 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
		},
		Synthesis: SynthesisConfig{
			Backend: SynthesisHTTP,
			BaseURL: "http://localhost:8880",
			Model:   "kokoro",
			Timeout: 60 * time.Second,
		},
		Playback: PlaybackConfig{
			Backend: PlaybackCommand,
			Command: DefaultPlaybackCommand(),
		},
		History: HistoryConfig{
			Enabled:  true,
			KeepDays: 7,
		},
	}
}

// LoadConfig loads configuration from the specified file path and applies
// SPEAK_* environment overrides.
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			// Unmarshal onto the defaults so omitted keys keep their values
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if cfg.RuntimeDir != "" {
		dir, err := homedir.Expand(cfg.RuntimeDir)
		if err != nil {
			return nil, fmt.Errorf("invalid runtime_dir %q: %w", cfg.RuntimeDir, err)
		}
		// The worker runs with the runtime directory as its working
		// directory, so client and worker must agree on an absolute path.
		if dir, err = filepath.Abs(dir); err != nil {
			return nil, fmt.Errorf("invalid runtime_dir %q: %w", cfg.RuntimeDir, err)
		}
		cfg.RuntimeDir = dir
	}

	return cfg, nil
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(voice *string, speed *float64, lang *string, logLevel *string) {
	if voice != nil {
		c.Voice = *voice
	}
	if speed != nil {
		c.Speed = *speed
	}
	if lang != nil {
		c.Lang = *lang
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
}

// Defaults returns the speech parameters applied to incomplete requests.
func (c *Config) Defaults() models.Defaults {
	return models.Defaults{
		Voice: c.Voice,
		Speed: c.Speed,
		Lang:  c.Lang,
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.Speed < models.MinSpeed || c.Speed > models.MaxSpeed {
		return fmt.Errorf("speed must be between %.1f and %.1f, got %.2f", models.MinSpeed, models.MaxSpeed, c.Speed)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	w := c.Worker
	if w.MaxConnections <= 0 {
		return fmt.Errorf("worker.max_connections must be > 0, got %d", w.MaxConnections)
	}
	if w.BufferSize <= 0 {
		return fmt.Errorf("worker.buffer_size must be > 0, got %d", w.BufferSize)
	}
	if w.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0, got %d", w.QueueSize)
	}
	if w.IdleTimeout <= 0 || w.PollInterval <= 0 || w.HandlerTimeout <= 0 || w.StartTimeout <= 0 {
		return fmt.Errorf("worker timeouts must be > 0")
	}
	if w.MaxRequestBytes <= 0 {
		return fmt.Errorf("worker.max_request_bytes must be > 0, got %d", w.MaxRequestBytes)
	}

	if c.Client.MaxRetries <= 0 {
		return fmt.Errorf("client.max_retries must be > 0, got %d", c.Client.MaxRetries)
	}
	if c.Client.ConnectTimeout <= 0 {
		return fmt.Errorf("client.connect_timeout must be > 0, got %v", c.Client.ConnectTimeout)
	}
	if c.Client.RetryBackoff < 0 {
		return fmt.Errorf("client.retry_backoff must be >= 0, got %v", c.Client.RetryBackoff)
	}

	switch c.Synthesis.Backend {
	case SynthesisHTTP:
		if c.Synthesis.BaseURL == "" {
			return fmt.Errorf("synthesis.base_url cannot be empty for the http backend")
		}
	case SynthesisCommand:
		if len(c.Synthesis.Command) == 0 {
			return fmt.Errorf("synthesis.command cannot be empty for the command backend")
		}
	default:
		return fmt.Errorf("invalid synthesis.backend %q, must be one of: http, command", c.Synthesis.Backend)
	}
	if c.Synthesis.RequestsPerSecond < 0 {
		return fmt.Errorf("synthesis.requests_per_second must be >= 0, got %v", c.Synthesis.RequestsPerSecond)
	}

	switch c.Playback.Backend {
	case PlaybackCommand:
		if len(c.Playback.Command) == 0 {
			return fmt.Errorf("playback.command cannot be empty for the command backend")
		}
	case PlaybackOto:
	default:
		return fmt.Errorf("invalid playback.backend %q, must be one of: command, oto", c.Playback.Backend)
	}

	if c.History.KeepDays < 0 {
		return fmt.Errorf("history.keep_days must be >= 0, got %d", c.History.KeepDays)
	}

	return nil
}
