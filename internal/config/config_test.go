package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Voice != "am_echo" {
		t.Errorf("Voice = %q, want am_echo", cfg.Voice)
	}
	if cfg.Speed != 1.0 {
		t.Errorf("Speed = %v, want 1.0", cfg.Speed)
	}
	if cfg.Lang != "en-us" {
		t.Errorf("Lang = %q, want en-us", cfg.Lang)
	}
	if cfg.Worker.IdleTimeout != 30*time.Second {
		t.Errorf("Worker.IdleTimeout = %v, want 30s", cfg.Worker.IdleTimeout)
	}
	if cfg.Worker.MaxConnections != 24 {
		t.Errorf("Worker.MaxConnections = %d, want 24", cfg.Worker.MaxConnections)
	}
	if cfg.Worker.BufferSize != 3 {
		t.Errorf("Worker.BufferSize = %d, want 3", cfg.Worker.BufferSize)
	}
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("Client.MaxRetries = %d, want 3", cfg.Client.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoadConfigValidFile tests loading a valid YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `voice: af_sarah
speed: 1.2
worker:
  idle_timeout: 2m
  max_connections: 4
synthesis:
  backend: command
  command: ["piper", "--model", "{voice}", "--output_file", "-"]
playback:
  backend: oto
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Voice != "af_sarah" {
		t.Errorf("Voice = %q, want af_sarah", cfg.Voice)
	}
	if cfg.Speed != 1.2 {
		t.Errorf("Speed = %v, want 1.2", cfg.Speed)
	}
	if cfg.Worker.IdleTimeout != 2*time.Minute {
		t.Errorf("Worker.IdleTimeout = %v, want 2m", cfg.Worker.IdleTimeout)
	}
	if cfg.Worker.MaxConnections != 4 {
		t.Errorf("Worker.MaxConnections = %d, want 4", cfg.Worker.MaxConnections)
	}
	// Omitted keys keep defaults
	if cfg.Worker.BufferSize != 3 {
		t.Errorf("Worker.BufferSize = %d, want default 3", cfg.Worker.BufferSize)
	}
	if cfg.Lang != "en-us" {
		t.Errorf("Lang = %q, want default en-us", cfg.Lang)
	}
	if got := strings.Join(cfg.Synthesis.Command, " "); got != "piper --model {voice} --output_file -" {
		t.Errorf("Synthesis.Command = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// TestLoadConfigMissingFile returns defaults without error
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Voice != "am_echo" {
		t.Errorf("Voice = %q, want default", cfg.Voice)
	}
}

// TestLoadConfigMalformed reports parse errors
func TestLoadConfigMalformed(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("voice: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

// TestLoadConfigEnvOverrides checks SPEAK_* variables win over the file
func TestLoadConfigEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("voice: af_sarah\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runtimeDir := t.TempDir()
	t.Setenv("SPEAK_VOICE", "bm_fable")
	t.Setenv("SPEAK_IDLE_TIMEOUT", "5s")
	t.Setenv("SPEAK_HOME", runtimeDir)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Voice != "bm_fable" {
		t.Errorf("Voice = %q, want bm_fable", cfg.Voice)
	}
	if cfg.Worker.IdleTimeout != 5*time.Second {
		t.Errorf("Worker.IdleTimeout = %v, want 5s", cfg.Worker.IdleTimeout)
	}
	if cfg.RuntimeDir != runtimeDir {
		t.Errorf("RuntimeDir = %q, want %q", cfg.RuntimeDir, runtimeDir)
	}
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	voice := "af_nova"
	speed := 1.5

	cfg.MergeWithFlags(&voice, &speed, nil, nil)

	if cfg.Voice != "af_nova" {
		t.Errorf("Voice = %q, want af_nova", cfg.Voice)
	}
	if cfg.Speed != 1.5 {
		t.Errorf("Speed = %v, want 1.5", cfg.Speed)
	}
	if cfg.Lang != "en-us" {
		t.Errorf("Lang = %q, nil flag must not override", cfg.Lang)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"speed too slow", func(c *Config) { c.Speed = 0.1 }, "speed"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"zero connections", func(c *Config) { c.Worker.MaxConnections = 0 }, "max_connections"},
		{"zero buffer", func(c *Config) { c.Worker.BufferSize = 0 }, "buffer_size"},
		{"zero retries", func(c *Config) { c.Client.MaxRetries = 0 }, "max_retries"},
		{"unknown synthesis", func(c *Config) { c.Synthesis.Backend = "cloud" }, "synthesis.backend"},
		{"command synthesis without command", func(c *Config) { c.Synthesis.Backend = SynthesisCommand }, "synthesis.command"},
		{"unknown playback", func(c *Config) { c.Playback.Backend = "speaker" }, "playback.backend"},
		{"empty playback command", func(c *Config) { c.Playback.Command = nil }, "playback.command"},
		{"negative keep days", func(c *Config) { c.History.KeepDays = -1 }, "keep_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveRuntimeDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "speak")
	cfg := DefaultConfig()
	cfg.RuntimeDir = dir

	got, err := ResolveRuntimeDir(cfg)
	if err != nil {
		t.Fatalf("ResolveRuntimeDir() error = %v", err)
	}
	if got != dir {
		t.Errorf("ResolveRuntimeDir() = %q, want %q", got, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("runtime dir was not created: %v", err)
	}
}

func TestLoadConfigRelativeRuntimeDirIsAbsolute(t *testing.T) {
	base := t.TempDir()
	chdir(t, base)
	t.Setenv("SPEAK_HOME", filepath.Join("state", "speak"))

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	want := filepath.Join(base, "state", "speak")
	if cfg.RuntimeDir != want {
		t.Errorf("RuntimeDir = %q, want %q", cfg.RuntimeDir, want)
	}

	// Another working directory must not change where the worker files live.
	chdir(t, t.TempDir())
	dir, err := ResolveRuntimeDir(cfg)
	if err != nil {
		t.Fatalf("ResolveRuntimeDir() error = %v", err)
	}
	if dir != want {
		t.Errorf("ResolveRuntimeDir() = %q, want %q", dir, want)
	}
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
