package config

import (
	"fmt"
	"os"

	gap "github.com/muesli/go-app-paths"
)

const appName = "speak"

// ConfigFileName is the config file looked up in the user config directory
const ConfigFileName = "config.yaml"

// DefaultConfigPath returns the per-user config file location
// ($XDG_CONFIG_HOME/speak/config.yaml on Linux).
func DefaultConfigPath() (string, error) {
	scope := gap.NewScope(gap.User, appName)
	path, err := scope.ConfigPath(ConfigFileName)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

// ResolveRuntimeDir returns the directory holding the worker files.
// Priority order:
//  1. cfg.RuntimeDir (config file or SPEAK_HOME)
//  2. the user data directory (~/.local/share/speak on Linux)
//
// The directory is created if it doesn't exist
func ResolveRuntimeDir(cfg *Config) (string, error) {
	dir := cfg.RuntimeDir
	if dir == "" {
		scope := gap.NewScope(gap.User, appName)
		dataDir, err := scope.DataPath("")
		if err != nil {
			return "", fmt.Errorf("resolve data directory: %w", err)
		}
		dir = dataDir
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create runtime directory: %w", err)
	}

	return dir, nil
}
