// Package paths resolves the configuration and data directories for the
// devstore CLI.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDirName is the CWD-relative data directory used when nothing
// overrides it, keeping database files next to the deployment.
const DefaultDataDirName = ".devstore-db"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "DEVSTORE_CONFIG_DIR"
	EnvDataDir   = "DEVSTORE_DATA_DIR"
)

// DefaultConfigDir returns the platform default configuration directory:
// $XDG_CONFIG_HOME/devstore (or ~/.config/devstore) on Linux, the user
// config directory (~/Library/Application Support, %APPDATA%) elsewhere.
func DefaultConfigDir() (string, error) {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform default data directory:
// $XDG_DATA_HOME/devstore (or ~/.local/share/devstore) on Linux, the user
// config directory elsewhere.
func DefaultDataDir() (string, error) {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// platformDir resolves the devstore subdirectory of the platform base
// directory. Only Linux distinguishes config from data; macOS and Windows
// keep both under the user config directory.
func platformDir(xdgEnv, homeFallback string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "devstore"), nil
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return filepath.Join(xdg, "devstore"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeFallback, "devstore"), nil
}

// ResolveConfigDir returns the configuration directory, absolute, following
// the precedence chain: flag > DEVSTORE_CONFIG_DIR env > platform default.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory, absolute, following the
// precedence chain: flag > config.yaml value > DEVSTORE_DATA_DIR env >
// $(CWD)/.devstore-db.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configYAMLValue != "" {
		return filepath.Abs(configYAMLValue)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}
