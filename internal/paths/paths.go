// Package paths locates the peermention configuration and data directories.
//
// Both resolve flag first, then environment, then the platform default. The
// data directory also honors the data_dir value from config.yaml, which sits
// between the environment and the default.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "peermention"

// File names inside the configuration directory.
const (
	ConfigFileName = "config.yaml"
	ListsFileName  = "lists.json"
)

// Environment overrides.
const (
	EnvConfigDir = "PEERMENTION_CONFIG_DIR"
	EnvDataDir   = "PEERMENTION_DATA_DIR"
)

// platform is swapped in tests.
var platform = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// xdgDir returns $env/peermention, or ~/fallback/peermention when env is
// unset. Non-Linux platforms use os.UserConfigDir for both kinds.
func xdgDir(env string, fallback ...string) (string, error) {
	if platform.goos != "linux" {
		dir, err := platform.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if v := os.Getenv(env); v != "" {
		return filepath.Join(v, AppName), nil
	}
	home, err := platform.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...), nil
}

// DefaultConfigDir is $XDG_CONFIG_HOME/peermention on Linux (falling back to
// ~/.config) and the user config directory elsewhere.
func DefaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir is $XDG_DATA_HOME/peermention on Linux (falling back to
// ~/.local/share) and the user config directory elsewhere.
func DefaultDataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir returns flag, then $PEERMENTION_CONFIG_DIR, then
// DefaultConfigDir. Explicit values are made absolute.
func ResolveConfigDir(flag string) (string, error) {
	return resolve(DefaultConfigDir, flag, os.Getenv(EnvConfigDir))
}

// ResolveDataDir returns flag, then $PEERMENTION_DATA_DIR, then configured
// (data_dir in config.yaml), then DefaultDataDir.
func ResolveDataDir(flag, configured string) (string, error) {
	return resolve(DefaultDataDir, flag, os.Getenv(EnvDataDir), configured)
}

func resolve(def func() (string, error), candidates ...string) (string, error) {
	for _, c := range candidates {
		if c != "" {
			return filepath.Abs(c)
		}
	}
	return def()
}

// ConfigFile returns the config.yaml path inside dir.
func ConfigFile(dir string) string { return filepath.Join(dir, ConfigFileName) }

// ListsFile returns the lists.json path inside dir.
func ListsFile(dir string) string { return filepath.Join(dir, ListsFileName) }
