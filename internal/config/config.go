// Package config loads config.yaml and the lists.json access record from the
// configuration directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/peermention/internal/paths"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Config keys.
const (
	KeyEndpoint     = "endpoint"
	KeyBackend      = "backend"
	KeyDataDir      = "data_dir"
	KeyTopic        = "topic"
	KeyRelayURL     = "relay_url"
	KeyPeerTimeout  = "peer_timeout"
	KeyFetchTimeout = "fetch_timeout"
	KeyLogLevel     = "log_level"
	KeyLogFormat    = "log_format"
	KeyMetricsAddr  = "metrics_addr"
)

// EnvPrefix prefixes environment overrides, e.g. PEERMENTION_RELAY_URL.
const EnvPrefix = "PEERMENTION"

// Defaults.
const (
	DefaultPeerTimeout  = 60 * time.Second
	DefaultFetchTimeout = 15 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
)

// ErrInvalidTimeout is returned when a configured timeout is not positive.
var ErrInvalidTimeout = errors.New("timeout must be positive")

// File is the shape written to a fresh config.yaml.
type File struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	Backend     string `yaml:"backend"`
	DataDir     string `yaml:"data_dir,omitempty"`
	Topic       string `yaml:"topic"`
	RelayURL    string `yaml:"relay_url,omitempty"`
	PeerTimeout string `yaml:"peer_timeout"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// DefaultFile returns the config.yaml written on first run.
func DefaultFile() File {
	return File{
		Backend:     types.BackendSQLite,
		Topic:       types.DefaultTopic,
		PeerTimeout: DefaultPeerTimeout.String(),
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
	}
}

// Runtime is the resolved configuration of one process.
type Runtime struct {
	// Endpoint is this node's Webmention endpoint URL. Targets whose
	// endpoint metadata names it are handled here.
	Endpoint string

	Backend string

	// DataDir is the raw data_dir value; resolve it with paths.ResolveDataDir.
	DataDir string

	Topic        string
	RelayURL     string
	PeerTimeout  time.Duration
	FetchTimeout time.Duration
	LogLevel     string
	LogFormat    string
	MetricsAddr  string
}

// Load reads config.yaml from dir, writing the default file first when it is
// missing. Environment variables override file values.
func Load(dir string) (Runtime, error) {
	if _, err := WriteIfMissing(dir, DefaultFile()); err != nil {
		return Runtime{}, err
	}

	v := viper.New()
	v.SetDefault(KeyBackend, types.BackendSQLite)
	v.SetDefault(KeyTopic, types.DefaultTopic)
	v.SetDefault(KeyPeerTimeout, DefaultPeerTimeout)
	v.SetDefault(KeyFetchTimeout, DefaultFetchTimeout)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(paths.ConfigFile(dir))
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Runtime{}, fmt.Errorf("read config: %w", err)
		}
	}

	rt := Runtime{
		Endpoint:     v.GetString(KeyEndpoint),
		Backend:      v.GetString(KeyBackend),
		DataDir:      v.GetString(KeyDataDir),
		Topic:        v.GetString(KeyTopic),
		RelayURL:     v.GetString(KeyRelayURL),
		PeerTimeout:  v.GetDuration(KeyPeerTimeout),
		FetchTimeout: v.GetDuration(KeyFetchTimeout),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFormat:    v.GetString(KeyLogFormat),
		MetricsAddr:  v.GetString(KeyMetricsAddr),
	}
	if err := rt.Validate(); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

// Validate checks the backend name and timeouts.
func (r Runtime) Validate() error {
	if err := (types.Config{Backend: r.Backend, DataDir: r.DataDir}).Validate(); err != nil {
		return fmt.Errorf("%s: %w", KeyBackend, err)
	}
	if r.PeerTimeout <= 0 {
		return fmt.Errorf("%s: %w", KeyPeerTimeout, ErrInvalidTimeout)
	}
	if r.FetchTimeout <= 0 {
		return fmt.Errorf("%s: %w", KeyFetchTimeout, ErrInvalidTimeout)
	}
	return nil
}

// WriteIfMissing creates dir and writes f as config.yaml unless the file
// exists. It reports whether the file was written.
func WriteIfMissing(dir string, f File) (bool, error) {
	path := paths.ConfigFile(dir)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := writeAtomic(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
