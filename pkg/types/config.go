package types

import "errors"

// Config selects the drive store backend.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`

	// DataDir holds the SQLite database. The memory backend ignores it.
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
)

// backends maps each accepted backend to whether it outlives the process.
var backends = map[string]bool{
	BackendSQLite: true,
	BackendMemory: false,
}

// Validate returns ErrBackendEmpty or ErrBackendUnknown for a bad backend.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if _, ok := backends[c.Backend]; !ok {
		return ErrBackendUnknown
	}
	return nil
}

// Persistent reports whether drives written through c survive a restart.
func (c Config) Persistent() bool {
	return backends[c.Backend]
}
