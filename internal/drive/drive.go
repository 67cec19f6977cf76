// Package drive implements the per-host content store that mention records
// and verified resources are read from. Each host owns one drive; a drive is
// writable only when the local actor holds authority over it.
//
// Two backends are provided: SQLite for durable local drives and an
// in-memory store for tests and throwaway runs.
package drive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/mesh-intelligence/peermention/pkg/types"
)

// IndexFile is the file served for directory paths.
const IndexFile = "index.html"

// Info summarizes one drive.
type Info struct {
	Host     string `json:"host"`
	Writable bool   `json:"writable"`
}

// Store is a DriveProvider that can also create drives and enumerate them.
type Store interface {
	types.DriveProvider

	// Create adds a drive for host, or updates its writable flag.
	Create(ctx context.Context, host string, writable bool) error

	// Hosts lists all drives.
	Hosts(ctx context.Context) ([]Info, error)

	// Put stores a file regardless of the writable flag, creating a
	// read-only drive when host is unknown. It seeds content the local actor
	// merely mirrors.
	Put(ctx context.Context, host, path string, content []byte, metadata map[string]string) error

	// Files lists the files of the drive for host.
	Files(ctx context.Context, host string) ([]types.FileInfo, error)

	// Detach releases backend resources. Idempotent.
	Detach() error
}

// Open creates and attaches the store described by cfg.
func Open(cfg types.Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case types.BackendMemory:
		return NewMemory(), nil
	default:
		b := NewBackend()
		if err := b.Attach(cfg); err != nil {
			return nil, fmt.Errorf("attach drive store: %w", err)
		}
		return b, nil
	}
}

// cleanPath maps p onto the stored file path: absolute, cleaned, with
// directory paths resolved to their index file.
func cleanPath(p string) (string, error) {
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidPath, p)
	}
	dir := strings.HasSuffix(p, "/")
	p = path.Clean(p)
	if dir {
		p = path.Join(p, IndexFile)
	}
	return p, nil
}

func checkHost(host string) error {
	if host == "" || strings.ContainsAny(host, "/ ") {
		return fmt.Errorf("%w: %q", types.ErrInvalidHost, host)
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
