package types

import (
	"context"
	"errors"
	"time"
)

// FileInfo describes one file in a drive.
type FileInfo struct {
	Path      string
	Size      int64
	Metadata  map[string]string
	UpdatedAt time.Time
}

// Drive is a per-host content store. Paths are absolute ("/blog/post.html");
// a path ending in "/" names the directory index file.
type Drive interface {
	// Host returns the host name the drive serves.
	Host() string

	// Stat returns file information including metadata.
	// Returns ErrFileNotFound if no file exists at path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// ReadFile returns the file contents.
	// Returns ErrFileNotFound if no file exists at path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile creates or replaces the file at path.
	// Returns ErrNotWritable if the local actor lacks write authority.
	WriteFile(ctx context.Context, path string, data []byte, metadata map[string]string) error
}

// DriveProvider resolves drives by host and answers the authority check.
type DriveProvider interface {
	// Drive opens the drive for host.
	// Returns ErrDriveNotFound if the host has no drive.
	Drive(ctx context.Context, host string) (Drive, error)

	// Writable reports whether the local actor may write into the drive for
	// host. An unknown host is not writable and is not an error.
	Writable(ctx context.Context, host string) (bool, error)
}

// Drive store errors.
var (
	ErrDriveNotFound   = errors.New("drive not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrNotWritable     = errors.New("drive is not writable")
	ErrInvalidPath     = errors.New("invalid drive path")
	ErrInvalidHost     = errors.New("invalid drive host")
	ErrStoreDetached   = errors.New("drive store is detached")
	ErrAlreadyAttached = errors.New("drive store is already attached")
)
