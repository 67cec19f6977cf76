package drive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Memory is an in-process Store. Contents are lost on Detach.
type Memory struct {
	mu     sync.RWMutex
	drives map[string]*memDrive
}

type memDrive struct {
	writable bool
	files    map[string]memFile
}

type memFile struct {
	content   []byte
	metadata  map[string]string
	updatedAt time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{drives: make(map[string]*memDrive)}
}

// Create adds a drive or updates its writable flag.
func (m *Memory) Create(_ context.Context, host string, writable bool) error {
	if err := checkHost(host); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.drives[host]; ok {
		d.writable = writable
		return nil
	}
	m.drives[host] = &memDrive{writable: writable, files: make(map[string]memFile)}
	return nil
}

// Put stores a file regardless of the writable flag.
func (m *Memory) Put(_ context.Context, host, p string, content []byte, metadata map[string]string) error {
	if err := checkHost(host); err != nil {
		return err
	}
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drives[host]
	if !ok {
		d = &memDrive{files: make(map[string]memFile)}
		m.drives[host] = d
	}
	d.files[p] = memFile{
		content:   append([]byte(nil), content...),
		metadata:  copyMetadata(metadata),
		updatedAt: time.Now().UTC(),
	}
	return nil
}

// Hosts lists all drives ordered by host.
func (m *Memory) Hosts(_ context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.drives))
	for host, d := range m.drives {
		out = append(out, Info{Host: host, Writable: d.writable})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out, nil
}

// Files lists the files of host ordered by path.
func (m *Memory) Files(_ context.Context, host string) ([]types.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drives[host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDriveNotFound, host)
	}
	out := make([]types.FileInfo, 0, len(d.files))
	for p, f := range d.files {
		out = append(out, f.info(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Drive opens the drive for host.
func (m *Memory) Drive(_ context.Context, host string) (types.Drive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.drives[host]; !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDriveNotFound, host)
	}
	return &memHandle{host: host, store: m}, nil
}

// Writable reports whether host has a writable drive.
func (m *Memory) Writable(_ context.Context, host string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drives[host]
	return ok && d.writable, nil
}

// Detach drops all drives.
func (m *Memory) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drives = make(map[string]*memDrive)
	return nil
}

func (f memFile) info(p string) types.FileInfo {
	return types.FileInfo{
		Path:      p,
		Size:      int64(len(f.content)),
		Metadata:  copyMetadata(f.metadata),
		UpdatedAt: f.updatedAt,
	}
}

// memHandle implements types.Drive. It reads the writable flag at call time.
type memHandle struct {
	host  string
	store *Memory
}

func (h *memHandle) Host() string { return h.host }

func (h *memHandle) lookup(p string) (memFile, string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return memFile{}, "", err
	}
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	d, ok := h.store.drives[h.host]
	if !ok {
		return memFile{}, "", fmt.Errorf("%w: %s", types.ErrDriveNotFound, h.host)
	}
	f, ok := d.files[p]
	if !ok {
		return memFile{}, "", fmt.Errorf("%w: %s%s", types.ErrFileNotFound, h.host, p)
	}
	return f, p, nil
}

func (h *memHandle) Stat(_ context.Context, p string) (types.FileInfo, error) {
	f, clean, err := h.lookup(p)
	if err != nil {
		return types.FileInfo{}, err
	}
	return f.info(clean), nil
}

func (h *memHandle) ReadFile(_ context.Context, p string) ([]byte, error) {
	f, _, err := h.lookup(p)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), f.content...), nil
}

func (h *memHandle) WriteFile(_ context.Context, p string, data []byte, metadata map[string]string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	d, ok := h.store.drives[h.host]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrDriveNotFound, h.host)
	}
	if !d.writable {
		return fmt.Errorf("%w: %s", types.ErrNotWritable, h.host)
	}
	d.files[p] = memFile{
		content:   append([]byte(nil), data...),
		metadata:  copyMetadata(metadata),
		updatedAt: time.Now().UTC(),
	}
	return nil
}
