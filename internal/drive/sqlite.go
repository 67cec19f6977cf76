package drive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/peermention/pkg/types"
)

// dbFileName is the SQLite database inside DataDir.
const dbFileName = "drives.db"

// Backend stores drives and their files in SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach opens (or creates) the database under config.DataDir and applies
// the schema. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, dbFileName))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// One connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true
	return nil
}

// Detach closes the database. Idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		return err
	}
	return nil
}

// conn returns the open database or ErrStoreDetached.
// The caller must hold b.mu.
func (b *Backend) conn() (*sql.DB, error) {
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	return b.db, nil
}

// Create adds a drive or updates its writable flag.
func (b *Backend) Create(ctx context.Context, host string, writable bool) error {
	if err := checkHost(host); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO drives (host, writable, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(host) DO UPDATE SET writable = excluded.writable`,
		host, boolToInt(writable), now())
	if err != nil {
		return fmt.Errorf("create drive %s: %w", host, err)
	}
	return nil
}

// Put stores a file regardless of the writable flag, creating a read-only
// drive when host is unknown.
func (b *Backend) Put(ctx context.Context, host, p string, content []byte, metadata map[string]string) error {
	if err := checkHost(host); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO drives (host, writable, created_at) VALUES (?, 0, ?) ON CONFLICT(host) DO NOTHING",
		host, now())
	if err != nil {
		return fmt.Errorf("create drive %s: %w", host, err)
	}
	return upsertFile(ctx, db, host, p, content, metadata)
}

// Hosts lists all drives ordered by host.
func (b *Backend) Hosts(ctx context.Context) ([]Info, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT host, writable FROM drives ORDER BY host")
	if err != nil {
		return nil, fmt.Errorf("list drives: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var writable int
		if err := rows.Scan(&info.Host, &writable); err != nil {
			return nil, fmt.Errorf("scan drive: %w", err)
		}
		info.Writable = writable != 0
		out = append(out, info)
	}
	return out, rows.Err()
}

// Files lists the files of host ordered by path.
func (b *Backend) Files(ctx context.Context, host string) ([]types.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	if _, err := lookupDrive(ctx, db, host); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT path, length(content), metadata, updated_at FROM files WHERE host = ? ORDER BY path", host)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []types.FileInfo
	for rows.Next() {
		var fi types.FileInfo
		var meta, updated string
		if err := rows.Scan(&fi.Path, &fi.Size, &meta, &updated); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if err := hydrateInfo(&fi, meta, updated); err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// Drive opens the drive for host.
func (b *Backend) Drive(ctx context.Context, host string) (types.Drive, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	writable, err := lookupDrive(ctx, db, host)
	if err != nil {
		return nil, err
	}
	return &sqliteDrive{host: host, writable: writable, backend: b}, nil
}

// Writable reports whether host has a local writable drive.
func (b *Backend) Writable(ctx context.Context, host string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return false, err
	}
	writable, err := lookupDrive(ctx, db, host)
	if errors.Is(err, types.ErrDriveNotFound) {
		return false, nil
	}
	return writable, err
}

func lookupDrive(ctx context.Context, db *sql.DB, host string) (bool, error) {
	var writable int
	err := db.QueryRowContext(ctx, "SELECT writable FROM drives WHERE host = ?", host).Scan(&writable)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", types.ErrDriveNotFound, host)
	}
	if err != nil {
		return false, fmt.Errorf("lookup drive %s: %w", host, err)
	}
	return writable != 0, nil
}

// sqliteDrive implements types.Drive for one host.
type sqliteDrive struct {
	host     string
	writable bool
	backend  *Backend
}

func (d *sqliteDrive) Host() string { return d.host }

func (d *sqliteDrive) Stat(ctx context.Context, p string) (types.FileInfo, error) {
	p, err := cleanPath(p)
	if err != nil {
		return types.FileInfo{}, err
	}
	d.backend.mu.RLock()
	defer d.backend.mu.RUnlock()
	db, err := d.backend.conn()
	if err != nil {
		return types.FileInfo{}, err
	}

	fi := types.FileInfo{Path: p}
	var meta, updated string
	err = db.QueryRowContext(ctx,
		"SELECT length(content), metadata, updated_at FROM files WHERE host = ? AND path = ?",
		d.host, p).Scan(&fi.Size, &meta, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.FileInfo{}, fmt.Errorf("%w: %s%s", types.ErrFileNotFound, d.host, p)
	}
	if err != nil {
		return types.FileInfo{}, fmt.Errorf("stat %s%s: %w", d.host, p, err)
	}
	if err := hydrateInfo(&fi, meta, updated); err != nil {
		return types.FileInfo{}, err
	}
	return fi, nil
}

func (d *sqliteDrive) ReadFile(ctx context.Context, p string) ([]byte, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	d.backend.mu.RLock()
	defer d.backend.mu.RUnlock()
	db, err := d.backend.conn()
	if err != nil {
		return nil, err
	}

	var content []byte
	err = db.QueryRowContext(ctx,
		"SELECT content FROM files WHERE host = ? AND path = ?", d.host, p).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s%s", types.ErrFileNotFound, d.host, p)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s%s: %w", d.host, p, err)
	}
	return content, nil
}

func (d *sqliteDrive) WriteFile(ctx context.Context, p string, data []byte, metadata map[string]string) error {
	if !d.writable {
		return fmt.Errorf("%w: %s", types.ErrNotWritable, d.host)
	}
	d.backend.mu.RLock()
	defer d.backend.mu.RUnlock()
	db, err := d.backend.conn()
	if err != nil {
		return err
	}
	return upsertFile(ctx, db, d.host, p, data, metadata)
}

func upsertFile(ctx context.Context, db *sql.DB, host, p string, data []byte, metadata map[string]string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(copyMetadata(metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if data == nil {
		data = []byte{}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO files (host, path, content, metadata, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(host, path) DO UPDATE SET
		   content = excluded.content,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`,
		host, p, data, string(meta), now())
	if err != nil {
		return fmt.Errorf("write %s%s: %w", host, p, err)
	}
	return nil
}

func hydrateInfo(fi *types.FileInfo, meta, updated string) error {
	fi.Metadata = map[string]string{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &fi.Metadata); err != nil {
			return fmt.Errorf("decode metadata of %s: %w", fi.Path, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		fi.UpdatedAt = t
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
