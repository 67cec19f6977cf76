package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/peermention/internal/paths"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// LoadLists reads lists.json from dir. A missing file yields the default
// record with both lists unset.
func LoadLists(dir string) (types.Lists, error) {
	data, err := os.ReadFile(paths.ListsFile(dir))
	if errors.Is(err, os.ErrNotExist) {
		return types.DefaultLists(), nil
	}
	if err != nil {
		return types.Lists{}, fmt.Errorf("read lists: %w", err)
	}
	var l types.Lists
	if err := json.Unmarshal(data, &l); err != nil {
		return types.Lists{}, fmt.Errorf("decode lists: %w", err)
	}
	return l.Normalize(), nil
}

// SaveLists replaces lists.json in dir.
func SaveLists(dir string, l types.Lists) error {
	data, err := json.MarshalIndent(l.Normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode lists: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return writeAtomic(paths.ListsFile(dir), append(data, '\n'), 0o644)
}

// writeAtomic replaces path through a synced temp file in the same directory.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("%s: %w", step, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("writing temp file", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail("chmod temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
