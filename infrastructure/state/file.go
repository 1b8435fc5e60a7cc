package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileBackend implements PersistenceBackend as one file per key under a
// root directory, written via create-temp-then-rename so a crash mid-write
// never leaves a half-written snapshot in place (used by the experience,
// outcome, and goal stores' periodic overwrite, spec §4.H/§4.I/§4.K).
type FileBackend struct {
	mu   sync.Mutex
	root string
}

// NewFileBackend creates a FileBackend rooted at dir, creating it if
// necessary.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create root dir: %w", err)
	}
	return &FileBackend{root: dir}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.root, sanitizeKey(key))
}

// sanitizeKey maps a logical key to a safe filename, since keys may carry
// ":" separators (e.g. "experience:buffer").
func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(key) + ".json"
}

// Save atomically overwrites key's file: write to a temp file in the same
// directory, fsync, then rename over the destination.
func (f *FileBackend) Save(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dest := f.path(key)
	tmp, err := os.CreateTemp(f.root, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: rename temp file: %w", err)
	}
	return nil
}

// Load reads key's current file contents.
func (f *FileBackend) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Delete removes key's file, if present.
func (f *FileBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns every key under this backend whose sanitized filename
// starts with prefix.
func (f *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	sanitizedPrefix := sanitizeKey(prefix)
	sanitizedPrefix = strings.TrimSuffix(sanitizedPrefix, ".json")

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if !strings.HasPrefix(entry.Name(), sanitizedPrefix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op: a FileBackend holds no long-lived handles.
func (f *FileBackend) Close(ctx context.Context) error { return nil }

// Quarantine moves key's file aside into a `.corrupted/` (or
// `.quarantine/`) subdirectory rather than deleting it, per spec §4.H/§4.I
// "skip oversize files with quarantine" / "corrupted files moved to a
// .corrupted/ subdirectory".
func (f *FileBackend) Quarantine(key, subdir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := f.path(key)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	dir := filepath.Join(f.root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(dir, filepath.Base(src))
	return os.Rename(src, dest)
}
