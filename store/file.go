package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File is a durable scope persisted as one JSON object. Every write replaces the file
// through a temporary file and rename, so a crash leaves either the old or the new group.
type File struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// OpenFile loads the scope at path. A missing or unreadable JSON document yields an empty
// scope; stored values that cannot be parsed are treated as absent, not as an error.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	f := &File{path: filepath.Clean(path), data: make(map[string]string)}

	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, f.path, err)
	}
	var loaded map[string]string
	if json.Unmarshal(raw, &loaded) == nil && loaded != nil {
		f.data = loaded
	}
	return f, nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.copyLocked()
	for k, v := range entries {
		next[k] = v
	}
	return f.commitLocked(next)
}

func (f *File) Remove(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.copyLocked()
	for _, k := range keys {
		delete(next, k)
	}
	return f.commitLocked(next)
}

func (f *File) copyLocked() map[string]string {
	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}

func (f *File) commitLocked(next map[string]string) error {
	if err := writeFileAtomic(f.path, next); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.data = next
	return nil
}

func writeFileAtomic(path string, data map[string]string) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".authgate-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
