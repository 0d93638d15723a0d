package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all keys in one JSON document. Every write rewrites the
// document via temp file + rename, so a crash leaves either the old or the
// new state on disk.
type FileStore struct {
	path   string
	mu     sync.Mutex
	data   map[string]string
	closed bool
}

// NewFileStore loads (or starts) the JSON document at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("read prefs file: %w", err)
	}
	if len(raw) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, fmt.Errorf("unmarshal prefs file: %w", err)
	}
	return fs, nil
}

func (fs *FileStore) Get(key string) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return "", false, ErrClosed
	}
	v, ok := fs.data[key]
	return v, ok, nil
}

func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	prev, had := fs.data[key]
	fs.data[key] = value
	if err := fs.flush(); err != nil {
		if had {
			fs.data[key] = prev
		} else {
			delete(fs.data, key)
		}
		return err
	}
	return nil
}

func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	prev, had := fs.data[key]
	if !had {
		return nil
	}
	delete(fs.data, key)
	if err := fs.flush(); err != nil {
		fs.data[key] = prev
		return err
	}
	return nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	return nil
}

// syncFile flushes the temp file to stable storage before the rename.
var syncFile = (*os.File).Sync

// flush writes the document to a temp file then renames it over the target.
func (fs *FileStore) flush() error {
	data, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := syncFile(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename to target: %w", err)
	}
	return nil
}
