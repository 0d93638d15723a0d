// Package prefs is the small durable key/value store the pipeline keeps its
// per-device state in: opt-out flag, sampling cache, cached remote
// configuration, ever-id and first-start/app-version markers.
package prefs

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Well-known keys.
const (
	KeyOptedOut         = "optedOut"
	KeyIsSampling       = "issampling"
	KeySampling         = "sampling"
	KeySamplingDevice   = "samplingDevice"
	KeyEverID           = "everId"
	KeyInstallationFlag = "InstallationFlag"
	KeyAppVersion       = "appVersion"
	KeyTrackingConfig   = "webtrekkTrackingConfiguration"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("prefs: store is closed")

// Store is a string key/value store that survives process restarts.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// GetBool reads a boolean; missing or unparsable values yield ok=false.
func GetBool(s Store, key string) (value, ok bool, err error) {
	raw, found, err := s.Get(key)
	if err != nil || !found {
		return false, false, err
	}
	b, perr := strconv.ParseBool(raw)
	if perr != nil {
		return false, false, nil
	}
	return b, true, nil
}

// SetBool stores a boolean.
func SetBool(s Store, key string, value bool) error {
	return s.Set(key, strconv.FormatBool(value))
}

// GetInt reads an integer; missing or unparsable values yield ok=false.
func GetInt(s Store, key string) (value int, ok bool, err error) {
	raw, found, err := s.Get(key)
	if err != nil || !found {
		return 0, false, err
	}
	n, perr := strconv.Atoi(raw)
	if perr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// SetInt stores an integer.
func SetInt(s Store, key string, value int) error {
	return s.Set(key, strconv.Itoa(value))
}

// Open creates a store for the given backend name: "file", "sqlite" or
// "memory".
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLStore(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("prefs: unknown backend %q (expected file, sqlite or memory)", backend)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
