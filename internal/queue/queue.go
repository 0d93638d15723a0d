// Package queue implements the bounded, file-backed FIFO of delivery strings
// that sits between record building and delivery.
package queue

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/szibis/apptrack/internal/logging"
)

// FileName is the backing file inside Config.Path.
const FileName = "wt-tracking-requests"

// maxLineSize bounds one restored entry.
const maxLineSize = 1 << 20

// ErrInvalidCapacity is returned by New for a capacity below one.
var ErrInvalidCapacity = errors.New("queue capacity must be at least 1")

// Config holds the queue configuration.
type Config struct {
	// Path is the directory holding the backing file. Empty disables
	// persistence.
	Path string
	// MaxRequests is the capacity. When full, the oldest entry is evicted.
	MaxRequests int
}

// RequestStore is a bounded FIFO of delivery strings. All methods are safe
// for concurrent use; the mutex serializes every read and mutation.
type RequestStore struct {
	cfg Config

	mu      sync.Mutex
	entries []entry
	nextID  uint64
}

// entry is a queued delivery string. IDs are unique for the lifetime of the
// store, so an acknowledgement never matches an entry it did not cover.
type entry struct {
	id    uint64
	value string
}

// Batch is a snapshot of queued entries handed to delivery. Pass it back to
// Ack with the number of entries confirmed delivered.
type Batch struct {
	Entries []string
	ids     []uint64
}

// Len returns the number of entries in the batch.
func (b Batch) Len() int { return len(b.Entries) }

// New creates an empty store.
func New(cfg Config) (*RequestStore, error) {
	if cfg.MaxRequests < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidCapacity, cfg.MaxRequests)
	}
	queueCapacity.Set(float64(cfg.MaxRequests))
	queueSize.Set(0)
	return &RequestStore{
		cfg:     cfg,
		entries: make([]entry, 0, min(cfg.MaxRequests, 64)),
	}, nil
}

// Capacity returns the configured maximum number of entries.
func (q *RequestStore) Capacity() int {
	return q.cfg.MaxRequests
}

// Enqueue appends value, evicting the oldest entry first when full.
func (q *RequestStore) Enqueue(value string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.cfg.MaxRequests {
		q.evictLocked(len(q.entries) - q.cfg.MaxRequests + 1)
	}
	q.entries = append(q.entries, q.newEntryLocked(value))
	queueEnqueuedTotal.Inc()
	queueSize.Set(float64(len(q.entries)))
}

// Snapshot returns a copy of the queued entries in FIFO order without
// removing them.
func (q *RequestStore) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.valuesLocked()
}

// Batch returns the queued entries in FIFO order, tagged for Ack.
func (q *RequestStore) Batch() Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := Batch{
		Entries: q.valuesLocked(),
		ids:     make([]uint64, len(q.entries)),
	}
	for i, e := range q.entries {
		b.ids[i] = e.id
	}
	return b
}

// Ack removes the first delivered entries of b that are still queued and
// returns how many were removed. Entries evicted or cleared since b was
// taken are skipped; entries enqueued or restored since are never touched.
func (q *RequestStore) Ack(b Batch, delivered int) int {
	delivered = min(delivered, len(b.ids))
	if delivered <= 0 {
		return 0
	}
	acked := make(map[uint64]struct{}, delivered)
	for _, id := range b.ids[:delivered] {
		acked[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	for _, e := range q.entries {
		if _, ok := acked[e.id]; !ok {
			kept = append(kept, e)
		}
	}
	removed := len(q.entries) - len(kept)
	clear(q.entries[len(kept):])
	q.entries = kept

	queueDeliveredTotal.Add(float64(removed))
	queueSize.Set(float64(len(q.entries)))
	return removed
}

// Clear discards every queued entry.
func (q *RequestStore) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.entries)
	q.entries = q.entries[:0]
	queueSize.Set(0)
}

// Len returns the number of queued entries.
func (q *RequestStore) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Full reports whether the next Enqueue evicts an entry.
func (q *RequestStore) Full() bool {
	return q.Len() >= q.cfg.MaxRequests
}

// evictLocked drops the n oldest entries. Caller holds q.mu.
func (q *RequestStore) evictLocked(n int) {
	if n <= 0 {
		return
	}
	q.entries = q.shiftLocked(n)
	queueEvictedTotal.Add(float64(n))
	logging.Debug("request queue full, evicted oldest entries", logging.F(
		"evicted", n,
		"capacity", q.cfg.MaxRequests,
	))
}

func (q *RequestStore) newEntryLocked(value string) entry {
	q.nextID++
	return entry{id: q.nextID, value: value}
}

func (q *RequestStore) valuesLocked() []string {
	out := make([]string, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.value
	}
	return out
}

// shiftLocked removes the first n entries, compacting in place so the
// backing array does not grow without bound.
func (q *RequestStore) shiftLocked(n int) []entry {
	rest := copy(q.entries, q.entries[n:])
	clear(q.entries[rest:])
	return q.entries[:rest]
}

func (q *RequestStore) filePath() string {
	return filepath.Join(q.cfg.Path, FileName)
}

// Persist writes every queued entry to the backing file, one per line,
// replacing any previous file. An empty queue removes the file. Failures are
// logged and counted, never returned.
func (q *RequestStore) Persist() {
	if q.cfg.Path == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		if err := os.Remove(q.filePath()); err != nil && !os.IsNotExist(err) {
			queuePersistErrorsTotal.WithLabelValues("persist").Inc()
			logging.Warn("failed to remove request queue file", logging.F("path", q.filePath(), "error", err.Error()))
		}
		return
	}

	if err := q.writeLocked(); err != nil {
		queuePersistErrorsTotal.WithLabelValues("persist").Inc()
		logging.Error("failed to persist request queue", logging.F(
			"path", q.filePath(),
			"entries", len(q.entries),
			"error", err.Error(),
		))
		return
	}
	queuePersistedTotal.Inc()
	logging.Info("request queue persisted", logging.F("path", q.filePath(), "entries", len(q.entries)))
}

// writeLocked writes to a temp file and renames it over the backing file.
func (q *RequestStore) writeLocked() (err error) {
	if err := os.MkdirAll(q.cfg.Path, 0o755); err != nil {
		return fmt.Errorf("creating queue directory: %w", err)
	}

	tmp, err := os.CreateTemp(q.cfg.Path, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, e := range q.entries {
		if _, err = w.WriteString(e.value); err != nil {
			return fmt.Errorf("writing entry: %w", err)
		}
		if err = w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing entry: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flushing: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}
	if err = os.Rename(tmpName, q.filePath()); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}
	return nil
}

// Restore loads the backing file, places its entries ahead of the current
// ones, evicts the oldest entries beyond capacity and deletes the file. It
// returns the number of entries read. A missing file is not an error;
// unreadable files are logged and treated as empty.
func (q *RequestStore) Restore() int {
	if q.cfg.Path == "" {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	path := q.filePath()
	restored, err := readEntries(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		queuePersistErrorsTotal.WithLabelValues("restore").Inc()
		logging.Error("failed to restore request queue", logging.F("path", path, "error", err.Error()))
	}

	if len(restored) > 0 {
		merged := make([]entry, 0, len(restored)+len(q.entries))
		for _, v := range restored {
			merged = append(merged, q.newEntryLocked(v))
		}
		q.entries = append(merged, q.entries...)
		if over := len(q.entries) - q.cfg.MaxRequests; over > 0 {
			q.evictLocked(over)
		}
		queueRestoredTotal.Add(float64(len(restored)))
		queueSize.Set(float64(len(q.entries)))
		logging.Info("request queue restored", logging.F(
			"path", path,
			"restored", len(restored),
			"queued", len(q.entries),
		))
	}

	q.removeFileLocked()
	return len(restored)
}

// Discard deletes the backing file without loading it, for callers whose
// in-memory queue already holds everything the file was written from.
func (q *RequestStore) Discard() {
	if q.cfg.Path == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeFileLocked()
}

func (q *RequestStore) removeFileLocked() {
	if err := os.Remove(q.filePath()); err != nil && !os.IsNotExist(err) {
		queuePersistErrorsTotal.WithLabelValues("delete").Inc()
		logging.Warn("failed to delete request queue file", logging.F("path", q.filePath(), "error", err.Error()))
	}
}

// readEntries returns the non-empty lines of path. On a read error the lines
// read so far are returned with the error.
func readEntries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanEntries(f)
}

func scanEntries(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
