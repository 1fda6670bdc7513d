package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "eventbot/pkg/logx"
)

// ErrCorruptState marks a snapshot file that exists but cannot be decoded.
// This is fatal for the caller: starting with an empty mapping instead would
// silently discard whatever the file used to hold.
var ErrCorruptState = errors.New("corrupt state snapshot")

const snapshotVersion = 1

// snapshot is the on-disk envelope. The version field exists so a future
// format change can migrate instead of failing as corrupt.
type snapshot struct {
	Version int                        `json:"version"`
	Data    map[string]json.RawMessage `json:"data"`
}

// Store holds the fully materialized event-state mapping for the process
// lifetime. All methods are safe for concurrent use.
type Store struct {
	path string
	log  logx.Logger

	mu    sync.Mutex
	data  map[string]json.RawMessage
	dirty bool
}

// EnsureExists creates a minimally-valid empty snapshot at path if no file is
// there yet. It is safe to call on every start: an existing file, valid or
// not, is never touched.
func EnsureExists(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("store: path is required")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir for %s: %w", path, err)
	}
	b, err := encodeSnapshot(map[string]json.RawMessage{})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

// Open ensures the snapshot file exists and loads it.
//
// An empty file yields an empty mapping. A file that cannot be decoded yields
// an error wrapping ErrCorruptState; the caller must treat that as fatal
// rather than proceed with an empty store.
func Open(path string, log logx.Logger) (*Store, error) {
	if err := EnsureExists(path); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	data, err := decodeSnapshot(b)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}

	// A stale temp file means a previous save was interrupted before the
	// rename. The main file is still the last complete snapshot; the temp
	// content is an unfinished write and can go.
	if tmp := tmpPath(path); removeIfExists(tmp) {
		log.Warn("removed stale temp snapshot from interrupted save", logx.String("path", tmp))
	}

	log.Debug("state snapshot loaded", logx.String("path", path), logx.Int("keys", len(data)))
	return &Store{path: path, log: log, data: data}, nil
}

// Path returns the backing snapshot path.
func (s *Store) Path() string { return s.path }

// Get returns the raw value for key. The second result is false when the key
// is absent; an absent key is an expected condition, not an error.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	cp := make(json.RawMessage, len(v))
	copy(cp, v)
	return cp, true
}

// GetJSON decodes the value for key into out. It returns (false, nil) when
// the key is absent and leaves out untouched.
func (s *Store) GetJSON(key string, out any) (bool, error) {
	raw, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("store: decode key %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key and marks the store dirty.
func (s *Store) Set(key string, value json.RawMessage) {
	cp := make(json.RawMessage, len(value))
	copy(cp, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = cp
	s.dirty = true
}

// SetJSON marshals value and stores it under key.
func (s *Store) SetJSON(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode key %q: %w", key, err)
	}
	s.Set(key, b)
	return nil
}

// Delete removes key. It reports whether the key was present; deleting an
// absent key is a no-op and does not dirty the store.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	s.dirty = true
	return true
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Dirty reports whether the mapping changed since the last successful save.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Save writes the full mapping to the snapshot file atomically. On failure
// the previous on-disk snapshot remains authoritative and the store stays
// dirty.
func (s *Store) Save() error {
	s.mu.Lock()
	b, err := encodeSnapshot(s.data)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	// Hold the lock across the write so a save never interleaves with
	// another save of the same file. Mutations are blocked for the duration
	// of one snapshot write, which is small and keeps ordering trivial.
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, b); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// SaveIfDirty saves only when there are unsaved changes. It reports whether
// a write happened.
func (s *Store) SaveIfDirty() (bool, error) {
	if !s.Dirty() {
		return false, nil
	}
	if err := s.Save(); err != nil {
		return false, err
	}
	return true, nil
}

// ---- snapshot encoding ----

func encodeSnapshot(data map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot{Version: snapshotVersion, Data: data}); err != nil {
		return nil, fmt.Errorf("store: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(b []byte) (map[string]json.RawMessage, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var snap snapshot
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrCorruptState, snap.Version)
	}
	if snap.Data == nil {
		snap.Data = map[string]json.RawMessage{}
	}
	return snap.Data, nil
}

// ---- atomic file write ----

func tmpPath(path string) string { return path + ".tmp" }

func writeFileAtomic(path string, b []byte) error {
	tmp := tmpPath(path)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store: open temp %s: %w", tmp, err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store: write temp %s: %w", tmp, err)
	}
	// Sync before rename so the rename never publishes a file whose content
	// is still only in the page cache.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store: sync temp %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: close temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

func removeIfExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}
