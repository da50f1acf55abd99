// Package kv provides the durable key/value storage backing the queued-save
// log, the queued-sync log, and the sidecar lookup cache. Values are opaque
// byte payloads; callers own the JSON encoding. Backends are selected by DSN
// scheme so a deployment can move from a local JSON file to Postgres or
// Redis without touching the sync core.
package kv

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the durable key/value contract. Get returns ErrNotFound for a
// missing key; Delete of a missing key succeeds.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

type storeCloser interface {
	Close() error
}

// CloseStore closes a store if its backend holds external resources.
func CloseStore(s Store) error {
	if closer, ok := s.(storeCloser); ok {
		return closer.Close()
	}
	return nil
}

// FileStore keeps one JSON document per key under a directory, written with
// a tmp+rename replace so a crash mid-write never leaves a torn value.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Get(key string) ([]byte, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Put(key string, value []byte) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Delete(key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the on-disk file backing a key, so callers can watch it for
// out-of-process appends.
func (s *FileStore) Path(key string) (string, error) {
	return s.keyPath(key)
}

func (s *FileStore) keyPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, `/\`) {
		return "", ErrInvalidInput
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// MemoryStore is the in-process backend used by tests and the memory
// profile.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string][]byte{}}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// GetJSON decodes the value at key into out. A missing key returns
// ErrNotFound with out untouched.
func GetJSON(s Store, key string, out any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// PutJSON encodes value as JSON and stores it at key.
func PutJSON(s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}
