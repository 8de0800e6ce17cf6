package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrStorageUnavailable is returned by stores that have no backing scope.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// Store is a key-value storage scope, such as a browser tab's session storage.
// The tracker calls it on the caller's goroutine, once per tracked action, so
// implementations should answer quickly; a panic drops that one event.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores value under key.
	Set(key, value string) error
	// Clear drops every key in the scope.
	Clear() error
}

// MemoryStore is a process-lifetime storage scope.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory scope.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
	return nil
}

// FileStore persists the scope as a JSON object in a single file.
// Removing the file clears the scope.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = value

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode session scope: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	data := make(map[string]string)
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		// A corrupt scope is treated as empty; the next Set rewrites it.
		return make(map[string]string), nil
	}
	return data, nil
}

// UnavailableStore models an execution context without session storage.
type UnavailableStore struct{}

func (UnavailableStore) Get(string) (string, bool, error) { return "", false, ErrStorageUnavailable }
func (UnavailableStore) Set(string, string) error         { return ErrStorageUnavailable }
func (UnavailableStore) Clear() error                     { return ErrStorageUnavailable }
