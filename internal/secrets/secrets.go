// Package secrets is a small-value store for device-scoped facts that
// must survive reinstalls of the mirror database: the last-applied
// schema migration version (written by the migration runner, read-only
// here), the device installation id, and the identity recorded at the
// last completed sign-in.
//
// Values live in a single 0600 JSON file next to the database.
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Well-known keys.
const (
	KeySchemaVersion = "schema_version"
	KeyDeviceID      = "device_id"
	KeyIdentityID    = "identity_id"
	KeyIdentityLabel = "identity_label"
)

// Store reads and writes the secrets file.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// Open loads (or lazily creates) the secrets file at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}
	return s, nil
}

// Get returns the value for key, or "" when unset.
func (s *Store) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Set stores key=value and persists the file.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.save()
}

// SchemaVersion returns the last-applied migration version recorded by
// the migration runner, or 0 when none was recorded yet.
func (s *Store) SchemaVersion() int {
	v, err := strconv.Atoi(s.Get(KeySchemaVersion))
	if err != nil {
		return 0
	}
	return v
}

// DeviceID returns the stable installation id, minting and persisting
// one on first use. The id accompanies every remote call so the
// service can tell client installations apart.
func (s *Store) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := s.values[KeyDeviceID]; id != "" {
		return id, nil
	}
	id := uuid.NewString()
	s.values[KeyDeviceID] = id
	if err := s.save(); err != nil {
		return "", err
	}
	return id, nil
}

// save persists the values map. Caller holds the lock.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}
