// Package credential loads account identities and persists rotated
// refresh credentials.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FieldRefreshToken is the only field rotated at runtime.
const FieldRefreshToken = "refresh_token"

var (
	// ErrUnknownAccount is returned when persisting for an id not in the store.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrUnknownField is returned when persisting an unsupported field.
	ErrUnknownField = errors.New("unknown credential field")
)

// Entry is one stored identity.
type Entry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RefreshToken string    `json:"refresh_token"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Store is the credential collaborator.
type Store interface {
	Load() ([]Entry, error)
	Persist(id, field, value string) error
}

type fileState struct {
	Accounts []Entry `json:"accounts"`
}

// FileStore keeps entries in a JSON file, rewritten on every Persist.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads all entries. A missing file yields no entries.
func (s *FileStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return nil, err
	}
	return st.Accounts, nil
}

// Persist updates one field of one entry and rewrites the file.
func (s *FileStore) Persist(id, field, value string) error {
	if field != FieldRefreshToken {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	found := false
	for i := range st.Accounts {
		if st.Accounts[i].ID == id {
			st.Accounts[i].RefreshToken = value
			st.Accounts[i].UpdatedAt = time.Now()
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return s.write(st)
}

func (s *FileStore) read() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileState{}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &st, nil
}

// write replaces the file through a temp file so a crash never leaves it half-written.
func (s *FileStore) write(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore returns a store seeded with entries.
func NewMemoryStore(entries ...Entry) *MemoryStore {
	return &MemoryStore{entries: append([]Entry(nil), entries...)}
}

func (m *MemoryStore) Load() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}

func (m *MemoryStore) Persist(id, field, value string) error {
	if field != FieldRefreshToken {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].RefreshToken = value
			m.entries[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
}
