package credential

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	entries, err := s.Load()
	if err != nil || len(entries) != 0 {
		t.Errorf("expected empty load, got %v (%v)", entries, err)
	}
}

func TestFileStore_PersistRotatesRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	seed := `{"accounts":[{"id":"a1","name":"First","refresh_token":"r1"},{"id":"a2","name":"Second","refresh_token":"r2"}]}`
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatal(err)
	}

	s := NewFileStore(path)
	if err := s.Persist("a2", FieldRefreshToken, "r2-rotated"); err != nil {
		t.Fatalf("persist: %v", err)
	}

	entries, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RefreshToken != "r1" || entries[1].RefreshToken != "r2-rotated" {
		t.Errorf("unexpected tokens after rotation: %+v", entries)
	}
	if entries[1].UpdatedAt.IsZero() {
		t.Error("rotation should stamp UpdatedAt")
	}
}

func TestFileStore_PersistErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	if err := os.WriteFile(path, []byte(`{"accounts":[{"id":"a1","refresh_token":"r1"}]}`), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)

	if err := s.Persist("ghost", FieldRefreshToken, "x"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}
	if err := s.Persist("a1", "password", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(Entry{ID: "a1", RefreshToken: "r1"})
	if err := s.Persist("a1", FieldRefreshToken, "r1b"); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.Load()
	if entries[0].RefreshToken != "r1b" {
		t.Errorf("expected rotated token, got %q", entries[0].RefreshToken)
	}
	if err := s.Persist("zz", FieldRefreshToken, "x"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}
}
