package keystore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestMemory_GetSetRemove(t *testing.T) {
	s := NewMemory()
	if got := s.Get(KeyAccessToken); got != "" {
		t.Errorf("Get missing = %q, want empty", got)
	}
	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Get(KeyAccessToken); got != "a1" {
		t.Errorf("Get = %q, want a1", got)
	}
	if err := s.Remove(KeyAccessToken, KeyRefreshToken); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := s.Get(KeyAccessToken); got != "" {
		t.Errorf("Get after Remove = %q, want empty", got)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, []byte("device-fingerprint"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(KeyRefreshToken, "r1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A second store over the same dir and secret sees the persisted values.
	s2, err := NewFileStore(dir, []byte("device-fingerprint"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if got := s2.Get(KeyAccessToken); got != "a1" {
		t.Errorf("Get = %q, want a1", got)
	}
	if got := s2.Get(KeyRefreshToken); got != "r1" {
		t.Errorf("Get = %q, want r1", got)
	}
}

func TestFileStore_SealedAtRest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, []byte("secret"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set(KeyRefreshToken, "super-secret-refresh"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, storeFile))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(raw, []byte("super-secret-refresh")) {
		t.Error("refresh token stored in plaintext")
	}
}

func TestFileStore_WrongSecret(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, []byte("secret-a"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	other, err := NewFileStore(dir, []byte("secret-b"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if got := other.Get(KeyAccessToken); got != "" {
		t.Errorf("Get with wrong secret = %q, want empty", got)
	}
}

func TestFileStore_RemoveMissingKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, []byte("secret"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Remove(KeyAccessToken, KeyRefreshToken, KeyUserEmail); err != nil {
		t.Fatalf("Remove on empty store: %v", err)
	}
	if err := s.Remove(KeyAccessToken); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}
