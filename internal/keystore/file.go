package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const storeFile = "keystore.bin"

// ErrCorruptStore is returned when the sealed store cannot be decrypted,
// e.g. after the seal secret changed or the file was tampered with.
var ErrCorruptStore = errors.New("keystore: sealed store unreadable")

// FileStore persists key-value pairs in a single sealed file under dir.
// Values are encrypted at rest with XChaCha20-Poly1305; the key is derived
// from the seal secret (the device fingerprint) via HKDF-SHA256. Every Get
// re-reads the file so a value written by one caller is visible to the next.
type FileStore struct {
	path string
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewFileStore returns a FileStore rooted at dir, sealing with secret.
// dir is created (0700) if missing.
func NewFileStore(dir string, secret []byte) (*FileStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("keystore: seal secret is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}
	kdf := hkdf.New(sha256.New, secret, nil, []byte("keystore-seal"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: filepath.Join(dir, storeFile), aead: aead}, nil
}

// Get returns the value for key, or "" when absent or the store is unreadable.
func (s *FileStore) Get(key string) string {
	m, err := s.load()
	if err != nil {
		return ""
	}
	return m[key]
}

// Set stores value under key and rewrites the sealed file.
func (s *FileStore) Set(key, value string) error {
	m, err := s.load()
	if err != nil {
		// A corrupt store is unrecoverable; start fresh rather than fail forever.
		m = make(map[string]string)
	}
	m[key] = value
	return s.save(m)
}

// Remove deletes the given keys and rewrites the sealed file. Missing keys are
// not an error, so repeated hard logouts are safe.
func (s *FileStore) Remove(keys ...string) error {
	m, err := s.load()
	if err != nil {
		m = make(map[string]string)
	}
	for _, k := range keys {
		delete(m, k)
	}
	return s.save(m)
}

func (s *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return nil, ErrCorruptStore
	}
	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCorruptStore
	}
	m := make(map[string]string)
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, ErrCorruptStore
	}
	return m, nil
}

func (s *FileStore) save(m map[string]string) error {
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := append(nonce, s.aead.Seal(nil, nonce, plain, nil)...)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
