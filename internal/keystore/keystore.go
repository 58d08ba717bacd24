// Package keystore provides the durable local key-value store holding session
// credentials and device state. Values are plain strings with no schema versioning.
package keystore

import "sync"

// Storage keys shared across the client.
const (
	KeyAccessToken       = "accessToken"
	KeyRefreshToken      = "refreshToken"
	KeyUserEmail         = "userEmail"
	KeyDeviceID          = "deviceId"
	KeyBiometricsEnabled = "biometricsEnabled"
)

// Store is a string key-value store. Get returns "" for missing or unreadable
// keys so callers can treat absence and storage failure uniformly (fail closed).
type Store interface {
	Get(key string) string
	Set(key, value string) error
	// Remove deletes the given keys. Missing keys are not an error.
	Remove(keys ...string) error
}

// Memory is an in-memory Store implementation for tests and ephemeral sessions.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

// Get returns the value for key, or "" when absent.
func (s *Memory) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key]
}

// Set stores value under key.
func (s *Memory) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// Remove deletes the given keys.
func (s *Memory) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}
