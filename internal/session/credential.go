package session

import (
	"encoding/json"
	"sync"
)

// Credential is an access/refresh token pair. Both tokens are present
// together or the credential is invalid; a partial pair is treated as
// unauthenticated everywhere.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether both tokens are present.
func (c Credential) Valid() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Store holds the process-wide credential. Every Set/Clear persists to the
// keyring before returning, and is visible to all readers once the call
// returns. The generation counter lets an in-flight renewal detect that the
// session was torn down underneath it.
type Store struct {
	mu   sync.RWMutex
	cred Credential
	ok   bool
	gen  uint64
	ring Keyring
}

// NewStore creates a Store backed by ring. A nil ring falls back to an
// in-memory keyring.
func NewStore(ring Keyring) *Store {
	if ring == nil {
		ring = NewMemKeyring()
	}
	return &Store{ring: ring}
}

// Get returns the current credential, if one is set.
func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.ok
}

// Set atomically replaces the credential and persists it.
func (s *Store) Set(c Credential) error {
	if !c.Valid() {
		return ErrPartialCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(c)
}

// SetIfGeneration replaces the credential only if no Clear/Set happened
// since the caller observed gen. Returns false when the write was discarded.
func (s *Store) SetIfGeneration(gen uint64, c Credential) (bool, error) {
	if !c.Valid() {
		return false, ErrPartialCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false, nil
	}
	if err := s.put(c); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes the credential from memory and durable storage.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.Delete(keyCredential); err != nil {
		return err
	}
	s.cred = Credential{}
	s.ok = false
	s.gen++
	return nil
}

// Generation returns the current write generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Restore loads a persisted credential from the keyring without touching
// the network. A missing or partial persisted pair leaves the store empty.
func (s *Store) Restore() error {
	raw, ok, err := s.ring.Load(keyCredential)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var c Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil || !c.Valid() {
		return s.ring.Delete(keyCredential)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = c
	s.ok = true
	s.gen++
	return nil
}

// put persists and publishes under the held write lock.
func (s *Store) put(c Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.ring.Save(keyCredential, string(data)); err != nil {
		return err
	}
	s.cred = c
	s.ok = true
	s.gen++
	return nil
}
