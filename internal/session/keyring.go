package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Keys under which the session layer persists its state.
const (
	keyCredential = "credential"
	keyIdentity   = "identity"
)

// Keyring is the durable local storage contract: opaque string values that
// survive process restarts. Implementations must be safe for concurrent use.
type Keyring interface {
	Load(key string) (string, bool, error)
	Save(key, value string) error
	Delete(key string) error
}

// MemKeyring is an in-process Keyring for tests and ephemeral sessions.
type MemKeyring struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemKeyring() *MemKeyring {
	return &MemKeyring{values: make(map[string]string)}
}

func (k *MemKeyring) Load(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.values[key]
	return v, ok, nil
}

func (k *MemKeyring) Save(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.values[key] = value
	return nil
}

func (k *MemKeyring) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.values, key)
	return nil
}

// FileKeyring persists values as a single 0600 JSON file. Writes go through
// a temp file and rename so a crash never leaves a torn file behind.
type FileKeyring struct {
	mu   sync.Mutex
	path string
}

func NewFileKeyring(path string) *FileKeyring {
	return &FileKeyring{path: path}
}

func (k *FileKeyring) Load(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	values, err := k.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (k *FileKeyring) Save(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	values, err := k.read()
	if err != nil {
		return err
	}
	values[key] = value
	return k.write(values)
}

func (k *FileKeyring) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	values, err := k.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return k.write(values)
}

func (k *FileKeyring) read() (map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		// A corrupt keyring means re-login, not a crash loop.
		return map[string]string{}, nil
	}
	return values, nil
}

func (k *FileKeyring) write(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keyring-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, k.path)
}
