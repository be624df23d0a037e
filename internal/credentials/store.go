// Package credentials resolves backend API keys from a secure store with
// an environment variable fallback.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when no credential exists for a provider.
var ErrNotFound = errors.New("credential not found")

// Store persists API keys keyed by provider name. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(provider string) (string, error)
	Set(provider, secret string) error
	Delete(provider string) error
	Close() error
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (s *MemoryStore) Get(provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[provider]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(provider, secret string) error {
	s.mu.Lock()
	s.secrets[provider] = secret
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(provider string) error {
	s.mu.Lock()
	delete(s.secrets, provider)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

const credentialsBucket = "credentials"

// BoltStore is a Store backed by a bbolt file readable only by its owner.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create credential store directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open credential store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(credentialsBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create credential bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// OpenBoltStoreReadOnly opens an existing store without writing to it.
// A missing file yields an empty store and is not created. Set and Delete
// fail on a read-only store.
func OpenBoltStoreReadOnly(path string) (Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return NewMemoryStore(), nil
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open credential store %q: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(provider string) (string, error) {
	var secret string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(credentialsBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(provider)); v != nil {
			secret = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if secret == "" {
		return "", ErrNotFound
	}
	return secret, nil
}

func (s *BoltStore) Set(provider, secret string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(credentialsBucket)).Put([]byte(provider), []byte(secret))
	})
}

func (s *BoltStore) Delete(provider string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(credentialsBucket)).Delete([]byte(provider))
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }
