// Package settings persists the active backend selection across restarts.
package settings

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoSelection is returned by Load when nothing was saved yet.
var ErrNoSelection = errors.New("no provider selection saved")

// Selection is the persisted backend choice
type Selection struct {
	Provider   string    `json:"provider"`
	LocalModel string    `json:"local_model,omitempty"`
	CloudModel string    `json:"cloud_model,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ModelFor returns the saved model for a backend kind.
func (s Selection) ModelFor(local bool) string {
	if local {
		return s.LocalModel
	}
	return s.CloudModel
}

// Store loads and saves the selection
type Store interface {
	Load(ctx context.Context) (Selection, error)
	Save(ctx context.Context, sel Selection) error
	Close() error
}

// MemoryStore keeps the selection for the life of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	sel *Selection
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(ctx context.Context) (Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sel == nil {
		return Selection{}, ErrNoSelection
	}
	return *s.sel, nil
}

func (s *MemoryStore) Save(ctx context.Context, sel Selection) error {
	if sel.UpdatedAt.IsZero() {
		sel.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.sel = &sel
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
