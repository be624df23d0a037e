// Package audit records request metadata. Entries never contain prompt
// text, replies, identities or extracted entities.
package audit

import (
	"context"
	"sync"
	"time"
)

// Entry is the metadata kept for one gateway call
type Entry struct {
	RequestID          string        `json:"request_id" db:"request_id"`
	Provider           string        `json:"provider" db:"provider"`
	Model              string        `json:"model" db:"model"`
	Local              bool          `json:"local" db:"local"`
	Outcome            string        `json:"outcome" db:"outcome"`
	ErrorKind          string        `json:"error_kind,omitempty" db:"error_kind"`
	Replacements       int           `json:"replacements" db:"replacements"`
	ExtractionDegraded bool          `json:"extraction_degraded" db:"extraction_degraded"`
	Duration           time.Duration `json:"duration_ns" db:"duration_ns"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
}

// Recorder stores entries
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Nop discards entries
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error { return nil }

// MemoryRecorder keeps the most recent entries in a bounded ring.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewMemoryRecorder keeps at most max entries
func NewMemoryRecorder(max int) *MemoryRecorder {
	if max <= 0 {
		max = 1000
	}
	return &MemoryRecorder{max: max}
}

func (r *MemoryRecorder) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *MemoryRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

func (r *MemoryRecorder) Close() error { return nil }
