package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Response is a recorded HTTP reply replayed for a repeated Idempotency-Key.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, value *Response, ttl time.Duration) error
}

type NoopIdempotencyStore struct{}

func (NoopIdempotencyStore) Get(_ context.Context, _ string) (*Response, bool, error) {
	return nil, false, nil
}

func (NoopIdempotencyStore) Set(_ context.Context, _ string, _ *Response, _ time.Duration) error {
	return nil
}

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps replies in process. Expired keys are dropped
// lazily on read.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryIdempotencyStore) Get(_ context.Context, key string) (*Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	resp := entry.resp
	return &resp, true, nil
}

func (m *MemoryIdempotencyStore) Set(_ context.Context, key string, value *Response, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{resp: *value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}
