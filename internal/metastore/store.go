// Package metastore holds caller-supplied condition metadata off-ledger. It
// is descriptive only and never authoritative; ledger state always wins.
package metastore

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Record maps a condition id to free-form caller metadata.
type Record struct {
	ConditionID uint64          `json:"conditionId"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store abstracts metadata persistence so the default in-memory map can be
// swapped for a durable backend without touching request handling.
type Store interface {
	Get(ctx context.Context, id uint64) (*Record, error)
	Save(ctx context.Context, record Record) error
}

// MemoryStore is the default backend. Contents are lost on restart; that is
// a documented limitation of the service, not a bug.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[uint64]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[uint64]Record)}
}

func (m *MemoryStore) Get(_ context.Context, id uint64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[record.ConditionID] = record
	return nil
}
