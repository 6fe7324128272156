package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/facegate/facematch/identity"
)

// Compile-time check to ensure Memory satisfies the Backend interface.
var _ Backend = (*Memory)(nil)

// Memory is a non-durable backend for tests and ephemeral deployments.
type Memory struct {
	mu      sync.Mutex
	records map[identity.ID]identity.Record
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{records: make(map[identity.ID]identity.Record)}
}

// Save persists one record.
func (m *Memory) Save(ctx context.Context, rec identity.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
	return nil
}

// LoadAll returns every persisted record, ordered by ascending id.
func (m *Memory) LoadAll(ctx context.Context) ([]identity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]identity.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Remove deletes the record with the given id.
func (m *Memory) Remove(ctx context.Context, id identity.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error {
	return nil
}
