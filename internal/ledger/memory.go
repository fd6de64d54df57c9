// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMaxEntries bounds the ledger when no limit is configured.
const DefaultMaxEntries = 1000

// MemoryStore is the in-process ledger.
// When more than maxEntries records are held, the oldest terminal records are
// pruned; requests that are still in flight are never pruned.
type MemoryStore struct {
	mu sync.RWMutex

	records map[string]*Request
	order   []string // ids by insertion, oldest first
	nextSeq uint64

	maxEntries int
}

// NewMemoryStore creates an empty ledger.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		records:    make(map[string]*Request),
		maxEntries: maxEntries,
	}
}

func (m *MemoryStore) Create(ctx context.Context, req *Request) error {
	if req == nil || req.RequestID == "" {
		return fmt.Errorf("create: request id required")
	}
	if err := req.checkTerminal(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[req.RequestID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, req.RequestID)
	}
	cpy := req.Clone()
	m.nextSeq++
	cpy.seq = m.nextSeq
	m.records[cpy.RequestID] = cpy
	m.order = append(m.order, cpy.RequestID)
	m.pruneLocked()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, event Event, mutate func(*Request)) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := Lifecycle.Next(rec.Status, event)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", id, err)
	}

	cpy := rec.Clone()
	if mutate != nil {
		mutate(cpy)
	}
	// Identity and state belong to the store.
	cpy.RequestID = rec.RequestID
	cpy.CreatedAt = rec.CreatedAt
	cpy.Status = next
	cpy.seq = rec.seq

	if err := cpy.checkTerminal(); err != nil {
		return nil, err
	}
	m.records[id] = cpy
	return cpy.Clone(), nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Request, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[m.order[i]].Clone())
	}
	return out, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) pruneLocked() {
	excess := len(m.records) - m.maxEntries
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.records[id].Status.Terminal() {
			delete(m.records, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
