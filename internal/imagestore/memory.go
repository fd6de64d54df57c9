// SPDX-License-Identifier: MIT

package imagestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/chartgw/internal/metrics"
)

// entry represents a stored image with expiration time.
type entry struct {
	img        Image
	expiration time.Time // zero means no expiry
}

func (e *entry) isExpired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryStore keeps images in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration

	hits, misses, puts, evictions atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryStore creates an in-memory store. A positive cleanupInterval starts
// a janitor that removes expired images.
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 && ttl > 0 {
		m.wg.Add(1)
		go m.janitor(cleanupInterval)
	}
	return m
}

func (m *MemoryStore) Backend() string { return "memory" }

func (m *MemoryStore) Put(ctx context.Context, id string, img Image) error {
	if err := checkID(id); err != nil {
		return err
	}
	e := &entry{img: img}
	if m.ttl > 0 {
		e.expiration = time.Now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()
	m.puts.Add(1)
	metrics.RecordImageStoreOp("memory", "put", "success")
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (img Image, err error) {
	defer func() { metrics.RecordImageStoreOp("memory", "get", result(err)) }()

	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || e.isExpired(time.Now()) {
		m.misses.Add(1)
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.hits.Add(1)
	return e.img, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	size := len(m.entries)
	m.mu.RUnlock()
	return Stats{
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		Puts:        m.puts.Load(),
		Evictions:   m.evictions.Load(),
		CurrentSize: size,
	}
}

// deleteExpired removes all expired entries and returns how many were removed.
func (m *MemoryStore) deleteExpired() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, e := range m.entries {
		if e.isExpired(now) {
			delete(m.entries, id)
			count++
		}
	}
	m.evictions.Add(int64(count))
	return count
}

func (m *MemoryStore) janitor(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-m.stop:
			return
		}
	}
}

// Close stops the janitor.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}
