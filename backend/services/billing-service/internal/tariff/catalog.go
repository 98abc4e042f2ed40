package tariff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("tariff: snapshot not found")
	// ErrImmutable is returned when a stored snapshot would change.
	ErrImmutable = errors.New("tariff: snapshot is immutable")
)

// Equal reports whether both tariffs were built from the same normalized definition.
func (t *Tariff) Equal(other *Tariff) bool {
	if t == nil || other == nil {
		return t == other
	}
	a, errA := json.Marshal(t.Definition())
	b, errB := json.Marshal(other.Definition())
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// MemoryCatalog is an insert-only, in-process set of tariff snapshots.
type MemoryCatalog struct {
	mu        sync.RWMutex
	snapshots map[Ref]*Tariff
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{snapshots: make(map[Ref]*Tariff)}
}

// Save stores t. Saving an identical snapshot again is a no-op.
func (c *MemoryCatalog) Save(_ context.Context, t *Tariff) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.snapshots[t.Ref()]; ok {
		if existing.Equal(t) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrImmutable, t.Ref())
	}
	c.snapshots[t.Ref()] = t
	return nil
}

func (c *MemoryCatalog) Get(_ context.Context, ref Ref) (*Tariff, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.snapshots[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return t, nil
}

// Versions lists the stored versions of a tariff id in ascending order.
func (c *MemoryCatalog) Versions(_ context.Context, id string) ([]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var versions []int
	for ref := range c.snapshots {
		if ref.ID == id {
			versions = append(versions, ref.Version)
		}
	}
	sort.Ints(versions)
	return versions, nil
}
