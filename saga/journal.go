package saga

import (
	"context"
	"fmt"
	"sync"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// DefaultJournalCapacity bounds the in-memory journal when no capacity is given.
const DefaultJournalCapacity = 1024

// Journal archives snapshots of finished executions.
// Lookup returns an error matching ErrSagaNotFound for unknown ids.
type Journal interface {
	Record(ctx context.Context, s Status) error
	Lookup(ctx context.Context, sagaID string) (Status, error)
	Recent(ctx context.Context, limit int) ([]Status, error)
}

// MemoryJournal keeps the most recent finished executions in memory, evicting the oldest.
type MemoryJournal struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	byID     map[string]Status
}

// Ensure MemoryJournal implements the contract.
var _ Journal = (*MemoryJournal)(nil)

// NewMemoryJournal creates a journal holding up to capacity snapshots.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}

	return &MemoryJournal{capacity: capacity, byID: make(map[string]Status)}
}

func (j *MemoryJournal) Record(_ context.Context, s Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.byID[s.SagaID]; !ok {
		j.order = append(j.order, s.SagaID)
	}

	j.byID[s.SagaID] = s

	for len(j.order) > j.capacity {
		delete(j.byID, j.order[0])
		j.order = j.order[1:]
	}

	return nil
}

func (j *MemoryJournal) Lookup(_ context.Context, sagaID string) (Status, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s, ok := j.byID[sagaID]
	if !ok {
		return Status{}, fmt.Errorf("lookup %s: %w", sagaID, berr.ErrSagaNotFound)
	}

	return s, nil
}

// Recent returns up to limit snapshots, most recently recorded first.
// A non-positive limit returns all of them.
func (j *MemoryJournal) Recent(_ context.Context, limit int) ([]Status, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.order) {
		limit = len(j.order)
	}

	out := make([]Status, 0, limit)
	for i := len(j.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.byID[j.order[i]])
	}

	return out, nil
}
