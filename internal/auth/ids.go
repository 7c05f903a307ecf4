package auth

import (
	"errors"
	"fmt"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
)

// IDAllocator hands out record ids from per-type store counters.
type IDAllocator struct {
	store store.Store
}

// NewIDAllocator returns an allocator backed by s.
func NewIDAllocator(s store.Store) *IDAllocator { return &IDAllocator{store: s} }

// Next returns a fresh id for rt. The counter is incremented atomically in
// the store; ids already held by a live or historical record (imported with
// an explicit id) are skipped.
func (a *IDAllocator) Next(rt api.RecordType) (int, error) {
	for {
		n, err := a.store.Increment(rt.Counter())
		if err != nil {
			return 0, fmt.Errorf("auth: allocate %s id: %w", rt, err)
		}
		taken, err := a.taken(rt, n)
		if err != nil {
			return 0, err
		}
		if !taken {
			return int(n), nil
		}
	}
}

func (a *IDAllocator) taken(rt api.RecordType, id int64) (bool, error) {
	_, err := a.store.Get(rt.Collection(), id)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("auth: check %s id %d: %w", rt, id, err)
	}
	n, err := a.store.Count(rt.HistoryCollection(), filter.Eq{Path: "_id", Value: id})
	if err != nil {
		return false, fmt.Errorf("auth: check %s id %d: %w", rt, id, err)
	}
	return n > 0, nil
}
