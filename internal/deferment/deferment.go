package deferment

import (
	"errors"
	"fmt"

	"github.com/specklesystems/objectloader2/pkg/types"
)

var (
	ErrDisposed         = errors.New("DefermentManager is disposed")
	ErrDefermentExpired = errors.New("deferment expired")
	ErrDefermentEvicted = errors.New("deferment evicted")
	ErrNotInCache       = errors.New("Not found in cache")
	ErrDisabled         = errors.New("Deferment is disabled")
)

// Deferment hands out Deferred results for ids.
type Deferment interface {
	// Defer returns the Deferred for id. The bool reports whether the id was
	// already cached or already in flight, in which case the caller must not
	// request it again.
	Defer(id string) (*Deferred, bool, error)

	// Undefer delivers item to whoever waits for its id.
	Undefer(item *types.Item) error

	// Reject fails the outstanding record for id with err.
	Reject(id string, err error)

	Dispose()
}

var (
	_ Deferment = (*Manager)(nil)
	_ Deferment = (*MemoryOnlyDeferment)(nil)
	_ Deferment = DisabledDeferment{}
)

// MemoryOnlyDeferment serves ids from a fixed set of bases.
type MemoryOnlyDeferment struct {
	items map[string]*types.Base
}

func NewMemoryOnlyDeferment(items map[string]*types.Base) *MemoryOnlyDeferment {
	return &MemoryOnlyDeferment{items: items}
}

func (m *MemoryOnlyDeferment) Defer(id string) (*Deferred, bool, error) {
	if base, ok := m.items[id]; ok {
		return resolvedDeferred(id, base), true, nil
	}
	return rejectedDeferred(id, fmt.Errorf("%w: %s", ErrNotInCache, id)), false, nil
}

func (m *MemoryOnlyDeferment) Undefer(*types.Item) error { return nil }

func (m *MemoryOnlyDeferment) Reject(string, error) {}

func (m *MemoryOnlyDeferment) Dispose() {}

// DisabledDeferment rejects every request.
type DisabledDeferment struct{}

func (DisabledDeferment) Defer(id string) (*Deferred, bool, error) {
	return rejectedDeferred(id, fmt.Errorf("%w: %s", ErrDisabled, id)), false, nil
}

func (DisabledDeferment) Undefer(*types.Item) error { return nil }

func (DisabledDeferment) Reject(string, error) {}

func (DisabledDeferment) Dispose() {}
