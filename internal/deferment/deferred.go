// Package deferment deduplicates concurrent requests for the same object id.
package deferment

import (
	"context"
	"sync"
	"time"

	"github.com/specklesystems/objectloader2/pkg/types"
)

// Deferred is the pending result of a request for one id.
type Deferred struct {
	id   string
	done chan struct{}
	once sync.Once

	base *types.Base
	err  error

	// guarded by the owning Manager
	lastAccess time.Time
	generation uint64
}

func newDeferred(id string, now time.Time) *Deferred {
	return &Deferred{id: id, done: make(chan struct{}), lastAccess: now}
}

func resolvedDeferred(id string, base *types.Base) *Deferred {
	d := &Deferred{id: id, done: make(chan struct{})}
	d.resolve(base, nil)
	return d
}

func rejectedDeferred(id string, err error) *Deferred {
	d := &Deferred{id: id, done: make(chan struct{})}
	d.resolve(nil, err)
	return d
}

func (d *Deferred) ID() string { return d.id }

// Done is closed once the result is available.
func (d *Deferred) Done() <-chan struct{} { return d.done }

// Wait blocks until the result is available or ctx is done.
func (d *Deferred) Wait(ctx context.Context) (*types.Base, error) {
	select {
	case <-d.done:
		return d.base, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve settles the result. Only the first call has an effect.
func (d *Deferred) resolve(base *types.Base, err error) bool {
	resolved := false
	d.once.Do(func() {
		d.base, d.err = base, err
		close(d.done)
		resolved = true
	})
	return resolved
}
