// Package locking provides per-key critical sections with bounded
// acquisition, striped to cap memory. The registry and the quota tracker
// each hold their own table so a user's quota activity never contends with
// administrative actions on the same identity.
package locking

import (
	"context"
	"errors"
	"hash/fnv"
	"time"
)

// ErrBusy is returned when a lock could not be acquired within the timeout.
// Callers may retry with backoff; nothing blocks indefinitely.
var ErrBusy = errors.New("busy: lock acquisition timed out")

// Table is a set of striped key locks. Each stripe is a one-slot channel used
// as a mutex whose acquisition can time out.
type Table struct {
	stripes []chan struct{}
}

// NewTable creates a table with n stripes.
func NewTable(n int) *Table {
	t := &Table{stripes: make([]chan struct{}, n)}
	for i := range t.stripes {
		t.stripes[i] = make(chan struct{}, 1)
	}
	return t
}

// Acquire takes the stripe lock for key, waiting at most timeout. It returns
// a release func on success and ErrBusy when the lock could not be acquired
// in time.
func (t *Table) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	stripe := t.stripes[t.index(key)]

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case stripe <- struct{}{}:
		return func() { <-stripe }, nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Table) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % len(t.stripes)
}
