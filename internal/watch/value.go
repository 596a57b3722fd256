// Package watch provides the latest-value observables the session publishes
// its state through: a Value is a single overwritable slot with subscriber
// fanout, a Stream is a bounded drop-oldest feed.
package watch

import (
	"context"
	"sync"
)

// Value is an observable latest-value slot. Set overwrites the slot and
// fans the new value out to every subscriber; there is no history, and a
// slow subscriber only ever sees the newest value.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	set    bool
	subs   map[int]*Stream[T]
	nextID int
	done   chan struct{}
	closed bool
}

// NewValue creates an empty Value.
func NewValue[T any]() *Value[T] {
	return &Value[T]{
		subs: make(map[int]*Stream[T]),
		done: make(chan struct{}),
	}
}

// Set overwrites the slot and notifies subscribers. Calling Set on a closed
// Value is a no-op.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.cur = val
	v.set = true
	for _, sub := range v.subs {
		sub.Publish(val)
	}
}

// Get returns the current value. ok is false until the first Set.
func (v *Value[T]) Get() (val T, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur, v.set
}

// Subscribe registers a subscriber and returns its receive channel. If the
// slot already holds a value it is delivered immediately, so a late
// subscriber starts from current truth. The subscription ends when ctx is
// cancelled or the Value is closed; the channel is closed either way.
//
// Each subscriber gets a capacity-1 drop-oldest buffer: when the consumer
// lags, intermediate values are skipped in favor of the newest one.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	sub := NewStream[T](1)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		sub.Close()
		return sub.C()
	}
	id := v.nextID
	v.nextID++
	v.subs[id] = sub
	if v.set {
		sub.Publish(v.cur)
	}
	v.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			v.mu.Lock()
			if _, ok := v.subs[id]; ok {
				delete(v.subs, id)
				sub.Close()
			}
			v.mu.Unlock()
		case <-v.done:
			// Close already shut this subscription down.
		}
	}()

	return sub.C()
}

// Close terminates all subscriptions. Safe to call more than once.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	close(v.done)
	for id, sub := range v.subs {
		delete(v.subs, id)
		sub.Close()
	}
}
