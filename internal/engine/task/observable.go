// Package task implements the observable half of C12: a per-task
// MutableStateFlow-equivalent broadcasting ObservedState and Segment
// updates to any number of subscribers. Grounded on the teacher's
// ProgressChan (a single chan<- any fed by one download's events),
// generalized into a multi-subscriber broadcaster so the TUI, the REST/SSE
// daemon, and test code can each hold an independent view of the same
// task without stealing each other's updates.
package task

import "sync"

// Observable holds the latest ObservedState for one task and fans out
// every update to subscribers registered via Subscribe. Safe for
// concurrent use.
type Observable[T any] struct {
	mu   sync.Mutex
	last T
	subs map[int]chan T
	next int
}

// NewObservable creates an Observable seeded with initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{last: initial, subs: make(map[int]chan T)}
}

// Set updates the latest value and pushes it to every current subscriber.
// A subscriber whose channel is full (it isn't draining fast enough) has
// this update dropped for it rather than blocking the publisher — a
// subsequent Get() still reflects the latest value.
func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	o.last = v
	subs := make([]chan T, 0, len(o.subs))
	for _, ch := range o.subs {
		subs = append(subs, ch)
	}
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Get returns the latest value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Subscribe registers a new listener and returns a channel that receives
// every subsequent Set call, plus an unsubscribe func. The channel is
// buffered so Set never blocks on a slow subscriber.
func (o *Observable[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	id := o.next
	o.next++
	ch := make(chan T, 16)
	o.subs[id] = ch
	o.mu.Unlock()

	unsubscribe := func() {
		o.mu.Lock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
		o.mu.Unlock()
	}
	return ch, unsubscribe
}
