package channel

import (
	"context"
	"sync"
)

// Broadcast fans a single producer out to any number of independent views.
//
// Every view is its own bounded Channel: a value sent to the broadcast is
// offered to each view separately, so one consumer draining its view never
// affects what another consumer sees. A full view rejects the value for that
// view only.
type Broadcast[T any] struct {
	capacity int

	mu     sync.RWMutex
	views  map[uint64]*Channel[T]
	nextID uint64
}

// NewBroadcast creates a Broadcast whose views hold up to capacity values.
func NewBroadcast[T any](capacity int) *Broadcast[T] {
	if capacity <= 0 {
		panic("channel: capacity must be > 0")
	}
	return &Broadcast[T]{
		capacity: capacity,
		views:    make(map[uint64]*Channel[T]),
	}
}

// TrySend offers v to every live view without blocking.
// Returns true only if every view accepted it. With no views it returns true.
func (b *Broadcast[T]) TrySend(v T) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ok := true
	for _, view := range b.views {
		if !view.TrySend(v) {
			ok = false
		}
	}
	return ok
}

// Subscribe registers a new empty view and returns its read handle.
func (b *Broadcast[T]) Subscribe() *Receiver[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	view := New[T](b.capacity)
	b.views[id] = view

	return &Receiver[T]{id: id, view: view, owner: b}
}

// Views returns the number of live views.
func (b *Broadcast[T]) Views() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.views)
}

func (b *Broadcast[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.views, id)
}

// Receiver is one independent read handle of a Broadcast.
type Receiver[T any] struct {
	id    uint64
	view  *Channel[T]
	owner *Broadcast[T]
	once  sync.Once
}

// Clone subscribes a new independent view on the same broadcast.
// The clone starts empty.
func (r *Receiver[T]) Clone() *Receiver[T] {
	return r.owner.Subscribe()
}

// Receive blocks until this view holds a value or ctx is done.
func (r *Receiver[T]) Receive(ctx context.Context) (T, error) {
	return r.view.Receive(ctx)
}

// TryReceive takes the pending value of this view, if any.
func (r *Receiver[T]) TryReceive() (T, bool) {
	return r.view.TryReceive()
}

// C returns the receive side of this view for select statements.
func (r *Receiver[T]) C() <-chan T {
	return r.view.C()
}

// Len returns the number of values pending in this view.
func (r *Receiver[T]) Len() int {
	return r.view.Len()
}

// GetMetrics returns the metrics of this view.
func (r *Receiver[T]) GetMetrics() Metrics {
	return r.view.GetMetrics()
}

// Close unsubscribes the view. Further sends no longer reach it.
// Close is idempotent.
func (r *Receiver[T]) Close() {
	r.once.Do(func() {
		r.owner.unsubscribe(r.id)
	})
}
