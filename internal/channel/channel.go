package channel

import (
	"context"
	"sync/atomic"
)

// Channel is a bounded mailbox with reject-newest semantics.
//
// It wraps a buffered Go channel. Producers never block: when every slot is
// occupied the value being sent is discarded and the pending values stay
// untouched. Consumers suspend in Receive until a value is available.
//
// # Example
//
//	ch := channel.New[int](1)
//
//	ch.TrySend(1) // true
//	ch.TrySend(2) // false, 2 is discarded
//
//	v, _ := ch.Receive(ctx) // v == 1
//
// Channels with capacity 1 favor freshness of sensor samples; larger
// capacities are used where an event must survive short bursts.
type Channel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a Channel with the given capacity.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("channel: capacity must be > 0")
	}
	return &Channel[T]{ch: make(chan T, capacity)}
}

// TrySend attempts to insert without blocking.
// Returns false if the channel is full; the new value is dropped.
func (c *Channel[T]) TrySend(v T) bool {
	select {
	case c.ch <- v:
		c.metrics.addWritten()
		return true
	default:
		c.metrics.addDropped()
		return false
	}
}

// Receive blocks until a value is available or ctx is done.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-c.ch:
		c.metrics.addProcessed()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (c *Channel[T]) TryReceive() (T, bool) {
	select {
	case v := <-c.ch:
		c.metrics.addProcessed()
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C returns the underlying receive-only channel for use in select statements.
//
// Reads via C() bypass the Processed metric.
func (c *Channel[T]) C() <-chan T {
	return c.ch
}

// Len returns the number of pending values.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.ch)
}

// GetMetrics returns a snapshot of current metrics values.
func (c *Channel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:   atomic.LoadInt64(&c.metrics.Written),
		Dropped:   atomic.LoadInt64(&c.metrics.Dropped),
		Processed: atomic.LoadInt64(&c.metrics.Processed),
	}
}

// Metrics provides lock-free counters for a Channel.
type Metrics struct {
	Written   int64 // values accepted by TrySend
	Dropped   int64 // values rejected because the channel was full
	Processed int64 // values taken by Receive or TryReceive
}

func (m *Metrics) addWritten() {
	atomic.AddInt64(&m.Written, 1)
}

func (m *Metrics) addDropped() {
	atomic.AddInt64(&m.Dropped, 1)
}

func (m *Metrics) addProcessed() {
	atomic.AddInt64(&m.Processed, 1)
}

// Sender is the producer side of a channel or broadcast.
type Sender[T any] interface {
	TrySend(v T) bool
}
