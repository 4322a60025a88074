package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
	assert.Panics(t, func() { NewBroadcast[int](0) })
}

func TestChannel_FullRejectsNewValue(t *testing.T) {
	ch := New[int](1)

	require.True(t, ch.TrySend(1))
	assert.False(t, ch.TrySend(2), "second send must be rejected")
	assert.Equal(t, 1, ch.Len())

	v, err := ch.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v, "pending value must survive, the new one is dropped")

	m := ch.GetMetrics()
	assert.Equal(t, int64(1), m.Written)
	assert.Equal(t, int64(1), m.Dropped)
	assert.Equal(t, int64(1), m.Processed)
}

func TestChannel_TrySendNeverBlocks(t *testing.T) {
	ch := New[[2]uint32](1)

	done := make(chan struct{})
	go func() {
		for i := uint32(0); i < 1000; i++ {
			ch.TrySend([2]uint32{i, i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TrySend blocked on a full channel")
	}
	assert.Equal(t, [2]uint32{0, 0}, <-ch.C())
}

func TestChannel_CapacityTen(t *testing.T) {
	ch := New[int](10)
	for i := 0; i < 10; i++ {
		require.True(t, ch.TrySend(i))
	}
	assert.False(t, ch.TrySend(10))
	assert.Equal(t, 10, ch.Cap())

	for i := 0; i < 10; i++ {
		v, ok := ch.TryReceive()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := ch.TryReceive()
	assert.False(t, ok)
}

func TestChannel_ReceiveSuspendsUntilValue(t *testing.T) {
	ch := New[string](1)

	got := make(chan string, 1)
	go func() {
		v, err := ch.Receive(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Receive returned before a value was sent")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, ch.TrySend("hello"))
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up")
	}
}

func TestChannel_ReceiveHonorsContext(t *testing.T) {
	ch := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBroadcast_ViewsAreIndependent(t *testing.T) {
	b := NewBroadcast[int](1)
	r1 := b.Subscribe()
	r2 := r1.Clone()
	require.Equal(t, 2, b.Views())

	assert.True(t, b.TrySend(7))

	v, ok := r1.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	// Draining r1 leaves r2's pending value in place.
	assert.Equal(t, 1, r2.Len())
	v, err := r2.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestBroadcast_FullViewDropsOnlyForItself(t *testing.T) {
	b := NewBroadcast[int](1)
	slow := b.Subscribe()
	fast := b.Subscribe()

	require.True(t, b.TrySend(1))
	<-fast.C()

	assert.False(t, b.TrySend(2), "slow view is still full")

	v, ok := slow.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 1, v, "slow view keeps the original pending value")

	v, ok = fast.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, v, "fast view received the newer value")
}

func TestBroadcast_CloseUnsubscribes(t *testing.T) {
	b := NewBroadcast[int](1)
	r := b.Subscribe()
	r.Close()
	r.Close()

	assert.Equal(t, 0, b.Views())
	assert.True(t, b.TrySend(1), "no views means nothing is dropped")
	assert.Equal(t, 0, r.Len())
}

func TestBroadcast_CloneStartsEmpty(t *testing.T) {
	b := NewBroadcast[int](1)
	r := b.Subscribe()
	require.True(t, b.TrySend(3))

	c := r.Clone()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, r.Len())
}
