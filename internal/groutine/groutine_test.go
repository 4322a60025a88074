package groutine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/presenter/internal/groutine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func TestPool_BoundsConcurrentTasks(t *testing.T) {
	logger, _ := newLogger()
	pool := groutine.NewPool(2, logger)

	release := make(chan struct{})
	started := make(chan string, 2)
	block := func(name string) groutine.Task {
		return func(ctx context.Context) error {
			started <- name
			<-release
			return nil
		}
	}

	require.NoError(t, pool.Go(context.Background(), "a", block("a")))
	require.NoError(t, pool.Go(context.Background(), "b", block("b")))
	<-started
	<-started

	err := pool.Go(context.Background(), "c", block("c"))
	assert.ErrorIs(t, err, groutine.ErrPoolExhausted)
	assert.Equal(t, 2, pool.Active())
	assert.Equal(t, []string{"a", "b"}, pool.Tasks())

	close(release)
	pool.Wait()
	assert.Equal(t, 0, pool.Active())
	assert.Empty(t, pool.Tasks())
}

func TestPool_SlotRecoveredAfterTaskEnds(t *testing.T) {
	logger, _ := newLogger()
	pool := groutine.NewPool(1, logger)

	done := make(chan struct{})
	require.NoError(t, pool.Go(context.Background(), "first", func(ctx context.Context) error {
		<-done
		return nil
	}))
	assert.ErrorIs(t, pool.Go(context.Background(), "second", func(context.Context) error { return nil }), groutine.ErrPoolExhausted)

	close(done)
	require.Eventually(t, func() bool { return pool.Active() == 0 }, time.Second, time.Millisecond)

	ran := make(chan struct{})
	require.NoError(t, pool.Go(context.Background(), "second", func(context.Context) error {
		close(ran)
		return nil
	}))
	<-ran
	pool.Wait()
}

func TestPool_PanicIsRecovered(t *testing.T) {
	logger, hook := newLogger()
	pool := groutine.NewPool(1, logger)

	require.NoError(t, pool.Go(context.Background(), "boom", func(context.Context) error {
		panic("kaboom")
	}))
	pool.Wait()

	assert.Equal(t, 0, pool.Active())
	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Task panicked" {
			found = true
			assert.Equal(t, logrus.ErrorLevel, e.Level)
			assert.Equal(t, "boom", e.Data["task"])
			assert.Equal(t, "kaboom", e.Data["panic"])
		}
	}
	assert.True(t, found, "panic should be logged")
}

func TestPool_TaskErrorIsLogged(t *testing.T) {
	logger, hook := newLogger()
	pool := groutine.NewPool(1, logger)

	require.NoError(t, pool.Go(context.Background(), "failing", func(context.Context) error {
		return errors.New("session lost")
	}))
	pool.Wait()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Task exited with error", entry.Message)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
}

func TestPool_TaskSeesName(t *testing.T) {
	pool := groutine.NewPool(1, nil)

	name := make(chan string, 1)
	require.NoError(t, pool.Go(context.Background(), "gatt-server-1", func(ctx context.Context) error {
		name <- groutine.GetName(ctx)
		return nil
	}))
	pool.Wait()
	assert.Equal(t, "gatt-server-1", <-name)
}

func TestNewPool_InvalidSize(t *testing.T) {
	assert.Panics(t, func() { groutine.NewPool(0, nil) })
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", groutine.GetName(context.Background()))
}
