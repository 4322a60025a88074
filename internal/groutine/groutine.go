// Package groutine runs labelled goroutines and bounds how many of them run.
package groutine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

type taskKey struct{}

// Go runs fn on a new goroutine labelled with name. The label shows up in
// pprof goroutine profiles and is returned by GetName inside fn.
func Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go pprof.Do(ctx, pprof.Labels("task", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, taskKey{}, name))
	})
}

// GetName returns the task name set by Go, or "".
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(taskKey{}).(string)
	return name
}

// ErrPoolExhausted is returned by Pool.Go when every slot is taken.
var ErrPoolExhausted = errors.New("task pool exhausted")

// Task is a unit of work run by a Pool.
type Task func(ctx context.Context) error

// Pool runs at most Size named tasks at a time. A slot is released when its
// task returns or panics.
type Pool struct {
	size   int64
	active atomic.Int64
	nextID atomic.Uint64
	tasks  *hashmap.Map[uint64, string]
	wg     sync.WaitGroup
	logger *logrus.Logger
}

// NewPool creates a pool with size slots. It panics if size <= 0.
func NewPool(size int, logger *logrus.Logger) *Pool {
	if size <= 0 {
		panic(fmt.Sprintf("groutine: invalid pool size %d", size))
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pool{
		size:   int64(size),
		tasks:  hashmap.New[uint64, string](),
		logger: logger,
	}
}

// Go starts task in a free slot, or returns ErrPoolExhausted without starting it.
func (p *Pool) Go(ctx context.Context, name string, task Task) error {
	if !p.reserve() {
		return ErrPoolExhausted
	}

	id := p.nextID.Add(1)
	p.tasks.Set(id, name)
	p.wg.Add(1)

	Go(ctx, name, func(ctx context.Context) {
		defer p.release(id)

		log := p.logger.WithField("task", name)
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Task panicked")
			}
		}()

		if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("Task exited with error")
			return
		}
		log.Debug("Task finished")
	})
	return nil
}

func (p *Pool) reserve() bool {
	for {
		n := p.active.Load()
		if n >= p.size {
			return false
		}
		if p.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *Pool) release(id uint64) {
	p.tasks.Del(id)
	p.active.Add(-1)
	p.wg.Done()
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Active returns the number of running tasks.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Tasks returns the names of running tasks, sorted.
func (p *Pool) Tasks() []string {
	names := make([]string, 0, p.tasks.Len())
	p.tasks.Range(func(_ uint64, name string) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
