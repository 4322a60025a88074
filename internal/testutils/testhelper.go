package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger records entries in Hook.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// WaitForLog waits until an entry with msg has been logged.
func (h *TestHelper) WaitForLog(msg string, timeout time.Duration) *logrus.Entry {
	h.T.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range h.Hook.AllEntries() {
			if e.Message == msg {
				return e
			}
		}
		time.Sleep(time.Millisecond)
	}
	h.T.Fatalf("log entry %q not found within %s", msg, timeout)
	return nil
}

// ManualTicker is a coordinator ticker fired by the test.
type ManualTicker struct {
	Interval time.Duration
	ch       chan time.Time
	stopped  chan struct{}
}

// NewManualTicker creates a ticker reporting interval.
func NewManualTicker(interval time.Duration) *ManualTicker {
	return &ManualTicker{
		Interval: interval,
		ch:       make(chan time.Time, 1),
		stopped:  make(chan struct{}),
	}
}

func (t *ManualTicker) C() <-chan time.Time { return t.ch }

func (t *ManualTicker) Stop() {
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
}

// Fire delivers one tick.
func (t *ManualTicker) Fire() {
	t.ch <- time.Now()
}

// Stopped reports whether Stop was called.
func (t *ManualTicker) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}
