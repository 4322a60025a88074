// Package producer contains the sensor tasks feeding the coordinators.
package producer

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/channel"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/hal"
)

// DefaultRetryDelay is the pause before the accelerometer loop is restarted
// after a driver error.
const DefaultRetryDelay = time.Second

// ButtonWatcher counts falling edges of buttons A and B.
//
// After every press the whole counter pair is offered to out. A full channel
// drops the update; the next successful send carries the current totals.
type ButtonWatcher struct {
	a, b   hal.Button
	out    channel.Sender[event.Presses]
	logger *logrus.Logger

	presses event.Presses
}

// NewButtonWatcher creates a watcher for buttons a and b.
func NewButtonWatcher(a, b hal.Button, out channel.Sender[event.Presses], logger *logrus.Logger) *ButtonWatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &ButtonWatcher{a: a, b: b, out: out, logger: logger}
}

// Run watches both buttons until ctx is done.
func (w *ButtonWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.a.FallingEdge():
			w.logger.Debug("Pressed A")
			w.presses[0]++
		case <-w.b.FallingEdge():
			w.logger.Debug("Pressed B")
			w.presses[1]++
		}
		w.out.TrySend(w.presses)
	}
}

// AccelWatcher streams accelerometer samples to out.
type AccelWatcher struct {
	xl         hal.Accelerometer
	rate       hal.OutputDataRate
	out        channel.Sender[event.AccelSample]
	retryDelay time.Duration
	logger     *logrus.Logger
}

// NewAccelWatcher creates a watcher sampling xl at rate.
// A non-positive retryDelay restarts the sampling loop immediately.
func NewAccelWatcher(xl hal.Accelerometer, rate hal.OutputDataRate, out channel.Sender[event.AccelSample], retryDelay time.Duration, logger *logrus.Logger) *AccelWatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &AccelWatcher{xl: xl, rate: rate, out: out, retryDelay: retryDelay, logger: logger}
}

// Run samples until ctx is done. Driver errors restart the sampling loop.
func (w *AccelWatcher) Run(ctx context.Context) {
	emit := func(s event.AccelSample) {
		w.out.TrySend(s)
	}

	for {
		err := w.xl.Run(ctx, w.rate, emit)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.WithError(err).Warn("Accelerometer sampling failed, restarting")
		}

		if w.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
		}
	}
}
