// Package sim provides host implementations of the board collaborators.
package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/hal"
)

// ErrDriverFault is returned by a simulated driver after Fail was called.
var ErrDriverFault = errors.New("simulated driver fault")

// Button is a push button driven by Press.
type Button struct {
	edges chan struct{}
}

// NewButton creates a button that buffers up to 16 unhandled edges.
func NewButton() *Button {
	return &Button{edges: make(chan struct{}, 16)}
}

// Press simulates one falling edge. Edges beyond the buffer are lost.
func (b *Button) Press() {
	select {
	case b.edges <- struct{}{}:
	default:
	}
}

func (b *Button) FallingEdge() <-chan struct{} {
	return b.edges
}

// Accelerometer produces a slow synthetic tilt motion.
type Accelerometer struct {
	fail atomic.Bool
	step atomic.Int64
}

// NewAccelerometer creates a simulated accelerometer.
func NewAccelerometer() *Accelerometer {
	return &Accelerometer{}
}

// Fail makes the running sampling loop return ErrDriverFault once.
func (a *Accelerometer) Fail() {
	a.fail.Store(true)
}

func (a *Accelerometer) Run(ctx context.Context, rate hal.OutputDataRate, emit func(event.AccelSample)) error {
	ticker := time.NewTicker(rate.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if a.fail.CompareAndSwap(true, false) {
				return ErrDriverFault
			}
			phase := float64(a.step.Add(1)) / 20
			emit(event.AccelSample{
				X: int16(512 * math.Sin(phase)),
				Y: int16(512 * math.Cos(phase)),
				Z: 1024,
			})
		}
	}
}

// Thermometer reports a settable temperature.
type Thermometer struct {
	celsius atomic.Int64
	err     atomic.Pointer[error]
}

// NewThermometer creates a thermometer reading celsius.
func NewThermometer(celsius int) *Thermometer {
	t := &Thermometer{}
	t.celsius.Store(int64(celsius))
	return t
}

// Set changes the reported temperature.
func (t *Thermometer) Set(celsius int) {
	t.celsius.Store(int64(celsius))
}

// SetError makes subsequent reads fail with err; nil clears it.
func (t *Thermometer) SetError(err error) {
	if err == nil {
		t.err.Store(nil)
		return
	}
	t.err.Store(&err)
}

func (t *Thermometer) ReadCelsius(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p := t.err.Load(); p != nil {
		return 0, *p
	}
	return int(t.celsius.Load()), nil
}

// Watchdog is a software watchdog. Expired is invoked when the watchdog is
// not pet within its timeout.
type Watchdog struct {
	timeout time.Duration
	logger  *logrus.Logger
	expired func()

	mu      sync.Mutex
	lastPet time.Time
	pets    int64
}

// NewWatchdog creates a watchdog with the given timeout. If expired is nil
// the watchdog only logs.
func NewWatchdog(timeout time.Duration, expired func(), logger *logrus.Logger) *Watchdog {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watchdog{
		timeout: timeout,
		logger:  logger,
		expired: expired,
		lastPet: time.Now(),
	}
}

func (w *Watchdog) Pet() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastPet = time.Now()
	w.pets++
}

// Pets returns how many times the watchdog was pet.
func (w *Watchdog) Pets() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pets
}

// Run checks the deadline until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.mu.Lock()
			overdue := now.Sub(w.lastPet)
			w.mu.Unlock()

			if overdue > w.timeout {
				w.logger.WithField("overdue", overdue).Error("Watchdog expired")
				if w.expired != nil {
					w.expired()
				}
				w.Pet()
			}
		}
	}
}

// Display logs every glyph it shows.
type Display struct {
	logger *logrus.Logger
	shown  atomic.Int64
}

// NewDisplay creates a logging display.
func NewDisplay(logger *logrus.Logger) *Display {
	if logger == nil {
		logger = logrus.New()
	}
	return &Display{logger: logger}
}

func (d *Display) Show(ctx context.Context, glyph rune, dur time.Duration) error {
	d.shown.Add(1)
	d.logger.WithField("glyph", string(glyph)).Trace("Display on")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(dur):
		return nil
	}
}

// Shown returns how many glyphs were displayed.
func (d *Display) Shown() int64 {
	return d.shown.Load()
}
