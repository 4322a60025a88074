// Package hal declares the board collaborators the presenter core consumes.
//
// Implementations are expected to be correct drivers; the core only handles
// their errors.
package hal

import (
	"context"
	"time"

	"github.com/srg/presenter/internal/event"
)

// Button is an edge-triggered input.
type Button interface {
	// FallingEdge delivers one value per falling edge.
	FallingEdge() <-chan struct{}
}

// OutputDataRate is an accelerometer sampling rate in Hz.
type OutputDataRate int

const (
	ODR1Hz  OutputDataRate = 1
	ODR10Hz OutputDataRate = 10
	ODR25Hz OutputDataRate = 25
	ODR50Hz OutputDataRate = 50
)

// Period returns the sampling period of the rate.
func (r OutputDataRate) Period() time.Duration {
	if r <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(r)
}

// Accelerometer runs a continuous sampling loop.
type Accelerometer interface {
	// Run samples at rate and calls emit once per sample until ctx is done or
	// the driver fails.
	Run(ctx context.Context, rate OutputDataRate, emit func(event.AccelSample)) error
}

// TemperatureSensor reads the die temperature.
type TemperatureSensor interface {
	ReadCelsius(ctx context.Context) (int, error)
}

// UpdateApplier applies firmware update steps.
type UpdateApplier interface {
	Apply(ctx context.Context, ev event.UpdateEvent) error
}

// Watchdog must be pet at least once per watchdog period.
type Watchdog interface {
	Pet()
}

// Display shows a single glyph.
type Display interface {
	Show(ctx context.Context, glyph rune, d time.Duration) error
}
