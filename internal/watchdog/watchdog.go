// Package watchdog keeps the hardware watchdog fed while the process is alive.
package watchdog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/hal"
)

// DefaultPeriod is the pet interval.
const DefaultPeriod = 2 * time.Second

// Petter pets a watchdog on a fixed schedule.
type Petter struct {
	wd     hal.Watchdog
	period time.Duration
	logger *logrus.Logger
}

// NewPetter creates a Petter. A non-positive period selects DefaultPeriod.
func NewPetter(wd hal.Watchdog, period time.Duration, logger *logrus.Logger) *Petter {
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Petter{wd: wd, period: period, logger: logger}
}

// Run pets immediately and then once per period until ctx is done.
func (p *Petter) Run(ctx context.Context) {
	p.logger.WithField("period", p.period).Debug("Watchdog petter started")

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.wd.Pet()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.wd.Pet()
		}
	}
}
