// Package updater decouples firmware update writes from GATT session handling.
package updater

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/channel"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/hal"
)

// DefaultQueueSize is the capacity of the update event queue.
const DefaultQueueSize = 10

// Forwarder applies queued update events one at a time.
type Forwarder struct {
	events  *channel.Channel[event.UpdateEvent]
	applier hal.UpdateApplier
	logger  *logrus.Logger
}

// NewForwarder creates a forwarder draining events into applier.
func NewForwarder(events *channel.Channel[event.UpdateEvent], applier hal.UpdateApplier, logger *logrus.Logger) *Forwarder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Forwarder{events: events, applier: applier, logger: logger}
}

// Run processes events until ctx is done.
//
// A failed event is logged and discarded. It is never retried: the flash may
// already hold part of the write.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		ev, err := f.events.Receive(ctx)
		if err != nil {
			return
		}

		if err := f.applier.Apply(ctx, ev); err != nil {
			f.logger.WithFields(logrus.Fields{
				"op":     ev.Op,
				"offset": ev.Offset,
				"len":    len(ev.Data),
			}).WithError(err).Warn("Error applying firmware event")
		}
	}
}
