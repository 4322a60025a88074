// Package admission accepts peer connections and hands each one to a
// coordinator running in the connection pool.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/channel"
	"github.com/srg/presenter/internal/coordinator"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/groutine"
	"github.com/srg/presenter/internal/hal"
	"github.com/srg/presenter/internal/link"
	"github.com/srg/presenter/internal/profile"
)

// Options configures a Loop.
type Options struct {
	Link          link.Link
	Advertisement *profile.Advertisement
	Pool          *groutine.Pool
	Sensor        hal.TemperatureSensor

	// Buttons and Accel are template views. Every admitted connection gets
	// its own Clone of each.
	Buttons *channel.Receiver[event.Presses]
	Accel   *channel.Receiver[event.AccelSample]
	Updates channel.Sender[event.UpdateEvent]

	TickInterval time.Duration
	NewTicker    coordinator.TickerFactory
	Logger       *logrus.Logger
}

// Loop advertises, accepts a connection and spawns its coordinator, forever.
type Loop struct {
	opts   Options
	logger *logrus.Logger
}

// New validates opts and creates a Loop.
func New(opts Options) (*Loop, error) {
	if opts.Link == nil || opts.Advertisement == nil {
		return nil, errors.New("admission: link and advertisement are required")
	}
	if opts.Pool == nil {
		return nil, errors.New("admission: pool is required")
	}
	if opts.Buttons == nil || opts.Accel == nil {
		return nil, errors.New("admission: sensor receivers are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Loop{opts: opts, logger: opts.Logger}, nil
}

// Run serves connections until ctx is done, returning nil in that case.
// A failure to advertise is returned as is.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.logger.WithField("name", l.opts.Advertisement.Name).Debug("Advertising")

		conn, err := l.opts.Link.Advertise(ctx, l.opts.Advertisement)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("advertise: %w", err)
		}

		l.logger.WithFields(logrus.Fields{
			"conn": conn.ID(),
			"peer": conn.RemoteAddr(),
		}).Info("Peer connected")

		if err := l.admit(ctx, conn); err != nil {
			l.logger.WithField("conn", conn.ID()).WithError(err).Warn("Failed to start connection task")
			if derr := l.opts.Link.Disconnect(conn); derr != nil {
				l.logger.WithField("conn", conn.ID()).WithError(derr).Debug("Disconnect failed")
			}
		}
	}
}

func (l *Loop) admit(ctx context.Context, conn link.Connection) error {
	buttons := l.opts.Buttons.Clone()
	accel := l.opts.Accel.Clone()

	c, err := coordinator.New(coordinator.Options{
		Link:         l.opts.Link,
		Conn:         conn,
		Sensor:       l.opts.Sensor,
		Buttons:      buttons,
		Accel:        accel,
		Updates:      l.opts.Updates,
		TickInterval: l.opts.TickInterval,
		NewTicker:    l.opts.NewTicker,
		Logger:       l.logger,
	})
	if err != nil {
		buttons.Close()
		accel.Close()
		return err
	}

	if err := l.opts.Pool.Go(ctx, c.String(), c.Run); err != nil {
		buttons.Close()
		accel.Close()
		return err
	}
	return nil
}
