// Package coordinator implements the per-connection task that turns protocol
// events, measurement ticks and sensor samples into notifications.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/channel"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/hal"
	"github.com/srg/presenter/internal/link"
	"github.com/srg/presenter/internal/profile"
)

// DefaultTickInterval is the measurement interval of a new connection.
const DefaultTickInterval = 5 * time.Second

// State is the mutable state of one connection. It is only touched by the
// goroutine running the coordinator.
type State struct {
	NotifyButtons     bool
	NotifyTemperature bool
	NotifyAccel       bool
	TickInterval      time.Duration
}

// Options configures a Coordinator.
type Options struct {
	Link    link.Link
	Conn    link.Connection
	Sensor  hal.TemperatureSensor
	Buttons *channel.Receiver[event.Presses]
	Accel   *channel.Receiver[event.AccelSample]
	Updates channel.Sender[event.UpdateEvent]

	TickInterval time.Duration // DefaultTickInterval if zero
	NewTicker    TickerFactory // NewTimeTicker if nil
	Logger       *logrus.Logger
}

// Coordinator serves one connection.
type Coordinator struct {
	link    link.Link
	conn    link.Connection
	sensor  hal.TemperatureSensor
	buttons *channel.Receiver[event.Presses]
	accel   *channel.Receiver[event.AccelSample]
	updates channel.Sender[event.UpdateEvent]

	newTicker TickerFactory
	log       *logrus.Entry

	state           State
	pendingInterval time.Duration
}

// New creates a coordinator for opts.Conn. The coordinator takes ownership of
// the receivers and closes them when Run returns.
func New(opts Options) (*Coordinator, error) {
	if opts.Link == nil || opts.Conn == nil {
		return nil, errors.New("coordinator: link and connection are required")
	}
	if opts.Sensor == nil || opts.Updates == nil {
		return nil, errors.New("coordinator: sensor and update sender are required")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Coordinator{
		link:      opts.Link,
		conn:      opts.Conn,
		sensor:    opts.Sensor,
		buttons:   opts.Buttons,
		accel:     opts.Accel,
		updates:   opts.Updates,
		newTicker: opts.NewTicker,
		log: opts.Logger.WithFields(logrus.Fields{
			"conn": opts.Conn.ID(),
			"peer": opts.Conn.RemoteAddr(),
		}),
		state: State{TickInterval: opts.TickInterval},
	}, nil
}

// Run serves the connection until the session ends or ctx is done.
//
// Each iteration handles exactly one of: a protocol event, a measurement tick,
// a button update or an accelerometer sample. No ordering between sources
// that are ready at the same time is guaranteed.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.closeReceivers()

	c.log.Info("Started gatt server for connection")

	protocol := make(chan event.ProtocolEvent)
	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- c.link.Run(ctx, c.conn, func(ev event.ProtocolEvent) {
			select {
			case protocol <- ev:
			case <-ctx.Done():
			}
		})
	}()

	ticker := c.newTicker(c.state.TickInterval)
	defer func() { ticker.Stop() }()

	for {
		var ev event.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sessionDone:
			if err != nil {
				c.log.WithError(err).Warn("gatt session exited with error")
				return err
			}
			c.log.Info("Connection closed")
			return nil
		case pev := <-protocol:
			ev = pev
		case <-ticker.C():
			ev = event.Tick{}
		case presses := <-c.buttonsC():
			ev = presses
		case sample := <-c.accelC():
			ev = sample
		}

		c.handle(ctx, ev)

		if c.pendingInterval > 0 {
			ticker.Stop()
			ticker = c.newTicker(c.pendingInterval)
			c.state.TickInterval = c.pendingInterval
			c.pendingInterval = 0
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event.Event) {
	switch ev := ev.(type) {
	case event.NotifyToggled:
		c.toggle(ev)
	case event.IntervalWritten:
		if ev.Seconds == 0 {
			c.log.Warn("Ignoring zero measurement interval")
			return
		}
		c.log.WithField("seconds", ev.Seconds).Info("Setting interval")
		c.pendingInterval = time.Duration(ev.Seconds) * time.Second
		c.publish(profile.AttrMeasurementInterval, profile.EncodeInterval(ev.Seconds))
	case event.UpdateRequested:
		if !c.updates.TrySend(ev.Update) {
			c.log.WithField("op", ev.Update.Op).Debug("Update queue full, dropping firmware event")
		}
	case event.Unknown:
		c.log.WithField("attr", ev.Attr).Debug("Ignoring unhandled write")
	case event.Tick:
		c.measure(ctx)
	case event.Presses:
		payload := profile.EncodePresses(ev)
		c.publish(profile.AttrPresses, payload)
		if c.state.NotifyButtons {
			c.notify(profile.AttrPresses, payload)
		}
	case event.AccelSample:
		payload := profile.EncodeAccel(ev.X, ev.Y, ev.Z)
		c.publish(profile.AttrAccel, payload)
		if c.state.NotifyAccel {
			c.notify(profile.AttrAccel, payload)
		}
	}
}

func (c *Coordinator) toggle(ev event.NotifyToggled) {
	switch ev.Attr {
	case profile.AttrTemperature:
		c.state.NotifyTemperature = ev.Enabled
	case profile.AttrPresses:
		c.state.NotifyButtons = ev.Enabled
	case profile.AttrAccel:
		c.state.NotifyAccel = ev.Enabled
	default:
		c.log.WithField("attr", ev.Attr).Debug("Ignoring notify toggle")
		return
	}
	c.log.WithFields(logrus.Fields{
		"attr":    ev.Attr,
		"enabled": ev.Enabled,
	}).Info("Notifications toggled")
}

func (c *Coordinator) measure(ctx context.Context) {
	celsius, err := c.sensor.ReadCelsius(ctx)
	if err != nil {
		c.log.WithError(err).Warn("Failed to read temperature")
		return
	}
	value := profile.CelsiusToFahrenheitTenths(celsius)
	c.log.WithFields(logrus.Fields{
		"celsius": celsius,
		"value":   value,
	}).Debug("Measured temperature")

	payload := profile.EncodeTemperature(value)
	c.publish(profile.AttrTemperature, payload)
	if c.state.NotifyTemperature {
		c.notify(profile.AttrTemperature, payload)
	}
}

// publish stores the readable value of attr, shared by every connection.
func (c *Coordinator) publish(attr profile.Attribute, data []byte) {
	if err := c.link.SetValue(attr, data); err != nil {
		c.log.WithField("attr", attr).WithError(err).Warn("Failed to publish value")
	}
}

func (c *Coordinator) notify(attr profile.Attribute, data []byte) {
	if err := c.link.Notify(c.conn, attr, data); err != nil {
		c.log.WithField("attr", attr).WithError(err).Warn("Notification failed")
	}
}

// State returns a copy of the connection state. It must only be called from
// the goroutine running the coordinator or after Run has returned.
func (c *Coordinator) State() State {
	return c.state
}

func (c *Coordinator) buttonsC() <-chan event.Presses {
	if c.buttons == nil {
		return nil
	}
	return c.buttons.C()
}

func (c *Coordinator) accelC() <-chan event.AccelSample {
	if c.accel == nil {
		return nil
	}
	return c.accel.C()
}

func (c *Coordinator) closeReceivers() {
	if c.buttons != nil {
		c.buttons.Close()
	}
	if c.accel != nil {
		c.accel.Close()
	}
}

// String identifies the coordinator in logs and task names.
func (c *Coordinator) String() string {
	return fmt.Sprintf("gatt-server-%s", c.conn.ID())
}
