// Package app wires the presenter tasks together.
package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/admission"
	"github.com/srg/presenter/internal/channel"
	"github.com/srg/presenter/internal/config"
	"github.com/srg/presenter/internal/coordinator"
	"github.com/srg/presenter/internal/dfu"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/groutine"
	"github.com/srg/presenter/internal/hal"
	"github.com/srg/presenter/internal/link"
	"github.com/srg/presenter/internal/producer"
	"github.com/srg/presenter/internal/profile"
	"github.com/srg/presenter/internal/updater"
	"github.com/srg/presenter/internal/watchdog"
)

// Device information published at startup.
const (
	Manufacturer     = "Red Hat"
	HardwareRevision = "1.0"
)

// Board groups the hardware collaborators.
type Board struct {
	ButtonA     hal.Button
	ButtonB     hal.Button
	Accel       hal.Accelerometer
	Thermometer hal.TemperatureSensor
	Watchdog    hal.Watchdog
	Display     hal.Display
}

func (b Board) validate() error {
	if b.ButtonA == nil || b.ButtonB == nil {
		return errors.New("board: both buttons are required")
	}
	if b.Accel == nil || b.Thermometer == nil {
		return errors.New("board: accelerometer and thermometer are required")
	}
	if b.Watchdog == nil || b.Display == nil {
		return errors.New("board: watchdog and display are required")
	}
	return nil
}

// Options configures an App.
type Options struct {
	Config  *config.Config
	Board   Board
	Link    link.Link
	Flash   dfu.Flash
	Version string

	// NewTicker overrides the coordinator measurement ticker.
	NewTicker coordinator.TickerFactory
	Logger    *logrus.Logger
}

// App is the running presenter.
type App struct {
	cfg     *config.Config
	board   Board
	link    link.Link
	flash   dfu.Flash
	version string

	newTicker coordinator.TickerFactory
	logger    *logrus.Logger

	pool *groutine.Pool
}

// New validates opts and creates an App.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Board.validate(); err != nil {
		return nil, err
	}
	if opts.Link == nil || opts.Flash == nil {
		return nil, errors.New("app: link and flash are required")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = opts.Config.NewLogger()
	}

	return &App{
		cfg:       opts.Config,
		board:     opts.Board,
		link:      opts.Link,
		flash:     opts.Flash,
		version:   opts.Version,
		newTicker: opts.NewTicker,
		logger:    opts.Logger,
		pool:      groutine.NewPool(opts.Config.MaxConnections, opts.Logger),
	}, nil
}

// Pool returns the connection task pool.
func (a *App) Pool() *groutine.Pool {
	return a.pool
}

// Run starts every task and serves connections until ctx is done or
// advertising fails. It returns after all tasks have stopped.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.WithField("version", a.version).Info("Running firmware version")

	adv, err := profile.NewAdvertisement(a.cfg.DeviceName)
	if err != nil {
		return err
	}

	svc, err := dfu.NewService(a.flash, dfu.Options{
		Version:  []byte(a.version),
		PageSize: a.cfg.DFUPageSize,
		MTU:      a.cfg.DFUMTU,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := a.publishInitialValues(svc); err != nil {
		return err
	}

	buttons := channel.NewBroadcast[event.Presses](1)
	accel := channel.NewBroadcast[event.AccelSample](1)
	updates := channel.New[event.UpdateEvent](a.cfg.UpdateQueueSize)

	buttonsTemplate := buttons.Subscribe()
	accelTemplate := accel.Subscribe()
	defer buttonsTemplate.Close()
	defer accelTemplate.Close()

	loop, err := admission.New(admission.Options{
		Link:          a.link,
		Advertisement: adv,
		Pool:          a.pool,
		Sensor:        a.board.Thermometer,
		Buttons:       buttonsTemplate,
		Accel:         accelTemplate,
		Updates:       updates,
		TickInterval:  a.cfg.TickInterval,
		NewTicker:     a.newTicker,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func(ctx context.Context)) {
		wg.Add(1)
		groutine.Go(ctx, name, func(ctx context.Context) {
			defer wg.Done()
			fn(ctx)
		})
	}

	spawn("button-watcher", producer.NewButtonWatcher(a.board.ButtonA, a.board.ButtonB, buttons, a.logger).Run)
	spawn("xl-watcher", producer.NewAccelWatcher(a.board.Accel, hal.OutputDataRate(a.cfg.AccelRateHz), accel, a.cfg.AccelRetryDelay, a.logger).Run)
	spawn("updater", updater.NewForwarder(updates, &publishingApplier{svc: svc, link: a.link, logger: a.logger}, a.logger).Run)
	spawn("watchdog", watchdog.NewPetter(a.board.Watchdog, a.cfg.WatchdogPeriod, a.logger).Run)
	spawn("blinker", a.blink)

	err = loop.Run(ctx)
	if err != nil {
		a.logger.WithError(err).Error("Admission loop failed")
	}

	cancel()
	wg.Wait()
	a.pool.Wait()
	return err
}

// publishInitialValues seeds every readable characteristic, so reads return
// a fixed-size value before the first measurement or event.
func (a *App) publishInitialValues(svc *dfu.Service) error {
	mtu := svc.MTU()
	if mtu > 0xff {
		mtu = 0xff
	}
	interval := uint16(a.cfg.TickInterval / time.Second)

	values := []struct {
		attr profile.Attribute
		data []byte
	}{
		{profile.AttrManufacturer, []byte(Manufacturer)},
		{profile.AttrModel, []byte(a.cfg.DeviceName)},
		{profile.AttrFirmwareRevision, []byte(a.version)},
		{profile.AttrHardwareRevision, []byte(HardwareRevision)},
		{profile.AttrFirmwareVersion, svc.Version()},
		{profile.AttrFirmwareMTU, []byte{byte(mtu)}},
		{profile.AttrFirmwareOffset, le32(0)},
		{profile.AttrMeasurementInterval, profile.EncodeInterval(interval)},
		{profile.AttrMeasurementDescriptor, profile.EncodeMeasurementDescriptor(uint32(interval))},
		{profile.AttrTriggerSetting, profile.EncodeFixedIntervalTrigger(uint32(interval))},
		{profile.AttrTemperature, profile.EncodeTemperature(0)},
		{profile.AttrPresses, make([]byte, profile.PressesPayloadSize)},
		{profile.AttrAccel, make([]byte, profile.AccelPayloadSize)},
	}
	for _, v := range values {
		if err := a.link.SetValue(v.attr, v.data); err != nil {
			return fmt.Errorf("failed to publish %s: %w", v.attr, err)
		}
	}
	return nil
}

// blink shows the idle glyph on the display, once per blink interval.
func (a *App) blink(ctx context.Context) {
	for {
		if err := a.board.Display.Show(ctx, 'A', a.cfg.BlinkInterval); err != nil && ctx.Err() == nil {
			a.logger.WithError(err).Debug("Display failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.BlinkInterval):
		}
	}
}

// publishingApplier applies update steps and republishes the readable
// firmware service values after each one.
type publishingApplier struct {
	svc    *dfu.Service
	link   link.Link
	logger *logrus.Logger
}

func (p *publishingApplier) Apply(ctx context.Context, ev event.UpdateEvent) error {
	if err := p.svc.Apply(ctx, ev); err != nil {
		return err
	}

	switch ev.Op {
	case event.UpdateStart, event.UpdateSetOffset, event.UpdateWrite:
		p.publish(profile.AttrFirmwareOffset, le32(p.svc.Offset()))
	case event.UpdateNextVersion:
		p.publish(profile.AttrFirmwareNextVersion, p.svc.NextVersion())
	}
	return nil
}

func (p *publishingApplier) publish(attr profile.Attribute, data []byte) {
	if err := p.link.SetValue(attr, data); err != nil {
		p.logger.WithField("attr", attr).WithError(err).Debug("Failed to publish firmware value")
	}
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}
