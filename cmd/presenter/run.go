package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/presenter/internal/app"
	"github.com/srg/presenter/internal/config"
	"github.com/srg/presenter/internal/dfu"
	"github.com/srg/presenter/internal/hal/sim"
	"github.com/srg/presenter/internal/link/goble"
)

// defaultPartitionSize is the size of the simulated update partition.
const defaultPartitionSize = 256 * 1024

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the presenter peripheral",
	Long: `Start advertising and serve up to max_connections peers.

Button presses can be simulated with --console: type "a" or "b" followed
by Enter to press button A or B.`,
	Args: cobra.NoArgs,
	RunE: runPresenter,
}

var (
	runEnvFile    string
	runConfigPath string
	runConsole    bool
	runPartition  uint32
)

func init() {
	runCmd.Flags().StringVar(&runEnvFile, "env-file", "", "Load PRESENTER_* overrides from a dotenv file")
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to a YAML configuration file")
	runCmd.Flags().BoolVar(&runConsole, "console", false, "Simulate button presses from stdin")
	runCmd.Flags().Uint32Var(&runPartition, "partition-size", defaultPartitionSize, "Size of the firmware update partition in bytes")
}

func runPresenter(cmd *cobra.Command, _ []string) error {
	if runEnvFile != "" {
		if err := config.LoadEnvFile(runEnvFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	dev, err := goble.DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to open BLE adapter: %w", err)
	}
	l, err := goble.New(dev, cfg.LinkConnections, logger)
	if err != nil {
		return err
	}

	flash, err := dfu.NewFileFlash(cfg.FirmwareImage, runPartition)
	if err != nil {
		return err
	}

	buttonA, buttonB := sim.NewButton(), sim.NewButton()
	wd := sim.NewWatchdog(2*cfg.WatchdogPeriod+cfg.WatchdogPeriod/2, nil, logger)
	go wd.Run(ctx)

	board := app.Board{
		ButtonA:     buttonA,
		ButtonB:     buttonB,
		Accel:       sim.NewAccelerometer(),
		Thermometer: sim.NewThermometer(21),
		Watchdog:    wd,
		Display:     sim.NewDisplay(logger),
	}
	if runConsole {
		go pressFromConsole(ctx, cmd.InOrStdin(), buttonA, buttonB, logger)
	}

	a, err := app.New(app.Options{
		Config:  cfg,
		Board:   board,
		Link:    l,
		Flash:   flash,
		Version: version,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := a.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// presser is a button that can be pressed programmatically.
type presser interface {
	Press()
}

// pressFromConsole presses a or b for every matching input line.
func pressFromConsole(ctx context.Context, in io.Reader, a, b presser, logger *logrus.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "a":
			a.Press()
		case "b":
			b.Press()
		case "":
		default:
			logger.WithField("input", scanner.Text()).Warn("Unknown button, use a or b")
		}
	}
}
