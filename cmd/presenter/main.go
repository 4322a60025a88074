package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

// Set by the release build through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion turns a release number such as 1.2.0 into v1.2.0. Build
// names like "dev" are kept.
func formatVersion(ver string) string {
	if ver != "" && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "presenter",
	Short: "BLE presentation clicker peripheral",
	Long: `Bluetooth Low Energy presentation clicker running as a GATT peripheral:

- Counts button presses and notifies subscribed peers
- Streams accelerometer samples
- Publishes temperature on a configurable measurement interval
- Accepts firmware updates over the firmware GATT service

Board peripherals are simulated on the host; the radio is the host BLE adapter.`,
	Version:       formatVersion(version),
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("presenter {{.Version}} (commit %s, built %s)\n", commit, date))
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, advertisementCmd)
}

func main() {
	err := rootCmd.Execute()
	if err == nil || errors.Is(err, context.Canceled) {
		// An interrupted run is a normal shutdown.
		return
	}
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
	os.Exit(1)
}
