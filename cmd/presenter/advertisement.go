package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/presenter/internal/profile"
)

// advertisementCmd represents the advertisement command
var advertisementCmd = &cobra.Command{
	Use:   "advertisement",
	Short: "Print the advertising payload",
	Long: `Print the advertising data and scan response the presenter broadcasts.

Each AD structure is printed on its own line as length, type and value.
Fails if the device name does not fit into a legacy advertisement.`,
	Args: cobra.NoArgs,
	RunE: runAdvertisement,
}

var advertisementName string

func init() {
	advertisementCmd.Flags().StringVarP(&advertisementName, "name", "n", "Drogue Presenter", "Device name to advertise")
}

func runAdvertisement(cmd *cobra.Command, _ []string) error {
	adv, err := profile.NewAdvertisement(advertisementName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printPayload(out, "advertising data", adv.Data())
	printPayload(out, "scan response", adv.ScanResponse())
	return nil
}

// printPayload prints payload split into its AD structures.
func printPayload(out io.Writer, title string, payload []byte) {
	header := color.New(color.Bold)
	length := color.New(color.FgYellow)
	adType := color.New(color.FgCyan)
	value := color.New(color.FgGreen)

	header.Fprintf(out, "%s (%d bytes)\n", title, len(payload))
	for i := 0; i < len(payload); {
		n := int(payload[i])
		if n == 0 || i+1+n > len(payload) {
			fmt.Fprintf(out, "  malformed at %d: % x\n", i, payload[i:])
			return
		}
		field := payload[i+1 : i+1+n]
		fmt.Fprint(out, "  ")
		length.Fprintf(out, "%02x", payload[i])
		fmt.Fprint(out, " ")
		adType.Fprintf(out, "%02x", field[0])
		fmt.Fprint(out, " ")
		value.Fprint(out, hexBytes(field[1:]))
		fmt.Fprintf(out, "  %s\n", describe(field[0], field[1:]))
		i += 1 + n
	}
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, " ")
}

func describe(adType byte, data []byte) string {
	switch adType {
	case 0x01:
		return "flags"
	case 0x03:
		uuids := make([]string, 0, len(data)/2)
		for i := 0; i+1 < len(data); i += 2 {
			uuids = append(uuids, fmt.Sprintf("0x%02X%02X", data[i+1], data[i]))
		}
		return "16-bit services " + strings.Join(uuids, ",")
	case 0x09:
		return fmt.Sprintf("name %q", string(data))
	default:
		return fmt.Sprintf("type 0x%02x", adType)
	}
}
