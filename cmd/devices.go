package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openconsole/capstream/config"
	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/discovery"
	"github.com/openconsole/capstream/internal/util"
)

type DevicesOptions struct {
	OutputFormat string
	Transport    string
}

func NewDevicesCommand() *cobra.Command {
	opts := &DevicesOptions{}

	cmd := &cobra.Command{
		Use:     "devices [flags]",
		Aliases: []string{"ls"},
		Short:   "List reachable capture devices and their protocol compatibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteDevices(cmd, opts)
		},
		Example: `  # List USB devices (default text format):
  capstream devices

  # List network devices in JSON format:
  capstream devices --transport net --format json`,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.OutputFormat, "format", "text", "Specify output format. Options are \"text\" (default) or \"json\".")
	flags.StringVar(&opts.Transport, "transport", "usb", "Transport to enumerate. Options are \"usb\" (default) or \"net\".")

	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.RegisterFlagCompletionFunc("transport", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"usb", "net"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func ExecuteDevices(cmd *cobra.Command, opts *DevicesOptions) error {
	transport, err := buildTransport(opts.Transport)
	if err != nil {
		return err
	}

	disc := discovery.New(transport, config.GetPollInterval())
	devices, err := disc.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %v", err)
	}
	defer disc.DisposeSnapshot()

	if opts.OutputFormat == "json" {
		return outputDevicesJSON(devices)
	}
	return outputDevicesText(devices)
}

func outputDevicesJSON(devices []*device.Device) error {
	type deviceJSON struct {
		Serial          string `json:"serial"`
		Transport       string `json:"transport"`
		ProtocolVersion uint16 `json:"protocolVersion"`
		Compatible      bool   `json:"compatible"`
	}

	out := make([]deviceJSON, 0, len(devices))
	for _, dev := range devices {
		out = append(out, deviceJSON{
			Serial:          dev.Serial(),
			Transport:       dev.Transport().String(),
			ProtocolVersion: dev.ProtocolVersion(),
			Compatible:      dev.Compatible(),
		})
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func outputDevicesText(devices []*device.Device) error {
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	columns := []util.TableColumn{
		{Header: "SERIAL", Key: "serial"},
		{Header: "TRANSPORT", Key: "transport"},
		{Header: "PROTOCOL", Key: "protocol"},
	}

	rows := make([]map[string]string, 0, len(devices))
	for _, dev := range devices {
		protocol := color.RedString("v%d (incompatible)", dev.ProtocolVersion())
		if dev.Compatible() {
			protocol = color.GreenString("v%d", dev.ProtocolVersion())
		}
		rows = append(rows, map[string]string{
			"serial":    dev.Serial(),
			"transport": dev.Transport().String(),
			"protocol":  protocol,
		})
	}

	util.RenderTable(columns, rows)
	return nil
}
