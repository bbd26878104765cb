package cmd

import (
	"fmt"

	"github.com/openconsole/capstream/config"
	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/transport/tcpnet"
	"github.com/openconsole/capstream/internal/transport/usb"
)

// buildTransport maps the --transport flag onto a backend, configured from
// the config package.
func buildTransport(name string) (device.Transport, error) {
	switch name {
	case "usb":
		return usb.New(config.GetUSBVendorID(), config.GetUSBProductID()), nil
	case "net":
		return tcpnet.New(config.GetNetProbeAddrs(), config.GetNetProbeTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (expected \"usb\" or \"net\")", name)
	}
}
