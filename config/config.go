package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	// Set default values
	v.SetDefault("discovery.poll_interval", "5s")
	v.SetDefault("discovery.net.probe_addrs", []string{})
	v.SetDefault("discovery.net.probe_timeout", "2s")
	v.SetDefault("discovery.usb.vendor_id", 0x057e)
	v.SetDefault("discovery.usb.product_id", 0x3006)

	// Set default capstream home directory
	v.SetDefault("capstream.home", filepath.Join(xdg.Home, ".capstream"))

	// Default directory for recordings and chunk logs (based on capstream.home)
	v.SetDefault("record.dir", "")

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("capstream.home", "CAPSTREAM_HOME")
	v.BindEnv("record.dir", "CAPSTREAM_RECORD_DIR")
	v.BindEnv("discovery.poll_interval", "CAPSTREAM_POLL_INTERVAL")
	v.BindEnv("discovery.net.probe_addrs", "CAPSTREAM_NET_PROBE_ADDRS")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		"$HOME/.capstream",
		"/etc/capstream",
	}

	for _, path := range configPaths {
		expandedPath := os.ExpandEnv(path)
		v.AddConfigPath(expandedPath)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
		// Config file not found; ignore error and use defaults
	}
}

// GetCapstreamHome returns the capstream home directory
func GetCapstreamHome() string {
	return v.GetString("capstream.home")
}

// GetRecordDir returns the directory for recordings and chunk logs
func GetRecordDir() string {
	if dir := v.GetString("record.dir"); dir != "" {
		return dir
	}
	return filepath.Join(GetCapstreamHome(), "recordings")
}

// GetPollInterval returns the auto-connect enumeration interval
func GetPollInterval() time.Duration {
	d := v.GetDuration("discovery.poll_interval")
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetNetProbeAddrs returns the host:port list probed by the network transport
func GetNetProbeAddrs() []string {
	return v.GetStringSlice("discovery.net.probe_addrs")
}

// GetNetProbeTimeout returns the per-address probe timeout
func GetNetProbeTimeout() time.Duration {
	d := v.GetDuration("discovery.net.probe_timeout")
	if d <= 0 {
		return 2 * time.Second
	}
	return d
}

// GetUSBVendorID returns the capture gadget USB vendor id
func GetUSBVendorID() uint16 {
	return uint16(v.GetUint32("discovery.usb.vendor_id"))
}

// GetUSBProductID returns the capture gadget USB product id
func GetUSBProductID() uint16 {
	return uint16(v.GetUint32("discovery.usb.product_id"))
}
