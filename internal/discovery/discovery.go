package discovery

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/util"
)

// ErrCancelled reports an auto-connect loop aborted by an explicit
// cancellation request. A clean termination, never logged as an error.
var ErrCancelled = errors.New("auto-connect cancelled")

// ErrSearchInProgress reports a second auto-connect started while one is
// already polling on this Discovery.
var ErrSearchInProgress = errors.New("auto-connect already in progress")

// DefaultPollInterval is the re-enumeration interval of the auto-connect loop.
const DefaultPollInterval = 5 * time.Second

// Result is the outcome of an auto-connect loop, delivered once over the
// result channel: either a connected device or a typed failure.
type Result struct {
	Device *device.Device
	Err    error
}

// Discovery enumerates devices on one transport and optionally runs an
// unattended connect loop. The snapshot and searching state shared with the
// loop goroutine are guarded by a single mutex.
type Discovery struct {
	transport device.Transport
	interval  time.Duration

	mu        sync.Mutex
	snapshot  []*device.Device
	searching bool
	cancelCh  chan struct{}
}

// New creates a Discovery over the given transport. A non-positive interval
// falls back to DefaultPollInterval.
func New(transport device.Transport, interval time.Duration) *Discovery {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Discovery{transport: transport, interval: interval}
}

// Enumerate returns the current snapshot of reachable devices. An empty
// result is normal; an error means the transport itself failed. The previous
// snapshot is disposed, except devices whose ownership was transferred by
// Connect.
func (d *Discovery) Enumerate() ([]*device.Device, error) {
	descs, err := d.transport.Enumerate()
	if err != nil {
		return nil, err
	}

	devices := make([]*device.Device, 0, len(descs))
	for _, desc := range descs {
		devices = append(devices, device.FromDescriptor(desc))
	}

	d.mu.Lock()
	prev := d.snapshot
	d.snapshot = devices
	d.mu.Unlock()

	for _, dev := range prev {
		dev.Dispose()
	}

	return devices, nil
}

// Connect opens the device and transfers its ownership out of the snapshot,
// so later enumerations will not dispose it. An incompatible device is never
// connected; it fails with ErrIncompatibleDevice.
func (d *Discovery) Connect(dev *device.Device) error {
	if !dev.Compatible() {
		return errors.Wrapf(device.ErrIncompatibleDevice,
			"device %s announces protocol version %d", dev.Serial(), dev.ProtocolVersion())
	}

	conn, err := d.transport.Open(dev.Descriptor())
	if err != nil {
		return errors.Wrapf(err, "failed to connect to device %s", dev.Serial())
	}
	dev.Attach(conn)

	d.mu.Lock()
	for i, snap := range d.snapshot {
		if snap == dev {
			d.snapshot = append(d.snapshot[:i], d.snapshot[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	util.GetLogger().Info("Device connected",
		"serial", dev.Serial(), "transport", dev.Transport().String())
	return nil
}

// DisposeSnapshot disposes every device in the current snapshot. Called on
// teardown.
func (d *Discovery) DisposeSnapshot() {
	d.mu.Lock()
	prev := d.snapshot
	d.snapshot = nil
	d.mu.Unlock()

	for _, dev := range prev {
		dev.Dispose()
	}
}

// Searching reports whether an auto-connect loop is currently polling.
func (d *Discovery) Searching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.searching
}

// StartAutoConnect begins the unattended connect loop. filter is a
// case-insensitive serial suffix; empty matches the first compatible device.
// The single Result is delivered on the returned channel when the loop
// terminates: a connected device, ErrCancelled, or a typed failure.
func (d *Discovery) StartAutoConnect(filter string) (<-chan Result, error) {
	d.mu.Lock()
	if d.searching {
		d.mu.Unlock()
		return nil, ErrSearchInProgress
	}
	d.searching = true
	cancelCh := make(chan struct{})
	d.cancelCh = cancelCh
	d.mu.Unlock()

	results := make(chan Result, 1)
	go d.autoConnectLoop(filter, cancelCh, results)

	util.GetLogger().Info("Auto-connect started",
		"filter", filter, "interval", d.interval)
	return results, nil
}

// CancelAutoConnect requests termination of a running auto-connect loop.
// Safe to call at any time, from any goroutine, including concurrently with
// an in-flight enumeration. No-op when nothing is searching.
func (d *Discovery) CancelAutoConnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelCh != nil {
		close(d.cancelCh)
		d.cancelCh = nil
	}
}

func (d *Discovery) autoConnectLoop(filter string, cancelCh <-chan struct{}, results chan<- Result) {
	logger := util.GetLogger()

	defer func() {
		d.mu.Lock()
		d.searching = false
		d.cancelCh = nil
		d.mu.Unlock()
	}()

	for {
		select {
		case <-cancelCh:
			logger.Info("Auto-connect cancelled before match")
			results <- Result{Err: ErrCancelled}
			return
		default:
		}

		devices, err := d.Enumerate()
		switch {
		case err != nil:
			// Transport failures are recoverable; keep polling.
			logger.Warn("Enumeration failed, will retry", "error", err)
		default:
			if match := pickDevice(devices, filter); match != nil {
				if !match.Compatible() {
					// The filter named this device; surface the mismatch
					// instead of silently skipping it.
					results <- Result{Err: errors.Wrapf(device.ErrIncompatibleDevice,
						"device %s announces protocol version %d", match.Serial(), match.ProtocolVersion())}
					return
				}
				if err := d.Connect(match); err != nil {
					results <- Result{Err: err}
					return
				}
				results <- Result{Device: match}
				return
			}
			logIncompatible(logger, devices, filter)
		}

		select {
		case <-cancelCh:
			logger.Info("Auto-connect cancelled")
			results <- Result{Err: ErrCancelled}
			return
		case <-time.After(d.interval):
		}
	}
}

// pickDevice selects the auto-connect target. With a filter, the first
// device whose serial ends with it (case-insensitive), compatible or not;
// without, the first compatible device.
func pickDevice(devices []*device.Device, filter string) *device.Device {
	if filter != "" {
		suffix := strings.ToLower(filter)
		for _, dev := range devices {
			if strings.HasSuffix(strings.ToLower(dev.Serial()), suffix) {
				return dev
			}
		}
		return nil
	}
	for _, dev := range devices {
		if dev.Compatible() {
			return dev
		}
	}
	return nil
}

func logIncompatible(logger *slog.Logger, devices []*device.Device, filter string) {
	if filter != "" {
		return
	}
	for _, dev := range devices {
		if !dev.Compatible() {
			logger.Warn("Skipping incompatible device",
				"serial", dev.Serial(), "version", dev.ProtocolVersion())
		}
	}
}
