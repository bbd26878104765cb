package usb

import (
	"context"
	"io"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/stream"
	"github.com/openconsole/capstream/internal/util"
)

const (
	// requestHello is the vendor control request returning the capture
	// service's protocol-info blob.
	requestHello = uint8(0x40)

	helloBufSize = 64

	// Bulk IN endpoint numbers on the capture interface.
	videoEndpointNum = 1
	audioEndpointNum = 2
)

// Transport reaches capture gadgets over USB, matched by vendor/product id.
type Transport struct {
	vendorID  gousb.ID
	productID gousb.ID
}

// New creates a USB transport for the given vendor/product id pair.
func New(vendorID, productID uint16) *Transport {
	return &Transport{
		vendorID:  gousb.ID(vendorID),
		productID: gousb.ID(productID),
	}
}

func (t *Transport) Kind() device.TransportKind { return device.TransportUSB }

// Enumerate lists plugged-in capture gadgets. Bus or permission failures are
// transport errors; zero matches is a normal result.
func (t *Transport) Enumerate() ([]device.Descriptor, error) {
	logger := util.GetLogger()

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == t.vendorID && desc.Product == t.productID
	})
	defer func() {
		for _, dev := range devs {
			dev.Close()
		}
	}()
	if err != nil {
		return nil, &device.TransportError{
			Transport: device.TransportUSB, Op: "enumerate",
			Err: errors.Wrap(err, "usb open devices"),
		}
	}

	descs := []device.Descriptor{}
	for _, dev := range devs {
		serial, err := dev.SerialNumber()
		if err != nil {
			logger.Warn("Failed to read USB serial, skipping device", "error", err)
			continue
		}

		blob := make([]byte, helloBufSize)
		n, err := dev.Control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
			requestHello, 0, 0, blob)
		if err != nil {
			logger.Warn("Hello control request failed, skipping device",
				"serial", serial, "error", err)
			continue
		}

		descs = append(descs, device.Descriptor{
			Transport:    device.TransportUSB,
			Serial:       serial,
			ProtocolInfo: blob[:n],
		})
	}

	return descs, nil
}

// Open claims the capture interface of the device matching the descriptor's
// serial.
func (t *Transport) Open(desc device.Descriptor) (device.Conn, error) {
	usbCtx := gousb.NewContext()

	devs, err := usbCtx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		return dd.Vendor == t.vendorID && dd.Product == t.productID
	})
	if err != nil {
		for _, dev := range devs {
			dev.Close()
		}
		usbCtx.Close()
		return nil, &device.TransportError{
			Transport: device.TransportUSB, Op: "open",
			Err: errors.Wrap(err, "usb open devices"),
		}
	}

	var target *gousb.Device
	for _, dev := range devs {
		serial, serr := dev.SerialNumber()
		if serr == nil && serial == desc.Serial && target == nil {
			target = dev
			continue
		}
		dev.Close()
	}
	if target == nil {
		usbCtx.Close()
		return nil, &device.TransportError{
			Transport: device.TransportUSB, Op: "open",
			Err: errors.Wrapf(device.ErrDeviceNotFound, "usb device %s unplugged", desc.Serial),
		}
	}

	intf, done, err := target.DefaultInterface()
	if err != nil {
		target.Close()
		usbCtx.Close()
		return nil, &device.TransportError{
			Transport: device.TransportUSB, Op: "open",
			Err: errors.Wrap(err, "claim capture interface"),
		}
	}

	util.GetLogger().Info("USB device opened", "serial", desc.Serial)
	return &usbConn{
		usbCtx: usbCtx,
		dev:    target,
		intf:   intf,
		done:   done,
	}, nil
}

// usbConn is an opened USB capture connection.
type usbConn struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	done   func()
}

func (c *usbConn) OpenStream(kind stream.Kind) (io.ReadCloser, error) {
	epNum := videoEndpointNum
	if kind == stream.KindAudio {
		epNum = audioEndpointNum
	}

	ep, err := c.intf.InEndpoint(epNum)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s endpoint %d", kind, epNum)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &usbStream{ep: ep, ctx: ctx, cancel: cancel}, nil
}

func (c *usbConn) Close() error {
	c.done()
	err := c.dev.Close()
	if cerr := c.usbCtx.Close(); err == nil {
		err = cerr
	}
	return err
}

// usbStream adapts a bulk IN endpoint to an io.ReadCloser whose Close
// unblocks an in-flight read.
type usbStream struct {
	ep     *gousb.InEndpoint
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *usbStream) Read(p []byte) (int, error) {
	n, err := s.ep.ReadContext(s.ctx, p)
	if errors.Is(err, context.Canceled) {
		return n, io.EOF
	}
	return n, err
}

func (s *usbStream) Close() error {
	s.cancel()
	return nil
}
