package devicefactory

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
	goble "github.com/srg/vecs/internal/device/go-ble"
	"github.com/srg/vecs/internal/loop"
)

// Poster hands a function to the goroutine that owns the sessions
type Poster = goble.Poster

// Backend bundles the scanning device and the transport factory of one host radio.
type Backend interface {
	device.ScanningDevice
	Transports(ctx context.Context, poster Poster, logger *logrus.Logger) device.TransportFactory
	Close() error
}

// goBLEBackend serves scanning and connections from a single go-ble adapter
type goBLEBackend struct {
	adapter *goble.Adapter
	opts    goble.Options
}

func (b *goBLEBackend) Scan(ctx context.Context, allowDup bool, handler func(device.Peer)) error {
	return b.adapter.Scan(ctx, allowDup, handler)
}

func (b *goBLEBackend) Transports(ctx context.Context, poster Poster, logger *logrus.Logger) device.TransportFactory {
	return NewTransportFactory(ctx, b.adapter.Dial, b.opts, poster, logger)
}

func (b *goBLEBackend) Close() error {
	return b.adapter.Close()
}

// DeviceFactory creates the BLE backend.
// This is a variable so that it can be overridden in tests.
var DeviceFactory = func(opts goble.Options, logger *logrus.Logger) (Backend, error) {
	return &goBLEBackend{adapter: goble.NewAdapter(logger), opts: opts}, nil
}

// NewTransportFactory returns a factory of go-ble transports whose events are
// marshalled onto poster, so sessions only ever see them from the loop.
func NewTransportFactory(ctx context.Context, dial goble.DialFunc, opts goble.Options, poster Poster, logger *logrus.Logger) device.TransportFactory {
	return func(address string, deliver func(device.Event)) device.Transport {
		return goble.NewTransport(ctx, address, dial, poster, deliver, opts, logger)
	}
}

var _ Poster = (*loop.Loop)(nil)
