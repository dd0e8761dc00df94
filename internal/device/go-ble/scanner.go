package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
)

// Radio is the part of ble.Device the adapter drives.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
	Stop() error
}

// DeviceFactory opens the host adapter (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Adapter shares one host radio between the scanner and every transport.
// It is safe for concurrent use.
type Adapter struct {
	mu     sync.Mutex
	radio  Radio
	logger *logrus.Logger
}

// NewAdapter creates an adapter; the radio is opened on first use.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

// Radio returns the host radio, opening it through DeviceFactory if needed.
func (a *Adapter) Radio() (Radio, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.radio != nil {
		return a.radio, nil
	}
	r, err := DeviceFactory()
	if err != nil {
		a.logger.WithError(err).Error("Failed to open BLE adapter")
		return nil, fmt.Errorf("failed to open BLE adapter: %w", NormalizeError(err))
	}
	a.radio = r
	a.logger.Debug("BLE adapter opened")
	return r, nil
}

// Scan implements device.ScanningDevice. It returns nil when ctx ends the scan.
func (a *Adapter) Scan(ctx context.Context, allowDup bool, handler func(device.Peer)) error {
	r, err := a.Radio()
	if err != nil {
		return err
	}

	err = r.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(PeerFromAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

// Dial connects to the peripheral at address. It is the production DialFunc.
func (a *Adapter) Dial(ctx context.Context, address string) (Client, error) {
	r, err := a.Radio()
	if err != nil {
		return nil, err
	}
	c, err := r.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}
	return c, nil
}

// Close releases the radio if it was opened
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.radio == nil {
		return nil
	}
	err := a.radio.Stop()
	a.radio = nil
	return NormalizeError(err)
}
