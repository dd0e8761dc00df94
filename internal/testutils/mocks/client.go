//go:build test

// Package mocks holds testify mocks of the go-ble surfaces the transport drives.
package mocks

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockClient mocks a connected go-ble client.
type MockClient struct {
	mock.Mock

	once         sync.Once
	disconnected chan struct{}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *MockClient) channel() chan struct{} {
	m.once.Do(func() { m.disconnected = make(chan struct{}) })
	return m.disconnected
}

// Disconnected is closed by DropLink
func (m *MockClient) Disconnected() <-chan struct{} {
	return m.channel()
}

// DropLink simulates the peripheral going away
func (m *MockClient) DropLink() {
	close(m.channel())
}

// MockRadio mocks the host adapter.
type MockRadio struct {
	mock.Mock
}

func (m *MockRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockRadio) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

func (m *MockRadio) Stop() error {
	return m.Called().Error(0)
}
