//go:build test

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/vecs/internal/device"
	goble "github.com/srg/vecs/internal/device/go-ble"
	"github.com/srg/vecs/internal/devicefactory"
	"github.com/srg/vecs/internal/settings"
	"github.com/srg/vecs/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake sensor identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// fakeBackend scans a fixed peer list and hands out recording transports
type fakeBackend struct {
	peers      []device.Peer
	scanErr    error
	holdScan   bool // keep scanning until the context ends
	factory    device.TransportFactory
	transports map[string]*testutils.FakeTransport
	closed     bool
}

func newFakeBackend(peers ...device.Peer) *fakeBackend {
	factory, transports := testutils.NewFakeTransportFactory()
	return &fakeBackend{peers: peers, factory: factory, transports: transports}
}

func (b *fakeBackend) Scan(ctx context.Context, allowDup bool, handler func(device.Peer)) error {
	for _, p := range b.peers {
		handler(p)
	}
	if b.holdScan {
		<-ctx.Done()
		return ctx.Err()
	}
	return b.scanErr
}

func (b *fakeBackend) Transports(ctx context.Context, poster devicefactory.Poster, logger *logrus.Logger) device.TransportFactory {
	return b.factory
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func sensorPeer(address string) device.Peer {
	return device.Peer{Address: address, RSSI: -50, Name: "VE Control Sensor", Capabilities: device.CapLowEnergy}
}

// CommandTestSuite runs cobra commands against a fake BLE backend and a
// per-test settings file.
type CommandTestSuite struct {
	suite.Suite
	helper          *testutils.TestHelper
	backend         *fakeBackend
	settingsPath    string
	originalFactory func(goble.Options, *logrus.Logger) (devicefactory.Backend, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalFactory = devicefactory.DeviceFactory
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.DeviceFactory = s.originalFactory
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.settingsPath = filepath.Join(s.T().TempDir(), "devices.yaml")
	s.backend = newFakeBackend()
	devicefactory.DeviceFactory = func(goble.Options, *logrus.Logger) (devicefactory.Backend, error) {
		return s.backend, nil
	}
}

// resetFlags restores every flag of cmd and its children to its default
// so that one test's flags do not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs the root command with args and the test settings
// file, returns output and error. Flags from earlier executions are reset.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append(args, "--settings", s.settingsPath))
	err := rootCmd.Execute()
	return buf.String(), err
}

// seedSettings writes content as the settings file of the test
func (s *CommandTestSuite) seedSettings(content string) {
	s.Require().NoError(os.WriteFile(s.settingsPath, []byte(content), 0o600))
}

// openStore loads the settings file as the commands left it
func (s *CommandTestSuite) openStore() *settings.Store {
	store, err := settings.Open(s.settingsPath, s.helper.Logger)
	s.Require().NoError(err)
	return store
}
