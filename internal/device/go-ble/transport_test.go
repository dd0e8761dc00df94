//go:build test

package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
	goble "github.com/srg/vecs/internal/device/go-ble"
	"github.com/srg/vecs/internal/testutils"
	"github.com/srg/vecs/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const sensorAddress = "AA:BB:CC:DD:EE:01"

type TransportTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	ctx    context.Context
	cancel context.CancelFunc

	client    *mocks.MockClient
	profile   *ble.Profile
	dialErr   error
	dialed    []string
	events    chan device.Event
	transport *goble.Transport
}

func (suite *TransportTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.ctx, suite.cancel = context.WithCancel(context.Background())
	suite.client, suite.profile = testutils.NewSensorProfileBuilder().BuildClient()
	suite.dialErr = nil
	suite.dialed = nil
	suite.events = make(chan device.Event, 64)
	suite.transport = suite.newTransport()
}

func (suite *TransportTestSuite) TearDownTest() {
	suite.cancel()
}

func (suite *TransportTestSuite) newTransport() *goble.Transport {
	dial := func(ctx context.Context, address string) (goble.Client, error) {
		suite.dialed = append(suite.dialed, address)
		if suite.dialErr != nil {
			return nil, suite.dialErr
		}
		return suite.client, nil
	}
	deliver := func(ev device.Event) { suite.events <- ev }
	return goble.NewTransport(suite.ctx, sensorAddress, dial, goble.Inline{}, deliver, goble.DefaultOptions(), suite.helper.Logger)
}

// next waits for the next delivered event
func (suite *TransportTestSuite) next() device.Event {
	select {
	case ev := <-suite.events:
		return ev
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for transport event")
		return nil
	}
}

func (suite *TransportTestSuite) expectNoEvent() {
	select {
	case ev := <-suite.events:
		suite.Failf("unexpected event", "%T %+v", ev, ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *TransportTestSuite) char(uuid string) *ble.Characteristic {
	return testutils.FindCharacteristic(suite.profile, uuid)
}

// connect brings the link up and discovers the profile
func (suite *TransportTestSuite) connect() {
	suite.Require().NoError(suite.transport.Connect())
	suite.Require().IsType(device.Connected{}, suite.next())
	suite.Require().NoError(suite.transport.DiscoverServices())
	suite.Require().IsType(device.DiscoveryFinished{}, suite.next())
}

// barrier waits until every previously queued operation has run
func (suite *TransportTestSuite) barrier() {
	suite.client.On("ReadCharacteristic", suite.char("fff5")).Return([]byte{0}, nil).Once()
	suite.Require().NoError(suite.transport.ReadCharacteristic(device.MPUServiceUUID, device.MPUTempCharUUID))
	ev := suite.next()
	suite.Require().IsType(device.CharacteristicRead{}, ev)
}

func (suite *TransportTestSuite) TestConnectAndDiscover() {
	// GOAL: Verify connect and discovery complete through delivered events
	//
	// TEST SCENARIO: Connect → Connected; DiscoverServices → all three services; DiscoverDetails → two sub-state events

	suite.Require().NoError(suite.transport.Connect())
	suite.Equal(device.Connected{}, suite.next())
	suite.Equal([]string{sensorAddress}, suite.dialed)

	suite.ErrorIs(suite.transport.Connect(), device.ErrAlreadyConnected, "second Connect MUST be rejected")

	suite.Require().NoError(suite.transport.DiscoverServices())
	ev := suite.next()
	found, ok := ev.(device.DiscoveryFinished)
	suite.Require().True(ok, "expected DiscoveryFinished, got %T", ev)
	suite.Len(found.Services, 3)
	suite.True(device.ContainsUUID(found.Services, device.BatteryServiceUUID))
	suite.True(device.ContainsUUID(found.Services, device.KeyServiceUUID))
	suite.True(device.ContainsUUID(found.Services, device.MPUServiceUUID))

	suite.Require().NoError(suite.transport.DiscoverDetails(device.MPUServiceUUID))
	suite.Equal(device.ServiceStateChanged{Service: device.MPUServiceUUID, State: device.ServiceDiscoveringDetails}, suite.next())
	suite.Equal(device.ServiceStateChanged{Service: device.MPUServiceUUID, State: device.ServiceDiscovered}, suite.next())
}

func (suite *TransportTestSuite) TestDiscoverDetailsUnknownService() {
	suite.connect()

	err := suite.transport.DiscoverDetails(ble.UUID16(0x1234))
	var nf *device.NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Equal("service", nf.Resource)
	suite.Equal([]string{"0x1234"}, nf.UUIDs)
	suite.expectNoEvent()
}

func (suite *TransportTestSuite) TestConnectFailure() {
	// GOAL: Verify a failed dial is reported as a normalized error followed by Disconnected
	//
	// TEST SCENARIO: dial fails with bluetooth off → ControllerError(ErrBluetoothOff) → Disconnected

	suite.dialErr = errors.New("bluetooth is turned off")
	suite.Require().NoError(suite.transport.Connect())

	ev := suite.next()
	cerr, ok := ev.(device.ControllerError)
	suite.Require().True(ok, "expected ControllerError, got %T", ev)
	suite.ErrorIs(cerr.Err, device.ErrBluetoothOff)
	suite.Equal(device.Disconnected{}, suite.next())

	suite.dialErr = nil
	suite.Require().NoError(suite.transport.Connect(), "transport MUST accept a new Connect after a failed one")
	suite.Equal(device.Connected{}, suite.next())
}

func (suite *TransportTestSuite) TestReadCharacteristic() {
	suite.connect()
	suite.client.On("ReadCharacteristic", suite.char("2a19")).Return([]byte{87}, nil).Once()

	suite.Require().NoError(suite.transport.ReadCharacteristic(device.BatteryServiceUUID, device.BatteryLevelCharUUID))
	suite.Equal(device.CharacteristicRead{
		Service: device.BatteryServiceUUID,
		Char:    device.BatteryLevelCharUUID,
		Value:   []byte{87},
	}, suite.next())
}

func (suite *TransportTestSuite) TestReadFailureIsNormalized() {
	suite.connect()
	suite.client.On("ReadCharacteristic", suite.char("2a19")).Return(nil, errors.New("read: input/output error")).Once()

	suite.Require().NoError(suite.transport.ReadCharacteristic(device.BatteryServiceUUID, device.BatteryLevelCharUUID))
	ev := suite.next()
	cerr, ok := ev.(device.ControllerError)
	suite.Require().True(ok, "expected ControllerError, got %T", ev)
	suite.ErrorIs(cerr.Err, device.ErrIO)
	suite.True(suite.helper.HasEntry(logrus.ErrorLevel, "BLE operation failed"), "failure MUST be logged")
}

func (suite *TransportTestSuite) TestWriteCharacteristic() {
	// GOAL: Verify writes carry a single byte and use write-without-response only where allowed
	//
	// TEST SCENARIO: write 0xFFF3 (write_nr) and 0xFFF1 (write) → noRsp true and false respectively

	suite.connect()
	suite.client.On("WriteCharacteristic", suite.char("fff3"), []byte{100}, true).Return(nil).Once()
	suite.client.On("WriteCharacteristic", suite.char("fff1"), []byte{2}, false).Return(nil).Once()

	suite.Require().NoError(suite.transport.WriteCharacteristic(device.MPUServiceUUID, device.MPUControlCharUUID, 100))
	suite.Require().NoError(suite.transport.WriteCharacteristic(device.MPUServiceUUID, device.AccelRangeCharUUID, 2))
	suite.barrier()

	suite.client.AssertExpectations(suite.T())
}

func (suite *TransportTestSuite) TestUnknownCharacteristic() {
	suite.connect()

	err := suite.transport.WriteCharacteristic(device.MPUServiceUUID, ble.UUID16(0xFFF9), 1)
	var nf *device.NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Equal("characteristic", nf.Resource)
	suite.EqualError(err, `characteristic "0xfff9" not found in service "0xfff0"`)
}

func (suite *TransportTestSuite) TestNotifications() {
	// GOAL: Verify subscribe/unsubscribe bookkeeping and notification delivery
	//
	// TEST SCENARIO: enable twice → one Subscribe; notification → CharacteristicChanged;
	// disable twice → one Unsubscribe

	suite.connect()
	data := suite.char("fff4")

	handlers := make(chan ble.NotificationHandler, 1)
	suite.client.On("Subscribe", data, false, mock.Anything).
		Run(func(args mock.Arguments) { handlers <- args.Get(2).(ble.NotificationHandler) }).
		Return(nil).Once()
	suite.client.On("Unsubscribe", data, false).Return(nil).Once()

	suite.Require().NoError(suite.transport.SetNotifications(device.MPUServiceUUID, device.MPUDataCharUUID, true))
	suite.Require().NoError(suite.transport.SetNotifications(device.MPUServiceUUID, device.MPUDataCharUUID, true))
	suite.barrier()

	var handler ble.NotificationHandler
	select {
	case handler = <-handlers:
	default:
		suite.FailNow("Subscribe MUST have been called")
	}

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	handler(payload)
	ev := suite.next()
	suite.Equal(device.CharacteristicChanged{Service: device.MPUServiceUUID, Char: device.MPUDataCharUUID, Value: payload}, ev)
	payload[0] = 0xFF
	suite.Equal(byte(1), ev.(device.CharacteristicChanged).Value[0], "delivered value MUST be a copy")

	suite.Require().NoError(suite.transport.SetNotifications(device.MPUServiceUUID, device.MPUDataCharUUID, false))
	suite.Require().NoError(suite.transport.SetNotifications(device.MPUServiceUUID, device.MPUDataCharUUID, false))
	suite.barrier()

	suite.client.AssertNumberOfCalls(suite.T(), "Subscribe", 1)
	suite.client.AssertNumberOfCalls(suite.T(), "Unsubscribe", 1)
}

func (suite *TransportTestSuite) TestMissingClientConfigDescriptor() {
	suite.client, suite.profile = testutils.NewProfileBuilder().
		WithService("fff0").
		WithCharacteristic("fff4", "read", nil).
		BuildClient()
	suite.transport = suite.newTransport()
	suite.connect()

	err := suite.transport.SetNotifications(device.MPUServiceUUID, device.MPUDataCharUUID, true)
	var nf *device.NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Equal("descriptor", nf.Resource)
	suite.Equal([]string{"0xfff0", "0xfff4", "0x2902"}, nf.UUIDs)
}

func (suite *TransportTestSuite) TestOperationsRequireLink() {
	err := suite.transport.ReadCharacteristic(device.BatteryServiceUUID, device.BatteryLevelCharUUID)
	suite.ErrorIs(err, device.ErrNotConnected)

	suite.Require().NoError(suite.transport.Disconnect(), "Disconnect without a link MUST be harmless")
	suite.expectNoEvent()
}

func (suite *TransportTestSuite) TestDisconnect() {
	suite.connect()
	suite.Require().NoError(suite.transport.Disconnect())
	suite.Equal(device.Disconnected{}, suite.next())
	suite.client.AssertCalled(suite.T(), "CancelConnection")

	err := suite.transport.WriteCharacteristic(device.MPUServiceUUID, device.MPUControlCharUUID, 0)
	suite.ErrorIs(err, device.ErrNotConnected)
}

func (suite *TransportTestSuite) TestLinkLoss() {
	// GOAL: Verify a link dropped by the peer is reported and stale notifications are dropped
	//
	// TEST SCENARIO: subscribe → peer drops link → Disconnected → late notification → no event

	suite.connect()
	handlers := make(chan ble.NotificationHandler, 1)
	suite.client.On("Subscribe", suite.char("ffe1"), false, mock.Anything).
		Run(func(args mock.Arguments) { handlers <- args.Get(2).(ble.NotificationHandler) }).
		Return(nil).Once()
	suite.Require().NoError(suite.transport.SetNotifications(device.KeyServiceUUID, device.KeyPressStateCharUUID, true))
	suite.barrier()
	handler := <-handlers

	suite.client.DropLink()
	suite.Equal(device.Disconnected{}, suite.next())

	handler([]byte{1})
	suite.expectNoEvent()

	err := suite.transport.ReadCharacteristic(device.BatteryServiceUUID, device.BatteryLevelCharUUID)
	suite.ErrorIs(err, device.ErrNotConnected)
}

func (suite *TransportTestSuite) TestReconnectSupersedesQueuedDisconnect() {
	// GOAL: Verify Connect right after Disconnect is accepted and only the new link is reported
	//
	// TEST SCENARIO: worker busy → Disconnect + Connect queued → release → link torn down silently → Connected

	suite.connect()
	release := make(chan struct{})
	suite.client.On("ReadCharacteristic", suite.char("fff5")).
		Run(func(mock.Arguments) { <-release }).
		Return([]byte{0}, nil).Once()
	suite.Require().NoError(suite.transport.ReadCharacteristic(device.MPUServiceUUID, device.MPUTempCharUUID))

	suite.Require().NoError(suite.transport.Disconnect())
	suite.Require().NoError(suite.transport.Connect(), "Connect MUST be accepted while the teardown is queued")
	suite.ErrorIs(suite.transport.Connect(), device.ErrAlreadyConnected)
	close(release)

	suite.Equal(device.Connected{}, suite.next(), "the old link's read and teardown MUST NOT be reported")
	suite.Equal([]string{sensorAddress, sensorAddress}, suite.dialed)
	suite.client.AssertCalled(suite.T(), "CancelConnection")
	suite.True(suite.helper.HasEntry(logrus.DebugLevel, "Dropping stale transport event"))

	suite.Require().NoError(suite.transport.DiscoverServices())
	suite.IsType(device.DiscoveryFinished{}, suite.next())
	suite.expectNoEvent()
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
