//go:build test

package testutils

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/vecs/internal/device"
)

// Call is one recorded transport invocation
type Call struct {
	Op      string
	Service ble.UUID
	Char    ble.UUID
	Value   byte
	Enable  bool
}

// String renders the call compactly, e.g. "write 0xfff3=100" or "notify 0xfff4 on".
func (c Call) String() string {
	switch c.Op {
	case "write":
		return fmt.Sprintf("write %s=%d", device.FormatUUID(c.Char), c.Value)
	case "notify":
		state := "off"
		if c.Enable {
			state = "on"
		}
		return fmt.Sprintf("notify %s %s", device.FormatUUID(c.Char), state)
	case "read":
		return fmt.Sprintf("read %s", device.FormatUUID(c.Char))
	case "details":
		return fmt.Sprintf("details %s", device.FormatUUID(c.Service))
	default:
		return c.Op
	}
}

// FakeTransport records every call and lets tests inject transport events.
// Calls never deliver events by themselves.
type FakeTransport struct {
	Address string
	Calls   []Call

	// Fail maps an op (optionally suffixed with ":"+char UUID) to the error
	// returned instead of recording the call.
	Fail map[string]error

	deliver func(device.Event)
}

// NewFakeTransportFactory returns a factory that remembers every transport it creates.
func NewFakeTransportFactory() (device.TransportFactory, map[string]*FakeTransport) {
	created := make(map[string]*FakeTransport)
	factory := func(address string, deliver func(device.Event)) device.Transport {
		t := &FakeTransport{Address: address, deliver: deliver, Fail: make(map[string]error)}
		created[address] = t
		return t
	}
	return factory, created
}

func (t *FakeTransport) record(c Call) error {
	if err, ok := t.Fail[c.Op]; ok {
		return err
	}
	if err, ok := t.Fail[c.Op+":"+c.Char.String()]; ok {
		return err
	}
	t.Calls = append(t.Calls, c)
	return nil
}

func (t *FakeTransport) Connect() error          { return t.record(Call{Op: "connect"}) }
func (t *FakeTransport) Disconnect() error       { return t.record(Call{Op: "disconnect"}) }
func (t *FakeTransport) DiscoverServices() error { return t.record(Call{Op: "discover"}) }

func (t *FakeTransport) DiscoverDetails(service ble.UUID) error {
	return t.record(Call{Op: "details", Service: service})
}

func (t *FakeTransport) ReadCharacteristic(service, char ble.UUID) error {
	return t.record(Call{Op: "read", Service: service, Char: char})
}

func (t *FakeTransport) WriteCharacteristic(service, char ble.UUID, value byte) error {
	return t.record(Call{Op: "write", Service: service, Char: char, Value: value})
}

func (t *FakeTransport) SetNotifications(service, char ble.UUID, enable bool) error {
	return t.record(Call{Op: "notify", Service: service, Char: char, Enable: enable})
}

// Deliver injects a transport event into the owner of the transport
func (t *FakeTransport) Deliver(ev device.Event) {
	t.deliver(ev)
}

// Ops returns the String form of every recorded call
func (t *FakeTransport) Ops() []string {
	out := make([]string, 0, len(t.Calls))
	for _, c := range t.Calls {
		out = append(out, c.String())
	}
	return out
}

// Count returns how many calls of op were recorded
func (t *FakeTransport) Count(op string) int {
	n := 0
	for _, c := range t.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls
func (t *FakeTransport) Reset() {
	t.Calls = nil
}

// AllServices is the service set advertised by a healthy sensor
var AllServices = []ble.UUID{device.BatteryServiceUUID, device.KeyServiceUUID, device.MPUServiceUUID}

// BringUp drives the transport through connect, service discovery and
// details discovery of the given services (all of them when none given).
func (t *FakeTransport) BringUp(services ...ble.UUID) {
	if len(services) == 0 {
		services = AllServices
	}
	t.Deliver(device.Connected{})
	t.Deliver(device.DiscoveryFinished{Services: services})
	for _, s := range services {
		t.Deliver(device.ServiceStateChanged{Service: s, State: device.ServiceDiscovered})
	}
}
