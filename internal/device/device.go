package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// For BLE hierarchy: characteristic is in service, descriptor is in characteristic
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[len(e.UUIDs)-2])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Adapter and operation errors
var (
	ErrBluetoothOff = errors.New("bluetooth adapter is powered off")
	ErrIO           = errors.New("input/output error")
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// StatusText renders err as a message suitable for an operator status line.
func StatusText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBluetoothOff):
		return "The Bluetooth adaptor is powered off, power it on before doing discovery."
	case errors.Is(err, ErrIO):
		return "Writing or reading from the device resulted in an error."
	case errors.Is(err, ErrTimeout):
		return "The device did not respond in time."
	case errors.Is(err, ErrNotConnected):
		return "The device is not connected."
	default:
		return "An unknown error has occurred."
	}
}

// Capabilities is the set of radio configurations a discovered peer advertises
type Capabilities uint8

const (
	CapLowEnergy Capabilities = 1 << iota
	CapBasicRate
)

func (c Capabilities) Has(flag Capabilities) bool { return c&flag == flag }

// Peer is a discovered peripheral as reported by a scanning agent.
type Peer struct {
	Address      string       `json:"address"`
	RSSI         int          `json:"rssi"`
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// MatchesProduct reports whether the peer is a low energy device whose name
// contains product.
func (p Peer) MatchesProduct(product string) bool {
	return p.Capabilities.Has(CapLowEnergy) && strings.Contains(p.Name, product)
}

// ScanningDevice represents a BLE adapter capable of discovering peers
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Peer)) error
}

// ServiceState is the discovery sub-state of a remote service
type ServiceState int

const (
	ServiceInvalid ServiceState = iota
	ServiceDiscoveringDetails
	ServiceDiscovered
)

func (s ServiceState) String() string {
	switch s {
	case ServiceDiscoveringDetails:
		return "discovering"
	case ServiceDiscovered:
		return "discovered"
	default:
		return "invalid"
	}
}

// Event is a completion or notification delivered by a Transport.
type Event interface {
	transportEvent()
}

// Connected signals that the link is up.
type Connected struct{}

// Disconnected signals that the link went down, for whatever reason.
type Disconnected struct{}

// DiscoveryFinished carries the services found on the peer.
type DiscoveryFinished struct {
	Services []ble.UUID
}

// ServiceStateChanged reports progress of a DiscoverDetails request.
type ServiceStateChanged struct {
	Service ble.UUID
	State   ServiceState
}

// CharacteristicChanged is a value notification.
type CharacteristicChanged struct {
	Service ble.UUID
	Char    ble.UUID
	Value   []byte
}

// CharacteristicRead is the completion of ReadCharacteristic.
type CharacteristicRead struct {
	Service ble.UUID
	Char    ble.UUID
	Value   []byte
}

// ControllerError reports a transport fault. It never changes link state by
// itself; a Disconnected event follows when the link is lost.
type ControllerError struct {
	Err error
}

func (Connected) transportEvent()             {}
func (Disconnected) transportEvent()          {}
func (DiscoveryFinished) transportEvent()     {}
func (ServiceStateChanged) transportEvent()   {}
func (CharacteristicChanged) transportEvent() {}
func (CharacteristicRead) transportEvent()    {}
func (ControllerError) transportEvent()       {}

// Transport is the link to a single peripheral.
//
// Every method only starts an operation: the outcome arrives later as an
// Event through the deliver function handed to the TransportFactory, never
// from within the call itself. A returned error means the operation could
// not be started at all (e.g. *NotFoundError for an unknown characteristic).
type Transport interface {
	Connect() error
	Disconnect() error
	DiscoverServices() error
	DiscoverDetails(service ble.UUID) error
	ReadCharacteristic(service, char ble.UUID) error
	WriteCharacteristic(service, char ble.UUID, value byte) error
	SetNotifications(service, char ble.UUID, enable bool) error
}

// TransportFactory creates the Transport of the peripheral at address.
type TransportFactory func(address string, deliver func(Event)) Transport
