package goble

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/loop"
)

// Client is the part of ble.Client the transport uses.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// DialFunc connects to the peripheral at address
type DialFunc func(ctx context.Context, address string) (Client, error)

// Options tunes a Transport
type Options struct {
	ConnectTimeout time.Duration `default:"10s"`
	QueueSize      int           `default:"32"`
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// ErrQueueFull is returned when a transport cannot accept another operation
var ErrQueueFull = fmt.Errorf("%w: transport operation queue full", device.ErrIO)

// Poster runs fn on the goroutine that owns the transport's user. It reports
// false when that goroutine is gone.
type Poster interface {
	Post(fn func()) bool
}

// Inline runs posted functions on the calling goroutine
type Inline struct{}

func (Inline) Post(fn func()) bool {
	fn()
	return true
}

// Transport implements device.Transport over go-ble.
//
// go-ble calls block, so every operation is queued to a per-transport worker
// goroutine. Events that belong to a link that is already gone are dropped,
// which is tracked with a generation counter bumped on every connect and
// disconnect.
//
// Connect and Disconnect calls are also numbered as they are made, and every
// event remembers the call it answers. Events are handed to deliver through
// the poster, and one whose call has been superseded by the time it runs is
// dropped there. Calls made from the poster's goroutine therefore never see
// an outcome of a link they already gave up.
type Transport struct {
	address string
	dial    DialFunc
	poster  Poster
	deliver func(device.Event)
	opts    Options
	logger  *logrus.Logger

	ctx  context.Context
	ops  chan func()
	once sync.Once

	mu         sync.Mutex
	client     Client
	gen        uint64
	intent     uint64
	wanted     bool
	services   map[string]*ble.Service
	subscribed map[string]bool
}

// NewTransport creates a transport for address. Events reach deliver through
// poster (Inline when nil). The worker runs until ctx is done.
func NewTransport(ctx context.Context, address string, dial DialFunc, poster Poster, deliver func(device.Event), opts Options, logger *logrus.Logger) *Transport {
	if ctx == nil {
		ctx = context.Background()
	}
	if poster == nil {
		poster = Inline{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	return &Transport{
		address: address,
		dial:    dial,
		poster:  poster,
		deliver: deliver,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		ops:     make(chan func(), opts.QueueSize),
	}
}

func (t *Transport) log() *logrus.Entry {
	return t.logger.WithField("address", t.address)
}

// emit delivers ev unless a Connect or Disconnect call newer than req has
// been made by the time the poster runs it.
func (t *Transport) emit(req uint64, ev device.Event) {
	ok := t.poster.Post(func() {
		if t.superseded(req) {
			t.log().WithField("event", eventName(ev)).Debug("Dropping stale transport event")
			return
		}
		t.deliver(ev)
	})
	if !ok {
		t.log().WithField("event", eventName(ev)).Debug("Dropping transport event, loop stopped")
	}
}

// superseded reports whether a Connect or Disconnect call newer than req was made
func (t *Transport) superseded(req uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intent != req
}

func (t *Transport) submit(op string, fn func()) error {
	t.once.Do(func() {
		loop.Go(t.ctx, "ble-transport", t.worker)
	})

	select {
	case <-t.ctx.Done():
		return fmt.Errorf("%s: transport closed: %w", op, t.ctx.Err())
	default:
	}

	select {
	case t.ops <- fn:
		return nil
	default:
		t.log().WithField("op", op).Warn("Transport queue full")
		return ErrQueueFull
	}
}

func (t *Transport) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return
		case fn := <-t.ops:
			fn()
		}
	}
}

func (t *Transport) shutdown() {
	t.mu.Lock()
	client := t.client
	t.resetLocked()
	t.wanted = false
	t.mu.Unlock()

	if client != nil {
		if err := client.CancelConnection(); err != nil {
			t.log().WithError(err).Debug("Cancel connection on shutdown failed")
		}
	}
}

// resetLocked forgets the current link; t.mu must be held
func (t *Transport) resetLocked() {
	t.client = nil
	t.services = nil
	t.subscribed = nil
	t.gen++
}

func (t *Transport) current() (Client, uint64, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client, t.gen, t.intent
}

func (t *Transport) isCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.gen == gen
}

func (t *Transport) fail(gen, req uint64, op string, err error) {
	if !t.isCurrent(gen) {
		return
	}
	err = NormalizeError(err)
	t.log().WithField("op", op).WithError(err).Error("BLE operation failed")
	t.emit(req, device.ControllerError{Err: err})
}

// Connect dials the peripheral. Completion is reported as Connected, a
// failure as ControllerError followed by Disconnected.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.wanted {
		t.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	t.wanted = true
	t.intent++
	req := t.intent
	t.mu.Unlock()

	err := t.submit("connect", func() { t.connect(req) })
	if err != nil {
		t.mu.Lock()
		if t.intent == req {
			t.wanted = false
		}
		t.mu.Unlock()
	}
	return err
}

func (t *Transport) connect(req uint64) {
	if t.superseded(req) {
		t.log().Debug("Connect superseded before dialing")
		return
	}
	if c, _, _ := t.current(); c != nil {
		t.log().Debug("Link still up, reusing it")
		t.emit(req, device.Connected{})
		return
	}

	t.log().WithField("timeout", t.opts.ConnectTimeout).Info("Connecting to BLE device...")
	ctx, cancel := context.WithTimeout(t.ctx, t.opts.ConnectTimeout)
	client, err := t.dial(ctx, t.address)
	cancel()
	if err != nil {
		t.mu.Lock()
		if t.intent == req {
			t.wanted = false
		}
		t.mu.Unlock()

		err = NormalizeError(err)
		t.log().WithError(err).Error("Failed to dial BLE device")
		t.emit(req, device.ControllerError{Err: err})
		t.emit(req, device.Disconnected{})
		return
	}

	t.mu.Lock()
	if t.intent != req {
		t.mu.Unlock()
		t.log().Debug("Connect superseded while dialing, dropping link")
		if err := client.CancelConnection(); err != nil {
			t.log().WithError(err).Debug("Cancel connection failed")
		}
		return
	}
	t.resetLocked()
	t.client = client
	t.subscribed = make(map[string]bool)
	gen := t.gen
	t.mu.Unlock()

	t.monitor(client, gen, req)
	t.log().Info("BLE device connected")
	t.emit(req, device.Connected{})
}

// monitor reports a link lost without Disconnect being called
func (t *Transport) monitor(client Client, gen, req uint64) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.log().Debug("Client does not report disconnection")
		return
	}

	loop.Go(t.ctx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
		case <-ctx.Done():
			return
		}

		t.mu.Lock()
		if t.gen != gen || t.client == nil {
			t.mu.Unlock()
			return
		}
		t.resetLocked()
		if t.intent == req {
			t.wanted = false
		}
		t.mu.Unlock()

		t.log().Warn("BLE link lost")
		t.emit(req, device.Disconnected{})
	})
}

// Disconnect cancels the connection. Disconnected is delivered once done,
// unless Connect was called again in the meantime.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.wanted = false
	t.intent++
	req := t.intent
	t.mu.Unlock()

	return t.submit("disconnect", func() {
		t.mu.Lock()
		client := t.client
		t.resetLocked()
		t.mu.Unlock()

		if client == nil {
			t.log().Debug("Disconnect called but already disconnected")
			return
		}
		t.log().Info("Disconnecting BLE device...")
		if err := client.CancelConnection(); err != nil {
			t.log().WithError(err).Warn("Failed to cancel connection")
		}
		t.emit(req, device.Disconnected{})
	})
}

// DiscoverServices discovers the whole attribute tree in one go and
// reports the services found.
func (t *Transport) DiscoverServices() error {
	return t.submit("discover", func() {
		client, gen, req := t.current()
		if client == nil {
			return
		}

		profile, err := client.DiscoverProfile(true)
		if err != nil {
			t.fail(gen, req, "discover", err)
			return
		}

		services := make(map[string]*ble.Service, len(profile.Services))
		uuids := make([]ble.UUID, 0, len(profile.Services))
		for _, s := range profile.Services {
			services[s.UUID.String()] = s
			uuids = append(uuids, s.UUID)
		}

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.services = services
		t.mu.Unlock()

		t.log().WithField("services", len(uuids)).Debug("Profile discovered")
		t.emit(req, device.DiscoveryFinished{Services: uuids})
	})
}

// DiscoverDetails reports the service as discovered. Characteristics and
// descriptors are already known from DiscoverServices.
func (t *Transport) DiscoverDetails(service ble.UUID) error {
	t.mu.Lock()
	_, ok := t.services[service.String()]
	gen, req := t.gen, t.intent
	t.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{device.FormatUUID(service)}}
	}

	return t.submit("details", func() {
		if !t.isCurrent(gen) {
			return
		}
		t.emit(req, device.ServiceStateChanged{Service: service, State: device.ServiceDiscoveringDetails})
		t.emit(req, device.ServiceStateChanged{Service: service, State: device.ServiceDiscovered})
	})
}

// link identifies the connection an operation was submitted on and the
// Connect call that made it
type link struct {
	client Client
	gen    uint64
	req    uint64
}

func (t *Transport) characteristic(service, char ble.UUID) (link, *ble.Characteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return link{}, nil, device.ErrNotConnected
	}
	svc, ok := t.services[service.String()]
	if !ok {
		return link{}, nil, &device.NotFoundError{Resource: "service", UUIDs: []string{device.FormatUUID(service)}}
	}
	for _, c := range svc.Characteristics {
		if c.UUID.Equal(char) {
			return link{client: t.client, gen: t.gen, req: t.intent}, c, nil
		}
	}
	return link{}, nil, &device.NotFoundError{
		Resource: "characteristic",
		UUIDs:    []string{device.FormatUUID(service), device.FormatUUID(char)},
	}
}

func (t *Transport) ReadCharacteristic(service, char ble.UUID) error {
	l, c, err := t.characteristic(service, char)
	if err != nil {
		return err
	}

	return t.submit("read", func() {
		data, err := l.client.ReadCharacteristic(c)
		if err != nil {
			t.fail(l.gen, l.req, "read", err)
			return
		}
		if t.isCurrent(l.gen) {
			t.emit(l.req, device.CharacteristicRead{Service: service, Char: char, Value: bytes.Clone(data)})
		}
	})
}

// WriteCharacteristic writes a single byte, without response when the
// characteristic allows it.
func (t *Transport) WriteCharacteristic(service, char ble.UUID, value byte) error {
	l, c, err := t.characteristic(service, char)
	if err != nil {
		return err
	}
	noRsp := c.Property&ble.CharWriteNR != 0

	return t.submit("write", func() {
		if err := l.client.WriteCharacteristic(c, []byte{value}, noRsp); err != nil {
			t.fail(l.gen, l.req, "write", err)
		}
	})
}

// SetNotifications subscribes to or unsubscribes from value changes.
// Indications are used only when the characteristic cannot notify.
func (t *Transport) SetNotifications(service, char ble.UUID, enable bool) error {
	l, c, err := t.characteristic(service, char)
	if err != nil {
		return err
	}
	if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 && c.CCCD == nil {
		return &device.NotFoundError{
			Resource: "descriptor",
			UUIDs:    []string{device.FormatUUID(service), device.FormatUUID(char), device.FormatUUID(device.CCCDUUID)},
		}
	}
	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	key := char.String()

	return t.submit("notify", func() {
		t.mu.Lock()
		subscribed := t.subscribed[key]
		t.mu.Unlock()

		if !enable {
			if !subscribed {
				return
			}
			if err := l.client.Unsubscribe(c, ind); err != nil {
				t.fail(l.gen, l.req, "unsubscribe", err)
				return
			}
			t.setSubscribed(l.gen, key, false)
			return
		}

		if subscribed {
			return
		}
		err := l.client.Subscribe(c, ind, func(data []byte) {
			if t.isCurrent(l.gen) {
				t.emit(l.req, device.CharacteristicChanged{Service: service, Char: char, Value: bytes.Clone(data)})
			}
		})
		if err != nil {
			t.fail(l.gen, l.req, "subscribe", err)
			return
		}
		t.setSubscribed(l.gen, key, true)
	})
}

func (t *Transport) setSubscribed(gen uint64, key string, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.subscribed == nil {
		return
	}
	t.subscribed[key] = on
}

func eventName(ev device.Event) string {
	switch ev.(type) {
	case device.Connected:
		return "connected"
	case device.Disconnected:
		return "disconnected"
	case device.DiscoveryFinished:
		return "discovery_finished"
	case device.ServiceStateChanged:
		return "service_state"
	case device.CharacteristicChanged:
		return "characteristic_changed"
	case device.CharacteristicRead:
		return "characteristic_read"
	case device.ControllerError:
		return "controller_error"
	default:
		return "unknown"
	}
}
