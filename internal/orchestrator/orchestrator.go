// Package orchestrator keeps the collection of known sensor sessions and
// applies the role policy across all of them.
//
// An Orchestrator is not safe for concurrent use; like the sessions it owns
// it must only be used from the event loop goroutine.
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/loop"
	"github.com/srg/vecs/internal/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SettingsStore is where admitted sessions get their configuration from
type SettingsStore interface {
	Get(address string) (session.Settings, bool)
	Put(address string, st session.Settings)
	Save() error
}

// Config tunes peer admission
type Config struct {
	// Product is the substring a peer name must contain to be admitted
	Product string `default:"VE Control Sensor"`
}

// DefaultConfig returns the configuration for the VE Control Sensor
func DefaultConfig() Config {
	var c Config
	defaults.SetDefaults(&c)
	return c
}

type entry struct {
	session *session.Session
	cancel  func()
}

type Orchestrator struct {
	cfg     Config
	factory device.TransportFactory
	sched   loop.Scheduler
	store   SettingsStore
	logger  *logrus.Logger

	sessions    *orderedmap.OrderedMap[string, *entry]
	message     string
	discovering bool

	listeners      []listenerEntry
	nextListenerID int
}

// New creates an empty orchestrator. Sessions it admits use factory for
// their transports and sched for their timers. store may be nil, in which
// case every session starts with the default settings.
func New(cfg Config, factory device.TransportFactory, sched loop.Scheduler, store SettingsStore, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Product == "" {
		cfg.Product = DefaultConfig().Product
	}
	return &Orchestrator{
		cfg:      cfg,
		factory:  factory,
		sched:    sched,
		store:    store,
		logger:   logger,
		sessions: orderedmap.New[string, *entry](),
	}
}

func key(address string) string {
	return strings.ToUpper(address)
}

// Admit creates a session for a qualifying peer. It returns the session and
// true when the peer was added; a known peer yields its existing session and
// false, a rejected one nil and false.
func (o *Orchestrator) Admit(peer device.Peer) (*session.Session, bool) {
	logger := o.logger.WithFields(logrus.Fields{
		"address": peer.Address,
		"name":    peer.Name,
	})

	if !peer.MatchesProduct(o.cfg.Product) {
		logger.Debug("Peer rejected")
		return nil, false
	}
	if e, ok := o.sessions.Get(key(peer.Address)); ok {
		return e.session, false
	}

	s := session.New(peer.Address, peer.RSSI, o.factory, o.sched, o.logger)
	if o.store != nil {
		st, found := o.store.Get(peer.Address)
		if found {
			logger.WithField("role", st.Role).Debug("Loaded persisted settings")
		}
		s.ApplySettings(st)
	}

	e := &entry{session: s}
	e.cancel = s.Observe(o.forward)
	o.sessions.Set(key(peer.Address), e)

	logger.WithField("rssi", peer.RSSI).Info("Device admitted")
	o.emit(Event{Kind: CollectionChanged})
	o.setMessage(fmt.Sprintf("Device found [%s]", peer.Address))
	return s, true
}

func (o *Orchestrator) forward(ev session.Event) {
	o.emit(Event{Kind: SessionChanged, Session: ev.Session, SessionEvent: ev})
	if ev.Kind == session.StatusChanged && ev.Session.Status() != "" {
		o.setMessage(ev.Session.Status())
	}
}

// ResetAll tears every session down with a user initiated disconnect and
// empties the collection. Current session settings are kept in the store
// (in memory only) so that re-admitted devices get them back.
func (o *Orchestrator) ResetAll() {
	if o.sessions.Len() == 0 {
		return
	}

	for pair := o.sessions.Oldest(); pair != nil; pair = pair.Next() {
		e := pair.Value
		e.cancel()
		e.session.Close()
		if o.store != nil {
			o.store.Put(e.session.Address(), e.session.Settings())
		}
	}
	o.sessions = orderedmap.New[string, *entry]()

	o.logger.Debug("All sessions reset")
	o.emit(Event{Kind: CollectionChanged})
}

// ApplyRolePolicy drives every session towards the state its role asks for.
// Sessions are visited in admission order.
func (o *Orchestrator) ApplyRolePolicy() {
	for pair := o.sessions.Oldest(); pair != nil; pair = pair.Next() {
		o.applyRole(pair.Value.session)
	}
}

func (o *Orchestrator) applyRole(s *session.Session) {
	logger := o.logger.WithFields(logrus.Fields{
		"address": s.Address(),
		"role":    s.Role(),
		"state":   s.State(),
	})

	switch s.Role() {
	case session.RoleUndefined:
		s.Disconnect()
	case session.RoleDoctor:
		switch s.State() {
		case session.Disconnected:
			s.Connect()
		case session.Connected:
			if s.Streaming() {
				s.StopStreaming()
			}
		case session.Connecting:
		}
	case session.RolePatientHand, session.RolePatientBack:
		switch s.State() {
		case session.Disconnected:
			s.Connect()
		case session.Connected:
			s.StartStreaming()
		case session.Connecting:
		}
	default:
		logger.Warn("Unknown role, session left untouched")
		return
	}
	logger.Debug("Role policy applied")
}

// ScanStarted resets the collection for a new discovery run
func (o *Orchestrator) ScanStarted() {
	o.ResetAll()
	o.setDiscovering(true)
	o.setMessage("Scanning for devices...")
}

// ScanFinished ends a discovery run
func (o *Orchestrator) ScanFinished() {
	o.setDiscovering(false)
	if o.sessions.Len() == 0 {
		o.setMessage("Scan finished: no devices found")
		return
	}
	o.setMessage(fmt.Sprintf("Scan finished: found %d devices", o.sessions.Len()))
}

// ScanFailed ends a discovery run that failed with err
func (o *Orchestrator) ScanFailed(err error) {
	o.logger.WithError(err).Error("Scan failed")
	o.setDiscovering(false)
	o.setMessage(device.StatusText(err))
}

// SaveSettings writes the settings of every known session to the store.
func (o *Orchestrator) SaveSettings() error {
	if o.store == nil {
		return nil
	}
	for pair := o.sessions.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value.session
		o.store.Put(s.Address(), s.Settings())
	}
	if err := o.store.Save(); err != nil {
		return fmt.Errorf("failed to save device settings: %w", err)
	}
	o.logger.WithField("devices", o.sessions.Len()).Debug("Device settings saved")
	return nil
}

// Sessions returns the sessions in admission order
func (o *Orchestrator) Sessions() []*session.Session {
	out := make([]*session.Session, 0, o.sessions.Len())
	for pair := o.sessions.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.session)
	}
	return out
}

// Session looks a session up by address (case insensitive)
func (o *Orchestrator) Session(address string) (*session.Session, bool) {
	e, ok := o.sessions.Get(key(address))
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (o *Orchestrator) Len() int          { return o.sessions.Len() }
func (o *Orchestrator) Message() string   { return o.message }
func (o *Orchestrator) Discovering() bool { return o.discovering }
func (o *Orchestrator) Product() string   { return o.cfg.Product }

func (o *Orchestrator) setMessage(msg string) {
	if msg == o.message {
		return
	}
	o.message = msg
	o.logger.Info(msg)
	o.emit(Event{Kind: MessageChanged})
}

func (o *Orchestrator) setDiscovering(on bool) {
	if on == o.discovering {
		return
	}
	o.discovering = on
	o.emit(Event{Kind: DiscoveringChanged})
}
