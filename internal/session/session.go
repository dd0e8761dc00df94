package session

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/loop"
	"github.com/srg/vecs/internal/packet"
)

// Session is the connection state machine and telemetry cache of one sensor.
//
// A Session is not safe for concurrent use. All methods, transport events and
// timer callbacks must run on the same event loop goroutine.
type Session struct {
	address   string
	rssi      int
	transport device.Transport
	sched     loop.Scheduler
	logger    *logrus.Logger

	state   ConnectionState
	battery *serviceHandle
	key     *serviceHandle
	mpu     *serviceHandle

	settings Settings

	batteryLevel int
	batteryFresh bool
	streaming    bool
	sample       packet.MotionSample
	singleClicks uint32
	doubleClicks uint32
	longClicks   uint32
	status       string

	userDisconnect bool
	reconnections  int
	reconnectTimer loop.Timer
	pollTimer      loop.Timer

	listeners      []listenerEntry
	nextListenerID int
}

// New creates a disconnected session for the peer at address with default
// settings. The transport is obtained from factory and delivers its events
// to HandleEvent.
func New(address string, rssi int, factory device.TransportFactory, sched loop.Scheduler, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		address:        address,
		rssi:           rssi,
		sched:          sched,
		logger:         logger,
		state:          Disconnected,
		settings:       DefaultSettings(),
		batteryLevel:   DefaultBatteryLevel,
		userDisconnect: true,
	}
	s.transport = factory(address, s.HandleEvent)
	return s
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("address", s.address)
}

func (s *Session) Address() string        { return s.address }
func (s *Session) RSSI() int              { return s.rssi }
func (s *Session) State() ConnectionState { return s.state }
func (s *Session) BatteryLevel() int      { return s.batteryLevel }
func (s *Session) Streaming() bool        { return s.streaming }
func (s *Session) Sample() packet.MotionSample {
	return s.sample
}
func (s *Session) SingleClickCount() uint32 { return s.singleClicks }
func (s *Session) DoubleClickCount() uint32 { return s.doubleClicks }
func (s *Session) LongClickCount() uint32   { return s.longClicks }

// Status is the last transport fault rendered for operators, empty if none
func (s *Session) Status() string { return s.status }

// Reconnections is the number of consecutive automatic reconnect attempts
func (s *Session) Reconnections() int { return s.reconnections }

// ReconnectPending reports whether an automatic reconnect is scheduled
func (s *Session) ReconnectPending() bool { return s.reconnectTimer != nil }

func (s *Session) Settings() Settings            { return s.settings }
func (s *Session) Role() Role                    { return s.settings.Role }
func (s *Session) MPURate() int                  { return s.settings.MPURate }
func (s *Session) AccelRange() packet.AccelRange { return s.settings.AccelRange }
func (s *Session) GyroRange() packet.GyroRange   { return s.settings.GyroRange }
func (s *Session) Interval() time.Duration       { return s.settings.Interval }
func (s *Session) MaxReconnections() int         { return s.settings.MaxReconnections }

// ApplySettings sets every configurable field through its setter.
func (s *Session) ApplySettings(st Settings) {
	s.SetRole(st.Role)
	s.SetAccelRange(st.AccelRange)
	s.SetGyroRange(st.GyroRange)
	s.SetInterval(st.Interval)
	s.SetMaxReconnections(st.MaxReconnections)
	s.SetMPURate(st.MPURate)
}

func (s *Session) SetRole(r Role) {
	if _, ok := roleNames[r]; !ok || r == s.settings.Role {
		return
	}
	s.settings.Role = r
	s.notify(RoleChanged)
}

// SetMPURate clamps rate into [MinMPURate, MaxMPURate]. A running stream
// keeps its rate until the next StartStreaming.
func (s *Session) SetMPURate(rate int) {
	rate = clampRate(rate)
	if rate == s.settings.MPURate {
		return
	}
	s.settings.MPURate = rate
	s.notify(MPURateChanged)
}

func (s *Session) SetAccelRange(r packet.AccelRange) {
	if !r.Valid() || r == s.settings.AccelRange {
		return
	}
	s.settings.AccelRange = r
	s.notify(AccelRangeChanged)
}

func (s *Session) SetGyroRange(r packet.GyroRange) {
	if !r.Valid() || r == s.settings.GyroRange {
		return
	}
	s.settings.GyroRange = r
	s.notify(GyroRangeChanged)
}

// SetInterval sets the battery poll period, never below MinBatteryInterval.
// It takes effect from the next poll.
func (s *Session) SetInterval(d time.Duration) {
	s.settings.Interval = clampInterval(d)
}

func (s *Session) SetMaxReconnections(n int) {
	if n < 0 {
		n = 0
	}
	s.settings.MaxReconnections = n
}

func (s *Session) setState(state ConnectionState) {
	if s.state == state {
		return
	}
	s.log().WithFields(logrus.Fields{
		"from": s.state,
		"to":   state,
	}).Debug("Connection state changed")
	s.state = state
	s.notify(StateChanged)
}

func (s *Session) setStreaming(on bool) {
	s.streaming = on
	s.notify(StreamingChanged)
}

func (s *Session) setStatus(msg string) {
	s.status = msg
	s.notify(StatusChanged)
}

// Close tears the session down with a user-initiated disconnect and drops
// every listener.
func (s *Session) Close() {
	s.Disconnect()
	s.listeners = nil
}
