package session

import (
	"github.com/go-ble/ble"
	"github.com/srg/vecs/internal/packet"
)

// EventKind identifies which group of session fields changed
type EventKind int

const (
	StateChanged EventKind = iota
	BatteryChanged
	ButtonPressed
	MotionUpdated
	StreamingChanged
	RoleChanged
	MPURateChanged
	AccelRangeChanged
	GyroRangeChanged
	StatusChanged
	// ServiceReady fires once a service finished details discovery and its
	// characteristics can be used
	ServiceReady
)

var eventKindNames = [...]string{
	StateChanged:      "state",
	BatteryChanged:    "battery",
	ButtonPressed:     "button",
	MotionUpdated:     "motion",
	StreamingChanged:  "streaming",
	RoleChanged:       "role",
	MPURateChanged:    "mpu_rate",
	AccelRangeChanged: "accel_range",
	GyroRangeChanged:  "gyro_range",
	StatusChanged:     "status",
	ServiceReady:      "service_ready",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// Event is a change notification. Most kinds are level triggered: listeners
// read the current value through the Session accessors. BatteryChanged,
// ButtonPressed and MotionUpdated also carry their payload, ServiceReady
// names the service.
type Event struct {
	Kind    EventKind
	Session *Session
	Service ble.UUID

	Battery int
	Click   packet.ButtonClick
	Raw     []byte
	Sample  packet.MotionSample
}

// Listener receives session events on the event loop goroutine
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Observe registers fn and returns a function that removes it.
func (s *Session) Observe(fn Listener) (cancel func()) {
	s.nextListenerID++
	id := s.nextListenerID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) emit(ev Event) {
	ev.Session = s
	for _, l := range s.listeners {
		l.fn(ev)
	}
}

func (s *Session) notify(kind EventKind) {
	s.emit(Event{Kind: kind})
}
