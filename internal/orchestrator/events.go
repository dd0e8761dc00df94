package orchestrator

import (
	"github.com/srg/vecs/internal/session"
)

type EventKind int

const (
	// CollectionChanged fires after admission or reset
	CollectionChanged EventKind = iota
	// MessageChanged fires when the operator status message changes
	MessageChanged
	DiscoveringChanged
	// SessionChanged re-publishes an event of one of the sessions
	SessionChanged
)

func (k EventKind) String() string {
	switch k {
	case CollectionChanged:
		return "collection"
	case MessageChanged:
		return "message"
	case DiscoveringChanged:
		return "discovering"
	case SessionChanged:
		return "session"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind         EventKind
	Session      *session.Session
	SessionEvent session.Event
}

type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Observe registers fn and returns a function that removes it.
func (o *Orchestrator) Observe(fn Listener) (cancel func()) {
	o.nextListenerID++
	id := o.nextListenerID
	o.listeners = append(o.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

func (o *Orchestrator) emit(ev Event) {
	for _, l := range o.listeners {
		l.fn(ev)
	}
}
