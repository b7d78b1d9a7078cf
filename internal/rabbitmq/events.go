package rabbitmq

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a connection lifecycle notification
type EventKind int

const (
	// EventConnected follows every successful connect or reconnect
	EventConnected EventKind = iota
	// EventDisconnected is raised when the broker link breaks
	EventDisconnected
	// EventReconnecting is raised before the backoff wait of a reconnect attempt
	EventReconnecting
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connect"
	case EventDisconnected:
		return "disconnect"
	case EventReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners. Events are informational; reconnection
// is driven by publish failures only.
type Event struct {
	Kind    EventKind
	Err     error
	Attempt int
	Delay   time.Duration
	Time    time.Time
}

// Listener receives connection events. Delivery is synchronous, so
// implementations must not block.
type Listener interface {
	OnConnectionEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(Event)

// OnConnectionEvent implements Listener
func (f ListenerFunc) OnConnectionEvent(e Event) {
	f(e)
}

type subscription struct {
	id       string
	listener Listener
}

type listenerRegistry struct {
	mu   sync.RWMutex
	subs []subscription
}

func (r *listenerRegistry) add(l Listener) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.subs = append(r.subs, subscription{id: id, listener: l})
	return id
}

func (r *listenerRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *listenerRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *listenerRegistry) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.mu.RLock()
	subs := make([]subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	for _, s := range subs {
		s.listener.OnConnectionEvent(e)
	}
}
