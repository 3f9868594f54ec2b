package roomkit

import "sync"

// EventType identifies a client event stream.
type EventType string

const (
	// EventOpen fires when the transport opens. The session is not usable yet.
	EventOpen EventType = "open"

	// EventConnected fires when the server's handshake frame arrives. Frame
	// carries the confirmation frame.
	EventConnected EventType = "connected"

	// EventMessage fires for every parsed inbound frame, including the
	// handshake and system frames.
	EventMessage EventType = "message"

	// EventError fires for transport, protocol and send failures. Err carries
	// the structured error.
	EventError EventType = "error"

	// EventClose fires when the transport closes, expectedly or not.
	EventClose EventType = "close"
)

// Event is delivered to listeners registered with Emitter.On.
type Event struct {
	Type  EventType
	Frame *Frame // set for connected and message events
	Err   error  // set for error events
}

// Subscription is a handle for one registered listener.
type Subscription struct {
	emitter *Emitter
	event   EventType
}

// Cancel removes the listener. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.emitter == nil {
		return
	}
	s.emitter.mu.Lock()
	delete(s.emitter.listeners[s.event], s)
	s.emitter.mu.Unlock()
	s.emitter = nil
}

// Emitter routes events to registered listeners. Multiple independent
// listeners per event type are supported; listeners may be added and removed
// at any time. The zero value is ready to use.
type Emitter struct {
	mu        sync.Mutex
	listeners map[EventType]map[*Subscription]func(Event)
}

// On registers fn for events of type t and returns its cancellation handle.
func (e *Emitter) On(t EventType, fn func(Event)) *Subscription {
	sub := &Subscription{emitter: e, event: t}
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[EventType]map[*Subscription]func(Event))
	}
	set := e.listeners[t]
	if set == nil {
		set = make(map[*Subscription]func(Event))
		e.listeners[t] = set
	}
	set[sub] = fn
	e.mu.Unlock()
	return sub
}

// emit calls every listener registered for ev.Type. Listeners run outside the
// emitter lock, so they may subscribe or cancel freely.
func (e *Emitter) emit(ev Event) {
	e.mu.Lock()
	set := e.listeners[ev.Type]
	fns := make([]func(Event), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
