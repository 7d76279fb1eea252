package eventbus

import (
	"context"
	"sync"

	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventState carries session state transitions.
	EventState EventType = "state"
	// EventLine carries streamed debugger output lines.
	EventLine EventType = "line"
	// EventError carries the failure of an attempt.
	EventError EventType = "error"
	// EventDone carries a finished report.
	EventDone EventType = "done"
)

// Event represents one session event.
type Event struct {
	Type  EventType
	State schema.StateEvent
	Line  schema.LineEvent
	Error schema.ErrorEvent
	Done  schema.DoneEvent
}

// SessionID returns the session the event belongs to.
func (e Event) SessionID() schema.SessionID {
	switch e.Type {
	case EventState:
		return e.State.SessionID
	case EventLine:
		return e.Line.SessionID
	case EventError:
		return e.Error.SessionID
	case EventDone:
		return e.Done.SessionID
	default:
		return ""
	}
}

// Bus fans session events out to per-session subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[chan Event]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[sessionID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			close(ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.With("session", sessionID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnState publishes a state event.
func (b *Bus) OnState(event schema.StateEvent) {
	b.publish(event.SessionID, Event{Type: EventState, State: event})
}

// OnLine publishes a line event.
func (b *Bus) OnLine(event schema.LineEvent) {
	b.publish(event.SessionID, Event{Type: EventLine, Line: event})
}

// OnError publishes an error event.
func (b *Bus) OnError(event schema.ErrorEvent) {
	b.publish(event.SessionID, Event{Type: EventError, Error: event})
}

// OnDone publishes a done event.
func (b *Bus) OnDone(event schema.DoneEvent) {
	b.publish(event.SessionID, Event{Type: EventDone, Done: event})
}

// Sends happen under the lock so a concurrent cancel cannot close a channel mid-send.
func (b *Bus) publish(sessionID schema.SessionID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if len(sessionSubs) == 0 {
		b.mu.Unlock()
		return
	}
	dropped := 0
	for sub := range sessionSubs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("session", sessionID).Trace("eventbus dropped", "count", dropped, "type", event.Type)
	}
}
