package gesture

import "time"

type EventType string

const (
	EventStarted   EventType = "hold_started"
	EventThrottled EventType = "hold_throttled"
	EventCancelled EventType = "hold_cancelled"
	EventCompleted EventType = "hold_completed"
	EventSucceeded EventType = "checkout_succeeded"
	EventFailed    EventType = "checkout_failed"
)

// Event is an audit signal correlated by SessionID.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Reason    Reason    `json:"reason,omitempty"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventSink receives lifecycle events. Publish must not block for long; it runs on
// the goroutine driving the gesture.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Publish(Event) {}

// Fanout publishes each event to every sink in order.
type Fanout []EventSink

func (f Fanout) Publish(ev Event) {
	for _, s := range f {
		s.Publish(ev)
	}
}
