package wifi

import (
	"fmt"
	"time"
)

// EventType is a connection lifecycle step.
type EventType int

const (
	// EventNone marks the null event.
	EventNone EventType = iota
	EventRequested
	EventStartedConnecting
	EventConnected
	EventDisconnected
	EventConnectionFailed
	EventAuthFailed
)

func (t EventType) String() string {
	switch t {
	case EventRequested:
		return "requested"
	case EventStartedConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectionFailed:
		return "failed"
	case EventAuthFailed:
		return "auth-failed"
	default:
		return "none"
	}
}

// IsFailure reports whether t ends an attempt unsuccessfully.
func (t EventType) IsFailure() bool {
	return t == EventConnectionFailed || t == EventAuthFailed
}

// Event is an immutable entry of the connection record.
type Event struct {
	AccessPoint *AccessPoint
	Type        EventType
	Time        time.Time
}

// IsNull reports whether e is the null event returned when nothing matches.
func (e Event) IsNull() bool {
	return e.Type == EventNone
}

func (e Event) String() string {
	if e.IsNull() {
		return "<null event>"
	}
	return fmt.Sprintf("%s %s", e.Type, e.AccessPoint.SSID())
}

// AccessPointListener observes the directory. Callbacks run inside the network
// worker and must not block.
type AccessPointListener interface {
	AccessPointAdded(ap *AccessPoint)
	AccessPointRemoved(ap *AccessPoint)
	SignalStrengthChanged(ap *AccessPoint)
}

// EventListener observes the connection record. Callbacks run inside the
// network worker and must not block.
type EventListener interface {
	ConnectionEventAppended(ev Event)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(ev Event)

func (f EventListenerFunc) ConnectionEventAppended(ev Event) { f(ev) }
