package wifi

import (
	"sync"
	"time"
)

// DefaultRecordLimit bounds how many events a Record keeps.
const DefaultRecordLimit = 256

// Record is the connection event log, newest first. It is the only source of
// truth for whether we are connected, connecting, and to what.
//
// Queries are safe from any goroutine. Append is called from the worker.
type Record struct {
	limit int

	mu     sync.RWMutex
	events []Event

	lmu       sync.Mutex
	listeners []EventListener
}

// NewRecord returns an empty record keeping at most limit events. A
// non-positive limit uses DefaultRecordLimit.
func NewRecord(limit int) *Record {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	return &Record{limit: limit}
}

// AddListener registers l for every appended event.
func (r *Record) AddListener(l EventListener) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Append inserts ev at the front. Events without an access point and events
// repeating the newest (access point, type) pair are dropped. It reports
// whether ev was stored.
func (r *Record) Append(ev Event) bool {
	if ev.AccessPoint == nil || ev.Type == EventNone {
		return false
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	r.mu.Lock()
	if len(r.events) > 0 {
		newest := r.events[0]
		if newest.Type == ev.Type && newest.AccessPoint.Equal(ev.AccessPoint) {
			r.mu.Unlock()
			return false
		}
	}
	r.events = append(r.events, Event{})
	copy(r.events[1:], r.events)
	r.events[0] = ev
	if len(r.events) > r.limit {
		r.events = r.events[:r.limit]
	}
	r.mu.Unlock()

	r.lmu.Lock()
	listeners := append([]EventListener(nil), r.listeners...)
	r.lmu.Unlock()
	for _, l := range listeners {
		l.ConnectionEventAppended(ev)
	}
	return true
}

// Newest returns the most recent event, or the null event.
func (r *Record) Newest() Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[0]
}

func (r *Record) IsConnected() bool {
	return r.Newest().Type == EventConnected
}

func (r *Record) IsConnecting() bool {
	t := r.Newest().Type
	return t == EventRequested || t == EventStartedConnecting
}

// ActiveAccessPoint returns the access point of the newest event, or nil if the
// record is empty or the newest event is a disconnect.
func (r *Record) ActiveAccessPoint() *AccessPoint {
	ev := r.Newest()
	if ev.IsNull() || ev.Type == EventDisconnected {
		return nil
	}
	return ev.AccessPoint
}

// Latest returns the newest event matching pred, or the null event.
func (r *Record) Latest(pred func(Event) bool) Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ev := range r.events {
		if pred == nil || pred(ev) {
			return ev
		}
	}
	return Event{}
}

// Events returns a copy of the log, newest first.
func (r *Record) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

// ForAccessPoint matches events for ap.
func ForAccessPoint(ap *AccessPoint) func(Event) bool {
	return func(ev Event) bool { return ev.AccessPoint.Equal(ap) }
}

// OfType matches events of any of the given types.
func OfType(types ...EventType) func(Event) bool {
	return func(ev Event) bool {
		for _, t := range types {
			if ev.Type == t {
				return true
			}
		}
		return false
	}
}

// Both matches events satisfying a and b.
func Both(a, b func(Event) bool) func(Event) bool {
	return func(ev Event) bool { return a(ev) && b(ev) }
}
