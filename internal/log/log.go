// Package log keeps the most recent log records in memory and can forward
// them to a channel for display alongside other output.
package log

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultKeep is the number of records a RecentHandler retains.
const DefaultKeep = 20

// RecentHandler is a slog.Handler that remembers recent records and
// forwards them to an optional channel before passing them on.
type RecentHandler struct {
	slog.Handler
	state *recentState
}

type recentState struct {
	mu   sync.Mutex
	keep int
	ch   chan<- slog.Record
	logs []slog.Record
}

// NewRecentHandler creates a new RecentHandler wrapping handler.
func NewRecentHandler(handler slog.Handler, keep int) *RecentHandler {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &RecentHandler{
		Handler: handler,
		state:   &recentState{keep: keep},
	}
}

// Handle stores the record, forwards it if an output is set, and passes it
// to the wrapped handler. A full output channel drops the forwarded copy.
func (h *RecentHandler) Handle(ctx context.Context, r slog.Record) error {
	s := h.state
	s.mu.Lock()
	s.logs = append(s.logs, r.Clone())
	if len(s.logs) > s.keep {
		s.logs = s.logs[len(s.logs)-s.keep:]
	}
	if s.ch != nil {
		select {
		case s.ch <- r.Clone():
		default:
		}
	}
	s.mu.Unlock()

	return h.Handler.Handle(ctx, r)
}

func (h *RecentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RecentHandler{Handler: h.Handler.WithAttrs(attrs), state: h.state}
}

func (h *RecentHandler) WithGroup(name string) slog.Handler {
	return &RecentHandler{Handler: h.Handler.WithGroup(name), state: h.state}
}

// Logs returns a copy of the stored records, oldest first.
func (h *RecentHandler) Logs() []slog.Record {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return append([]slog.Record(nil), h.state.logs...)
}

// SetOutput sets the forwarding channel. nil stops forwarding.
func (h *RecentHandler) SetOutput(ch chan<- slog.Record) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	h.state.ch = ch
}

var defaultHandler *RecentHandler

// Init installs a RecentHandler around handler as the default logger.
func Init(handler slog.Handler) *slog.Logger {
	defaultHandler = NewRecentHandler(handler, DefaultKeep)
	logger := slog.New(defaultHandler)
	slog.SetDefault(logger)
	return logger
}

// SetOutput sets the output channel for the default logger.
func SetOutput(ch chan<- slog.Record) {
	if defaultHandler != nil {
		defaultHandler.SetOutput(ch)
	}
}

// Logs returns the stored log messages from the default logger.
func Logs() []slog.Record {
	if defaultHandler == nil {
		return nil
	}
	return defaultHandler.Logs()
}
