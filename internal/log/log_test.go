package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentHandlerKeepsLast(t *testing.T) {
	var buf bytes.Buffer
	h := NewRecentHandler(slog.NewTextHandler(&buf, nil), 3)
	logger := slog.New(h)

	for _, msg := range []string{"one", "two", "three", "four"} {
		logger.Info(msg)
	}

	logs := h.Logs()
	require.Len(t, logs, 3)
	assert.Equal(t, "two", logs[0].Message)
	assert.Equal(t, "four", logs[2].Message)
	assert.Contains(t, buf.String(), "msg=one", "records still reach the wrapped handler")
}

func TestRecentHandlerSharedAcrossWith(t *testing.T) {
	h := NewRecentHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), 0)
	logger := slog.New(h).With("component", "controller")
	logger.Info("activating", "ssid", "Home")

	logs := h.Logs()
	require.Len(t, logs, 1)
	var attrs []string
	logs[0].Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key)
		return true
	})
	assert.Equal(t, []string{"ssid"}, attrs)
}

func TestRecentHandlerForwards(t *testing.T) {
	h := NewRecentHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), 0)
	ch := make(chan slog.Record, 1)
	h.SetOutput(ch)

	logger := slog.New(h)
	logger.Warn("first")
	logger.Warn("dropped when the channel is full")

	got := <-ch
	assert.Equal(t, "first", got.Message)
	assert.Empty(t, ch)

	h.SetOutput(nil)
	require.NoError(t, h.Handle(context.Background(), slog.NewRecord(got.Time, slog.LevelInfo, "after", 0)))
	assert.Empty(t, ch)
	assert.Len(t, h.Logs(), 3)
}
