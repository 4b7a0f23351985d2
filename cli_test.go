package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wifimgr/internal/config"
	"github.com/shazow/wifimgr/internal/history"
	"github.com/shazow/wifimgr/wifi"
	"github.com/shazow/wifimgr/wifi/mock"
)

func init() {
	mock.DefaultActionDelay = 0
}

func newTestApp(t *testing.T, cfg config.Config) (*app, *mock.Platform) {
	t.Helper()
	platform := mock.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(platform, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, platform
}

func TestRunList(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runList(&buf, false, a))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "TacoBoutAGoodSignal\t99%, rsn", lines[0])
	assert.Equal(t, "Password is password\t87%, rsn, saved", lines[1])
	assert.Contains(t, lines, "Unencrypted_Honeypot\t71%, open")
}

func TestRunListJSON(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runList(&buf, true, a))

	var out []accessPointJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 10)

	bySSID := make(map[string]accessPointJSON)
	for _, ap := range out {
		bySSID[ap.SSID] = ap
	}
	multi := bySSID["Multi-AP Network"]
	assert.Equal(t, uint8(80), multi.Strength, "strongest radio wins")
	assert.False(t, multi.Saved)
	assert.Nil(t, multi.LastConnected)

	saved := bySSID["HideYoKidsHideYoWiFi"]
	assert.True(t, saved.Saved)
	assert.NotNil(t, saved.LastConnected)
	assert.Equal(t, "infrastructure", saved.Mode)
}

func TestRunShow(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runShow(&buf, false, "Password is password", a))

	output := buf.String()
	assert.Contains(t, output, "SSID: Password is password\n")
	assert.Contains(t, output, "Passphrase: password\n")
	assert.Contains(t, output, "Saved: true\n")
	assert.Contains(t, output, "Security: rsn\n")
	assert.Contains(t, output, "Last Connected: ")

	buf.Reset()
	require.NoError(t, runShow(&buf, true, "HideYoKidsHideYoWiFi", a))
	var out accessPointJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "hideyokids", out.Passphrase, "most recently used profile")
}

func TestRunShowNotFound(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	err := runShow(&buf, false, "NonExistentNetwork", a)
	assert.ErrorIs(t, err, errNetworkNotFound)
	assert.Empty(t, buf.String())
}

func TestRunConnect(t *testing.T) {
	a, platform := newTestApp(t, config.Default())
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, runConnect(ctx, &buf, "Multi-AP Network", "multiplicity", true, a))
	assert.Contains(t, buf.String(), "Connected to Multi-AP Network\n")
	assert.True(t, a.sub.IsConnected())

	reqs := platform.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].IsNew())

	buf.Reset()
	require.NoError(t, runConnect(ctx, &buf, "Multi-AP Network", "", true, a))
	assert.Equal(t, "Already connected to Multi-AP Network\n", buf.String())
}

func TestRunConnectSavedProfile(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, runConnect(ctx, &buf, "Password is password", "", true, a))
	assert.True(t, a.sub.ActiveAccessPoint().HasSavedProfile())
}

func TestRunConnectAuthFailure(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runConnect(ctx, &buf, "Dunder MiffLAN", "wrongpassword", true, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
	assert.False(t, a.sub.IsConnected())
}

func TestRunConnectInvalidSecret(t *testing.T) {
	a, platform := newTestApp(t, config.Default())
	var buf bytes.Buffer

	err := runConnect(context.Background(), &buf, "Dunder MiffLAN", "short", true, a)
	assert.ErrorIs(t, err, wifi.ErrInvalidSecretFormat)
	assert.Empty(t, platform.Requests())
}

func TestRunConnectNoWait(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runConnect(context.Background(), &buf, "Unencrypted_Honeypot", "", false, a))
	assert.Equal(t, "Connecting to Unencrypted_Honeypot\n", buf.String())
	assert.Eventually(t, a.sub.IsConnected, time.Second, 10*time.Millisecond)
}

func TestEventQueueKeepsOutcome(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q := newEventQueue(ctx, 2)
	defer q.Close()

	for i := 0; i < 5; i++ {
		q.ConnectionEventAppended(wifi.Event{Type: wifi.EventStartedConnecting})
	}
	assert.Len(t, q.ch, 2, "progress events are dropped when full")

	sent := make(chan struct{})
	go func() {
		q.ConnectionEventAppended(wifi.Event{Type: wifi.EventConnected})
		close(sent)
	}()

	assert.Equal(t, wifi.EventStartedConnecting, (<-q.ch).Type)
	assert.Equal(t, wifi.EventStartedConnecting, (<-q.ch).Type)
	select {
	case ev := <-q.ch:
		assert.Equal(t, wifi.EventConnected, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("outcome was dropped")
	}
	<-sent
}

func TestEventQueueReleasesSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := newEventQueue(ctx, 1)
	q.ConnectionEventAppended(wifi.Event{Type: wifi.EventRequested})

	sent := make(chan struct{})
	go func() {
		q.ConnectionEventAppended(wifi.Event{Type: wifi.EventAuthFailed})
		close(sent)
	}()
	assert.Never(t, func() bool {
		select {
		case <-sent:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	cancel()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("sender still blocked after cancel")
	}

	q = newEventQueue(context.Background(), 0)
	q.Close()
	q.ConnectionEventAppended(wifi.Event{Type: wifi.EventConnectionFailed})
}

func TestRunDisconnect(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runConnect(context.Background(), &buf, "Unencrypted_Honeypot", "", true, a))
	buf.Reset()
	require.NoError(t, runDisconnect(&buf, a))
	assert.Equal(t, "Disconnected\n", buf.String())
	assert.Eventually(t, func() bool { return !a.sub.IsConnected() }, time.Second, 10*time.Millisecond)
}

func TestRunRescan(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runRescan(&buf, a))
	assert.Equal(t, "Scan requested\n", buf.String())
}

func TestRunRadio(t *testing.T) {
	a, platform := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runRadio(&buf, "", a))
	assert.Equal(t, "Wireless: on\n", buf.String())

	buf.Reset()
	require.NoError(t, runRadio(&buf, "off", a))
	assert.Equal(t, "Wireless: off\n", buf.String())
	enabled, err := platform.WirelessEnabled()
	require.NoError(t, err)
	assert.False(t, enabled)

	assert.Error(t, runRadio(&buf, "maybe", a))
}

func TestRunForget(t *testing.T) {
	a, platform := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runForget(&buf, "HideYoKidsHideYoWiFi", a))
	assert.Equal(t, "Forgot HideYoKidsHideYoWiFi\n", buf.String())
	for _, p := range platform.Profiles() {
		assert.NotEqual(t, "HideYoKidsHideYoWiFi", p.ID(), "both duplicates are deleted")
	}

	err := runForget(&buf, "Multi-AP Network", a)
	assert.ErrorIs(t, err, wifi.ErrNotFound)
}

func TestRunShare(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	var buf bytes.Buffer

	require.NoError(t, runShare(&buf, "Password is password", a))
	output := buf.String()
	assert.Contains(t, output, "█")
	assert.True(t, strings.HasSuffix(output, "Password is password\n"))

	cfg := config.Default()
	cfg.Share.ErrorCorrection = "bogus"
	a.cfg = cfg
	assert.ErrorIs(t, runShare(&buf, "Password is password", a), config.ErrInvalid)
}

func TestRunHistory(t *testing.T) {
	j, err := history.Open(":memory:", nil)
	require.NoError(t, err)
	defer j.Close()

	now := time.Now()
	require.NoError(t, j.Record(history.Entry{Time: now.Add(-time.Hour), Type: "requested", SSID: "Home"}))
	require.NoError(t, j.Record(history.Entry{Time: now.Add(-time.Minute), Type: "connected", SSID: "Home"}))
	require.NoError(t, j.Record(history.Entry{Time: now, Type: "requested", SSID: "Cafe"}))

	var buf bytes.Buffer
	require.NoError(t, runHistory(&buf, 2, "", j))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "\trequested\tCafe"))
	assert.True(t, strings.HasSuffix(lines[1], "\tconnected\tHome"))

	buf.Reset()
	require.NoError(t, runHistory(&buf, 0, "Home", j))
	assert.Equal(t, 2, strings.Count(buf.String(), "\tHome\n"))
}

// syncBuffer is a bytes.Buffer safe to read while watch writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunWatch(t *testing.T) {
	cfg := config.Default()
	cfg.HistoryDB = ":memory:"
	a, platform := newTestApp(t, cfg)
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runWatch(ctx, out, ScanOff, a)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "TacoBoutAGoodSignal")
	}, time.Second, 10*time.Millisecond)

	platform.AddRadio("Late Arrival", "02:00:00:aa:bb:cc", 50, wifi.SecurityOpen)
	ap, err := a.lookup("Unencrypted_Honeypot")
	require.NoError(t, err)
	require.NoError(t, a.sub.Connect(ap, ""))

	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "+ Late Arrival (50%, open)") &&
			strings.Contains(s, "connected Unencrypted_Honeypot")
	}, 2*time.Second, 10*time.Millisecond, out.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancel")
	}

	assert.Eventually(t, func() bool {
		entries, err := a.journal.ForSSID("Unencrypted_Honeypot", 0)
		return err == nil && len(entries) >= 3
	}, time.Second, 10*time.Millisecond)
}
