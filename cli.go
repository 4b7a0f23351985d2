package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/shazow/wifimgr/internal/config"
	"github.com/shazow/wifimgr/internal/history"
	wifilog "github.com/shazow/wifimgr/internal/log"
	"github.com/shazow/wifimgr/internal/metrics"
	"github.com/shazow/wifimgr/wifi"
)

var errNetworkNotFound = errors.New("network not found")

// app is a running subsystem plus the optional journal and metrics.
type app struct {
	sub     *wifi.Subsystem
	cfg     config.Config
	logger  *slog.Logger
	journal *history.Journal
	metrics *metrics.Collectors
}

// newApp builds and starts the subsystem on platform.
func newApp(platform wifi.Platform, cfg config.Config, logger *slog.Logger) (*app, error) {
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	a.sub = wifi.New(platform, wifi.Options{
		Interface:      cfg.Interface,
		ConnectTimeout: timeout,
		Logger:         logger,
		Metrics:        a.metrics,
		WorkerObserver: a.metrics,
	})
	a.sub.AddEventListener(a.metrics)

	if cfg.HistoryDB != "" {
		a.journal, err = history.Open(cfg.HistoryDB, logger)
		if err != nil {
			return nil, err
		}
		a.sub.AddEventListener(a.journal)
	}

	if err := a.sub.Start(); err != nil {
		a.closeJournal()
		return nil, fmt.Errorf("starting wifi subsystem: %w", err)
	}
	return a, nil
}

// Close stops the subsystem and releases the platform.
func (a *app) Close() {
	if err := a.sub.Close(); err != nil {
		a.logger.Warn("closing platform", "error", err)
	}
	a.closeJournal()
}

func (a *app) closeJournal() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("closing history", "error", err)
	}
}

// lookup resolves a visible network by SSID. With several security variants
// the first in list order wins.
func (a *app) lookup(ssid string) (*wifi.AccessPoint, error) {
	for _, ap := range a.sub.ListAccessPoints() {
		if ap.SSID() == ssid {
			return ap, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", ssid, errNetworkNotFound)
}

// accessPointJSON is the -json representation of a network.
type accessPointJSON struct {
	SSID          string     `json:"ssid"`
	Hash          string     `json:"hash"`
	Security      string     `json:"security"`
	Mode          string     `json:"mode"`
	Strength      uint8      `json:"strength"`
	Saved         bool       `json:"saved"`
	Active        bool       `json:"active"`
	LastConnected *time.Time `json:"last_connected,omitempty"`
	Passphrase    string     `json:"passphrase,omitempty"`
}

func toJSON(ap *wifi.AccessPoint, active bool) accessPointJSON {
	out := accessPointJSON{
		SSID:     ap.SSID(),
		Hash:     ap.Hash().String(),
		Security: ap.Security().String(),
		Mode:     ap.Mode().String(),
		Strength: ap.Strength(),
		Saved:    ap.HasSavedProfile(),
		Active:   active,
	}
	if last := ap.LastConnected(); !last.IsZero() {
		out.LastConnected = &last
	}
	return out
}

func formatAccessPoint(ap *wifi.AccessPoint, active bool) string {
	var parts []string
	if ap.Visible() {
		strength := fmt.Sprintf("%d%%", ap.Strength())
		parts = append(parts, lipgloss.NewStyle().Foreground(CurrentTheme.SignalColor(ap.Strength())).Render(strength))
	}
	parts = append(parts, ap.Security().String())
	if ap.HasSavedProfile() {
		parts = append(parts, "saved")
	}
	if active {
		parts = append(parts, lipgloss.NewStyle().Foreground(CurrentTheme.Success).Render("active"))
	}
	return strings.Join(parts, ", ")
}

func runList(w io.Writer, asJSON bool, a *app) error {
	aps := a.sub.ListAccessPoints()
	active := a.sub.ActiveAccessPoint()

	if asJSON {
		out := make([]accessPointJSON, 0, len(aps))
		for _, ap := range aps {
			out = append(out, toJSON(ap, ap.Equal(active)))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, ap := range aps {
		fmt.Fprintf(w, "%s\t%s\n", ap.SSID(), formatAccessPoint(ap, ap.Equal(active)))
	}
	return nil
}

func runShow(w io.Writer, asJSON bool, ssid string, a *app) error {
	ap, err := a.lookup(ssid)
	if err != nil {
		return err
	}
	active := ap.Equal(a.sub.ActiveAccessPoint())

	var secret string
	if ap.HasSavedProfile() && ap.IsSecured() {
		secret, err = a.sub.Secret(ap)
		if err != nil {
			// If we can't get a secret for a saved network, that's an error.
			return fmt.Errorf("failed to get network secret: %w", err)
		}
	}

	if asJSON {
		out := toJSON(ap, active)
		out.Passphrase = secret
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "SSID: %s\n", ap.SSID())
	fmt.Fprintf(w, "Hash: %s\n", ap.Hash())
	fmt.Fprintf(w, "Passphrase: %s\n", secret)
	fmt.Fprintf(w, "Active: %t\n", active)
	fmt.Fprintf(w, "Saved: %t\n", ap.HasSavedProfile())
	fmt.Fprintf(w, "Security: %s\n", ap.Security())
	fmt.Fprintf(w, "Mode: %s\n", ap.Mode())
	fmt.Fprintf(w, "Strength: %d%%\n", ap.Strength())
	if last := ap.LastConnected(); !last.IsZero() {
		fmt.Fprintf(w, "Last Connected: %s\n", formatDuration(last))
	}
	return nil
}

// eventQueue forwards record appends to a channel. Progress events are dropped
// when the channel is full; outcomes wait for the reader until ctx is done or
// the reader has gone.
type eventQueue struct {
	ctx  context.Context
	ch   chan wifi.Event
	done chan struct{}
}

func newEventQueue(ctx context.Context, size int) *eventQueue {
	return &eventQueue{ctx: ctx, ch: make(chan wifi.Event, size), done: make(chan struct{})}
}

func (q *eventQueue) ConnectionEventAppended(ev wifi.Event) {
	switch ev.Type {
	case wifi.EventConnected, wifi.EventAuthFailed, wifi.EventConnectionFailed:
		select {
		case q.ch <- ev:
		case <-q.ctx.Done():
		case <-q.done:
		}
	default:
		select {
		case q.ch <- ev:
		default:
		}
	}
}

// Close releases any sender still waiting on the queue.
func (q *eventQueue) Close() { close(q.done) }

func runConnect(ctx context.Context, w io.Writer, ssid, passphrase string, wait bool, a *app) error {
	ap, err := a.lookup(ssid)
	if err != nil {
		return err
	}

	if a.sub.IsConnected() && ap.Equal(a.sub.ActiveAccessPoint()) {
		fmt.Fprintf(w, "Already connected to %s\n", ap.SSID())
		return nil
	}

	events := newEventQueue(ctx, 32)
	defer events.Close()
	if wait {
		a.sub.AddEventListener(events)
	}
	if err := a.sub.Connect(ap, passphrase); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if !wait {
		fmt.Fprintf(w, "Connecting to %s\n", ap.SSID())
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events.ch:
			if !ev.AccessPoint.Equal(ap) {
				continue
			}
			switch ev.Type {
			case wifi.EventStartedConnecting:
				fmt.Fprintf(w, "Connecting to %s...\n", ap.SSID())
			case wifi.EventConnected:
				fmt.Fprintf(w, "Connected to %s\n", ap.SSID())
				return nil
			case wifi.EventAuthFailed:
				return fmt.Errorf("authentication failed for %s", ap.SSID())
			case wifi.EventConnectionFailed:
				return fmt.Errorf("connection to %s failed", ap.SSID())
			}
		}
	}
}

func runDisconnect(w io.Writer, a *app) error {
	if err := a.sub.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	fmt.Fprintln(w, "Disconnected")
	return nil
}

func runRescan(w io.Writer, a *app) error {
	if err := a.sub.Rescan(); err != nil {
		return fmt.Errorf("failed to rescan: %w", err)
	}
	fmt.Fprintln(w, "Scan requested")
	return nil
}

func runRadio(w io.Writer, arg string, a *app) error {
	var enabled bool
	switch arg {
	case "":
		on, err := a.sub.WirelessEnabled()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Wireless: %s\n", onOff(on))
		return nil
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("radio expects on or off, got %q", arg)
	}
	if err := a.sub.SetWirelessEnabled(enabled); err != nil {
		return fmt.Errorf("failed to switch wireless %s: %w", arg, err)
	}
	fmt.Fprintf(w, "Wireless: %s\n", onOff(enabled))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func runForget(w io.Writer, ssid string, a *app) error {
	ap, err := a.lookup(ssid)
	if err != nil {
		return err
	}
	if !ap.HasSavedProfile() {
		return fmt.Errorf("%s has no saved profile: %w", ssid, wifi.ErrNotFound)
	}
	if err := a.sub.ForgetNetwork(ap); err != nil {
		return fmt.Errorf("failed to forget network: %w", err)
	}
	fmt.Fprintf(w, "Forgot %s\n", ap.SSID())
	return nil
}

func runShare(w io.Writer, ssid string, a *app) error {
	ap, err := a.lookup(ssid)
	if err != nil {
		return err
	}
	var secret string
	if ap.IsSecured() {
		secret, err = a.sub.Secret(ap)
		if err != nil {
			return fmt.Errorf("failed to get network secret: %w", err)
		}
	}
	level, err := a.cfg.Share.RecoveryLevel()
	if err != nil {
		return err
	}
	code, err := GenerateWifiQRCode(ap.SSID(), secret, ap.Security(), false, level)
	if err != nil {
		return fmt.Errorf("failed to generate qr code: %w", err)
	}
	fmt.Fprint(w, code)
	fmt.Fprintln(w, lipgloss.NewStyle().Foreground(CurrentTheme.Subtle).Render(ap.SSID()))
	return nil
}

// watchPrinter serializes output from worker callbacks, log records and the
// scan schedule.
type watchPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *watchPrinter) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, time.Now().Format("15:04:05")+" "+format+"\n", args...)
}

type watchListener struct {
	out chan<- string
}

func (l watchListener) send(s string) {
	select {
	case l.out <- s:
	default:
	}
}

func (l watchListener) AccessPointAdded(ap *wifi.AccessPoint) {
	l.send(fmt.Sprintf("+ %s (%d%%, %s)", ap.SSID(), ap.Strength(), ap.Security()))
}

func (l watchListener) AccessPointRemoved(ap *wifi.AccessPoint) {
	l.send(fmt.Sprintf("- %s", ap.SSID()))
}

func (l watchListener) SignalStrengthChanged(ap *wifi.AccessPoint) {}

func (l watchListener) ConnectionEventAppended(ev wifi.Event) {
	l.send(lipgloss.NewStyle().Foreground(eventColor(ev.Type)).Render(fmt.Sprintf("* %s", ev)))
}

func eventColor(t wifi.EventType) lipgloss.TerminalColor {
	switch {
	case t == wifi.EventConnected:
		return CurrentTheme.Success
	case t.IsFailure():
		return CurrentTheme.Error
	}
	return CurrentTheme.Primary
}

func runWatch(ctx context.Context, w io.Writer, scan time.Duration, a *app) error {
	p := &watchPrinter{w: w}
	lines := make(chan string, 64)
	logs := make(chan slog.Record, 16)

	l := watchListener{out: lines}
	a.sub.AddAccessPointListener(l)
	a.sub.AddEventListener(l)
	wifilog.SetOutput(logs)
	defer wifilog.SetOutput(nil)

	if a.cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: metricsMux(a.metrics)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "addr", a.cfg.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		p.printf("serving metrics on %s/metrics", a.cfg.MetricsAddr)
	}

	schedule := NewScanSchedule(a.sub.Rescan)
	schedule.SetSchedule(scan)
	go schedule.Run(ctx, func(err error) {
		a.logger.Warn("scheduled rescan failed", "error", err)
	})

	for _, ap := range a.sub.ListAccessPoints() {
		p.printf("  %s\t%s", ap.SSID(), formatAccessPoint(ap, ap.Equal(a.sub.ActiveAccessPoint())))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			p.printf("%s", line)
		case r := <-logs:
			p.printf("%s", lipgloss.NewStyle().Foreground(CurrentTheme.Subtle).Render(fmt.Sprintf("[%s] %s", r.Level, r.Message)))
		}
	}
}

func metricsMux(c *metrics.Collectors) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

func runHistory(w io.Writer, n int, ssid string, j *history.Journal) error {
	var entries []history.Entry
	var err error
	if ssid != "" {
		entries, err = j.ForSSID(ssid, n)
	} else {
		entries, err = j.Recent(n)
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", formatDuration(e.Time), e.Type, e.SSID)
	}
	return nil
}
