package wifi

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shazow/wifimgr/wifi/worker"
)

// DefaultConnectTimeout bounds each stage of a connection attempt.
const DefaultConnectTimeout = 300 * time.Second

// ControllerState is the stage of the connection state machine.
type ControllerState int32

const (
	StateIdle ControllerState = iota
	StateBuildingCandidates
	StateActivating
	StateWaitingOnScan
	StateCancelled
	StateExhausted
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingCandidates:
		return "building-candidates"
	case StateActivating:
		return "activating"
	case StateWaitingOnScan:
		return "waiting-on-scan"
	case StateCancelled:
		return "cancelled"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// attempt is the transient state of one connect request.
type attempt struct {
	target *AccessPoint
	secret string

	candidates []*PhysicalAccessPoint
	next       int
	current    *PhysicalAccessPoint

	profiles    []Profile
	nextProfile int
	triedNew    bool

	tried      map[string]bool
	usedSecret bool

	// requestID is the in-flight activation, 0 when none.
	requestID   uint64
	newProfile  bool
	preexisting map[string]bool
	active      ActiveConnection

	timer *worker.Timer
}

// Controller establishes connections by trying each radio of the target
// network, strongest first, with each matching saved profile and finally a new
// profile.
type Controller struct {
	logger   *slog.Logger
	worker   *worker.Worker
	platform Platform
	dir      *Directory
	saved    *SavedProfiles
	record   *Record
	metrics  Metrics
	device   func(*worker.Context) Device
	timeout  time.Duration
	now      func() time.Time

	state atomic.Int32

	// Fields below are only touched inside the worker.
	attempt   *attempt
	requestID uint64
}

// State returns the current stage. Safe from any goroutine.
func (c *Controller) State() ControllerState {
	return ControllerState(c.state.Load())
}

// InProgress reports whether an attempt is active.
func (c *Controller) InProgress(_ *worker.Context) bool {
	return c.attempt != nil
}

// Connect validates the request and starts an attempt on the worker. A secret
// is required for secured networks without a saved profile.
func (c *Controller) Connect(target *AccessPoint, secret string) error {
	if target == nil {
		return ErrNullAccessPoint
	}
	if target.IsSecured() && (secret != "" || !target.HasSavedProfile()) {
		if err := ValidateSecret(target.Security(), secret); err != nil {
			return fmt.Errorf("connecting to %q: %w", target.SSID(), err)
		}
	}
	err := c.worker.RunAsync(func(ctx *worker.Context) {
		c.begin(ctx, target, secret)
	})
	if err != nil {
		c.logger.Warn("dropping connect request", "ssid", target.SSID(), "error", err)
		return err
	}
	return nil
}

// Disconnect abandons any attempt and deactivates the current connection. The
// resulting disconnected event is recorded by the dispatcher.
func (c *Controller) Disconnect() error {
	err := c.worker.RunAsync(func(ctx *worker.Context) {
		if c.attempt != nil {
			c.finish(ctx, EventConnectionFailed, StateCancelled, "disconnect requested")
		}
		c.deactivateCurrent(ctx)
	})
	if err != nil {
		c.logger.Warn("dropping disconnect request", "error", err)
	}
	return err
}

func (c *Controller) begin(ctx *worker.Context, target *AccessPoint, secret string) {
	if c.attempt != nil && c.attempt.target.Equal(target) {
		c.logger.Debug("already connecting", "ssid", target.SSID())
		return
	}
	active := c.record.ActiveAccessPoint()
	if active.Equal(target) && (c.record.IsConnected() || c.record.IsConnecting()) {
		c.logger.Debug("already connected or connecting", "ssid", target.SSID())
		return
	}
	connectedElsewhere := c.record.IsConnected() && active != nil

	if c.attempt != nil {
		c.finish(ctx, EventConnectionFailed, StateCancelled, "superseded by "+target.SSID())
	}

	a := &attempt{
		target: target,
		secret: secret,
		tried:  make(map[string]bool),
	}
	c.attempt = a
	c.metrics.AttemptStarted()
	c.record.Append(Event{AccessPoint: target, Type: EventRequested, Time: c.now()})
	c.transition(ctx, StateBuildingCandidates)
	c.logger.Info("connecting", "ssid", target.SSID(), "security", target.Security())

	if enabled, err := c.platform.WirelessEnabled(); err == nil && !enabled {
		c.finish(ctx, EventConnectionFailed, StateCancelled, "wireless is disabled")
		return
	}
	if connectedElsewhere {
		c.logger.Debug("closing previous connection", "ssid", active.SSID())
		c.deactivateCurrent(ctx)
	}

	a.candidates = c.dir.Physical(ctx, target.Hash())
	if len(a.candidates) == 0 {
		c.transition(ctx, StateWaitingOnScan)
		c.logger.Info("no visible radios, scan requested", "ssid", target.SSID())
		if dev := c.device(ctx); dev != nil {
			if err := dev.RequestScan(); err != nil {
				c.logger.Warn("scan request failed", "error", err)
			}
		}
		return
	}
	c.logger.Debug("candidates found", "ssid", target.SSID(), "count", len(a.candidates))
	c.advance(ctx)
}

// advance issues the next activation, or ends the attempt when nothing is left.
func (c *Controller) advance(ctx *worker.Context) {
	a := c.attempt
	for a != nil && c.attempt == a && a.requestID == 0 {
		if a.current == nil && !c.nextCandidate(ctx, a) {
			c.exhaust(ctx)
			return
		}
		if a.nextProfile < len(a.profiles) {
			p := a.profiles[a.nextProfile]
			a.nextProfile++
			c.activate(ctx, a, p, ProfileSettings{})
			continue
		}
		if !a.triedNew {
			a.triedNew = true
			if settings, ok := c.newSettings(ctx, a); ok {
				c.activate(ctx, a, nil, settings)
				continue
			}
		}
		a.current = nil
	}
}

func (c *Controller) nextCandidate(ctx *worker.Context, a *attempt) bool {
	for a.next < len(a.candidates) {
		p := a.candidates[a.next]
		a.next++
		if p.IsNull() || a.tried[triedKey(p)] {
			continue
		}
		a.current = p
		a.profiles = c.saved.Matching(ctx, p)
		a.nextProfile = 0
		a.triedNew = false
		return true
	}
	return false
}

func (c *Controller) newSettings(ctx *worker.Context, a *attempt) (ProfileSettings, bool) {
	if a.target.IsSecured() && a.secret == "" {
		return ProfileSettings{}, false
	}
	s := NewProfileSettings(a.target, a.secret)
	if dev := c.device(ctx); dev != nil {
		s.InterfaceName = dev.InterfaceName()
	}
	return s, true
}

// activate requests one activation. On a synchronous failure the attempt is
// left ready for advance to try the next option.
func (c *Controller) activate(ctx *worker.Context, a *attempt, profile Profile, settings ProfileSettings) {
	dev := c.device(ctx)
	if dev == nil {
		c.finish(ctx, EventConnectionFailed, StateCancelled, ErrNoManagedDevice.Error())
		return
	}
	native, ok := a.current.Native(ctx)
	if !ok {
		a.current = nil
		return
	}

	isNew := profile == nil
	verify := settings
	if !isNew {
		verify = profile.Settings()
	}
	if err := verify.Verify(); err != nil {
		c.logger.Warn("activation verify warning", "ssid", a.target.SSID(), "error", err)
	}
	if isNew {
		a.preexisting = c.saved.Keys(ctx)
	}
	a.tried[triedKey(a.current)] = true
	if a.target.IsSecured() && (!isNew || settings.Secret != "") {
		a.usedSecret = true
	}

	c.requestID++
	req := ActivationRequest{
		ID:          c.requestID,
		Device:      dev,
		AccessPoint: native,
		Profile:     profile,
		Settings:    settings,
	}
	a.requestID = req.ID
	a.newProfile = isNew
	c.metrics.ActivationRequested(isNew)
	c.transition(ctx, StateActivating)
	c.logger.Debug("activating",
		"ssid", a.target.SSID(),
		"bssid", a.current.BSSID(),
		"request", req.ID,
		"new_profile", isNew,
	)

	if err := c.platform.Activate(req); err != nil {
		c.logger.Info("activation request failed", "ssid", a.target.SSID(), "request", req.ID, "error", err)
		c.failed(ctx, a)
	}
}

// HandleActivation applies a platform result. Results for requests other than
// the in-flight one are stale and ignored.
func (c *Controller) HandleActivation(ctx *worker.Context, p ActivationProgress) {
	a := c.attempt
	if a == nil || a.requestID == 0 || p.RequestID != a.requestID {
		c.logger.Debug("ignoring stale activation result", "request", p.RequestID, "stage", p.Stage)
		return
	}
	switch p.Stage {
	case StageActivating:
		if p.Active != nil {
			a.active = p.Active
		}
		c.record.Append(Event{AccessPoint: a.target, Type: EventStartedConnecting, Time: c.now()})
	case StageActivated:
		c.succeed(ctx)
	case StageFailed:
		c.logger.Info("activation failed",
			"ssid", a.target.SSID(),
			"bssid", a.current.BSSID(),
			"auth", p.AuthFailure,
			"error", p.Err,
		)
		c.failed(ctx, a)
		c.advance(ctx)
	}
}

// DeviceEvent offers a device-level event to the running attempt. It reports
// whether the attempt consumed it. Failure events are left to request-scoped
// activation results.
func (c *Controller) DeviceEvent(ctx *worker.Context, ev Event) bool {
	a := c.attempt
	if a == nil {
		return false
	}
	if !ev.AccessPoint.Equal(a.target) {
		c.logger.Debug("ignoring device event during attempt", "event", ev)
		return true
	}
	switch ev.Type {
	case EventStartedConnecting:
		if a.requestID != 0 {
			c.record.Append(ev)
		}
	case EventConnected:
		c.succeed(ctx)
	default:
		c.logger.Debug("ignoring device event during attempt", "event", ev)
	}
	return true
}

// CandidatesChanged adds newly visible radios of the target to the attempt.
func (c *Controller) CandidatesChanged(ctx *worker.Context) {
	a := c.attempt
	if a == nil {
		return
	}
	known := make(map[*PhysicalAccessPoint]bool, len(a.candidates))
	for _, p := range a.candidates {
		known[p] = true
	}
	added := 0
	for _, p := range c.dir.Physical(ctx, a.target.Hash()) {
		if known[p] || a.tried[triedKey(p)] {
			continue
		}
		a.candidates = append(a.candidates, p)
		added++
	}
	if added == 0 {
		return
	}
	c.logger.Debug("new candidates", "ssid", a.target.SSID(), "count", added)
	if c.State() == StateWaitingOnScan {
		c.transition(ctx, StateBuildingCandidates)
	}
	c.advance(ctx)
}

// WirelessDisabled ends the attempt.
func (c *Controller) WirelessDisabled(ctx *worker.Context) {
	if c.attempt != nil {
		c.finish(ctx, EventConnectionFailed, StateCancelled, "wireless disabled")
	}
}

// Shutdown ends the attempt before teardown.
func (c *Controller) Shutdown(ctx *worker.Context) {
	if c.attempt != nil {
		c.finish(ctx, EventConnectionFailed, StateCancelled, "shutting down")
	}
}

func (c *Controller) succeed(ctx *worker.Context) {
	a := c.attempt
	now := c.now()
	c.record.Append(Event{AccessPoint: a.target, Type: EventConnected, Time: now})
	if a.newProfile {
		c.saved.Invalidate(ctx)
	}
	c.saved.RefreshAPMetadata(ctx, a.target)
	a.target.touchLastConnected(now)
	c.logger.Info("connected", "ssid", a.target.SSID())
	c.end(EventConnected, StateIdle)
}

// failed cleans up after one unsuccessful activation.
func (c *Controller) failed(ctx *worker.Context, a *attempt) {
	if a.newProfile && a.preexisting != nil {
		if err := c.saved.DeleteNewProfiles(ctx, a.target, a.preexisting); err != nil {
			c.logger.Warn("failed to delete new profile", "ssid", a.target.SSID(), "error", err)
		}
	}
	a.requestID = 0
	a.newProfile = false
	a.preexisting = nil
	a.active = nil
}

func (c *Controller) exhaust(ctx *worker.Context) {
	a := c.attempt
	outcome := EventConnectionFailed
	if a.target.IsSecured() && a.usedSecret {
		outcome = EventAuthFailed
	}
	c.finish(ctx, outcome, StateExhausted, "all candidates failed")
}

// finish ends the attempt with a terminal failure event.
func (c *Controller) finish(ctx *worker.Context, outcome EventType, terminal ControllerState, reason string) {
	a := c.attempt
	if a == nil {
		return
	}
	if a.requestID != 0 {
		if a.active != nil {
			if err := c.platform.Deactivate(a.active); err != nil {
				c.logger.Debug("failed to deactivate abandoned activation", "error", err)
			}
		}
		c.failed(ctx, a)
	}
	c.record.Append(Event{AccessPoint: a.target, Type: outcome, Time: c.now()})
	c.logger.Info("connection attempt ended", "ssid", a.target.SSID(), "outcome", outcome, "reason", reason)
	c.end(outcome, terminal)
}

func (c *Controller) end(outcome EventType, terminal ControllerState) {
	a := c.attempt
	a.timer.Stop()
	c.attempt = nil
	c.metrics.AttemptFinished(outcome)
	c.logger.Debug("attempt finished", "state", terminal, "outcome", outcome)
	c.state.Store(int32(StateIdle))
}

// transition moves to s and rearms the deadline.
func (c *Controller) transition(ctx *worker.Context, s ControllerState) {
	a := c.attempt
	c.state.Store(int32(s))
	a.timer.Stop()
	a.timer = ctx.AfterFunc(c.timeout, func(ctx *worker.Context) {
		if c.attempt != a {
			return
		}
		c.logger.Warn("connection attempt timed out", "ssid", a.target.SSID(), "state", c.State())
		c.finish(ctx, EventConnectionFailed, StateCancelled, "timed out")
	})
}

func (c *Controller) deactivateCurrent(ctx *worker.Context) {
	dev := c.device(ctx)
	if dev == nil {
		return
	}
	active, err := dev.ActiveConnection()
	if err != nil {
		c.logger.Warn("failed to read active connection", "error", err)
		return
	}
	if active == nil {
		return
	}
	if err := c.platform.Deactivate(active); err != nil {
		c.logger.Warn("deactivate failed, disconnecting device", "error", err)
		if err := dev.Disconnect(); err != nil {
			c.logger.Warn("disconnect failed", "error", err)
		}
	}
}

func triedKey(p *PhysicalAccessPoint) string {
	if b := p.BSSID(); b != "" {
		return b
	}
	return p.Key()
}
