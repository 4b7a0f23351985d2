package wifi

import (
	"log/slog"
	"time"

	"github.com/shazow/wifimgr/wifi/worker"
)

// notificationBuffer sizes the channel the platform publishes on.
const notificationBuffer = 64

// Dispatcher moves platform notifications onto the worker, one task per
// notification in arrival order, and routes them to the directory, record and
// controller.
type Dispatcher struct {
	logger   *slog.Logger
	worker   *worker.Worker
	platform Platform
	dir      *Directory
	saved    *SavedProfiles
	record   *Record
	ctrl     *Controller
	device   func(*worker.Context) Device
	reselect func(*worker.Context)
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// Start subscribes to the platform and begins forwarding.
func (d *Dispatcher) Start() error {
	ch := make(chan Notification, notificationBuffer)
	if err := d.platform.Subscribe(ch); err != nil {
		return err
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(ch, d.stop, d.done)
	return nil
}

// Stop unsubscribes and waits for the forwarding goroutine to exit.
func (d *Dispatcher) Stop() {
	if d.stop == nil {
		return
	}
	d.platform.Unsubscribe()
	close(d.stop)
	<-d.done
	d.stop = nil
}

func (d *Dispatcher) run(ch <-chan Notification, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case n := <-ch:
			err := d.worker.RunAsync(func(ctx *worker.Context) {
				d.Handle(ctx, n)
			})
			if err != nil {
				d.logger.Debug("dropping notification", "notification", n, "error", err)
			}
		case <-stop:
			return
		}
	}
}

// Handle processes one notification to completion.
func (d *Dispatcher) Handle(ctx *worker.Context, n Notification) {
	switch n := n.(type) {
	case AccessPointAdded:
		if !d.forDevice(ctx, n.DeviceKey) {
			return
		}
		if d.dir.AddPhysical(ctx, n.AccessPoint) != nil {
			d.ctrl.CandidatesChanged(ctx)
		}
	case AccessPointRemoved:
		if d.forDevice(ctx, n.DeviceKey) {
			d.dir.RemovePhysical(ctx, n.Key)
		}
	case AccessPointStrengthChanged:
		d.dir.UpdateStrength(ctx, n.Key)
	case DeviceStateChanged:
		if d.forDevice(ctx, n.DeviceKey) {
			d.deviceStateChanged(ctx, n)
		}
	case ActiveConnectionChanged:
		if d.forDevice(ctx, n.DeviceKey) {
			d.activeConnectionChanged(ctx)
		}
	case WirelessEnabledChanged:
		d.wirelessEnabledChanged(ctx, n.Enabled)
	case ProfilesChanged:
		d.saved.Invalidate(ctx)
		d.dir.RefreshMetadata(ctx)
	case DevicesChanged:
		d.reselect(ctx)
	case ActivationProgress:
		d.ctrl.HandleActivation(ctx, n)
	default:
		d.logger.Warn("unknown notification", "notification", n)
	}
}

func (d *Dispatcher) forDevice(ctx *worker.Context, key string) bool {
	dev := d.device(ctx)
	return dev != nil && (key == "" || dev.Key() == key)
}

// eventForDeviceState maps a device transition to a record event, or EventNone.
func eventForDeviceState(n DeviceStateChanged) EventType {
	switch n.New {
	case DeviceStateActivated:
		return EventConnected
	case DeviceStatePrepare, DeviceStateConfig, DeviceStateNeedAuth,
		DeviceStateIPConfig, DeviceStateIPCheck, DeviceStateSecondaries:
		return EventStartedConnecting
	case DeviceStateFailed:
		if n.Reason == StateReasonNoSecrets {
			return EventAuthFailed
		}
		return EventConnectionFailed
	case DeviceStateDisconnected:
		switch n.Old {
		case DeviceStateDeactivating:
			return EventDisconnected
		case DeviceStateFailed, DeviceStateDisconnected, DeviceStateUnavailable, DeviceStateUnmanaged, DeviceStateUnknown:
			return EventNone
		}
		return EventConnectionFailed
	}
	return EventNone
}

func (d *Dispatcher) deviceStateChanged(ctx *worker.Context, n DeviceStateChanged) {
	t := eventForDeviceState(n)
	if t == EventNone {
		return
	}
	d.deliver(ctx, Event{AccessPoint: d.activeAccessPoint(ctx), Type: t, Time: d.now()})
}

func (d *Dispatcher) activeConnectionChanged(ctx *worker.Context) {
	dev := d.device(ctx)
	active, err := dev.ActiveConnection()
	if err != nil {
		d.logger.Warn("failed to read active connection", "error", err)
		return
	}
	now := d.now()
	if active == nil {
		// A failed attempt tears down its activation after the outcome is
		// recorded; only a live connection can be disconnected.
		if d.ctrl.InProgress(ctx) || !d.isLive() {
			return
		}
		ap := d.record.ActiveAccessPoint()
		if d.record.IsConnected() {
			ap.touchLastConnected(now)
		}
		d.record.Append(Event{AccessPoint: ap, Type: EventDisconnected, Time: now})
		return
	}

	state, err := active.State()
	if err != nil {
		d.logger.Warn("failed to read active connection state", "error", err)
		return
	}
	ap := d.activeAccessPoint(ctx)
	switch state {
	case ActiveActivating:
		d.deliver(ctx, Event{AccessPoint: ap, Type: EventStartedConnecting, Time: now})
	case ActiveActivated:
		if ap != nil {
			d.saved.RefreshAPMetadata(ctx, ap)
			ap.touchLastConnected(now)
		}
		d.deliver(ctx, Event{AccessPoint: ap, Type: EventConnected, Time: now})
	}
}

func (d *Dispatcher) wirelessEnabledChanged(ctx *worker.Context, enabled bool) {
	if enabled {
		d.logger.Info("wireless enabled")
		if dev := d.device(ctx); dev != nil {
			if err := d.dir.FullRescan(ctx, dev); err != nil {
				d.logger.Warn("rescan failed", "error", err)
			}
		}
		return
	}
	d.logger.Info("wireless disabled")
	d.ctrl.WirelessDisabled(ctx)
	if ap := d.record.ActiveAccessPoint(); ap != nil && d.isLive() {
		d.record.Append(Event{AccessPoint: ap, Type: EventDisconnected, Time: d.now()})
	}
	d.dir.Clear(ctx)
}

// deliver hands ev to the running attempt, or records it directly.
func (d *Dispatcher) deliver(ctx *worker.Context, ev Event) {
	if ev.AccessPoint == nil {
		return
	}
	if d.ctrl.DeviceEvent(ctx, ev) {
		return
	}
	if ev.Type == EventDisconnected && !d.isLive() {
		return
	}
	d.record.Append(ev)
}

// isLive reports whether the record shows a connection or a connection in progress.
func (d *Dispatcher) isLive() bool {
	return d.record.IsConnected() || d.record.IsConnecting()
}

// activeAccessPoint resolves the device's current radio, falling back to the
// record's active access point.
func (d *Dispatcher) activeAccessPoint(ctx *worker.Context) *AccessPoint {
	if dev := d.device(ctx); dev != nil {
		n, err := dev.ActiveAccessPoint()
		if err != nil {
			d.logger.Debug("failed to read active access point", "error", err)
		} else if ap := d.dir.Resolve(ctx, n); ap != nil {
			return ap
		}
	}
	return d.record.ActiveAccessPoint()
}
