package wifi

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shazow/wifimgr/wifi/worker"
)

// Options configures a Subsystem. Zero values select defaults.
type Options struct {
	// Interface pins a device by name. Empty picks the first managed wireless device.
	Interface      string
	ConnectTimeout time.Duration
	RecordLimit    int

	Logger         *slog.Logger
	Metrics        Metrics
	WorkerObserver worker.Observer
	Clock          func() time.Time
}

// Subsystem owns the worker and every component that runs on it.
type Subsystem struct {
	logger   *slog.Logger
	platform Platform
	iface    string

	worker *worker.Worker
	dir    *Directory
	saved  *SavedProfiles
	record *Record
	ctrl   *Controller
	disp   *Dispatcher

	// dev is only touched inside the worker.
	dev Device
	// devName mirrors dev for readers outside the worker.
	devName atomic.Pointer[string]
}

// New wires a Subsystem around platform. Nothing runs until Start.
func New(platform Platform, opts Options) *Subsystem {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	s := &Subsystem{
		logger:   logger,
		platform: platform,
		iface:    opts.Interface,
		worker:   worker.New(logger),
		record:   NewRecord(opts.RecordLimit),
	}
	if opts.WorkerObserver != nil {
		s.worker.SetObserver(opts.WorkerObserver)
	}
	s.saved = NewSavedProfiles(platform, logger)
	s.dir = NewDirectory(logger, s.saved, metrics)
	s.saved.physical = s.dir.Physical

	s.ctrl = &Controller{
		logger:   logger.With("component", "controller"),
		worker:   s.worker,
		platform: platform,
		dir:      s.dir,
		saved:    s.saved,
		record:   s.record,
		metrics:  metrics,
		device:   s.device,
		timeout:  timeout,
		now:      now,
	}
	s.disp = &Dispatcher{
		logger:   logger.With("component", "dispatch"),
		worker:   s.worker,
		platform: platform,
		dir:      s.dir,
		saved:    s.saved,
		record:   s.record,
		ctrl:     s.ctrl,
		device:   s.device,
		reselect: s.selectDevice,
		now:      now,
	}
	return s
}

// Start launches the worker, subscribes to platform notifications and loads
// the initial scan. A missing device is logged, not fatal: a later
// DevicesChanged notification may supply one.
func (s *Subsystem) Start() error {
	if err := s.worker.Start(); err != nil {
		return err
	}
	if err := s.disp.Start(); err != nil {
		s.worker.Stop()
		return fmt.Errorf("subscribing to platform: %w", err)
	}
	return s.worker.RunBlocking(func(ctx *worker.Context) error {
		s.selectDevice(ctx)
		return nil
	})
}

// Stop cancels any attempt, releases every borrowed handle and stops the
// worker. Queued requests are dropped.
func (s *Subsystem) Stop() {
	err := s.worker.RunBlocking(func(ctx *worker.Context) error {
		s.ctrl.Shutdown(ctx)
		s.dir.Clear(ctx)
		s.dir.lender.InvalidateAll(ctx)
		s.dev = nil
		s.devName.Store(nil)
		return nil
	})
	if err != nil {
		s.logger.Debug("stop before start", "error", err)
	}
	s.disp.Stop()
	s.worker.Stop()
}

// Close stops the subsystem and closes the platform.
func (s *Subsystem) Close() error {
	s.Stop()
	return s.platform.Close()
}

func (s *Subsystem) device(_ *worker.Context) Device {
	return s.dev
}

// selectDevice picks the managed wireless device and rescans it.
func (s *Subsystem) selectDevice(ctx *worker.Context) {
	devices, err := s.platform.Devices()
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		return
	}
	var found Device
	for _, d := range devices {
		if !d.IsWireless() || !d.IsManaged() {
			continue
		}
		if s.iface == "" || d.InterfaceName() == s.iface {
			found = d
			break
		}
	}

	if found == nil {
		if s.dev != nil {
			s.logger.Warn("wireless device went away", "interface", s.dev.InterfaceName())
			s.ctrl.Shutdown(ctx)
			s.dir.Clear(ctx)
		}
		s.dev = nil
		s.devName.Store(nil)
		s.logger.Warn("no wireless device", "interface", s.iface, "error", ErrNoManagedDevice)
		return
	}
	if s.dev != nil && s.dev.Key() == found.Key() {
		return
	}
	if s.dev != nil {
		s.ctrl.Shutdown(ctx)
		s.dir.Clear(ctx)
	}
	s.dev = found
	name := found.InterfaceName()
	s.devName.Store(&name)
	s.logger.Info("using wireless device", "interface", found.InterfaceName())

	if err := s.dir.FullRescan(ctx, found); err != nil {
		s.logger.Warn("initial scan failed", "error", err)
	}
	s.disp.activeConnectionChanged(ctx)
}

// Connect starts connecting to ap. secret may be empty for open networks or
// networks with a saved profile. Progress is reported through the event record.
func (s *Subsystem) Connect(ap *AccessPoint, secret string) error {
	return s.ctrl.Connect(ap, secret)
}

// Disconnect cancels any attempt and deactivates the current connection.
func (s *Subsystem) Disconnect() error {
	return s.ctrl.Disconnect()
}

// Rescan asks the device to scan and reloads the directory.
func (s *Subsystem) Rescan() error {
	return s.worker.RunAsync(func(ctx *worker.Context) {
		dev := s.dev
		if dev == nil {
			s.logger.Warn("rescan without a device", "error", ErrNoManagedDevice)
			return
		}
		if err := dev.RequestScan(); err != nil {
			s.logger.Warn("scan request failed", "error", err)
		}
		if err := s.dir.FullRescan(ctx, dev); err != nil {
			s.logger.Warn("rescan failed", "error", err)
			return
		}
		s.ctrl.CandidatesChanged(ctx)
	})
}

// WirelessEnabled reports the radio switch.
func (s *Subsystem) WirelessEnabled() (bool, error) {
	return worker.Call(s.worker, func(*worker.Context) (bool, error) {
		return s.platform.WirelessEnabled()
	})
}

// SetWirelessEnabled flips the radio switch. The resulting notification
// updates the directory.
func (s *Subsystem) SetWirelessEnabled(enabled bool) error {
	return s.worker.RunBlocking(func(*worker.Context) error {
		return s.platform.SetWirelessEnabled(enabled)
	})
}

// ForgetNetwork deletes every saved profile for ap.
func (s *Subsystem) ForgetNetwork(ap *AccessPoint) error {
	if ap == nil {
		return ErrNullAccessPoint
	}
	return s.worker.RunBlocking(func(ctx *worker.Context) error {
		return s.saved.DeleteProfilesFor(ctx, ap)
	})
}

// Recheck reloads saved profiles and refreshes every access point's metadata.
func (s *Subsystem) Recheck() error {
	return s.worker.RunAsync(func(ctx *worker.Context) {
		s.saved.Invalidate(ctx)
		s.dir.RefreshMetadata(ctx)
	})
}

// Secret returns the stored key for ap.
func (s *Subsystem) Secret(ap *AccessPoint) (string, error) {
	if ap == nil {
		return "", ErrNullAccessPoint
	}
	return worker.Call(s.worker, func(ctx *worker.Context) (string, error) {
		return s.saved.Secret(ctx, ap)
	})
}

// ListAccessPoints returns the visible networks, the active one first. It is
// empty while the worker is not running.
func (s *Subsystem) ListAccessPoints() []*AccessPoint {
	if !s.worker.Running() {
		return nil
	}
	return s.dir.List(s.record.ActiveAccessPoint())
}

// AccessPoint returns the network with hash h, visible or not.
func (s *Subsystem) AccessPoint(h Hash) *AccessPoint {
	return s.dir.Get(h)
}

// FindBySSID returns the visible networks named ssid.
func (s *Subsystem) FindBySSID(ssid string) []*AccessPoint {
	return s.dir.FindBySSID(ssid)
}

func (s *Subsystem) IsConnected() bool                { return s.record.IsConnected() }
func (s *Subsystem) IsConnecting() bool               { return s.record.IsConnecting() }
func (s *Subsystem) ActiveAccessPoint() *AccessPoint  { return s.record.ActiveAccessPoint() }
func (s *Subsystem) LatestEvent() Event               { return s.record.Newest() }
func (s *Subsystem) Events() []Event                  { return s.record.Events() }
func (s *Subsystem) ControllerState() ControllerState { return s.ctrl.State() }

// DeviceInterface is the selected device's interface name, or empty.
func (s *Subsystem) DeviceInterface() string {
	if name := s.devName.Load(); name != nil {
		return *name
	}
	return ""
}

// AddAccessPointListener registers l for directory changes. Listeners run on
// the worker and must not block.
func (s *Subsystem) AddAccessPointListener(l AccessPointListener) {
	s.dir.AddListener(l)
}

// AddEventListener registers l for record appends. Listeners must not block.
func (s *Subsystem) AddEventListener(l EventListener) {
	s.record.AddListener(l)
}
