//go:build linux

// Package networkmanager implements wifi.Platform on top of the
// NetworkManager D-Bus API.
package networkmanager

import (
	"errors"
	"fmt"
	"time"

	gonetworkmanager "github.com/Wifx/gonetworkmanager/v3"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/shazow/wifimgr/wifi"
)

var errAlreadySubscribed = errors.New("networkmanager: already subscribed")

// Platform talks to NetworkManager over the system bus.
type Platform struct {
	NM       gonetworkmanager.NetworkManager
	Settings gonetworkmanager.Settings

	// bus is only used for signal subscriptions.
	bus     *dbus.Conn
	router  *router
	signals chan *dbus.Signal
	matches [][]dbus.MatchOption
	stop    chan struct{}
	done    chan struct{}
}

var _ wifi.Platform = (*Platform)(nil)

// New connects to NetworkManager.
func New() (*Platform, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create network manager client: %w", wifi.ErrNotAvailable)
	}

	settings, err := gonetworkmanager.NewSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", wifi.ErrOperationFailed)
	}

	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", wifi.ErrNotAvailable)
	}

	p := &Platform{
		NM:       nm,
		Settings: settings,
		bus:      bus,
	}
	p.router = newRouter(p.lookupAccessPoint)
	return p, nil
}

func (p *Platform) Devices() ([]wifi.Device, error) {
	devices, err := p.NM.GetDevices()
	if err != nil {
		return nil, err
	}
	out := make([]wifi.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, &device{d: d})
	}
	return out, nil
}

func (p *Platform) WirelessEnabled() (bool, error) {
	return p.NM.GetPropertyWirelessEnabled()
}

// SetWirelessEnabled enables or disables the wireless radio. The change is
// observed through the WirelessEnabled property signal.
func (p *Platform) SetWirelessEnabled(enabled bool) error {
	return p.NM.SetPropertyWirelessEnabled(enabled)
}

func (p *Platform) SavedProfiles() ([]wifi.Profile, error) {
	conns, err := p.Settings.ListConnections()
	if err != nil {
		return nil, err
	}
	var out []wifi.Profile
	for _, c := range conns {
		s, err := c.GetSettings()
		if err != nil {
			continue
		}
		settings, ok := parseProfileSettings(s)
		if !ok {
			continue
		}
		out = append(out, &profile{
			conn:     c,
			settings: settings,
			last:     lastConnected(s),
		})
	}
	return out, nil
}

func (p *Platform) Activate(req wifi.ActivationRequest) error {
	dev, ok := req.Device.(*device)
	if !ok {
		return fmt.Errorf("foreign device: %w", wifi.ErrNotSupported)
	}
	ap, ok := req.AccessPoint.(*accessPoint)
	if !ok {
		return fmt.Errorf("foreign access point: %w", wifi.ErrNotSupported)
	}

	return p.router.activate(req.ID, func() (dbus.ObjectPath, wifi.ActiveConnection, uint32, error) {
		var ac gonetworkmanager.ActiveConnection
		var err error
		if req.Profile != nil {
			prof, ok := req.Profile.(*profile)
			if !ok {
				return "", nil, 0, fmt.Errorf("foreign profile: %w", wifi.ErrNotSupported)
			}
			ac, err = p.NM.ActivateWirelessConnection(prof.conn, dev.d, ap.ap)
		} else {
			settings := newConnectionSettings(req.Settings, uuid.New().String())
			ac, err = p.NM.AddAndActivateWirelessConnection(settings, dev.d, ap.ap)
		}
		if err != nil {
			return "", nil, 0, fmt.Errorf("activating %q: %w", req.AccessPoint.SSID(), err)
		}
		state, err := ac.GetPropertyState()
		if err != nil {
			state = gonetworkmanager.NmActiveConnectionStateActivating
		}
		return ac.GetPath(), &activeConnection{ac: ac}, uint32(state), nil
	})
}

func (p *Platform) Deactivate(active wifi.ActiveConnection) error {
	ac, ok := active.(*activeConnection)
	if !ok {
		return fmt.Errorf("foreign active connection: %w", wifi.ErrNotSupported)
	}
	return p.NM.DeactivateConnection(ac.ac)
}

// Subscribe adds match rules for the NetworkManager signals and starts
// translating them.
func (p *Platform) Subscribe(ch chan<- wifi.Notification) error {
	if !p.router.start(ch) {
		return errAlreadySubscribed
	}

	p.matches = [][]dbus.MatchOption{
		{dbus.WithMatchSender(nmDest), dbus.WithMatchInterface(nmIface)},
		{dbus.WithMatchSender(nmDest), dbus.WithMatchInterface(nmDeviceIface)},
		{dbus.WithMatchSender(nmDest), dbus.WithMatchInterface(nmWirelessIface)},
		{dbus.WithMatchSender(nmDest), dbus.WithMatchInterface(nmActiveIface)},
		{dbus.WithMatchSender(nmDest), dbus.WithMatchInterface(nmSettingsIface)},
		{dbus.WithMatchSender(nmDest), dbus.WithMatchInterface(nmConnectionIface)},
		{dbus.WithMatchSender(nmDest), dbus.WithMatchInterface(dbusPropertiesIface), dbus.WithMatchPathNamespace(nmPath)},
	}
	for _, m := range p.matches {
		if err := p.bus.AddMatchSignal(m...); err != nil {
			p.removeMatches()
			p.router.halt()
			return fmt.Errorf("adding signal match: %w", err)
		}
	}

	p.signals = make(chan *dbus.Signal, 64)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.bus.Signal(p.signals)
	go p.listen(p.signals, p.stop, p.done)
	return nil
}

func (p *Platform) listen(signals <-chan *dbus.Signal, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			p.router.handle(sig)
		case <-stop:
			return
		}
	}
}

func (p *Platform) Unsubscribe() {
	if p.stop == nil {
		return
	}
	p.bus.RemoveSignal(p.signals)
	p.removeMatches()
	close(p.stop)
	<-p.done
	p.stop, p.done, p.signals = nil, nil, nil
	p.router.halt()
}

func (p *Platform) removeMatches() {
	for _, m := range p.matches {
		_ = p.bus.RemoveMatchSignal(m...)
	}
	p.matches = nil
}

// Close stops notifications. The shared system bus connection stays open.
func (p *Platform) Close() error {
	p.Unsubscribe()
	return nil
}

func (p *Platform) lookupAccessPoint(path dbus.ObjectPath) (wifi.NativeAccessPoint, error) {
	ap, err := gonetworkmanager.NewAccessPoint(path)
	if err != nil {
		return nil, err
	}
	return newAccessPoint(ap)
}

// device adapts a NetworkManager device.
type device struct {
	d gonetworkmanager.Device
}

func (d *device) Key() string { return string(d.d.GetPath()) }

func (d *device) InterfaceName() string {
	name, _ := d.d.GetPropertyInterface()
	return name
}

func (d *device) IsManaged() bool {
	managed, err := d.d.GetPropertyManaged()
	return err == nil && managed
}

func (d *device) IsWireless() bool {
	t, err := d.d.GetPropertyDeviceType()
	return err == nil && t == gonetworkmanager.NmDeviceTypeWifi
}

func (d *device) wireless() (gonetworkmanager.DeviceWireless, error) {
	if w, ok := d.d.(gonetworkmanager.DeviceWireless); ok {
		return w, nil
	}
	if !d.IsWireless() {
		return nil, fmt.Errorf("device %s is not wireless: %w", d.Key(), wifi.ErrNotSupported)
	}
	return gonetworkmanager.NewDeviceWireless(d.d.GetPath())
}

func (d *device) AccessPoints() ([]wifi.NativeAccessPoint, error) {
	w, err := d.wireless()
	if err != nil {
		return nil, err
	}
	aps, err := w.GetAccessPoints()
	if err != nil {
		return nil, err
	}
	out := make([]wifi.NativeAccessPoint, 0, len(aps))
	for _, ap := range aps {
		n, err := newAccessPoint(ap)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (d *device) RequestScan() error {
	w, err := d.wireless()
	if err != nil {
		return err
	}
	return w.RequestScan()
}

func (d *device) Disconnect() error {
	return d.d.Disconnect()
}

func (d *device) ActiveConnection() (wifi.ActiveConnection, error) {
	ac, err := d.d.GetPropertyActiveConnection()
	if err != nil {
		return nil, err
	}
	if ac == nil || ac.GetPath() == "/" {
		return nil, nil
	}
	return &activeConnection{ac: ac}, nil
}

func (d *device) ActiveAccessPoint() (wifi.NativeAccessPoint, error) {
	w, err := d.wireless()
	if err != nil {
		return nil, err
	}
	ap, err := w.GetPropertyActiveAccessPoint()
	if err != nil {
		return nil, err
	}
	if ap == nil || ap.GetPath() == "/" {
		return nil, nil
	}
	return newAccessPoint(ap)
}

// accessPoint caches the immutable properties of a radio. Strength is read live.
type accessPoint struct {
	ap        gonetworkmanager.AccessPoint
	ssid      []byte
	bssid     string
	mode      wifi.Mode
	security  wifi.SecurityType
	frequency uint
}

func newAccessPoint(ap gonetworkmanager.AccessPoint) (*accessPoint, error) {
	ssid, err := ap.GetPropertySSID()
	if err != nil {
		return nil, err
	}
	bssid, _ := ap.GetPropertyHWAddress()
	mode, _ := ap.GetPropertyMode()
	flags, _ := ap.GetPropertyFlags()
	wpaFlags, _ := ap.GetPropertyWPAFlags()
	rsnFlags, _ := ap.GetPropertyRSNFlags()
	freq, _ := ap.GetPropertyFrequency()
	return &accessPoint{
		ap:        ap,
		ssid:      []byte(ssid),
		bssid:     bssid,
		mode:      modeFromNM(uint32(mode)),
		security:  securityFromFlags(uint32(flags), uint32(wpaFlags), uint32(rsnFlags)),
		frequency: uint(freq),
	}, nil
}

func (a *accessPoint) Key() string                 { return string(a.ap.GetPath()) }
func (a *accessPoint) SSID() []byte                { return a.ssid }
func (a *accessPoint) BSSID() string               { return a.bssid }
func (a *accessPoint) Mode() wifi.Mode             { return a.mode }
func (a *accessPoint) Security() wifi.SecurityType { return a.security }
func (a *accessPoint) Frequency() uint             { return a.frequency }

func (a *accessPoint) Strength() uint8 {
	s, _ := a.ap.GetPropertyStrength()
	return s
}

// profile is a saved NetworkManager connection.
type profile struct {
	conn     gonetworkmanager.Connection
	settings wifi.ProfileSettings
	last     time.Time
}

func (p *profile) Key() string                    { return string(p.conn.GetPath()) }
func (p *profile) ID() string                     { return p.settings.ID }
func (p *profile) Settings() wifi.ProfileSettings { return p.settings }
func (p *profile) LastConnected() time.Time       { return p.last }
func (p *profile) Delete() error                  { return p.conn.Delete() }

func (p *profile) Matches(ap wifi.NativeAccessPoint) bool {
	return p.settings.Compatible(ap)
}

func (p *profile) Secret() (string, error) {
	if p.settings.Security == wifi.SecurityOpen {
		return "", nil
	}
	secrets, err := p.conn.GetSecrets(settingSecurity)
	if err != nil {
		return "", fmt.Errorf("failed to get secrets: %w", wifi.ErrOperationFailed)
	}
	return secretFrom(secrets), nil
}

// activeConnection adapts a NetworkManager active connection.
type activeConnection struct {
	ac gonetworkmanager.ActiveConnection
}

func (a *activeConnection) Key() string { return string(a.ac.GetPath()) }

func (a *activeConnection) ID() string {
	id, _ := a.ac.GetPropertyID()
	return id
}

func (a *activeConnection) State() (wifi.ActiveState, error) {
	s, err := a.ac.GetPropertyState()
	if err != nil {
		return wifi.ActiveUnknown, err
	}
	return activeState(uint32(s)), nil
}
