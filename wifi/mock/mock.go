// Package mock is an in-memory wifi.Platform with scriptable activation
// outcomes. It backs the mock build of the CLI and the subsystem tests.
package mock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shazow/wifimgr/wifi"
)

// DefaultActionDelay is how long an activation takes to resolve, to better
// emulate a real daemon for the CLI. Set to 0 during testing.
var DefaultActionDelay = 500 * time.Millisecond

// Outcome is the scripted result of an activation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthFailure
	OutcomeFailure
)

var errAlreadySubscribed = errors.New("mock: already subscribed")

// Radio is one mock access point.
type Radio struct {
	key       string
	ssid      []byte
	bssid     string
	mode      wifi.Mode
	security  wifi.SecurityType
	frequency uint
	strength  atomic.Uint32
}

func (r *Radio) Key() string                 { return r.key }
func (r *Radio) SSID() []byte                { return r.ssid }
func (r *Radio) BSSID() string               { return r.bssid }
func (r *Radio) Strength() uint8             { return uint8(r.strength.Load()) }
func (r *Radio) Mode() wifi.Mode             { return r.mode }
func (r *Radio) Security() wifi.SecurityType { return r.security }
func (r *Radio) Frequency() uint             { return r.frequency }

// Profile is a mock saved profile.
type Profile struct {
	p        *Platform
	key      string
	settings wifi.ProfileSettings
	last     time.Time
}

func (p *Profile) Key() string                    { return p.key }
func (p *Profile) ID() string                     { return p.settings.ID }
func (p *Profile) Settings() wifi.ProfileSettings { return p.settings }

func (p *Profile) Matches(n wifi.NativeAccessPoint) bool {
	return p.settings.Compatible(n)
}

func (p *Profile) LastConnected() time.Time {
	p.p.mu.Lock()
	defer p.p.mu.Unlock()
	return p.last
}

func (p *Profile) Secret() (string, error) {
	if p.p.SecretsError != nil {
		return "", p.p.SecretsError
	}
	return p.settings.Secret, nil
}

func (p *Profile) Delete() error {
	m := p.p
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteError != nil {
		return m.DeleteError
	}
	for i, q := range m.profiles {
		if q == p {
			m.profiles = append(m.profiles[:i], m.profiles[i+1:]...)
			m.emitLocked(wifi.ProfilesChanged{})
			return nil
		}
	}
	return fmt.Errorf("profile %s: %w", p.settings.ID, wifi.ErrNotFound)
}

// Active is a mock active connection.
type Active struct {
	key     string
	profile *Profile
	radio   *Radio
	state   atomic.Int32
}

func (a *Active) Key() string { return a.key }
func (a *Active) ID() string  { return a.profile.settings.ID }

func (a *Active) State() (wifi.ActiveState, error) {
	return wifi.ActiveState(a.state.Load()), nil
}

// Device is the mock wireless interface.
type Device struct {
	p      *Platform
	key    string
	name   string
	radios []*Radio
	active *Active
}

func (d *Device) Key() string           { return d.key }
func (d *Device) InterfaceName() string { return d.name }
func (d *Device) IsManaged() bool       { return true }
func (d *Device) IsWireless() bool      { return true }

func (d *Device) AccessPoints() ([]wifi.NativeAccessPoint, error) {
	m := d.p
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil, nil
	}
	out := make([]wifi.NativeAccessPoint, 0, len(d.radios))
	for _, r := range d.radios {
		out = append(out, r)
	}
	return out, nil
}

func (d *Device) RequestScan() error {
	m := d.p
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	if !m.enabled {
		return wifi.ErrWirelessDisabled
	}
	return nil
}

func (d *Device) Disconnect() error {
	m := d.p
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.active == nil {
		return nil
	}
	m.deactivateLocked(d, d.active)
	return nil
}

func (d *Device) ActiveConnection() (wifi.ActiveConnection, error) {
	m := d.p
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.active == nil {
		return nil, nil
	}
	return d.active, nil
}

func (d *Device) ActiveAccessPoint() (wifi.NativeAccessPoint, error) {
	m := d.p
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.active == nil {
		return nil, nil
	}
	return d.active.radio, nil
}

// Platform is the mock daemon. Exported fields may be set before Start.
type Platform struct {
	// ActionDelay is the delay before an activation resolves.
	ActionDelay time.Duration
	// Hold leaves activations in progress until Complete is called.
	Hold bool
	// Outcome overrides the password check that decides activation results.
	Outcome func(req wifi.ActivationRequest) Outcome

	ActivateError error
	DeleteError   error
	SecretsError  error

	mu        sync.Mutex
	enabled   bool
	device    *Device
	passwords map[string]string
	profiles  []*Profile
	requests  []wifi.ActivationRequest
	pending   map[uint64]*Active
	scans     int
	seq       int

	sub   chan<- wifi.Notification
	queue []wifi.Notification
	kick  chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

// NewPlatform returns a platform with one empty wireless device named wlan0.
func NewPlatform() *Platform {
	m := &Platform{
		ActionDelay: DefaultActionDelay,
		enabled:     true,
		passwords:   make(map[string]string),
		pending:     make(map[uint64]*Active),
	}
	m.device = &Device{p: m, key: "/devices/wlan0", name: "wlan0"}
	return m
}

func ago(d time.Duration) time.Time {
	return time.Now().Add(-d)
}

// New returns a platform populated with a list of fun wifi networks.
func New() *Platform {
	m := NewPlatform()

	type network struct {
		ssid     string
		security wifi.SecurityType
		password string
		radios   []uint8
	}
	networks := []network{
		{"HideYoKidsHideYoWiFi", wifi.SecurityRSN, "hideyokids", []uint8{62}},
		{"NeverGonnaGiveYouIP", wifi.SecurityWEP, "rickroll1234", []uint8{35}},
		{"Unencrypted_Honeypot", wifi.SecurityOpen, "", []uint8{71}},
		{"Dunder MiffLAN", wifi.SecurityRSN, "thatswhatshesaid", []uint8{44}},
		{"Police Surveillance 2", wifi.SecurityRSN, "", []uint8{48}},
		{"I Believe Wi Can Fi", wifi.SecurityWEP, "", []uint8{29}},
		{"Hot singles in your area", wifi.SecurityWPA, "", []uint8{55}},
		{"Password is password", wifi.SecurityRSN, "password", []uint8{87}},
		{"TacoBoutAGoodSignal", wifi.SecurityRSN, "", []uint8{99}},
		{"Multi-AP Network", wifi.SecurityRSN, "multiplicity", []uint8{80, 60, 40}},
	}
	for _, n := range networks {
		m.passwords[n.ssid] = n.password
		for i, s := range n.radios {
			bssid := fmt.Sprintf("02:00:00:%02x:%02x:%02x", len(n.ssid), n.ssid[0], i)
			m.addRadioLocked(n.ssid, bssid, s, wifi.ModeInfrastructure, n.security, 2412+uint(i)*5)
		}
	}

	m.addProfileLocked("Password is password", wifi.SecurityRSN, "password", ago(12456*time.Hour))
	m.addProfileLocked("HideYoKidsHideYoWiFi", wifi.SecurityRSN, "hideyokids", ago(2*time.Hour))
	// A stale duplicate, tried after the recent one.
	m.addProfileLocked("HideYoKidsHideYoWiFi", wifi.SecurityRSN, "different_secret", ago(300*time.Hour))
	m.addProfileLocked("GET off my LAN", wifi.SecurityRSN, "keepoff", ago(761*time.Hour))
	m.addProfileLocked("FreeHugsAndWiFi", wifi.SecurityWPA, "hugs4all", ago(400*time.Hour))
	return m
}

// Platform interface.

func (m *Platform) Devices() ([]wifi.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil, nil
	}
	return []wifi.Device{m.device}, nil
}

func (m *Platform) WirelessEnabled() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled, nil
}

func (m *Platform) SetWirelessEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled == enabled {
		return nil
	}
	m.enabled = enabled
	if !enabled && m.device != nil && m.device.active != nil {
		m.deactivateLocked(m.device, m.device.active)
	}
	m.emitLocked(wifi.WirelessEnabledChanged{Enabled: enabled})
	return nil
}

func (m *Platform) SavedProfiles() ([]wifi.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wifi.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (m *Platform) Activate(req wifi.ActivationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.ActivateError != nil {
		return m.ActivateError
	}
	radio, ok := req.AccessPoint.(*Radio)
	if !ok {
		return fmt.Errorf("mock: foreign access point %T", req.AccessPoint)
	}

	profile, _ := req.Profile.(*Profile)
	if profile == nil {
		s := req.Settings
		profile = m.addProfileLocked(string(s.SSID), s.Security, s.Secret, time.Time{})
		profile.settings.BSSID = s.BSSID
		m.emitLocked(wifi.ProfilesChanged{})
	}

	m.seq++
	active := &Active{key: fmt.Sprintf("/active/%d", m.seq), profile: profile, radio: radio}
	active.state.Store(int32(wifi.ActiveActivating))
	dev := m.device
	if dev.active != nil {
		m.deactivateLocked(dev, dev.active)
	}
	dev.active = active
	m.pending[req.ID] = active
	m.emitLocked(wifi.ActivationProgress{RequestID: req.ID, Stage: wifi.StageActivating, Active: active})
	m.emitLocked(wifi.DeviceStateChanged{DeviceKey: dev.key, New: wifi.DeviceStatePrepare, Old: wifi.DeviceStateDisconnected})

	if m.Hold {
		return nil
	}
	outcome := m.decideLocked(req, profile)
	time.AfterFunc(m.ActionDelay, func() {
		_ = m.Complete(req.ID, outcome)
	})
	return nil
}

func (m *Platform) decideLocked(req wifi.ActivationRequest, profile *Profile) Outcome {
	if m.Outcome != nil {
		return m.Outcome(req)
	}
	if req.AccessPoint.Security() == wifi.SecurityOpen {
		return OutcomeSuccess
	}
	password, known := m.passwords[string(req.AccessPoint.SSID())]
	if !known || password == "" || profile.settings.Secret != password {
		return OutcomeAuthFailure
	}
	return OutcomeSuccess
}

// Complete resolves the activation request id.
func (m *Platform) Complete(id uint64, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	active, ok := m.pending[id]
	if !ok {
		return fmt.Errorf("request %d: %w", id, wifi.ErrNotFound)
	}
	delete(m.pending, id)
	dev := m.device

	if active.state.Load() != int32(wifi.ActiveActivating) {
		m.emitLocked(wifi.ActivationProgress{RequestID: id, Stage: wifi.StageFailed, Err: wifi.ErrOperationFailed})
		return nil
	}

	if outcome == OutcomeSuccess {
		active.state.Store(int32(wifi.ActiveActivated))
		active.profile.last = time.Now()
		m.emitLocked(wifi.DeviceStateChanged{DeviceKey: dev.key, New: wifi.DeviceStateActivated, Old: wifi.DeviceStateIPConfig})
		m.emitLocked(wifi.ActiveConnectionChanged{DeviceKey: dev.key})
		m.emitLocked(wifi.ActivationProgress{RequestID: id, Stage: wifi.StageActivated, Active: active})
		return nil
	}

	active.state.Store(int32(wifi.ActiveDeactivated))
	current := dev.active == active
	if current {
		dev.active = nil
	}
	reason := wifi.StateReasonNone
	auth := outcome == OutcomeAuthFailure
	if auth {
		reason = wifi.StateReasonNoSecrets
	}
	m.emitLocked(wifi.DeviceStateChanged{DeviceKey: dev.key, New: wifi.DeviceStateFailed, Old: wifi.DeviceStateNeedAuth, Reason: reason})
	m.emitLocked(wifi.DeviceStateChanged{DeviceKey: dev.key, New: wifi.DeviceStateDisconnected, Old: wifi.DeviceStateFailed})
	m.emitLocked(wifi.ActivationProgress{RequestID: id, Stage: wifi.StageFailed, AuthFailure: auth, Err: wifi.ErrOperationFailed})
	if current {
		// NetworkManager clears the device's ActiveConnection once the
		// failed activation is torn down.
		m.emitLocked(wifi.ActiveConnectionChanged{DeviceKey: dev.key})
	}
	return nil
}

func (m *Platform) Deactivate(ac wifi.ActiveConnection) error {
	active, ok := ac.(*Active)
	if !ok {
		return fmt.Errorf("mock: foreign active connection %T", ac)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return wifi.ErrNoManagedDevice
	}
	m.deactivateLocked(m.device, active)
	return nil
}

func (m *Platform) deactivateLocked(dev *Device, active *Active) {
	prev := wifi.ActiveState(active.state.Swap(int32(wifi.ActiveDeactivated)))
	if dev.active != active {
		return
	}
	dev.active = nil
	if prev == wifi.ActiveDeactivated {
		return
	}
	m.emitLocked(wifi.DeviceStateChanged{DeviceKey: dev.key, New: wifi.DeviceStateDeactivating, Old: wifi.DeviceStateActivated})
	m.emitLocked(wifi.DeviceStateChanged{DeviceKey: dev.key, New: wifi.DeviceStateDisconnected, Old: wifi.DeviceStateDeactivating})
	m.emitLocked(wifi.ActiveConnectionChanged{DeviceKey: dev.key})
}

// Subscribe starts a pump goroutine that delivers queued notifications in order.
func (m *Platform) Subscribe(ch chan<- wifi.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return errAlreadySubscribed
	}
	m.sub = ch
	m.queue = nil
	m.kick = make(chan struct{}, 1)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.pump(ch, m.kick, m.stop, m.done)
	return nil
}

func (m *Platform) Unsubscribe() {
	m.mu.Lock()
	if m.sub == nil {
		m.mu.Unlock()
		return
	}
	stop, done := m.stop, m.done
	m.sub = nil
	m.queue = nil
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Platform) Close() error {
	m.Unsubscribe()
	return nil
}

func (m *Platform) pump(ch chan<- wifi.Notification, kick, stop, done chan struct{}) {
	defer close(done)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-kick:
				continue
			case <-stop:
				return
			}
		}
		n := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case ch <- n:
		case <-stop:
			return
		}
	}
}

// emitLocked queues n for delivery. Without a subscriber n is dropped.
func (m *Platform) emitLocked(n wifi.Notification) {
	if m.sub == nil {
		return
	}
	m.queue = append(m.queue, n)
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Scripting helpers.

// Emit queues an arbitrary notification.
func (m *Platform) Emit(n wifi.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(n)
}

// SetPassword sets the key that activations against ssid must present.
func (m *Platform) SetPassword(ssid, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[ssid] = password
}

// AddRadio makes a new infrastructure radio visible.
func (m *Platform) AddRadio(ssid, bssid string, strength uint8, security wifi.SecurityType) *Radio {
	return m.AddRadioMode(ssid, bssid, strength, wifi.ModeInfrastructure, security)
}

// AddRadioMode makes a new radio visible.
func (m *Platform) AddRadioMode(ssid, bssid string, strength uint8, mode wifi.Mode, security wifi.SecurityType) *Radio {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.addRadioLocked(ssid, bssid, strength, mode, security, 2437)
	if m.enabled {
		m.emitLocked(wifi.AccessPointAdded{DeviceKey: m.device.key, AccessPoint: r})
	}
	return r
}

func (m *Platform) addRadioLocked(ssid, bssid string, strength uint8, mode wifi.Mode, security wifi.SecurityType, freq uint) *Radio {
	m.seq++
	r := &Radio{
		key:       fmt.Sprintf("/ap/%d", m.seq),
		ssid:      []byte(ssid),
		bssid:     bssid,
		mode:      mode,
		security:  security,
		frequency: freq,
	}
	r.strength.Store(uint32(strength))
	m.device.radios = append(m.device.radios, r)
	return r
}

// RemoveRadio takes r out of range.
func (m *Platform) RemoveRadio(r *Radio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev := m.device
	for i, q := range dev.radios {
		if q == r {
			dev.radios = append(dev.radios[:i], dev.radios[i+1:]...)
			m.emitLocked(wifi.AccessPointRemoved{DeviceKey: dev.key, Key: r.key})
			return
		}
	}
}

// SetStrength changes the signal strength of r.
func (m *Platform) SetStrength(r *Radio, strength uint8) {
	r.strength.Store(uint32(strength))
	m.Emit(wifi.AccessPointStrengthChanged{Key: r.key})
}

// AddProfile saves a profile for ssid.
func (m *Platform) AddProfile(ssid string, security wifi.SecurityType, secret string, last time.Time) *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.addProfileLocked(ssid, security, secret, last)
	m.emitLocked(wifi.ProfilesChanged{})
	return p
}

func (m *Platform) addProfileLocked(ssid string, security wifi.SecurityType, secret string, last time.Time) *Profile {
	m.seq++
	p := &Profile{
		p:   m,
		key: fmt.Sprintf("/profile/%d", m.seq),
		settings: wifi.ProfileSettings{
			ID:          ssid,
			SSID:        []byte(ssid),
			Mode:        wifi.ModeInfrastructure,
			Security:    security,
			Secret:      secret,
			AutoConnect: true,
		},
		last: last,
	}
	m.profiles = append(m.profiles, p)
	return p
}

// RemoveDevice unplugs the wireless device.
func (m *Platform) RemoveDevice() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = nil
	m.emitLocked(wifi.DevicesChanged{})
}

// Profiles returns the saved profiles.
func (m *Platform) Profiles() []*Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Profile(nil), m.profiles...)
}

// Requests returns every activation request received, in order.
func (m *Platform) Requests() []wifi.ActivationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wifi.ActivationRequest(nil), m.requests...)
}

// Scans counts RequestScan calls.
func (m *Platform) Scans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scans
}

// ActiveSSID returns the SSID of the activated connection, or "".
func (m *Platform) ActiveSSID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil || m.device.active == nil {
		return ""
	}
	if wifi.ActiveState(m.device.active.state.Load()) != wifi.ActiveActivated {
		return ""
	}
	return string(m.device.active.radio.ssid)
}
