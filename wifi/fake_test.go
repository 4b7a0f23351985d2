package wifi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shazow/wifimgr/wifi/worker"
)

type fakeRadio struct {
	key      string
	ssid     string
	bssid    string
	strength uint8
	mode     Mode
	security SecurityType
}

func (r *fakeRadio) Key() string            { return r.key }
func (r *fakeRadio) SSID() []byte           { return []byte(r.ssid) }
func (r *fakeRadio) BSSID() string          { return r.bssid }
func (r *fakeRadio) Strength() uint8        { return r.strength }
func (r *fakeRadio) Mode() Mode             { return r.mode }
func (r *fakeRadio) Security() SecurityType { return r.security }
func (r *fakeRadio) Frequency() uint        { return 2412 }

func radio(key, ssid, bssid string, strength uint8, security SecurityType) *fakeRadio {
	return &fakeRadio{key: key, ssid: ssid, bssid: bssid, strength: strength, mode: ModeInfrastructure, security: security}
}

type fakeDevice struct {
	radios []NativeAccessPoint
}

func (d *fakeDevice) Key() string                                   { return "/dev/0" }
func (d *fakeDevice) InterfaceName() string                         { return "wlan0" }
func (d *fakeDevice) IsManaged() bool                               { return true }
func (d *fakeDevice) IsWireless() bool                              { return true }
func (d *fakeDevice) AccessPoints() ([]NativeAccessPoint, error)    { return d.radios, nil }
func (d *fakeDevice) RequestScan() error                            { return nil }
func (d *fakeDevice) Disconnect() error                             { return nil }
func (d *fakeDevice) ActiveConnection() (ActiveConnection, error)   { return nil, nil }
func (d *fakeDevice) ActiveAccessPoint() (NativeAccessPoint, error) { return nil, nil }

type fakeProfile struct {
	key      string
	settings ProfileSettings
	last     time.Time
	deleted  bool
}

func (p *fakeProfile) Key() string                       { return p.key }
func (p *fakeProfile) ID() string                        { return p.settings.ID }
func (p *fakeProfile) Settings() ProfileSettings         { return p.settings }
func (p *fakeProfile) LastConnected() time.Time          { return p.last }
func (p *fakeProfile) Secret() (string, error)           { return p.settings.Secret, nil }
func (p *fakeProfile) Matches(ap NativeAccessPoint) bool { return p.settings.Compatible(ap) }

func (p *fakeProfile) Delete() error {
	p.deleted = true
	return nil
}

func profile(key, ssid string, security SecurityType, secret string, last time.Time) *fakeProfile {
	return &fakeProfile{
		key:  key,
		last: last,
		settings: ProfileSettings{
			ID:       ssid,
			SSID:     []byte(ssid),
			Mode:     ModeInfrastructure,
			Security: security,
			Secret:   secret,
		},
	}
}

// fakePlatform only serves saved profiles.
type fakePlatform struct {
	profiles []*fakeProfile
}

func (f *fakePlatform) Devices() ([]Device, error)          { return nil, nil }
func (f *fakePlatform) WirelessEnabled() (bool, error)      { return true, nil }
func (f *fakePlatform) SetWirelessEnabled(bool) error       { return nil }
func (f *fakePlatform) Activate(ActivationRequest) error    { return ErrNotSupported }
func (f *fakePlatform) Deactivate(ActiveConnection) error   { return ErrNotSupported }
func (f *fakePlatform) Subscribe(chan<- Notification) error { return nil }
func (f *fakePlatform) Unsubscribe()                        {}
func (f *fakePlatform) Close() error                        { return nil }

func (f *fakePlatform) SavedProfiles() ([]Profile, error) {
	var out []Profile
	for _, p := range f.profiles {
		if !p.deleted {
			out = append(out, p)
		}
	}
	return out, nil
}

// apListener counts directory events.
type apListener struct {
	added, removed, changed []string
}

func (l *apListener) AccessPointAdded(ap *AccessPoint)      { l.added = append(l.added, ap.SSID()) }
func (l *apListener) AccessPointRemoved(ap *AccessPoint)    { l.removed = append(l.removed, ap.SSID()) }
func (l *apListener) SignalStrengthChanged(ap *AccessPoint) { l.changed = append(l.changed, ap.SSID()) }

// inWorker runs fn on a freshly started worker and stops it afterwards.
func inWorker(t *testing.T, fn func(ctx *worker.Context)) {
	t.Helper()
	w := worker.New(nil)
	require.NoError(t, w.Start())
	defer w.Stop()
	require.NoError(t, w.RunBlocking(func(ctx *worker.Context) error {
		fn(ctx)
		return nil
	}))
}
