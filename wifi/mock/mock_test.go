package mock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wifimgr/wifi"
)

func init() {
	DefaultActionDelay = 0
}

// collect reads n notifications or fails after a second.
func collect(t *testing.T, ch <-chan wifi.Notification, n int) []wifi.Notification {
	t.Helper()
	var out []wifi.Notification
	for len(out) < n {
		select {
		case got := <-ch:
			out = append(out, got)
		case <-time.After(time.Second):
			t.Fatalf("got %d of %d notifications: %#v", len(out), n, out)
		}
	}
	return out
}

func radioFor(t *testing.T, m *Platform, ssid string) *Radio {
	t.Helper()
	devices, err := m.Devices()
	require.NoError(t, err)
	aps, err := devices[0].AccessPoints()
	require.NoError(t, err)
	for _, ap := range aps {
		if string(ap.SSID()) == ssid {
			return ap.(*Radio)
		}
	}
	t.Fatalf("no radio for %q", ssid)
	return nil
}

func TestNew(t *testing.T) {
	m := New()

	devices, err := m.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "wlan0", devices[0].InterfaceName())

	aps, err := devices[0].AccessPoints()
	require.NoError(t, err)
	assert.NotEmpty(t, aps)

	multi := 0
	for _, ap := range aps {
		if string(ap.SSID()) == "Multi-AP Network" {
			multi++
		}
	}
	assert.Equal(t, 3, multi)

	profiles, err := m.SavedProfiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 5)

	active, err := devices[0].ActiveConnection()
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestProfileMatches(t *testing.T) {
	m := New()
	r := radioFor(t, m, "Password is password")

	var matched []string
	for _, p := range m.Profiles() {
		if p.Matches(r) {
			matched = append(matched, p.ID())
		}
	}
	assert.Equal(t, []string{"Password is password"}, matched)
}

func TestActivateSuccess(t *testing.T) {
	m := NewPlatform()
	m.SetPassword("Home", "correct horse")
	r := m.AddRadio("Home", "aa:aa:aa:aa:aa:01", 70, wifi.SecurityRSN)
	p := m.AddProfile("Home", wifi.SecurityRSN, "correct horse", time.Time{})

	ch := make(chan wifi.Notification, 16)
	require.NoError(t, m.Subscribe(ch))
	defer m.Unsubscribe()

	dev := m.device
	require.NoError(t, m.Activate(wifi.ActivationRequest{ID: 7, Device: dev, AccessPoint: r, Profile: p}))

	got := collect(t, ch, 5)
	progress := got[0].(wifi.ActivationProgress)
	assert.Equal(t, uint64(7), progress.RequestID)
	assert.Equal(t, wifi.StageActivating, progress.Stage)
	assert.Equal(t, wifi.DeviceStatePrepare, got[1].(wifi.DeviceStateChanged).New)
	assert.Equal(t, wifi.DeviceStateActivated, got[2].(wifi.DeviceStateChanged).New)
	assert.IsType(t, wifi.ActiveConnectionChanged{}, got[3])
	assert.Equal(t, wifi.StageActivated, got[4].(wifi.ActivationProgress).Stage)

	assert.Equal(t, "Home", m.ActiveSSID())
	assert.False(t, p.LastConnected().IsZero())
}

func TestActivateNewProfileWrongSecret(t *testing.T) {
	m := NewPlatform()
	m.SetPassword("Home", "correct horse")
	r := m.AddRadio("Home", "aa:aa:aa:aa:aa:01", 70, wifi.SecurityRSN)

	ch := make(chan wifi.Notification, 16)
	require.NoError(t, m.Subscribe(ch))
	defer m.Unsubscribe()

	req := wifi.ActivationRequest{
		ID:          1,
		Device:      m.device,
		AccessPoint: r,
		Settings:    wifi.ProfileSettings{ID: "Home", SSID: []byte("Home"), Security: wifi.SecurityRSN, Secret: "battery staple"},
	}
	require.NoError(t, m.Activate(req))
	require.Len(t, m.Profiles(), 1, "activating new settings saves a profile")

	got := collect(t, ch, 7)
	assert.IsType(t, wifi.ProfilesChanged{}, got[0])
	failed := got[3].(wifi.DeviceStateChanged)
	assert.Equal(t, wifi.DeviceStateFailed, failed.New)
	assert.Equal(t, wifi.StateReasonNoSecrets, failed.Reason)
	result := got[5].(wifi.ActivationProgress)
	assert.Equal(t, wifi.StageFailed, result.Stage)
	assert.True(t, result.AuthFailure)
	assert.Equal(t, wifi.ActiveConnectionChanged{DeviceKey: "/devices/wlan0"}, got[6], "the failed activation is torn down")
	assert.Equal(t, "", m.ActiveSSID())
}

func TestHoldAndComplete(t *testing.T) {
	m := NewPlatform()
	m.Hold = true
	r := m.AddRadio("Cafe", "aa:aa:aa:aa:aa:02", 50, wifi.SecurityOpen)
	p := m.AddProfile("Cafe", wifi.SecurityOpen, "", time.Time{})

	require.NoError(t, m.Activate(wifi.ActivationRequest{ID: 3, Device: m.device, AccessPoint: r, Profile: p}))
	assert.Equal(t, "", m.ActiveSSID())

	require.NoError(t, m.Complete(3, OutcomeSuccess))
	assert.Equal(t, "Cafe", m.ActiveSSID())
	assert.ErrorIs(t, m.Complete(3, OutcomeSuccess), wifi.ErrNotFound)
}

func TestDeactivate(t *testing.T) {
	m := NewPlatform()
	m.Hold = true
	r := m.AddRadio("Cafe", "aa:aa:aa:aa:aa:02", 50, wifi.SecurityOpen)
	p := m.AddProfile("Cafe", wifi.SecurityOpen, "", time.Time{})
	require.NoError(t, m.Activate(wifi.ActivationRequest{ID: 1, Device: m.device, AccessPoint: r, Profile: p}))
	require.NoError(t, m.Complete(1, OutcomeSuccess))

	ch := make(chan wifi.Notification, 16)
	require.NoError(t, m.Subscribe(ch))
	defer m.Unsubscribe()

	active, err := m.device.ActiveConnection()
	require.NoError(t, err)
	require.NoError(t, m.Deactivate(active))

	got := collect(t, ch, 3)
	assert.Equal(t, wifi.DeviceStateDeactivating, got[0].(wifi.DeviceStateChanged).New)
	disconnected := got[1].(wifi.DeviceStateChanged)
	assert.Equal(t, wifi.DeviceStateDisconnected, disconnected.New)
	assert.Equal(t, wifi.DeviceStateDeactivating, disconnected.Old)
	assert.IsType(t, wifi.ActiveConnectionChanged{}, got[2])

	state, err := active.State()
	require.NoError(t, err)
	assert.Equal(t, wifi.ActiveDeactivated, state)
}

func TestWirelessToggle(t *testing.T) {
	m := New()
	ch := make(chan wifi.Notification, 16)
	require.NoError(t, m.Subscribe(ch))
	defer m.Unsubscribe()

	require.NoError(t, m.SetWirelessEnabled(false))
	got := collect(t, ch, 1)
	assert.Equal(t, wifi.WirelessEnabledChanged{Enabled: false}, got[0])

	aps, err := m.device.AccessPoints()
	require.NoError(t, err)
	assert.Empty(t, aps)
	assert.ErrorIs(t, m.device.RequestScan(), wifi.ErrWirelessDisabled)

	require.NoError(t, m.SetWirelessEnabled(true))
	got = collect(t, ch, 1)
	assert.Equal(t, wifi.WirelessEnabledChanged{Enabled: true}, got[0])
}

func TestDeleteProfile(t *testing.T) {
	m := New()
	before := len(m.Profiles())
	p := m.Profiles()[0]

	require.NoError(t, p.Delete())
	assert.Len(t, m.Profiles(), before-1)
	assert.ErrorIs(t, p.Delete(), wifi.ErrNotFound)
}

func TestSubscribeTwice(t *testing.T) {
	m := NewPlatform()
	ch := make(chan wifi.Notification)
	require.NoError(t, m.Subscribe(ch))
	assert.Error(t, m.Subscribe(ch))
	m.Unsubscribe()
	require.NoError(t, m.Subscribe(ch))
	m.Unsubscribe()
}

func TestUnsubscribeUnblocksPump(t *testing.T) {
	m := NewPlatform()
	ch := make(chan wifi.Notification) // never read
	require.NoError(t, m.Subscribe(ch))
	m.AddRadio("Blocked", "aa:aa:aa:aa:aa:03", 10, wifi.SecurityOpen)

	done := make(chan struct{})
	go func() {
		m.Unsubscribe()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe blocked on an unread channel")
	}
}
