package networkmanager

import (
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wifimgr/wifi"
)

type stubRadio struct{ key string }

func (r stubRadio) Key() string                 { return r.key }
func (r stubRadio) SSID() []byte                { return []byte("Home") }
func (r stubRadio) BSSID() string               { return "" }
func (r stubRadio) Strength() uint8             { return 50 }
func (r stubRadio) Mode() wifi.Mode             { return wifi.ModeInfrastructure }
func (r stubRadio) Security() wifi.SecurityType { return wifi.SecurityRSN }
func (r stubRadio) Frequency() uint             { return 2412 }

type stubActive struct{ key string }

func (a stubActive) Key() string                      { return a.key }
func (a stubActive) ID() string                       { return "Home" }
func (a stubActive) State() (wifi.ActiveState, error) { return wifi.ActiveActivating, nil }

func newTestRouter(t *testing.T) (*router, chan wifi.Notification) {
	r := newRouter(func(path dbus.ObjectPath) (wifi.NativeAccessPoint, error) {
		return stubRadio{key: string(path)}, nil
	})
	ch := make(chan wifi.Notification, 16)
	require.True(t, r.start(ch))
	t.Cleanup(r.halt)
	return r, ch
}

func receive(t *testing.T, ch <-chan wifi.Notification, n int) []wifi.Notification {
	t.Helper()
	var out []wifi.Notification
	for len(out) < n {
		select {
		case got := <-ch:
			out = append(out, got)
		case <-time.After(time.Second):
			t.Fatalf("received %d of %d notifications", len(out), n)
		}
	}
	return out
}

func TestRouterTranslate(t *testing.T) {
	const dev = dbus.ObjectPath("/org/freedesktop/NetworkManager/Devices/3")
	const ap = dbus.ObjectPath("/org/freedesktop/NetworkManager/AccessPoint/7")

	tests := []struct {
		name string
		sig  *dbus.Signal
		want []wifi.Notification
	}{
		{
			name: "device state",
			sig:  &dbus.Signal{Path: dev, Name: nmDeviceIface + ".StateChanged", Body: []interface{}{uint32(120), uint32(60), uint32(7)}},
			want: []wifi.Notification{wifi.DeviceStateChanged{
				DeviceKey: string(dev),
				New:       wifi.DeviceStateFailed,
				Old:       wifi.DeviceStateNeedAuth,
				Reason:    wifi.StateReasonNoSecrets,
			}},
		},
		{
			name: "short device state",
			sig:  &dbus.Signal{Path: dev, Name: nmDeviceIface + ".StateChanged", Body: []interface{}{uint32(100)}},
		},
		{
			name: "access point added",
			sig:  &dbus.Signal{Path: dev, Name: nmWirelessIface + ".AccessPointAdded", Body: []interface{}{ap}},
			want: []wifi.Notification{wifi.AccessPointAdded{DeviceKey: string(dev), AccessPoint: stubRadio{key: string(ap)}}},
		},
		{
			name: "access point removed",
			sig:  &dbus.Signal{Path: dev, Name: nmWirelessIface + ".AccessPointRemoved", Body: []interface{}{ap}},
			want: []wifi.Notification{wifi.AccessPointRemoved{DeviceKey: string(dev), Key: string(ap)}},
		},
		{
			name: "null access point",
			sig:  &dbus.Signal{Path: dev, Name: nmWirelessIface + ".AccessPointAdded", Body: []interface{}{dbus.ObjectPath("/")}},
		},
		{
			name: "strength",
			sig: &dbus.Signal{Path: ap, Name: propertiesChanged, Body: []interface{}{
				nmAccessPointIface, map[string]dbus.Variant{"Strength": dbus.MakeVariant(uint8(40))}, []string{},
			}},
			want: []wifi.Notification{wifi.AccessPointStrengthChanged{Key: string(ap)}},
		},
		{
			name: "other access point property",
			sig: &dbus.Signal{Path: ap, Name: propertiesChanged, Body: []interface{}{
				nmAccessPointIface, map[string]dbus.Variant{"LastSeen": dbus.MakeVariant(int32(4))}, []string{},
			}},
		},
		{
			name: "wireless disabled",
			sig: &dbus.Signal{Path: nmPath, Name: propertiesChanged, Body: []interface{}{
				nmIface, map[string]dbus.Variant{"WirelessEnabled": dbus.MakeVariant(false)}, []string{},
			}},
			want: []wifi.Notification{wifi.WirelessEnabledChanged{Enabled: false}},
		},
		{
			name: "active connection",
			sig: &dbus.Signal{Path: dev, Name: propertiesChanged, Body: []interface{}{
				nmDeviceIface, map[string]dbus.Variant{"ActiveConnection": dbus.MakeVariant(dbus.ObjectPath("/"))}, []string{},
			}},
			want: []wifi.Notification{wifi.ActiveConnectionChanged{DeviceKey: string(dev)}},
		},
		{
			name: "device added",
			sig:  &dbus.Signal{Path: nmPath, Name: nmIface + ".DeviceAdded", Body: []interface{}{dev}},
			want: []wifi.Notification{wifi.DevicesChanged{}},
		},
		{
			name: "profile updated",
			sig:  &dbus.Signal{Path: "/org/freedesktop/NetworkManager/Settings/4", Name: nmConnectionIface + ".Updated"},
			want: []wifi.Notification{wifi.ProfilesChanged{}},
		},
		{
			name: "profile added",
			sig:  &dbus.Signal{Path: "/org/freedesktop/NetworkManager/Settings", Name: nmSettingsIface + ".NewConnection"},
			want: []wifi.Notification{wifi.ProfilesChanged{}},
		},
	}

	r := newRouter(func(path dbus.ObjectPath) (wifi.NativeAccessPoint, error) {
		return stubRadio{key: string(path)}, nil
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.translate(tt.sig))
		})
	}
}

func TestRouterLookupFailure(t *testing.T) {
	r := newRouter(func(dbus.ObjectPath) (wifi.NativeAccessPoint, error) {
		return nil, errors.New("gone")
	})
	sig := &dbus.Signal{Path: "/dev", Name: nmWirelessIface + ".AccessPointAdded", Body: []interface{}{dbus.ObjectPath("/ap/1")}}
	assert.Empty(t, r.translate(sig))
}

func TestRouterActivation(t *testing.T) {
	r, ch := newTestRouter(t)
	const path = dbus.ObjectPath("/org/freedesktop/NetworkManager/ActiveConnection/1")
	active := stubActive{key: string(path)}

	err := r.activate(4, func() (dbus.ObjectPath, wifi.ActiveConnection, uint32, error) {
		return path, active, activeStateActivating, nil
	})
	require.NoError(t, err)

	r.handle(&dbus.Signal{Path: path, Name: nmActiveIface + ".StateChanged", Body: []interface{}{uint32(activeStateActivated), uint32(0)}})
	// Untracked once resolved.
	r.handle(&dbus.Signal{Path: path, Name: nmActiveIface + ".StateChanged", Body: []interface{}{uint32(activeStateDeactivated), uint32(0)}})

	got := receive(t, ch, 2)
	assert.Equal(t, wifi.ActivationProgress{RequestID: 4, Stage: wifi.StageActivating, Active: active}, got[0])
	assert.Equal(t, wifi.ActivationProgress{RequestID: 4, Stage: wifi.StageActivated, Active: active}, got[1])
	assert.Empty(t, ch)
}

func TestRouterActivationNoSecrets(t *testing.T) {
	r, ch := newTestRouter(t)
	const path = dbus.ObjectPath("/org/freedesktop/NetworkManager/ActiveConnection/2")
	active := stubActive{key: string(path)}

	require.NoError(t, r.activate(9, func() (dbus.ObjectPath, wifi.ActiveConnection, uint32, error) {
		return path, active, activeStateActivating, nil
	}))
	r.handle(&dbus.Signal{Path: path, Name: nmActiveIface + ".StateChanged", Body: []interface{}{uint32(activeStateDeactivated), uint32(noSecretsActiveState)}})

	got := receive(t, ch, 2)
	assert.Equal(t, wifi.ActivationProgress{RequestID: 9, Stage: wifi.StageFailed, Active: active, AuthFailure: true}, got[1])
}

func TestRouterActivationAlreadyActive(t *testing.T) {
	r, ch := newTestRouter(t)
	active := stubActive{key: "/ac/3"}
	require.NoError(t, r.activate(2, func() (dbus.ObjectPath, wifi.ActiveConnection, uint32, error) {
		return "/ac/3", active, activeStateActivated, nil
	}))

	got := receive(t, ch, 2)
	assert.Equal(t, wifi.StageActivating, got[0].(wifi.ActivationProgress).Stage)
	assert.Equal(t, wifi.StageActivated, got[1].(wifi.ActivationProgress).Stage)
}

func TestRouterActivationError(t *testing.T) {
	r, ch := newTestRouter(t)
	err := r.activate(1, func() (dbus.ObjectPath, wifi.ActiveConnection, uint32, error) {
		return "", nil, 0, wifi.ErrNotSupported
	})
	assert.ErrorIs(t, err, wifi.ErrNotSupported)
	assert.Empty(t, r.tracked)
	assert.Empty(t, ch)
}

func TestRouterDropsWithoutSubscriber(t *testing.T) {
	r := newRouter(nil)
	r.handle(&dbus.Signal{Path: nmPath, Name: nmIface + ".DeviceAdded"})
	assert.Empty(t, r.queue)

	ch := make(chan wifi.Notification, 1)
	require.True(t, r.start(ch))
	assert.False(t, r.start(ch), "second subscription is refused")
	r.halt()
	r.halt()
}

func TestActiveState(t *testing.T) {
	assert.Equal(t, wifi.ActiveActivating, activeState(activeStateActivating))
	assert.Equal(t, wifi.ActiveActivated, activeState(activeStateActivated))
	assert.Equal(t, wifi.ActiveDeactivating, activeState(activeStateDeactivating))
	assert.Equal(t, wifi.ActiveDeactivated, activeState(activeStateDeactivated))
	assert.Equal(t, wifi.ActiveUnknown, activeState(0))
}
