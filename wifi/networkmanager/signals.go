package networkmanager

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/shazow/wifimgr/wifi"
)

// D-Bus names.
const (
	nmDest               = "org.freedesktop.NetworkManager"
	nmPath               = "/org/freedesktop/NetworkManager"
	nmIface              = "org.freedesktop.NetworkManager"
	nmDeviceIface        = "org.freedesktop.NetworkManager.Device"
	nmWirelessIface      = "org.freedesktop.NetworkManager.Device.Wireless"
	nmAccessPointIface   = "org.freedesktop.NetworkManager.AccessPoint"
	nmActiveIface        = "org.freedesktop.NetworkManager.Connection.Active"
	nmSettingsIface      = "org.freedesktop.NetworkManager.Settings"
	nmConnectionIface    = "org.freedesktop.NetworkManager.Settings.Connection"
	dbusPropertiesIface  = "org.freedesktop.DBus.Properties"
	propertiesChanged    = dbusPropertiesIface + ".PropertiesChanged"
	noSecretsActiveState = 9 // NM_ACTIVE_CONNECTION_STATE_REASON_NO_SECRETS
)

// NMActiveConnectionState values.
const (
	activeStateActivating   = 1
	activeStateActivated    = 2
	activeStateDeactivating = 3
	activeStateDeactivated  = 4
)

func activeState(s uint32) wifi.ActiveState {
	switch s {
	case activeStateActivating:
		return wifi.ActiveActivating
	case activeStateActivated:
		return wifi.ActiveActivated
	case activeStateDeactivating:
		return wifi.ActiveDeactivating
	case activeStateDeactivated:
		return wifi.ActiveDeactivated
	}
	return wifi.ActiveUnknown
}

// router turns NetworkManager signals into wifi notifications and delivers
// them in order. Activation results are reported for tracked active
// connections only.
type router struct {
	// lookup resolves a newly added access point path.
	lookup func(dbus.ObjectPath) (wifi.NativeAccessPoint, error)

	mu      sync.Mutex
	tracked map[dbus.ObjectPath]tracked
	queue   []wifi.Notification
	kick    chan struct{}
	sub     chan<- wifi.Notification
	stop    chan struct{}
	done    chan struct{}
}

type tracked struct {
	id     uint64
	active wifi.ActiveConnection
}

func newRouter(lookup func(dbus.ObjectPath) (wifi.NativeAccessPoint, error)) *router {
	return &router{
		lookup:  lookup,
		tracked: make(map[dbus.ObjectPath]tracked),
	}
}

// start begins delivery to ch.
func (r *router) start(ch chan<- wifi.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return false
	}
	r.sub = ch
	r.queue = nil
	r.kick = make(chan struct{}, 1)
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.pump(ch, r.kick, r.stop, r.done)
	return true
}

// halt stops delivery and waits for the pump to exit.
func (r *router) halt() {
	r.mu.Lock()
	if r.sub == nil {
		r.mu.Unlock()
		return
	}
	stop, done := r.stop, r.done
	r.sub = nil
	r.queue = nil
	r.tracked = make(map[dbus.ObjectPath]tracked)
	r.mu.Unlock()

	close(stop)
	<-done
}

func (r *router) pump(ch chan<- wifi.Notification, kick, stop, done chan struct{}) {
	defer close(done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			select {
			case <-kick:
				continue
			case <-stop:
				return
			}
		}
		n := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		select {
		case ch <- n:
		case <-stop:
			return
		}
	}
}

func (r *router) emitLocked(ns ...wifi.Notification) {
	if r.sub == nil || len(ns) == 0 {
		return
	}
	r.queue = append(r.queue, ns...)
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// activate runs start with signal handling held back, then tracks the
// active connection it returns under request id. state is the active
// connection state read once the request was accepted.
func (r *router) activate(id uint64, start func() (dbus.ObjectPath, wifi.ActiveConnection, uint32, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, active, state, err := start()
	if err != nil {
		return err
	}
	r.tracked[path] = tracked{id: id, active: active}
	r.emitLocked(wifi.ActivationProgress{RequestID: id, Stage: wifi.StageActivating, Active: active})
	r.emitLocked(r.activeStateLocked(path, state, 0)...)
	return nil
}

// handle translates one signal.
func (r *router) handle(sig *dbus.Signal) {
	ns := r.translate(sig)

	r.mu.Lock()
	defer r.mu.Unlock()
	if sig.Name == nmActiveIface+".StateChanged" && len(sig.Body) >= 2 {
		state, _ := sig.Body[0].(uint32)
		reason, _ := sig.Body[1].(uint32)
		ns = append(ns, r.activeStateLocked(sig.Path, state, reason)...)
	}
	r.emitLocked(ns...)
}

func (r *router) activeStateLocked(path dbus.ObjectPath, state, reason uint32) []wifi.Notification {
	t, ok := r.tracked[path]
	if !ok {
		return nil
	}
	switch state {
	case activeStateActivated:
		delete(r.tracked, path)
		return []wifi.Notification{wifi.ActivationProgress{RequestID: t.id, Stage: wifi.StageActivated, Active: t.active}}
	case activeStateDeactivated:
		delete(r.tracked, path)
		return []wifi.Notification{wifi.ActivationProgress{
			RequestID:   t.id,
			Stage:       wifi.StageFailed,
			Active:      t.active,
			AuthFailure: reason == noSecretsActiveState,
		}}
	}
	return nil
}

// translate maps a signal to notifications that need no activation state.
func (r *router) translate(sig *dbus.Signal) []wifi.Notification {
	switch sig.Name {
	case nmDeviceIface + ".StateChanged":
		if len(sig.Body) < 3 {
			return nil
		}
		newState, _ := sig.Body[0].(uint32)
		oldState, _ := sig.Body[1].(uint32)
		reason, _ := sig.Body[2].(uint32)
		return []wifi.Notification{wifi.DeviceStateChanged{
			DeviceKey: string(sig.Path),
			New:       wifi.DeviceState(newState),
			Old:       wifi.DeviceState(oldState),
			Reason:    wifi.StateReason(reason),
		}}

	case nmWirelessIface + ".AccessPointAdded":
		path, ok := objectPath(sig)
		if !ok || r.lookup == nil {
			return nil
		}
		ap, err := r.lookup(path)
		if err != nil {
			return nil
		}
		return []wifi.Notification{wifi.AccessPointAdded{DeviceKey: string(sig.Path), AccessPoint: ap}}

	case nmWirelessIface + ".AccessPointRemoved":
		path, ok := objectPath(sig)
		if !ok {
			return nil
		}
		return []wifi.Notification{wifi.AccessPointRemoved{DeviceKey: string(sig.Path), Key: string(path)}}

	case nmIface + ".DeviceAdded", nmIface + ".DeviceRemoved":
		return []wifi.Notification{wifi.DevicesChanged{}}

	case nmSettingsIface + ".NewConnection", nmSettingsIface + ".ConnectionRemoved", nmConnectionIface + ".Updated":
		return []wifi.Notification{wifi.ProfilesChanged{}}

	case propertiesChanged:
		return r.properties(sig)
	}
	return nil
}

func (r *router) properties(sig *dbus.Signal) []wifi.Notification {
	if len(sig.Body) < 2 {
		return nil
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return nil
	}
	props, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil
	}

	var ns []wifi.Notification
	switch iface {
	case nmAccessPointIface:
		if _, ok := props["Strength"]; ok {
			ns = append(ns, wifi.AccessPointStrengthChanged{Key: string(sig.Path)})
		}
	case nmIface:
		if v, ok := props["WirelessEnabled"]; ok {
			if enabled, ok := v.Value().(bool); ok {
				ns = append(ns, wifi.WirelessEnabledChanged{Enabled: enabled})
			}
		}
	case nmDeviceIface:
		if _, ok := props["ActiveConnection"]; ok {
			ns = append(ns, wifi.ActiveConnectionChanged{DeviceKey: string(sig.Path)})
		}
	}
	return ns
}

func objectPath(sig *dbus.Signal) (dbus.ObjectPath, bool) {
	if len(sig.Body) < 1 {
		return "", false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	return path, ok && path.IsValid() && path != "/"
}
