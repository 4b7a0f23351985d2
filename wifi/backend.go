package wifi

import "time"

// SecurityType represents the security protocol of a network.
type SecurityType int

const (
	SecurityUnknown SecurityType = iota
	SecurityOpen
	SecurityWEP
	SecurityWPA
	SecurityRSN
)

func (s SecurityType) String() string {
	switch s {
	case SecurityOpen:
		return "open"
	case SecurityWEP:
		return "wep"
	case SecurityWPA:
		return "wpa"
	case SecurityRSN:
		return "rsn"
	default:
		return "unknown"
	}
}

// Mode is the operating mode of an access point.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeAdhoc
	ModeInfrastructure
	ModeHotspot
)

func (m Mode) String() string {
	switch m {
	case ModeAdhoc:
		return "adhoc"
	case ModeInfrastructure:
		return "infrastructure"
	case ModeHotspot:
		return "hotspot"
	default:
		return "unknown"
	}
}

// Platform is the network management daemon. Its methods and the methods of
// the handles it returns are only called from inside the network worker.
type Platform interface {
	// Devices lists the network devices known to the daemon.
	Devices() ([]Device, error)
	// WirelessEnabled reports whether the wireless radio is enabled.
	WirelessEnabled() (bool, error)
	// SetWirelessEnabled enables or disables the wireless radio.
	SetWirelessEnabled(enabled bool) error
	// SavedProfiles lists persisted connection profiles.
	SavedProfiles() ([]Profile, error)
	// Activate starts activating a connection. Progress is reported
	// asynchronously as ActivationProgress notifications carrying req.ID.
	Activate(req ActivationRequest) error
	// Deactivate tears down an active connection.
	Deactivate(active ActiveConnection) error
	// Subscribe starts delivering notifications on ch, in the order the daemon emits them.
	Subscribe(ch chan<- Notification) error
	// Unsubscribe stops notification delivery.
	Unsubscribe()
	// Close releases the connection to the daemon.
	Close() error
}

// Device is a network interface.
type Device interface {
	Key() string
	InterfaceName() string
	IsManaged() bool
	IsWireless() bool
	// AccessPoints returns the access points currently visible to the device.
	AccessPoints() ([]NativeAccessPoint, error)
	RequestScan() error
	Disconnect() error
	// ActiveConnection returns nil when the device is not connected.
	ActiveConnection() (ActiveConnection, error)
	// ActiveAccessPoint returns nil when the device has no associated access point.
	ActiveAccessPoint() (NativeAccessPoint, error)
}

// NativeAccessPoint is one radio as reported by the platform. Only valid inside the worker.
type NativeAccessPoint interface {
	Key() string
	SSID() []byte
	BSSID() string
	Strength() uint8 // 0-100
	Mode() Mode
	Security() SecurityType
	Frequency() uint // MHz
}

// Profile is a saved connection profile.
type Profile interface {
	Key() string
	ID() string
	Settings() ProfileSettings
	// LastConnected is the zero time if the profile was never activated.
	LastConnected() time.Time
	// Secret returns the stored key, or "" for open networks.
	Secret() (string, error)
	Delete() error
	Matches(ap NativeAccessPoint) bool
}

// ActiveState is the lifecycle state of an active connection.
type ActiveState int

const (
	ActiveUnknown ActiveState = iota
	ActiveActivating
	ActiveActivated
	ActiveDeactivating
	ActiveDeactivated
)

// ActiveConnection is a connection the platform is activating or has activated.
type ActiveConnection interface {
	Key() string
	ID() string
	State() (ActiveState, error)
}

// ActivationRequest asks the platform to activate Profile, or a new profile
// built from Settings when Profile is nil, on Device against AccessPoint.
type ActivationRequest struct {
	ID          uint64
	Device      Device
	AccessPoint NativeAccessPoint
	Profile     Profile
	Settings    ProfileSettings
}

// IsNew reports whether the request creates a profile.
func (r ActivationRequest) IsNew() bool {
	return r.Profile == nil
}
