package wifi

// DeviceState mirrors the NetworkManager device state values.
type DeviceState uint32

const (
	DeviceStateUnknown      DeviceState = 0
	DeviceStateUnmanaged    DeviceState = 10
	DeviceStateUnavailable  DeviceState = 20
	DeviceStateDisconnected DeviceState = 30
	DeviceStatePrepare      DeviceState = 40
	DeviceStateConfig       DeviceState = 50
	DeviceStateNeedAuth     DeviceState = 60
	DeviceStateIPConfig     DeviceState = 70
	DeviceStateIPCheck      DeviceState = 80
	DeviceStateSecondaries  DeviceState = 90
	DeviceStateActivated    DeviceState = 100
	DeviceStateDeactivating DeviceState = 110
	DeviceStateFailed       DeviceState = 120
)

// StateReason explains a device state change.
type StateReason uint32

const (
	StateReasonNone      StateReason = 0
	StateReasonNoSecrets StateReason = 7
)

// ActivationStage is the progress of one activation request.
type ActivationStage int

const (
	StageActivating ActivationStage = iota + 1
	StageActivated
	StageFailed
)

func (s ActivationStage) String() string {
	switch s {
	case StageActivating:
		return "activating"
	case StageActivated:
		return "activated"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notification is a platform event. The concrete types below are the only implementations.
type Notification interface {
	notification()
}

// DeviceStateChanged reports a device state transition.
type DeviceStateChanged struct {
	DeviceKey string
	New, Old  DeviceState
	Reason    StateReason
}

// AccessPointAdded reports a newly visible radio.
type AccessPointAdded struct {
	DeviceKey   string
	AccessPoint NativeAccessPoint
}

// AccessPointRemoved reports a radio that went away.
type AccessPointRemoved struct {
	DeviceKey string
	Key       string
}

// AccessPointStrengthChanged reports a new signal strength for a radio.
type AccessPointStrengthChanged struct {
	Key string
}

// ActiveConnectionChanged reports that a device's active connection changed.
type ActiveConnectionChanged struct {
	DeviceKey string
}

// WirelessEnabledChanged reports the radio being switched.
type WirelessEnabledChanged struct {
	Enabled bool
}

// ProfilesChanged reports that saved profiles were added, removed or updated.
type ProfilesChanged struct{}

// DevicesChanged reports devices being added or removed.
type DevicesChanged struct{}

// ActivationProgress reports progress of the activation request RequestID.
type ActivationProgress struct {
	RequestID   uint64
	Stage       ActivationStage
	Active      ActiveConnection
	AuthFailure bool
	Err         error
}

func (DeviceStateChanged) notification()         {}
func (AccessPointAdded) notification()           {}
func (AccessPointRemoved) notification()         {}
func (AccessPointStrengthChanged) notification() {}
func (ActiveConnectionChanged) notification()    {}
func (WirelessEnabledChanged) notification()     {}
func (ProfilesChanged) notification()            {}
func (DevicesChanged) notification()             {}
func (ActivationProgress) notification()         {}
