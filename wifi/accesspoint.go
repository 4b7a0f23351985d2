package wifi

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// AccessPoint is a logical network: every physical radio sharing its Hash.
//
// An AccessPoint is shared by pointer and its mutable fields are visible to
// every holder. Only the Directory and SavedProfiles change them. A nil
// *AccessPoint is the null access point; all accessors are safe on it.
type AccessPoint struct {
	hash     Hash
	ssid     []byte
	mode     Mode
	security SecurityType

	mu            sync.RWMutex
	visible       bool
	strength      uint8
	saved         bool
	lastConnected time.Time
}

func newAccessPoint(hash Hash, ssid []byte, mode Mode, security SecurityType) *AccessPoint {
	return &AccessPoint{
		hash:     hash,
		ssid:     append([]byte(nil), ssid...),
		mode:     mode,
		security: security,
	}
}

// IsNull reports whether ap is the null access point.
func (ap *AccessPoint) IsNull() bool {
	return ap == nil
}

func (ap *AccessPoint) Hash() Hash {
	if ap == nil {
		return Hash{}
	}
	return ap.hash
}

// SSID returns the display form of the SSID. Invalid UTF-8 is replaced.
func (ap *AccessPoint) SSID() string {
	if ap == nil {
		return ""
	}
	return strings.ToValidUTF8(string(ap.ssid), "�")
}

// SSIDBytes returns a copy of the raw SSID.
func (ap *AccessPoint) SSIDBytes() []byte {
	if ap == nil {
		return nil
	}
	return append([]byte(nil), ap.ssid...)
}

func (ap *AccessPoint) Mode() Mode {
	if ap == nil {
		return ModeUnknown
	}
	return ap.mode
}

func (ap *AccessPoint) Security() SecurityType {
	if ap == nil {
		return SecurityUnknown
	}
	return ap.security
}

// IsSecured reports whether connecting needs a key.
func (ap *AccessPoint) IsSecured() bool {
	s := ap.Security()
	return s != SecurityOpen && s != SecurityUnknown
}

// Strength is the strongest signal among live physical instances, or 0 when gone.
func (ap *AccessPoint) Strength() uint8 {
	if ap == nil {
		return 0
	}
	ap.mu.RLock()
	defer ap.mu.RUnlock()
	return ap.strength
}

// Visible reports whether at least one physical instance is live.
func (ap *AccessPoint) Visible() bool {
	if ap == nil {
		return false
	}
	ap.mu.RLock()
	defer ap.mu.RUnlock()
	return ap.visible
}

func (ap *AccessPoint) HasSavedProfile() bool {
	if ap == nil {
		return false
	}
	ap.mu.RLock()
	defer ap.mu.RUnlock()
	return ap.saved
}

// LastConnected is the zero time if no saved profile was ever used.
func (ap *AccessPoint) LastConnected() time.Time {
	if ap == nil {
		return time.Time{}
	}
	ap.mu.RLock()
	defer ap.mu.RUnlock()
	return ap.lastConnected
}

// Equal compares identity. Two null access points are equal.
func (ap *AccessPoint) Equal(other *AccessPoint) bool {
	if ap == nil || other == nil {
		return ap == other
	}
	return ap.hash == other.hash
}

func (ap *AccessPoint) String() string {
	if ap == nil {
		return "<null access point>"
	}
	return fmt.Sprintf("%q (%s, %d%%)", ap.SSID(), ap.security, ap.Strength())
}

func (ap *AccessPoint) setStrength(strength uint8) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.visible = true
	ap.strength = strength
}

func (ap *AccessPoint) markGone() {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.visible = false
	ap.strength = 0
}

// setSaved never moves lastConnected backwards.
func (ap *AccessPoint) setSaved(saved bool, lastConnected time.Time) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.saved = saved
	if lastConnected.After(ap.lastConnected) {
		ap.lastConnected = lastConnected
	}
}

func (ap *AccessPoint) touchLastConnected(t time.Time) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	if t.After(ap.lastConnected) {
		ap.lastConnected = t
	}
}
