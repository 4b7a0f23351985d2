package wifi

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// ProfileSettings is the platform-neutral content of a connection profile.
type ProfileSettings struct {
	ID            string
	SSID          []byte
	Mode          Mode
	Security      SecurityType
	Secret        string
	BSSID         string
	InterfaceName string
	Hidden        bool
	AutoConnect   bool
}

// NewProfileSettings builds the settings used to create a profile for ap.
func NewProfileSettings(ap *AccessPoint, secret string) ProfileSettings {
	s := ProfileSettings{
		ID:          ap.SSID(),
		SSID:        ap.SSIDBytes(),
		Mode:        ap.Mode(),
		Security:    ap.Security(),
		AutoConnect: true,
	}
	if ap.IsSecured() {
		s.Secret = secret
	}
	return s
}

// Compatible reports whether a profile with these settings can connect to ap.
// A BSSID lock is only enforced when ap has a BSSID.
func (s ProfileSettings) Compatible(ap NativeAccessPoint) bool {
	if ap == nil || !bytes.Equal(s.SSID, ap.SSID()) {
		return false
	}
	if s.BSSID != "" && ap.BSSID() != "" && !strings.EqualFold(s.BSSID, ap.BSSID()) {
		return false
	}
	if s.Mode != ModeUnknown && ap.Mode() != ModeUnknown && s.Mode != ap.Mode() {
		return false
	}
	return securityCompatible(s.Security, ap.Security())
}

func securityCompatible(profile, ap SecurityType) bool {
	switch ap {
	case SecurityUnknown:
		return true
	case SecurityOpen:
		return profile == SecurityOpen
	case SecurityWEP:
		return profile == SecurityWEP
	case SecurityWPA, SecurityRSN:
		return profile == SecurityWPA || profile == SecurityRSN
	}
	return false
}

// Verify checks the settings before activation. Unlike ValidateSecret it
// also checks that the key material is well formed.
func (s ProfileSettings) Verify() error {
	if len(s.SSID) == 0 || len(s.SSID) > maxSSIDLen {
		return fmt.Errorf("ssid length %d out of range: %w", len(s.SSID), ErrOperationFailed)
	}
	if s.Security != SecurityOpen && s.Security != SecurityUnknown && s.Secret != "" {
		if err := ValidateSecret(s.Security, s.Secret); err != nil {
			return err
		}
		return checkKeyMaterial(s.Security, s.Secret)
	}
	return nil
}

// ValidateSecret checks the key length for a security class. WEP keys are 5,
// 10, 13 or 26 characters. WPA passphrases are at least 8 characters.
func ValidateSecret(security SecurityType, secret string) error {
	switch security {
	case SecurityWEP:
		switch len(secret) {
		case 5, 10, 13, 26:
			return nil
		}
		return fmt.Errorf("wep key must be 5, 10, 13 or 26 characters: %w", ErrInvalidSecretFormat)
	case SecurityWPA, SecurityRSN:
		if len(secret) >= 8 {
			return nil
		}
		return fmt.Errorf("wpa passphrase must be at least 8 characters: %w", ErrInvalidSecretFormat)
	}
	return nil
}

// checkKeyMaterial reports keys the daemon is likely to reject: 10 and 26
// character WEP keys that are not hex, and WPA keys over 63 characters that
// are not a 64 digit hex key.
func checkKeyMaterial(security SecurityType, secret string) error {
	switch security {
	case SecurityWEP:
		if n := len(secret); (n == 10 || n == 26) && !isHex(secret) {
			return fmt.Errorf("wep key of %d characters is not hex: %w", n, ErrInvalidSecretFormat)
		}
	case SecurityWPA, SecurityRSN:
		if n := len(secret); n > 63 && !(n == 64 && isHex(secret)) {
			return fmt.Errorf("wpa passphrase of %d characters is not a hex key: %w", n, ErrInvalidSecretFormat)
		}
	}
	return nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
