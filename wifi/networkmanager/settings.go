package networkmanager

import (
	"time"

	"github.com/shazow/wifimgr/wifi"
)

// Setting names and values used in NetworkManager connection settings.
const (
	settingConnection = "connection"
	settingWireless   = "802-11-wireless"
	settingSecurity   = "802-11-wireless-security"
	settingIPv4       = "ipv4"
	settingIPv6       = "ipv6"

	typeWireless = "802-11-wireless"
)

// Access point flag bits, see NM80211ApFlags and NM80211ApSecurityFlags.
const (
	apFlagPrivacy = 0x1

	securityKeyMgmtPSK   = 0x100
	securityKeyMgmt8021X = 0x200
	securityKeyMgmtSAE   = 0x400
	securityKeyMgmtOWE   = 0x800
)

// NM80211Mode values.
const (
	nmModeAdhoc = 1
	nmModeInfra = 2
	nmModeAP    = 3
)

type connectionSettings = map[string]map[string]interface{}

// newConnectionSettings builds the settings map for a new wifi profile.
func newConnectionSettings(s wifi.ProfileSettings, uuid string) connectionSettings {
	id := s.ID
	if id == "" {
		id = string(s.SSID)
	}
	settings := connectionSettings{
		settingConnection: {
			"id":          id,
			"uuid":        uuid,
			"type":        typeWireless,
			"autoconnect": s.AutoConnect,
		},
		settingWireless: {
			"mode": modeSetting(s.Mode),
			"ssid": s.SSID,
		},
		settingIPv4: {"method": "auto"},
		settingIPv6: {"method": "auto"},
	}
	if s.InterfaceName != "" {
		settings[settingConnection]["interface-name"] = s.InterfaceName
	}
	if s.Hidden {
		settings[settingWireless]["hidden"] = true
	}
	if s.BSSID != "" {
		settings[settingWireless]["bssid"] = s.BSSID
	}

	switch s.Security {
	case wifi.SecurityOpen, wifi.SecurityUnknown:
	case wifi.SecurityWEP:
		settings[settingWireless]["security"] = settingSecurity
		settings[settingSecurity] = map[string]interface{}{
			"key-mgmt":     "none",
			"wep-key0":     s.Secret,
			"wep-key-type": wepKeyType(s.Secret),
		}
	default:
		settings[settingWireless]["security"] = settingSecurity
		settings[settingSecurity] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      s.Secret,
		}
	}
	return settings
}

// wepKeyType is 1 for a hex or ascii key and 2 for a passphrase.
func wepKeyType(key string) uint32 {
	switch len(key) {
	case 5, 10, 13, 26:
		return 1
	}
	return 2
}

func modeSetting(m wifi.Mode) string {
	switch m {
	case wifi.ModeAdhoc:
		return "adhoc"
	case wifi.ModeHotspot:
		return "ap"
	default:
		return "infrastructure"
	}
}

// parseProfileSettings reads a settings map. ok is false for anything that
// is not a wifi profile.
func parseProfileSettings(settings connectionSettings) (s wifi.ProfileSettings, ok bool) {
	conn, ok := settings[settingConnection]
	if !ok {
		return s, false
	}
	if t, _ := conn["type"].(string); t != typeWireless {
		return s, false
	}
	wireless, ok := settings[settingWireless]
	if !ok {
		return s, false
	}
	ssid, _ := wireless["ssid"].([]byte)
	if len(ssid) == 0 {
		return s, false
	}

	s.SSID = ssid
	s.ID, _ = conn["id"].(string)
	s.InterfaceName, _ = conn["interface-name"].(string)
	s.AutoConnect = true
	if ac, ok := conn["autoconnect"].(bool); ok {
		s.AutoConnect = ac
	}
	s.Hidden, _ = wireless["hidden"].(bool)
	s.BSSID = bssidSetting(wireless["bssid"])

	switch mode, _ := wireless["mode"].(string); mode {
	case "adhoc":
		s.Mode = wifi.ModeAdhoc
	case "ap":
		s.Mode = wifi.ModeHotspot
	default:
		s.Mode = wifi.ModeInfrastructure
	}

	s.Security = wifi.SecurityOpen
	if sec, ok := settings[settingSecurity]; ok {
		switch km, _ := sec["key-mgmt"].(string); km {
		case "none", "ieee8021x":
			s.Security = wifi.SecurityWEP
		case "wpa-psk", "sae", "wpa-eap":
			s.Security = wifi.SecurityRSN
		case "owe":
			s.Security = wifi.SecurityOpen
		default:
			s.Security = wifi.SecurityUnknown
		}
	}
	return s, true
}

// bssidSetting accepts the bssid as either raw bytes or a formatted string.
func bssidSetting(v interface{}) string {
	switch b := v.(type) {
	case string:
		return b
	case []byte:
		if len(b) != 6 {
			return ""
		}
		const digits = "0123456789ABCDEF"
		out := make([]byte, 0, 17)
		for i, c := range b {
			if i > 0 {
				out = append(out, ':')
			}
			out = append(out, digits[c>>4], digits[c&0xf])
		}
		return string(out)
	}
	return ""
}

// lastConnected reads the connection timestamp. It is zero if the profile was never activated.
func lastConnected(settings connectionSettings) time.Time {
	conn, ok := settings[settingConnection]
	if !ok {
		return time.Time{}
	}
	if ts, ok := conn["timestamp"].(uint64); ok && ts > 0 {
		return time.Unix(int64(ts), 0)
	}
	return time.Time{}
}

// secretFrom extracts the stored key from a GetSecrets result.
func secretFrom(secrets connectionSettings) string {
	sec, ok := secrets[settingSecurity]
	if !ok {
		return ""
	}
	if psk, ok := sec["psk"].(string); ok && psk != "" {
		return psk
	}
	if wep, ok := sec["wep-key0"].(string); ok {
		return wep
	}
	return ""
}

// securityFromFlags derives the security class from the access point flags.
// RSN wins over WPA, and either needs a key management bit.
func securityFromFlags(flags, wpaFlags, rsnFlags uint32) wifi.SecurityType {
	const keyMgmt = securityKeyMgmtPSK | securityKeyMgmt8021X | securityKeyMgmtSAE
	switch {
	case rsnFlags&keyMgmt != 0:
		return wifi.SecurityRSN
	case wpaFlags&keyMgmt != 0:
		return wifi.SecurityWPA
	case rsnFlags&securityKeyMgmtOWE != 0:
		return wifi.SecurityOpen
	case rsnFlags != 0 || wpaFlags != 0:
		return wifi.SecurityUnknown
	case flags&apFlagPrivacy != 0:
		return wifi.SecurityWEP
	}
	return wifi.SecurityOpen
}

func modeFromNM(mode uint32) wifi.Mode {
	switch mode {
	case nmModeAdhoc:
		return wifi.ModeAdhoc
	case nmModeInfra:
		return wifi.ModeInfrastructure
	case nmModeAP:
		return wifi.ModeHotspot
	}
	return wifi.ModeUnknown
}
