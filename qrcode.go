package main

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/shazow/wifimgr/wifi"
)

// EscapeWifiString handles the special character escaping for SSID and Password.
func EscapeWifiString(s string) string {
	// A replacer is more efficient than calling strings.Replace multiple times.
	r := strings.NewReplacer(
		`\`, `\\`,
		`;`, `\;`,
		`,`, `\,`,
		`:`, `\:`,
		`"`, `\"`,
	)
	return r.Replace(s)
}

// WifiString builds the WIFI: connection string understood by phone cameras.
func WifiString(ssid, password string, security wifi.SecurityType, isHidden bool) string {
	var b strings.Builder

	b.WriteString("WIFI:S:")
	b.WriteString(EscapeWifiString(ssid))
	b.WriteString(";")

	switch security {
	case wifi.SecurityWPA, wifi.SecurityRSN:
		b.WriteString("T:WPA;P:")
		b.WriteString(EscapeWifiString(password))
		b.WriteString(";")
	case wifi.SecurityWEP:
		b.WriteString("T:WEP;P:")
		b.WriteString(EscapeWifiString(password))
		b.WriteString(";")
	case wifi.SecurityOpen:
		b.WriteString("T:nopass;")
	default:
		// Don't set T if security is unknown, most readers will assume WPA.
	}

	if isHidden {
		b.WriteString("H:true;")
	}

	b.WriteString(";")
	return b.String()
}

// GenerateWifiQRCode returns the terminal rendering of the QR code for a network.
func GenerateWifiQRCode(ssid, password string, security wifi.SecurityType, isHidden bool, level qrcode.RecoveryLevel) (string, error) {
	q, err := qrcode.New(WifiString(ssid, password, security, isHidden), level)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
