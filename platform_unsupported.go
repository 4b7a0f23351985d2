//go:build !linux && !mock

package main

import (
	"fmt"
	"log/slog"

	"github.com/shazow/wifimgr/wifi"
)

// GetPlatform returns an error for unsupported operating systems.
func GetPlatform(logger *slog.Logger) (wifi.Platform, error) {
	return nil, fmt.Errorf("unsupported operating system: %w", wifi.ErrNotSupported)
}
