//go:build linux && !mock

package main

import (
	"log/slog"

	"github.com/shazow/wifimgr/wifi"
	"github.com/shazow/wifimgr/wifi/networkmanager"
)

func GetPlatform(logger *slog.Logger) (wifi.Platform, error) {
	p, err := networkmanager.New()
	if err != nil {
		logger.Error("failed to initialize networkmanager platform", "error", err)
		return nil, err
	}
	return p, nil
}
