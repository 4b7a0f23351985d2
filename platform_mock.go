//go:build mock

package main

import (
	"log/slog"

	"github.com/shazow/wifimgr/wifi"
	"github.com/shazow/wifimgr/wifi/mock"
)

func GetPlatform(logger *slog.Logger) (wifi.Platform, error) {
	logger.Info("using mock platform")
	return mock.New(), nil
}
