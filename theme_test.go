package main

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/shazow/wifimgr/internal/config"
)

func TestApplyConfig(t *testing.T) {
	primary := "#FF0000"
	high := "#008000"
	theme := NewDefaultTheme().ApplyConfig(config.ThemeConfig{
		Primary:    &primary,
		SignalHigh: &high,
	})

	assert.Equal(t, lipgloss.Color("#FF0000"), theme.Primary)
	assert.Equal(t, lipgloss.AdaptiveColor{Light: high, Dark: high}, theme.SignalHigh)
	assert.Equal(t, NewDefaultTheme().Subtle, theme.Subtle, "unset colors keep their defaults")
}

func TestSignalColor(t *testing.T) {
	theme := NewDefaultTheme()
	theme.SignalLow = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#000000"}
	theme.SignalHigh = lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#ffffff"}

	assert.Equal(t, lipgloss.Color("#000000"), theme.SignalColor(0))
	assert.Equal(t, lipgloss.Color("#ffffff"), theme.SignalColor(100))
	assert.NotEqual(t, theme.SignalColor(30), theme.SignalColor(70))

	theme.SignalLow = lipgloss.AdaptiveColor{Light: "nope", Dark: "nope"}
	assert.Equal(t, lipgloss.Color("#ffffff"), theme.SignalColor(50), "bad colors fall back")
}
