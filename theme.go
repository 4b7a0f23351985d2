package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/shazow/wifimgr/internal/config"
)

// Theme contains the colors for command output.
type Theme struct {
	Primary lipgloss.TerminalColor
	Subtle  lipgloss.TerminalColor
	Success lipgloss.TerminalColor
	Error   lipgloss.TerminalColor

	SignalHigh lipgloss.AdaptiveColor
	SignalLow  lipgloss.AdaptiveColor
}

// CurrentTheme is the active theme for the application.
var CurrentTheme = NewDefaultTheme()

// NewDefaultTheme creates a new default theme.
func NewDefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#D359E3"}, // Purple/Pink
		Subtle:  lipgloss.AdaptiveColor{Light: "#BDBDBD", Dark: "#616161"}, // Gray
		Success: lipgloss.AdaptiveColor{Light: "#388E3C", Dark: "#81C784"}, // Green
		Error:   lipgloss.AdaptiveColor{Light: "#D32F2F", Dark: "#E57373"}, // Red

		SignalHigh: lipgloss.AdaptiveColor{Light: "#00B300", Dark: "#00FF00"},
		SignalLow:  lipgloss.AdaptiveColor{Light: "#D05F00", Dark: "#BC3C00"},
	}
}

// ApplyConfig overrides the colors set in the config file. A single value
// is used for both light and dark backgrounds.
func (t Theme) ApplyConfig(c config.ThemeConfig) Theme {
	if c.Primary != nil {
		t.Primary = lipgloss.Color(*c.Primary)
	}
	if c.Subtle != nil {
		t.Subtle = lipgloss.Color(*c.Subtle)
	}
	if c.Success != nil {
		t.Success = lipgloss.Color(*c.Success)
	}
	if c.Error != nil {
		t.Error = lipgloss.Color(*c.Error)
	}
	if c.SignalHigh != nil {
		t.SignalHigh = lipgloss.AdaptiveColor{Light: *c.SignalHigh, Dark: *c.SignalHigh}
	}
	if c.SignalLow != nil {
		t.SignalLow = lipgloss.AdaptiveColor{Light: *c.SignalLow, Dark: *c.SignalLow}
	}
	return t
}

// SignalColor blends from SignalLow to SignalHigh by strength (0-100).
func (t Theme) SignalColor(strength uint8) lipgloss.Color {
	high, low := t.SignalHigh.Light, t.SignalLow.Light
	if lipgloss.HasDarkBackground() {
		high, low = t.SignalHigh.Dark, t.SignalLow.Dark
	}
	start, err := colorful.Hex(low)
	if err != nil {
		return lipgloss.Color(high)
	}
	end, err := colorful.Hex(high)
	if err != nil {
		return lipgloss.Color(low)
	}
	p := float64(strength) / 100.0
	return lipgloss.Color(start.BlendRgb(end, p).Hex())
}
