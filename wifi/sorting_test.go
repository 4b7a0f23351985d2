package wifi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func visibleAP(ssid string, strength uint8) *AccessPoint {
	ap := testAP(ssid, SecurityWPA)
	ap.setStrength(strength)
	return ap
}

func goneAP(ssid string, last time.Time) *AccessPoint {
	ap := testAP(ssid, SecurityWPA)
	ap.setSaved(true, last)
	return ap
}

func ssids(aps []*AccessPoint) []string {
	out := make([]string, len(aps))
	for i, ap := range aps {
		out[i] = ap.SSID()
	}
	return out
}

func TestSortAccessPoints(t *testing.T) {
	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)

	active := visibleAP("Active", 10)

	tests := []struct {
		name     string
		aps      []*AccessPoint
		active   *AccessPoint
		expected []string
	}{
		{
			name:     "Sort by active",
			aps:      []*AccessPoint{visibleAP("Inactive", 90), active},
			active:   active,
			expected: []string{"Active", "Inactive"},
		},
		{
			name:     "Sort by visible",
			aps:      []*AccessPoint{goneAP("NotVisible", now), visibleAP("Visible", 1)},
			expected: []string{"Visible", "NotVisible"},
		},
		{
			name:     "Sort by strength",
			aps:      []*AccessPoint{visibleAP("Weak", 10), visibleAP("Strong", 90)},
			expected: []string{"Strong", "Weak"},
		},
		{
			name: "Sort by last connected",
			aps: []*AccessPoint{
				goneAP("TwoDaysAgo", twoDaysAgo),
				goneAP("Yesterday", yesterday),
				goneAP("Never", time.Time{}),
			},
			expected: []string{"Yesterday", "TwoDaysAgo", "Never"},
		},
		{
			name:     "Sort by SSID",
			aps:      []*AccessPoint{visibleAP("B", 50), visibleAP("A", 50)},
			expected: []string{"A", "B"},
		},
		{
			name: "Combined sort",
			aps: []*AccessPoint{
				goneAP("Gone", now),
				visibleAP("Visible Weak", 20),
				active,
				visibleAP("Visible Strong", 80),
			},
			active:   active,
			expected: []string{"Active", "Visible Strong", "Visible Weak", "Gone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SortAccessPoints(tt.aps, tt.active)
			assert.Equal(t, tt.expected, ssids(tt.aps))
		})
	}
}

func TestSortAccessPointsSameSSID(t *testing.T) {
	wpa := testAP("Home", SecurityWPA)
	wpa.setStrength(50)
	open := testAP("Home", SecurityOpen)
	open.setStrength(50)

	a := []*AccessPoint{wpa, open}
	b := []*AccessPoint{open, wpa}
	SortAccessPoints(a, nil)
	SortAccessPoints(b, nil)
	assert.Equal(t, a, b, "hash breaks the tie deterministically")
}
