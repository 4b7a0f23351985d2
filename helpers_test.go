package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "30 seconds ago"},
		{45 * time.Minute, "45 minutes ago"},
		{5 * time.Hour, "5.0 hours ago"},
		{72 * time.Hour, "3.0 days ago"},
		{20 * 24 * time.Hour, "20 days ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSince(now, now.Add(-tt.ago)))
	}
	assert.Equal(t, "never", formatSince(now, time.Time{}))
}
