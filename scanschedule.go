package main

import (
	"context"
	"fmt"
	"time"
)

const (
	ScanOff  = 0
	ScanFast = 2 * time.Second
	ScanSlow = 8 * time.Second
)

// ScanSchedule triggers scans at a regular interval.
type ScanSchedule struct {
	callback func() error
	interval time.Duration
}

// NewScanSchedule creates a new ScanSchedule.
func NewScanSchedule(callback func() error) *ScanSchedule {
	return &ScanSchedule{
		callback: callback,
	}
}

// ParseScanInterval accepts "off", "fast", "slow" or a duration.
func ParseScanInterval(s string) (time.Duration, error) {
	switch s {
	case "off", "":
		return ScanOff, nil
	case "fast":
		return ScanFast, nil
	case "slow":
		return ScanSlow, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid scan interval %q", s)
	}
	return d, nil
}

// SetSchedule sets the scan interval. Call before Run.
func (s *ScanSchedule) SetSchedule(interval time.Duration) {
	s.interval = interval
}

// Run calls the callback every interval until ctx is done. It returns
// immediately when the schedule is off. Callback errors do not stop the
// schedule; they are passed to onError.
func (s *ScanSchedule) Run(ctx context.Context, onError func(error)) {
	if s.interval == ScanOff {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.callback(); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
