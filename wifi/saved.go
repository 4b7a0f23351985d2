package wifi

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shazow/wifimgr/wifi/worker"
)

// SavedProfiles is a read-through cache over the platform's saved profiles.
// All methods run inside the worker.
type SavedProfiles struct {
	platform Platform
	logger   *slog.Logger

	// physical returns the live radios for a logical access point.
	physical func(*worker.Context, Hash) []*PhysicalAccessPoint

	cache []Profile
	stale bool
}

// NewSavedProfiles returns an empty store; the first query loads from platform.
func NewSavedProfiles(platform Platform, logger *slog.Logger) *SavedProfiles {
	if logger == nil {
		logger = slog.Default()
	}
	return &SavedProfiles{
		platform: platform,
		logger:   logger.With("component", "saved"),
		stale:    true,
	}
}

// Invalidate makes the next query reload from the platform.
func (s *SavedProfiles) Invalidate(_ *worker.Context) {
	s.stale = true
}

func (s *SavedProfiles) load(_ *worker.Context) []Profile {
	if !s.stale {
		return s.cache
	}
	profiles, err := s.platform.SavedProfiles()
	if err != nil {
		s.logger.Warn("failed to load saved profiles", "error", err)
		return s.cache
	}
	s.cache = profiles
	s.stale = false
	return s.cache
}

// Keys returns the set of saved profile keys.
func (s *SavedProfiles) Keys(ctx *worker.Context) map[string]bool {
	keys := make(map[string]bool)
	for _, p := range s.load(ctx) {
		keys[p.Key()] = true
	}
	return keys
}

// Matching returns the profiles usable with p, most recently used first.
func (s *SavedProfiles) Matching(ctx *worker.Context, p *PhysicalAccessPoint) []Profile {
	n, ok := p.Native(ctx)
	if !ok {
		return nil
	}
	var out []Profile
	for _, profile := range s.load(ctx) {
		if profile.Matches(n) {
			out = append(out, profile)
		}
	}
	sortProfiles(out)
	return out
}

// MatchingFor returns the profiles usable with any live radio of ap, or, when
// ap is gone, the profiles compatible with its SSID, mode and security.
func (s *SavedProfiles) MatchingFor(ctx *worker.Context, ap *AccessPoint) []Profile {
	if ap == nil {
		return nil
	}
	var live []*PhysicalAccessPoint
	if s.physical != nil {
		live = s.physical(ctx, ap.Hash())
	}

	var out []Profile
	seen := make(map[string]bool)
	if len(live) > 0 {
		for _, p := range live {
			for _, profile := range s.Matching(ctx, p) {
				if !seen[profile.Key()] {
					seen[profile.Key()] = true
					out = append(out, profile)
				}
			}
		}
	} else {
		desc := descriptor{ap: ap}
		for _, profile := range s.load(ctx) {
			if profile.Matches(desc) {
				out = append(out, profile)
			}
		}
	}
	sortProfiles(out)
	return out
}

// HasProfileFor reports whether any saved profile can connect to ap.
func (s *SavedProfiles) HasProfileFor(ctx *worker.Context, ap *AccessPoint) bool {
	return len(s.MatchingFor(ctx, ap)) > 0
}

// LastUsed is the most recent activation time of any profile matching ap, or
// the zero time.
func (s *SavedProfiles) LastUsed(ctx *worker.Context, ap *AccessPoint) time.Time {
	var last time.Time
	for _, p := range s.MatchingFor(ctx, ap) {
		if t := p.LastConnected(); t.After(last) {
			last = t
		}
	}
	return last
}

// Secret returns the stored key of the most recently used profile for ap.
func (s *SavedProfiles) Secret(ctx *worker.Context, ap *AccessPoint) (string, error) {
	profiles := s.MatchingFor(ctx, ap)
	if len(profiles) == 0 {
		return "", fmt.Errorf("no saved profile for %s: %w", ap.SSID(), ErrNotFound)
	}
	return profiles[0].Secret()
}

// DeleteProfilesFor deletes every profile matching ap.
func (s *SavedProfiles) DeleteProfilesFor(ctx *worker.Context, ap *AccessPoint) error {
	return s.deleteMatching(ctx, ap, nil)
}

// DeleteNewProfiles deletes the profiles matching ap whose keys are not in
// preexisting. It removes profiles created by a failed activation.
func (s *SavedProfiles) DeleteNewProfiles(ctx *worker.Context, ap *AccessPoint, preexisting map[string]bool) error {
	return s.deleteMatching(ctx, ap, preexisting)
}

func (s *SavedProfiles) deleteMatching(ctx *worker.Context, ap *AccessPoint, keep map[string]bool) error {
	s.Invalidate(ctx)
	var errs []error
	for _, p := range s.MatchingFor(ctx, ap) {
		if keep[p.Key()] {
			continue
		}
		s.logger.Info("deleting saved profile", "id", p.ID(), "ssid", ap.SSID())
		if err := p.Delete(); err != nil {
			errs = append(errs, fmt.Errorf("deleting profile %s: %w", p.ID(), err))
		}
	}
	s.Invalidate(ctx)
	s.RefreshAPMetadata(ctx, ap)
	return errors.Join(errs...)
}

// RefreshAPMetadata writes the saved flag and last-used time onto ap.
func (s *SavedProfiles) RefreshAPMetadata(ctx *worker.Context, ap *AccessPoint) {
	if ap == nil {
		return
	}
	ap.setSaved(s.HasProfileFor(ctx, ap), s.LastUsed(ctx, ap))
}

func sortProfiles(profiles []Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		a, b := profiles[i].LastConnected(), profiles[j].LastConnected()
		if !a.Equal(b) {
			return a.After(b)
		}
		return profiles[i].Key() < profiles[j].Key()
	})
}

// descriptor presents a logical access point as a radio without a BSSID, for
// matching profiles against networks that are not currently visible.
type descriptor struct {
	ap *AccessPoint
}

func (d descriptor) Key() string            { return d.ap.Hash().String() }
func (d descriptor) SSID() []byte           { return d.ap.SSIDBytes() }
func (d descriptor) BSSID() string          { return "" }
func (d descriptor) Strength() uint8        { return 0 }
func (d descriptor) Mode() Mode             { return d.ap.Mode() }
func (d descriptor) Security() SecurityType { return d.ap.Security() }
func (d descriptor) Frequency() uint        { return 0 }
