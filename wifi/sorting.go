package wifi

import "sort"

// SortAccessPoints sorts access points in place.
// The sorting order is:
// 1. The active access point first.
// 2. Visible networks, sorted by signal strength (strongest first).
// 3. Networks that are gone, sorted by LastConnected (most recent first).
// 4. Fallback to SSID alphabetically, then hash.
func SortAccessPoints(aps []*AccessPoint, active *AccessPoint) {
	sort.SliceStable(aps, func(i, j int) bool {
		a := aps[i]
		b := aps[j]

		if active != nil {
			aActive, bActive := a.Equal(active), b.Equal(active)
			if aActive != bActive {
				return aActive
			}
		}

		if a.Visible() != b.Visible() {
			return a.Visible()
		}

		if a.Visible() {
			if a.Strength() != b.Strength() {
				return a.Strength() > b.Strength()
			}
		} else {
			at, bt := a.LastConnected(), b.LastConnected()
			if !at.Equal(bt) {
				return at.After(bt)
			}
		}

		if a.SSID() != b.SSID() {
			return a.SSID() < b.SSID()
		}
		return a.Hash().Compare(b.Hash()) < 0
	})
}
