package wifi

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shazow/wifimgr/wifi/worker"
)

// PhysicalAccessPoint is a borrowed platform radio. Its native handle is only
// reachable with a worker context and reads as empty once the radio is gone.
type PhysicalAccessPoint struct {
	b     *worker.Borrowed[NativeAccessPoint]
	hash  Hash
	bssid string
}

func (p *PhysicalAccessPoint) Hash() Hash {
	if p == nil {
		return Hash{}
	}
	return p.hash
}

func (p *PhysicalAccessPoint) Key() string {
	if p == nil {
		return ""
	}
	return p.b.Key()
}

// BSSID is cached when the radio is first seen, so it survives invalidation.
func (p *PhysicalAccessPoint) BSSID() string {
	if p == nil {
		return ""
	}
	return p.bssid
}

// IsNull reports whether the radio has been removed.
func (p *PhysicalAccessPoint) IsNull() bool {
	return p == nil || !p.b.Valid()
}

// Native returns the platform handle.
func (p *PhysicalAccessPoint) Native(ctx *worker.Context) (NativeAccessPoint, bool) {
	if p == nil {
		return nil, false
	}
	return p.b.Native(ctx)
}

// Strength returns 0 once the radio is gone.
func (p *PhysicalAccessPoint) Strength(ctx *worker.Context) uint8 {
	n, ok := p.Native(ctx)
	if !ok {
		return 0
	}
	return n.Strength()
}

// Directory is the authoritative set of logical access points.
//
// Mutating methods take a worker context. Get and List are safe from any goroutine.
type Directory struct {
	logger  *slog.Logger
	saved   *SavedProfiles
	metrics Metrics
	lender  *worker.Lender[NativeAccessPoint]

	physical map[string]*PhysicalAccessPoint
	byHash   map[Hash][]*PhysicalAccessPoint

	mu      sync.RWMutex
	logical map[Hash]*AccessPoint

	lmu       sync.Mutex
	listeners []AccessPointListener
}

// NewDirectory returns an empty directory. saved may be nil, in which case
// saved-profile flags are never populated.
func NewDirectory(logger *slog.Logger, saved *SavedProfiles, metrics Metrics) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Directory{
		logger:   logger.With("component", "directory"),
		saved:    saved,
		metrics:  metrics,
		lender:   worker.NewLender[NativeAccessPoint](),
		physical: make(map[string]*PhysicalAccessPoint),
		byHash:   make(map[Hash][]*PhysicalAccessPoint),
		logical:  make(map[Hash]*AccessPoint),
	}
}

// AddListener registers l for added, removed and strength events.
func (d *Directory) AddListener(l AccessPointListener) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	d.listeners = append(d.listeners, l)
}

// FullRescan reconciles the directory with the radios dev currently sees.
func (d *Directory) FullRescan(ctx *worker.Context, dev Device) error {
	natives, err := dev.AccessPoints()
	if err != nil {
		return fmt.Errorf("listing access points on %s: %w", dev.InterfaceName(), err)
	}

	var touched []Hash
	mark := make(map[Hash]bool)
	touch := func(h Hash) {
		if !mark[h] {
			mark[h] = true
			touched = append(touched, h)
		}
	}

	seen := make(map[string]bool, len(natives))
	for _, n := range natives {
		if n == nil || len(n.SSID()) == 0 {
			continue
		}
		p := d.track(ctx, n, touch)
		seen[p.Key()] = true
		touch(p.hash)
	}
	for _, b := range d.lender.AllBorrowed(ctx) {
		if !seen[b.Key()] {
			if p := d.untrack(ctx, b.Key()); p != nil {
				touch(p.hash)
			}
		}
	}
	for _, h := range touched {
		d.reconcile(ctx, h)
	}
	d.logger.Debug("full rescan", "interface", dev.InterfaceName(), "radios", len(seen), "networks", len(d.List(nil)))
	return nil
}

// AddPhysical tracks one radio and returns its wrapper, or nil if it has no SSID.
func (d *Directory) AddPhysical(ctx *worker.Context, n NativeAccessPoint) *PhysicalAccessPoint {
	if n == nil || len(n.SSID()) == 0 {
		return nil
	}
	var touched []Hash
	p := d.track(ctx, n, func(h Hash) { touched = append(touched, h) })
	touched = append(touched, p.hash)
	for _, h := range touched {
		d.reconcile(ctx, h)
	}
	return p
}

// RemovePhysical forgets the radio with the given key.
func (d *Directory) RemovePhysical(ctx *worker.Context, key string) {
	if p := d.untrack(ctx, key); p != nil {
		d.reconcile(ctx, p.hash)
	}
}

// UpdateStrength re-reads the strength of a tracked radio.
func (d *Directory) UpdateStrength(ctx *worker.Context, key string) {
	if p, ok := d.physical[key]; ok {
		d.reconcile(ctx, p.hash)
	}
}

// Clear drops every radio. Each visible network is reported removed.
func (d *Directory) Clear(ctx *worker.Context) {
	var touched []Hash
	for _, b := range d.lender.AllBorrowed(ctx) {
		if p := d.untrack(ctx, b.Key()); p != nil {
			touched = append(touched, p.hash)
		}
	}
	for _, h := range touched {
		d.reconcile(ctx, h)
	}
}

// Get returns the logical access point for h, or nil.
func (d *Directory) Get(h Hash) *AccessPoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.logical[h]
}

// List returns the visible access points, active first, then by strength.
func (d *Directory) List(active *AccessPoint) []*AccessPoint {
	d.mu.RLock()
	out := make([]*AccessPoint, 0, len(d.logical))
	for _, ap := range d.logical {
		if ap.Visible() {
			out = append(out, ap)
		}
	}
	d.mu.RUnlock()
	SortAccessPoints(out, active)
	return out
}

// Resolve maps a platform radio to its logical access point, or nil.
func (d *Directory) Resolve(ctx *worker.Context, n NativeAccessPoint) *AccessPoint {
	if n == nil {
		return nil
	}
	if p, ok := d.physical[n.Key()]; ok {
		return d.Get(p.hash)
	}
	return d.Get(NewHash(n.SSID(), n.Mode(), n.Security()))
}

// Physical returns the live radios for h, strongest first.
func (d *Directory) Physical(ctx *worker.Context, h Hash) []*PhysicalAccessPoint {
	live := append([]*PhysicalAccessPoint(nil), d.byHash[h]...)
	strength := make(map[*PhysicalAccessPoint]uint8, len(live))
	for _, p := range live {
		strength[p] = p.Strength(ctx)
	}
	sort.SliceStable(live, func(i, j int) bool {
		return strength[live[i]] > strength[live[j]]
	})
	return live
}

// StrongestPhysical returns the strongest live radio for h, or nil.
func (d *Directory) StrongestPhysical(ctx *worker.Context, h Hash) *PhysicalAccessPoint {
	live := d.Physical(ctx, h)
	if len(live) == 0 {
		return nil
	}
	return live[0]
}

// RefreshMetadata recomputes saved-profile fields on every known access point.
func (d *Directory) RefreshMetadata(ctx *worker.Context) {
	if d.saved == nil {
		return
	}
	d.mu.RLock()
	all := make([]*AccessPoint, 0, len(d.logical))
	for _, ap := range d.logical {
		all = append(all, ap)
	}
	d.mu.RUnlock()
	for _, ap := range all {
		d.saved.RefreshAPMetadata(ctx, ap)
	}
}

// track borrows n and indexes it. If the radio was tracked under another hash,
// touch is called with the old hash.
func (d *Directory) track(ctx *worker.Context, n NativeAccessPoint, touch func(Hash)) *PhysicalAccessPoint {
	h := NewHash(n.SSID(), n.Mode(), n.Security())
	b := d.lender.Borrow(ctx, n)
	if p, ok := d.physical[b.Key()]; ok {
		if p.hash == h {
			return p
		}
		// The radio changed identity, e.g. a hidden network revealing its SSID.
		d.unindex(p)
		touch(p.hash)
		p.hash = h
		d.byHash[h] = append(d.byHash[h], p)
		return p
	}
	p := &PhysicalAccessPoint{b: b, hash: h, bssid: n.BSSID()}
	d.physical[b.Key()] = p
	d.byHash[h] = append(d.byHash[h], p)
	return p
}

func (d *Directory) untrack(ctx *worker.Context, key string) *PhysicalAccessPoint {
	p, ok := d.physical[key]
	if !ok {
		return nil
	}
	d.lender.Invalidate(ctx, key)
	delete(d.physical, key)
	d.unindex(p)
	return p
}

func (d *Directory) unindex(p *PhysicalAccessPoint) {
	live := d.byHash[p.hash]
	for i, q := range live {
		if q == p {
			live = append(live[:i], live[i+1:]...)
			break
		}
	}
	if len(live) == 0 {
		delete(d.byHash, p.hash)
	} else {
		d.byHash[p.hash] = live
	}
}

// reconcile restores the strength invariant for h and emits the matching event.
func (d *Directory) reconcile(ctx *worker.Context, h Hash) {
	live := d.byHash[h]
	ap := d.Get(h)

	if len(live) == 0 {
		if ap != nil && ap.Visible() {
			ap.markGone()
			d.logger.Debug("access point removed", "ssid", ap.SSID())
			d.emit(func(l AccessPointListener) { l.AccessPointRemoved(ap) })
			d.metrics.VisibleAccessPoints(len(d.List(nil)))
		}
		return
	}

	var strongest uint8
	var first NativeAccessPoint
	for _, p := range live {
		n, ok := p.Native(ctx)
		if !ok {
			continue
		}
		if first == nil {
			first = n
		}
		if s := n.Strength(); s > strongest {
			strongest = s
		}
	}
	if first == nil {
		return
	}

	if ap == nil {
		ap = newAccessPoint(h, first.SSID(), first.Mode(), first.Security())
		d.mu.Lock()
		d.logical[h] = ap
		d.mu.Unlock()
	}
	if !ap.Visible() {
		ap.setStrength(strongest)
		if d.saved != nil {
			d.saved.RefreshAPMetadata(ctx, ap)
		}
		d.logger.Debug("access point added", "ssid", ap.SSID(), "strength", strongest)
		d.emit(func(l AccessPointListener) { l.AccessPointAdded(ap) })
		d.metrics.VisibleAccessPoints(len(d.List(nil)))
		return
	}
	if ap.Strength() != strongest {
		ap.setStrength(strongest)
		d.emit(func(l AccessPointListener) { l.SignalStrengthChanged(ap) })
	}
}

func (d *Directory) emit(fn func(AccessPointListener)) {
	d.lmu.Lock()
	listeners := append([]AccessPointListener(nil), d.listeners...)
	d.lmu.Unlock()
	for _, l := range listeners {
		fn(l)
	}
}

// FindBySSID returns the visible access points whose display SSID is ssid.
func (d *Directory) FindBySSID(ssid string) []*AccessPoint {
	var out []*AccessPoint
	for _, ap := range d.List(nil) {
		if ap.SSID() == ssid {
			out = append(out, ap)
		}
	}
	return out
}
