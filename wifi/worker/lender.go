package worker

import "sync/atomic"

// Handle is a native platform object with a stable key, such as a D-Bus object path.
type Handle interface {
	Key() string
}

// Borrowed is the reference-stable wrapper handed out by a Lender. Once
// invalidated it reads as empty forever.
type Borrowed[N Handle] struct {
	key    string
	native N
	valid  atomic.Bool
}

// Key returns the native key, which survives invalidation.
func (b *Borrowed[N]) Key() string {
	if b == nil {
		return ""
	}
	return b.key
}

// Valid reports whether the native handle is still live. Safe from any goroutine.
func (b *Borrowed[N]) Valid() bool {
	return b != nil && b.valid.Load()
}

// Native returns the wrapped handle, or false once invalidated.
func (b *Borrowed[N]) Native(_ *Context) (N, bool) {
	var zero N
	if !b.Valid() {
		return zero, false
	}
	return b.native, true
}

// Lender maps native handles to wrappers. All methods require the worker context.
type Lender[N Handle] struct {
	items map[string]*Borrowed[N]
	order []string
}

// NewLender returns an empty lender.
func NewLender[N Handle]() *Lender[N] {
	return &Lender[N]{items: make(map[string]*Borrowed[N])}
}

// Borrow returns the wrapper registered for native's key, creating it if needed.
// The wrapped handle is refreshed so a new proxy for the same object replaces a
// stale one.
func (l *Lender[N]) Borrow(_ *Context, native N) *Borrowed[N] {
	key := native.Key()
	if b, ok := l.items[key]; ok {
		b.native = native
		return b
	}
	b := &Borrowed[N]{key: key, native: native}
	b.valid.Store(true)
	l.items[key] = b
	l.order = append(l.order, key)
	return b
}

// Lookup returns the live wrapper for key, or nil.
func (l *Lender[N]) Lookup(_ *Context, key string) *Borrowed[N] {
	return l.items[key]
}

// Invalidate tombstones the wrapper for key and forgets it. It reports whether
// a wrapper was registered.
func (l *Lender[N]) Invalidate(_ *Context, key string) bool {
	b, ok := l.items[key]
	if !ok {
		return false
	}
	b.valid.Store(false)
	var zero N
	b.native = zero
	delete(l.items, key)
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// InvalidateAll tombstones every wrapper.
func (l *Lender[N]) InvalidateAll(ctx *Context) {
	for _, key := range append([]string(nil), l.order...) {
		l.Invalidate(ctx, key)
	}
}

// AllBorrowed returns the live wrappers in the order they were first borrowed.
func (l *Lender[N]) AllBorrowed(_ *Context) []*Borrowed[N] {
	out := make([]*Borrowed[N], 0, len(l.order))
	for _, k := range l.order {
		out = append(out, l.items[k])
	}
	return out
}

// Len returns the number of live wrappers.
func (l *Lender[N]) Len(_ *Context) int {
	return len(l.items)
}
