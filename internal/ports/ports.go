// Package ports implements the Port Allocator (spec.md §4.4): a stateless
// helper that yields candidate external ports from the configured pool,
// skipping whatever the caller reports as already in use.
package ports

import apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"

// InUseFunc reports whether port is currently bound, at whatever layer the
// caller cares about (runtime-level, session-table-level, or both).
type InUseFunc func(port int) bool

// Allocator hands out candidate ports from a fixed pool.
type Allocator struct {
	pool []int
}

// New constructs an Allocator over pool, preserving its order so operators
// can bias allocation toward the low end of a range.
func New(pool []int) *Allocator {
	cp := make([]int, len(pool))
	copy(cp, pool)
	return &Allocator{pool: cp}
}

// Candidates returns every pool port not reported in-use by inUse, in pool
// order. The Instance Manager's provisioning loop tries every candidate in
// this slice for each name attempt (spec.md §4.5).
func (a *Allocator) Candidates(inUse InUseFunc) []int {
	out := make([]int, 0, len(a.pool))
	for _, p := range a.pool {
		if !inUse(p) {
			out = append(out, p)
		}
	}
	return out
}

// Next returns the first free port in pool order, or NoExternalPort when
// the whole pool is exhausted.
func (a *Allocator) Next(inUse InUseFunc) (int, *apperrors.AppError) {
	for _, p := range a.pool {
		if !inUse(p) {
			return p, nil
		}
	}
	return 0, apperrors.NoExternalPort()
}

// Size returns the configured pool size.
func (a *Allocator) Size() int { return len(a.pool) }
