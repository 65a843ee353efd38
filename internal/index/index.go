// Package index holds the sorted timestamp indices both storage tiers
// search. Every lookup goes through Range, so the flash index, the archive
// bucket index and per-bucket listings share one exclusive-bound search.
package index

import (
	"slices"
	"sort"

	"github.com/gftdcojp/sensor-packet-store/internal/types"
)

// Range returns the half-open slice bounds [lo, hi) of the timestamps in
// sorted that lie strictly inside iv. lo == hi when nothing matches.
func Range(sorted []int64, iv types.Interval) (lo, hi int) {
	lo = sort.Search(len(sorted), func(i int) bool {
		return sorted[i] > iv.Start
	})
	hi = sort.Search(len(sorted), func(i int) bool {
		return sorted[i] >= iv.End
	})
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Timestamps is an ascending, duplicate-free list of unix timestamps.
// It is not safe for concurrent use; the owner serializes access.
type Timestamps struct {
	values []int64
}

// New builds an index from timestamps in any order.
func New(values []int64) *Timestamps {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return &Timestamps{values: slices.Compact(sorted)}
}

// Len returns the number of indexed timestamps.
func (t *Timestamps) Len() int {
	return len(t.values)
}

// First returns the smallest timestamp.
func (t *Timestamps) First() (int64, bool) {
	if len(t.values) == 0 {
		return 0, false
	}
	return t.values[0], true
}

// Last returns the largest timestamp.
func (t *Timestamps) Last() (int64, bool) {
	if len(t.values) == 0 {
		return 0, false
	}
	return t.values[len(t.values)-1], true
}

// At returns the i-th smallest timestamp.
func (t *Timestamps) At(i int) int64 {
	return t.values[i]
}

// Contains reports whether ts is indexed.
func (t *Timestamps) Contains(ts int64) bool {
	_, found := slices.BinarySearch(t.values, ts)
	return found
}

// Insert adds ts at its sorted position. It returns false if ts was
// already present.
func (t *Timestamps) Insert(ts int64) bool {
	i, found := slices.BinarySearch(t.values, ts)
	if found {
		return false
	}
	t.values = slices.Insert(t.values, i, ts)
	return true
}

// RemoveFirst drops and returns the smallest timestamp.
func (t *Timestamps) RemoveFirst() (int64, bool) {
	if len(t.values) == 0 {
		return 0, false
	}
	ts := t.values[0]
	t.values = slices.Delete(t.values, 0, 1)
	return ts, true
}

// Find returns the indexed timestamps strictly inside iv. The returned
// slice is a copy.
func (t *Timestamps) Find(iv types.Interval) []int64 {
	lo, hi := Range(t.values, iv)
	return slices.Clone(t.values[lo:hi])
}

// Values returns a copy of the whole index in ascending order.
func (t *Timestamps) Values() []int64 {
	return slices.Clone(t.values)
}

// Reset empties the index.
func (t *Timestamps) Reset() {
	t.values = t.values[:0]
}
