package tier

import (
	"cmp"
	"slices"

	"github.com/gftdcojp/sensor-packet-store/internal/index"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
)

// flashFinder is the part of the flash tier the gap-fill walk needs.
type flashFinder interface {
	Find(iv types.Interval) []int64
	Stats() types.TierStats
}

// gapFill merges archive results with flash lookups for the parts of each
// interval the archive left unexplained. A stretch is unexplained when it
// is longer than threshold seconds: from the interval start to the first
// archive match, between consecutive matches, from the last match to the
// interval end, or the whole interval when it has no match. Intervals after
// the last one holding an archive match are looked up in flash in full.
// The result is sorted by timestamp; neither input is modified.
func gapFill(found []types.Descriptor, intervals []types.Interval, flash flashFinder, threshold int64) []types.Descriptor {
	stats := flash.Stats()
	if stats.Entries == 0 {
		return sortDescriptors(slices.Clone(found))
	}

	ivs := slices.Clone(intervals)
	slices.SortFunc(ivs, func(a, b types.Interval) int {
		return cmp.Compare(a.Start, b.Start)
	})

	stamps := make([]int64, len(found))
	for i, d := range found {
		stamps[i] = d.Timestamp
	}
	slices.Sort(stamps)

	lastMatched := -1
	for i, iv := range ivs {
		if lo, hi := index.Range(stamps, iv); hi > lo {
			lastMatched = i
		}
	}

	out := slices.Clone(found)
	lookup := func(iv types.Interval) {
		for _, ts := range flash.Find(iv) {
			out = append(out, types.Descriptor{Tier: types.TierFlash, Timestamp: ts})
		}
	}

	for i, iv := range ivs {
		if i > lastMatched {
			lookup(iv)
			continue
		}
		if iv.End <= stats.First {
			continue
		}

		lo, hi := index.Range(stamps, iv)
		if lo == hi {
			if iv.Span() > threshold {
				lookup(iv)
			}
			continue
		}

		prev := iv.Start
		for _, ts := range stamps[lo:hi] {
			if ts-prev > threshold {
				lookup(types.Interval{Start: prev, End: ts})
			}
			prev = ts
		}
		if iv.End-prev > threshold {
			lookup(types.Interval{Start: prev, End: iv.End})
		}
	}
	return sortDescriptors(out)
}

// sortDescriptors orders by timestamp, archive before flash on ties.
func sortDescriptors(ds []types.Descriptor) []types.Descriptor {
	slices.SortStableFunc(ds, func(a, b types.Descriptor) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.Tier, a.Tier)
	})
	return ds
}

// validateIntervals enforces the caller contract of FindPackets.
func validateIntervals(intervals []types.Interval, maxIntervals int) error {
	if maxIntervals > 0 && len(intervals) > maxIntervals {
		return ErrTooManyIntervals
	}
	for _, iv := range intervals {
		if iv.End < iv.Start {
			return ErrInvalidInterval
		}
	}
	sorted := slices.Clone(intervals)
	slices.SortFunc(sorted, func(a, b types.Interval) int {
		return cmp.Compare(a.Start, b.Start)
	})
	for i := 1; i < len(sorted); i++ {
		// Shared borders are allowed: both bounds are exclusive.
		if sorted[i].Start < sorted[i-1].End {
			return ErrOverlappingIntervals
		}
	}
	return nil
}
