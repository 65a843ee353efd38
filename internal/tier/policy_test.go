package tier

import (
	"slices"
	"testing"

	"github.com/gftdcojp/sensor-packet-store/internal/index"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
)

// fakeFlash is an in-memory flash index that records every lookup.
type fakeFlash struct {
	idx     *index.Timestamps
	lookups []types.Interval
}

func newFakeFlash(stamps ...int64) *fakeFlash {
	return &fakeFlash{idx: index.New(stamps)}
}

func (f *fakeFlash) Find(iv types.Interval) []int64 {
	f.lookups = append(f.lookups, iv)
	return f.idx.Find(iv)
}

func (f *fakeFlash) Stats() types.TierStats {
	st := types.TierStats{Tier: types.TierFlash, Entries: f.idx.Len()}
	st.First, _ = f.idx.First()
	st.Last, _ = f.idx.Last()
	return st
}

func archived(bucket int64, stamps ...int64) []types.Descriptor {
	out := make([]types.Descriptor, len(stamps))
	for i, ts := range stamps {
		out[i] = types.Descriptor{Tier: types.TierArchive, Bucket: bucket, Timestamp: ts}
	}
	return out
}

func TestGapFill(t *testing.T) {
	tests := []struct {
		name        string
		found       []types.Descriptor
		intervals   []types.Interval
		flash       []int64
		threshold   int64
		want        []int64
		wantLookups []types.Interval
	}{
		{
			name:        "gap between matches",
			found:       archived(100, 100, 200),
			intervals:   []types.Interval{{Start: 90, End: 210}},
			flash:       []int64{150},
			threshold:   50,
			want:        []int64{100, 150, 200},
			wantLookups: []types.Interval{{Start: 100, End: 200}},
		},
		{
			name:        "start and end gaps",
			found:       archived(100, 150),
			intervals:   []types.Interval{{Start: 100, End: 200}},
			flash:       []int64{120, 180},
			threshold:   12,
			want:        []int64{120, 150, 180},
			wantLookups: []types.Interval{{Start: 100, End: 150}, {Start: 150, End: 200}},
		},
		{
			name:        "gaps within threshold",
			found:       archived(100, 105, 115, 125),
			intervals:   []types.Interval{{Start: 100, End: 130}},
			flash:       []int64{110},
			threshold:   12,
			want:        []int64{105, 115, 125},
			wantLookups: nil,
		},
		{
			name:      "unmatched interval before last match",
			found:     archived(300, 310),
			intervals: []types.Interval{{Start: 200, End: 260}, {Start: 300, End: 320}},
			flash:     []int64{230},
			threshold: 12,
			want:      []int64{230, 310},
			wantLookups: []types.Interval{
				{Start: 200, End: 260},
			},
		},
		{
			name:        "short unmatched interval skipped",
			found:       archived(300, 310),
			intervals:   []types.Interval{{Start: 200, End: 210}, {Start: 300, End: 320}},
			flash:       []int64{205},
			threshold:   12,
			want:        []int64{310},
			wantLookups: nil,
		},
		{
			name:      "intervals after last match queried in full",
			found:     archived(100, 105),
			intervals: []types.Interval{{Start: 100, End: 110}, {Start: 400, End: 405}, {Start: 500, End: 600}},
			flash:     []int64{402, 550},
			threshold: 12,
			want:      []int64{105, 402, 550},
			wantLookups: []types.Interval{
				{Start: 400, End: 405},
				{Start: 500, End: 600},
			},
		},
		{
			name:        "interval ending before flash skipped",
			found:       archived(100, 150),
			intervals:   []types.Interval{{Start: 100, End: 200}},
			flash:       []int64{500},
			threshold:   12,
			want:        []int64{150},
			wantLookups: nil,
		},
		{
			name:        "no archive results",
			found:       nil,
			intervals:   []types.Interval{{Start: 500, End: 700}, {Start: 10, End: 20}},
			flash:       []int64{15, 600},
			threshold:   50,
			want:        []int64{15, 600},
			wantLookups: []types.Interval{{Start: 10, End: 20}, {Start: 500, End: 700}},
		},
		{
			name:        "empty flash",
			found:       archived(100, 100, 200, 150),
			intervals:   []types.Interval{{Start: 0, End: 1000}},
			flash:       nil,
			threshold:   12,
			want:        []int64{100, 150, 200},
			wantLookups: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFlash(tt.flash...)
			got := gapFill(tt.found, tt.intervals, f, tt.threshold)
			if !slices.Equal(timestamps(got), tt.want) {
				t.Fatalf("gapFill = %v, want %v", timestamps(got), tt.want)
			}
			if !slices.Equal(f.lookups, tt.wantLookups) {
				t.Fatalf("lookups = %v, want %v", f.lookups, tt.wantLookups)
			}
		})
	}
}

func TestGapFill_DoesNotModifyInputs(t *testing.T) {
	found := archived(100, 200, 100)
	intervals := []types.Interval{{Start: 150, End: 250}, {Start: 50, End: 150}}
	foundCopy := slices.Clone(found)
	ivCopy := slices.Clone(intervals)

	gapFill(found, intervals, newFakeFlash(120), 12)

	if !slices.Equal(found, foundCopy) || !slices.Equal(intervals, ivCopy) {
		t.Fatal("gapFill modified its inputs")
	}
}

func TestSortDescriptors_ArchiveFirstOnTie(t *testing.T) {
	ds := []types.Descriptor{
		{Tier: types.TierFlash, Timestamp: 10},
		{Tier: types.TierArchive, Bucket: 5, Timestamp: 10},
		{Tier: types.TierFlash, Timestamp: 3},
	}
	got := sortDescriptors(ds)
	if got[0].Timestamp != 3 || got[1].Tier != types.TierArchive || got[2].Tier != types.TierFlash {
		t.Fatalf("sortDescriptors = %+v", got)
	}
}
