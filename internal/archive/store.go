// Package archive implements the removable-volume tier. Packets live in
// time-bucketed directories "<root>/<bucket>/<timestamp>.<ext>"; an
// ascending list of bucket start times indexes the buckets.
package archive

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/index"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"github.com/gftdcojp/sensor-packet-store/internal/volume"
	"go.uber.org/zap"
)

// Config holds dependencies for the archive store.
type Config struct {
	Volume volume.Volume
	// Root is the device directory inside Volume, normally the device id.
	Root           string
	BucketTimespan time.Duration
	Extension      string
	SanityEpoch    int64
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

// Store is the archive tier. It is not safe for concurrent use; the
// coordinator holds its lock around every call.
type Store struct {
	vol      volume.Volume
	root     string
	timespan int64
	ext      string
	sanity   int64
	now      func() time.Time
	buckets  *index.Timestamps
	logger   *zap.Logger
}

// NewStore creates an archive store. Init must be called before use.
func NewStore(cfg Config) *Store {
	ext := cfg.Extension
	if ext == "" {
		ext = packet.DefaultExtension
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		vol:      cfg.Volume,
		root:     cfg.Root,
		timespan: int64(cfg.BucketTimespan / time.Second),
		ext:      ext,
		sanity:   cfg.SanityEpoch,
		now:      now,
		buckets:  index.New(nil),
		logger:   logger.Named("archive"),
	}
}

func (s *Store) bucketDir(bucket int64) string {
	return volume.Join(s.root, fmt.Sprintf("%d", bucket))
}

func (s *Store) path(bucket, ts int64) string {
	return volume.Join(s.bucketDir(bucket), packet.Filename(ts, s.ext))
}

// Init rebuilds the bucket index from the device directory, creating it if
// the volume is fresh.
func (s *Store) Init(ctx context.Context) error {
	if s.timespan <= 0 {
		return fmt.Errorf("bucket timespan must be at least one second")
	}
	entries, err := s.vol.ReadDir(ctx, s.root)
	if errors.Is(err, volume.ErrNotExist) {
		if err := s.vol.MkdirAll(ctx, s.root); err != nil {
			return fmt.Errorf("creating archive root: %w", err)
		}
		entries, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("scanning archive root: %w", err)
	}

	var found []int64
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		ts, err := packet.ParseBucketName(e.Name)
		if err != nil || ts <= s.sanity {
			s.logger.Warn("skipping invalid bucket directory", zap.String("name", e.Name))
			continue
		}
		found = append(found, ts)
	}
	s.buckets = index.New(found)

	s.logger.Info("archive index built",
		zap.Int("buckets", s.buckets.Len()),
		zap.String("root", s.root),
		zap.String("volume", s.vol.Kind()),
	)
	return nil
}

// Put writes data into the bucket chosen for ts and returns that bucket.
// The bucket index only changes after the write succeeded.
func (s *Store) Put(ctx context.Context, ts int64, data []byte) (bucket int64, created bool, err error) {
	bucket, created = selectBucket(s.buckets, s.now().Unix(), ts, s.timespan)

	if err := s.vol.MkdirAll(ctx, s.bucketDir(bucket)); err != nil {
		return 0, false, fmt.Errorf("creating bucket %d: %w", bucket, err)
	}
	if err := s.vol.WriteFile(ctx, s.path(bucket, ts), data); err != nil {
		return 0, false, fmt.Errorf("writing archive packet %d: %w", ts, err)
	}
	if created {
		s.buckets.Insert(bucket)
		s.logger.Info("archive bucket created", zap.Int64("bucket", bucket))
	}

	s.logger.Debug("packet stored in archive",
		zap.Int64("bucket", bucket),
		zap.Int64("timestamp", ts),
		zap.Int("size", len(data)),
	)
	return bucket, created, nil
}

// Search returns a descriptor for every archived packet strictly inside
// one of intervals, bucket by bucket in ascending order. Each bucket but
// the last is only opened for intervals starting before the next bucket;
// intervals that also end before it are not carried further. The last
// bucket is searched against every interval. Any listing error aborts the
// search.
func (s *Store) Search(ctx context.Context, intervals []types.Interval) ([]types.Descriptor, error) {
	n := s.buckets.Len()
	if n == 0 || len(intervals) == 0 {
		return nil, nil
	}

	remaining := slices.Clone(intervals)
	slices.SortFunc(remaining, func(a, b types.Interval) int {
		return cmp.Compare(a.Start, b.Start)
	})

	var out []types.Descriptor
	for i := 1; i < n; i++ {
		prev, cur := s.buckets.At(i-1), s.buckets.At(i)

		var relevant []types.Interval
		kept := remaining[:0]
		for _, iv := range remaining {
			if iv.Start < cur {
				relevant = append(relevant, iv)
			}
			if iv.End >= cur {
				kept = append(kept, iv)
			}
		}
		remaining = kept
		if len(relevant) == 0 {
			continue
		}

		var err error
		out, err = s.searchBucket(ctx, prev, relevant, out)
		if err != nil {
			return nil, err
		}
	}

	var err error
	out, err = s.searchBucket(ctx, s.buckets.At(n-1), intervals, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) searchBucket(ctx context.Context, bucket int64, intervals []types.Interval, out []types.Descriptor) ([]types.Descriptor, error) {
	stamps, err := s.List(ctx, bucket)
	if err != nil {
		return out, err
	}
	for _, iv := range intervals {
		lo, hi := index.Range(stamps, iv)
		for _, ts := range stamps[lo:hi] {
			out = append(out, types.Descriptor{Tier: types.TierArchive, Bucket: bucket, Timestamp: ts})
		}
	}
	return out, nil
}

// List returns the sorted timestamps of the valid packet files in bucket.
func (s *Store) List(ctx context.Context, bucket int64) ([]int64, error) {
	entries, err := s.vol.ReadDir(ctx, s.bucketDir(bucket))
	if err != nil {
		return nil, fmt.Errorf("listing bucket %d: %w", bucket, err)
	}
	stamps := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		ts, err := packet.ParseFilename(e.Name, s.ext)
		if err != nil || ts <= s.sanity {
			continue
		}
		stamps = append(stamps, ts)
	}
	slices.Sort(stamps)
	return stamps, nil
}

// Read returns the stored bytes of packet ts in bucket.
func (s *Store) Read(ctx context.Context, bucket, ts int64) ([]byte, error) {
	data, err := s.vol.ReadFile(ctx, s.path(bucket, ts))
	if err != nil {
		return nil, fmt.Errorf("reading archive packet %d/%d: %w", bucket, ts, err)
	}
	return data, nil
}

// Buckets returns a copy of the bucket index.
func (s *Store) Buckets() []int64 {
	return s.buckets.Values()
}

func (s *Store) Stats() types.TierStats {
	st := types.TierStats{
		Tier:     types.TierArchive,
		Entries:  s.buckets.Len(),
		Capacity: -1,
	}
	st.First, _ = s.buckets.First()
	st.Last, _ = s.buckets.Last()
	return st
}
