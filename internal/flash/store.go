// Package flash implements the capacity-bounded tier: a flat directory of
// "<timestamp>.<ext>" packet files indexed by an ascending timestamp list.
// When the index is full the smallest timestamp is evicted first.
package flash

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gftdcojp/sensor-packet-store/internal/index"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"github.com/gftdcojp/sensor-packet-store/internal/volume"
	"go.uber.org/zap"
)

// ErrCapacityExceeded is returned by Init when more valid packet files are
// found than the configured capacity allows.
var ErrCapacityExceeded = errors.New("flash index exceeds capacity")

// Config holds dependencies for the flash store.
type Config struct {
	Volume volume.Volume
	// Dir is the packet directory inside Volume; "" is the volume root.
	Dir         string
	Capacity    int
	Extension   string
	SanityEpoch int64
	Logger      *zap.Logger
}

// Store is the flash tier. It is not safe for concurrent use; the
// coordinator holds its lock around every call.
type Store struct {
	vol      volume.Volume
	dir      string
	capacity int
	ext      string
	sanity   int64
	idx      *index.Timestamps
	logger   *zap.Logger
}

// NewStore creates a flash store. Init must be called before use.
func NewStore(cfg Config) *Store {
	ext := cfg.Extension
	if ext == "" {
		ext = packet.DefaultExtension
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		vol:      cfg.Volume,
		dir:      cfg.Dir,
		capacity: cfg.Capacity,
		ext:      ext,
		sanity:   cfg.SanityEpoch,
		idx:      index.New(nil),
		logger:   logger.Named("flash"),
	}
}

func (s *Store) path(ts int64) string {
	return volume.Join(s.dir, packet.Filename(ts, s.ext))
}

// Init rebuilds the index from the packet directory, creating the
// directory if it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	if s.capacity <= 0 {
		return fmt.Errorf("flash capacity must be positive, got %d", s.capacity)
	}
	entries, err := s.vol.ReadDir(ctx, s.dir)
	if errors.Is(err, volume.ErrNotExist) {
		if err := s.vol.MkdirAll(ctx, s.dir); err != nil {
			return fmt.Errorf("creating flash directory: %w", err)
		}
		entries, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("scanning flash directory: %w", err)
	}

	var found []int64
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		ts, err := packet.ParseFilename(e.Name, s.ext)
		if err != nil {
			// Interrupted atomic writes leave ".pkt-*.tmp" behind.
			if strings.HasSuffix(e.Name, ".tmp") {
				s.logger.Debug("ignoring temporary file", zap.String("name", e.Name))
				continue
			}
			s.logger.Warn("skipping invalid flash entry", zap.String("name", e.Name), zap.Error(err))
			continue
		}
		if ts <= s.sanity {
			s.logger.Warn("skipping flash entry before sanity epoch",
				zap.String("name", e.Name), zap.Int64("sanity_epoch", s.sanity))
			continue
		}
		found = append(found, ts)
	}

	idx := index.New(found)
	if idx.Len() > s.capacity {
		return fmt.Errorf("%w: %d packets, capacity %d", ErrCapacityExceeded, idx.Len(), s.capacity)
	}
	s.idx = idx

	s.logger.Info("flash index built",
		zap.Int("entries", idx.Len()),
		zap.Int("capacity", s.capacity),
		zap.String("volume", s.vol.Kind()),
	)
	return nil
}

// Put stores data under ts. A packet with an already indexed timestamp
// replaces the old file without evicting anything. Otherwise, at capacity,
// the oldest packet is deleted first and returned as evicted.
// If the write then fails the eviction stands: the index keeps matching
// the volume and evicted is returned alongside the error.
func (s *Store) Put(ctx context.Context, ts int64, data []byte) (evicted int64, err error) {
	if !s.idx.Contains(ts) && s.idx.Len() >= s.capacity {
		oldest, _ := s.idx.First()
		if err := s.vol.Remove(ctx, s.path(oldest)); err != nil {
			if !errors.Is(err, volume.ErrNotExist) {
				return 0, fmt.Errorf("evicting flash packet %d: %w", oldest, err)
			}
			s.logger.Warn("evicted flash packet was already missing", zap.Int64("timestamp", oldest))
		}
		s.idx.RemoveFirst()
		evicted = oldest
		s.logger.Debug("flash packet evicted", zap.Int64("timestamp", oldest))
	}

	if err := s.vol.WriteFile(ctx, s.path(ts), data); err != nil {
		return evicted, fmt.Errorf("writing flash packet %d: %w", ts, err)
	}
	s.idx.Insert(ts)

	s.logger.Debug("packet stored in flash",
		zap.Int64("timestamp", ts),
		zap.Int("size", len(data)),
		zap.Int("entries", s.idx.Len()),
	)
	return evicted, nil
}

// Find returns the indexed timestamps strictly inside iv.
func (s *Store) Find(iv types.Interval) []int64 {
	return s.idx.Find(iv)
}

// Read returns the stored bytes of the packet with timestamp ts.
func (s *Store) Read(ctx context.Context, ts int64) ([]byte, error) {
	data, err := s.vol.ReadFile(ctx, s.path(ts))
	if err != nil {
		return nil, fmt.Errorf("reading flash packet %d: %w", ts, err)
	}
	return data, nil
}

// Clear deletes every indexed packet, oldest first. On error the index
// still lists the packets that were not removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	removed := 0
	for s.idx.Len() > 0 {
		ts, _ := s.idx.First()
		if err := s.vol.Remove(ctx, s.path(ts)); err != nil && !errors.Is(err, volume.ErrNotExist) {
			return removed, fmt.Errorf("clearing flash packet %d: %w", ts, err)
		}
		s.idx.RemoveFirst()
		removed++
	}
	s.logger.Info("flash cleared", zap.Int("removed", removed))
	return removed, nil
}

// Timestamps returns a copy of the index.
func (s *Store) Timestamps() []int64 {
	return s.idx.Values()
}

func (s *Store) Stats() types.TierStats {
	st := types.TierStats{
		Tier:     types.TierFlash,
		Entries:  s.idx.Len(),
		Capacity: s.capacity,
	}
	st.First, _ = s.idx.First()
	st.Last, _ = s.idx.Last()
	return st
}
