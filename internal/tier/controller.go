package tier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/metrics"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"go.uber.org/zap"
)

// Coordinator owns both storage tiers. One mutex serializes every storage
// operation, so ingestion, queries and read-backs never overlap. Methods
// must not be called re-entrantly from a Notifier.
//
// A Coordinator is unusable until Initialize has returned; until then every
// operation fails with ErrNotReady.
type Coordinator struct {
	mu       sync.Mutex
	ready    bool
	flash    FlashStore
	archive  ArchiveStore
	notifier Notifier

	// flashOK and archOK are true while a tier serves requests. The
	// *Down flags latch once a tier has been reported.
	flashOK   bool
	archOK    bool
	flashDown bool
	archDown  bool

	threshold     int64
	sanityEpoch   int64
	maxIntervals  int
	maxResults    int
	maxPacketSize int

	queue  chan packet.Packet
	logger *zap.Logger
}

// New creates a coordinator. Initialize must be called before use.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queueCap := cfg.QueueCapacity
	if queueCap <= 0 {
		queueCap = 10
	}
	maxSize := cfg.MaxPacketSize
	if maxSize <= 0 {
		maxSize = packet.DefaultMaxSize
	}
	return &Coordinator{
		flash:         cfg.Flash,
		archive:       cfg.Archive,
		notifier:      cfg.Notifier,
		threshold:     int64(cfg.GapThreshold / time.Second),
		sanityEpoch:   cfg.SanityEpoch,
		maxIntervals:  cfg.MaxIntervals,
		maxResults:    cfg.MaxResults,
		maxPacketSize: maxSize,
		queue:         make(chan packet.Packet, queueCap),
		logger:        logger.Named("coordinator"),
	}
}

// Initialize builds both indices from what is already stored. A tier whose
// scan fails is disabled and reported; the other keeps working, so
// Initialize itself only fails when called twice.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return ErrAlreadyInitialized
	}
	ctx = context.WithoutCancel(ctx)

	if c.archive != nil {
		if err := c.archive.Init(ctx); err != nil {
			c.disableArchiveLocked(fmt.Errorf("initializing archive tier: %w", err))
		} else {
			c.archOK = true
			metrics.TierActive.WithLabelValues(types.TierArchive.String()).Set(1)
		}
	}
	if c.flash != nil {
		if err := c.flash.Init(ctx); err != nil {
			c.disableFlashLocked(fmt.Errorf("initializing flash tier: %w", err))
		} else {
			c.flashOK = true
			metrics.TierActive.WithLabelValues(types.TierFlash.String()).Set(1)
		}
	}
	c.updateIndexMetricsLocked()
	c.ready = true

	c.logger.Info("storage initialized",
		zap.Bool("flash_active", c.flashOK),
		zap.Bool("archive_active", c.archOK),
	)
	return nil
}

// Ingest persists a data-point packet to every active tier. A tier write
// failure disables that tier; the error is returned after the other tier
// has been attempted.
func (c *Coordinator) Ingest(ctx context.Context, p packet.Packet) error {
	if p.Kind() != packet.KindDataPoint {
		metrics.QueueAnomalies.WithLabelValues("kind").Inc()
		c.logger.Warn("ignoring packet of unexpected kind", zap.String("kind", string(p.Kind())))
		return fmt.Errorf("%w: %s", ErrUnexpectedKind, p.Kind())
	}
	if err := p.Validate(c.maxPacketSize); err != nil {
		metrics.QueueAnomalies.WithLabelValues("invalid").Inc()
		c.logger.Warn("ignoring invalid packet", zap.Error(err))
		return err
	}
	ts, _ := p.Timestamp()
	if ts <= c.sanityEpoch {
		metrics.QueueAnomalies.WithLabelValues("timestamp").Inc()
		c.logger.Warn("ignoring packet stamped at or below sanity epoch",
			zap.Int64("timestamp", ts),
			zap.Int64("sanity_epoch", c.sanityEpoch),
		)
		return fmt.Errorf("%w: %d", ErrInsaneTimestamp, ts)
	}
	data := p.Bytes()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrNotReady
	}
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if c.archOK {
		bucket, created, err := c.archive.Put(ctx, ts, data)
		if err != nil {
			metrics.IngestErrors.WithLabelValues(types.TierArchive.String()).Inc()
			err = fmt.Errorf("storing packet %d in archive tier: %w", ts, err)
			c.disableArchiveLocked(err)
			errs = append(errs, err)
		} else {
			metrics.PacketsIngested.WithLabelValues(types.TierArchive.String()).Inc()
			if created {
				metrics.BucketsCreated.Inc()
			}
			c.logger.Debug("packet archived", zap.Int64("timestamp", ts), zap.Int64("bucket", bucket))
		}
	}
	if c.flashOK {
		evicted, err := c.flash.Put(ctx, ts, data)
		if evicted != 0 {
			metrics.FlashEvictions.Inc()
		}
		if err != nil {
			metrics.IngestErrors.WithLabelValues(types.TierFlash.String()).Inc()
			err = fmt.Errorf("storing packet %d in flash tier: %w", ts, err)
			c.disableFlashLocked(err)
			errs = append(errs, err)
		} else {
			metrics.PacketsIngested.WithLabelValues(types.TierFlash.String()).Inc()
		}
	}
	c.updateIndexMetricsLocked()
	return errors.Join(errs...)
}

// FindPackets returns a descriptor for every stored packet strictly inside
// one of intervals, sorted by timestamp. The archive is searched first and
// flash fills the gaps it leaves. Intervals must not overlap. An archive
// failure disables the archive tier and fails the whole query.
func (c *Coordinator) FindPackets(ctx context.Context, intervals []types.Interval) ([]types.Descriptor, error) {
	start := time.Now()
	out, err := c.findPackets(ctx, intervals)
	metrics.QueryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueryRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.QueryRequests.WithLabelValues("ok").Inc()
	for _, d := range out {
		metrics.QueryResults.WithLabelValues(d.Tier.String()).Inc()
	}
	return out, nil
}

func (c *Coordinator) findPackets(ctx context.Context, intervals []types.Interval) ([]types.Descriptor, error) {
	if err := validateIntervals(intervals, c.maxIntervals); err != nil {
		c.logger.Warn("rejecting query", zap.Error(err), zap.Int("intervals", len(intervals)))
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return nil, ErrNotReady
	}
	ctx = context.WithoutCancel(ctx)

	var found []types.Descriptor
	if c.archOK {
		var err error
		found, err = c.archive.Search(ctx, intervals)
		if err != nil {
			err = fmt.Errorf("searching archive tier: %w", err)
			c.disableArchiveLocked(err)
			return nil, err
		}
	}

	var out []types.Descriptor
	if c.flashOK {
		out = gapFill(found, intervals, c.flash, c.threshold)
	} else {
		out = sortDescriptors(found)
	}

	if c.maxResults > 0 && len(out) > c.maxResults {
		c.logger.Warn("query result limit exceeded",
			zap.Int("results", len(out)), zap.Int("max_results", c.maxResults))
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyResults, len(out), c.maxResults)
	}

	c.logger.Debug("query answered",
		zap.Int("intervals", len(intervals)),
		zap.Int("archive_results", len(found)),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// ReadPacket returns the stored bytes of the packet d points at. Read
// failures never disable a tier.
func (c *Coordinator) ReadPacket(ctx context.Context, d types.Descriptor) ([]byte, error) {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return nil, ErrNotReady
	}
	ctx = context.WithoutCancel(ctx)

	var (
		data []byte
		err  error
	)
	switch d.Tier {
	case types.TierFlash:
		if !c.flashOK {
			return nil, fmt.Errorf("%w: %s", ErrTierInactive, d.Tier)
		}
		data, err = c.flash.Read(ctx, d.Timestamp)
	case types.TierArchive:
		if !c.archOK {
			return nil, fmt.Errorf("%w: %s", ErrTierInactive, d.Tier)
		}
		data, err = c.archive.Read(ctx, d.Bucket, d.Timestamp)
	default:
		return nil, fmt.Errorf("unknown tier %d", d.Tier)
	}

	if err != nil {
		metrics.ReadRequests.WithLabelValues(d.Tier.String(), "error").Inc()
		c.logger.Debug("packet read failed", zap.String("location", d.Location()), zap.Int64("timestamp", d.Timestamp), zap.Error(err))
		return nil, err
	}
	metrics.ReadRequests.WithLabelValues(d.Tier.String(), "ok").Inc()
	metrics.ReadLatency.WithLabelValues(d.Tier.String()).Observe(time.Since(start).Seconds())
	return data, nil
}

// ClearFlash deletes every flash packet and empties the flash index.
func (c *Coordinator) ClearFlash(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return 0, ErrNotReady
	}
	if !c.flashOK {
		return 0, fmt.Errorf("%w: %s", ErrTierInactive, types.TierFlash)
	}

	n, err := c.flash.Clear(context.WithoutCancel(ctx))
	c.updateIndexMetricsLocked()
	if err != nil {
		err = fmt.Errorf("clearing flash tier: %w", err)
		c.disableFlashLocked(err)
		return n, err
	}
	c.logger.Info("flash tier cleared", zap.Int("removed", n))
	return n, nil
}

// Status returns a snapshot of both tiers.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Ready:   c.ready,
		Flash:   types.TierStats{Tier: types.TierFlash},
		Archive: types.TierStats{Tier: types.TierArchive, Capacity: -1},
		Queued:  len(c.queue),
	}
	if c.flash != nil && c.ready {
		st.Flash = c.flash.Stats()
	}
	if c.archive != nil && c.ready {
		st.Archive = c.archive.Stats()
	}
	st.Flash.Active = c.flashOK
	st.Archive.Active = c.archOK
	return st
}

// Probe reports "ok" with both tiers active and "degraded" with one.
func (c *Coordinator) Probe() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.ready:
		return "", ErrNotReady
	case c.flashOK && c.archOK:
		return "ok", nil
	case c.flashOK || c.archOK:
		return "degraded", nil
	}
	return "", fmt.Errorf("%w: no storage tier active", ErrTierInactive)
}

func (c *Coordinator) disableFlashLocked(err error) {
	if c.flashDown {
		return
	}
	c.flashDown, c.flashOK = true, false
	c.logger.Error("flash tier disabled", zap.Error(err))
	metrics.TierActive.WithLabelValues(types.TierFlash.String()).Set(0)
	if c.notifier != nil {
		c.notifier.FlashError(err)
	}
}

func (c *Coordinator) disableArchiveLocked(err error) {
	if c.archDown {
		return
	}
	c.archDown, c.archOK = true, false
	c.logger.Error("archive tier disabled", zap.Error(err))
	metrics.TierActive.WithLabelValues(types.TierArchive.String()).Set(0)
	if c.notifier != nil {
		c.notifier.ArchiveError(err)
	}
}

func (c *Coordinator) updateIndexMetricsLocked() {
	if c.flashOK {
		metrics.IndexEntries.WithLabelValues(types.TierFlash.String()).Set(float64(c.flash.Stats().Entries))
	}
	if c.archOK {
		metrics.IndexEntries.WithLabelValues(types.TierArchive.String()).Set(float64(c.archive.Stats().Entries))
	}
}
