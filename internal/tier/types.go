package tier

import (
	"context"
	"errors"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"go.uber.org/zap"
)

var (
	ErrNotReady             = errors.New("storage coordinator not initialized")
	ErrAlreadyInitialized   = errors.New("storage coordinator already initialized")
	ErrTierInactive         = errors.New("storage tier inactive")
	ErrTooManyIntervals     = errors.New("too many query intervals")
	ErrOverlappingIntervals = errors.New("query intervals overlap")
	ErrInvalidInterval      = errors.New("query interval ends before it starts")
	ErrTooManyResults       = errors.New("query matched more packets than allowed")
	ErrUnexpectedKind       = errors.New("unexpected packet kind on inbound queue")
	ErrInsaneTimestamp      = errors.New("packet timestamp at or below sanity epoch")
)

// FlashStore is the bounded tier as the coordinator sees it.
type FlashStore interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, ts int64, data []byte) (evicted int64, err error)
	Find(iv types.Interval) []int64
	Read(ctx context.Context, ts int64) ([]byte, error)
	Clear(ctx context.Context) (int, error)
	Stats() types.TierStats
}

// ArchiveStore is the bucketed tier as the coordinator sees it.
type ArchiveStore interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, ts int64, data []byte) (bucket int64, created bool, err error)
	Search(ctx context.Context, intervals []types.Interval) ([]types.Descriptor, error)
	Read(ctx context.Context, bucket, ts int64) ([]byte, error)
	Stats() types.TierStats
}

// Notifier receives tier-disable signals. The coordinator calls each
// method at most once per process.
type Notifier interface {
	FlashError(err error)
	ArchiveError(err error)
}

// Config is the immutable configuration of a Coordinator. A nil store
// leaves that tier disabled without raising a signal.
type Config struct {
	Flash    FlashStore
	Archive  ArchiveStore
	Notifier Notifier

	// GapThreshold is the largest stretch of an interval the archive may
	// leave unexplained before flash is consulted for it.
	GapThreshold time.Duration
	// SanityEpoch must match the stores' value: a packet stamped at or
	// below it would be dropped from both indices on the next scan.
	SanityEpoch   int64
	MaxIntervals  int
	MaxResults    int
	MaxPacketSize int
	QueueCapacity int
	Logger        *zap.Logger
}

// Status is a snapshot of the coordinator and both indices.
type Status struct {
	Ready   bool            `json:"ready"`
	Flash   types.TierStats `json:"flash"`
	Archive types.TierStats `json:"archive"`
	Queued  int             `json:"queued"`
}
