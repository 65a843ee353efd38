// Package health is the error-handling collaborator of the storage
// coordinator: it turns tier-disable signals into logs, metrics and journal
// entries, once per tier.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/journal"
	"github.com/gftdcojp/sensor-packet-store/internal/metrics"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"go.uber.org/zap"
)

// ReporterConfig holds dependencies for the reporter. Journal may be nil.
type ReporterConfig struct {
	Journal journal.Store
	Logger  *zap.Logger
	Now     func() time.Time
}

// Reporter implements tier.Notifier. It never calls back into the
// coordinator, which holds its lock while signalling.
type Reporter struct {
	mu       sync.Mutex
	reported map[types.Tier]journal.Fault
	journal  journal.Store
	now      func() time.Time
	logger   *zap.Logger
}

func NewReporter(cfg ReporterConfig) *Reporter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		reported: make(map[types.Tier]journal.Fault),
		journal:  cfg.Journal,
		now:      now,
		logger:   logger.Named("health"),
	}
}

func (r *Reporter) FlashError(err error) {
	r.report(types.TierFlash, err)
}

func (r *Reporter) ArchiveError(err error) {
	r.report(types.TierArchive, err)
}

func (r *Reporter) report(tier types.Tier, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.reported[tier]; done {
		return
	}

	f := journal.Fault{Tier: tier, At: r.now()}
	if err != nil {
		f.Reason = err.Error()
	}
	r.reported[tier] = f

	r.logger.Error("storage tier offline", zap.String("tier", tier.String()), zap.Error(err))
	metrics.TierFaults.WithLabelValues(tier.String()).Inc()
	metrics.TierActive.WithLabelValues(tier.String()).Set(0)

	if r.journal != nil {
		if jerr := r.journal.RecordFault(context.Background(), f); jerr != nil {
			r.logger.Warn("failed to journal tier fault", zap.String("tier", tier.String()), zap.Error(jerr))
		}
	}
}

// Faults returns the faults reported by this process, flash first.
func (r *Reporter) Faults() []journal.Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []journal.Fault
	for _, t := range []types.Tier{types.TierFlash, types.TierArchive} {
		if f, ok := r.reported[t]; ok {
			out = append(out, f)
		}
	}
	return out
}
