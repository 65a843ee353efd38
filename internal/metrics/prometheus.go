package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	PacketsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_packets_ingested_total",
		Help: "Packets persisted per tier",
	}, []string{"tier"})

	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_ingest_errors_total",
		Help: "Packet writes that failed per tier",
	}, []string{"tier"})

	QueueAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_queue_anomalies_total",
		Help: "Packets dropped from the inbound queue by reason",
	}, []string{"reason"})

	FlashEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ps_flash_evictions_total",
		Help: "Flash packets deleted to stay within capacity",
	})

	BucketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ps_archive_buckets_created_total",
		Help: "Archive bucket directories created",
	})

	// Tier metrics
	IndexEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ps_index_entries",
		Help: "Entries in each tier's in-memory index (packets for flash, buckets for archive)",
	}, []string{"tier"})

	TierActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ps_tier_active",
		Help: "1 while the tier accepts writes and queries, 0 once disabled",
	}, []string{"tier"})

	TierFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_tier_faults_total",
		Help: "Tier-disable signals raised",
	}, []string{"tier"})

	// Query path metrics
	QueryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_query_requests_total",
		Help: "Interval queries by outcome",
	}, []string{"status"})

	QueryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_query_results_total",
		Help: "Descriptors returned by tier",
	}, []string{"tier"})

	QueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ps_query_latency_seconds",
		Help:    "Interval query latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Read path metrics
	ReadRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_read_requests_total",
		Help: "Packet read-backs by tier and outcome",
	}, []string{"tier", "status"})

	ReadLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ps_read_latency_seconds",
		Help:    "Packet read-back latency",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"tier"})

	// Handshake metrics
	HandshakesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_handshakes_total",
		Help: "Catch-up handshakes answered by transport and outcome",
	}, []string{"transport", "status"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
