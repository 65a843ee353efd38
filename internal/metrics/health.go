package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/gftdcojp/sensor-packet-store/pkg/s3util"
	"github.com/nats-io/nats.go"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pinger is implemented by the journal.
type Pinger interface {
	Ping() error
}

// StorageProbe reports whether the storage coordinator can serve
// requests. status is "ok" or "degraded" when err is nil.
type StorageProbe interface {
	Probe() (status string, err error)
}

// HealthChecker runs health probes. Any dependency may be nil.
type HealthChecker struct {
	natsConn *nats.Conn
	journal  Pinger
	s3Client *s3util.Client
	storage  StorageProbe
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(nc *nats.Conn, journal Pinger, s3Client *s3util.Client, storage StorageProbe) *HealthChecker {
	return &HealthChecker{
		natsConn: nc,
		journal:  journal,
		s3Client: s3Client,
		storage:  storage,
	}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks if the service can handle requests.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}
	fail := func(name, state string, err error) {
		status.OK = false
		c := Check{Name: name, Status: state}
		if err != nil {
			c.Error = err.Error()
		}
		status.Checks = append(status.Checks, c)
	}

	if h.storage != nil {
		if state, err := h.storage.Probe(); err != nil {
			fail("storage", "error", err)
		} else {
			status.Checks = append(status.Checks, Check{Name: "storage", Status: state})
		}
	}

	if h.natsConn != nil {
		if !h.natsConn.IsConnected() {
			fail("nats", "disconnected", nil)
		} else {
			status.Checks = append(status.Checks, Check{Name: "nats", Status: "connected"})
		}
	}

	if h.journal != nil {
		if err := h.journal.Ping(); err != nil {
			fail("journal", "error", err)
		} else {
			status.Checks = append(status.Checks, Check{Name: "journal", Status: "ok"})
		}
	}

	if h.s3Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.s3Client.Ping(ctx); err != nil {
			fail("s3", "error", err)
		} else {
			status.Checks = append(status.Checks, Check{Name: "s3", Status: "ok"})
		}
	}

	return status
}

// NewHealthHandler serves the liveness and readiness endpoints.
func NewHealthHandler(cfg config.HealthConfig, checker *HealthChecker) http.Handler {
	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, checker.Liveness())
	})
	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, checker.Readiness())
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewHealthHandler(cfg, checker),
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
