package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/gftdcojp/sensor-packet-store/internal/journal"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/tier"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"go.uber.org/zap"
)

const maxBodySize = 64 << 10

type handler struct {
	deviceID   string
	storage    Storage
	journal    journal.Store
	handshakes *handshakeServer
	logger     *zap.Logger
}

// HandlerConfig configures the HTTP API.
type HandlerConfig struct {
	DeviceID string
	Storage  Storage
	// Journal may be nil, in which case the journal routes return 503.
	Journal journal.Store
	Logger  *zap.Logger
}

// NewHandler returns the HTTP API.
func NewHandler(cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		deviceID: cfg.DeviceID,
		storage:  cfg.Storage,
		journal:  cfg.Journal,
		handshakes: &handshakeServer{
			storage: cfg.Storage,
			journal: cfg.Journal,
			logger:  logger,
			now:     time.Now,
		},
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("POST /v1/query", h.handleQuery)
	mux.HandleFunc("POST /v1/handshake", h.handleHandshake)
	mux.HandleFunc("GET /v1/packets/{location}/{ts}", h.handleGetPacket)
	mux.HandleFunc("GET /v1/journal/faults", h.handleFaults)
	mux.HandleFunc("GET /v1/journal/handshakes", h.handleHandshakes)
	mux.HandleFunc("POST /v1/admin/clear-flash", h.handleClearFlash)
	return mux
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, hcfg HandlerConfig) error {
	logger := hcfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewHandler(hcfg),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusResponse struct {
	DeviceID string `json:"device_id"`
	tier.Status
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{DeviceID: h.deviceID, Status: h.storage.Status()})
}

type queryRequest struct {
	Intervals []types.Interval `json:"intervals"`
}

type queryResponse struct {
	Packets []types.Descriptor `json:"packets"`
}

func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("decoding query: %w", err))
		return
	}

	found, err := h.storage.FindPackets(r.Context(), req.Intervals)
	if err != nil {
		writeErr(w, err)
		return
	}
	if found == nil {
		found = []types.Descriptor{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Packets: found})
}

// handleHandshake accepts the binary handshake payload, or its ascii85 text
// form when the request is sent as text/plain.
func (h *handler) handleHandshake(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}

	var hs packet.Handshake
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		hs, err = packet.DecodeHandshakeASCII85(strings.TrimSpace(string(body)))
	} else {
		hs, err = packet.ParseHandshake(body)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, h.handshakes.rejected("http", err))
		return
	}

	reply := h.handshakes.answer(r.Context(), "http", hs)
	code := http.StatusOK
	if reply.Error != "" {
		code = httpStatus(reply.Code)
	}
	writeJSON(w, code, reply)
}

func (h *handler) handleGetPacket(w http.ResponseWriter, r *http.Request) {
	ts, err := strconv.ParseInt(r.PathValue("ts"), 10, 64)
	if err != nil || ts <= 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid timestamp %q", r.PathValue("ts")))
		return
	}
	d, err := types.ParseLocation(r.PathValue("location"), ts)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}

	data, err := h.storage.ReadPacket(r.Context(), d)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *handler) handleFaults(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, codeNotReady, fmt.Errorf("journal not configured"))
		return
	}
	faults, err := h.journal.Faults(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err)
		return
	}
	if faults == nil {
		faults = []journal.Fault{}
	}
	writeJSON(w, http.StatusOK, faults)
}

func (h *handler) handleHandshakes(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, codeNotReady, fmt.Errorf("journal not configured"))
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}
	recs, err := h.journal.Handshakes(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err)
		return
	}
	if recs == nil {
		recs = []journal.HandshakeRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) handleClearFlash(w http.ResponseWriter, r *http.Request) {
	n, err := h.storage.ClearFlash(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	h.logger.Info("flash cleared via API", zap.Int("removed", n))
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared", "removed": n})
}

func writeErr(w http.ResponseWriter, err error) {
	code := errorCode(err)
	writeError(w, httpStatus(code), code, err)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
