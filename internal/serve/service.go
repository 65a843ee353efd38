package serve

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/journal"
	"github.com/gftdcojp/sensor-packet-store/internal/metrics"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/tier"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"github.com/gftdcojp/sensor-packet-store/internal/volume"
	"go.uber.org/zap"
)

// Storage is the part of the coordinator the API surfaces expose.
type Storage interface {
	Status() tier.Status
	FindPackets(ctx context.Context, intervals []types.Interval) ([]types.Descriptor, error)
	ReadPacket(ctx context.Context, d types.Descriptor) ([]byte, error)
	ClearFlash(ctx context.Context) (int, error)
	Submit(ctx context.Context, p packet.Packet) error
}

// Error codes carried in NATS replies and JSON error bodies.
const (
	codeBadRequest = "bad_request"
	codeNotFound   = "not_found"
	codeNotReady   = "not_ready"
	codeInactive   = "tier_inactive"
	codeInternal   = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type handshakeReply struct {
	Timestamp int64              `json:"timestamp"`
	Packets   []types.Descriptor `json:"packets"`
	Error     string             `json:"error,omitempty"`
	Code      string             `json:"code,omitempty"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, tier.ErrNotReady):
		return codeNotReady
	case errors.Is(err, tier.ErrTierInactive):
		return codeInactive
	case errors.Is(err, volume.ErrNotExist):
		return codeNotFound
	case errors.Is(err, tier.ErrTooManyIntervals),
		errors.Is(err, tier.ErrOverlappingIntervals),
		errors.Is(err, tier.ErrInvalidInterval),
		errors.Is(err, tier.ErrTooManyResults),
		errors.Is(err, tier.ErrUnexpectedKind),
		errors.Is(err, tier.ErrInsaneTimestamp),
		errors.Is(err, packet.ErrMalformedHandshake),
		errors.Is(err, packet.ErrTooShort),
		errors.Is(err, packet.ErrTooLarge):
		return codeBadRequest
	}
	return codeInternal
}

func httpStatus(code string) int {
	switch code {
	case codeBadRequest:
		return http.StatusBadRequest
	case codeNotFound:
		return http.StatusNotFound
	case codeNotReady, codeInactive:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handshakeServer answers catch-up requests and journals every one.
type handshakeServer struct {
	storage Storage
	journal journal.Store
	logger  *zap.Logger
	now     func() time.Time
}

func (s *handshakeServer) answer(ctx context.Context, transport string, hs packet.Handshake) handshakeReply {
	reply := handshakeReply{Timestamp: hs.Timestamp, Packets: []types.Descriptor{}}

	found, err := s.storage.FindPackets(ctx, hs.Intervals)
	rec := journal.HandshakeRecord{
		ReceivedAt: s.now(),
		Transport:  transport,
		Timestamp:  hs.Timestamp,
		Intervals:  hs.Intervals,
		Results:    len(found),
	}
	status := "ok"
	if err != nil {
		reply.Error = err.Error()
		reply.Code = errorCode(err)
		rec.Error = err.Error()
		status = "error"
	} else {
		reply.Packets = found
	}
	metrics.HandshakesServed.WithLabelValues(transport, status).Inc()

	if s.journal != nil {
		if jerr := s.journal.RecordHandshake(ctx, rec); jerr != nil {
			s.logger.Warn("failed to journal handshake", zap.Int64("timestamp", hs.Timestamp), zap.Error(jerr))
		}
	}

	s.logger.Debug("handshake answered",
		zap.String("transport", transport),
		zap.Int64("timestamp", hs.Timestamp),
		zap.Int("intervals", len(hs.Intervals)),
		zap.Int("results", len(found)),
		zap.String("status", status),
	)
	return reply
}

func (s *handshakeServer) rejected(transport string, err error) handshakeReply {
	metrics.HandshakesServed.WithLabelValues(transport, "rejected").Inc()
	s.logger.Warn("malformed handshake", zap.String("transport", transport), zap.Error(err))
	return handshakeReply{Packets: []types.Descriptor{}, Error: err.Error(), Code: errorCode(err)}
}
