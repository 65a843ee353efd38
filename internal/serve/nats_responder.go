package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/gftdcojp/sensor-packet-store/internal/journal"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Reply headers set on failed packet reads and ingest requests.
const (
	HeaderError     = "Ps-Error"
	HeaderErrorCode = "Ps-Error-Code"
	// HeaderKind overrides the packet kind of an ingest request.
	HeaderKind = "Ps-Packet-Kind"
)

// ResponderConfig configures the NATS surface.
type ResponderConfig struct {
	Storage Storage
	Journal journal.Store
	Logger  *zap.Logger
}

// RunNATSResponder serves the request/reply subjects until ctx is done:
//
//	{prefix}.handshake             binary handshake -> JSON descriptor list
//	{prefix}.packet.{loc}.{ts}     raw packet bytes
//	{prefix}.ingest                packet payload -> inbound queue (optional)
func RunNATSResponder(ctx context.Context, nc *nats.Conn, cfg config.NATSResponderConfig, rcfg ResponderConfig) error {
	logger := rcfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &responder{
		storage: rcfg.Storage,
		handshakes: &handshakeServer{
			storage: rcfg.Storage,
			journal: rcfg.Journal,
			logger:  logger,
			now:     time.Now,
		},
		ctx:    ctx,
		logger: logger,
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "sensor"
	}

	handlers := map[string]nats.MsgHandler{
		prefix + ".handshake": r.handleHandshake,
		prefix + ".packet.>":  r.handlePacket,
	}
	if cfg.Ingest {
		handlers[prefix+".ingest"] = r.handleIngest
	}

	var subs []*nats.Subscription
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()
	for subject, h := range handlers {
		sub, err := nc.Subscribe(subject, h)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subs = append(subs, sub)
		logger.Info("NATS responder subscribed", zap.String("subject", subject))
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flushing subscriptions: %w", err)
	}

	<-ctx.Done()
	return nil
}

type responder struct {
	storage    Storage
	handshakes *handshakeServer
	// ctx is the responder lifetime; handlers run on the connection's
	// dispatch goroutine and have no request context of their own.
	ctx    context.Context
	logger *zap.Logger
}

func (r *responder) handleHandshake(msg *nats.Msg) {
	var reply handshakeReply
	hs, err := packet.ParseHandshake(msg.Data)
	if err != nil {
		reply = r.handshakes.rejected("nats", err)
	} else {
		reply = r.handshakes.answer(r.ctx, "nats", hs)
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		r.logger.Debug("handshake reply not delivered", zap.Error(err))
	}
}

func (r *responder) handlePacket(msg *nats.Msg) {
	// Expected: {prefix}.packet.{loc}.{ts}
	parts := strings.Split(msg.Subject, ".")
	if len(parts) < 4 {
		r.respondError(msg, codeBadRequest, fmt.Errorf("invalid subject %q", msg.Subject))
		return
	}
	loc, tsStr := parts[len(parts)-2], parts[len(parts)-1]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil || ts <= 0 {
		r.respondError(msg, codeBadRequest, fmt.Errorf("invalid timestamp %q", tsStr))
		return
	}
	d, err := types.ParseLocation(loc, ts)
	if err != nil {
		r.respondError(msg, codeBadRequest, err)
		return
	}

	data, err := r.storage.ReadPacket(r.ctx, d)
	if err != nil {
		r.respondError(msg, errorCode(err), err)
		return
	}
	msg.Respond(data)
}

// handleIngest queues a packet published by the measurement collector.
// Replies are only sent when the publisher asked for one.
func (r *responder) handleIngest(msg *nats.Msg) {
	kind := packet.KindDataPoint
	if msg.Header != nil {
		if k := msg.Header.Get(HeaderKind); k != "" {
			kind = packet.Kind(k)
		}
	}
	p := packet.New(kind, msg.Data)
	if err := p.Validate(0); err != nil {
		r.respondError(msg, codeBadRequest, err)
		return
	}

	if err := r.storage.Submit(r.ctx, p); err != nil {
		r.respondError(msg, codeInternal, fmt.Errorf("queueing packet: %w", err))
		return
	}
	if msg.Reply != "" {
		msg.Respond([]byte(`{"status":"queued"}`))
	}
}

func (r *responder) respondError(msg *nats.Msg, code string, err error) {
	r.logger.Debug("NATS request failed",
		zap.String("subject", msg.Subject),
		zap.String("code", code),
		zap.Error(err),
	)
	if msg.Reply == "" {
		return
	}
	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderError, err.Error())
	reply.Header.Set(HeaderErrorCode, code)
	msg.RespondMsg(reply)
}
