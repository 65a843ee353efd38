// Package natsutil opens the NATS connection a sensor device uses to answer
// collector handshakes and packet reads.
package natsutil

import (
	"fmt"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Packets are at most a few hundred bytes, so a small reconnect buffer
// holds every reply a handshake can produce.
const reconnectBufSize = 1 << 20

// ConnectionName is the client name the server reports for a device:
// the configured name, or "packet-store-<deviceID>" when none is set.
func ConnectionName(cfg config.NATSConfig, deviceID string) string {
	if cfg.ConnectionName != "" {
		return cfg.ConnectionName
	}
	return "packet-store-" + deviceID
}

// Connect dials cfg.URL on behalf of deviceID. Connection events are logged
// with the device and client name attached.
func Connect(cfg config.NATSConfig, deviceID string, logger *zap.Logger) (*nats.Conn, error) {
	opts, err := options(cfg, deviceID, logger)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("device %s connecting to NATS at %s: %w", deviceID, cfg.URL, err)
	}

	logger.With(zap.String("device_id", deviceID)).Info("connected to NATS",
		zap.String("url", nc.ConnectedUrl()),
		zap.String("server_id", nc.ConnectedServerId()),
		zap.String("name", nc.Opts.Name),
	)
	return nc, nil
}

func options(cfg config.NATSConfig, deviceID string, logger *zap.Logger) ([]nats.Option, error) {
	name := ConnectionName(cfg, deviceID)
	log := logger.With(zap.String("device_id", deviceID), zap.String("name", name))

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected, handshakes unanswered until reconnect", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("NATS async error", fields...)
		}),
		nats.ReconnectBufSize(reconnectBufSize),
		nats.PingInterval(20 * time.Second),
	}

	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}
	if cfg.NKeySeedFile != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("loading nkey seed: %w", err)
		}
		opts = append(opts, opt)
	}
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}
	if cfg.TLS.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
	}
	return opts, nil
}
