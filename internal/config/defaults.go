package config

import (
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/packet"
)

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			SanityEpoch:     1600000000,
			PacketExtension: packet.DefaultExtension,
			MaxPacketSize:   ByteSize(packet.DefaultMaxSize),
			GapThreshold:    Duration(12 * time.Second),
			MaxIntervals:    packet.MaxHandshakeIntervals(packet.DefaultMaxSize),
			MaxResults:      250,
			QueueCapacity:   10,
			Flash: FlashTierConfig{
				Enabled:    true,
				Dir:        "/var/lib/packet-store/flash",
				MaxPackets: 1024,
			},
			Archive: ArchiveTierConfig{
				Enabled:        true,
				Backend:        "local",
				Root:           "/mnt/sd",
				BucketTimespan: Duration(time.Hour),
				S3: S3Config{
					Region: "us-east-1",
				},
			},
		},
		Journal: JournalConfig{
			Path:          "/var/lib/packet-store/journal.db",
			MaxHandshakes: 1000,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		API: APIConfig{
			Enabled: true,
			Listen:  ":8080",
			NATSResponder: NATSResponderConfig{
				Enabled:       false,
				SubjectPrefix: "sensor",
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
