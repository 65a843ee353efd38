package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DeviceID      string              `yaml:"device_id"`
	Storage       StorageConfig       `yaml:"storage"`
	Journal       JournalConfig       `yaml:"journal"`
	NATS          NATSConfig          `yaml:"nats"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type StorageConfig struct {
	// SanityEpoch rejects indexed timestamps at or below it.
	SanityEpoch     int64             `yaml:"sanity_epoch"`
	PacketExtension string            `yaml:"packet_extension"`
	MaxPacketSize   ByteSize          `yaml:"max_packet_size"`
	GapThreshold    Duration          `yaml:"gap_threshold"`
	MaxIntervals    int               `yaml:"max_intervals"`
	MaxResults      int               `yaml:"max_results"`
	QueueCapacity   int               `yaml:"queue_capacity"`
	Flash           FlashTierConfig   `yaml:"flash"`
	Archive         ArchiveTierConfig `yaml:"archive"`
}

type FlashTierConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxPackets int    `yaml:"max_packets"`
}

type ArchiveTierConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "local" or "s3".
	Backend        string   `yaml:"backend"`
	Root           string   `yaml:"root"`
	BucketTimespan Duration `yaml:"bucket_timespan"`
	S3             S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	MaxHandshakes int    `yaml:"max_handshakes"`
}

type NATSConfig struct {
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	// ConnectionName defaults to "packet-store-<device_id>".
	ConnectionName string   `yaml:"connection_name"`
	MaxReconnects  int      `yaml:"max_reconnects"`
	ReconnectWait  Duration `yaml:"reconnect_wait"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APIConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Listen        string              `yaml:"listen"`
	NATSResponder NATSResponderConfig `yaml:"nats_responder"`
}

type NATSResponderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
	// Ingest subscribes to "<prefix>.ingest" and queues received packets.
	Ingest bool `yaml:"ingest"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if strings.ContainsAny(c.DeviceID, `/\`) || c.DeviceID == "." || c.DeviceID == ".." {
		return fmt.Errorf("device_id %q must be a single path element", c.DeviceID)
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	if c.Journal.MaxHandshakes < 0 {
		return fmt.Errorf("journal.max_handshakes must be >= 0")
	}

	if c.API.NATSResponder.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when api.nats_responder is enabled")
		}
		if c.API.NATSResponder.SubjectPrefix == "" {
			return fmt.Errorf("api.nats_responder.subject_prefix is required")
		}
	}

	return nil
}

func (s *StorageConfig) validate() error {
	if !s.Flash.Enabled && !s.Archive.Enabled {
		return fmt.Errorf("storage: at least one tier must be enabled")
	}
	if s.PacketExtension == "" || strings.Contains(s.PacketExtension, ".") {
		return fmt.Errorf("storage.packet_extension must be non-empty and contain no '.'")
	}
	if minSize := packet.RequestedHeaderSize + packet.DataPointSize; int(s.MaxPacketSize) < minSize {
		return fmt.Errorf("storage.max_packet_size must be at least %dB, got %d", minSize, s.MaxPacketSize)
	}
	if s.GapThreshold < 0 {
		return fmt.Errorf("storage.gap_threshold must be >= 0")
	}
	if s.MaxIntervals <= 0 {
		return fmt.Errorf("storage.max_intervals must be > 0")
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("storage.max_results must be > 0")
	}
	if s.QueueCapacity <= 0 {
		return fmt.Errorf("storage.queue_capacity must be > 0")
	}

	if s.Flash.Enabled {
		if s.Flash.Dir == "" {
			return fmt.Errorf("storage.flash: dir is required")
		}
		if s.Flash.MaxPackets <= 0 {
			return fmt.Errorf("storage.flash: max_packets must be > 0")
		}
	}

	if s.Archive.Enabled {
		if s.Archive.BucketTimespan.Duration() < time.Second {
			return fmt.Errorf("storage.archive: bucket_timespan must be at least 1s")
		}
		switch s.Archive.Backend {
		case "local":
			if s.Archive.Root == "" {
				return fmt.Errorf("storage.archive: local backend requires root")
			}
		case "s3":
			if s.Archive.S3.Bucket == "" {
				return fmt.Errorf("storage.archive: s3 backend requires s3.bucket")
			}
		default:
			return fmt.Errorf("storage.archive: unknown backend %q", s.Archive.Backend)
		}
	}
	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "120B", "4KB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		// Try as integer
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func parseByteSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := s

	switch {
	case len(s) >= 2 && s[len(s)-2:] == "KB":
		multiplier = 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "MB":
		multiplier = 1024 * 1024
		numStr = s[:len(s)-2]
	case s[len(s)-1] == 'B':
		numStr = s[:len(s)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
