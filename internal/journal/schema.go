package journal

import (
	"encoding/binary"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/types"
)

// Bucket names in BoltDB.
var (
	bucketSystem     = []byte("system")
	bucketFaults     = []byte("faults")
	bucketHandshakes = []byte("handshakes")
	keySchemaVersion = []byte("schema_version")
)

const currentSchemaVersion = 1

// Fault records a tier being disabled.
type Fault struct {
	Tier types.Tier `json:"tier"`
	At   time.Time  `json:"at"`
	// Reason is the error that triggered the fault, if known.
	Reason string `json:"reason,omitempty"`
}

// HandshakeRecord records one catch-up request that was answered.
type HandshakeRecord struct {
	ReceivedAt time.Time        `json:"received_at"`
	Transport  string           `json:"transport"`
	Timestamp  int64            `json:"timestamp"`
	Intervals  []types.Interval `json:"intervals"`
	Results    int              `json:"results"`
	Error      string           `json:"error,omitempty"`
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
