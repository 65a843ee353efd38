// Package packet defines the unit of persistence: a tagged binary record
// whose first four bytes carry its creation time.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind is the event tag a packet is published and stored under.
type Kind string

const (
	KindDataPoint Kind = "dp"
	KindRequested Kind = "rdp"
	KindHandshake Kind = "hs"
	KindError     Kind = "error"
	KindText      Kind = "text"
)

const (
	// DefaultMaxSize is the largest packet payload before transport encoding.
	DefaultMaxSize = 150 / 5 * 4

	// DefaultExtension is the filename suffix of stored packets.
	DefaultExtension = "pkt"

	timestampSize = 4
)

var (
	ErrTooShort        = errors.New("packet too short to carry a timestamp")
	ErrTooLarge        = errors.New("packet exceeds maximum size")
	ErrInvalidFilename = errors.New("invalid packet filename")
)

// Packet is an immutable tagged payload.
type Packet struct {
	kind Kind
	data []byte
}

// New copies data into a packet of the given kind.
func New(kind Kind, data []byte) Packet {
	return Packet{kind: kind, data: slices.Clone(data)}
}

// Kind returns the packet's event tag.
func (p Packet) Kind() Kind {
	return p.kind
}

// Bytes returns a copy of the payload.
func (p Packet) Bytes() []byte {
	return slices.Clone(p.data)
}

// Len returns the payload size in bytes.
func (p Packet) Len() int {
	return len(p.data)
}

// Timestamp decodes the little-endian unsigned 32-bit unix time in bytes 0-3.
func (p Packet) Timestamp() (int64, error) {
	if len(p.data) < timestampSize {
		return 0, ErrTooShort
	}
	return decodeTime(p.data), nil
}

// Validate checks that the payload carries a timestamp and fits maxSize.
func (p Packet) Validate(maxSize int) error {
	if len(p.data) < timestampSize {
		return ErrTooShort
	}
	if maxSize > 0 && len(p.data) > maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(p.data), maxSize)
	}
	return nil
}

// Filename returns "<timestamp>.<ext>".
func Filename(ts int64, ext string) string {
	return strconv.FormatInt(ts, 10) + "." + ext
}

// ParseFilename extracts the timestamp from "<timestamp>.<ext>". The name
// must contain exactly one '.', the suffix must equal ext and the prefix
// must be a positive decimal integer.
func ParseFilename(name, ext string) (int64, error) {
	if strings.Count(name, ".") != 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	prefix, suffix, _ := strings.Cut(name, ".")
	if suffix != ext {
		return 0, fmt.Errorf("%w: %q has suffix %q, want %q", ErrInvalidFilename, name, suffix, ext)
	}
	ts, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || ts <= 0 {
		return 0, fmt.Errorf("%w: %q has no positive timestamp", ErrInvalidFilename, name)
	}
	return ts, nil
}

// ParseBucketName parses an archive bucket directory name.
func ParseBucketName(name string) (int64, error) {
	ts, err := strconv.ParseInt(name, 10, 64)
	if err != nil || ts <= 0 {
		return 0, fmt.Errorf("invalid bucket name %q", name)
	}
	return ts, nil
}

// Timestamps on the wire are unsigned, which carries them past 2038.
func decodeTime(b []byte) int64 {
	return int64(binary.LittleEndian.Uint32(b[:timestampSize]))
}

func appendTime(b []byte, ts int64) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(ts))
}
