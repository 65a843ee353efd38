package types

import (
	"fmt"
	"strconv"
)

// Tier identifies which backing store holds a packet.
type Tier int

const (
	TierFlash Tier = iota
	TierArchive
)

func (t Tier) String() string {
	switch t {
	case TierFlash:
		return "flash"
	case TierArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// ParseTier is the inverse of Tier.String.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "flash":
		return TierFlash, nil
	case "archive":
		return TierArchive, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Interval is a requested time window in unix seconds. Both bounds are
// exclusive: a timestamp equal to Start or End is outside the interval.
type Interval struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether ts lies strictly between Start and End.
func (iv Interval) Contains(ts int64) bool {
	return iv.Start < ts && ts < iv.End
}

// Span returns End - Start.
func (iv Interval) Span() int64 {
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("(%d, %d)", iv.Start, iv.End)
}

// Descriptor locates a stored packet without holding its payload.
// Bucket is only meaningful for TierArchive.
type Descriptor struct {
	Tier      Tier  `json:"tier"`
	Bucket    int64 `json:"bucket,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

// Location returns the textual location used in subjects and URLs:
// "flash" for the flash tier, the bucket timestamp for the archive tier.
func (d Descriptor) Location() string {
	if d.Tier == TierFlash {
		return TierFlash.String()
	}
	return strconv.FormatInt(d.Bucket, 10)
}

// ParseLocation is the inverse of Descriptor.Location.
func ParseLocation(loc string, ts int64) (Descriptor, error) {
	if loc == TierFlash.String() {
		return Descriptor{Tier: TierFlash, Timestamp: ts}, nil
	}
	bucket, err := strconv.ParseInt(loc, 10, 64)
	if err != nil || bucket <= 0 {
		return Descriptor{}, fmt.Errorf("invalid packet location %q", loc)
	}
	return Descriptor{Tier: TierArchive, Bucket: bucket, Timestamp: ts}, nil
}

// TierStats reports the in-memory index state of a single tier.
type TierStats struct {
	Tier    Tier  `json:"tier"`
	Active  bool  `json:"active"`
	Entries int   `json:"entries"`
	First   int64 `json:"first,omitempty"`
	Last    int64 `json:"last,omitempty"`
	// Capacity is the flash packet limit; -1 for the unbounded archive tier.
	Capacity int `json:"capacity"`
}
