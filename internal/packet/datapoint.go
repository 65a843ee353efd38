package packet

import (
	"fmt"
	"math"
)

const (
	// DataPointValues is the number of measured quantities per datapoint.
	DataPointValues = 10

	// DataPointSize is the encoded size: timestamp plus 3 bytes per value.
	DataPointSize = timestampSize + DataPointValues*valueSize

	// RequestedHeaderSize is reserved so a data-point packet still fits
	// once wrapped in a requested-data-point response.
	RequestedHeaderSize = 10

	valueSize       = 3
	valueMultiplier = 100.0 * 32.0
	maxEncodedValue = 1<<(8*valueSize) - 1
)

// DataPoint is one averaged measurement.
type DataPoint [DataPointValues]float64

// Sample is a decoded datapoint.
type Sample struct {
	Timestamp int64
	Values    DataPoint
}

// Builder accumulates datapoints into a data-point packet until the next
// datapoint would no longer fit.
type Builder struct {
	maxPayload int
	data       []byte
	count      int
}

// NewBuilder creates a builder for packets of at most maxPacketSize bytes.
func NewBuilder(maxPacketSize int) *Builder {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxSize
	}
	maxPayload := maxPacketSize - RequestedHeaderSize
	return &Builder{
		maxPayload: maxPayload,
		data:       make([]byte, 0, maxPayload),
	}
}

// Append encodes dp stamped with ts. Returns false if the packet is full,
// indicating the caller should Seal() and start a new one.
func (b *Builder) Append(dp DataPoint, ts int64) bool {
	if b.Full() {
		return false
	}
	b.data = appendTime(b.data, ts)
	for _, v := range dp {
		enc := encodeValue(v)
		b.data = append(b.data, byte(enc), byte(enc>>8), byte(enc>>16))
	}
	b.count++
	return true
}

// Full reports whether another datapoint would exceed the payload limit.
func (b *Builder) Full() bool {
	return b.maxPayload-len(b.data) < DataPointSize
}

// Count returns the number of datapoints appended so far.
func (b *Builder) Count() int {
	return b.count
}

// Seal returns the accumulated packet and resets the builder. ok is false
// if nothing was appended.
func (b *Builder) Seal() (p Packet, ok bool) {
	if b.count == 0 {
		return Packet{}, false
	}
	p = New(KindDataPoint, b.data)
	b.data = b.data[:0]
	b.count = 0
	return p, true
}

// DecodeDataPoints parses the payload of a data-point packet.
func DecodeDataPoints(data []byte) ([]Sample, error) {
	if len(data)%DataPointSize != 0 {
		return nil, fmt.Errorf("data-point payload of %d bytes is not a multiple of %d", len(data), DataPointSize)
	}
	samples := make([]Sample, 0, len(data)/DataPointSize)
	for pos := 0; pos < len(data); pos += DataPointSize {
		s := Sample{Timestamp: decodeTime(data[pos:])}
		off := pos + timestampSize
		for i := range s.Values {
			raw := uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16
			s.Values[i] = float64(raw) / valueMultiplier
			off += valueSize
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func encodeValue(v float64) uint32 {
	scaled := math.Floor(valueMultiplier*v + 0.5)
	switch {
	case scaled <= 0 || math.IsNaN(scaled):
		return 0
	case scaled >= maxEncodedValue:
		return maxEncodedValue
	}
	return uint32(scaled)
}
