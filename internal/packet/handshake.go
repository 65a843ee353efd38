package packet

import (
	"encoding/ascii85"
	"errors"
	"fmt"

	"github.com/gftdcojp/sensor-packet-store/internal/types"
)

const intervalSize = 8

var ErrMalformedHandshake = errors.New("malformed handshake")

// Handshake is a collector's catch-up request: the time it was issued and
// the intervals it is missing.
type Handshake struct {
	Timestamp int64
	Intervals []types.Interval
}

// MaxHandshakeIntervals returns how many intervals fit a packet of
// maxPacketSize bytes.
func MaxHandshakeIntervals(maxPacketSize int) int {
	return (maxPacketSize - timestampSize) / intervalSize
}

// ParseHandshake decodes a 4-byte timestamp followed by 8-byte
// (start, end) pairs, all little-endian 32-bit.
func ParseHandshake(data []byte) (Handshake, error) {
	if len(data) < timestampSize {
		return Handshake{}, fmt.Errorf("%w: %d bytes", ErrMalformedHandshake, len(data))
	}
	body := data[timestampSize:]
	if len(body)%intervalSize != 0 {
		return Handshake{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedHandshake, len(body)%intervalSize)
	}
	hs := Handshake{
		Timestamp: decodeTime(data),
		Intervals: make([]types.Interval, 0, len(body)/intervalSize),
	}
	for pos := 0; pos < len(body); pos += intervalSize {
		hs.Intervals = append(hs.Intervals, types.Interval{
			Start: decodeTime(body[pos:]),
			End:   decodeTime(body[pos+4:]),
		})
	}
	return hs, nil
}

// Encode is the inverse of ParseHandshake.
func (h Handshake) Encode() []byte {
	buf := make([]byte, 0, timestampSize+len(h.Intervals)*intervalSize)
	buf = appendTime(buf, h.Timestamp)
	for _, iv := range h.Intervals {
		buf = appendTime(buf, iv.Start)
		buf = appendTime(buf, iv.End)
	}
	return buf
}

// Packet wraps the encoded handshake as a KindHandshake packet.
func (h Handshake) Packet() Packet {
	return Packet{kind: KindHandshake, data: h.Encode()}
}

// DecodeHandshakeASCII85 parses the ascii85 text form handshakes arrive in
// from the cloud function.
func DecodeHandshakeASCII85(s string) (Handshake, error) {
	buf := make([]byte, 4*len(s)+4)
	n, _, err := ascii85.Decode(buf, []byte(s), true)
	if err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrMalformedHandshake, err)
	}
	return ParseHandshake(buf[:n])
}

// EncodeASCII85 renders data in the text form DecodeHandshakeASCII85 reads.
func EncodeASCII85(data []byte) string {
	buf := make([]byte, ascii85.MaxEncodedLen(len(data)))
	n := ascii85.Encode(buf, data)
	return string(buf[:n])
}
