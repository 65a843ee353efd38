package catchup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"github.com/nats-io/nats.go"
)

// Interval is a requested window in unix seconds; both bounds are exclusive.
type Interval = types.Interval

// Descriptor locates a packet held by the store.
type Descriptor = types.Descriptor

// Config configures the catch-up client.
type Config struct {
	// NC is the NATS connection.
	NC *nats.Conn

	// SubjectPrefix is the prefix of the store's subjects.
	// Defaults to "sensor".
	SubjectPrefix string

	// Timeout bounds each request when ctx has no deadline. Defaults to 5s.
	Timeout time.Duration
}

// Client talks to a packet store over NATS.
type Client struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

// New creates a new catch-up client.
func New(cfg Config) (*Client, error) {
	if cfg.NC == nil {
		return nil, fmt.Errorf("catchup: NC (NATS connection) is required")
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "sensor"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{nc: cfg.NC, prefix: prefix, timeout: timeout}, nil
}

type handshakeReply struct {
	Timestamp int64        `json:"timestamp"`
	Packets   []Descriptor `json:"packets"`
	Error     string       `json:"error"`
	Code      string       `json:"code"`
}

// Handshake asks the store for every packet strictly inside intervals and
// returns their descriptors sorted by timestamp. issuedAt is the collector's
// clock at the time of the request.
func (c *Client) Handshake(ctx context.Context, issuedAt int64, intervals []Interval) ([]Descriptor, error) {
	hs := packet.Handshake{Timestamp: issuedAt, Intervals: intervals}
	resp, err := c.request(ctx, c.prefix+".handshake", hs.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("catchup: handshake request: %w", err)
	}

	var reply handshakeReply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return nil, fmt.Errorf("catchup: decoding handshake reply: %w", err)
	}
	if reply.Error != "" {
		return nil, remoteError(reply.Code, reply.Error)
	}
	return reply.Packets, nil
}

// Packet fetches the raw bytes of the packet d describes.
func (c *Client) Packet(ctx context.Context, d Descriptor) ([]byte, error) {
	subject := fmt.Sprintf("%s.packet.%s.%d", c.prefix, d.Location(), d.Timestamp)
	resp, err := c.request(ctx, subject, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("catchup: packet request: %w", err)
	}
	if err := replyError(resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Fetch runs a handshake and downloads every packet it returns, in order.
// Packets evicted between the two steps are skipped.
func (c *Client) Fetch(ctx context.Context, issuedAt int64, intervals []Interval) ([][]byte, error) {
	descs, err := c.Handshake(ctx, issuedAt, intervals)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(descs))
	for _, d := range descs {
		data, err := c.Packet(ctx, d)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return out, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Ingest hands a finished data-point packet to the store's inbound queue.
func (c *Client) Ingest(ctx context.Context, data []byte) error {
	return c.IngestKind(ctx, packet.KindDataPoint, data)
}

// IngestKind is Ingest for an explicit packet kind. The store only persists
// data-point packets; anything else is logged and dropped.
func (c *Client) IngestKind(ctx context.Context, kind packet.Kind, data []byte) error {
	hdr := nats.Header{}
	hdr.Set(headerKind, string(kind))
	resp, err := c.request(ctx, c.prefix+".ingest", data, hdr)
	if err != nil {
		return fmt.Errorf("catchup: ingest request: %w", err)
	}
	return replyError(resp)
}

func (c *Client) request(ctx context.Context, subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header[k] = v
	}
	return c.nc.RequestMsgWithContext(ctx, msg)
}

func replyError(resp *nats.Msg) error {
	if resp.Header == nil {
		return nil
	}
	code := resp.Header.Get(headerErrorCode)
	if code == "" {
		return nil
	}
	return remoteError(code, resp.Header.Get(headerError))
}
