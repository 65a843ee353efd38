package catchup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/archive"
	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/gftdcojp/sensor-packet-store/internal/flash"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/serve"
	"github.com/gftdcojp/sensor-packet-store/internal/tier"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
	"github.com/gftdcojp/sensor-packet-store/internal/volume"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const t0 = int64(1700000000)

func startEmbeddedNATS(t *testing.T) *nats.Conn {
	t.Helper()

	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		t.Fatal(err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

// startStore runs a packet store with both tiers on local directories,
// serving the NATS subjects under "sensor".
func startStore(t *testing.T, nc *nats.Conn) *tier.Coordinator {
	t.Helper()
	root := t.TempDir()
	flashVol, err := volume.NewLocal(filepath.Join(root, "flash"))
	if err != nil {
		t.Fatal(err)
	}
	archVol, err := volume.NewLocal(filepath.Join(root, "sd"))
	if err != nil {
		t.Fatal(err)
	}
	coord := tier.New(tier.Config{
		Flash: flash.NewStore(flash.Config{Volume: flashVol, Capacity: 8, SanityEpoch: 1600000000}),
		Archive: archive.NewStore(archive.Config{
			Volume:         archVol,
			Root:           "dev01",
			BucketTimespan: time.Hour,
			SanityEpoch:    1600000000,
			Now:            func() time.Time { return time.Unix(t0+100, 0) },
		}),
		GapThreshold: 12 * time.Second,
		SanityEpoch:  1600000000,
		MaxIntervals: packet.MaxHandshakeIntervals(packet.DefaultMaxSize),
		MaxResults:   100,
		Logger:       zap.NewNop(),
	})
	if err := coord.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(workerDone)
	}()
	responderDone := make(chan struct{})
	go func() {
		serve.RunNATSResponder(ctx, nc, config.NATSResponderConfig{SubjectPrefix: "sensor", Ingest: true},
			serve.ResponderConfig{Storage: coord})
		close(responderDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-workerDone
		<-responderDone
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := nc.Request("sensor.handshake", nil, 100*time.Millisecond); err == nil {
			return coord
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("store did not start")
	return nil
}

func dataPacket(ts int64) []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(ts))
	return append(b, byte(ts), 0x42)
}

// waitFlash waits until the ingestion worker has persisted n packets.
func waitFlash(t *testing.T, coord *tier.Coordinator, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if coord.Status().Flash.Entries == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d flash entries, have %d", n, coord.Status().Flash.Entries)
}

func TestClient_New(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without a NATS connection")
	}

	nc := startEmbeddedNATS(t)
	client, err := New(Config{NC: nc})
	if err != nil {
		t.Fatal(err)
	}
	if client.prefix != "sensor" {
		t.Fatalf("expected default prefix 'sensor', got %q", client.prefix)
	}
	if client.timeout != 5*time.Second {
		t.Fatalf("expected default timeout 5s, got %v", client.timeout)
	}

	client, _ = New(Config{NC: nc, SubjectPrefix: "site7", Timeout: time.Second})
	if client.prefix != "site7" || client.timeout != time.Second {
		t.Fatalf("custom config not applied: %+v", client)
	}
}

func TestClient_IngestAndFetch(t *testing.T) {
	nc := startEmbeddedNATS(t)
	coord := startStore(t, nc)
	client, _ := New(Config{NC: nc})
	ctx := context.Background()

	for _, ts := range []int64{t0 + 10, t0 + 20, t0 + 30} {
		if err := client.Ingest(ctx, dataPacket(ts)); err != nil {
			t.Fatal(err)
		}
	}
	waitFlash(t, coord, 3)

	descs, err := client.Handshake(ctx, t0+200, []Interval{{Start: t0 + 10, End: t0 + 40}})
	if err != nil {
		t.Fatal(err)
	}
	want := []Descriptor{
		{Tier: types.TierArchive, Bucket: t0 + 10, Timestamp: t0 + 20},
		{Tier: types.TierArchive, Bucket: t0 + 10, Timestamp: t0 + 30},
	}
	if len(descs) != len(want) {
		t.Fatalf("got %+v, want %+v", descs, want)
	}
	for i := range want {
		if descs[i] != want[i] {
			t.Errorf("descriptor %d: got %+v, want %+v", i, descs[i], want[i])
		}
	}

	got, err := client.Fetch(ctx, t0+200, []Interval{{Start: t0, End: t0 + 40}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(got))
	}
	for i, ts := range []int64{t0 + 10, t0 + 20, t0 + 30} {
		if !bytes.Equal(got[i], dataPacket(ts)) {
			t.Errorf("packet %d: got %x, want %x", i, got[i], dataPacket(ts))
		}
	}

	data, err := client.Packet(ctx, Descriptor{Tier: types.TierFlash, Timestamp: t0 + 20})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, dataPacket(t0+20)) {
		t.Fatalf("unexpected flash packet %x", data)
	}
}

func TestClient_Errors(t *testing.T) {
	nc := startEmbeddedNATS(t)
	startStore(t, nc)
	client, _ := New(Config{NC: nc})
	ctx := context.Background()

	_, err := client.Packet(ctx, Descriptor{Tier: types.TierFlash, Timestamp: t0 + 5})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = client.Handshake(ctx, t0, []Interval{{Start: t0 + 30, End: t0}})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}

	if err := client.Ingest(ctx, []byte{1}); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for a short packet, got %v", err)
	}
}

func TestClient_NoStore(t *testing.T) {
	nc := startEmbeddedNATS(t)
	client, _ := New(Config{NC: nc, Timeout: 200 * time.Millisecond})

	if _, err := client.Handshake(context.Background(), t0, nil); err == nil {
		t.Fatal("expected error without a store")
	}
}
