package tier

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/archive"
	"github.com/gftdcojp/sensor-packet-store/internal/flash"
	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/volume"
	"go.uber.org/zap"
)

const testDevice = "dev01"

// countingNotifier records tier-disable signals.
type countingNotifier struct {
	mu         sync.Mutex
	flashCalls int
	archCalls  int
	lastErr    error
}

func (n *countingNotifier) FlashError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flashCalls++
	n.lastErr = err
}

func (n *countingNotifier) ArchiveError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.archCalls++
	n.lastErr = err
}

func (n *countingNotifier) counts() (flashCalls, archCalls int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flashCalls, n.archCalls
}

// failingVolume wraps a Local volume and fails selected operations.
type failingVolume struct {
	*volume.Local
	mu         sync.Mutex
	readDirErr error
	writeErr   error
}

func (f *failingVolume) fail(readDir, write error) {
	f.mu.Lock()
	f.readDirErr, f.writeErr = readDir, write
	f.mu.Unlock()
}

func (f *failingVolume) ReadDir(ctx context.Context, dir string) ([]volume.Entry, error) {
	f.mu.Lock()
	err := f.readDirErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Local.ReadDir(ctx, dir)
}

func (f *failingVolume) WriteFile(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Local.WriteFile(ctx, name, data)
}

type testClock struct {
	mu  sync.Mutex
	now int64
}

func (c *testClock) set(ts int64) {
	c.mu.Lock()
	c.now = ts
	c.mu.Unlock()
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

type envConfig struct {
	capacity     int
	threshold    time.Duration
	maxIntervals int
	maxResults   int
	sanityEpoch  int64
	// seed runs against the host directories before Initialize.
	seed func(flashDir, archiveDir string)
	// broken fails the named volume before Initialize.
	brokenFlash, brokenArchive bool
}

type testEnv struct {
	c        *Coordinator
	notifier *countingNotifier
	flashVol *failingVolume
	archVol  *failingVolume
	clock    *testClock
	flashDir string
	archDir  string
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	if cfg.capacity == 0 {
		cfg.capacity = 16
	}
	if cfg.threshold == 0 {
		cfg.threshold = 12 * time.Second
	}
	root := t.TempDir()
	flashLocal, err := volume.NewLocal(filepath.Join(root, "flash"))
	if err != nil {
		t.Fatal(err)
	}
	archLocal, err := volume.NewLocal(filepath.Join(root, "sd"))
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		notifier: &countingNotifier{},
		flashVol: &failingVolume{Local: flashLocal},
		archVol:  &failingVolume{Local: archLocal},
		clock:    &testClock{now: 1700000000},
		flashDir: flashLocal.Root(),
		archDir:  filepath.Join(archLocal.Root(), testDevice),
	}
	if cfg.seed != nil {
		os.MkdirAll(env.archDir, 0755)
		cfg.seed(env.flashDir, env.archDir)
	}
	if cfg.brokenFlash {
		env.flashVol.fail(errBus, errBus)
	}
	if cfg.brokenArchive {
		env.archVol.fail(errBus, errBus)
	}

	env.c = New(Config{
		Flash: flash.NewStore(flash.Config{
			Volume:      env.flashVol,
			Capacity:    cfg.capacity,
			Extension:   "pkt",
			SanityEpoch: cfg.sanityEpoch,
			Logger:      zap.NewNop(),
		}),
		Archive: archive.NewStore(archive.Config{
			Volume:         env.archVol,
			Root:           testDevice,
			BucketTimespan: time.Hour,
			Extension:      "pkt",
			SanityEpoch:    cfg.sanityEpoch,
			Now:            env.clock.Now,
			Logger:         zap.NewNop(),
		}),
		Notifier:      env.notifier,
		GapThreshold:  cfg.threshold,
		SanityEpoch:   cfg.sanityEpoch,
		MaxIntervals:  cfg.maxIntervals,
		MaxResults:    cfg.maxResults,
		MaxPacketSize: packet.DefaultMaxSize,
		QueueCapacity: 4,
		Logger:        zap.NewNop(),
	})
	if err := env.c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return env
}

// ingest stores a data-point packet stamped ts with the clock at ts.
func (e *testEnv) ingest(t *testing.T, ts int64) packet.Packet {
	t.Helper()
	e.clock.set(ts)
	p := dataPacket(ts)
	if err := e.c.Ingest(context.Background(), p); err != nil {
		t.Fatalf("Ingest(%d): %v", ts, err)
	}
	return p
}

func dataPacket(ts int64, body ...byte) packet.Packet {
	b := binary.LittleEndian.AppendUint32(nil, uint32(ts))
	if len(body) == 0 {
		body = []byte{byte(ts), byte(ts >> 8), 0x42}
	}
	return packet.New(packet.KindDataPoint, append(b, body...))
}

// writeFiles creates packet files named by timestamp in dir.
func writeFiles(t *testing.T, dir string, stamps ...int64) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, ts := range stamps {
		if err := os.WriteFile(filepath.Join(dir, packet.Filename(ts, "pkt")), dataPacket(ts).Bytes(), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

var errBus = errors.New("bus error")
