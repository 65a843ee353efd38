// Package journal keeps a durable record of tier faults and served
// handshakes in a BoltDB file, so an operator can see after a restart why a
// tier went offline and what collectors asked for.
package journal

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Store is the journal interface.
type Store interface {
	RecordFault(ctx context.Context, f Fault) error
	Faults(ctx context.Context) ([]Fault, error)
	RecordHandshake(ctx context.Context, rec HandshakeRecord) error
	// Handshakes returns up to limit records, newest first. limit <= 0
	// returns all of them.
	Handshakes(ctx context.Context, limit int) ([]HandshakeRecord, error)
	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db            *bbolt.DB
	maxHandshakes int
	logger        *zap.Logger
}

// NewBoltStore opens or creates a journal. At most maxHandshakes handshake
// records are retained; 0 keeps everything.
func NewBoltStore(path string, maxHandshakes int, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, maxHandshakes: maxHandshakes, logger: logger.Named("journal")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) initSchema() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if v := sys.Get(keySchemaVersion); v != nil {
			if got := bytesToUint64(v); got > currentSchemaVersion {
				return fmt.Errorf("journal schema version %d is newer than supported %d", got, currentSchemaVersion)
			}
		} else if err := sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion)); err != nil {
			return err
		}
		for _, name := range [][]byte{bucketFaults, bucketHandshakes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// appendRecord stores v under the bucket's next sequence number.
func appendRecord(tx *bbolt.Tx, name []byte, v any) (uint64, error) {
	b := tx.Bucket(name)
	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	data, err := encode(v)
	if err != nil {
		return 0, err
	}
	return seq, b.Put(uint64ToBytes(seq), data)
}

func (s *BoltStore) RecordFault(_ context.Context, f Fault) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := appendRecord(tx, bucketFaults, &f)
		return err
	}); err != nil {
		return fmt.Errorf("recording fault: %w", err)
	}
	return nil
}

func (s *BoltStore) Faults(_ context.Context) ([]Fault, error) {
	var out []Fault
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFaults).ForEach(func(_, v []byte) error {
			var f Fault
			if err := decode(v, &f); err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading faults: %w", err)
	}
	return out, nil
}

func (s *BoltStore) RecordHandshake(_ context.Context, rec HandshakeRecord) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		seq, err := appendRecord(tx, bucketHandshakes, &rec)
		if err != nil {
			return err
		}
		if s.maxHandshakes <= 0 || seq <= uint64(s.maxHandshakes) {
			return nil
		}
		// Sequence numbers are dense, so everything at or below the
		// cutoff is outside the retention window.
		cutoff := seq - uint64(s.maxHandshakes)
		b := tx.Bucket(bucketHandshakes)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytesToUint64(k) <= cutoff; k, _ = c.Next() {
			stale = append(stale, bytes.Clone(k))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording handshake: %w", err)
	}
	return nil
}

func (s *BoltStore) Handshakes(_ context.Context, limit int) ([]HandshakeRecord, error) {
	var out []HandshakeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketHandshakes).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec HandshakeRecord
			if err := decode(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading handshakes: %w", err)
	}
	return out, nil
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
