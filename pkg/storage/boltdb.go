package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/cadence/pkg/types"
)

var (
	// Bucket names. Each holds one nested bucket per target.
	bucketSnapshots = []byte("snapshots")
	bucketAnalyses  = []byte("analyses")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cadence.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketAnalyses} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// recordKey orders records by time, then run id
func recordKey(t time.Time, runID string) []byte {
	key := make([]byte, 8, 8+len(runID))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, runID...)
}

func keyTime(key []byte) time.Time {
	if len(key) < 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[:8])))
}

func put(tx *bolt.Tx, bucket []byte, target string, key []byte, value any) error {
	b, err := tx.Bucket(bucket).CreateBucketIfNotExists([]byte(target))
	if err != nil {
		return fmt.Errorf("failed to create bucket for %s: %w", target, err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// list walks a target's records newest first, stopping after limit records
// when limit is positive
func list(tx *bolt.Tx, bucket []byte, target string, limit int, fn func(v []byte) error) error {
	b := tx.Bucket(bucket).Bucket([]byte(target))
	if b == nil {
		return nil
	}

	c := b.Cursor()
	n := 0
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		if limit > 0 && n >= limit {
			break
		}
		if err := fn(v); err != nil {
			return err
		}
		n++
	}
	return nil
}

// Snapshot operations
func (s *BoltStore) SaveSnapshot(snap *types.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, ts := range snap.Targets {
			record := SnapshotRecord{RunID: snap.RunID, Time: snap.Time, Snapshot: ts}
			if err := put(tx, bucketSnapshots, ts.Target, recordKey(snap.Time, snap.RunID), &record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListSnapshots(target string, limit int) ([]*SnapshotRecord, error) {
	var records []*SnapshotRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return list(tx, bucketSnapshots, target, limit, func(v []byte) error {
			var record SnapshotRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) LatestSnapshot(target string) (*SnapshotRecord, error) {
	records, err := s.ListSnapshots(target, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no snapshot for %s", ErrNotFound, target)
	}
	return records[0], nil
}

// Analysis operations
func (s *BoltStore) SaveAnalysis(record *AnalysisRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketAnalyses, record.Target, recordKey(record.Time, record.RunID), record)
	})
}

func (s *BoltStore) ListAnalyses(target string, limit int) ([]*AnalysisRecord, error) {
	var records []*AnalysisRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return list(tx, bucketAnalyses, target, limit, func(v []byte) error {
			var record AnalysisRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// Targets returns every target with stored history
func (s *BoltStore) Targets() ([]string, error) {
	seen := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketAnalyses} {
			err := tx.Bucket(bucket).ForEachBucket(func(k []byte) error {
				seen[string(k)] = true
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(seen))
	for t := range seen {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, nil
}

// Prune deletes every record older than before and returns how many were
// removed
func (s *BoltStore) Prune(before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketAnalyses} {
			parent := tx.Bucket(bucket)

			var names [][]byte
			err := parent.ForEachBucket(func(name []byte) error {
				names = append(names, append([]byte(nil), name...))
				return nil
			})
			if err != nil {
				return err
			}

			for _, name := range names {
				c := parent.Bucket(name).Cursor()
				for k, _ := c.First(); k != nil && keyTime(k).Before(before); k, _ = c.First() {
					if err := c.Delete(); err != nil {
						return err
					}
					removed++
				}
			}
		}
		return nil
	})
	return removed, err
}
