// Package badger persists evidence snapshots in an embedded Badger database.
//
// Key layout:
//
//	snap/<id>                 JSON record
//	idx/type/<type>/<id>      secondary index by anomaly type
//	idx/ts/<timestamp>/<id>   secondary index by capture time
//	meta/seq                  last assigned id
//	meta/used                 bytes charged against the quota
//
// Ids are big-endian so key order is id order.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/evidence"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

var (
	prefixSnap    = []byte("snap/")
	prefixIdx     = []byte("idx/")
	prefixIdxType = []byte("idx/type/")
	prefixIdxTS   = []byte("idx/ts/")
	keySeq        = []byte("meta/seq")
	keyUsed       = []byte("meta/used")
)

type record struct {
	Image       string `json:"image"`
	Screenshot  string `json:"screenshot"`
	AnomalyType string `json:"anomalyType"`
	Timestamp   string `json:"timestamp"`
}

type EvidenceStore struct {
	db       *badger.DB
	capacity int
	quota    int64

	mu sync.Mutex
}

// Open opens the database in dir. An empty dir keeps everything in memory.
func Open(dir string, capacity int, quota int64) (*EvidenceStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence database: %w", err)
	}
	if capacity < 1 {
		capacity = evidence.DefaultCapacity
	}
	slog.Info("Evidence database opened", "path", dir, "capacity", capacity, "quota_bytes", quota)
	return &EvidenceStore{db: db, capacity: capacity, quota: quota}, nil
}

func (s *EvidenceStore) Close() error {
	return s.db.Close()
}

func (s *EvidenceStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("evidence database closed")
	}
	return nil
}

func (s *EvidenceStore) Save(_ context.Context, snap domain.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		id      int64
		evicted bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		seq, err := readInt(txn, keySeq)
		if err != nil {
			return err
		}
		used, err := readInt(txn, keyUsed)
		if err != nil {
			return err
		}

		size := evidence.Size(snap.Image, snap.Screenshot)
		if s.quota > 0 && used+size > s.quota {
			return fmt.Errorf("save %d bytes with %d of %d used: %w", size, used, s.quota, domain.ErrStorageQuotaExceeded)
		}

		id = seq + 1
		rec := record{
			Image:       snap.Image,
			Screenshot:  snap.Screenshot,
			AnomalyType: string(snap.AnomalyType),
			Timestamp:   evidence.FormatTime(snap.Timestamp),
		}
		if err := putRecord(txn, id, rec); err != nil {
			return err
		}
		used += size

		if victim := evidence.EvictionID(id, s.capacity); victim > 0 {
			freed, ok, err := deleteRecord(txn, victim)
			if err != nil {
				return err
			}
			used -= freed
			evicted = ok
		}

		if err := txn.Set(keySeq, encodeInt(id)); err != nil {
			return err
		}
		return txn.Set(keyUsed, encodeInt(used))
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return 0, fmt.Errorf("failed to save snapshot: %w: %w", domain.ErrStorageQuotaExceeded, err)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if evicted {
		metrics.SnapshotsEvictedTotal.Inc()
	}
	return id, nil
}

func (s *EvidenceStore) GetAll(_ context.Context) ([]domain.Snapshot, error) {
	snaps := []domain.Snapshot{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefixSnap); it.ValidForPrefix(prefixSnap); it.Next() {
			item := it.Item()
			id := decodeID(item.Key()[len(prefixSnap):])
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			snap, err := decodeRecord(id, raw)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snaps, nil
}

func (s *EvidenceStore) ListByType(_ context.Context, anomalyType domain.AnomalyType) ([]domain.Snapshot, error) {
	prefix := typeIndexPrefix(string(anomalyType))
	snaps, err := s.scanIndex(prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots by type: %w", err)
	}
	return snaps, nil
}

func (s *EvidenceStore) ListSince(_ context.Context, since time.Time) ([]domain.Snapshot, error) {
	start := append(append([]byte{}, prefixIdxTS...), evidence.FormatTime(since)...)
	snaps, err := s.scanIndex(prefixIdxTS, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots since %s: %w", since, err)
	}
	return snaps, nil
}

// scanIndex walks index keys under prefix from start and loads the referenced records.
func (s *EvidenceStore) scanIndex(prefix, start []byte) ([]domain.Snapshot, error) {
	snaps := []domain.Snapshot{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			id := decodeID(key[len(key)-8:])
			item, err := txn.Get(snapKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			snap, err := decodeRecord(id, raw)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	return snaps, err
}

func (s *EvidenceStore) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		freed, ok, err := deleteRecord(txn, id)
		if err != nil || !ok {
			return err
		}
		used, err := readInt(txn, keyUsed)
		if err != nil {
			return err
		}
		return txn.Set(keyUsed, encodeInt(used-freed))
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %d: %w", id, err)
	}
	return nil
}

// Clear drops every record and index entry. The id sequence is kept.
func (s *EvidenceStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DropPrefix(prefixSnap, prefixIdx); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyUsed, encodeInt(0))
	}); err != nil {
		return fmt.Errorf("failed to reset evidence usage: %w", err)
	}
	return nil
}

func putRecord(txn *badger.Txn, id int64, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := txn.Set(snapKey(id), raw); err != nil {
		return err
	}
	if err := txn.Set(indexKey(typeIndexPrefix(rec.AnomalyType), id), nil); err != nil {
		return err
	}
	return txn.Set(indexKey(tsIndexPrefix(rec.Timestamp), id), nil)
}

// deleteRecord removes id and its index entries, returning the bytes it held.
func deleteRecord(txn *badger.Txn, id int64) (int64, bool, error) {
	item, err := txn.Get(snapKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var rec record
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return 0, false, fmt.Errorf("decode snapshot %d: %w", id, err)
	}

	for _, k := range [][]byte{
		snapKey(id),
		indexKey(typeIndexPrefix(rec.AnomalyType), id),
		indexKey(tsIndexPrefix(rec.Timestamp), id),
	} {
		if err := txn.Delete(k); err != nil {
			return 0, false, err
		}
	}
	return evidence.Size(rec.Image, rec.Screenshot), true, nil
}

func decodeRecord(id int64, raw []byte) (domain.Snapshot, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %d: %w", id, err)
	}
	ts, err := evidence.ParseTime(rec.Timestamp)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{
		ID:          id,
		Image:       rec.Image,
		Screenshot:  rec.Screenshot,
		AnomalyType: domain.AnomalyType(rec.AnomalyType),
		Timestamp:   ts,
	}, nil
}

func readInt(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %q", key)
		}
		v = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return v, err
}

func encodeInt(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func snapKey(id int64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixSnap...), uint64(id))
}

func typeIndexPrefix(anomalyType string) []byte {
	var b bytes.Buffer
	b.Write(prefixIdxType)
	b.WriteString(anomalyType)
	b.WriteByte('/')
	return b.Bytes()
}

func tsIndexPrefix(ts string) []byte {
	var b bytes.Buffer
	b.Write(prefixIdxTS)
	b.WriteString(ts)
	b.WriteByte('/')
	return b.Bytes()
}

func indexKey(prefix []byte, id int64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefix...), uint64(id))
}
