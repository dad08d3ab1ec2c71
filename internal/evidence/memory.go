package evidence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

// MemoryStore is a process-local EvidenceStore. It honours the same capacity
// and quota rules as the durable stores but forgets everything on restart.
type MemoryStore struct {
	capacity int
	quota    int64

	mu     sync.Mutex
	nextID int64
	used   int64
	items  map[int64]domain.Snapshot
}

// NewMemoryStore returns an empty store. quota <= 0 disables the byte quota.
func NewMemoryStore(capacity int, quota int64) *MemoryStore {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		quota:    quota,
		items:    make(map[int64]domain.Snapshot),
	}
}

func (s *MemoryStore) Save(_ context.Context, snap domain.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := Size(snap.Image, snap.Screenshot)
	if s.quota > 0 && s.used+size > s.quota {
		return 0, fmt.Errorf("save %d bytes with %d of %d used: %w", size, s.used, s.quota, domain.ErrStorageQuotaExceeded)
	}

	s.nextID++
	snap.ID = s.nextID
	snap.Timestamp = NormalizeTime(snap.Timestamp)
	s.items[snap.ID] = snap
	s.used += size

	if victim := EvictionID(snap.ID, s.capacity); victim > 0 {
		if old, ok := s.items[victim]; ok {
			s.used -= Size(old.Image, old.Screenshot)
			delete(s.items, victim)
			metrics.SnapshotsEvictedTotal.Inc()
		}
	}
	return snap.ID, nil
}

func (s *MemoryStore) GetAll(_ context.Context) ([]domain.Snapshot, error) {
	return s.filter(func(domain.Snapshot) bool { return true }), nil
}

func (s *MemoryStore) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.items[id]; ok {
		s.used -= Size(old.Image, old.Screenshot)
		delete(s.items, id)
	}
	return nil
}

// Clear removes every snapshot. The id sequence continues.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int64]domain.Snapshot)
	s.used = 0
	return nil
}

func (s *MemoryStore) ListByType(_ context.Context, anomalyType domain.AnomalyType) ([]domain.Snapshot, error) {
	return s.filter(func(snap domain.Snapshot) bool { return snap.AnomalyType == anomalyType }), nil
}

func (s *MemoryStore) ListSince(_ context.Context, since time.Time) ([]domain.Snapshot, error) {
	since = NormalizeTime(since)
	out := s.filter(func(snap domain.Snapshot) bool { return !snap.Timestamp.Before(since) })
	SortByTime(out)
	return out, nil
}

func (s *MemoryStore) filter(keep func(domain.Snapshot) bool) []domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Snapshot, 0, len(s.items))
	for _, snap := range s.items {
		if keep(snap) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortByTime orders snapshots by timestamp, then id.
func SortByTime(snaps []domain.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].Timestamp.Equal(snaps[j].Timestamp) {
			return snaps[i].Timestamp.Before(snaps[j].Timestamp)
		}
		return snaps[i].ID < snaps[j].ID
	})
}
