// Package evidencetest is a behavioural test suite every EvidenceStore runs.
package evidencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// Factory opens a fresh, empty store with the given capacity and byte quota
// (quota <= 0 disables it). The store is closed by the factory's own cleanup.
type Factory func(t *testing.T, capacity int, quota int64) domain.EvidenceStore

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Snap builds a small snapshot taken n seconds after a fixed base time.
func Snap(typ domain.AnomalyType, n int) domain.Snapshot {
	return domain.Snapshot{
		Image:       fmt.Sprintf("data:image/jpeg;base64,img%02d", n),
		Screenshot:  fmt.Sprintf("data:image/jpeg;base64,scr%02d", n),
		AnomalyType: typ,
		Timestamp:   base.Add(time.Duration(n) * time.Second),
	}
}

func ids(snaps []domain.Snapshot) []int64 {
	out := make([]int64, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.ID)
	}
	return out
}

func span(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("SaveAssignsIncreasingIDs", func(t *testing.T) {
		s := newStore(t, 20, 0)
		for want := int64(1); want <= 3; want++ {
			id, err := s.Save(ctx, Snap(domain.AnomalyNoFace, int(want)))
			require.NoError(t, err)
			assert.Equal(t, want, id)
		}

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, Snap(domain.AnomalyNoFace, 1).Image, all[0].Image)
		assert.Equal(t, Snap(domain.AnomalyNoFace, 1).Screenshot, all[0].Screenshot)
		assert.Equal(t, domain.AnomalyNoFace, all[0].AnomalyType)
		assert.True(t, Snap(domain.AnomalyNoFace, 1).Timestamp.Equal(all[0].Timestamp))
	})

	t.Run("EvictionKeepsNewestCapacity", func(t *testing.T) {
		s := newStore(t, 20, 0)
		for i := 1; i <= 25; i++ {
			_, err := s.Save(ctx, Snap(domain.AnomalyGazeOffScreen, i))
			require.NoError(t, err)
		}
		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, span(6, 25), ids(all))
	})

	t.Run("EvictionFollowsIDSequenceAcrossClear", func(t *testing.T) {
		s := newStore(t, 3, 0)
		for i := 1; i <= 4; i++ {
			_, err := s.Save(ctx, Snap(domain.AnomalyNoFace, i))
			require.NoError(t, err)
		}
		require.NoError(t, s.Clear(ctx))

		id, err := s.Save(ctx, Snap(domain.AnomalyNoFace, 5))
		require.NoError(t, err)
		assert.Equal(t, int64(5), id)

		for i := 6; i <= 8; i++ {
			_, err := s.Save(ctx, Snap(domain.AnomalyNoFace, i))
			require.NoError(t, err)
		}
		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{6, 7, 8}, ids(all))
	})

	t.Run("DeleteByID", func(t *testing.T) {
		s := newStore(t, 20, 0)
		for i := 1; i <= 3; i++ {
			_, err := s.Save(ctx, Snap(domain.AnomalyNoFace, i))
			require.NoError(t, err)
		}
		require.NoError(t, s.DeleteByID(ctx, 2))
		require.NoError(t, s.DeleteByID(ctx, 2))
		require.NoError(t, s.DeleteByID(ctx, 99))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids(all))
	})

	t.Run("ClearEmptiesStore", func(t *testing.T) {
		s := newStore(t, 20, 0)
		_, err := s.Save(ctx, Snap(domain.AnomalyNoFace, 1))
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx))

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("ListByType", func(t *testing.T) {
		s := newStore(t, 20, 0)
		types := []domain.AnomalyType{domain.AnomalyNoFace, domain.AnomalyMultipleFaces, domain.AnomalyNoFace}
		for i, typ := range types {
			_, err := s.Save(ctx, Snap(typ, i+1))
			require.NoError(t, err)
		}

		got, err := s.ListByType(ctx, domain.AnomalyNoFace)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids(got))

		got, err = s.ListByType(ctx, domain.AnomalyBlurDetected)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ListSince", func(t *testing.T) {
		s := newStore(t, 20, 0)
		for _, n := range []int{30, 10, 20} {
			_, err := s.Save(ctx, Snap(domain.AnomalyGazeOffScreen, n))
			require.NoError(t, err)
		}

		got, err := s.ListSince(ctx, base.Add(20*time.Second))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []int64{3, 1}, ids(got))
	})

	t.Run("QuotaExceededDropsSnapshot", func(t *testing.T) {
		one := Snap(domain.AnomalyNoFace, 1)
		size := int64(len(one.Image) + len(one.Screenshot))
		s := newStore(t, 20, 2*size)

		for i := 1; i <= 2; i++ {
			_, err := s.Save(ctx, Snap(domain.AnomalyNoFace, i))
			require.NoError(t, err)
		}
		_, err := s.Save(ctx, Snap(domain.AnomalyNoFace, 3))
		require.ErrorIs(t, err, domain.ErrStorageQuotaExceeded)

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids(all))

		require.NoError(t, s.DeleteByID(ctx, 1))
		id, err := s.Save(ctx, Snap(domain.AnomalyNoFace, 4))
		require.NoError(t, err)
		assert.Equal(t, int64(3), id)
	})

	t.Run("ConcurrentSavesKeepSequence", func(t *testing.T) {
		s := newStore(t, 100, 0)
		const n = 40

		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := make(map[int64]bool)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := s.Save(ctx, Snap(domain.AnomalyBlurDetected, i))
				assert.NoError(t, err)
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, seen, n)
		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, span(1, n), ids(all))
	})
}
