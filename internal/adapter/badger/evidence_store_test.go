package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/evidence/evidencetest"
)

func TestEvidenceStore(t *testing.T) {
	evidencetest.Run(t, func(t *testing.T, capacity int, quota int64) domain.EvidenceStore {
		s, err := Open(t.TempDir(), capacity, quota)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestEvidenceStore_InMemory(t *testing.T) {
	s, err := Open("", 2, 0)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := s.Save(ctx, evidencetest.Snap(domain.AnomalyNoFace, i))
		require.NoError(t, err)
	}
	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].ID)
	assert.NoError(t, s.Ping(ctx))
}

func TestEvidenceStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, 20, 0)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := s.Save(ctx, evidencetest.Snap(domain.AnomalyGazeOffScreen, i))
		require.NoError(t, err)
	}
	require.NoError(t, s.Clear(ctx))
	_, err = s.Save(ctx, evidencetest.Snap(domain.AnomalyBlurDetected, 4))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir, 20, 0)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(4), all[0].ID)
	assert.Equal(t, domain.AnomalyBlurDetected, all[0].AnomalyType)

	byType, err := reopened.ListByType(ctx, domain.AnomalyGazeOffScreen)
	require.NoError(t, err)
	assert.Empty(t, byType)

	id, err := reopened.Save(ctx, evidencetest.Snap(domain.AnomalyNoFace, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
}
