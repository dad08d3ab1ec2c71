package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

var (
	base  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	gaze  = []domain.AnomalyType{domain.AnomalyGazeOffScreen}
	faces = []domain.AnomalyType{domain.AnomalyNoFace, domain.AnomalyFaceMismatch}
)

func event(typ domain.AnomalyType, tick int) domain.AnomalyEvent {
	return domain.AnomalyEvent{
		Type:      typ,
		Detector:  "gaze",
		Timestamp: base.Add(time.Duration(tick) * 500 * time.Millisecond),
	}
}

// runTicks feeds one tick per entry of present and returns the accepted count.
func runTicks(d *Deduplicator, present []bool) int {
	accepted := 0
	for i, on := range present {
		var evs []domain.AnomalyEvent
		if on {
			evs = append(evs, event(domain.AnomalyGazeOffScreen, i))
		}
		accepted += len(d.Observe("gaze", gaze, evs))
	}
	return accepted
}

func TestObserve_ContinuousEpisodeAcceptedOnce(t *testing.T) {
	d := New(0)
	present := []bool{true, true, true, true, true, true, true, true, true, true}
	assert.Equal(t, 1, runTicks(d, present))
}

func TestObserve_AbsenceStartsNewEpisode(t *testing.T) {
	d := New(0)
	// absent on tick 5, back on tick 6
	present := []bool{true, true, true, true, false, true, true, true, true, true}
	assert.Equal(t, 2, runTicks(d, present))
}

func TestObserve_StateTransitions(t *testing.T) {
	d := New(0)

	got := d.Observe("gaze", gaze, []domain.AnomalyEvent{event(domain.AnomalyGazeOffScreen, 0)})
	require.Len(t, got, 1)
	st := d.State("gaze", domain.AnomalyGazeOffScreen)
	assert.True(t, st.Active())
	assert.Equal(t, event(domain.AnomalyGazeOffScreen, 0).Timestamp, st.ActiveSince)
	assert.Equal(t, st.ActiveSince, st.LastEmittedAt)

	got = d.Observe("gaze", gaze, nil)
	assert.Empty(t, got)
	st = d.State("gaze", domain.AnomalyGazeOffScreen)
	assert.False(t, st.Active())
	assert.Equal(t, event(domain.AnomalyGazeOffScreen, 0).Timestamp, st.LastEmittedAt)
}

func TestObserve_TypesAreIndependent(t *testing.T) {
	d := New(0)

	got := d.Observe("face", faces, []domain.AnomalyEvent{event(domain.AnomalyNoFace, 0)})
	require.Len(t, got, 1)

	// NO_FACE gone, FACE_MISMATCH starts: one new event, NO_FACE resolved
	got = d.Observe("face", faces, []domain.AnomalyEvent{event(domain.AnomalyFaceMismatch, 1)})
	require.Len(t, got, 1)
	assert.Equal(t, domain.AnomalyFaceMismatch, got[0].Type)
	assert.False(t, d.State("face", domain.AnomalyNoFace).Active())
	assert.True(t, d.State("face", domain.AnomalyFaceMismatch).Active())
}

func TestObserve_DetectorsAreIndependent(t *testing.T) {
	d := New(0)
	ev := event(domain.AnomalyMultipleFaces, 0)

	assert.Len(t, d.Observe("multi-person", []domain.AnomalyType{ev.Type}, []domain.AnomalyEvent{ev}), 1)
	assert.Len(t, d.Observe("face-match-2", []domain.AnomalyType{ev.Type}, []domain.AnomalyEvent{ev}), 1)
}

func TestObserve_DuplicateTypeWithinTick(t *testing.T) {
	d := New(0)
	got := d.Observe("gaze", gaze, []domain.AnomalyEvent{
		event(domain.AnomalyGazeOffScreen, 0),
		event(domain.AnomalyGazeOffScreen, 0),
	})
	assert.Len(t, got, 1)
}

func TestObserve_Cooldown(t *testing.T) {
	d := New(2 * time.Second)

	// episodes start on ticks 0, 2 and 8 (500ms apart): the second falls
	// inside the 2s cool-down, the third does not
	present := []bool{true, false, true, false, false, false, false, false, true}
	assert.Equal(t, 2, runTicks(d, present))
}

func TestObserve_CooldownSuppressedEpisodeStaysActive(t *testing.T) {
	d := New(time.Minute)

	require.Len(t, d.Observe("gaze", gaze, []domain.AnomalyEvent{event(domain.AnomalyGazeOffScreen, 0)}), 1)
	d.Observe("gaze", gaze, nil)
	assert.Empty(t, d.Observe("gaze", gaze, []domain.AnomalyEvent{event(domain.AnomalyGazeOffScreen, 2)}))

	st := d.State("gaze", domain.AnomalyGazeOffScreen)
	assert.True(t, st.Active())
	assert.Equal(t, event(domain.AnomalyGazeOffScreen, 0).Timestamp, st.LastEmittedAt)
}

func TestActiveAndReset(t *testing.T) {
	d := New(0)
	d.Observe("gaze", gaze, []domain.AnomalyEvent{event(domain.AnomalyGazeOffScreen, 1)})
	d.Observe("face", faces, []domain.AnomalyEvent{event(domain.AnomalyNoFace, 0)})

	active := d.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "face", active[0].Detector)
	assert.Equal(t, domain.AnomalyNoFace, active[0].Type)
	assert.Equal(t, "gaze", active[1].Detector)

	d.Reset()
	assert.Empty(t, d.Active())
	assert.False(t, d.State("gaze", domain.AnomalyGazeOffScreen).Active())
}
