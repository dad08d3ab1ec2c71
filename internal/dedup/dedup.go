// Package dedup turns per-tick detector output into one accepted event per
// anomaly episode.
//
// An episode starts on the rising edge of an anomaly type (first tick it is
// present) and ends on the first tick it is absent. Only the rising edge is
// passed downstream. A cool-down additionally suppresses episodes that start
// too soon after the previously accepted one of the same type.
package dedup

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

type key struct {
	detector string
	typ      domain.AnomalyType
}

// ActiveAnomaly is an episode in progress.
type ActiveAnomaly struct {
	Detector string             `json:"detector"`
	Type     domain.AnomalyType `json:"anomalyType"`
	Since    time.Time          `json:"since"`
}

type Deduplicator struct {
	cooldown time.Duration

	mu     sync.Mutex
	states map[key]domain.DetectorState
}

// New returns a Deduplicator. A zero cooldown means edge detection only.
func New(cooldown time.Duration) *Deduplicator {
	return &Deduplicator{
		cooldown: cooldown,
		states:   make(map[key]domain.DetectorState),
	}
}

// Observe records one tick of detector. watched lists every type the detector
// can report; a watched type with no event this tick is considered absent.
// It returns the events that start a new, reportable episode.
func (d *Deduplicator) Observe(detector string, watched []domain.AnomalyType, events []domain.AnomalyEvent) []domain.AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	present := make(map[domain.AnomalyType]bool, len(events))
	var accepted []domain.AnomalyEvent

	for _, ev := range events {
		if present[ev.Type] {
			continue
		}
		present[ev.Type] = true

		k := key{detector: detector, typ: ev.Type}
		st := d.states[k]
		if st.Active() {
			metrics.AnomaliesTotal.WithLabelValues(string(ev.Type), "suppressed").Inc()
			continue
		}

		st.ActiveSince = ev.Timestamp
		if d.cooling(st, ev.Timestamp) {
			d.states[k] = st
			metrics.AnomaliesTotal.WithLabelValues(string(ev.Type), "suppressed").Inc()
			slog.Debug("Anomaly episode within cool-down", "detector", detector, "anomaly_type", ev.Type)
			continue
		}

		st.LastEmittedAt = ev.Timestamp
		d.states[k] = st
		accepted = append(accepted, ev)
		metrics.AnomaliesTotal.WithLabelValues(string(ev.Type), "accepted").Inc()
	}

	for _, t := range watched {
		if present[t] {
			continue
		}
		k := key{detector: detector, typ: t}
		st, ok := d.states[k]
		if !ok || !st.Active() {
			continue
		}
		st.ActiveSince = time.Time{}
		d.states[k] = st
		slog.Debug("Anomaly resolved", "detector", detector, "anomaly_type", t)
	}

	return accepted
}

func (d *Deduplicator) cooling(st domain.DetectorState, at time.Time) bool {
	return d.cooldown > 0 && !st.LastEmittedAt.IsZero() && at.Sub(st.LastEmittedAt) < d.cooldown
}

// State returns the dedup state of one anomaly type of one detector.
func (d *Deduplicator) State(detector string, typ domain.AnomalyType) domain.DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[key{detector: detector, typ: typ}]
}

// Active lists the episodes currently in progress, oldest first.
func (d *Deduplicator) Active() []ActiveAnomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []ActiveAnomaly
	for k, st := range d.states {
		if st.Active() {
			out = append(out, ActiveAnomaly{Detector: k.detector, Type: k.typ, Since: st.ActiveSince})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		if out[i].Detector != out[j].Detector {
			return out[i].Detector < out[j].Detector
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Reset forgets all state. Called when a session starts.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = make(map[key]domain.DetectorState)
}
