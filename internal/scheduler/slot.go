package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/detector"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// DetectorStatus is a point-in-time view of one detector slot.
type DetectorStatus struct {
	Name      string               `json:"name"`
	Kind      domain.MediaKind     `json:"kind"`
	Cadence   time.Duration        `json:"cadence"`
	Phase     domain.DetectorPhase `json:"phase"`
	Ticks     uint64               `json:"ticks"`
	Skipped   uint64               `json:"skipped"`
	LastError string               `json:"lastError,omitempty"`
}

type slot struct {
	det detector.Detector

	busy    atomic.Bool
	paused  atomic.Bool
	ticks   atomic.Uint64
	skipped atomic.Uint64

	mu      sync.Mutex
	phase   domain.DetectorPhase
	lastErr string
}

func newSlot(d detector.Detector) *slot {
	return &slot{det: d, phase: domain.PhaseInitializing}
}

func (s *slot) getPhase() domain.DetectorPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// setPhase reports whether the phase changed.
func (s *slot) setPhase(p domain.DetectorPhase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == p {
		return false
	}
	s.phase = p
	return true
}

func (s *slot) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

func (s *slot) status() DetectorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DetectorStatus{
		Name:      s.det.Name(),
		Kind:      s.det.Kind(),
		Cadence:   s.det.Cadence(),
		Phase:     s.phase,
		Ticks:     s.ticks.Load(),
		Skipped:   s.skipped.Load(),
		LastError: s.lastErr,
	}
}

func (s *slot) schedulable() bool {
	p := s.getPhase()
	return p == domain.PhaseReady || p == domain.PhaseEmitting
}

func phaseValue(p domain.DetectorPhase) float64 {
	switch p {
	case domain.PhaseReady:
		return 1
	case domain.PhaseEmitting:
		return 2
	case domain.PhaseDegraded:
		return 3
	default:
		return 0
	}
}
