package scheduler

import (
	"log/slog"

	"github.com/sudarshansudarshan/cal-sub001/internal/detector"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// TrackEnded handles a media track that terminated under a running session.
// Detectors of that kind are paused while the gate is asked for a fresh
// handle; on success they resume, otherwise the session stops and OnBlocked
// is called. Safe to register with media.Manager.OnTrackEnded.
func (s *Scheduler) TrackEnded(kind domain.MediaKind) {
	s.mu.RLock()
	gen := s.generation
	_, used := s.handles[kind]
	running := s.state == StateRunning
	s.mu.RUnlock()

	if running && used {
		go s.recover(gen, kind)
	}
}

func (s *Scheduler) recover(gen uint64, kind domain.MediaKind) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.generation != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	dead := s.handles[kind]
	ctx := s.runCtx
	slots := s.slots
	s.mu.Unlock()

	slog.WarnContext(ctx, "Media track lost, re-checking permission", "kind", kind)
	s.setPaused(slots, kind, true)

	at := s.clock.Now()
	for _, sl := range slots {
		obs, ok := sl.det.(detector.TrackEndedObserver)
		if ok && sl.det.Kind() == kind && sl.schedulable() {
			s.emit(ctx, gen, sl, obs.TrackEnded(at))
		}
	}

	s.mu.Lock()
	delete(s.handles, kind)
	s.mu.Unlock()
	if dead != nil {
		dead.Release()
	}

	h, err := s.cfg.Gate.Ensure(ctx, kind)
	if ctx.Err() != nil {
		if h != nil {
			h.Release()
		}
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Media track could not be restored, stopping", "kind", kind, "error", err)
		s.stopLocked()
		if s.cfg.OnBlocked != nil {
			go s.cfg.OnBlocked(err)
		}
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateRunning {
		s.mu.Unlock()
		h.Release()
		return
	}
	s.handles[kind] = h
	s.mu.Unlock()

	s.setPaused(slots, kind, false)
	slog.InfoContext(ctx, "Media track restored", "kind", kind)
}

func (s *Scheduler) setPaused(slots []*slot, kind domain.MediaKind, paused bool) {
	for _, sl := range slots {
		if sl.det.Kind() == kind {
			sl.paused.Store(paused)
		}
	}
}
