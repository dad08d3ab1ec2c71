package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sudarshansudarshan/cal-sub001/internal/dedup"
	"github.com/sudarshansudarshan/cal-sub001/internal/detector"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/permission"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/correlation"
	"github.com/sudarshansudarshan/cal-sub001/internal/scheduler"
)

// ErrUnknownAnomalyType is returned when an evidence filter names a type that does not exist.
var ErrUnknownAnomalyType = errors.New("unknown anomaly type")

// Session is the detection pipeline the service drives.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	State() scheduler.State
	Detectors() []scheduler.DetectorStatus
}

// PermissionChecker queries device permissions without prompting.
type PermissionChecker interface {
	Check(ctx context.Context, kind domain.MediaKind) domain.PermissionStatus
}

type ActiveAnomalies interface {
	Active() []dedup.ActiveAnomaly
}

type multiplePeopleSignal interface {
	MultiplePeople() bool
}

// SessionInfo identifies a running proctoring session.
type SessionInfo struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidateId"`
	StartedAt   time.Time `json:"startedAt"`
}

// BlockedInfo describes why the last session could not start or was halted.
// The UI presents a blocking prompt for Kind until the permission is granted.
type BlockedInfo struct {
	Kind   domain.MediaKind `json:"kind,omitempty"`
	Status string           `json:"status,omitempty"`
	Reason string           `json:"reason"`
	At     time.Time        `json:"at"`
}

type Status struct {
	State          scheduler.State            `json:"state"`
	Session        *SessionInfo               `json:"session,omitempty"`
	Detectors      []scheduler.DetectorStatus `json:"detectors"`
	Active         []dedup.ActiveAnomaly      `json:"activeAnomalies"`
	MultiplePeople bool                       `json:"multiplePeople"`
	Blocked        *BlockedInfo               `json:"blocked,omitempty"`
}

// EvidenceFilter narrows ListEvidence. Zero values match everything.
type EvidenceFilter struct {
	Type  string
	Since time.Time
}

// Service is the application layer. It owns the session lifecycle and is the
// only component HTTP handlers talk to.
type Service struct {
	session   Session
	perms     PermissionChecker
	anomalies ActiveAnomalies
	store     domain.EvidenceStore
	people    []multiplePeopleSignal
	clock     clockwork.Clock

	mu       sync.Mutex
	current  *SessionInfo
	starting *SessionInfo
	blocked  *BlockedInfo
}

// NewService creates the application layer service. detectors is scanned for
// the multiple-people signal.
func NewService(session Session, perms PermissionChecker, anomalies ActiveAnomalies, store domain.EvidenceStore, detectors []detector.Detector, clock clockwork.Clock) *Service {
	s := &Service{
		session:   session,
		perms:     perms,
		anomalies: anomalies,
		store:     store,
		clock:     clock,
	}
	for _, d := range detectors {
		if sig, ok := d.(multiplePeopleSignal); ok {
			s.people = append(s.people, sig)
		}
	}
	return s
}

// StartSession starts proctoring for a candidate. Only one session runs at a
// time. When a permission blocks the start, the returned error matches
// domain.ErrBlocked and the blocking kind is kept for Status. The service lock
// is not held while the pipeline starts, so StopSession can interrupt it.
func (s *Service) StartSession(ctx context.Context, candidateID string) (SessionInfo, error) {
	candidateID = strings.TrimSpace(candidateID)

	s.mu.Lock()
	if s.starting != nil || (s.current != nil && s.session.State() == scheduler.StateRunning) {
		s.mu.Unlock()
		return SessionInfo{}, domain.ErrSessionRunning
	}
	info := &SessionInfo{
		ID:          uuid.NewString(),
		CandidateID: candidateID,
		StartedAt:   s.clock.Now().UTC(),
	}
	s.starting = info
	s.mu.Unlock()

	ctx = correlation.WithSession(ctx, info.ID)
	err := s.session.Start(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	interrupted := s.starting != info
	if !interrupted {
		s.starting = nil
	}

	if err != nil {
		if errors.Is(err, domain.ErrBlocked) {
			s.blocked = s.blockedInfo(err)
			slog.WarnContext(ctx, "Session blocked", "candidate", candidateID, "kind", s.blocked.Kind, "error", err)
		}
		return SessionInfo{}, fmt.Errorf("start session: %w", err)
	}
	if interrupted {
		// StopSession ran between Start returning and here.
		return SessionInfo{}, fmt.Errorf("start session: %w", domain.ErrStartCancelled)
	}

	s.current = info
	s.blocked = nil
	slog.InfoContext(ctx, "Session started", "candidate", candidateID)
	return *info, nil
}

// StopSession stops the running or starting session and releases all devices.
func (s *Service) StopSession(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil && s.starting == nil && s.session.State() != scheduler.StateRunning {
		s.mu.Unlock()
		return domain.ErrSessionNotRunning
	}
	stopped := s.current
	if stopped == nil {
		stopped = s.starting
	}
	s.current = nil
	s.starting = nil
	s.mu.Unlock()

	s.session.Stop()
	if stopped != nil {
		slog.InfoContext(correlation.WithSession(ctx, stopped.ID), "Session stopped", "candidate", stopped.CandidateID)
	}
	return nil
}

// Shutdown stops any running session. Used on process exit.
func (s *Service) Shutdown(ctx context.Context) {
	if err := s.StopSession(ctx); err != nil && !errors.Is(err, domain.ErrSessionNotRunning) {
		slog.WarnContext(ctx, "Session shutdown failed", "error", err)
	}
}

// OnBlocked records that the running session halted because a lost device
// could not be re-acquired. Wired as the pipeline's blocked hook.
func (s *Service) OnBlocked(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked = s.blockedInfo(err)
	if s.current != nil {
		slog.Warn("Session halted", "session_id", s.current.ID, "kind", s.blocked.Kind, "error", err)
	}
	s.current = nil
}

func (s *Service) blockedInfo(err error) *BlockedInfo {
	info := &BlockedInfo{Reason: err.Error(), At: s.clock.Now().UTC()}
	var be *permission.BlockedError
	if errors.As(err, &be) {
		info.Kind = be.Kind
		info.Status = be.Status.String()
	}
	return info
}

// Status reports the session state, per-detector state and active anomalies.
func (s *Service) Status() Status {
	state := s.session.State()

	st := Status{
		State:     state,
		Detectors: s.session.Detectors(),
		Active:    s.anomalies.Active(),
	}
	if st.Active == nil {
		st.Active = []dedup.ActiveAnomaly{}
	}

	s.mu.Lock()
	if s.current != nil && state == scheduler.StateRunning {
		info := *s.current
		st.Session = &info
	}
	if s.blocked != nil {
		b := *s.blocked
		st.Blocked = &b
	}
	s.mu.Unlock()

	if state == scheduler.StateRunning {
		for _, sig := range s.people {
			if sig.MultiplePeople() {
				st.MultiplePeople = true
				break
			}
		}
	}
	return st
}

// Permissions queries the current permission status of every media kind.
func (s *Service) Permissions(ctx context.Context) map[domain.MediaKind]string {
	out := make(map[domain.MediaKind]string, 3)
	for _, kind := range []domain.MediaKind{domain.MediaCamera, domain.MediaMicrophone, domain.MediaScreen} {
		out[kind] = s.perms.Check(ctx, kind).String()
	}
	return out
}

// ListEvidence returns stored snapshots oldest first.
func (s *Service) ListEvidence(ctx context.Context, f EvidenceFilter) ([]domain.Snapshot, error) {
	var (
		snaps []domain.Snapshot
		err   error
	)
	switch {
	case f.Type != "":
		t, ok := domain.ParseAnomalyType(f.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAnomalyType, f.Type)
		}
		snaps, err = s.store.ListByType(ctx, t)
	case !f.Since.IsZero():
		snaps, err = s.store.ListSince(ctx, f.Since)
	default:
		snaps, err = s.store.GetAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}

	if f.Type != "" && !f.Since.IsZero() {
		kept := snaps[:0]
		for _, snap := range snaps {
			if !snap.Timestamp.Before(f.Since) {
				kept = append(kept, snap)
			}
		}
		snaps = kept
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	return snaps, nil
}

// DeleteEvidence removes one snapshot. Unknown ids are not an error.
func (s *Service) DeleteEvidence(ctx context.Context, id int64) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("delete evidence %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Evidence deleted", "id", id)
	return nil
}

// ClearEvidence removes every snapshot.
func (s *Service) ClearEvidence(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear evidence: %w", err)
	}
	slog.InfoContext(ctx, "Evidence cleared")
	return nil
}
