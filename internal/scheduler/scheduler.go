package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/sudarshansudarshan/cal-sub001/internal/dedup"
	"github.com/sudarshansudarshan/cal-sub001/internal/detector"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/evidence"
	"github.com/sudarshansudarshan/cal-sub001/internal/media"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/correlation"
)

type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

const (
	maxConcurrentLoads = 4
	reportBuffer       = 64
	reportTimeout      = 10 * time.Second
)

// Ensurer hands out media handles once permissions allow it.
type Ensurer interface {
	Ensure(ctx context.Context, kind domain.MediaKind) (*media.Handle, error)
}

type Config struct {
	Detectors []detector.Detector
	Gate      Ensurer
	Dedup     *dedup.Deduplicator
	Store     domain.EvidenceStore
	// Reporter is optional.
	Reporter domain.Reporter
	Clock    clockwork.Clock

	// OnBlocked is called when a running session stops because a lost track
	// could not be re-acquired. It runs on its own goroutine.
	OnBlocked func(err error)
	// OnPhaseChange is called on every detector phase transition.
	OnPhaseChange func(detector string, phase domain.DetectorPhase)
}

type reportItem struct {
	ctx  context.Context
	snap domain.Snapshot
}

type Scheduler struct {
	cfg   Config
	clock clockwork.Clock

	// opMu serializes Start, Stop and track recovery.
	opMu sync.Mutex

	// mu guards the fields below. Emissions hold it for reading while they
	// persist, so Stop cannot return while a save is under way.
	mu         sync.RWMutex
	state      State
	generation uint64
	runCtx     context.Context
	cancel     context.CancelFunc
	handles    map[domain.MediaKind]*media.Handle
	slots      []*slot

	loops sync.WaitGroup

	reports    chan reportItem
	closeOnce  sync.Once
	reportDone chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dedup == nil {
		cfg.Dedup = dedup.New(0)
	}

	s := &Scheduler{
		cfg:        cfg,
		clock:      cfg.Clock,
		state:      StateStopped,
		reports:    make(chan reportItem, reportBuffer),
		reportDone: make(chan struct{}),
	}
	for _, d := range cfg.Detectors {
		s.slots = append(s.slots, newSlot(d))
	}
	go s.reportLoop()
	return s
}

// Start gates and acquires every required media kind, loads the detectors and
// starts ticking. A blocked kind aborts the start with an error matching
// domain.ErrBlocked and releases whatever was already acquired. The session
// keeps the values of ctx but not its cancellation. Cancelling ctx or calling
// Stop before Start returns aborts the start with domain.ErrStartCancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == StateRunning {
		return domain.ErrSessionRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	abort := func(handles map[domain.MediaKind]*media.Handle) {
		cancel()
		releaseAll(handles)
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}

	handles := make(map[domain.MediaKind]*media.Handle)
	for _, kind := range detector.RequiredKinds(s.cfg.Detectors) {
		h, err := s.cfg.Gate.Ensure(runCtx, kind)
		if err != nil {
			abort(handles)
			if runCtx.Err() != nil {
				return domain.ErrStartCancelled
			}
			return fmt.Errorf("ensure %s: %w", kind, err)
		}
		handles[kind] = h
	}

	slots := make([]*slot, 0, len(s.cfg.Detectors))
	for _, d := range s.cfg.Detectors {
		slots = append(slots, newSlot(d))
	}

	s.cfg.Dedup.Reset()
	s.mu.Lock()
	s.slots = slots
	s.mu.Unlock()

	if !s.loadDetectors(runCtx, slots) {
		abort(handles)
		slog.InfoContext(ctx, "Proctoring start cancelled while loading detectors")
		return domain.ErrStartCancelled
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateRunning
	s.runCtx = runCtx
	s.handles = handles
	s.mu.Unlock()

	scheduled := 0
	for _, sl := range slots {
		if !sl.schedulable() {
			continue
		}
		scheduled++
		s.loops.Add(1)
		go s.run(runCtx, gen, sl)
	}

	metrics.SessionsActive.Inc()
	slog.InfoContext(ctx, "Proctoring started", "detectors", len(slots), "scheduled", scheduled, "media", len(handles))
	return nil
}

// loadDetectors loads model assets concurrently. A failed load degrades that
// detector only. It returns false as soon as ctx is cancelled; loads still in
// flight then finish in the background and their results are ignored.
func (s *Scheduler) loadDetectors(ctx context.Context, slots []*slot) bool {
	var g errgroup.Group
	g.SetLimit(maxConcurrentLoads)

	for _, sl := range slots {
		s.notifyPhase(sl, domain.PhaseInitializing)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, sl := range slots {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				err := sl.det.Load(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					sl.setError(err)
					s.transition(sl, domain.PhaseDegraded)
					metrics.ModelLoadFailuresTotal.WithLabelValues(sl.det.Name()).Inc()
					slog.ErrorContext(ctx, "Detector degraded", "detector", sl.det.Name(), "error", err)
					return nil
				}
				s.transition(sl, domain.PhaseReady)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

// Stop ends the session. It is idempotent and safe from any state, including
// while ticks are in flight; their results are discarded.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.generation++
	s.state = StateStopped
	handles := s.handles
	s.handles = nil
	s.cancel = nil
	ctx := s.runCtx
	s.mu.Unlock()

	s.loops.Wait()
	releaseAll(handles)

	metrics.SessionsActive.Dec()
	slog.InfoContext(ctx, "Proctoring stopped")
}

// Close stops the session and the report worker. Reports already queued are delivered.
func (s *Scheduler) Close() {
	s.Stop()
	s.closeOnce.Do(func() {
		close(s.reports)
		<-s.reportDone
	})
}

func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Detectors reports the status of every detector slot of the current or last session.
func (s *Scheduler) Detectors() []DetectorStatus {
	s.mu.RLock()
	slots := s.slots
	s.mu.RUnlock()

	out := make([]DetectorStatus, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.status())
	}
	return out
}

// Outstanding reports how many media handles the session holds.
func (s *Scheduler) Outstanding() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

func (s *Scheduler) run(ctx context.Context, gen uint64, sl *slot) {
	defer s.loops.Done()

	ticker := s.clock.NewTicker(sl.det.Cadence())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx, gen, sl)
		}
	}
}

// tick starts one detector tick unless the previous one is still running.
func (s *Scheduler) tick(ctx context.Context, gen uint64, sl *slot) {
	name := sl.det.Name()
	if sl.paused.Load() {
		return
	}
	if !sl.busy.CompareAndSwap(false, true) {
		sl.skipped.Add(1)
		metrics.DetectorTicksTotal.WithLabelValues(name, "skipped").Inc()
		return
	}

	src := s.handle(sl.det.Kind())
	if src == nil {
		sl.busy.Store(false)
		return
	}

	go func() {
		defer sl.busy.Store(false)

		tickCtx := correlation.WithNewID(ctx)
		at := s.clock.Now()
		events, err := sl.det.Tick(tickCtx, src, at)
		metrics.DetectorTickDuration.WithLabelValues(name).Observe(s.clock.Since(at).Seconds())
		sl.ticks.Add(1)

		if err != nil {
			sl.setError(err)
			metrics.DetectorTicksTotal.WithLabelValues(name, "error").Inc()
			if ctx.Err() == nil {
				slog.DebugContext(tickCtx, "Detector tick failed", "detector", name, "error", err)
			}
			return
		}
		metrics.DetectorTicksTotal.WithLabelValues(name, "ok").Inc()
		sl.setError(nil)
		s.emit(tickCtx, gen, sl, events)
	}()
}

func (s *Scheduler) handle(kind domain.MediaKind) *media.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles[kind]
}

// emit runs one tick's events through dedup and evidence capture. Late
// results of a stopped or restarted session are dropped.
func (s *Scheduler) emit(ctx context.Context, gen uint64, sl *slot, events []domain.AnomalyEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.generation != gen || s.state != StateRunning {
		return
	}

	s.transition(sl, domain.PhaseEmitting)
	accepted := s.cfg.Dedup.Observe(sl.det.Name(), sl.det.Types(), events)
	for _, ev := range accepted {
		s.persist(ctx, ev)
	}
}

// persist captures and saves evidence for an accepted event and queues its report.
// Caller holds s.mu for reading.
func (s *Scheduler) persist(ctx context.Context, ev domain.AnomalyEvent) {
	snap := domain.Snapshot{AnomalyType: ev.Type, Timestamp: ev.Timestamp}

	img := ev.Frame
	if img == nil {
		if cam := s.handles[domain.MediaCamera]; cam != nil {
			img, _ = cam.Frame(ctx)
		}
	}
	var err error
	if snap.Image, err = evidence.EncodeDataURL(img); err != nil {
		slog.WarnContext(ctx, "Camera capture failed", "anomaly_type", ev.Type, "error", err)
	}
	if scr := s.handles[domain.MediaScreen]; scr != nil {
		if shot, ferr := scr.Frame(ctx); ferr == nil {
			if snap.Screenshot, err = evidence.EncodeDataURL(shot); err != nil {
				slog.WarnContext(ctx, "Screen capture failed", "anomaly_type", ev.Type, "error", err)
			}
		}
	}

	id, err := s.cfg.Store.Save(ctx, snap)
	if errors.Is(err, domain.ErrStorageQuotaExceeded) {
		metrics.SnapshotsDroppedTotal.WithLabelValues("quota").Inc()
		slog.WarnContext(ctx, "Snapshot dropped, storage quota exceeded", "anomaly_type", ev.Type, "detector", ev.Detector)
		return
	}
	if err != nil {
		metrics.SnapshotsDroppedTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "Snapshot not saved", "anomaly_type", ev.Type, "detector", ev.Detector, "error", err)
		return
	}
	snap.ID = id
	metrics.SnapshotsSavedTotal.WithLabelValues(string(ev.Type)).Inc()
	slog.InfoContext(ctx, "Anomaly recorded", "id", id, "anomaly_type", ev.Type, "detector", ev.Detector, "confidence", ev.Confidence)

	if s.cfg.Reporter == nil {
		return
	}
	select {
	case s.reports <- reportItem{ctx: ctx, snap: snap}:
	default:
		metrics.ReporterFailuresTotal.WithLabelValues("queue").Inc()
		slog.WarnContext(ctx, "Report queue full, anomaly not reported", "id", id)
	}
}

func (s *Scheduler) reportLoop() {
	defer close(s.reportDone)
	for item := range s.reports {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(item.ctx), reportTimeout)
		if err := s.cfg.Reporter.OnAnomalyAccepted(ctx, item.snap); err != nil {
			slog.WarnContext(ctx, "Anomaly report failed", "id", item.snap.ID, "error", err)
		}
		cancel()
	}
}

func (s *Scheduler) transition(sl *slot, p domain.DetectorPhase) {
	if sl.setPhase(p) {
		s.notifyPhase(sl, p)
	}
}

func (s *Scheduler) notifyPhase(sl *slot, p domain.DetectorPhase) {
	metrics.DetectorPhase.WithLabelValues(sl.det.Name()).Set(phaseValue(p))
	if s.cfg.OnPhaseChange != nil {
		s.cfg.OnPhaseChange(sl.det.Name(), p)
	}
}

func releaseAll(handles map[domain.MediaKind]*media.Handle) {
	for _, h := range handles {
		h.Release()
	}
}
