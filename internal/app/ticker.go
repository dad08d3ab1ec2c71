package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sudarshansudarshan/cal-sub001/internal/platform/correlation"
	"github.com/sudarshansudarshan/cal-sub001/internal/scheduler"
)

const defaultTickInterval = 2 * time.Second

// Broadcaster pushes a typed message to every connected dashboard.
type Broadcaster interface {
	Broadcast(msgType string, data any) error
}

// StatusSource is satisfied by Service.
type StatusSource interface {
	Status() Status
}

// StatusTicker periodically publishes the session status to live dashboards
// while a session runs, plus one final update when it stops. This keeps
// detector phases and active anomalies fresh without dashboards polling.
type StatusTicker struct {
	source    StatusSource
	publisher Broadcaster
	clock     clockwork.Clock
	interval  time.Duration

	wasRunning bool
}

func NewStatusTicker(source StatusSource, publisher Broadcaster, clock clockwork.Clock) *StatusTicker {
	return &StatusTicker{
		source:    source,
		publisher: publisher,
		clock:     clock,
		interval:  defaultTickInterval,
	}
}

// Run starts the periodic refresh loop. It blocks until ctx is cancelled.
func (t *StatusTicker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.refresh(ctx)
		}
	}
}

func (t *StatusTicker) refresh(ctx context.Context) {
	st := t.source.Status()
	running := st.State == scheduler.StateRunning
	if !running && !t.wasRunning {
		return
	}
	t.wasRunning = running

	tickCtx := correlation.WithNewID(ctx)
	if err := t.publisher.Broadcast("status", st); err != nil {
		slog.WarnContext(tickCtx, "Ticker: publish failed", "error", err)
		return
	}
	slog.DebugContext(tickCtx, "Ticker: published status", "state", st.State, "active", len(st.Active))
}
