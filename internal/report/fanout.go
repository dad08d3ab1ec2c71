// Package report fans accepted anomalies out to every configured reporter.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

const (
	queueSize       = 64
	deliveryTimeout = 10 * time.Second
)

// Named is a reporter with a label for logs and metrics.
type Named interface {
	domain.Reporter
	Name() string
}

type delivery struct {
	ctx  context.Context
	snap domain.Snapshot
}

// lane delivers to one reporter in acceptance order on its own goroutine.
type lane struct {
	reporter Named
	queue    chan delivery
}

// Fanout hands every accepted anomaly to each reporter's own queue and returns
// at once, so a slow or retrying reporter never delays the others. A failing
// reporter is logged and counted and never fails the caller. When a queue is
// full the anomaly is dropped for that reporter only.
type Fanout struct {
	mu     sync.RWMutex
	lanes  []*lane
	closed bool
	wg     sync.WaitGroup
}

func NewFanout(reporters ...Named) *Fanout {
	f := &Fanout{}
	for _, r := range reporters {
		f.Add(r)
	}
	return f
}

// Add registers a reporter. Reporters added after Close are ignored.
func (f *Fanout) Add(r Named) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	l := &lane{reporter: r, queue: make(chan delivery, queueSize)}
	f.lanes = append(f.lanes, l)
	f.wg.Add(1)
	go f.run(l)
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.lanes)
}

// OnAnomalyAccepted queues snap for every reporter. It never blocks on delivery.
func (f *Fanout) OnAnomalyAccepted(ctx context.Context, snap domain.Snapshot) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil
	}

	d := delivery{ctx: context.WithoutCancel(ctx), snap: snap}
	for _, l := range f.lanes {
		select {
		case l.queue <- d:
		default:
			metrics.ReporterFailuresTotal.WithLabelValues(l.reporter.Name()).Inc()
			slog.WarnContext(ctx, "Reporter queue full, anomaly not reported", "reporter", l.reporter.Name(), "id", snap.ID)
		}
	}
	return nil
}

// Close stops accepting anomalies and waits until every queued one was delivered.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, l := range f.lanes {
		close(l.queue)
	}
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Fanout) run(l *lane) {
	defer f.wg.Done()
	for d := range l.queue {
		ctx, cancel := context.WithTimeout(d.ctx, deliveryTimeout)
		if err := call(ctx, l.reporter, d.snap); err != nil {
			metrics.ReporterFailuresTotal.WithLabelValues(l.reporter.Name()).Inc()
			slog.WarnContext(ctx, "Reporter failed", "reporter", l.reporter.Name(), "id", d.snap.ID, "error", err)
		}
		cancel()
	}
}

func call(ctx context.Context, r Named, snap domain.Snapshot) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reporter panicked: %v", p)
		}
	}()
	return r.OnAnomalyAccepted(ctx, snap)
}
