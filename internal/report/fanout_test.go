package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

type mockReporter struct {
	name string
	fn   func(domain.Snapshot) error

	mu  sync.Mutex
	got []int64
}

func (m *mockReporter) Name() string { return m.name }

func (m *mockReporter) OnAnomalyAccepted(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	m.got = append(m.got, snap.ID)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(snap)
	}
	return nil
}

func (m *mockReporter) ids() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.got...)
}

func TestFanout_CallsEveryReporterInOrder(t *testing.T) {
	a := &mockReporter{name: "a"}
	b := &mockReporter{name: "b"}
	f := NewFanout(a)
	f.Add(b)

	assert.NoError(t, f.OnAnomalyAccepted(context.Background(), domain.Snapshot{ID: 1}))
	assert.NoError(t, f.OnAnomalyAccepted(context.Background(), domain.Snapshot{ID: 2}))
	f.Close()

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []int64{1, 2}, a.ids())
	assert.Equal(t, []int64{1, 2}, b.ids())
}

func TestFanout_IsolatesFailures(t *testing.T) {
	failing := &mockReporter{name: "fanout-failing", fn: func(domain.Snapshot) error { return errors.New("backend down") }}
	panicking := &mockReporter{name: "fanout-panicking", fn: func(domain.Snapshot) error { panic("boom") }}
	healthy := &mockReporter{name: "fanout-healthy"}
	f := NewFanout(failing, panicking, healthy)

	err := f.OnAnomalyAccepted(context.Background(), domain.Snapshot{ID: 9})
	f.Close()

	assert.NoError(t, err)
	assert.Equal(t, []int64{9}, healthy.ids())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ReporterFailuresTotal.WithLabelValues("fanout-failing")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ReporterFailuresTotal.WithLabelValues("fanout-panicking")), 0.0001)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.ReporterFailuresTotal.WithLabelValues("fanout-healthy")), 0.0001)
}

func TestFanout_SlowReporterDoesNotDelayOthers(t *testing.T) {
	release := make(chan struct{})
	slow := &mockReporter{name: "fanout-slow", fn: func(domain.Snapshot) error {
		<-release
		return nil
	}}
	feed := &mockReporter{name: "fanout-feed"}
	f := NewFanout(slow, feed)

	for id := int64(1); id <= 3; id++ {
		assert.NoError(t, f.OnAnomalyAccepted(context.Background(), domain.Snapshot{ID: id}))
	}
	assert.Eventually(t, func() bool { return len(feed.ids()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1}, slow.ids())

	close(release)
	f.Close()
	assert.Equal(t, []int64{1, 2, 3}, slow.ids())
}

func TestFanout_FullQueueDropsForThatReporterOnly(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	stuck := &mockReporter{name: "fanout-stuck", fn: func(domain.Snapshot) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}
	feed := &mockReporter{name: "fanout-live"}
	f := NewFanout(stuck, feed)

	assert.NoError(t, f.OnAnomalyAccepted(context.Background(), domain.Snapshot{ID: 0}))
	<-entered
	for id := int64(1); id <= queueSize+1; id++ {
		assert.NoError(t, f.OnAnomalyAccepted(context.Background(), domain.Snapshot{ID: id}))
		// keep the live lane from filling up too
		assert.Eventually(t, func() bool { return len(feed.ids()) == int(id)+1 }, time.Second, time.Millisecond)
	}

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ReporterFailuresTotal.WithLabelValues("fanout-stuck")), 0.0001)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.ReporterFailuresTotal.WithLabelValues("fanout-live")), 0.0001)

	close(release)
	f.Close()
	assert.Len(t, stuck.ids(), queueSize+1)
}

func TestFanout_Empty(t *testing.T) {
	f := NewFanout()
	assert.NoError(t, f.OnAnomalyAccepted(context.Background(), domain.Snapshot{}))
	f.Close()
	f.Close()
}

func TestFanout_IgnoresAnomaliesAfterClose(t *testing.T) {
	r := &mockReporter{name: "fanout-closed"}
	f := NewFanout(r)
	f.Close()

	assert.NoError(t, f.OnAnomalyAccepted(context.Background(), domain.Snapshot{ID: 1}))
	assert.Empty(t, r.ids())
}
