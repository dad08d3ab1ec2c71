package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	kind   domain.MediaKind
	stream domain.Stream

	refs  int  // guarded by Manager.mu
	ended bool // guarded by Manager.mu

	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// Manager shares capture streams between consumers and stops them at refcount zero.
type Manager struct {
	device domain.CaptureDevice
	opens  singleflight.Group

	mu          sync.Mutex
	entries     map[domain.MediaKind]*entry
	outstanding map[domain.MediaKind]int
	listeners   []func(domain.MediaKind)
}

func NewManager(device domain.CaptureDevice) *Manager {
	return &Manager{
		device:      device,
		entries:     make(map[domain.MediaKind]*entry),
		outstanding: make(map[domain.MediaKind]int),
	}
}

// OnTrackEnded registers fn to be called when a stream with live handles
// terminates without having been released. fn runs on the watcher goroutine.
func (m *Manager) OnTrackEnded(fn func(kind domain.MediaKind)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Acquire returns a handle on the live stream of kind, opening the device if
// no live stream exists. Errors wrap domain.ErrPermissionDenied or
// domain.ErrDeviceUnavailable.
func (m *Manager) Acquire(ctx context.Context, kind domain.MediaKind) (*Handle, error) {
	if h := m.share(kind, nil); h != nil {
		return h, nil
	}

	v, err, _ := m.opens.Do(string(kind), func() (any, error) {
		m.mu.Lock()
		if e, ok := m.entries[kind]; ok && !e.ended {
			m.mu.Unlock()
			return e, nil
		}
		m.mu.Unlock()

		stream, err := m.device.Open(ctx, kind)
		if err != nil {
			return nil, classifyOpenError(kind, err)
		}
		return m.install(kind, stream), nil
	})
	if err != nil {
		return nil, err
	}

	if h := m.share(kind, v.(*entry)); h != nil {
		return h, nil
	}
	return nil, fmt.Errorf("acquire %s: %w: %w", kind, domain.ErrDeviceUnavailable, domain.ErrTrackEnded)
}

// Release gives a handle back. Equivalent to h.Release().
func (m *Manager) Release(h *Handle) {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}

	e := h.entry
	m.mu.Lock()
	e.refs--
	m.outstanding[e.kind]--
	metrics.MediaHandlesOutstanding.WithLabelValues(string(e.kind)).Set(float64(m.outstanding[e.kind]))
	last := e.refs == 0
	if last && m.entries[e.kind] == e {
		delete(m.entries, e.kind)
	}
	m.mu.Unlock()

	if last {
		m.stop(e)
	}
}

// Outstanding returns the number of unreleased handles of kind.
func (m *Manager) Outstanding(kind domain.MediaKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding[kind]
}

// share attaches a new handle to want, or to the current live entry when want is nil.
func (m *Manager) share(kind domain.MediaKind, want *entry) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[kind]
	if !ok || e.ended || (want != nil && e != want) {
		return nil
	}
	e.refs++
	m.outstanding[kind]++
	metrics.MediaHandlesOutstanding.WithLabelValues(string(kind)).Set(float64(m.outstanding[kind]))
	return &Handle{manager: m, entry: e}
}

func (m *Manager) install(kind domain.MediaKind, stream domain.Stream) *entry {
	e := &entry{kind: kind, stream: stream, done: make(chan struct{})}

	m.mu.Lock()
	m.entries[kind] = e
	m.mu.Unlock()

	slog.Info("Media stream opened", "kind", kind)
	go m.watch(e)
	return e
}

func (m *Manager) watch(e *entry) {
	select {
	case <-e.done:
		return
	case <-e.stream.Ended():
	}
	if e.stopped.Load() {
		return
	}

	m.mu.Lock()
	e.ended = true
	orphan := e.refs == 0
	if orphan && m.entries[e.kind] == e {
		delete(m.entries, e.kind)
	}
	listeners := append([]func(domain.MediaKind){}, m.listeners...)
	m.mu.Unlock()

	if orphan {
		m.stop(e)
		return
	}

	metrics.MediaTrackEndedTotal.WithLabelValues(string(e.kind)).Inc()
	slog.Warn("Media track ended unexpectedly", "kind", e.kind)
	for _, fn := range listeners {
		fn(e.kind)
	}
}

func (m *Manager) stop(e *entry) {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		close(e.done)
		e.stream.Stop()
		slog.Info("Media stream stopped", "kind", e.kind)
	})
}

func classifyOpenError(kind domain.MediaKind, err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrDeviceUnavailable) {
		return fmt.Errorf("acquire %s: %w", kind, err)
	}
	return fmt.Errorf("acquire %s: %w: %w", kind, domain.ErrDeviceUnavailable, err)
}

// Handle is one consumer's reference on a shared stream.
type Handle struct {
	manager  *Manager
	entry    *entry
	released atomic.Bool
}

func (h *Handle) Kind() domain.MediaKind { return h.entry.kind }

// Frame reads the current frame of the shared stream.
func (h *Handle) Frame(ctx context.Context) (image.Image, error) {
	if h.released.Load() {
		return nil, fmt.Errorf("%s handle released: %w", h.entry.kind, domain.ErrTrackEnded)
	}
	return h.entry.stream.Frame(ctx)
}

// Ended is closed when the underlying stream terminates.
func (h *Handle) Ended() <-chan struct{} { return h.entry.stream.Ended() }

// Release is idempotent.
func (h *Handle) Release() { h.manager.Release(h) }
