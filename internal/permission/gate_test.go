package permission

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/media"
	"github.com/sudarshansudarshan/cal-sub001/internal/media/mediatest"
)

type fakeProvider struct {
	mu       sync.Mutex
	query    map[domain.MediaKind]domain.PermissionStatus
	request  map[domain.MediaKind]domain.PermissionStatus
	queryErr error
	requests []domain.MediaKind
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		query:   make(map[domain.MediaKind]domain.PermissionStatus),
		request: make(map[domain.MediaKind]domain.PermissionStatus),
	}
}

func (p *fakeProvider) Query(_ context.Context, kind domain.MediaKind) (domain.PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query[kind], p.queryErr
}

func (p *fakeProvider) Request(_ context.Context, kind domain.MediaKind) (domain.PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, kind)
	status := p.request[kind]
	p.query[kind] = status
	return status, nil
}

type countingAcquirer struct {
	inner *media.Manager
	mu    sync.Mutex
	calls map[domain.MediaKind]int
}

func (a *countingAcquirer) Acquire(ctx context.Context, kind domain.MediaKind) (*media.Handle, error) {
	a.mu.Lock()
	a.calls[kind]++
	a.mu.Unlock()
	return a.inner.Acquire(ctx, kind)
}

func newGate(p *fakeProvider, dev *mediatest.Device) (*Gate, *countingAcquirer) {
	acq := &countingAcquirer{inner: media.NewManager(dev), calls: make(map[domain.MediaKind]int)}
	return NewGate(p, acq), acq
}

func TestGate_InitialStatusIsUnknown(t *testing.T) {
	g, _ := newGate(newFakeProvider(), mediatest.NewDevice())
	for _, kind := range []domain.MediaKind{domain.MediaCamera, domain.MediaMicrophone, domain.MediaScreen} {
		assert.Equal(t, domain.PermissionUnknown, g.Status(kind))
	}
}

func TestGate_CheckHasNoSideEffects(t *testing.T) {
	p := newFakeProvider()
	p.query[domain.MediaCamera] = domain.PermissionGranted
	g, acq := newGate(p, mediatest.NewDevice())

	assert.Equal(t, domain.PermissionGranted, g.Check(context.Background(), domain.MediaCamera))
	assert.Equal(t, domain.PermissionGranted, g.Status(domain.MediaCamera))
	assert.Empty(t, p.requests)
	assert.Zero(t, acq.calls[domain.MediaCamera])
}

func TestGate_CheckQueryErrorIsUnavailable(t *testing.T) {
	p := newFakeProvider()
	p.queryErr = errors.New("permissions api missing")
	g, _ := newGate(p, mediatest.NewDevice())

	assert.Equal(t, domain.PermissionUnavailable, g.Check(context.Background(), domain.MediaScreen))
}

func TestGate_EnsureGranted(t *testing.T) {
	p := newFakeProvider()
	p.query[domain.MediaCamera] = domain.PermissionGranted
	p.query[domain.MediaMicrophone] = domain.PermissionGranted
	dev := mediatest.NewDevice()
	g, acq := newGate(p, dev)

	h, err := g.Ensure(context.Background(), domain.MediaCamera)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, 1, acq.calls[domain.MediaCamera])
	assert.Equal(t, 1, dev.Opens(domain.MediaCamera))
}

func TestGate_EnsureUnknownRequestsFirst(t *testing.T) {
	p := newFakeProvider()
	p.request[domain.MediaScreen] = domain.PermissionGranted
	g, _ := newGate(p, mediatest.NewDevice())

	h, err := g.Ensure(context.Background(), domain.MediaScreen)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, []domain.MediaKind{domain.MediaScreen}, p.requests)
	assert.Equal(t, domain.PermissionGranted, g.Status(domain.MediaScreen))
}

func TestGate_EnsureBlocked(t *testing.T) {
	tests := []struct {
		name       string
		camera     domain.PermissionStatus
		microphone domain.PermissionStatus
		wantKind   domain.MediaKind
		wantStatus domain.PermissionStatus
	}{
		{"camera denied", domain.PermissionDenied, domain.PermissionGranted, domain.MediaCamera, domain.PermissionDenied},
		{"camera unavailable", domain.PermissionUnavailable, domain.PermissionGranted, domain.MediaCamera, domain.PermissionUnavailable},
		{"microphone denied", domain.PermissionGranted, domain.PermissionDenied, domain.MediaMicrophone, domain.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			p.query[domain.MediaCamera] = tt.camera
			p.query[domain.MediaMicrophone] = tt.microphone
			dev := mediatest.NewDevice()
			g, acq := newGate(p, dev)

			h, err := g.Ensure(context.Background(), domain.MediaCamera)
			assert.Nil(t, h)
			require.ErrorIs(t, err, domain.ErrBlocked)

			var blocked *BlockedError
			require.ErrorAs(t, err, &blocked)
			assert.Equal(t, tt.wantKind, blocked.Kind)
			assert.Equal(t, tt.wantStatus, blocked.Status)

			assert.Zero(t, acq.calls[domain.MediaCamera])
			assert.Zero(t, dev.Opens(domain.MediaCamera))
		})
	}
}

func TestGate_EnsureRequestDenied(t *testing.T) {
	p := newFakeProvider()
	p.request[domain.MediaScreen] = domain.PermissionDenied
	g, acq := newGate(p, mediatest.NewDevice())

	_, err := g.Ensure(context.Background(), domain.MediaScreen)
	assert.ErrorIs(t, err, domain.ErrBlocked)
	assert.Zero(t, acq.calls[domain.MediaScreen])
}

func TestGate_EnsureDeviceRefusesDespiteGrant(t *testing.T) {
	p := newFakeProvider()
	p.query[domain.MediaScreen] = domain.PermissionGranted
	dev := mediatest.NewDevice()
	dev.Fail(domain.MediaScreen, domain.ErrPermissionDenied)
	g, _ := newGate(p, dev)

	_, err := g.Ensure(context.Background(), domain.MediaScreen)
	assert.ErrorIs(t, err, domain.ErrBlocked)
	assert.Equal(t, domain.PermissionDenied, g.Status(domain.MediaScreen))
}

func TestGate_EnsureDeviceUnavailablePropagates(t *testing.T) {
	p := newFakeProvider()
	p.query[domain.MediaScreen] = domain.PermissionGranted
	dev := mediatest.NewDevice()
	dev.Fail(domain.MediaScreen, errors.New("no display"))
	g, _ := newGate(p, dev)

	_, err := g.Ensure(context.Background(), domain.MediaScreen)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	assert.NotErrorIs(t, err, domain.ErrBlocked)
}

func TestRequirements(t *testing.T) {
	assert.Equal(t, []domain.MediaKind{domain.MediaCamera, domain.MediaMicrophone}, Requirements(domain.MediaCamera))
	assert.Equal(t, []domain.MediaKind{domain.MediaScreen}, Requirements(domain.MediaScreen))
}
