// Package permission gates media acquisition on device permissions.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/media"
	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

// Acquirer is the part of media.Manager the gate needs.
type Acquirer interface {
	Acquire(ctx context.Context, kind domain.MediaKind) (*media.Handle, error)
}

// BlockedError reports that a required device permission is not granted.
// The session must halt and show a blocking prompt until it is.
type BlockedError struct {
	Kind   domain.MediaKind
	Status domain.PermissionStatus
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s permission %s", e.Kind, e.Status)
}

func (e *BlockedError) Is(target error) bool { return target == domain.ErrBlocked }

// Requirements lists the permissions that must be granted before a stream of
// kind may be acquired. The camera stream carries audio, so it needs the microphone too.
func Requirements(kind domain.MediaKind) []domain.MediaKind {
	if kind == domain.MediaCamera {
		return []domain.MediaKind{domain.MediaCamera, domain.MediaMicrophone}
	}
	return []domain.MediaKind{kind}
}

type Gate struct {
	provider domain.PermissionProvider
	media    Acquirer

	mu       sync.Mutex
	statuses map[domain.MediaKind]domain.PermissionStatus
}

func NewGate(provider domain.PermissionProvider, acquirer Acquirer) *Gate {
	return &Gate{
		provider: provider,
		media:    acquirer,
		statuses: make(map[domain.MediaKind]domain.PermissionStatus),
	}
}

// Status returns the last known status of kind without querying the platform.
func (g *Gate) Status(kind domain.MediaKind) domain.PermissionStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[kind]
}

// Check queries the platform for the current status of kind. It never prompts.
// A failing query is reported as unavailable.
func (g *Gate) Check(ctx context.Context, kind domain.MediaKind) domain.PermissionStatus {
	status, err := g.provider.Query(ctx, kind)
	if err != nil {
		slog.WarnContext(ctx, "Permission query failed", "kind", kind, "error", err)
		status = domain.PermissionUnavailable
	}
	g.set(kind, status)
	return status
}

// Request asks the platform to grant kind.
func (g *Gate) Request(ctx context.Context, kind domain.MediaKind) domain.PermissionStatus {
	status, err := g.provider.Request(ctx, kind)
	if err != nil {
		slog.WarnContext(ctx, "Permission request failed", "kind", kind, "error", err)
		status = domain.PermissionUnavailable
	}
	g.set(kind, status)
	return status
}

// Ensure returns a handle on kind once every required permission is granted.
// A denied or unavailable permission yields a *BlockedError and the device is
// never touched.
func (g *Gate) Ensure(ctx context.Context, kind domain.MediaKind) (*media.Handle, error) {
	for _, req := range Requirements(kind) {
		status := g.Check(ctx, req)
		if status == domain.PermissionUnknown {
			status = g.Request(ctx, req)
		}
		if status != domain.PermissionGranted {
			return nil, g.blocked(ctx, req, status)
		}
	}

	h, err := g.media.Acquire(ctx, kind)
	if errors.Is(err, domain.ErrPermissionDenied) {
		// The platform said granted but the device refused; trust the device.
		g.set(kind, domain.PermissionDenied)
		return nil, g.blocked(ctx, kind, domain.PermissionDenied)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (g *Gate) blocked(ctx context.Context, kind domain.MediaKind, status domain.PermissionStatus) error {
	metrics.SessionsBlockedTotal.WithLabelValues(string(kind)).Inc()
	slog.WarnContext(ctx, "Proctoring blocked on permission", "kind", kind, "status", status)
	return &BlockedError{Kind: kind, Status: status}
}

func (g *Gate) set(kind domain.MediaKind, status domain.PermissionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[kind] = status
}
