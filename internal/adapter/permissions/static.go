// Package permissions provides permission providers for runs without a browser.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// Prompt is the configured value for a kind whose status is not decided yet.
const Prompt = "prompt"

// Static answers from configuration. A kind set to "prompt" queries as unknown
// and is granted when requested, the way a candidate clicking allow would.
type Static struct {
	mu       sync.Mutex
	statuses map[domain.MediaKind]domain.PermissionStatus
}

// NewStatic maps kind to granted, denied, unavailable or prompt.
func NewStatic(settings map[domain.MediaKind]string) (*Static, error) {
	s := &Static{statuses: make(map[domain.MediaKind]domain.PermissionStatus)}
	for kind, value := range settings {
		status, err := Parse(value)
		if err != nil {
			return nil, fmt.Errorf("permission for %s: %w", kind, err)
		}
		s.statuses[kind] = status
	}
	return s, nil
}

// Parse maps a configured value to a status; "prompt" maps to unknown.
func Parse(value string) (domain.PermissionStatus, error) {
	switch value {
	case "granted":
		return domain.PermissionGranted, nil
	case "denied":
		return domain.PermissionDenied, nil
	case "unavailable":
		return domain.PermissionUnavailable, nil
	case Prompt, "":
		return domain.PermissionUnknown, nil
	default:
		return domain.PermissionUnknown, fmt.Errorf("unknown permission value %q", value)
	}
}

func (s *Static) Query(_ context.Context, kind domain.MediaKind) (domain.PermissionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[kind], nil
}

func (s *Static) Request(_ context.Context, kind domain.MediaKind) (domain.PermissionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[kind] == domain.PermissionUnknown {
		s.statuses[kind] = domain.PermissionGranted
		slog.Info("Permission granted on request", "kind", kind)
	}
	return s.statuses[kind], nil
}

// Set changes the answer for kind, e.g. to simulate a revoked permission.
func (s *Static) Set(kind domain.MediaKind, status domain.PermissionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[kind] = status
}
