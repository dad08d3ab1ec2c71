package domain

import "context"

// PermissionStatus is the device permission state for one media kind.
type PermissionStatus int

const (
	PermissionUnknown PermissionStatus = iota // only valid initial state
	PermissionGranted
	PermissionDenied
	PermissionUnavailable
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// PermissionProvider is the platform permission surface (query + request).
type PermissionProvider interface {
	Query(ctx context.Context, kind MediaKind) (PermissionStatus, error)
	Request(ctx context.Context, kind MediaKind) (PermissionStatus, error)
}
