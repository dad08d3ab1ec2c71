package domain

import "errors"

var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrDeviceUnavailable    = errors.New("device unavailable")
	ErrBlocked              = errors.New("proctoring blocked")
	ErrModelLoad            = errors.New("model load failure")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	ErrTrackEnded           = errors.New("track ended unexpectedly")
	ErrSessionRunning       = errors.New("session is running")
	ErrSessionNotRunning    = errors.New("session is not running")
	ErrStartCancelled       = errors.New("session start cancelled")
	ErrSnapshotNotFound     = errors.New("snapshot not found")
)
