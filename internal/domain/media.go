package domain

import (
	"context"
	"image"
)

// MediaKind names a capture device class.
type MediaKind string

const (
	MediaCamera     MediaKind = "camera"
	MediaMicrophone MediaKind = "microphone"
	MediaScreen     MediaKind = "screen"
)

// FrameSource is the read side of a live capture stream. Detectors only ever see this.
type FrameSource interface {
	// Frame returns the most recent frame of the stream.
	Frame(ctx context.Context) (image.Image, error)
	// Ended is closed when the stream terminates for any reason.
	Ended() <-chan struct{}
}

// Stream is a live capture stream owned by the media manager.
type Stream interface {
	FrameSource
	// Stop stops all hardware tracks. Safe to call more than once.
	Stop()
}

// CaptureDevice opens hardware capture streams (getUserMedia / getDisplayMedia).
// Implementations return errors wrapping ErrPermissionDenied or ErrDeviceUnavailable.
type CaptureDevice interface {
	Open(ctx context.Context, kind MediaKind) (Stream, error)
}
