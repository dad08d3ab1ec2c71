package domain

import (
	"image"
	"time"
)

// AnomalyType identifies the class of a proctoring anomaly.
type AnomalyType string

const (
	AnomalyFaceMismatch      AnomalyType = "FACE_MISMATCH"
	AnomalyNoFace            AnomalyType = "NO_FACE"
	AnomalyMultipleFaces     AnomalyType = "MULTIPLE_FACES"
	AnomalyGazeOffScreen     AnomalyType = "GAZE_OFF_SCREEN"
	AnomalyBlurDetected      AnomalyType = "BLUR_DETECTED"
	AnomalyVirtualBackground AnomalyType = "VIRTUAL_BACKGROUND"
	AnomalyScreenShareLost   AnomalyType = "SCREEN_SHARE_LOST"
)

// AnomalyTypes lists every known anomaly type in a stable order.
var AnomalyTypes = []AnomalyType{
	AnomalyFaceMismatch,
	AnomalyNoFace,
	AnomalyMultipleFaces,
	AnomalyGazeOffScreen,
	AnomalyBlurDetected,
	AnomalyVirtualBackground,
	AnomalyScreenShareLost,
}

// ParseAnomalyType returns the anomaly type for s and whether it is known.
func ParseAnomalyType(s string) (AnomalyType, bool) {
	for _, t := range AnomalyTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// AnomalyEvent is one observation emitted by a detector. Never mutated after creation.
type AnomalyEvent struct {
	Type       AnomalyType
	Detector   string
	Timestamp  time.Time
	Confidence float64     // 0..1, detector-specific meaning
	Frame      image.Image // optional capture the detector looked at
}

// DetectorState is the deduplication state of one anomaly type for one detector.
// A zero ActiveSince means the anomaly is not currently active.
type DetectorState struct {
	LastEmittedAt time.Time
	ActiveSince   time.Time
}

// Active reports whether an anomaly episode is in progress.
func (s DetectorState) Active() bool {
	return !s.ActiveSince.IsZero()
}
