package domain

import (
	"context"
	"image"
)

// DetectorPhase is the lifecycle state of a detector.
type DetectorPhase string

const (
	PhaseInitializing DetectorPhase = "INITIALIZING"
	PhaseReady        DetectorPhase = "READY"
	PhaseEmitting     DetectorPhase = "EMITTING"
	PhaseDegraded     DetectorPhase = "DEGRADED"
)

// Face is one face found in a frame.
type Face struct {
	Box        image.Rectangle
	Descriptor []float64
	Yaw        float64 // degrees, 0 = facing the screen
	Pitch      float64 // degrees, 0 = facing the screen
	Score      float64
}

// FaceAnalyzer finds faces and computes their descriptors.
type FaceAnalyzer interface {
	Load(ctx context.Context) error
	DetectFaces(ctx context.Context, img image.Image) ([]Face, error)
}

// HandDetector estimates how much of the frame is covered by hands (0..1).
type HandDetector interface {
	Load(ctx context.Context) error
	HandCoverage(ctx context.Context, img image.Image) (float64, error)
}

// BackgroundClassifier estimates the probability that a virtual background is in use.
type BackgroundClassifier interface {
	Load(ctx context.Context) error
	VirtualBackgroundProbability(ctx context.Context, img image.Image) (float64, error)
}
