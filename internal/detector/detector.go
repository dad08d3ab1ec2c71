// Package detector implements the proctoring detectors.
//
// Every detector is a capability the scheduler drives uniformly: it names the
// media kind it watches, its polling cadence and the anomaly types it can
// report, loads its model assets once, and turns one frame into zero or more
// anomaly events per tick. Detectors keep no dedup state and never stop the
// stream they read from.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

type Detector interface {
	Name() string
	Kind() domain.MediaKind
	Cadence() time.Duration
	// Types lists every anomaly type the detector reports. A listed type with
	// no event in a tick counts as absent for that tick.
	Types() []domain.AnomalyType
	// Load prepares model assets. Errors wrap domain.ErrModelLoad.
	Load(ctx context.Context) error
	Tick(ctx context.Context, src domain.FrameSource, at time.Time) ([]domain.AnomalyEvent, error)
}

// TrackEndedObserver is implemented by detectors that turn the loss of their
// stream into an anomaly.
type TrackEndedObserver interface {
	TrackEnded(at time.Time) []domain.AnomalyEvent
}

var errNoFrame = errors.New("no frame available")

func frame(ctx context.Context, src domain.FrameSource) (image.Image, error) {
	img, err := src.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if img == nil {
		return nil, errNoFrame
	}
	return img, nil
}

func loadModel(ctx context.Context, name string, load func(context.Context) error) error {
	if err := load(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", name, domain.ErrModelLoad, err)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func event(name string, typ domain.AnomalyType, at time.Time, confidence float64, img image.Image) domain.AnomalyEvent {
	return domain.AnomalyEvent{
		Type:       typ,
		Detector:   name,
		Timestamp:  at,
		Confidence: clamp01(confidence),
		Frame:      img,
	}
}
