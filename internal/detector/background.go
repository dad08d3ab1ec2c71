package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// VirtualBackground flags a synthetic or blurred-out background. It is the
// most expensive detector and runs on the slowest cadence.
type VirtualBackground struct {
	classifier domain.BackgroundClassifier
	threshold  float64
	cadence    time.Duration
}

func NewVirtualBackground(classifier domain.BackgroundClassifier, threshold float64, cadence time.Duration) *VirtualBackground {
	return &VirtualBackground{classifier: classifier, threshold: threshold, cadence: cadence}
}

func (d *VirtualBackground) Name() string           { return "virtual-background" }
func (d *VirtualBackground) Kind() domain.MediaKind { return domain.MediaCamera }
func (d *VirtualBackground) Cadence() time.Duration { return d.cadence }
func (d *VirtualBackground) Load(ctx context.Context) error {
	return loadModel(ctx, d.Name(), d.classifier.Load)
}

func (d *VirtualBackground) Types() []domain.AnomalyType {
	return []domain.AnomalyType{domain.AnomalyVirtualBackground}
}

func (d *VirtualBackground) Tick(ctx context.Context, src domain.FrameSource, at time.Time) ([]domain.AnomalyEvent, error) {
	img, err := frame(ctx, src)
	if err != nil {
		return nil, err
	}
	p, err := d.classifier.VirtualBackgroundProbability(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("classify background: %w", err)
	}
	if p <= d.threshold {
		return nil, nil
	}
	return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyVirtualBackground, at, p, img)}, nil
}
