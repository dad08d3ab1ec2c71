package detector

import (
	"context"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// ScreenShare samples the screen stream and reports when sharing stops,
// either because the stream ended or because no frame can be read.
type ScreenShare struct {
	cadence time.Duration
}

func NewScreenShare(cadence time.Duration) *ScreenShare {
	return &ScreenShare{cadence: cadence}
}

func (d *ScreenShare) Name() string               { return "screen-share" }
func (d *ScreenShare) Kind() domain.MediaKind     { return domain.MediaScreen }
func (d *ScreenShare) Cadence() time.Duration     { return d.cadence }
func (d *ScreenShare) Load(context.Context) error { return nil }

func (d *ScreenShare) Types() []domain.AnomalyType {
	return []domain.AnomalyType{domain.AnomalyScreenShareLost}
}

func (d *ScreenShare) Tick(ctx context.Context, src domain.FrameSource, at time.Time) ([]domain.AnomalyEvent, error) {
	select {
	case <-src.Ended():
		return d.TrackEnded(at), nil
	default:
	}
	if _, err := frame(ctx, src); err != nil {
		return d.TrackEnded(at), nil
	}
	return nil, nil
}

func (d *ScreenShare) TrackEnded(at time.Time) []domain.AnomalyEvent {
	return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyScreenShareLost, at, 1, nil)}
}
