package detector

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/image/draw"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// maxBlurWidth bounds the work per tick; frames wider than this are downscaled first.
const maxBlurWidth = 320

// Blur flags an unreadable camera picture: either the frame is out of focus
// (low Laplacian variance) or a hand covers a large part of the lens.
type Blur struct {
	hands         domain.HandDetector
	threshold     float64
	coverageLimit float64
	cadence       time.Duration
}

// NewBlur returns a Blur detector. hands may be nil, which disables the occlusion check.
func NewBlur(hands domain.HandDetector, threshold, coverageLimit float64, cadence time.Duration) *Blur {
	return &Blur{hands: hands, threshold: threshold, coverageLimit: coverageLimit, cadence: cadence}
}

func (d *Blur) Name() string           { return "blur" }
func (d *Blur) Kind() domain.MediaKind { return domain.MediaCamera }
func (d *Blur) Cadence() time.Duration { return d.cadence }

func (d *Blur) Types() []domain.AnomalyType {
	return []domain.AnomalyType{domain.AnomalyBlurDetected}
}

func (d *Blur) Load(ctx context.Context) error {
	if d.hands == nil {
		return nil
	}
	return loadModel(ctx, d.Name(), d.hands.Load)
}

func (d *Blur) Tick(ctx context.Context, src domain.FrameSource, at time.Time) ([]domain.AnomalyEvent, error) {
	img, err := frame(ctx, src)
	if err != nil {
		return nil, err
	}

	if v := LaplacianVariance(img); v < d.threshold {
		return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyBlurDetected, at, 1-v/d.threshold, img)}, nil
	}

	if d.hands == nil {
		return nil, nil
	}
	coverage, err := d.hands.HandCoverage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect hands: %w", err)
	}
	if coverage > d.coverageLimit {
		return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyBlurDetected, at, coverage, img)}, nil
	}
	return nil, nil
}

// LaplacianVariance measures sharpness: the variance of the 4-neighbour
// Laplacian over the grayscale frame. Sharp frames score high.
func LaplacianVariance(img image.Image) float64 {
	gray := grayscale(img)
	b := gray.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return 0
	}

	var sum, sumSq, n float64
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			lap := float64(gray.GrayAt(x, y-1).Y) +
				float64(gray.GrayAt(x, y+1).Y) +
				float64(gray.GrayAt(x-1, y).Y) +
				float64(gray.GrayAt(x+1, y).Y) -
				4*float64(gray.GrayAt(x, y).Y)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}

func grayscale(img image.Image) *image.Gray {
	src := img.Bounds()
	dst := src.Sub(src.Min)
	if dst.Dx() > maxBlurWidth {
		dst = image.Rect(0, 0, maxBlurWidth, dst.Dy()*maxBlurWidth/dst.Dx())
	}
	gray := image.NewGray(dst)
	if dst.Size() == src.Size() {
		draw.Draw(gray, dst, img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(gray, dst, img, src, draw.Src, nil)
	}
	return gray
}
