package inference

import (
	"context"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

const (
	analysisSide = 160
	minFaceArea  = 0.005 // of the frame
	minAspect    = 0.4
	maxAspect    = 2.5
	yawSpan      = 120.0 // degrees across the frame width
	pitchSpan    = 80.0
	flatGradient = 2
)

// Heuristic is a model-free backend. Faces are skin-coloured blobs, hands are
// skin outside any face, and a virtual background is a mostly flat frame.
// It exists so the pipeline can run end to end without a model server; it
// makes no accuracy claims.
type Heuristic struct{}

var (
	_ domain.FaceAnalyzer         = Heuristic{}
	_ domain.HandDetector         = Heuristic{}
	_ domain.BackgroundClassifier = Heuristic{}
)

func (Heuristic) Load(context.Context) error { return nil }

func (Heuristic) DetectFaces(_ context.Context, img image.Image) ([]domain.Face, error) {
	a := analyse(img)
	return a.faces, nil
}

func (Heuristic) HandCoverage(_ context.Context, img image.Image) (float64, error) {
	a := analyse(img)
	if a.total() == 0 {
		return 0, nil
	}
	return float64(a.strayPixels) / float64(a.total()), nil
}

func (Heuristic) VirtualBackgroundProbability(_ context.Context, img image.Image) (float64, error) {
	a := analyse(img)
	background := a.total() - a.skinPixels
	if background == 0 {
		return 0, nil
	}
	flat := float64(a.flatPixels) / float64(background)
	p := (flat - 0.5) / 0.5
	switch {
	case p < 0:
		return 0, nil
	case p > 1:
		return 1, nil
	}
	return p, nil
}

type analysis struct {
	w, h        int
	scale       float64 // original pixels per analysed pixel
	faces       []domain.Face
	skinPixels  int
	strayPixels int
	flatPixels  int
}

func (a analysis) total() int { return a.w * a.h }

func analyse(img image.Image) analysis {
	small, scale := downscale(img)
	b := small.Bounds()
	w, h := b.Dx(), b.Dy()
	a := analysis{w: w, h: h, scale: scale}

	skin := make([]bool, w*h)
	luma := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.YCbCrModel.Convert(small.At(b.Min.X+x, b.Min.Y+y)).(color.YCbCr)
			luma[y*w+x] = c.Y
			if isSkin(c) {
				skin[y*w+x] = true
				a.skinPixels++
			}
		}
	}

	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			i := y*w + x
			if skin[i] {
				continue
			}
			if absDiff(luma[i], luma[i+1]) < flatGradient && absDiff(luma[i], luma[i+w]) < flatGradient {
				a.flatPixels++
			}
		}
	}

	seen := make([]bool, w*h)
	for i := range skin {
		if !skin[i] || seen[i] {
			continue
		}
		box, count := flood(skin, seen, w, h, i)
		if face, ok := a.face(box, count); ok {
			a.faces = append(a.faces, face)
		} else {
			a.strayPixels += count
		}
	}
	return a
}

func (a analysis) face(box image.Rectangle, count int) (domain.Face, bool) {
	if float64(count) < minFaceArea*float64(a.total()) {
		return domain.Face{}, false
	}
	aspect := float64(box.Dx()) / float64(box.Dy())
	if aspect < minAspect || aspect > maxAspect {
		return domain.Face{}, false
	}

	fill := float64(count) / float64(box.Dx()*box.Dy())
	cx := float64(box.Min.X+box.Max.X) / 2 / float64(a.w)
	cy := float64(box.Min.Y+box.Max.Y) / 2 / float64(a.h)
	return domain.Face{
		Box: image.Rect(
			int(float64(box.Min.X)*a.scale), int(float64(box.Min.Y)*a.scale),
			int(float64(box.Max.X)*a.scale), int(float64(box.Max.Y)*a.scale),
		),
		Descriptor: []float64{aspect / maxAspect, fill, cx, cy},
		Yaw:        (cx - 0.5) * yawSpan,
		Pitch:      (cy - 0.5) * pitchSpan,
		Score:      fill,
	}, true
}

// flood labels the 4-connected skin region containing start.
func flood(skin, seen []bool, w, h, start int) (image.Rectangle, int) {
	box := image.Rect(start%w, start/w, start%w+1, start/w+1)
	queue := []int{start}
	seen[start] = true
	count := 0

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		count++

		x, y := i%w, i/w
		box = box.Union(image.Rect(x, y, x+1, y+1))

		for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
			nx, ny := n[0], n[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			j := ny*w + nx
			if skin[j] && !seen[j] {
				seen[j] = true
				queue = append(queue, j)
			}
		}
	}
	return box, count
}

// isSkin is the classic Cb/Cr box rule.
func isSkin(c color.YCbCr) bool {
	return c.Cb >= 77 && c.Cb <= 127 && c.Cr >= 133 && c.Cr <= 173
}

func downscale(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	side := max(b.Dx(), b.Dy())
	if side <= analysisSide {
		return img, 1
	}
	scale := float64(side) / analysisSide
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(b.Dx())/scale), int(float64(b.Dy())/scale)))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, scale
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
