package detector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// FaceMatch verifies the candidate against an enrolled face descriptor.
// At most one verdict per tick: NO_FACE when nobody is visible, otherwise
// FACE_MISMATCH when even the best matching face is further than the threshold.
type FaceMatch struct {
	faces     domain.FaceAnalyzer
	reference []float64
	threshold float64
	cadence   time.Duration
}

// NewFaceMatch returns a FaceMatch detector. A nil reference disables the
// mismatch verdict and leaves only NO_FACE.
func NewFaceMatch(faces domain.FaceAnalyzer, reference []float64, threshold float64, cadence time.Duration) *FaceMatch {
	return &FaceMatch{faces: faces, reference: reference, threshold: threshold, cadence: cadence}
}

func (d *FaceMatch) Name() string           { return "face-match" }
func (d *FaceMatch) Kind() domain.MediaKind { return domain.MediaCamera }
func (d *FaceMatch) Cadence() time.Duration { return d.cadence }
func (d *FaceMatch) Load(ctx context.Context) error {
	return loadModel(ctx, d.Name(), d.faces.Load)
}

func (d *FaceMatch) Types() []domain.AnomalyType {
	return []domain.AnomalyType{domain.AnomalyNoFace, domain.AnomalyFaceMismatch}
}

func (d *FaceMatch) Tick(ctx context.Context, src domain.FrameSource, at time.Time) ([]domain.AnomalyEvent, error) {
	img, err := frame(ctx, src)
	if err != nil {
		return nil, err
	}
	faces, err := d.faces.DetectFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	if len(faces) == 0 {
		return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyNoFace, at, 1, img)}, nil
	}
	if d.reference == nil {
		return nil, nil
	}

	best, ok := d.bestDistance(faces)
	if !ok || best <= d.threshold {
		return nil, nil
	}
	return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyFaceMismatch, at, best, img)}, nil
}

// bestDistance is the smallest Euclidean distance between the reference and
// any comparable face descriptor.
func (d *FaceMatch) bestDistance(faces []domain.Face) (float64, bool) {
	best, found := math.Inf(1), false
	for _, f := range faces {
		if len(f.Descriptor) != len(d.reference) {
			continue
		}
		if dist := Distance(f.Descriptor, d.reference); dist < best {
			best, found = dist, true
		}
	}
	return best, found
}

// Distance is the Euclidean distance between two descriptors of equal length.
func Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// MultiPerson flags more than one face in the camera frame.
type MultiPerson struct {
	faces    domain.FaceAnalyzer
	cadence  time.Duration
	multiple atomic.Bool
}

func NewMultiPerson(faces domain.FaceAnalyzer, cadence time.Duration) *MultiPerson {
	return &MultiPerson{faces: faces, cadence: cadence}
}

func (d *MultiPerson) Name() string           { return "multi-person" }
func (d *MultiPerson) Kind() domain.MediaKind { return domain.MediaCamera }
func (d *MultiPerson) Cadence() time.Duration { return d.cadence }
func (d *MultiPerson) Load(ctx context.Context) error {
	return loadModel(ctx, d.Name(), d.faces.Load)
}

func (d *MultiPerson) Types() []domain.AnomalyType {
	return []domain.AnomalyType{domain.AnomalyMultipleFaces}
}

// MultiplePeople reports whether the last tick saw more than one face.
func (d *MultiPerson) MultiplePeople() bool { return d.multiple.Load() }

func (d *MultiPerson) Tick(ctx context.Context, src domain.FrameSource, at time.Time) ([]domain.AnomalyEvent, error) {
	img, err := frame(ctx, src)
	if err != nil {
		return nil, err
	}
	faces, err := d.faces.DetectFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	d.multiple.Store(len(faces) > 1)
	if len(faces) <= 1 {
		return nil, nil
	}

	// confidence of the weakest extra person
	scores := make([]float64, len(faces))
	for i, f := range faces {
		scores[i] = f.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyMultipleFaces, at, scores[1], img)}, nil
}

// Gaze flags a primary face turned away from the screen.
type Gaze struct {
	faces      domain.FaceAnalyzer
	yawLimit   float64
	pitchLimit float64
	cadence    time.Duration
}

func NewGaze(faces domain.FaceAnalyzer, yawLimit, pitchLimit float64, cadence time.Duration) *Gaze {
	return &Gaze{faces: faces, yawLimit: yawLimit, pitchLimit: pitchLimit, cadence: cadence}
}

func (d *Gaze) Name() string           { return "gaze" }
func (d *Gaze) Kind() domain.MediaKind { return domain.MediaCamera }
func (d *Gaze) Cadence() time.Duration { return d.cadence }
func (d *Gaze) Load(ctx context.Context) error {
	return loadModel(ctx, d.Name(), d.faces.Load)
}

func (d *Gaze) Types() []domain.AnomalyType {
	return []domain.AnomalyType{domain.AnomalyGazeOffScreen}
}

func (d *Gaze) Tick(ctx context.Context, src domain.FrameSource, at time.Time) ([]domain.AnomalyEvent, error) {
	img, err := frame(ctx, src)
	if err != nil {
		return nil, err
	}
	faces, err := d.faces.DetectFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	primary := faces[0]
	for _, f := range faces[1:] {
		if area(f) > area(primary) {
			primary = f
		}
	}

	yaw := math.Abs(primary.Yaw) / d.yawLimit
	pitch := math.Abs(primary.Pitch) / d.pitchLimit
	ratio := math.Max(yaw, pitch)
	if ratio <= 1 {
		return nil, nil
	}
	return []domain.AnomalyEvent{event(d.Name(), domain.AnomalyGazeOffScreen, at, ratio/2, img)}, nil
}

func area(f domain.Face) int {
	return f.Box.Dx() * f.Box.Dy()
}
