package detector

import (
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// Config holds the thresholds and cadences of the full detector set.
type Config struct {
	FaceMatchThreshold float64
	Reference          []float64
	GazeYawLimit       float64
	GazePitchLimit     float64
	BlurThreshold      float64
	HandCoverageLimit  float64
	VirtualBGThreshold float64

	FaceMatchCadence   time.Duration
	MultiPersonCadence time.Duration
	GazeCadence        time.Duration
	BlurCadence        time.Duration
	VirtualBGCadence   time.Duration
	ScreenCadence      time.Duration

	ScreenShareEnabled bool
}

func DefaultConfig() Config {
	return Config{
		FaceMatchThreshold: 0.6,
		GazeYawLimit:       30,
		GazePitchLimit:     20,
		BlurThreshold:      250,
		HandCoverageLimit:  0.3,
		VirtualBGThreshold: 0.5,
		FaceMatchCadence:   time.Second,
		MultiPersonCadence: 200 * time.Millisecond,
		GazeCadence:        500 * time.Millisecond,
		BlurCadence:        100 * time.Millisecond,
		VirtualBGCadence:   5 * time.Second,
		ScreenCadence:      2 * time.Second,
		ScreenShareEnabled: true,
	}
}

// Backends are the inference capabilities the detectors consume.
type Backends struct {
	Faces      domain.FaceAnalyzer
	Hands      domain.HandDetector
	Background domain.BackgroundClassifier
}

// Build returns the standard detector set. Detectors whose backend is nil are omitted.
func Build(cfg Config, b Backends) []Detector {
	var out []Detector
	if b.Faces != nil {
		out = append(out,
			NewFaceMatch(b.Faces, cfg.Reference, cfg.FaceMatchThreshold, cfg.FaceMatchCadence),
			NewMultiPerson(b.Faces, cfg.MultiPersonCadence),
			NewGaze(b.Faces, cfg.GazeYawLimit, cfg.GazePitchLimit, cfg.GazeCadence),
		)
	}
	out = append(out, NewBlur(b.Hands, cfg.BlurThreshold, cfg.HandCoverageLimit, cfg.BlurCadence))
	if b.Background != nil {
		out = append(out, NewVirtualBackground(b.Background, cfg.VirtualBGThreshold, cfg.VirtualBGCadence))
	}
	if cfg.ScreenShareEnabled {
		out = append(out, NewScreenShare(cfg.ScreenCadence))
	}
	return out
}

// RequiredKinds returns the distinct media kinds the detectors need, camera first.
func RequiredKinds(detectors []Detector) []domain.MediaKind {
	seen := make(map[domain.MediaKind]bool)
	var kinds []domain.MediaKind
	for _, k := range []domain.MediaKind{domain.MediaCamera, domain.MediaScreen} {
		for _, d := range detectors {
			if d.Kind() == k && !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	return kinds
}
