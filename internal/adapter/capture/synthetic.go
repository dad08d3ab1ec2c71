package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// SkinTone is the face colour the synthetic camera paints.
var SkinTone = color.RGBA{R: 224, G: 172, B: 140, A: 255}

// Scene describes what the synthetic camera shows.
type Scene struct {
	// Faces is the number of people in view.
	Faces int `json:"faces"`
	// LookAway shifts the primary face to the frame edge.
	LookAway bool `json:"lookAway"`
	// Blurred renders a flat, detail-free frame.
	Blurred bool `json:"blurred"`
}

// Synthetic renders deterministic frames from a Scene. It never denies access.
type Synthetic struct {
	width, height int

	mu      sync.Mutex
	scene   Scene
	streams map[domain.MediaKind][]*stream
}

func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{
		width:   width,
		height:  height,
		scene:   Scene{Faces: 1},
		streams: make(map[domain.MediaKind][]*stream),
	}
}

func (s *Synthetic) Scene() Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene
}

// SetScene changes what every open and future camera stream shows.
func (s *Synthetic) SetScene(scene Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene = scene
}

func (s *Synthetic) Open(ctx context.Context, kind domain.MediaKind) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var st *stream
	switch kind {
	case domain.MediaCamera:
		st = newStream(kind, func() (image.Image, error) { return s.renderCamera(s.Scene()), nil })
	case domain.MediaScreen:
		st = newStream(kind, func() (image.Image, error) { return s.renderScreen(), nil })
	case domain.MediaMicrophone:
		st = newStream(kind, func() (image.Image, error) { return nil, nil })
	default:
		return nil, fmt.Errorf("synthetic %s: %w", kind, domain.ErrDeviceUnavailable)
	}

	s.mu.Lock()
	live := s.streams[kind][:0]
	for _, old := range s.streams[kind] {
		if !old.done() {
			live = append(live, old)
		}
	}
	s.streams[kind] = append(live, st)
	s.mu.Unlock()
	return st, nil
}

// End terminates every open stream of kind, as when the user stops sharing.
func (s *Synthetic) End(kind domain.MediaKind) {
	s.mu.Lock()
	streams := s.streams[kind]
	delete(s.streams, kind)
	s.mu.Unlock()

	for _, st := range streams {
		st.end()
	}
}

func (s *Synthetic) renderCamera(scene Scene) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if scene.Blurred {
		draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 110}), image.Point{}, draw.Src)
		return img
	}
	checker(img, 4, color.Gray{Y: 60}, color.Gray{Y: 190})

	fw, fh := s.width/6, s.height/3
	for i := 0; i < scene.Faces; i++ {
		cx := s.width * (i + 1) / (scene.Faces + 1)
		if i == 0 && scene.LookAway {
			cx = fw/2 + 1
		}
		cy := s.height / 2
		box := image.Rect(cx-fw/2, cy-fh/2, cx+fw/2, cy+fh/2)
		draw.Draw(img, box, image.NewUniform(SkinTone), image.Point{}, draw.Src)
	}
	return img
}

func (s *Synthetic) renderScreen() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 30, G: 40, B: 70, A: 255}), image.Point{}, draw.Src)
	bar := image.Rect(0, 0, s.width, s.height/12)
	draw.Draw(img, bar, image.NewUniform(color.RGBA{R: 200, G: 200, B: 210, A: 255}), image.Point{}, draw.Src)
	return img
}

func checker(img *image.RGBA, cell int, a, b color.Color) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, a)
			} else {
				img.Set(x, y, b)
			}
		}
	}
}
