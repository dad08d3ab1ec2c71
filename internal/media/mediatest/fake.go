// Package mediatest provides an in-memory capture device for tests.
package mediatest

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// Stream is a controllable domain.Stream.
type Stream struct {
	Kind domain.MediaKind

	stops   atomic.Int32
	endOnce sync.Once
	ended   chan struct{}

	mu    sync.Mutex
	frame image.Image
	err   error
}

func NewStream(kind domain.MediaKind) *Stream {
	return &Stream{
		Kind:  kind,
		ended: make(chan struct{}),
		frame: Solid(64, 48, color.Gray{Y: 128}),
	}
}

func (s *Stream) Frame(context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.err
}

func (s *Stream) Ended() <-chan struct{} { return s.ended }

func (s *Stream) Stop() {
	s.stops.Add(1)
	s.endOnce.Do(func() { close(s.ended) })
}

// End terminates the stream as if the user revoked the device.
func (s *Stream) End() { s.endOnce.Do(func() { close(s.ended) }) }

// Stops reports how many times Stop was called.
func (s *Stream) Stops() int { return int(s.stops.Load()) }

func (s *Stream) SetFrame(img image.Image, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame, s.err = img, err
}

// Device records every Open call and hands out fresh Streams.
type Device struct {
	mu      sync.Mutex
	opened  map[domain.MediaKind][]*Stream
	errs    map[domain.MediaKind]error
	gate    chan struct{}
	OnOpen  func(kind domain.MediaKind)
	initial map[domain.MediaKind]image.Image
}

func NewDevice() *Device {
	return &Device{
		opened:  make(map[domain.MediaKind][]*Stream),
		errs:    make(map[domain.MediaKind]error),
		initial: make(map[domain.MediaKind]image.Image),
	}
}

// Fail makes every Open of kind return err until cleared with Fail(kind, nil).
func (d *Device) Fail(kind domain.MediaKind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[kind] = err
}

// Hold blocks Open until the returned function is called.
func (d *Device) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetInitialFrame sets the frame new streams of kind start with.
func (d *Device) SetInitialFrame(kind domain.MediaKind, img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initial[kind] = img
}

func (d *Device) Open(ctx context.Context, kind domain.MediaKind) (domain.Stream, error) {
	d.mu.Lock()
	gate := d.gate
	onOpen := d.OnOpen
	d.mu.Unlock()

	if onOpen != nil {
		onOpen(kind)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs[kind]; err != nil {
		return nil, err
	}
	s := NewStream(kind)
	if img, ok := d.initial[kind]; ok {
		s.frame = img
	}
	d.opened[kind] = append(d.opened[kind], s)
	return s, nil
}

// Opens reports how many streams of kind were opened.
func (d *Device) Opens(kind domain.MediaKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened[kind])
}

// Latest returns the most recently opened stream of kind, or nil.
func (d *Device) Latest(kind domain.MediaKind) *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	streams := d.opened[kind]
	if len(streams) == 0 {
		return nil
	}
	return streams[len(streams)-1]
}

// Streams returns every stream of kind opened so far.
func (d *Device) Streams(kind domain.MediaKind) []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.opened[kind]...)
}

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
