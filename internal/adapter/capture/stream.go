// Package capture provides the capture devices the daemon can run with when
// no browser is attached: a synthetic scene renderer and a directory replayer.
package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

// stream adapts a render function to domain.Stream.
type stream struct {
	kind   domain.MediaKind
	render func() (image.Image, error)

	once  sync.Once
	ended chan struct{}
}

func newStream(kind domain.MediaKind, render func() (image.Image, error)) *stream {
	return &stream{kind: kind, render: render, ended: make(chan struct{})}
}

func (s *stream) Frame(ctx context.Context) (image.Image, error) {
	select {
	case <-s.ended:
		return nil, fmt.Errorf("%s stream: %w", s.kind, domain.ErrTrackEnded)
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.render()
}

func (s *stream) Ended() <-chan struct{} { return s.ended }

func (s *stream) Stop() { s.end() }

func (s *stream) done() bool {
	select {
	case <-s.ended:
		return true
	default:
		return false
	}
}

func (s *stream) end() { s.once.Do(func() { close(s.ended) }) }
