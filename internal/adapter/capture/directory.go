package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // frame decoders
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

var frameExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".webp": true}

// Directory replays the images of a directory in name order, one per Frame
// call, looping forever. Screen frames come from the screen subdirectory.
// A missing or empty directory reports the device as unavailable.
type Directory struct {
	dir string
}

func NewDirectory(dir string) *Directory {
	return &Directory{dir: dir}
}

func (d *Directory) Open(ctx context.Context, kind domain.MediaKind) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dir string
	switch kind {
	case domain.MediaCamera:
		dir = d.dir
	case domain.MediaScreen:
		dir = filepath.Join(d.dir, "screen")
	case domain.MediaMicrophone:
		return newStream(kind, func() (image.Image, error) { return nil, nil }), nil
	default:
		return nil, fmt.Errorf("directory %s: %w", kind, domain.ErrDeviceUnavailable)
	}

	frames, err := loadFrames(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s from %s: %w: %w", kind, dir, domain.ErrDeviceUnavailable, err)
	}

	var mu sync.Mutex
	next := 0
	return newStream(kind, func() (image.Image, error) {
		mu.Lock()
		defer mu.Unlock()
		img := frames[next]
		next = (next + 1) % len(frames)
		return img, nil
	}), nil
}

func loadFrames(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && frameExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames: %w", fs.ErrNotExist)
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
