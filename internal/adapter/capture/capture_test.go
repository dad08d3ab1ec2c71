package capture

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

func TestSynthetic_RendersScene(t *testing.T) {
	cam := NewSynthetic(120, 90)
	st, err := cam.Open(context.Background(), domain.MediaCamera)
	require.NoError(t, err)

	img, err := st.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 90), img.Bounds())
	assert.Equal(t, SkinTone, color.RGBAModel.Convert(img.At(60, 45)))

	cam.SetScene(Scene{Blurred: true})
	img, err = st.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, img.At(0, 0), img.At(119, 89))
}

func TestSynthetic_PlacesEveryFace(t *testing.T) {
	cam := NewSynthetic(120, 90)
	cam.SetScene(Scene{Faces: 2})
	st, err := cam.Open(context.Background(), domain.MediaCamera)
	require.NoError(t, err)

	img, err := st.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkinTone, color.RGBAModel.Convert(img.At(40, 45)))
	assert.Equal(t, SkinTone, color.RGBAModel.Convert(img.At(80, 45)))
	assert.NotEqual(t, SkinTone, color.RGBAModel.Convert(img.At(60, 45)))
}

func TestSynthetic_EndTerminatesStreams(t *testing.T) {
	cam := NewSynthetic(32, 32)
	st, err := cam.Open(context.Background(), domain.MediaScreen)
	require.NoError(t, err)

	cam.End(domain.MediaScreen)

	select {
	case <-st.Ended():
	default:
		t.Fatal("stream not ended")
	}
	_, err = st.Frame(context.Background())
	assert.ErrorIs(t, err, domain.ErrTrackEnded)
}

func TestStream_StopIsIdempotent(t *testing.T) {
	st, err := NewSynthetic(8, 8).Open(context.Background(), domain.MediaCamera)
	require.NoError(t, err)

	st.Stop()
	st.Stop()

	_, err = st.Frame(context.Background())
	assert.ErrorIs(t, err, domain.ErrTrackEnded)
}

func TestSynthetic_ForgetsStoppedStreams(t *testing.T) {
	cam := NewSynthetic(8, 8)
	for range 5 {
		st, err := cam.Open(context.Background(), domain.MediaCamera)
		require.NoError(t, err)
		st.Stop()
	}
	live, err := cam.Open(context.Background(), domain.MediaCamera)
	require.NoError(t, err)

	cam.mu.Lock()
	tracked := len(cam.streams[domain.MediaCamera])
	cam.mu.Unlock()
	assert.Equal(t, 1, tracked)

	cam.End(domain.MediaCamera)
	select {
	case <-live.Ended():
	default:
		t.Fatal("live stream not ended")
	}
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, png.Encode(f, img))
}

func TestDirectory_ReplaysFramesInOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), color.RGBA{G: 255, A: 255})
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	st, err := NewDirectory(dir).Open(context.Background(), domain.MediaCamera)
	require.NoError(t, err)

	var reds []uint32
	for i := 0; i < 3; i++ {
		img, err := st.Frame(context.Background())
		require.NoError(t, err)
		r, _, _, _ := img.At(0, 0).RGBA()
		reds = append(reds, r>>8)
	}
	assert.Equal(t, []uint32{255, 0, 255}, reds)
}

func TestDirectory_ScreenSubdirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "cam.png"), color.White)

	_, err := NewDirectory(dir).Open(context.Background(), domain.MediaScreen)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "screen"), 0o755))
	writePNG(t, filepath.Join(dir, "screen", "desk.png"), color.Black)

	st, err := NewDirectory(dir).Open(context.Background(), domain.MediaScreen)
	require.NoError(t, err)
	img, err := st.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestDirectory_Errors(t *testing.T) {
	empty := t.TempDir()
	broken := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(broken, "x.png"), []byte("not a png"), 0o600))

	tests := []struct {
		name string
		dir  string
	}{
		{"missing directory", filepath.Join(empty, "nope")},
		{"no frames", empty},
		{"undecodable frame", broken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectory(tt.dir).Open(context.Background(), domain.MediaCamera)
			assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
		})
	}
}
