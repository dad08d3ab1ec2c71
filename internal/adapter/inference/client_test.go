package inference

import (
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/", time.Second)
	c.policy.InitialBackoff = time.Millisecond
	c.policy.MaxBackoff = time.Millisecond
	return c
}

func TestClient_DetectFaces(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/faces", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		_, err := jpeg.Decode(r.Body)
		assert.NoError(t, err)
		_, _ = w.Write([]byte(`{"faces":[{"box":[1,2,11,22],"descriptor":[0.1,0.2],"yaw":12.5,"pitch":-3,"score":0.97}]}`))
	})

	faces, err := c.Faces().DetectFaces(context.Background(), checkerFrame(32, 32))

	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, image.Rect(1, 2, 11, 22), faces[0].Box)
	assert.Equal(t, []float64{0.1, 0.2}, faces[0].Descriptor)
	assert.InDelta(t, 12.5, faces[0].Yaw, 0.0001)
	assert.InDelta(t, 0.97, faces[0].Score, 0.0001)
}

func TestClient_HandsAndBackground(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/hands":
			_, _ = w.Write([]byte(`{"coverage":0.42}`))
		case "/v1/background":
			_, _ = w.Write([]byte(`{"probability":0.81}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	coverage, err := c.Hands().HandCoverage(context.Background(), checkerFrame(8, 8))
	require.NoError(t, err)
	assert.InDelta(t, 0.42, coverage, 0.0001)

	p, err := c.Background().VirtualBackgroundProbability(context.Background(), checkerFrame(8, 8))
	require.NoError(t, err)
	assert.InDelta(t, 0.81, p, 0.0001)
}

func TestClient_Load(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models/faces" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, c.Faces().Load(context.Background()))
	assert.Error(t, c.Hands().Load(context.Background()))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"coverage":0.1}`))
	})

	coverage, err := c.Hands().HandCoverage(context.Background(), checkerFrame(8, 8))

	require.NoError(t, err)
	assert.InDelta(t, 0.1, coverage, 0.0001)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_BadResponse(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := c.Background().VirtualBackgroundProbability(context.Background(), checkerFrame(8, 8))

	assert.ErrorContains(t, err, "decode /v1/background response")
}
