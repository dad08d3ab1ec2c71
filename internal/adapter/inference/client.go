// Package inference provides the face, hand and background model backends:
// an HTTP client for an external model server and a built-in heuristic
// fallback for demos.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/correlation"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/retry"
)

// Client talks to a model server. Frames are posted as JPEG bodies.
type Client struct {
	baseURL string
	http    *http.Client
	policy  retry.Policy
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		policy: retry.Policy{
			MaxAttempts:      2,
			InitialBackoff:   50 * time.Millisecond,
			RateLimitBackoff: 200 * time.Millisecond,
			MaxBackoff:       200 * time.Millisecond,
		},
	}
}

func (c *Client) Faces() *FaceModel            { return &FaceModel{c: c} }
func (c *Client) Hands() *HandModel            { return &HandModel{c: c} }
func (c *Client) Background() *BackgroundModel { return &BackgroundModel{c: c} }

// load checks that the server has the named model ready.
func (c *Client) load(ctx context.Context, model string) error {
	return retry.DoVoid(ctx, c.policy, retry.ClassifyHTTP, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models/"+model, nil)
		if err != nil {
			return &retry.PermanentError{Err: err}
		}
		return c.do(req, nil)
	})
}

func (c *Client) infer(ctx context.Context, path string, img image.Image, out any) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	body := buf.Bytes()

	return retry.DoVoid(ctx, c.policy, retry.ClassifyHTTP, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "image/jpeg")
		return c.do(req, out)
	})
}

func (c *Client) do(req *http.Request, out any) error {
	if id, ok := correlation.ID(req.Context()); ok {
		req.Header.Set("X-Correlation-ID", id)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &retry.StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

type wireFace struct {
	Box        [4]int    `json:"box"`
	Descriptor []float64 `json:"descriptor"`
	Yaw        float64   `json:"yaw"`
	Pitch      float64   `json:"pitch"`
	Score      float64   `json:"score"`
}

type FaceModel struct{ c *Client }

var _ domain.FaceAnalyzer = (*FaceModel)(nil)

func (m *FaceModel) Load(ctx context.Context) error { return m.c.load(ctx, "faces") }

func (m *FaceModel) DetectFaces(ctx context.Context, img image.Image) ([]domain.Face, error) {
	var resp struct {
		Faces []wireFace `json:"faces"`
	}
	if err := m.c.infer(ctx, "/v1/faces", img, &resp); err != nil {
		return nil, err
	}

	faces := make([]domain.Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		faces = append(faces, domain.Face{
			Box:        image.Rect(f.Box[0], f.Box[1], f.Box[2], f.Box[3]),
			Descriptor: f.Descriptor,
			Yaw:        f.Yaw,
			Pitch:      f.Pitch,
			Score:      f.Score,
		})
	}
	return faces, nil
}

type HandModel struct{ c *Client }

var _ domain.HandDetector = (*HandModel)(nil)

func (m *HandModel) Load(ctx context.Context) error { return m.c.load(ctx, "hands") }

func (m *HandModel) HandCoverage(ctx context.Context, img image.Image) (float64, error) {
	var resp struct {
		Coverage float64 `json:"coverage"`
	}
	if err := m.c.infer(ctx, "/v1/hands", img, &resp); err != nil {
		return 0, err
	}
	return resp.Coverage, nil
}

type BackgroundModel struct{ c *Client }

var _ domain.BackgroundClassifier = (*BackgroundModel)(nil)

func (m *BackgroundModel) Load(ctx context.Context) error { return m.c.load(ctx, "background") }

func (m *BackgroundModel) VirtualBackgroundProbability(ctx context.Context, img image.Image) (float64, error) {
	var resp struct {
		Probability float64 `json:"probability"`
	}
	if err := m.c.infer(ctx, "/v1/background", img, &resp); err != nil {
		return 0, err
	}
	return resp.Probability, nil
}
