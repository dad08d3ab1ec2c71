// Package webhook reports accepted anomalies to an HTTP endpoint of the
// progress backend.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/breaker"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/correlation"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/retry"
)

type payload struct {
	EventID   string          `json:"eventId"`
	SessionID string          `json:"sessionId,omitempty"`
	Snapshot  domain.Snapshot `json:"snapshot"`
}

type Reporter struct {
	url    string
	client *http.Client
	policy retry.Policy
	cb     *gobreaker.CircuitBreaker
}

func NewReporter(url string, timeout time.Duration) *Reporter {
	s := breaker.Defaults("webhook")
	// client errors are our fault, not the endpoint's
	s.IsSuccessful = func(err error) bool { return err == nil || retry.ClassifyHTTP(err) == retry.Stop }

	return &Reporter{
		url:    url,
		client: &http.Client{Timeout: timeout},
		policy: retry.Policy{
			MaxAttempts:      4,
			InitialBackoff:   250 * time.Millisecond,
			RateLimitBackoff: 2 * time.Second,
			MaxBackoff:       5 * time.Second,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Debug("Retrying anomaly webhook", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
		cb: breaker.New(s),
	}
}

func (r *Reporter) Name() string { return "webhook" }

func (r *Reporter) OnAnomalyAccepted(ctx context.Context, snap domain.Snapshot) error {
	sessionID, _ := correlation.Session(ctx)
	eventID := uuid.NewString()
	body, err := json.Marshal(payload{EventID: eventID, SessionID: sessionID, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	err = retry.DoVoid(ctx, r.policy, classify, func(ctx context.Context) error {
		_, err := r.cb.Execute(func() (any, error) {
			return nil, r.post(ctx, eventID, body)
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("webhook report of snapshot %d: %w", snap.ID, err)
	}
	return nil
}

func (r *Reporter) post(ctx context.Context, eventID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", eventID)
	if id, ok := correlation.ID(ctx); ok {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &retry.StatusError{Code: resp.StatusCode}
	}
	return nil
}

// classify never retries into an open breaker.
func classify(err error) retry.Action {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.Stop
	}
	return retry.ClassifyHTTP(err)
}
