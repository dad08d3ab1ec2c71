package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/capture"
	"github.com/sudarshansudarshan/cal-sub001/internal/app"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/config"
	"github.com/sudarshansudarshan/cal-sub001/internal/scheduler"
)

// --- Mock implementations ---

type mockAppService struct {
	startSessionFn   func(ctx context.Context, candidateID string) (app.SessionInfo, error)
	stopSessionFn    func(ctx context.Context) error
	statusFn         func() app.Status
	permissionsFn    func(ctx context.Context) map[domain.MediaKind]string
	listEvidenceFn   func(ctx context.Context, f app.EvidenceFilter) ([]domain.Snapshot, error)
	deleteEvidenceFn func(ctx context.Context, id int64) error
	clearEvidenceFn  func(ctx context.Context) error
}

func (m *mockAppService) StartSession(ctx context.Context, candidateID string) (app.SessionInfo, error) {
	if m.startSessionFn != nil {
		return m.startSessionFn(ctx, candidateID)
	}
	return app.SessionInfo{ID: "session-1", CandidateID: candidateID}, nil
}

func (m *mockAppService) StopSession(ctx context.Context) error {
	if m.stopSessionFn != nil {
		return m.stopSessionFn(ctx)
	}
	return nil
}

func (m *mockAppService) Status() app.Status {
	if m.statusFn != nil {
		return m.statusFn()
	}
	return app.Status{State: scheduler.StateStopped}
}

func (m *mockAppService) Permissions(ctx context.Context) map[domain.MediaKind]string {
	if m.permissionsFn != nil {
		return m.permissionsFn(ctx)
	}
	return map[domain.MediaKind]string{}
}

func (m *mockAppService) ListEvidence(ctx context.Context, f app.EvidenceFilter) ([]domain.Snapshot, error) {
	if m.listEvidenceFn != nil {
		return m.listEvidenceFn(ctx, f)
	}
	return []domain.Snapshot{}, nil
}

func (m *mockAppService) DeleteEvidence(ctx context.Context, id int64) error {
	if m.deleteEvidenceFn != nil {
		return m.deleteEvidenceFn(ctx, id)
	}
	return nil
}

func (m *mockAppService) ClearEvidence(ctx context.Context) error {
	if m.clearEvidenceFn != nil {
		return m.clearEvidenceFn(ctx)
	}
	return nil
}

type mockScene struct {
	scene capture.Scene
	ended []domain.MediaKind
}

func (m *mockScene) Scene() capture.Scene         { return m.scene }
func (m *mockScene) SetScene(scene capture.Scene) { m.scene = scene }
func (m *mockScene) End(kind domain.MediaKind)    { m.ended = append(m.ended, kind) }

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{Port: "0", APIRateLimit: 100, APIRateBurst: 100}
}

func newTestServer(t *testing.T, app appService, opts ...Option) *Server {
	t.Helper()
	return NewServer(testConfig(), app, nil, nil, opts...)
}

func withHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withFeed(h http.Handler) Option {
	return func(s *Server) {
		s.feedHandler = h
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}
