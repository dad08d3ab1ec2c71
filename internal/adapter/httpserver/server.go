package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/capture"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/metrics"
	"github.com/sudarshansudarshan/cal-sub001/internal/app"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/config"
)

type appService interface {
	StartSession(ctx context.Context, candidateID string) (app.SessionInfo, error)
	StopSession(ctx context.Context) error
	Status() app.Status
	Permissions(ctx context.Context) map[domain.MediaKind]string
	ListEvidence(ctx context.Context, f app.EvidenceFilter) ([]domain.Snapshot, error)
	DeleteEvidence(ctx context.Context, id int64) error
	ClearEvidence(ctx context.Context) error
}

// sceneController drives the synthetic capture device for demos.
type sceneController interface {
	Scene() capture.Scene
	SetScene(scene capture.Scene)
	End(kind domain.MediaKind)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app          appService
	feedHandler  http.Handler
	healthChecks []HealthCheck
	startTime    time.Time

	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics
	scene          sceneController
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithMetrics serves handler on /metrics and records request metrics with m.
func WithMetrics(handler http.Handler, m *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.metricsHandler = handler
		s.httpMetrics = m
	}
}

// WithScene exposes the synthetic capture scene under /api/scene.
func WithScene(ctrl sceneController) Option {
	return func(s *Server) {
		s.scene = ctrl
	}
}

func NewServer(cfg *config.Config, app appService, feedHandler http.Handler, healthChecks []HealthCheck, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		feedHandler:  feedHandler,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
