package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/badger"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/capture"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/httpserver"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/inference"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/metrics"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/permissions"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/redis"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/sqlite"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/webhook"
	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/websocket"
	"github.com/sudarshansudarshan/cal-sub001/internal/app"
	"github.com/sudarshansudarshan/cal-sub001/internal/dedup"
	"github.com/sudarshansudarshan/cal-sub001/internal/detector"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/evidence"
	"github.com/sudarshansudarshan/cal-sub001/internal/media"
	"github.com/sudarshansudarshan/cal-sub001/internal/permission"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/config"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/logging"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/version"
	"github.com/sudarshansudarshan/cal-sub001/internal/report"
	"github.com/sudarshansudarshan/cal-sub001/internal/scheduler"
)

const (
	syntheticWidth  = 320
	syntheticHeight = 240
	webhookTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// evidenceBackend is a store plus its lifecycle. ping is nil for the in-memory store.
type evidenceBackend struct {
	store domain.EvidenceStore
	ping  func(ctx context.Context) error
	close func() error
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupEvidence(cfg *config.Config) evidenceBackend {
	switch cfg.EvidenceBackend {
	case "sqlite":
		store, err := sqlite.Open(cfg.EvidencePath, cfg.EvidenceCapacity, cfg.EvidenceQuotaBytes)
		if err != nil {
			slog.Error("Failed to open evidence database", "path", cfg.EvidencePath, "error", err)
			os.Exit(1)
		}
		return evidenceBackend{store: store, ping: store.Ping, close: store.Close}
	case "badger":
		store, err := badger.Open(cfg.EvidencePath, cfg.EvidenceCapacity, cfg.EvidenceQuotaBytes)
		if err != nil {
			slog.Error("Failed to open evidence store", "path", cfg.EvidencePath, "error", err)
			os.Exit(1)
		}
		return evidenceBackend{store: store, ping: store.Ping, close: store.Close}
	default:
		slog.Warn("Evidence kept in memory only; snapshots are lost on restart")
		return evidenceBackend{
			store: evidence.NewMemoryStore(cfg.EvidenceCapacity, cfg.EvidenceQuotaBytes),
			close: func() error { return nil },
		}
	}
}

// setupCapture returns the capture device and, for the synthetic device, the
// scene controller exposed on the API.
func setupCapture(cfg *config.Config) (domain.CaptureDevice, *capture.Synthetic) {
	if cfg.CaptureSource == "directory" {
		return capture.NewDirectory(cfg.CaptureDir), nil
	}
	synthetic := capture.NewSynthetic(syntheticWidth, syntheticHeight)
	return synthetic, synthetic
}

func setupPermissions(cfg *config.Config) *permissions.Static {
	provider, err := permissions.NewStatic(map[domain.MediaKind]string{
		domain.MediaCamera:     cfg.PermissionCamera,
		domain.MediaMicrophone: cfg.PermissionMicrophone,
		domain.MediaScreen:     cfg.PermissionScreen,
	})
	if err != nil {
		slog.Error("Invalid permission settings", "error", err)
		os.Exit(1)
	}
	return provider
}

func setupDetectors(cfg *config.Config) []detector.Detector {
	reference, err := cfg.Reference()
	if err != nil {
		slog.Error("Invalid reference descriptor", "error", err)
		os.Exit(1)
	}

	var backends detector.Backends
	if cfg.InferenceURL != "" {
		client := inference.NewClient(cfg.InferenceURL, cfg.InferenceTimeout)
		backends = detector.Backends{Faces: client.Faces(), Hands: client.Hands(), Background: client.Background()}
		slog.Info("Using model server for inference", "url", cfg.InferenceURL)
	} else {
		h := inference.Heuristic{}
		backends = detector.Backends{Faces: h, Hands: h, Background: h}
		slog.Info("Using built-in heuristic inference")
	}

	return detector.Build(detector.Config{
		FaceMatchThreshold: cfg.FaceMatchThreshold,
		Reference:          reference,
		GazeYawLimit:       cfg.GazeYawLimit,
		GazePitchLimit:     cfg.GazePitchLimit,
		BlurThreshold:      cfg.BlurThreshold,
		HandCoverageLimit:  cfg.HandCoverageLimit,
		VirtualBGThreshold: cfg.VirtualBGThreshold,
		FaceMatchCadence:   cfg.FaceMatchCadence,
		MultiPersonCadence: cfg.MultiPersonCadence,
		GazeCadence:        cfg.GazeCadence,
		BlurCadence:        cfg.BlurCadence,
		VirtualBGCadence:   cfg.VirtualBGCadence,
		ScreenCadence:      cfg.ScreenCadence,
		ScreenShareEnabled: cfg.ScreenShareEnabled,
	}, backends)
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, svc *app.Service, sched *scheduler.Scheduler, reporters *report.Fanout, hub *websocket.Hub, stopTicker context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Release the devices before anything else goes away.
		svc.Shutdown(shutdownCtx)
		stopTicker()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		sched.Close()
		// Deliver what is still queued before the feed goes away.
		reporters.Close()
		hub.Close()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port)

	backend := setupEvidence(cfg)
	defer func() {
		if err := backend.close(); err != nil {
			slog.Error("Failed to close evidence store", "error", err)
		}
	}()

	device, synthetic := setupCapture(cfg)
	manager := media.NewManager(device)
	gate := permission.NewGate(setupPermissions(cfg), manager)
	detectors := setupDetectors(cfg)
	deduplicator := dedup.New(cfg.DedupCooldown)

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	wsMetrics := metrics.NewWebSocketMetrics(reg)

	limits := websocket.NewConnectionLimits(cfg.FeedMaxConnections, cfg.FeedMaxPerIP, cfg.FeedConnectRate, cfg.FeedConnectBurst)
	hub := websocket.NewHub(websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()), wsMetrics, limits)
	reporters := report.NewFanout(hub)

	var healthChecks []httpserver.HealthCheck
	if backend.ping != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "evidence", Check: backend.ping})
	}

	if cfg.RedisURL != "" {
		redisClient := setupRedis(context.Background(), cfg)
		defer func() { _ = redisClient.Close() }()

		reporters.Add(redis.NewReporter(redisClient, cfg.ReportStream))
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if cfg.ReportWebhookURL != "" {
		reporters.Add(webhook.NewReporter(cfg.ReportWebhookURL, webhookTimeout))
	}
	slog.Info("Reporters configured", "count", reporters.Len())

	var svc *app.Service
	sched := scheduler.New(scheduler.Config{
		Detectors: detectors,
		Gate:      gate,
		Dedup:     deduplicator,
		Store:     backend.store,
		Reporter:  reporters,
		Clock:     clock,
		OnBlocked: func(err error) { svc.OnBlocked(err) },
		OnPhaseChange: func(name string, phase domain.DetectorPhase) {
			_ = hub.Broadcast("phase", map[string]string{"detector": name, "phase": string(phase)})
		},
	})
	manager.OnTrackEnded(sched.TrackEnded)

	svc = app.NewService(sched, gate, deduplicator, backend.store, detectors, clock)

	tickerCtx, stopTicker := context.WithCancel(context.Background())
	go app.NewStatusTicker(svc, hub, clock).Run(tickerCtx)

	opts := []httpserver.Option{
		httpserver.WithMetrics(metrics.Handler(reg, prometheus.DefaultGatherer), httpMetrics),
	}
	if synthetic != nil {
		opts = append(opts, httpserver.WithScene(synthetic))
	}
	srv := httpserver.NewServer(cfg, svc, hub, healthChecks, opts...)

	done := runGracefulShutdown(srv, svc, sched, reporters, hub, stopTicker)

	slog.Info("Server starting", "port", cfg.Port, "detectors", len(detectors), "evidence", cfg.EvidenceBackend, "capture", cfg.CaptureSource)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
