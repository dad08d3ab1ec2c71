package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	// AppURL is the public origin of the proctor dashboard, checked on feed upgrades.
	AppURL string `env:"APP_URL" default:"http://localhost:8080"`

	EvidenceBackend    string `env:"EVIDENCE_BACKEND" default:"sqlite"`
	EvidencePath       string `env:"EVIDENCE_PATH" default:"data/evidence.db"`
	EvidenceCapacity   int    `env:"EVIDENCE_CAPACITY" default:"20"`
	EvidenceQuotaBytes int64  `env:"EVIDENCE_QUOTA_BYTES" default:"0"`

	RedisURL         string `env:"REDIS_URL"`
	ReportStream     string `env:"REPORT_STREAM" default:"proctor:anomalies"`
	ReportWebhookURL string `env:"REPORT_WEBHOOK_URL"`

	InferenceURL     string        `env:"INFERENCE_URL"`
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT" default:"3s"`

	CaptureSource string `env:"CAPTURE_SOURCE" default:"synthetic"`
	CaptureDir    string `env:"CAPTURE_DIR"`

	PermissionCamera     string `env:"PERMISSION_CAMERA" default:"prompt"`
	PermissionMicrophone string `env:"PERMISSION_MICROPHONE" default:"prompt"`
	PermissionScreen     string `env:"PERMISSION_SCREEN" default:"prompt"`

	FaceMatchThreshold  float64 `env:"FACE_MATCH_THRESHOLD" default:"0.6"`
	BlurThreshold       float64 `env:"BLUR_THRESHOLD" default:"250"`
	HandCoverageLimit   float64 `env:"HAND_COVERAGE_LIMIT" default:"0.3"`
	VirtualBGThreshold  float64 `env:"VIRTUAL_BG_THRESHOLD" default:"0.5"`
	GazeYawLimit        float64 `env:"GAZE_YAW_LIMIT" default:"30"`
	GazePitchLimit      float64 `env:"GAZE_PITCH_LIMIT" default:"20"`
	ReferenceDescriptor string  `env:"REFERENCE_DESCRIPTOR"`

	FaceMatchCadence   time.Duration `env:"FACE_MATCH_CADENCE" default:"1s"`
	MultiPersonCadence time.Duration `env:"MULTI_PERSON_CADENCE" default:"200ms"`
	GazeCadence        time.Duration `env:"GAZE_CADENCE" default:"500ms"`
	BlurCadence        time.Duration `env:"BLUR_CADENCE" default:"100ms"`
	VirtualBGCadence   time.Duration `env:"VIRTUAL_BG_CADENCE" default:"5s"`
	ScreenCadence      time.Duration `env:"SCREEN_CADENCE" default:"2s"`
	ScreenShareEnabled bool          `env:"SCREEN_SHARE_ENABLED" default:"true"`

	DedupCooldown time.Duration `env:"DEDUP_COOLDOWN" default:"0s"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"10"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"20"`

	FeedMaxConnections int     `env:"FEED_MAX_CONNECTIONS" default:"100"`
	FeedMaxPerIP       int     `env:"FEED_MAX_PER_IP" default:"10"`
	FeedConnectRate    float64 `env:"FEED_CONNECT_RATE" default:"5"`
	FeedConnectBurst   int     `env:"FEED_CONNECT_BURST" default:"10"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Reference parses REFERENCE_DESCRIPTOR into the enrolled face descriptor.
// An empty value yields a nil descriptor, which disables face matching.
func (c *Config) Reference() ([]float64, error) {
	if strings.TrimSpace(c.ReferenceDescriptor) == "" {
		return nil, nil
	}
	parts := strings.Split(c.ReferenceDescriptor, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("REFERENCE_DESCRIPTOR: invalid value %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

var permissionValues = map[string]bool{"granted": true, "denied": true, "unavailable": true, "prompt": true}

func validate(cfg *Config) error {
	switch cfg.EvidenceBackend {
	case "memory":
	case "sqlite", "badger":
		if cfg.EvidencePath == "" {
			return fmt.Errorf("EVIDENCE_PATH is required for backend %s", cfg.EvidenceBackend)
		}
	default:
		return fmt.Errorf("EVIDENCE_BACKEND must be one of memory, sqlite, badger, got %q", cfg.EvidenceBackend)
	}

	if cfg.EvidenceCapacity < 1 {
		return errors.New("EVIDENCE_CAPACITY must be at least 1")
	}
	if cfg.EvidenceQuotaBytes < 0 {
		return errors.New("EVIDENCE_QUOTA_BYTES must not be negative")
	}

	switch cfg.CaptureSource {
	case "synthetic":
	case "directory":
		if cfg.CaptureDir == "" {
			return errors.New("CAPTURE_DIR is required when CAPTURE_SOURCE=directory")
		}
	default:
		return fmt.Errorf("CAPTURE_SOURCE must be synthetic or directory, got %q", cfg.CaptureSource)
	}

	perms := map[string]string{
		"PERMISSION_CAMERA":     cfg.PermissionCamera,
		"PERMISSION_MICROPHONE": cfg.PermissionMicrophone,
		"PERMISSION_SCREEN":     cfg.PermissionScreen,
	}
	for name, value := range perms {
		if !permissionValues[value] {
			return fmt.Errorf("%s must be one of granted, denied, unavailable, prompt, got %q", name, value)
		}
	}

	if cfg.FaceMatchThreshold <= 0 {
		return errors.New("FACE_MATCH_THRESHOLD must be positive")
	}
	if cfg.VirtualBGThreshold <= 0 || cfg.VirtualBGThreshold > 1 {
		return errors.New("VIRTUAL_BG_THRESHOLD must be in (0, 1]")
	}
	if cfg.HandCoverageLimit <= 0 || cfg.HandCoverageLimit > 1 {
		return errors.New("HAND_COVERAGE_LIMIT must be in (0, 1]")
	}

	limits := map[string]float64{
		"BLUR_THRESHOLD":   cfg.BlurThreshold,
		"GAZE_YAW_LIMIT":   cfg.GazeYawLimit,
		"GAZE_PITCH_LIMIT": cfg.GazePitchLimit,
	}
	for name, v := range limits {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	cadences := map[string]time.Duration{
		"FACE_MATCH_CADENCE":   cfg.FaceMatchCadence,
		"MULTI_PERSON_CADENCE": cfg.MultiPersonCadence,
		"GAZE_CADENCE":         cfg.GazeCadence,
		"BLUR_CADENCE":         cfg.BlurCadence,
		"VIRTUAL_BG_CADENCE":   cfg.VirtualBGCadence,
		"SCREEN_CADENCE":       cfg.ScreenCadence,
	}
	for name, d := range cadences {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.FeedMaxConnections < 1 || cfg.FeedMaxPerIP < 1 {
		return errors.New("FEED_MAX_CONNECTIONS and FEED_MAX_PER_IP must be at least 1")
	}
	if cfg.FeedConnectRate <= 0 || cfg.FeedConnectBurst < 1 {
		return errors.New("FEED_CONNECT_RATE must be positive and FEED_CONNECT_BURST at least 1")
	}

	if _, err := cfg.Reference(); err != nil {
		return err
	}

	return nil
}
