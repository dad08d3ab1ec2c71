package domain

import (
	"context"
	"time"
)

// Snapshot is a persisted evidence record. Never mutated after creation.
type Snapshot struct {
	ID          int64       `json:"id"`
	Image       string      `json:"image"`      // data URL of the camera frame
	Screenshot  string      `json:"screenshot"` // data URL of the screen capture
	AnomalyType AnomalyType `json:"anomalyType"`
	Timestamp   time.Time   `json:"timestamp"`
}

// EvidenceStore is the bounded, durable snapshot store.
type EvidenceStore interface {
	// Save assigns the next id, persists the snapshot and evicts the oldest entry
	// beyond capacity. Returns ErrStorageQuotaExceeded when the write does not fit.
	Save(ctx context.Context, snap Snapshot) (int64, error)
	GetAll(ctx context.Context) ([]Snapshot, error)
	// DeleteByID is a no-op when the id does not exist.
	DeleteByID(ctx context.Context, id int64) error
	Clear(ctx context.Context) error

	ListByType(ctx context.Context, anomalyType AnomalyType) ([]Snapshot, error)
	ListSince(ctx context.Context, since time.Time) ([]Snapshot, error)
}

// Reporter is notified of every accepted and persisted anomaly.
type Reporter interface {
	OnAnomalyAccepted(ctx context.Context, snap Snapshot) error
}
