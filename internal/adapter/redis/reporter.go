package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
	"github.com/sudarshansudarshan/cal-sub001/internal/evidence"
	"github.com/sudarshansudarshan/cal-sub001/internal/platform/correlation"
)

const defaultStreamMaxLen = 10_000

// notice is the image-free message published for live subscribers.
type notice struct {
	EventID     string `json:"eventId"`
	SessionID   string `json:"sessionId,omitempty"`
	SnapshotID  int64  `json:"snapshotId"`
	AnomalyType string `json:"anomalyType"`
	Timestamp   string `json:"timestamp"`
}

// Reporter appends every accepted snapshot to a capped stream and announces
// it on a pub/sub channel of the same name, both in one transaction.
type Reporter struct {
	rdb    goredis.Cmdable
	stream string
	maxLen int64
}

func NewReporter(rdb goredis.Cmdable, stream string) *Reporter {
	return &Reporter{rdb: rdb, stream: stream, maxLen: defaultStreamMaxLen}
}

func (r *Reporter) Name() string { return "redis" }

func (r *Reporter) OnAnomalyAccepted(ctx context.Context, snap domain.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	sessionID, _ := correlation.Session(ctx)
	n := notice{
		EventID:     uuid.NewString(),
		SessionID:   sessionID,
		SnapshotID:  snap.ID,
		AnomalyType: string(snap.AnomalyType),
		Timestamp:   evidence.FormatTime(snap.Timestamp),
	}
	announce, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":     n.EventID,
			"session_id":   n.SessionID,
			"anomaly_type": n.AnomalyType,
			"timestamp":    n.Timestamp,
			"snapshot":     body,
		},
	})
	pipe.Publish(ctx, r.stream, announce)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("report snapshot %d: %w", snap.ID, err)
	}
	return nil
}
