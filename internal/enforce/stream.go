package enforce

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// SnapshotPublisher forwards serialized snapshots, e.g. to a Kafka topic.
type SnapshotPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// SnapshotEvent is the record published for every consent notification.
type SnapshotEvent struct {
	InstanceID string          `json:"instanceId"`
	Consent    map[string]bool `json:"consent"`
	At         int64           `json:"at"`
}

// PublishSnapshots returns a Handler that publishes each snapshot keyed by
// the coordinator's instance id. Publish failures are logged and dropped.
func PublishSnapshots(c *Coordinator, pub SnapshotPublisher, timeout time.Duration, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(snapshot map[string]bool) {
		value, err := json.Marshal(SnapshotEvent{
			InstanceID: c.InstanceID(),
			Consent:    snapshot,
			At:         c.now().UnixMilli(),
		})
		if err != nil {
			logger.Error("encode consent snapshot", "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := pub.Publish(ctx, c.InstanceID(), value); err != nil {
			logger.Warn("consent snapshot not published", "error", err)
		}
	}
}
