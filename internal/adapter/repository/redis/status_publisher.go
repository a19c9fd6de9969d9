// Package redis publishes daemon status to Redis for remote observers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

const (
	statusKeyPrefix = "acquire:status:"
	statusStreamKey = "acquire:status_log"
	statusStreamLen = 1000
)

// StatusPublisher implements domain.StatusPublisher. Each snapshot overwrites the
// node's status hash and is appended to a capped stream.
type StatusPublisher struct {
	client      *redis.Client
	ttl         time.Duration
	logger      *slog.Logger
	isAvailable atomic.Bool
}

// NewStatusPublisher creates a new StatusPublisher. Hashes expire after ttl so a
// dead node disappears from dashboards.
func NewStatusPublisher(client *redis.Client, ttl time.Duration, logger *slog.Logger) *StatusPublisher {
	p := &StatusPublisher{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "status_publisher"),
	}
	p.isAvailable.Store(true)
	return p
}

// PublishStatus writes st in a single transaction.
func (p *StatusPublisher) PublishStatus(ctx context.Context, st domain.Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := StatusKey(st.NodeID)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, statusFields(st))
		pipe.Expire(ctx, key, p.ttl)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: statusStreamKey,
			MaxLen: statusStreamLen,
			Approx: true,
			Values: map[string]interface{}{"node_id": st.NodeID, "status": payload},
		})
		return nil
	})
	if err != nil {
		if p.isAvailable.CompareAndSwap(true, false) {
			p.logger.Error("Redis connection lost", "error", err)
		}
		return fmt.Errorf("failed to publish status to redis: %w", err)
	}

	if p.isAvailable.CompareAndSwap(false, true) {
		p.logger.Info("Redis connection recovered")
	}
	return nil
}

// StatusKey returns the hash key holding a node's latest status.
func StatusKey(nodeID string) string {
	return statusKeyPrefix + nodeID
}

func statusFields(st domain.Status) map[string]interface{} {
	return map[string]interface{}{
		"capture_id":     st.CaptureID,
		"node_id":        st.NodeID,
		"started_at":     st.StartedAt.Format(time.RFC3339),
		"reported_at":    st.ReportedAt.Format(time.RFC3339),
		"sample_rate":    st.SampleRate,
		"gps_fix":        strconv.FormatBool(st.GPSFix),
		"clipping":       strconv.FormatBool(st.Clipping),
		"lines_written":  st.LinesWritten,
		"records_total":  st.RecordsTotal,
		"rotations":      st.Rotations,
		"queue_depth":    st.QueueDepth,
		"uploader_alive": strconv.FormatBool(st.UploaderAlive),
		"device_state":   st.DeviceState,
	}
}
