package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

func TestStatusFields(t *testing.T) {
	st := domain.Status{
		CaptureID:     "0a1b2c3d-4e5f-6789-abcd-ef0123456789",
		NodeID:        "HB01",
		StartedAt:     time.Date(2024, 4, 8, 18, 0, 0, 0, time.UTC),
		ReportedAt:    time.Date(2024, 4, 8, 18, 5, 0, 0, time.UTC),
		SampleRate:    20,
		GPSFix:        true,
		QueueDepth:    3,
		UploaderAlive: true,
		DeviceState:   "connected",
	}

	fields := statusFields(st)
	if fields["gps_fix"] != "true" || fields["clipping"] != "false" {
		t.Errorf("unexpected flag fields %v", fields)
	}
	if fields["reported_at"] != "2024-04-08T18:05:00Z" {
		t.Errorf("unexpected reported_at %v", fields["reported_at"])
	}
	if fields["queue_depth"] != 3 || fields["device_state"] != "connected" {
		t.Errorf("unexpected fields %v", fields)
	}
	if StatusKey("HB01") != "acquire:status:HB01" {
		t.Errorf("unexpected key %s", StatusKey("HB01"))
	}
}

func TestStatusPublisher_UnavailableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	p := NewStatusPublisher(client, 15*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := p.PublishStatus(context.Background(), domain.Status{NodeID: "HB01"}); err == nil {
		t.Fatal("expected an error when redis is unreachable")
	}
	if p.isAvailable.Load() {
		t.Error("expected publisher to mark redis unavailable")
	}
}
