package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuditSink receives security events. Record is fire-and-forget: it must
// never block or fail the operation that emitted the event.
type AuditSink interface {
	Record(action, actorType, entityType, entityID string, metadata map[string]any)
}

type AuditEvent struct {
	Action     string         `json:"action"`
	ActorType  string         `json:"actorType"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RedisAuditSink appends events to a capped redis list. Writes happen on a
// detached goroutine with their own timeout so a sink outage cannot stall
// authentication.
type RedisAuditSink struct {
	Redis  *redis.Client
	Logger *slog.Logger
	MaxLen int64
}

func (a *RedisAuditSink) Record(action, actorType, entityType, entityID string, metadata map[string]any) {
	e := AuditEvent{
		Action:     action,
		ActorType:  actorType,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		Timestamp:  time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(e)
		if err != nil {
			return
		}

		pipe := a.Redis.Pipeline()
		pipe.RPush(ctx, "audit", data)
		if a.MaxLen > 0 {
			pipe.LTrim(ctx, "audit", -a.MaxLen, -1)
		}
		if _, err := pipe.Exec(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("audit write failed", "action", action, "error", err)
		}
	}()
}
