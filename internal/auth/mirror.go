package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"docrelay/internal/models"
	"docrelay/internal/redis"

	"github.com/google/uuid"
)

const (
	sessionKeyPrefix    = "docrelay:session:"
	invalidationChannel = "docrelay:session:invalidate"
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Origin    string `json:"origin"`
}

// sessionMirror copies sessions into redis with a TTL equal to the idle
// window and broadcasts session ends. A nil mirror is a no-op.
type sessionMirror struct {
	client *redis.Client
	ttl    time.Duration
	origin string
}

func newSessionMirror(client *redis.Client, ttl time.Duration) *sessionMirror {
	return &sessionMirror{client: client, ttl: ttl, origin: uuid.NewString()}
}

func (m *sessionMirror) store(ctx context.Context, session *models.Session) {
	if m == nil || session == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		slog.Error("marshal session for redis", "error", err)
		return
	}
	if err := m.client.Set(ctx, sessionKeyPrefix+session.ID, data, m.ttl); err != nil {
		slog.Warn("mirror session to redis failed", "sessionId", session.ID, "error", err)
	}
}

func (m *sessionMirror) load(ctx context.Context, id string) (*models.Session, bool) {
	if m == nil {
		return nil, false
	}
	raw, err := m.client.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		if err != redis.ErrCacheMiss {
			slog.Warn("load session from redis failed", "sessionId", id, "error", err)
		}
		return nil, false
	}
	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		slog.Warn("decode session from redis failed", "sessionId", id, "error", err)
		return nil, false
	}
	return &session, true
}

func (m *sessionMirror) remove(ctx context.Context, id, reason string) {
	if m == nil {
		return
	}
	if err := m.client.Del(ctx, sessionKeyPrefix+id); err != nil && err != redis.ErrCacheMiss {
		slog.Warn("delete session from redis failed", "sessionId", id, "error", err)
	}
	payload, err := json.Marshal(invalidateMessage{SessionID: id, Reason: reason, Origin: m.origin})
	if err != nil {
		return
	}
	if err := m.client.Publish(ctx, invalidationChannel, payload); err != nil {
		slog.Warn("publish session invalidation failed", "sessionId", id, "error", err)
	}
}

// listen hands invalidations from other replicas to handler.
func (m *sessionMirror) listen(ctx context.Context, handler func(id, reason string)) error {
	if m == nil {
		return nil
	}
	return m.client.Subscribe(ctx, invalidationChannel, func(payload string) {
		var msg invalidateMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			slog.Warn("session invalidation decode failed", "error", err)
			return
		}
		if msg.Origin == m.origin || msg.SessionID == "" {
			return
		}
		handler(msg.SessionID, msg.Reason)
	})
}
