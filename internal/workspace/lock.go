package workspace

import (
	"context"
	"log/slog"
	"time"

	"docrelay/internal/redis"
)

const uploadLockPrefix = "docrelay:upload:"

// uploadLock guards the one-upload-per-session rule across replicas.
// A nil lock always grants.
type uploadLock struct {
	client *redis.Client
	ttl    time.Duration
}

func newUploadLock(client *redis.Client, ttl time.Duration) *uploadLock {
	if client == nil {
		return nil
	}
	return &uploadLock{client: client, ttl: ttl}
}

// acquire reports false only when another holder owns the lock. Redis
// failures fall back to the in-process guard.
func (l *uploadLock) acquire(ctx context.Context, sessionID string) bool {
	if l == nil {
		return true
	}
	ok, err := l.client.SetNX(ctx, uploadLockPrefix+sessionID, time.Now().UTC().Format(time.RFC3339), l.ttl)
	if err != nil {
		slog.Warn("upload lock unavailable, using local guard only", "sessionId", sessionID, "error", err)
		return true
	}
	return ok
}

func (l *uploadLock) release(ctx context.Context, sessionID string) {
	if l == nil {
		return
	}
	if err := l.client.Del(ctx, uploadLockPrefix+sessionID); err != nil && err != redis.ErrCacheMiss {
		slog.Warn("release upload lock failed", "sessionId", sessionID, "error", err)
	}
}
