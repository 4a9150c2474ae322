package workspace

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"docrelay/internal/config"
	"docrelay/internal/models"
	"docrelay/internal/redis"
)

func TestRedisLockSpansManagers(t *testing.T) {
	client := newRedisClient(t)
	a := NewManager(client, time.Minute)
	b := NewManager(client, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.Run(context.Background(), "shared", pdfJob("a.pdf"), func(ctx context.Context, job *models.UploadJob) *models.RelayResult {
			close(started)
			<-release
			return models.TextResult("ok", false)
		})
	}()
	<-started

	if _, err := b.Run(context.Background(), "shared", pdfJob("b.pdf"), nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from second replica, got %v", err)
	}
	if snap := b.Snapshot("shared"); snap.State != StateIdle {
		t.Fatalf("refused replica should stay idle, got %s", snap.State)
	}
	close(release)
	<-done

	if _, err := b.Run(context.Background(), "shared", pdfJob("c.pdf"), func(ctx context.Context, job *models.UploadJob) *models.RelayResult {
		return models.TextResult("ok", false)
	}); err != nil {
		t.Fatalf("lock should be released: %v", err)
	}
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed workspace tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	cfg := config.Default()
	cfg.Redis = config.RedisConfig{Enabled: true, Host: host, Port: port}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
