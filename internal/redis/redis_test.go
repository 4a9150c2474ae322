package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"docrelay/internal/config"
)

func TestSetNXAndDel(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	ok, err := client.SetNX(ctx, "docrelay:test:lock", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "docrelay:test:lock", "1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX should fail: ok=%v err=%v", ok, err)
	}
	if err := client.Del(ctx, "docrelay:test:lock"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := client.Get(ctx, "docrelay:test:lock"); err != ErrCacheMiss {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestPublishSubscribe(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	if err := client.Subscribe(ctx, "docrelay:test:events", func(p string) { got <- p }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Publish(ctx, "docrelay:test:events", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case p := <-got:
		if p != "hello" {
			t.Fatalf("payload = %q", p)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive pubsub message")
	}
}

func TestNilClientReportsNotInitialized(t *testing.T) {
	var c *Client
	if err := c.Set(context.Background(), "k", "v", 0); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if c.Raw() != nil {
		t.Fatalf("nil client should expose nil raw")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
}

// newTestClient connects to TEST_REDIS_ADDR and flushes the selected db.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := testConfig(t)
	client, err := NewRedisClient(cfg)
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

// testConfig builds a redis config from TEST_REDIS_ADDR or skips the test.
func testConfig(t testing.TB) *config.Config {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := config.Default()
	cfg.Redis = config.RedisConfig{Enabled: true, Host: host, Port: port, DB: db}
	return cfg
}
