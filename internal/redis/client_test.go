package redis

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/elga-io/corgi/internal/config"
)

func TestOpenUnreachable(t *testing.T) {
	_, err := Open(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1", PoolSize: 1})
	if err == nil {
		t.Fatal("Open() error = nil, want connection failure")
	}
	if !strings.Contains(err.Error(), "127.0.0.1:1") {
		t.Errorf("error %q does not name the address", err)
	}
}

// Runs against a real Redis when REDIS_TEST_ADDR is set.
func TestStats(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	c, err := Open(ctx, config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	if err := c.Check(ctx); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	st := c.Stats(ctx)
	if st.Addr != addr || st.Keys == nil {
		t.Errorf("Stats() = %+v", st)
	}
	if st.Pool.TotalConns == 0 {
		t.Error("pool reports no connections after a ping")
	}
}
