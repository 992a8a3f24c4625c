package redis

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"attendance_bot/internal/repository/kvtest"
)

func TestKVRepository(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	prefix := "kvtest:" + t.Name() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := NewKVRepository(client).Keys(ctx, prefix)
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	kvtest.Run(t, NewKVRepository(client), prefix)
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Errorf("escapeGlob = %q", got)
	}
}
