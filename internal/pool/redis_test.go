package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedisPool connects to a local Redis on a scratch database and
// flushes it before and after the test.
func newTestRedisPool(t *testing.T) *RedisPool {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return NewRedisPool(client)
}

func TestRedisPool(t *testing.T) {
	runPoolContract(t, func(t *testing.T) Pool { return newTestRedisPool(t) })
}

func TestRedisPool_ConcurrentClaim(t *testing.T) {
	p := newTestRedisPool(t)
	ctx := context.Background()
	_ = p.Add(ctx, testParticipant("kim", time.Now(), 30*time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := p.Claim(ctx, "kim", "m"); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winning claim, got %d", wins.Load())
	}
}

func TestEncodeDecodeParticipant_EmptyInterests(t *testing.T) {
	in := testParticipant("max", time.Now().Truncate(time.Millisecond), 45*time.Minute)
	in.Interests = nil
	out := decodeParticipant(in.Username, stringify(encodeParticipant(in)))
	if len(out.Interests) != 0 {
		t.Errorf("interests = %v, want none", out.Interests)
	}
	if out.Duration != 45*time.Minute {
		t.Errorf("duration = %v", out.Duration)
	}
}

func stringify(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.(string)
	}
	return out
}
