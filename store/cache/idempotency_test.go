package cache

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestKey(t *testing.T) {
	a := Key("user-a", "req-1")
	assert.True(t, strings.HasPrefix(a, "idem:user-a:"))
	assert.Equal(t, a, Key("user-a", "req-1"))
	assert.NotEqual(t, a, Key("user-b", "req-1"))
	assert.NotEqual(t, a, Key("user-a", "req-2"))
	assert.Len(t, KeyHash("anything"), 16)
}

// testIdempotencyStore runs the shared contract against any implementation.
func testIdempotencyStore(t *testing.T, s IdempotencyStore) {
	ctx := context.Background()

	state, payload, err := s.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StateAcquired, state)
	assert.Nil(t, payload)

	state, _, err = s.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StateInFlight, state)

	require.NoError(t, s.Complete(ctx, "k1", []byte(`{"answer":"ok"}`)))
	state, payload, err = s.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
	assert.JSONEq(t, `{"answer":"ok"}`, string(payload))

	// Release never discards a completed response.
	require.NoError(t, s.Release(ctx, "k1"))
	state, _, err = s.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	state, _, err = s.Acquire(ctx, "k2")
	require.NoError(t, err)
	require.Equal(t, StateAcquired, state)
	require.NoError(t, s.Release(ctx, "k2"))
	state, _, err = s.Acquire(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, StateAcquired, state, "released keys can be claimed again")

	require.NoError(t, s.Release(ctx, "missing"))
}

func TestMemoryIdempotencyStore(t *testing.T) {
	testIdempotencyStore(t, NewMemoryIdempotencyStore(0, 0, 0))
}

func TestMemoryIdempotencyStore_PendingExpires(t *testing.T) {
	s := NewMemoryIdempotencyStore(10, time.Minute, time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }

	state, _, _ := s.Acquire(context.Background(), "k")
	require.Equal(t, StateAcquired, state)

	now = now.Add(2 * time.Minute)
	state, _, _ = s.Acquire(context.Background(), "k")
	assert.Equal(t, StateAcquired, state, "an abandoned claim can be taken over")
}

func TestMemoryIdempotencyStore_SingleWinner(t *testing.T) {
	s := NewMemoryIdempotencyStore(0, 0, 0)

	var mu sync.Mutex
	acquired := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, _, err := s.Acquire(context.Background(), "same")
			assert.NoError(t, err)
			if state == StateAcquired {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}

func TestRedisIdempotencyStore(t *testing.T) {
	addr := getRedisAddr(t)
	ctx := context.Background()

	config := DefaultRedisConfig()
	config.Addr = addr
	config.KeyPrefix = "marketsense-test:" + KeyHash(t.Name()+time.Now().String()) + ":"
	s, err := NewRedisIdempotencyStore(ctx, config)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	testIdempotencyStore(t, s)
}

// getRedisAddr returns REDIS_TEST_ADDR, or starts a redis container when
// MARKETSENSE_TESTCONTAINERS=1. Otherwise the test is skipped.
func getRedisAddr(t *testing.T) string {
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		return addr
	}
	if os.Getenv("MARKETSENSE_TESTCONTAINERS") != "1" {
		t.Skip("set REDIS_TEST_ADDR or MARKETSENSE_TESTCONTAINERS=1 to run redis tests")
	}

	container, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	addr, err := container.Endpoint(t.Context(), "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return addr
}
