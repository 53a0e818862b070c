package quota_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/outreach/control-plane/internal/quota"
	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

var monday = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

// counters returns every backend available in this environment. Redis runs
// only when OUTREACH_TEST_REDIS_ADDR points at a server.
func counters(t *testing.T) map[string]contracts.CallCounter {
	t.Helper()
	out := map[string]contracts.CallCounter{"memory": quota.NewMemoryCounter()}
	if addr := os.Getenv("OUTREACH_TEST_REDIS_ADDR"); addr != "" {
		rc := quota.NewRedisCounter(addr, "", 0)
		require.NoError(t, rc.Ping(context.Background()))
		t.Cleanup(func() { rc.Close() })
		out["redis"] = rc
	}
	return out
}

func TestTryIncrementStopsAtCap(t *testing.T) {
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agent := uuid.NewString()

			for i := 1; i <= 3; i++ {
				n, err := c.TryIncrement(ctx, agent, monday, 3)
				require.NoError(t, err)
				assert.Equal(t, i, n)
			}
			n, err := c.TryIncrement(ctx, agent, monday, 3)
			assert.ErrorIs(t, err, models.ErrQuotaExceeded)
			assert.Equal(t, 3, n)

			count, err := c.Count(ctx, agent, monday)
			require.NoError(t, err)
			assert.Equal(t, 3, count)
		})
	}
}

func TestNewDayResets(t *testing.T) {
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agent := uuid.NewString()

			_, err := c.TryIncrement(ctx, agent, monday, 1)
			require.NoError(t, err)
			_, err = c.TryIncrement(ctx, agent, monday, 1)
			require.ErrorIs(t, err, models.ErrQuotaExceeded)

			n, err := c.TryIncrement(ctx, agent, monday.AddDate(0, 0, 1), 1)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestZeroCapRejectsEverything(t *testing.T) {
	c := quota.NewMemoryCounter()
	_, err := c.TryIncrement(context.Background(), "a1", monday, 0)
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)
}

func TestAgentsAreIndependent(t *testing.T) {
	c := quota.NewMemoryCounter()
	ctx := context.Background()
	_, err := c.TryIncrement(ctx, "a1", monday, 1)
	require.NoError(t, err)
	_, err = c.TryIncrement(ctx, "a2", monday, 1)
	require.NoError(t, err)
}

func TestConcurrentIncrementsNeverExceedCap(t *testing.T) {
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agent := uuid.NewString()
			const max = 5

			var granted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.TryIncrement(ctx, agent, monday, max); err == nil {
						granted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(max), granted.Load())
			n, err := c.Count(ctx, agent, monday)
			require.NoError(t, err)
			assert.Equal(t, max, n)
		})
	}
}

func TestReleaseReturnsSlot(t *testing.T) {
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agent := uuid.NewString()

			_, err := c.TryIncrement(ctx, agent, monday, 1)
			require.NoError(t, err)
			_, err = c.TryIncrement(ctx, agent, monday, 1)
			require.ErrorIs(t, err, models.ErrQuotaExceeded)

			require.NoError(t, c.Release(ctx, agent, monday))
			n, err := c.TryIncrement(ctx, agent, monday, 1)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			// Releasing an empty day is a no-op.
			other := uuid.NewString()
			require.NoError(t, c.Release(ctx, other, monday))
			require.NoError(t, c.Release(ctx, other, monday))
			count, err := c.Count(ctx, other, monday)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}
