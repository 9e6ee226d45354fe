package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentbus/resilience/circuitbreaker"
	"github.com/BaSui01/agentbus/types"
)

func TestBreakerStateStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	states := store.BreakerStates()

	now := time.Now().UTC().Truncate(time.Second)
	snap := circuitbreaker.Snapshot{
		Target:        "llm-gateway",
		State:         circuitbreaker.StateOpen,
		StateName:     "open",
		FailureCount:  5,
		SuccessCount:  12,
		TotalRequests: 17,
		LastFailureAt: now,
		NextAttemptAt: now.Add(60 * time.Second),
	}
	require.NoError(t, states.Save(ctx, snap))

	loaded, err := states.Load(ctx, "llm-gateway")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, circuitbreaker.StateOpen, loaded.State)
	assert.Equal(t, "open", loaded.StateName)
	assert.Equal(t, int64(5), loaded.FailureCount)
	assert.Equal(t, int64(12), loaded.SuccessCount)
	assert.Equal(t, int64(17), loaded.TotalRequests)
	assert.True(t, loaded.LastFailureAt.Equal(now))
	assert.True(t, loaded.NextAttemptAt.Equal(now.Add(60*time.Second)))
	// 从未成功过 -> 时间列为 NULL -> 零值
	assert.True(t, loaded.LastSuccessAt.IsZero())
}

func TestBreakerStateStore_AbsentTarget(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.BreakerStates().Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBreakerStateStore_SaveReplacesExistingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	states := store.BreakerStates()

	require.NoError(t, states.Save(ctx, circuitbreaker.Snapshot{
		Target:        "search",
		State:         circuitbreaker.StateClosed,
		TotalRequests: 3,
	}))
	require.NoError(t, states.Save(ctx, circuitbreaker.Snapshot{
		Target:        "search",
		State:         circuitbreaker.StateHalfOpen,
		FailureCount:  2,
		TotalRequests: 9,
	}))

	loaded, err := states.Load(ctx, "search")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, circuitbreaker.StateHalfOpen, loaded.State)
	assert.Equal(t, int64(9), loaded.TotalRequests)

	rows, err := store.ListBreakerStates(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "half_open", rows[0].State)
}

func TestBreakerStateStore_CorruptStateColumn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.db(ctx).Create(&BreakerState{
		Target: "mangled",
		State:  "sideways",
	}).Error)

	_, err := store.BreakerStates().Load(ctx, "mangled")
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistence, types.GetErrorCode(err))
}

func TestListBreakerStates_SortedByTarget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	states := store.BreakerStates()

	for _, target := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, states.Save(ctx, circuitbreaker.Snapshot{
			Target: target,
			State:  circuitbreaker.StateClosed,
		}))
	}

	rows, err := store.ListBreakerStates(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "alpha", rows[0].Target)
	assert.Equal(t, "mid", rows[1].Target)
	assert.Equal(t, "zeta", rows[2].Target)
}
