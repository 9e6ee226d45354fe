package persistence

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentbus/internal/database"
	"github.com/BaSui01/agentbus/types"
)

// newTestStore opens a migrated in-memory SQLite store. Each test gets its
// own named shared-cache database so connections from the pool all see the
// same data.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	cfg := &Config{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Pool:   database.DefaultPoolConfig(),
	}

	store, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// =============================================================================
// 🧪 Store 生命周期测试
// =============================================================================

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(&Config{Driver: "oracle", DSN: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpen_EmptyDriverDefaultsToSQLite(t *testing.T) {
	cfg := &Config{
		Driver: "",
		DSN:    "file:defaultdriver?mode=memory&cache=shared",
		Pool:   database.DefaultPoolConfig(),
	}
	store, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))
}

func TestOpen_CGOSQLiteDriver(t *testing.T) {
	cfg := &Config{
		Driver: DriverSQLite3,
		DSN:    "file:cgodriver?mode=memory&cache=shared",
		Pool:   database.DefaultPoolConfig(),
	}
	store, err := Open(cfg, zaptest.NewLogger(t))
	if err != nil {
		// CGO 关闭时 mattn 驱动打不开,跳过而非失败
		t.Skipf("cgo sqlite unavailable: %v", err)
	}
	defer store.Close()

	require.NoError(t, store.Migrate())
	require.NoError(t, store.Ping(context.Background()))
}

func TestStore_MigrateCreatesTables(t *testing.T) {
	store := newTestStore(t)

	migrator := store.pool.DB().Migrator()
	for _, table := range []string{
		"checkpoints", "tasks", "agent_results", "events", "metrics",
		"log_entries", "breaker_states", "mastery", "feedback", "quality_reviews",
	} {
		assert.True(t, migrator.HasTable(table), "missing table %s", table)
	}
}

func TestStore_PingAndStats(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Ping(context.Background()))

	stats := store.Stats()
	assert.Equal(t, 100, stats.MaxOpenConnections)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err := store.Ping(context.Background())
	require.Error(t, err)
}
