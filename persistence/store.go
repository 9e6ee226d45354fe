package persistence

import (
	"context"
	"sync"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BaSui01/agentbus/internal/database"
	"github.com/BaSui01/agentbus/internal/metrics"
	"github.com/BaSui01/agentbus/types"
)

// Supported database drivers. The two SQLite variants register distinct
// sql driver names ("sqlite" vs "sqlite3") and can coexist in one binary:
// sqlite is pure Go, sqlite3 needs CGO but links the C library.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
)

// Config describes the database connection.
type Config struct {
	// Driver selects the backend: postgres, mysql, sqlite or sqlite3.
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `json:"dsn" yaml:"dsn"`

	// Pool tunes the underlying connection pool.
	Pool database.PoolConfig `json:"pool" yaml:"pool"`
}

// DefaultConfig returns a local SQLite configuration suitable for
// development and tests.
func DefaultConfig() *Config {
	return &Config{
		Driver: DriverSQLite,
		DSN:    "agentbus.db",
		Pool:   database.DefaultPoolConfig(),
	}
}

// Store is the durable storage adapter. All methods are safe for
// concurrent use.
type Store struct {
	pool    *database.PoolManager
	logger  *zap.Logger
	metrics *metrics.Collector

	// 按 workflow id 串行化检查点版本分配
	cpMu    sync.Mutex
	cpLocks map[string]*sync.Mutex
}

// Open connects to the configured database and returns a Store. The schema
// is not touched; call Migrate (or run the SQL migrations) separately.
func Open(config *Config, logger *zap.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch config.Driver {
	case DriverPostgres:
		dialector = postgres.Open(config.DSN)
	case DriverMySQL:
		dialector = mysql.Open(config.DSN)
	case DriverSQLite, "":
		dialector = sqlite.Open(config.DSN)
	case DriverSQLite3:
		dialector = cgosqlite.Open(config.DSN)
	default:
		return nil, types.NewError(types.ErrConfig,
			"unsupported database driver: "+config.Driver+" (supported: postgres, mysql, sqlite, sqlite3)")
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "connect database").
			WithComponent("persistence").
			WithCause(err)
	}

	pool, err := database.NewPoolManager(db, config.Pool, logger)
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "configure connection pool").
			WithComponent("persistence").
			WithCause(err)
	}

	logger.Info("database connected", zap.String("driver", config.Driver))
	return New(pool, logger), nil
}

// New wraps an existing connection pool. Open is the usual entry point;
// New exists for callers that manage the pool themselves.
func New(pool *database.PoolManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:    pool,
		logger:  logger.With(zap.String("component", "persistence")),
		cpLocks: make(map[string]*sync.Mutex),
	}
}

// WithMetrics attaches a metrics collector. Chainable. The connection
// pool picks it up too and reports open/idle gauges from its health loop.
func (s *Store) WithMetrics(m *metrics.Collector) *Store {
	s.metrics = m
	s.pool.SetMetrics(m)
	return s
}

// Migrate creates or updates the schema for every record type.
func (s *Store) Migrate() error {
	if err := s.pool.DB().AutoMigrate(allModels()...); err != nil {
		return types.NewError(types.ErrPersistence, "auto-migrate schema").
			WithComponent("persistence").
			WithCause(err)
	}
	s.logger.Info("schema migrated", zap.Int("models", len(allModels())))
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats reports connection pool statistics.
func (s *Store) Stats() database.PoolStats {
	return s.pool.GetStats()
}

// Pool exposes the underlying pool manager for transaction helpers.
func (s *Store) Pool() *database.PoolManager {
	return s.pool
}

// Close releases the database connection. Safe to call more than once.
func (s *Store) Close() error {
	return s.pool.Close()
}

// db returns a context-bound handle.
func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}
