package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentbus/internal/metrics"
)

// =============================================================================
// 🗄️ 数据库连接池管理器
// =============================================================================

// healthCheckTimeout 单次探活的时限。
const healthCheckTimeout = 5 * time.Second

// PoolManager 管理 GORM 底下的 *sql.DB 连接池:应用池参数、
// 周期探活、上报连接数指标,并提供事务执行入口。
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger

	// 可选的指标采集器,探活循环以方言名为标签上报连接数
	metrics      *metrics.Collector
	metricsDB    string
	instrumented bool

	// stop 用于叫停探活循环;未启动探活时为 nil
	stop chan struct{}

	mu     sync.RWMutex
	closed bool
}

// PoolConfig 连接池参数。
type PoolConfig struct {
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`

	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`

	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	// 连接最大空闲时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 健康检查间隔,0 表示不启动探活循环
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认连接池参数。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewPoolManager 把池参数应用到 db 底层的 *sql.DB 上,
// HealthCheckInterval 大于零时同时启动探活循环。
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "db_pool")),
	}

	if config.HealthCheckInterval > 0 {
		pm.stop = make(chan struct{})
		go pm.healthCheckLoop()
	}

	logger.Info("database pool initialized",
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)

	return pm, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// DB 返回 GORM 句柄。
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

// SetMetrics 挂接指标采集器:探活循环开始以方言名
// (postgres/mysql/sqlite)为标签上报打开与空闲连接数,
// 同时在 GORM 回调链上挂接查询耗时采集。
func (pm *PoolManager) SetMetrics(m *metrics.Collector) {
	pm.mu.Lock()
	pm.metrics = m
	pm.metricsDB = pm.db.Dialector.Name()
	hook := m != nil && !pm.instrumented
	if hook {
		pm.instrumented = true
	}
	pm.mu.Unlock()

	if hook {
		if err := pm.instrumentQueries(); err != nil {
			pm.logger.Warn("failed to register query metrics callbacks", zap.Error(err))
		}
	}
}

// Ping 探活;池已关闭时直接报错。
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.closed {
		return errors.New("pool is closed")
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 返回 database/sql 原生的池统计。
func (pm *PoolManager) Stats() sql.DBStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.sqlDB.Stats()
}

// Close 叫停探活循环并关闭连接池,重复调用是幂等的。
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil
	}
	pm.closed = true

	if pm.stop != nil {
		close(pm.stop)
	}

	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 周期探活,Close 通过 stop 通道叫停。
func (pm *PoolManager) healthCheckLoop() {
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			pm.checkOnce()
		}
	}
}

// checkOnce 执行一轮探活:Ping 失败记错误日志,成功时上报连接数。
func (pm *PoolManager) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := pm.Ping(ctx); err != nil {
		pm.logger.Error("database health check failed", zap.Error(err))
		return
	}

	stats := pm.Stats()

	pm.mu.RLock()
	m, label := pm.metrics, pm.metricsDB
	pm.mu.RUnlock()
	if m != nil {
		m.RecordDBConnections(label, stats.OpenConnections, stats.Idle)
	}

	pm.logger.Debug("database health check passed",
		zap.Int("open_connections", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
	)
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// PoolStats 是面向接口输出的池统计快照。
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxIdleClosed      int64         `json:"max_idle_closed"`
	MaxLifetimeClosed  int64         `json:"max_lifetime_closed"`
}

// GetStats 把 sql.DBStats 转成可序列化的快照。
func (pm *PoolManager) GetStats() PoolStats {
	stats := pm.Stats()
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}

// =============================================================================
// 🔄 事务管理
// =============================================================================

// TransactionFunc 在事务内执行的函数,返回非 nil 触发回滚。
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 在单个事务中执行 fn。
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return errors.New("pool is closed")
	}
	db := pm.db
	pm.mu.RUnlock()

	return db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 带重试的事务执行。仅对瞬态错误(死锁、
// 序列化失败、连接闪断、SQLite BUSY)重试,指数退避从 100ms 起,
// 非瞬态错误立刻原样返回。
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, maxRetries int, fn TransactionFunc) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = pm.WithTransaction(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}

		pm.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(lastErr),
		)

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

// retryableSnippets 错误消息里标记瞬态失败的片段,覆盖死锁、
// 序列化失败(SQLSTATE 40001)、连接中断、锁等待超时以及
// SQLite 的 BUSY/LOCKED。
var retryableSnippets = []string{
	"deadlock",
	"serialization failure",
	"40001",
	"connection reset",
	"connection refused",
	"broken pipe",
	"lock timeout",
	"lock wait timeout",
	"database is locked",
	"database table is locked",
	"bad connection",
}

// isRetryableError 按消息片段判定错误是否瞬态。
// GORM 不保留底层驱动的错误码,只能做文本匹配。
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, snippet := range retryableSnippets {
		if strings.Contains(msg, snippet) {
			return true
		}
	}
	return false
}
