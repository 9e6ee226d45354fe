// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 总线指标
	busPublishesTotal   *prometheus.CounterVec
	busPublishDuration  *prometheus.HistogramVec
	busDeliveriesTotal  *prometheus.CounterVec
	busDeliveryDuration *prometheus.HistogramVec
	busPendingDepth     prometheus.Gauge
	busSubscriptions    prometheus.Gauge

	// 熔断器指标
	breakerCallsTotal       *prometheus.CounterVec
	breakerTransitionsTotal *prometheus.CounterVec
	breakerState            *prometheus.GaugeVec

	// 工作流指标
	workflowRunsTotal     *prometheus.CounterVec
	workflowRunDuration   *prometheus.HistogramVec
	workflowNodeDuration  *prometheus.HistogramVec
	checkpointWritesTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec
	auditWritesTotal  *prometheus.CounterVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 总线指标
	c.busPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publishes_total",
			Help:      "Total number of bus publishes",
		},
		[]string{"type", "status"}, // status: ok, invalid, failed, queued
	)

	c.busPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Bus publish duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"type"},
	)

	c.busDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_deliveries_total",
			Help:      "Total number of handler deliveries",
		},
		[]string{"key", "status"}, // status: ok, failed
	)

	c.busDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_delivery_duration_seconds",
			Help:      "Handler delivery duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"key"},
	)

	c.busPendingDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_pending_queue_depth",
			Help:      "Number of envelopes in the pending queue",
		},
	)

	c.busSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscriptions",
			Help:      "Number of active subscriptions",
		},
	)

	// 熔断器指标
	c.breakerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_calls_total",
			Help:      "Total number of circuit breaker guarded calls",
		},
		[]string{"target", "outcome"}, // outcome: success, failure, rejected
	)

	c.breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"target"},
	)

	// 工作流指标
	c.workflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"workflow", "status"}, // status: completed, error
	)

	c.workflowRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"workflow"},
	)

	c.workflowNodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_duration_seconds",
			Help:      "Workflow node duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"workflow", "node"},
	)

	c.checkpointWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint writes",
		},
		[]string{"status"}, // status: ok, failed
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.auditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Total number of audit record writes",
		},
		[]string{"kind", "status"}, // status: ok, failed
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🚌 总线指标记录
// =============================================================================

// RecordPublish 记录一次发布
func (c *Collector) RecordPublish(msgType, status string, duration time.Duration) {
	c.busPublishesTotal.WithLabelValues(msgType, status).Inc()
	c.busPublishDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordDelivery 记录一次处理器投递
func (c *Collector) RecordDelivery(key, status string, duration time.Duration) {
	c.busDeliveriesTotal.WithLabelValues(key, status).Inc()
	c.busDeliveryDuration.WithLabelValues(key).Observe(duration.Seconds())
}

// SetPendingDepth 记录待投递队列深度
func (c *Collector) SetPendingDepth(depth int) {
	c.busPendingDepth.Set(float64(depth))
}

// SetSubscriptionCount 记录活跃订阅数
func (c *Collector) SetSubscriptionCount(count int) {
	c.busSubscriptions.Set(float64(count))
}

// =============================================================================
// ⚡ 熔断器指标记录
// =============================================================================

// RecordBreakerCall 记录受保护调用结果
func (c *Collector) RecordBreakerCall(target, outcome string) {
	c.breakerCallsTotal.WithLabelValues(target, outcome).Inc()
}

// RecordBreakerTransition 记录熔断器状态转换
func (c *Collector) RecordBreakerTransition(target, from, to string) {
	c.breakerTransitionsTotal.WithLabelValues(target, from, to).Inc()
	c.breakerState.WithLabelValues(target).Set(breakerStateValue(to))
}

// =============================================================================
// 🔄 工作流指标记录
// =============================================================================

// RecordWorkflowRun 记录工作流执行
func (c *Collector) RecordWorkflowRun(workflow, status string, duration time.Duration) {
	c.workflowRunsTotal.WithLabelValues(workflow, status).Inc()
	c.workflowRunDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordWorkflowNode 记录单个节点执行时长
func (c *Collector) RecordWorkflowNode(workflow, node string, duration time.Duration) {
	c.workflowNodeDuration.WithLabelValues(workflow, node).Observe(duration.Seconds())
}

// RecordCheckpointWrite 记录检查点写入
func (c *Collector) RecordCheckpointWrite(status string) {
	c.checkpointWritesTotal.WithLabelValues(status).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordAuditWrite 记录审计写入结果
func (c *Collector) RecordAuditWrite(kind, status string) {
	c.auditWritesTotal.WithLabelValues(kind, status).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// breakerStateValue 将熔断器状态名映射为数值
func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return -1
	}
}
