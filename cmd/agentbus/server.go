// =============================================================================
// AgentBus 服务器组装
// =============================================================================
// 把配置、持久化、消息总线、弹性层、工作流管道和 HTTP 服务
// 装配成一个可运行的进程。
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentbus/api/handlers"
	"github.com/BaSui01/agentbus/bus"
	"github.com/BaSui01/agentbus/config"
	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/internal/metrics"
	"github.com/BaSui01/agentbus/internal/server"
	"github.com/BaSui01/agentbus/internal/telemetry"
	"github.com/BaSui01/agentbus/persistence"
	"github.com/BaSui01/agentbus/resilience"
	"github.com/BaSui01/agentbus/resilience/circuitbreaker"
	"github.com/BaSui01/agentbus/resilience/retry"
	"github.com/BaSui01/agentbus/types"
	"github.com/BaSui01/agentbus/workflow"
)

// redisTarget 是 Redis 队列转发经过熔断器时使用的目标名。
const redisTarget = "transport:redis"

// =============================================================================
// 🖥️ 服务器结构
// =============================================================================

// Server 聚合进程的全部长生命周期组件。
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	telemetry  *telemetry.Providers
	store      *persistence.Store

	collector *metrics.Collector

	bus            bus.MessageBus
	redisTransport *bus.RedisTransport
	registry       *circuitbreaker.Registry
	executor       *resilience.Executor

	learning *workflow.Pipeline[workflow.LearningState]
	quality  *workflow.Pipeline[workflow.QualityState]

	// unsubscribes 持有所有总线订阅的注销函数,关闭时统一执行
	unsubscribes []func()

	httpManager    *server.Manager
	metricsManager *server.Manager

	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	rateLimiterCtx    context.Context
	rateLimiterCancel context.CancelFunc

	shutdownOnce sync.Once
}

// NewServer 创建服务器实例。configPath 为空时热重载只响应 API 触发,
// 不监听配置文件。
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers, store *persistence.Store) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		telemetry:  otelProviders,
		store:      store,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序装配并启动全部组件:
// 指标 → 弹性层 → 总线与传输 → 管道与订阅 → 热重载 → HTTP 服务。
func (s *Server) Start() error {
	// 1. Prometheus 指标收集器(注册到默认注册表,由 /metrics 暴露)
	s.collector = metrics.NewCollector("agentbus", s.logger)
	s.store.WithMetrics(s.collector)

	// 2. 弹性层:熔断器注册表 + 重试执行器
	s.initResilience()

	// 3. 消息总线
	s.bus = bus.New(&bus.Config{
		DefaultMaxRetries: s.cfg.Bus.MaxRetries,
		DefaultRetryDelay: s.cfg.Bus.RetryDelay,
		Metrics:           s.collector,
	}, s.logger)

	// 4. 传输与订阅
	if err := s.initSubscriptions(); err != nil {
		return fmt.Errorf("init subscriptions: %w", err)
	}

	// 5. 配置热重载
	if err := s.initHotReload(); err != nil {
		s.logger.Warn("Failed to initialize hot reload", zap.Error(err))
	}

	// 6. HTTP API 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	// 7. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("AgentBus server started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("bus_transport", s.cfg.Bus.Transport),
		zap.Bool("checkpoints", s.cfg.Workflow.CheckpointEnabled),
	)
	return nil
}

// initResilience 装配熔断器注册表与重试执行器。
// PersistState 打开时熔断器状态落库,进程重启后继续熔断。
func (s *Server) initResilience() {
	breakerCfg := &circuitbreaker.Config{
		FailureThreshold: s.cfg.Breaker.FailureThreshold,
		CallTimeout:      s.cfg.Breaker.CallTimeout,
		Cooldown:         s.cfg.Breaker.Cooldown,
		CooldownFactor:   s.cfg.Breaker.CooldownFactor,
		OnStateChange: func(target string, from, to circuitbreaker.State) {
			s.collector.RecordBreakerTransition(target, from.String(), to.String())
			s.logger.Warn("circuit breaker state changed",
				zap.String("target", target),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	var stateStore circuitbreaker.StateStore
	if s.cfg.Breaker.PersistState {
		stateStore = s.store.BreakerStates()
	}
	s.registry = circuitbreaker.NewRegistry(breakerCfg, stateStore, s.logger)

	s.executor = resilience.NewExecutor(s.registry, &retry.RetryPolicy{
		MaxRetries:   s.cfg.Retry.MaxRetries,
		InitialDelay: s.cfg.Retry.InitialDelay,
		MaxDelay:     s.cfg.Retry.MaxDelay,
		Strategy:     retry.Strategy(s.cfg.Retry.Strategy),
		Multiplier:   s.cfg.Retry.Multiplier,
		Jitter:       s.cfg.Retry.Jitter,
	}, s.logger)
}

// initSubscriptions 装配管道与传输,并把处理器挂到总线上:
//
//	feedback.submitted → 反馈落库
//	request.chat       → 学习信号管道
//	response.chat      → 质量评分管道
//	*                  → Redis 队列转发(仅 redis 传输,经熔断器)
func (s *Server) initSubscriptions() error {
	// 管道:审计与指标始终开启,检查点按配置
	s.learning = workflow.NewLearningPipeline(s.store, s.logger).
		WithRecorder(s.store).
		WithMetrics(s.collector)
	s.quality = workflow.NewQualityPipeline(
		&workflow.QualityConfig{ReviewThreshold: s.cfg.Workflow.ReviewThreshold},
		s.store, s.logger).
		WithRecorder(s.store).
		WithMetrics(s.collector)
	if s.cfg.Workflow.CheckpointEnabled {
		s.learning = s.learning.WithCheckpointer(s.store)
		s.quality = s.quality.WithCheckpointer(s.store)
	}

	// 反馈信封直接落库
	feedbackTransport, err := bus.NewFeedbackTransport(s.store, s.logger)
	if err != nil {
		return err
	}
	if err := s.subscribe(types.TypeFeedbackSubmitted.String(), feedbackTransport.Handler()); err != nil {
		return err
	}

	if err := s.subscribe(types.TypeRequestChat.String(), s.learningHandler()); err != nil {
		return err
	}
	if err := s.subscribe(types.TypeResponseChat.String(), s.qualityHandler()); err != nil {
		return err
	}

	// redis 传输:全部信封转发到进程外队列,转发经过熔断器保护
	if s.cfg.Bus.Transport == "redis" {
		transport, err := bus.NewRedisTransport(&bus.RedisTransportConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Redis.KeyPrefix,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create redis transport: %w", err)
		}
		s.redisTransport = transport

		if err := s.subscribe(bus.WildcardKey, s.redisRelayHandler()); err != nil {
			return err
		}
	}

	return nil
}

// subscribe 注册处理器并记录注销函数。
func (s *Server) subscribe(topic string, handler bus.Handler) error {
	unsub, err := s.bus.Subscribe(topic, handler)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s.unsubscribes = append(s.unsubscribes, unsub)
	return nil
}

// learningHandler 把 request.chat 信封送进学习信号管道。
// student_id 缺省回落到发送方代理,会话线程取 session_id。
func (s *Server) learningHandler() bus.Handler {
	return func(ctx context.Context, env *envelope.Envelope) error {
		state := workflow.LearningState{
			AgentID:   env.To.String(),
			StudentID: payloadString(env.Payload, "student_id"),
			Input:     payloadString(env.Payload, "message"),
		}
		if state.StudentID == "" {
			state.StudentID = env.From.String()
		}

		final, err := s.learning.Run(ctx, state,
			workflow.WithRunID(env.ID),
			workflow.WithThread(payloadString(env.Payload, "session_id")),
		)
		if err != nil {
			return err
		}
		if len(final.Errors) > 0 {
			return fmt.Errorf("learning pipeline: %s", strings.Join(final.Errors, "; "))
		}
		return nil
	}
}

// qualityHandler 把 response.chat 信封送进质量评分管道。
func (s *Server) qualityHandler() bus.Handler {
	return func(ctx context.Context, env *envelope.Envelope) error {
		state := workflow.QualityState{
			SessionID:     payloadString(env.Payload, "session_id"),
			Query:         payloadString(env.Payload, "query"),
			Response:      payloadString(env.Payload, "message"),
			SourceContext: payloadString(env.Payload, "source_context"),
		}

		final, err := s.quality.Run(ctx, state,
			workflow.WithRunID(env.ID),
			workflow.WithThread(state.SessionID),
		)
		if err != nil {
			return err
		}
		if len(final.Errors) > 0 {
			return fmt.Errorf("quality pipeline: %s", strings.Join(final.Errors, "; "))
		}
		return nil
	}
}

// redisRelayHandler 把信封转发到 Redis 队列。转发经过熔断器与
// 指数退避重试:Redis 持续不可用时熔断打开,后续转发快速失败,
// 避免总线投递被外部故障拖垮。
func (s *Server) redisRelayHandler() bus.Handler {
	return func(ctx context.Context, env *envelope.Envelope) error {
		err := s.executor.Execute(ctx, redisTarget, func() error {
			res := s.redisTransport.Deliver(ctx, env)
			if !res.Success {
				return fmt.Errorf("redis relay: %s", strings.Join(res.Errors, "; "))
			}
			return nil
		})

		outcome := "success"
		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			outcome = "rejected"
		case err != nil:
			outcome = "failure"
		}
		s.collector.RecordBreakerCall(redisTarget, outcome)

		return err
	}
}

// payloadString 从信封载荷取字符串键,缺失或类型不符返回空串。
func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// =============================================================================
// 🔄 配置热重载
// =============================================================================

func (s *Server) initHotReload() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
		config.WithValidateFunc((*config.Config).Validate),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		// 运行中组件持有启动时的配置;需要重启的字段由
		// 热重载管理器按字段注册表标记并告警
		s.cfg = newConfig
		s.logger.Info("Configuration reloaded")
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return err
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)
	return nil
}

// =============================================================================
// 🌐 HTTP 服务
// =============================================================================

// skipAuthPaths 免认证路径:健康检查与版本信息
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查:就绪探针覆盖数据库与 Redis(启用时)
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", s.store.Ping))
	if s.redisTransport != nil {
		healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", s.redisTransport.Ping))
	}

	messageHandler := handlers.NewMessageHandler(s.bus, s.cfg.Bus.DeliveryTimeout, s.logger)
	breakerHandler := handlers.NewBreakerHandler(s.registry, s.logger)
	learningHandler := handlers.NewLearningHandler(s.store, s.logger)

	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/readyz", healthHandler.HandleReady)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/v1/messages", messageHandler.HandleIngest)
	mux.HandleFunc("/api/v1/pending", messageHandler.HandlePending)
	mux.HandleFunc("/api/v1/breakers", breakerHandler.HandleSnapshots)
	mux.HandleFunc("/api/v1/breakers/reset", breakerHandler.HandleReset)
	mux.HandleFunc("/api/v1/mastery", learningHandler.HandleMastery)
	mux.HandleFunc("/api/v1/reviews", learningHandler.HandleReviews)
	mux.HandleFunc("/api/v1/feedback", learningHandler.HandleFeedback)

	// 配置管理 API:带审计日志,认证走统一 JWT 链
	if s.configAPIHandler != nil {
		logFn := func(method, path string, status int, duration time.Duration) {
			s.logger.Info("config api request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Duration("duration", duration),
			)
		}
		configMW := config.NewConfigAPIMiddleware(s.configAPIHandler, "")
		mux.HandleFunc("/api/v1/config", configMW.LogRequests(s.configAPIHandler.HandleConfig, logFn))
		mux.HandleFunc("/api/v1/config/reload", configMW.LogRequests(s.configAPIHandler.HandleReload, logFn))
		mux.HandleFunc("/api/v1/config/fields", configMW.LogRequests(s.configAPIHandler.HandleFields, logFn))
		mux.HandleFunc("/api/v1/config/changes", configMW.LogRequests(s.configAPIHandler.HandleChanges, logFn))
	}

	// 限流器后台清理的生命周期与服务器绑定
	s.rateLimiterCtx, s.rateLimiterCancel = context.WithCancel(context.Background())

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSOrigins),
		RateLimiter(s.rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Server.JWT.Enabled {
		middlewares = append(middlewares,
			JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger),
			TenantRateLimiter(s.rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		)
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager("api", handler,
		server.FromConfig(s.cfg.Server.HTTPPort, s.cfg.Server), s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux,
		server.FromConfig(s.cfg.Server.MetricsPort, s.cfg.Server), s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到收到终止信号或任一服务器异常退出,
// 然后执行完整的优雅关闭。
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// nil Manager 的错误通道为 nil,select 永远不会选中它
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("received shutdown signal")
	case err := <-s.httpManager.Errors():
		s.logger.Error("api server exited unexpectedly", zap.Error(err))
	case err := <-metricsErrs:
		s.logger.Error("metrics server exited unexpectedly", zap.Error(err))
	}

	s.Shutdown()
}

// Shutdown 按依赖的逆序关闭:先停入口(HTTP、订阅),再停核心
// (总线、熔断器、传输),最后释放存储与遥测。幂等。
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down AgentBus server...")

		if s.rateLimiterCancel != nil {
			s.rateLimiterCancel()
		}

		// 注销订阅,停止接收新投递
		for _, unsub := range s.unsubscribes {
			unsub()
		}

		if s.hotReloadManager != nil {
			if err := s.hotReloadManager.Stop(); err != nil {
				s.logger.Error("Failed to stop hot reload manager", zap.Error(err))
			}
		}

		// 两个 HTTP 服务器并行关闭
		g := new(errgroup.Group)
		if s.httpManager != nil {
			g.Go(func() error { return s.httpManager.Shutdown(context.Background()) })
		}
		if s.metricsManager != nil {
			g.Go(func() error { return s.metricsManager.Shutdown(context.Background()) })
		}
		if err := g.Wait(); err != nil {
			s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		}

		if s.bus != nil {
			if err := s.bus.Close(); err != nil {
				s.logger.Error("Failed to close message bus", zap.Error(err))
			}
		}

		if s.registry != nil {
			s.registry.Close()
		}

		if s.redisTransport != nil {
			if err := s.redisTransport.Close(); err != nil {
				s.logger.Error("Failed to close redis transport", zap.Error(err))
			}
		}

		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logger.Error("Failed to close persistence store", zap.Error(err))
			}
		}

		if s.telemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.telemetry.Shutdown(ctx); err != nil {
				s.logger.Error("Failed to shutdown telemetry", zap.Error(err))
			}
		}

		s.logger.Info("AgentBus server stopped")
	})
}
