package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ParseState 从持久化的字符串恢复状态。
func ParseState(s string) (State, error) {
	switch s {
	case "closed":
		return StateClosed, nil
	case "open":
		return StateOpen, nil
	case "half_open":
		return StateHalfOpen, nil
	default:
		return StateClosed, fmt.Errorf("unknown circuit breaker state %q", s)
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int

	// CallTimeout 单次调用超时时间
	CallTimeout time.Duration

	// Cooldown 熔断冷却时间（从 Open -> HalfOpen 的等待）
	Cooldown time.Duration

	// CooldownFactor 半开试探失败后冷却时间的放大因子（>= 1.0）。
	// 1.0 表示每次冷却时长不变。
	CooldownFactor float64

	// OnStateChange 状态变更回调
	OnStateChange func(target string, from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		CallTimeout:      30 * time.Second,
		Cooldown:         60 * time.Second,
		CooldownFactor:   1.0,
	}
}

// Snapshot 是熔断器的可观测状态,用于持久化与诊断接口。
type Snapshot struct {
	Target        string    `json:"target"`
	State         State     `json:"-"`
	StateName     string    `json:"state"`
	FailureCount  int64     `json:"failure_count"`
	SuccessCount  int64     `json:"success_count"`
	TotalRequests int64     `json:"total_requests"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，如果熔断器打开则返回错误
	Call(ctx context.Context, fn func() error) error

	// CallWithResult 执行调用并返回结果
	CallWithResult(ctx context.Context, fn func() (any, error)) (any, error)

	// State 获取当前状态
	State() State

	// Snapshot 返回可观测状态的一致拷贝
	Snapshot() Snapshot

	// Restore 从持久化快照恢复状态（进程重启后继续熔断）
	Restore(snap Snapshot)

	// Reset 重置熔断器（手动恢复）
	Reset()
}

// breaker 熔断器实现
type breaker struct {
	target string
	config *Config
	logger *zap.Logger

	// onSnapshot 在每次状态变化与调用结果后被调用(持锁,必须非阻塞)。
	onSnapshot func(Snapshot)

	mu              sync.RWMutex
	state           State
	failureCount    int64     // 连续失败次数
	successCount    int64     // 累计成功次数
	totalRequests   int64     // 累计请求次数(含被拒绝的调用)
	lastFailureAt   time.Time // 最后失败时间
	lastSuccessAt   time.Time // 最后成功时间
	nextAttemptAt   time.Time // Open 状态下允许试探的时刻
	currentCooldown time.Duration
	trialInFlight   bool // 半开状态下是否已有试探调用
}

// NewCircuitBreaker 创建以 target 为标识的熔断器
func NewCircuitBreaker(target string, config *Config, logger *zap.Logger) CircuitBreaker {
	return newBreaker(target, config, logger, nil)
}

func newBreaker(target string, config *Config, logger *zap.Logger, onSnapshot func(Snapshot)) *breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	if config.CooldownFactor < 1.0 {
		config.CooldownFactor = 1.0
	}

	return &breaker{
		target:          target,
		config:          config,
		logger:          logger.With(zap.String("component", "circuitbreaker"), zap.String("target", target)),
		onSnapshot:      onSnapshot,
		state:           StateClosed,
		currentCooldown: config.Cooldown,
	}
}

// Call 实现 CircuitBreaker.Call
func (b *breaker) Call(ctx context.Context, fn func() error) error {
	_, err := b.CallWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// CallWithResult 实现 CircuitBreaker.CallWithResult
// 核心逻辑：状态机转换 + 失败计数 + 超时控制
func (b *breaker) CallWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	// 检查熔断器状态(拒绝也计入 total_requests)
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	// 创建超时 context
	callCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
	defer cancel()

	// 执行调用
	resultCh := make(chan callResult, 1)
	go func() {
		result, err := fn()
		resultCh <- callResult{result: result, err: err}
	}()

	// 等待结果或超时
	select {
	case <-callCtx.Done():
		err := fmt.Errorf("call timed out: %w", callCtx.Err())
		b.afterCall(false)
		return nil, err

	case res := <-resultCh:
		// 客户端错误（如校验失败）不应计入熔断失败
		success := res.err == nil || isClientError(res.err)
		b.afterCall(success)

		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	}
}

type callResult struct {
	result any
	err    error
}

// isClientError 判断错误是否为客户端错误（不应计入熔断失败）。
func isClientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range []string{
		"VALIDATION", "REQUIRED_FIELD", "INVALID_FIELD",
		"UNKNOWN_TYPE", "VERSION_MISMATCH",
	} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// beforeCall 调用前检查
func (b *breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		// 冷却结束后进入半开状态
		if time.Now().After(b.nextAttemptAt) {
			b.setState(StateHalfOpen)
			b.trialInFlight = true
			b.logger.Info("熔断器进入半开状态")
			b.notifySnapshot()
			return nil
		}

		// 仍在熔断中
		return b.openError()

	case StateHalfOpen:
		// 半开状态只允许一个试探调用
		if b.trialInFlight {
			return b.openError()
		}
		b.trialInFlight = true
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", b.state)
	}
}

// afterCall 调用后处理
func (b *breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
	b.notifySnapshot()
}

// onSuccess 处理成功调用
func (b *breaker) onSuccess() {
	b.successCount++
	b.lastSuccessAt = time.Now()

	switch b.state {
	case StateClosed:
		// 关闭状态，重置连续失败计数
		b.failureCount = 0

	case StateHalfOpen:
		// 半开试探成功，恢复到关闭状态,冷却时长回到基准值
		b.logger.Info("熔断器恢复正常")
		b.setState(StateClosed)
		b.failureCount = 0
		b.trialInFlight = false
		b.currentCooldown = b.config.Cooldown
		b.nextAttemptAt = time.Time{}

	case StateOpen:
		b.logger.Warn("熔断器打开状态收到成功响应")
	}
}

// onFailure 处理失败调用
func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureAt = time.Now()

	switch b.state {
	case StateClosed:
		// 关闭状态，检查是否达到阈值
		if b.failureCount >= int64(b.config.FailureThreshold) {
			b.logger.Warn("熔断器打开",
				zap.Int64("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold),
			)
			b.open()
		}

	case StateHalfOpen:
		// 半开试探失败，按放大因子延长冷却后重新打开
		b.logger.Warn("熔断器半开试探失败，重新打开")
		b.trialInFlight = false
		b.currentCooldown = time.Duration(float64(b.currentCooldown) * b.config.CooldownFactor)
		b.open()

	case StateOpen:
		b.logger.Warn("熔断器打开状态收到失败响应")
	}
}

// open 进入打开状态并确定下次试探时刻。
func (b *breaker) open() {
	b.setState(StateOpen)
	b.nextAttemptAt = time.Now().Add(b.currentCooldown)
}

// setState 设置状态并触发回调
func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil && oldState != newState {
		go b.config.OnStateChange(b.target, oldState, newState)
	}
}

// openError 构造熔断拒绝错误(持锁调用)。
func (b *breaker) openError() error {
	return &OpenError{Target: b.target, RetryAt: b.nextAttemptAt}
}

// notifySnapshot 上报当前可观测状态(持锁调用,回调必须非阻塞)。
func (b *breaker) notifySnapshot() {
	if b.onSnapshot == nil {
		return
	}
	b.onSnapshot(b.snapshotLocked())
}

func (b *breaker) snapshotLocked() Snapshot {
	return Snapshot{
		Target:        b.target,
		State:         b.state,
		StateName:     b.state.String(),
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		TotalRequests: b.totalRequests,
		LastFailureAt: b.lastFailureAt,
		LastSuccessAt: b.lastSuccessAt,
		NextAttemptAt: b.nextAttemptAt,
	}
}

// State 实现 CircuitBreaker.State
func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Snapshot 实现 CircuitBreaker.Snapshot
func (b *breaker) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

// Restore 实现 CircuitBreaker.Restore
func (b *breaker) Restore(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = snap.State
	b.failureCount = snap.FailureCount
	b.successCount = snap.SuccessCount
	b.totalRequests = snap.TotalRequests
	b.lastFailureAt = snap.LastFailureAt
	b.lastSuccessAt = snap.LastSuccessAt
	b.nextAttemptAt = snap.NextAttemptAt
	b.trialInFlight = false

	b.logger.Info("熔断器状态已恢复",
		zap.String("state", b.state.String()),
		zap.Int64("failure_count", b.failureCount),
	)
}

// Reset 实现 CircuitBreaker.Reset
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.trialInFlight = false
	b.currentCooldown = b.config.Cooldown
	b.nextAttemptAt = time.Time{}

	b.logger.Info("熔断器已重置",
		zap.String("from_state", oldState.String()),
	)

	if b.config.OnStateChange != nil && oldState != StateClosed {
		go b.config.OnStateChange(b.target, oldState, StateClosed)
	}
	b.notifySnapshot()
}

// OpenError 是熔断拒绝错误:调用未到达目标即被拒绝。
// 通过 errors.Is(err, ErrCircuitOpen) 识别,且不可重试。
type OpenError struct {
	Target  string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("circuit open for target %q", e.Target)
	}
	return fmt.Sprintf("circuit open for target %q, retry after %s", e.Target, e.RetryAt.Format(time.RFC3339))
}

// Is 使 errors.Is(err, ErrCircuitOpen) 成立。
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// ErrCircuitOpen 是熔断拒绝的哨兵错误。
var ErrCircuitOpen = errors.New("circuit breaker is open")
