package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/types"
)

// Strategy 决定重试延迟的增长方式。
type Strategy string

const (
	// StrategyLinear 线性退避:delay = initial × attempt。
	// 总线投递重试使用此策略。
	StrategyLinear Strategy = "linear"
	// StrategyExponential 指数退避:delay = initial × multiplier^(attempt-1)。
	// 对外部目标的调用使用此策略。
	StrategyExponential Strategy = "exponential"
)

// RetryPolicy 定义重试策略配置
// 遵循 KISS 原则：简单但功能完整的重试策略
type RetryPolicy struct {
	MaxRetries         int           // 最大重试次数（0 表示不重试）
	InitialDelay       time.Duration // 初始延迟时间
	MaxDelay           time.Duration // 最大延迟时间
	Strategy           Strategy      // 退避策略（线性 / 指数）
	Multiplier         float64       // 指数退避的倍增因子
	Jitter             bool          // 是否添加随机抖动（防止雪崩）
	RetryableErrors    []error       // 可重试的错误类型（为空则默认可重试）
	NonRetryableErrors []error       // 不可重试的错误类型，命中立即放弃（如熔断拒绝）
	// OnRetry 在每次重试前调用
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 返回总线投递的默认重试策略:
// 3 次重试、1 秒基础延迟、线性退避、无抖动。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Strategy:     StrategyLinear,
		Multiplier:   1.0,
	}
}

// ExternalRetryPolicy 返回调用外部目标的默认重试策略:
// 指数退避 + 随机抖动。
func ExternalRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Strategy:     StrategyExponential,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 重试器接口
// 提供统一的重试能力
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于退避策略的重试器实现
type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewRetryer 创建重试器。nil 策略使用 DefaultRetryPolicy。
func NewRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Strategy == "" {
		policy.Strategy = StrategyLinear
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：退避延迟 + 可选抖动 + 错误过滤
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn()

		// 成功，直接返回
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		// 检查是否可重试
		if !r.isRetryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return nil, lastErr
		}

		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	// 所有重试都失败了
	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay 计算第 attempt 次重试前的延迟时间
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	var delay float64

	switch r.policy.Strategy {
	case StrategyLinear:
		// 线性退避：delay = initial × attempt
		delay = float64(r.policy.InitialDelay) * float64(attempt)
	default:
		// 指数退避：delay = initial × multiplier^(attempt-1)
		delay = float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	}

	// 限制最大延迟
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 添加随机抖动（±25%），防止多个客户端同时重试导致的雪崩效应
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	// 确保延迟不小于初始延迟
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// isRetryable 检查错误是否可重试。
// 判定顺序：不可重试列表 → 结构化错误的 Retryable 标记 → 可重试列表。
func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	for _, nonRetryable := range r.policy.NonRetryableErrors {
		if errors.Is(err, nonRetryable) {
			return false
		}
	}

	var structured *types.Error
	if errors.As(err, &structured) {
		return structured.Retryable
	}

	// 如果没有配置可重试错误列表，则所有错误都可重试
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}

// RetryableError 可重试的错误类型
// 用于标记哪些错误应该触发重试
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否被 WrapRetryable 包装为可重试错误。
// 注意：这与 types.IsRetryable 语义不同 —— 本函数检查 *RetryableError 包装类型，
// 而 types.IsRetryable 检查 *types.Error 的 Retryable 字段。
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
