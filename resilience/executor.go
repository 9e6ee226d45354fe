package resilience

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/resilience/circuitbreaker"
	"github.com/BaSui01/agentbus/resilience/retry"
)

// Executor 组合熔断器与重试器对目标执行受保护的调用。
//
// 调用顺序:重试器在外层,熔断器在内层。每次重试尝试都先经过
// 熔断器检查;熔断拒绝不可重试,立即终止重试循环。
type Executor struct {
	registry *circuitbreaker.Registry
	retryer  retry.Retryer
	logger   *zap.Logger
}

// NewExecutor 创建执行器。policy 为 nil 时使用默认重试策略。
func NewExecutor(registry *circuitbreaker.Registry, policy *retry.RetryPolicy, logger *zap.Logger) *Executor {
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 拷贝策略后追加熔断拒绝为不可重试,避免修改调用方的策略
	p := *policy
	p.NonRetryableErrors = append(
		append([]error{}, policy.NonRetryableErrors...),
		circuitbreaker.ErrCircuitOpen,
	)

	return &Executor{
		registry: registry,
		retryer:  retry.NewRetryer(&p, logger),
		logger:   logger.With(zap.String("component", "resilience")),
	}
}

// Execute 对 target 执行 fn,带熔断与重试保护。
func (e *Executor) Execute(ctx context.Context, target string, fn func() error) error {
	cb := e.registry.GetOrCreate(target)
	return e.retryer.Do(ctx, func() error {
		return cb.Call(ctx, fn)
	})
}

// ExecuteWithResult 对 target 执行 fn 并返回结果。
func (e *Executor) ExecuteWithResult(ctx context.Context, target string, fn func() (any, error)) (any, error) {
	cb := e.registry.GetOrCreate(target)
	return e.retryer.DoWithResult(ctx, func() (any, error) {
		return cb.CallWithResult(ctx, fn)
	})
}

// Registry 返回底层熔断器注册表(诊断接口使用)。
func (e *Executor) Registry() *circuitbreaker.Registry {
	return e.registry
}

// ExecuteTyped is a type-safe generic wrapper around Executor.ExecuteWithResult.
func ExecuteTyped[T any](e *Executor, ctx context.Context, target string, fn func() (T, error)) (T, error) {
	result, err := e.ExecuteWithResult(ctx, target, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
