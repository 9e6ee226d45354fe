package bus

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/internal/metrics"
	"github.com/BaSui01/agentbus/types"
)

// Handler 处理投递到订阅者的单个信封。
// 返回非 nil 错误视为本次投递失败,按发布选项重试。
type Handler func(ctx context.Context, env *envelope.Envelope) error

const (
	// WildcardKey 订阅全部消息类型
	WildcardKey = "*"
	// agentKeyPrefix 按目标代理订阅的键前缀
	agentKeyPrefix = "agent:"
)

// ErrBusClosed 总线已关闭
var ErrBusClosed = types.NewError(types.ErrBusClosed, "message bus is closed").WithComponent("bus")

// PublishResult 是一次发布的结构化结果,发布从不 panic 或抛错。
type PublishResult struct {
	Success     bool     `json:"success"`
	MessageID   string   `json:"message_id"`
	DeliveredTo []string `json:"delivered_to"`
	Queued      bool     `json:"queued,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// MessageBus 进程内发布/订阅总线
type MessageBus interface {
	// Subscribe 按精确消息类型、"agent:<id>" 或 "*" 订阅。
	// 返回的函数用于取消本次订阅。
	Subscribe(topic string, handler Handler) (func(), error)

	// SubscribeToAgent 订阅发往指定代理的全部信封。
	SubscribeToAgent(agent types.AgentID, handler Handler) (func(), error)

	// Publish 校验并投递信封,返回结构化结果。
	Publish(ctx context.Context, env *envelope.Envelope, opts ...PublishOption) *PublishResult

	// Pending 返回待投递队列的拷贝。
	Pending() []*envelope.Envelope

	// ClearQueue 清空待投递队列,返回清除数量。
	ClearQueue() int

	// SubscriptionCount 返回活跃订阅数。
	SubscriptionCount() int

	// Reset 清空全部订阅与待投递队列(测试隔离用)。
	Reset()

	// Close 关闭总线,之后的发布与订阅都会失败。
	Close() error
}

// Config 总线配置
type Config struct {
	// DefaultMaxRetries 每个处理器的默认最大重试次数
	DefaultMaxRetries int

	// DefaultRetryDelay 线性退避的基础延迟
	DefaultRetryDelay time.Duration

	// Metrics 指标收集器(可为 nil)
	Metrics *metrics.Collector
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DefaultMaxRetries: 3,
		DefaultRetryDelay: 1 * time.Second,
	}
}

// subscription 是 (键, 处理器) 对,name 用于投递结果标识。
type subscription struct {
	id      uint64
	key     string
	name    string
	handler Handler
	fnPtr   uintptr
}

type inMemoryBus struct {
	config *Config
	logger *zap.Logger
	obs    *Observability

	mu     sync.RWMutex
	subs   map[string][]*subscription
	subSeq atomic.Uint64

	pendingMu sync.Mutex
	pending   []*envelope.Envelope

	closed atomic.Bool
}

// New 创建进程内总线
func New(config *Config, logger *zap.Logger) MessageBus {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if config.DefaultMaxRetries < 0 {
		config.DefaultMaxRetries = 0
	}
	if config.DefaultRetryDelay <= 0 {
		config.DefaultRetryDelay = 1 * time.Second
	}

	// 观测器创建失败不阻止总线工作
	obs, err := NewObservability()
	if err != nil {
		logger.Warn("创建总线观测器失败", zap.Error(err))
	}

	return &inMemoryBus{
		config: config,
		logger: logger.With(zap.String("component", "bus")),
		obs:    obs,
		subs:   make(map[string][]*subscription),
	}
}

// Subscribe 实现 MessageBus.Subscribe
func (b *inMemoryBus) Subscribe(topic string, handler Handler) (func(), error) {
	if err := b.checkSubscribable(topic, handler); err != nil {
		return nil, err
	}
	return b.addSubscription(topic, handler), nil
}

// SubscribeToAgent 实现 MessageBus.SubscribeToAgent
func (b *inMemoryBus) SubscribeToAgent(agent types.AgentID, handler Handler) (func(), error) {
	if err := agent.Validate(); err != nil {
		return nil, err
	}
	return b.Subscribe(agentKeyPrefix+string(agent), handler)
}

// checkSubscribable 校验订阅键:通配符、agent 前缀或封闭类型枚举成员。
func (b *inMemoryBus) checkSubscribable(topic string, handler Handler) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if handler == nil {
		return types.NewError(types.ErrValidation, "handler is nil").WithComponent("bus")
	}
	if topic == "" {
		return types.NewError(types.ErrValidation, "topic is empty").WithComponent("bus")
	}
	if topic == WildcardKey {
		return nil
	}
	if rest, ok := strings.CutPrefix(topic, agentKeyPrefix); ok {
		return types.AgentID(rest).Validate()
	}
	if !types.MessageType(topic).Valid() {
		return types.NewError(types.ErrUnknownType,
			fmt.Sprintf("unknown message type %q", topic)).WithComponent("bus")
	}
	return nil
}

func (b *inMemoryBus) addSubscription(key string, handler Handler) func() {
	sub := &subscription{
		id:      b.subSeq.Add(1),
		key:     key,
		handler: handler,
		fnPtr:   reflect.ValueOf(handler).Pointer(),
	}
	sub.name = fmt.Sprintf("%s#%d", key, sub.id)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	count := b.countLocked()
	b.mu.Unlock()

	b.logger.Debug("订阅已注册",
		zap.String("key", key),
		zap.String("subscription", sub.name))
	b.setSubscriptionGauge(count)

	var once sync.Once
	return func() {
		once.Do(func() { b.removeSubscription(sub) })
	}
}

func (b *inMemoryBus) removeSubscription(sub *subscription) {
	b.mu.Lock()
	list := b.subs[sub.key]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.key]) == 0 {
		delete(b.subs, sub.key)
	}
	count := b.countLocked()
	b.mu.Unlock()

	b.setSubscriptionGauge(count)
}

func (b *inMemoryBus) countLocked() int {
	count := 0
	for _, list := range b.subs {
		count += len(list)
	}
	return count
}

// Publish 实现 MessageBus.Publish
//
// 算法:可选校验 → 计算投递集合(类型/代理/通配符并集,跨键去重)→
// 并发投递,各处理器独立重试 → 聚合结果。空集合入待投递队列。
func (b *inMemoryBus) Publish(ctx context.Context, env *envelope.Envelope, opts ...PublishOption) *PublishResult {
	start := time.Now()
	options := defaultPublishOptions(b.config)
	for _, opt := range opts {
		opt(options)
	}

	result := &PublishResult{DeliveredTo: []string{}}

	if env == nil {
		result.Errors = append(result.Errors, "envelope is nil")
		b.recordPublish("", "invalid", start)
		return result
	}
	result.MessageID = env.ID

	ctx, obsEnd := b.obs.startPublish(ctx,
		env.Type.String(), env.ID, string(env.From), string(env.To))
	defer func() { obsEnd(result) }()

	if b.closed.Load() {
		result.Errors = append(result.Errors, ErrBusClosed.Error())
		b.recordPublish(env.Type.String(), "failed", start)
		return result
	}

	// 发布前校验:失败立即返回,不做任何投递
	if options.validate {
		if vr := envelope.Validate(env); !vr.Valid {
			for _, fe := range vr.Errors {
				result.Errors = append(result.Errors, fe.String())
			}
			b.logger.Warn("信封校验失败,拒绝发布",
				zap.String("message_id", env.ID),
				zap.String("type", env.Type.String()),
				zap.Int("error_count", len(vr.Errors)))
			b.recordPublish(env.Type.String(), "invalid", start)
			return result
		}
	}

	targets := b.deliverySet(env)

	// 无订阅者:入待投递队列而非静默丢弃
	if len(targets) == 0 {
		b.enqueuePending(env)
		result.Success = true
		result.Queued = true
		b.recordPublish(env.Type.String(), "queued", start)
		return result
	}

	// 并发投递,各处理器独立
	outcomes := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, sub := range targets {
		wg.Add(1)
		go func(idx int, sub *subscription) {
			defer wg.Done()
			outcomes[idx] = b.deliver(ctx, sub, env, options)
		}(i, sub)
	}
	wg.Wait()

	for i, err := range outcomes {
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.DeliveredTo = append(result.DeliveredTo, targets[i].name)
		}
	}
	result.Success = len(result.Errors) == 0

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	b.recordPublish(env.Type.String(), status, start)

	b.logger.Debug("发布完成",
		zap.String("message_id", env.ID),
		zap.String("type", env.Type.String()),
		zap.Int("delivered", len(result.DeliveredTo)),
		zap.Int("errors", len(result.Errors)))

	return result
}

// deliverySet 计算投递集合:类型、代理、通配符三类键的并集,
// 同一处理器函数跨键只出现一次。
func (b *inMemoryBus) deliverySet(env *envelope.Envelope) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := [3]string{
		env.Type.String(),
		agentKeyPrefix + string(env.To),
		WildcardKey,
	}

	seen := make(map[uintptr]struct{})
	var targets []*subscription
	for _, key := range keys {
		for _, sub := range b.subs[key] {
			if _, dup := seen[sub.fnPtr]; dup {
				continue
			}
			seen[sub.fnPtr] = struct{}{}
			targets = append(targets, sub)
		}
	}
	return targets
}

// deliver 向单个处理器投递,失败按线性退避重试:
// 第 n 次失败后等待 delay * n 再试。
func (b *inMemoryBus) deliver(ctx context.Context, sub *subscription, env *envelope.Envelope, opts *publishOptions) error {
	attempts := 1
	if opts.retry {
		attempts = opts.maxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(opts.retryDelay * time.Duration(attempt-1))
		}

		start := time.Now()
		err := b.invoke(ctx, sub, env, opts.timeout)
		if err == nil {
			b.recordDelivery(sub.name, "ok", start)
			b.obs.recordDelivery(ctx, env.Type.String(), "ok")
			return nil
		}
		lastErr = err

		b.logger.Warn("处理器投递失败",
			zap.String("subscription", sub.name),
			zap.String("message_id", env.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		b.recordDelivery(sub.name, "failed", start)
		b.obs.recordDelivery(ctx, env.Type.String(), "failed")
	}

	return types.NewError(types.ErrDelivery,
		fmt.Sprintf("handler %s failed after %d attempts: %v", sub.name, attempts, lastErr)).
		WithComponent("bus").WithCause(lastErr)
}

// invoke 执行单次处理器调用,恢复 panic 并施加可选超时。
func (b *inMemoryBus) invoke(ctx context.Context, sub *subscription, env *envelope.Envelope, timeout time.Duration) error {
	call := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return sub.handler(ctx, env)
	}

	if timeout <= 0 {
		return call(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- call(callCtx) }()

	select {
	case <-callCtx.Done():
		return fmt.Errorf("handler timed out after %s: %w", timeout, callCtx.Err())
	case err := <-done:
		return err
	}
}

func (b *inMemoryBus) enqueuePending(env *envelope.Envelope) {
	b.pendingMu.Lock()
	b.pending = append(b.pending, env)
	depth := len(b.pending)
	b.pendingMu.Unlock()

	b.logger.Debug("无订阅者命中,信封入待投递队列",
		zap.String("message_id", env.ID),
		zap.String("type", env.Type.String()),
		zap.Int("queue_depth", depth))
	b.setPendingGauge(depth)
}

// Pending 实现 MessageBus.Pending
func (b *inMemoryBus) Pending() []*envelope.Envelope {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	out := make([]*envelope.Envelope, len(b.pending))
	copy(out, b.pending)
	return out
}

// ClearQueue 实现 MessageBus.ClearQueue
func (b *inMemoryBus) ClearQueue() int {
	b.pendingMu.Lock()
	cleared := len(b.pending)
	b.pending = nil
	b.pendingMu.Unlock()

	b.setPendingGauge(0)
	return cleared
}

// SubscriptionCount 实现 MessageBus.SubscriptionCount
func (b *inMemoryBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.countLocked()
}

// Reset 实现 MessageBus.Reset
func (b *inMemoryBus) Reset() {
	b.mu.Lock()
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	b.ClearQueue()
	b.setSubscriptionGauge(0)
	b.logger.Info("总线已重置")
}

// Close 实现 MessageBus.Close
func (b *inMemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.Reset()
	b.logger.Info("总线已关闭")
	return nil
}

func (b *inMemoryBus) recordPublish(msgType, status string, start time.Time) {
	if m := b.config.Metrics; m != nil {
		m.RecordPublish(msgType, status, time.Since(start))
	}
}

func (b *inMemoryBus) recordDelivery(name, status string, start time.Time) {
	if m := b.config.Metrics; m != nil {
		m.RecordDelivery(name, status, time.Since(start))
	}
}

func (b *inMemoryBus) setPendingGauge(depth int) {
	if m := b.config.Metrics; m != nil {
		m.SetPendingDepth(depth)
	}
}

func (b *inMemoryBus) setSubscriptionGauge(count int) {
	if m := b.config.Metrics; m != nil {
		m.SetSubscriptionCount(count)
	}
}

var _ MessageBus = (*inMemoryBus)(nil)
