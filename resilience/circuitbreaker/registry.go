package circuitbreaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/internal/channel"
)

// StateStore 熔断器状态持久化接口。
// Save 失败不影响熔断行为(fail-soft),仅记录日志。
type StateStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, target string) (*Snapshot, error)
}

const (
	storeLoadTimeout = 5 * time.Second
	storeSaveTimeout = 5 * time.Second
)

// Registry 熔断器注册表，按 target 管理熔断器
type Registry struct {
	config *Config
	store  StateStore
	logger *zap.Logger

	breakers map[string]*breaker
	mu       sync.RWMutex

	// 快照经由可调缓冲通道异步落盘,避免阻塞调用路径
	saveCh *channel.TunableChannel[Snapshot]
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewRegistry 创建熔断器注册表。store 可以为 nil(不持久化)。
func NewRegistry(config *Config, store StateStore, logger *zap.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		config:   config,
		store:    store,
		logger:   logger.With(zap.String("component", "circuitbreaker_registry")),
		breakers: make(map[string]*breaker),
	}

	if store != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.saveCh = channel.NewTunableChannel[Snapshot](channel.DefaultTunableConfig())
		r.wg.Add(1)
		go r.saverLoop(ctx)
	}

	return r
}

// GetOrCreate 获取或创建 target 的熔断器。
// 首次创建时尝试从 StateStore 恢复持久化状态。
func (r *Registry) GetOrCreate(target string) CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[target]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查
	if cb, ok := r.breakers[target]; ok {
		return cb
	}

	var onSnapshot func(Snapshot)
	if r.store != nil {
		onSnapshot = r.enqueueSnapshot
	}
	cb := newBreaker(target, r.config, r.logger, onSnapshot)
	r.seedFromStore(cb, target)
	r.breakers[target] = cb
	return cb
}

// seedFromStore 从持久化存储恢复状态(失败时保持全新的关闭状态)。
func (r *Registry) seedFromStore(cb *breaker, target string) {
	if r.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeLoadTimeout)
	defer cancel()

	snap, err := r.store.Load(ctx, target)
	if err != nil {
		r.logger.Warn("加载熔断器状态失败",
			zap.String("target", target),
			zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	cb.Restore(*snap)
}

// enqueueSnapshot 非阻塞入队(在熔断器锁内调用)。
func (r *Registry) enqueueSnapshot(snap Snapshot) {
	if r.closed.Load() {
		return
	}
	if !r.saveCh.TrySend(snap) {
		r.logger.Debug("熔断器快照队列已满，丢弃快照",
			zap.String("target", snap.Target))
	}
}

// saverLoop 消费快照队列并写入 StateStore。
func (r *Registry) saverLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		snap, err := r.saveCh.Receive(ctx)
		if err != nil {
			// 注册表关闭，排空残留快照后退出
			for {
				rest, ok := r.saveCh.TryReceive()
				if !ok {
					return
				}
				r.persist(rest)
			}
		}
		r.persist(snap)
		// 队列容量随入队压力自适应;Tune 只能在消费间隙调用
		r.saveCh.Tune()
	}
}

func (r *Registry) persist(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), storeSaveTimeout)
	defer cancel()

	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Warn("保存熔断器状态失败",
			zap.String("target", snap.Target),
			zap.String("state", snap.StateName),
			zap.Error(err))
	}
}

// Snapshots 返回所有熔断器的当前快照。
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make(map[string]Snapshot, len(r.breakers))
	for target, cb := range r.breakers {
		snaps[target] = cb.Snapshot()
	}
	return snaps
}

// States 返回所有熔断器的当前状态。
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]State, len(r.breakers))
	for target, cb := range r.breakers {
		states[target] = cb.State()
	}
	return states
}

// ResetAll 重置所有熔断器。
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Close 停止异步落盘协程并排空队列。
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
