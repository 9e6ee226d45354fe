// Package channel 提供容量可自适应的缓冲通道。
//
// 熔断器注册表用它做快照落盘管道：状态变更在锁内非阻塞入队，
// 后台单个消费者串行写入存储。熔断器频繁翻转时入队速率会突增，
// 固定容量要么平时浪费要么高峰丢弃，因此通道按采样窗口内的
// 阻塞率和占用率自动扩缩容。
package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TunableConfig 自适应通道配置。
type TunableConfig struct {
	InitialSize  int           `json:"initial_size"`
	MinSize      int           `json:"min_size"`
	MaxSize      int           `json:"max_size"`
	GrowFactor   float64       `json:"grow_factor"`
	ShrinkFactor float64       `json:"shrink_factor"`
	SampleWindow time.Duration `json:"sample_window"`
}

// DefaultTunableConfig 返回默认配置。
func DefaultTunableConfig() TunableConfig {
	return TunableConfig{
		InitialSize:  64,
		MinSize:      16,
		MaxSize:      4096,
		GrowFactor:   2.0,
		ShrinkFactor: 0.5,
		SampleWindow: 10 * time.Second,
	}
}

// TunableChannel 容量可调的缓冲通道。
//
// 使用约束：生产者任意多个(TrySend 非阻塞)；消费者只能有一个，
// 且 Tune 只允许该消费者在两次 Receive 之间调用——Receive 阻塞
// 期间换底层通道会让消费者停在旧通道上收不到新值。
type TunableChannel[T any] struct {
	config TunableConfig
	ch     chan T
	mu     sync.RWMutex
	size   int

	// 扩缩容依据的采样计数
	sends    atomic.Int64
	receives atomic.Int64
	blocks   atomic.Int64
	lastTune time.Time
}

// NewTunableChannel 创建自适应通道。
func NewTunableChannel[T any](config TunableConfig) *TunableChannel[T] {
	return &TunableChannel[T]{
		config:   config,
		ch:       make(chan T, config.InitialSize),
		size:     config.InitialSize,
		lastTune: time.Now(),
	}
}

// TrySend 非阻塞入队。队列满时返回 false，由调用方决定丢弃或记录。
// 与 resize 并发时个别值可能落入换下来的旧通道而丢失；该管道本身
// 就是允许丢弃的，不做额外补偿。
func (tc *TunableChannel[T]) TrySend(v T) bool {
	tc.mu.RLock()
	ch := tc.ch
	tc.mu.RUnlock()

	select {
	case ch <- v:
		tc.sends.Add(1)
		return true
	default:
		tc.blocks.Add(1)
		return false
	}
}

// Receive 阻塞接收，ctx 取消时返回 ctx.Err()。
func (tc *TunableChannel[T]) Receive(ctx context.Context) (T, error) {
	tc.receives.Add(1)

	tc.mu.RLock()
	ch := tc.ch
	tc.mu.RUnlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive 非阻塞接收，通道空时返回 false。关闭前排空残留值用。
func (tc *TunableChannel[T]) TryReceive() (T, bool) {
	tc.mu.RLock()
	ch := tc.ch
	tc.mu.RUnlock()

	select {
	case v := <-ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len 返回当前积压的值数量。
func (tc *TunableChannel[T]) Len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.ch)
}

// Cap 返回当前容量。
func (tc *TunableChannel[T]) Cap() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.size
}

// Tune 根据采样窗口内的使用情况调整容量：阻塞率超过 10% 时扩容，
// 占用率低于 25% 且几乎无阻塞时缩容。只能由唯一消费者在两次
// Receive 之间调用。
func (tc *TunableChannel[T]) Tune() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if time.Since(tc.lastTune) < tc.config.SampleWindow {
		return
	}

	blocks := tc.blocks.Swap(0)
	sends := tc.sends.Swap(0)

	if sends == 0 && blocks == 0 {
		return
	}

	attempts := sends + blocks
	blockRate := float64(blocks) / float64(attempts)
	utilization := float64(len(tc.ch)) / float64(tc.size)

	newSize := tc.size

	if blockRate > 0.1 && tc.size < tc.config.MaxSize {
		newSize = int(float64(tc.size) * tc.config.GrowFactor)
		if newSize > tc.config.MaxSize {
			newSize = tc.config.MaxSize
		}
	}

	if utilization < 0.25 && blockRate < 0.01 && tc.size > tc.config.MinSize {
		newSize = int(float64(tc.size) * tc.config.ShrinkFactor)
		if newSize < tc.config.MinSize {
			newSize = tc.config.MinSize
		}
	}

	if newSize != tc.size {
		tc.resize(newSize)
	}

	tc.lastTune = time.Now()
}

// resize 换一条新容量的底层通道，并把旧通道中的积压迁移过去。
// 缩容时装不下的部分丢弃。
func (tc *TunableChannel[T]) resize(newSize int) {
	newCh := make(chan T, newSize)

	for {
		select {
		case v := <-tc.ch:
			select {
			case newCh <- v:
			default:
				tc.ch = newCh
				tc.size = newSize
				return
			}
		default:
			tc.ch = newCh
			tc.size = newSize
			return
		}
	}
}

// Stats 返回通道的计数快照。
func (tc *TunableChannel[T]) Stats() TunableChannelStats {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return TunableChannelStats{
		Size:        tc.size,
		Length:      len(tc.ch),
		Sends:       tc.sends.Load(),
		Receives:    tc.receives.Load(),
		Blocks:      tc.blocks.Load(),
		Utilization: float64(len(tc.ch)) / float64(tc.size),
	}
}

// TunableChannelStats 通道计数快照。
type TunableChannelStats struct {
	Size        int     `json:"size"`
	Length      int     `json:"length"`
	Sends       int64   `json:"sends"`
	Receives    int64   `json:"receives"`
	Blocks      int64   `json:"blocks"`
	Utilization float64 `json:"utilization"`
}
