// Package pool 提供基于 sync.Pool 的对象复用。
//
// 信封编解码在每次 Marshal 时需要一个临时字节缓冲；高吞吐下逐次分配
// 会给 GC 带来可观压力，因此编解码路径统一经过 ByteBufferPool。
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool 泛型对象池。Get/New/Put 次数以原子计数器记录，
// 供测试与健康诊断观察命中率。
type Pool[T any] struct {
	pool    sync.Pool
	newFunc func() T
	reset   func(*T)

	gets   atomic.Int64
	puts   atomic.Int64
	news   atomic.Int64
	resets atomic.Int64
}

// NewPool 创建对象池。resetFunc 在对象归还时调用，负责清除
// 上一次使用残留的状态；传 nil 表示对象无需重置。
func NewPool[T any](newFunc func() T, resetFunc func(*T)) *Pool[T] {
	p := &Pool[T]{
		newFunc: newFunc,
		reset:   resetFunc,
	}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get 从池中取出一个对象，池空时调用 newFunc 新建。
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put 归还对象。归还后调用方不得再持有引用。
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.resets.Add(1)
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats 返回池的计数快照。
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		News:   p.news.Load(),
		Resets: p.resets.Load(),
	}
}

// PoolStats 对象池计数。
type PoolStats struct {
	Gets   int64 `json:"gets"`
	Puts   int64 `json:"puts"`
	News   int64 `json:"news"`
	Resets int64 `json:"resets"`
}

// HitRate 返回复用命中率(未触发新建的 Get 占比)。
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// ByteBufferPool 信封编码共用的字节缓冲池。
// 初始容量按典型信封线格式(头部 + 中等载荷)取 4KB，
// 超长载荷会让缓冲自然增长并随归还保留容量。
var ByteBufferPool = NewPool(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
	func(b **bytes.Buffer) {
		(*b).Reset()
	},
)
