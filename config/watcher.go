// 配置文件变更监听器实现。
//
// 基于修改时间轮询触发配置重载回调,带防抖。
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher 轮询一组文件的 mtime,把变更合并去抖后推给回调。
// 热重载管理器靠它感知配置文件的写入。
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	// 回调
	callbacks []func(event FileEvent)

	// 记录器
	logger *zap.Logger

	// 轮询比对用的最后修改时间
	lastModTimes map[string]time.Time
}

// FileEvent 是一次文件变更。
type FileEvent struct {
	// Path 是变更的文件路径
	Path string `json:"path"`

	// Op 是操作类型
	Op FileOp `json:"op"`

	// Timestamp 是事件发生的时间
	Timestamp time.Time `json:"timestamp"`
}

// FileOp 是文件操作类型。
// 基于 mtime 的轮询只能区分创建、修改与删除。
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 表示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String 返回操作类型的可读名称。
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption 配置 FileWatcher。
type WatcherOption func(*FileWatcher)

// WithDebounceDelay 设置防抖窗口。
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval 设置轮询间隔,非正值忽略。
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger 设置日志记录器。
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建监听器。路径暂不存在只警告不报错,
// 之后文件落地会产生 CREATE 事件。
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:         paths,
		pollInterval:  1 * time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 100),
		callbacks:     make([]func(FileEvent), 0),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				w.logger.Warn("Config file does not exist, will watch for creation",
					zap.String("path", path))
			} else {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
		}
	}

	return w, nil
}

// OnChange 注册变更回调,Start 之前或之后调用都可以。
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动轮询与分发两个 goroutine。重复启动报错。
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true

	// 记录基线 mtime,启动前已有的内容不算变更
	for _, path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			w.lastModTimes[path] = info.ModTime()
		}
	}
	stop := w.stopChan
	w.mu.Unlock()

	go w.pollLoop(ctx, stop)
	go w.dispatchLoop(ctx, stop)

	w.logger.Info("File watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop 叫停两个 goroutine,重复调用是幂等的。
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("File watcher stopped")
	return nil
}

// pollLoop 周期触发一轮 mtime 比对。
func (w *FileWatcher) pollLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.checkFiles()
		}
	}
}

// checkFiles 找出一轮变更并投递。投递在锁外进行,事件通道满时
// 丢弃并告警,绝不把轮询 goroutine 卡死在分发上。
func (w *FileWatcher) checkFiles() {
	w.mu.Lock()
	events := w.collectChanges()
	w.mu.Unlock()

	for _, evt := range events {
		select {
		case w.eventChan <- evt:
		default:
			w.logger.Warn("Event channel full, dropping event",
				zap.String("path", evt.Path),
				zap.String("op", evt.Op.String()))
		}
	}
}

// collectChanges 对比 mtime 生成变更事件,调用方必须持有 w.mu。
func (w *FileWatcher) collectChanges() []FileEvent {
	now := time.Now()
	var events []FileEvent

	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				// 之前存在的文件被删除
				if _, tracked := w.lastModTimes[path]; tracked {
					delete(w.lastModTimes, path)
					events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
				}
			}
			continue
		}

		last, tracked := w.lastModTimes[path]
		switch {
		case !tracked:
			w.lastModTimes[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case info.ModTime().After(last):
			w.lastModTimes[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}

	return events
}

// dispatchLoop 按防抖窗口合并事件再分发:同一路径的连续变更
// 只保留最后一个,窗口内无新事件才冲刷。
func (w *FileWatcher) dispatchLoop(ctx context.Context, stop <-chan struct{}) {
	pending := make(map[string]FileEvent)

	timer := time.NewTimer(w.debounceDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event := <-w.eventChan:
			pending[event.Path] = event
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

// dispatch 把合并后的事件逐个交给全部回调。
func (w *FileWatcher) dispatch(pending map[string]FileEvent) {
	if len(pending) == 0 {
		return
	}

	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, evt := range pending {
		w.logger.Debug("Dispatching file event",
			zap.String("path", evt.Path),
			zap.String("op", evt.Op.String()))

		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

// AddPath 追加监听路径,已存在时是空操作。
func (w *FileWatcher) AddPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	for _, p := range w.paths {
		if p == path || p == absPath {
			return nil
		}
	}

	w.paths = append(w.paths, absPath)

	if info, err := os.Stat(absPath); err == nil {
		w.lastModTimes[absPath] = info.ModTime()
	}

	w.logger.Info("Added path to watcher", zap.String("path", absPath))
	return nil
}

// RemovePath 移除监听路径,原始写法与绝对路径都能匹配。
func (w *FileWatcher) RemovePath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, _ := filepath.Abs(path)

	for i, p := range w.paths {
		if p == path || p == absPath {
			w.paths = append(w.paths[:i], w.paths[i+1:]...)
			delete(w.lastModTimes, p)
			w.logger.Info("Removed path from watcher", zap.String("path", p))
			return nil
		}
	}

	return fmt.Errorf("path not found: %s", path)
}

// Paths 返回监听路径的副本。
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning 返回监听器是否在运行。
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
