package bus

import "time"

// publishOptions 控制单次发布的行为。
// 默认:校验开启、重试开启(次数与延迟取总线配置)、无超时。
type publishOptions struct {
	validate   bool
	retry      bool
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

func defaultPublishOptions(config *Config) *publishOptions {
	return &publishOptions{
		validate:   true,
		retry:      true,
		maxRetries: config.DefaultMaxRetries,
		retryDelay: config.DefaultRetryDelay,
	}
}

// PublishOption 调整单次发布的行为
type PublishOption func(*publishOptions)

// WithoutValidation 跳过发布前校验(信封已在边界校验过时使用)。
func WithoutValidation() PublishOption {
	return func(o *publishOptions) { o.validate = false }
}

// WithoutRetry 处理器失败不重试,立即记为投递失败。
func WithoutRetry() PublishOption {
	return func(o *publishOptions) { o.retry = false }
}

// WithRetry 覆盖本次发布的重试次数与线性退避基础延迟。
func WithRetry(maxRetries int, delay time.Duration) PublishOption {
	return func(o *publishOptions) {
		o.retry = true
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// WithTimeout 为每次处理器调用施加超时,超过即取消并记为失败。
func WithTimeout(timeout time.Duration) PublishOption {
	return func(o *publishOptions) { o.timeout = timeout }
}
