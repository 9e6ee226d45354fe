package envelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentbus/types"
)

// ProtocolVersion 是当前信封协议版本。校验时只比较主版本号。
const ProtocolVersion = "1.0.0"

// DefaultPriority 是未显式指定时的消息优先级(1 最低,10 最高)。
const DefaultPriority = 5

// Envelope 是总线上的标准消息信封。
//
// 信封由 New / NewResponse 创建一次,之后视为不可变值:任何派生
// (回复、重投递)都产生新的信封,绝不原地修改。并发读取无须加锁。
type Envelope struct {
	// ID 是此消息的唯一标识符(uuid v4)。
	ID string
	// From 是发送方代理标识。
	From types.AgentID
	// To 是接收方代理标识。
	To types.AgentID
	// Type 决定 Payload 的结构(封闭枚举,见 types.MessageType)。
	Type types.MessageType
	// Payload 携带按类型区分的消息数据,必须是结构化对象。
	Payload map[string]any
	// Timestamp 是消息创建时刻(UTC)。
	Timestamp time.Time
	// Version 是协议语义化版本号。
	Version string
	// CorrelationID 关联请求信封的 ID(可选,回复时设置)。
	CorrelationID string
	// Metadata 携带路由与追踪元数据。
	Metadata Metadata
}

// Metadata 是信封的路由与追踪元数据。
type Metadata struct {
	// TraceID / SpanID 用于跨组件追踪传播。
	TraceID string
	SpanID  string
	// Priority 取值 1..10,默认 5。
	Priority int
	// TTL 是消息存活时长,零值表示不过期。
	TTL time.Duration
	// Retry 是投递尝试计数器。
	Retry int
}

// Option 配置新建的信封。
type Option func(*Envelope)

// WithCorrelationID 设置关联的请求 ID。
func WithCorrelationID(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithPriority 设置优先级(校验器检查 1..10 范围)。
func WithPriority(p int) Option {
	return func(e *Envelope) { e.Metadata.Priority = p }
}

// WithTTL 设置消息存活时长。
func WithTTL(d time.Duration) Option {
	return func(e *Envelope) { e.Metadata.TTL = d }
}

// WithTraceContext 设置追踪上下文。
func WithTraceContext(traceID, spanID string) Option {
	return func(e *Envelope) {
		e.Metadata.TraceID = traceID
		e.Metadata.SpanID = spanID
	}
}

// WithRetry 设置投递尝试计数。
func WithRetry(n int) Option {
	return func(e *Envelope) { e.Metadata.Retry = n }
}

// WithTimestamp 覆盖创建时刻,用于测试与回放。
func WithTimestamp(ts time.Time) Option {
	return func(e *Envelope) { e.Timestamp = ts.UTC() }
}

// WithID 覆盖自动生成的 ID,用于测试与回放。
func WithID(id string) Option {
	return func(e *Envelope) { e.ID = id }
}

// New 创建一个新信封:自动生成 uuid v4 标识、UTC 时间戳与协议版本。
// nil 载荷替换为空对象,保证校验器看到结构化载荷。
func New(from, to types.AgentID, t types.MessageType, payload map[string]any, opts ...Option) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	e := &Envelope{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Version:   ProtocolVersion,
		Metadata:  Metadata{Priority: DefaultPriority},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewResponse 基于请求信封创建回复:交换收发双方,设置
// correlation_id = req.ID,并延续追踪上下文。
func NewResponse(req *Envelope, t types.MessageType, payload map[string]any, opts ...Option) *Envelope {
	base := []Option{
		WithCorrelationID(req.ID),
		WithTraceContext(req.Metadata.TraceID, req.Metadata.SpanID),
	}
	return New(req.To, req.From, t, payload, append(base, opts...)...)
}

// Clone 返回信封的副本,载荷做顶层浅拷贝。嵌套值仍与原信封共享,
// 调用方不应修改它们。
func (e *Envelope) Clone() *Envelope {
	dup := *e
	dup.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		dup.Payload[k] = v
	}
	return &dup
}

// IsReply 检查此信封是否是对另一个信封的回复。
func (e *Envelope) IsReply() bool {
	return e.CorrelationID != ""
}

// Expired 检查信封在 now 时刻是否已超过 TTL。零 TTL 永不过期。
func (e *Envelope) Expired(now time.Time) bool {
	if e.Metadata.TTL <= 0 {
		return false
	}
	return now.After(e.Timestamp.Add(e.Metadata.TTL))
}
