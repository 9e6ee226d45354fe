package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/agentbus/internal/pool"
	"github.com/BaSui01/agentbus/types"
)

// TimeLayout 是信封时间戳的线格式:毫秒精度恒定,显式 T 分隔符。
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// wireEnvelope 是信封的 JSON 线格式。
type wireEnvelope struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      *wireMetadata  `json:"metadata,omitempty"`
}

type wireMetadata struct {
	TraceID  string `json:"trace_id,omitempty"`
	SpanID   string `json:"span_id,omitempty"`
	Priority int    `json:"priority,omitempty"`
	TTLMS    int64  `json:"ttl_ms,omitempty"`
	Retry    int    `json:"retry,omitempty"`
}

func (e *Envelope) toWire() *wireEnvelope {
	w := &wireEnvelope{
		ID:            e.ID,
		From:          string(e.From),
		To:            string(e.To),
		Type:          string(e.Type),
		Payload:       e.Payload,
		Timestamp:     e.Timestamp.UTC().Format(TimeLayout),
		Version:       e.Version,
		CorrelationID: e.CorrelationID,
	}
	md := wireMetadata{
		TraceID:  e.Metadata.TraceID,
		SpanID:   e.Metadata.SpanID,
		Priority: e.Metadata.Priority,
		Retry:    e.Metadata.Retry,
	}
	if e.Metadata.TTL > 0 {
		md.TTLMS = e.Metadata.TTL.Milliseconds()
	}
	if md != (wireMetadata{}) {
		w.Metadata = &md
	}
	return w
}

func (e *Envelope) fromWire(w *wireEnvelope) error {
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return fmt.Errorf("envelope timestamp %q: %w", w.Timestamp, err)
	}
	e.ID = w.ID
	e.From = types.AgentID(w.From)
	e.To = types.AgentID(w.To)
	e.Type = types.MessageType(w.Type)
	e.Payload = w.Payload
	e.Timestamp = ts.UTC()
	e.Version = w.Version
	e.CorrelationID = w.CorrelationID
	e.Metadata = Metadata{Priority: DefaultPriority}
	if w.Metadata != nil {
		e.Metadata.TraceID = w.Metadata.TraceID
		e.Metadata.SpanID = w.Metadata.SpanID
		if w.Metadata.Priority != 0 {
			e.Metadata.Priority = w.Metadata.Priority
		}
		e.Metadata.TTL = time.Duration(w.Metadata.TTLMS) * time.Millisecond
		e.Metadata.Retry = w.Metadata.Retry
	}
	return nil
}

// MarshalJSON 实现 json.Marshaler。
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toWire())
}

// UnmarshalJSON 实现 json.Unmarshaler。未知的兄弟字段被忽略,
// 但核心字段格式错误会返回错误。
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return e.fromWire(&w)
}

// Marshal 将信封编码为 JSON 字节。编码经过内部缓冲池,返回的切片
// 是独立拷贝,调用方可自由持有。
func Marshal(e *Envelope) ([]byte, error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	enc := json.NewEncoder(buf)
	if err := enc.Encode(e.toWire()); err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", e.ID, err)
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	dup := make([]byte, len(out))
	copy(dup, out)
	return dup, nil
}

// Unmarshal 从 JSON 字节解码信封。
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &e, nil
}
