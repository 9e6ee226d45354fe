package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentbus/types"
)

// 校验错误码。
const (
	// CodeRequiredField 表示必填字段缺失或为空。
	CodeRequiredField = "REQUIRED_FIELD"
	// CodeInvalidField 表示字段存在但类型或格式错误。
	CodeInvalidField = "INVALID_FIELD"
	// CodeUnknownType 表示消息类型不在封闭枚举内。
	CodeUnknownType = "UNKNOWN_TYPE"
	// CodeVersionMismatch 表示协议主版本号不兼容。
	CodeVersionMismatch = "VERSION_MISMATCH"
	// CodeInvalidEnvelope 表示候选值根本不是结构化对象。
	CodeInvalidEnvelope = "INVALID_ENVELOPE"
)

// FieldError 描述单个字段的校验失败。
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// String 按 "field: message [CODE]" 呈现单条校验错误。
func (e FieldError) String() string {
	if e.Field == "" {
		return fmt.Sprintf("%s [%s]", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Field, e.Message, e.Code)
}

// Result 是一次校验的完整结果。
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Err 把无效结果转换为结构化错误;有效结果返回 nil。
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	parts := make([]string, 0, len(r.Errors))
	for _, fe := range r.Errors {
		parts = append(parts, fe.String())
	}
	return types.NewError(types.ErrValidation, strings.Join(parts, "; ")).WithComponent("envelope")
}

// protocolMajor 在包初始化时从 ProtocolVersion 解析。
var protocolMajor = func() int {
	major, _, ok := splitSemver(ProtocolVersion)
	if !ok {
		panic("envelope: invalid ProtocolVersion " + ProtocolVersion)
	}
	return major
}()

// Validate 校验任意候选值是否为合法信封。
//
// 纯函数:不修改输入,不产生副作用,绝不 panic。接受 *Envelope、
// Envelope、map[string]any 以及 JSON 字节。检查顺序:结构化对象 →
// 必填字段与类型 → id/时间戳格式 → 版本主号 → 消息类型 → 按类型的
// 载荷必填键 → 元数据取值范围。未知类型只产生一条错误并跳过载荷检查。
func Validate(candidate any) Result {
	m, fe := asWireMap(candidate)
	if fe != nil {
		return Result{Valid: false, Errors: []FieldError{*fe}}
	}
	errs := validateMap(m)
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func asWireMap(candidate any) (map[string]any, *FieldError) {
	switch c := candidate.(type) {
	case nil:
		return nil, &FieldError{Code: CodeInvalidEnvelope, Message: "envelope candidate is nil"}
	case *Envelope:
		if c == nil {
			return nil, &FieldError{Code: CodeInvalidEnvelope, Message: "envelope candidate is nil"}
		}
		return c.toWire().asMap(), nil
	case Envelope:
		return c.toWire().asMap(), nil
	case map[string]any:
		if c == nil {
			return nil, &FieldError{Code: CodeInvalidEnvelope, Message: "envelope candidate is nil"}
		}
		return c, nil
	case json.RawMessage:
		return parseWireJSON([]byte(c))
	case []byte:
		return parseWireJSON(c)
	default:
		return nil, &FieldError{
			Code:    CodeInvalidEnvelope,
			Message: fmt.Sprintf("envelope candidate must be a structured object, got %T", candidate),
		}
	}
}

func parseWireJSON(data []byte) (map[string]any, *FieldError) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &FieldError{Code: CodeInvalidEnvelope, Message: "envelope candidate is not valid JSON"}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &FieldError{Code: CodeInvalidEnvelope, Message: "envelope candidate is not a JSON object"}
	}
	return m, nil
}

func (w *wireEnvelope) asMap() map[string]any {
	m := map[string]any{
		"id":        w.ID,
		"from":      w.From,
		"to":        w.To,
		"type":      w.Type,
		"timestamp": w.Timestamp,
		"version":   w.Version,
	}
	if w.Payload != nil {
		m["payload"] = w.Payload
	}
	if w.CorrelationID != "" {
		m["correlation_id"] = w.CorrelationID
	}
	if w.Metadata != nil {
		md := map[string]any{}
		if w.Metadata.TraceID != "" {
			md["trace_id"] = w.Metadata.TraceID
		}
		if w.Metadata.SpanID != "" {
			md["span_id"] = w.Metadata.SpanID
		}
		if w.Metadata.Priority != 0 {
			md["priority"] = w.Metadata.Priority
		}
		if w.Metadata.TTLMS != 0 {
			md["ttl_ms"] = w.Metadata.TTLMS
		}
		if w.Metadata.Retry != 0 {
			md["retry"] = w.Metadata.Retry
		}
		m["metadata"] = md
	}
	return m
}

func validateMap(m map[string]any) []FieldError {
	var errs []FieldError
	add := func(field, code, msg string) {
		errs = append(errs, FieldError{Field: field, Code: code, Message: msg})
	}

	if id, ok := requireString(m, "id", add); ok && !isUUIDv4(id) {
		add("id", CodeInvalidField, fmt.Sprintf("id %q is not a uuid v4", id))
	}
	if from, ok := requireString(m, "from", add); ok {
		if err := types.AgentID(from).Validate(); err != nil {
			add("from", CodeInvalidField, fmt.Sprintf("from %q is not a valid agent id", from))
		}
	}
	if to, ok := requireString(m, "to", add); ok {
		if err := types.AgentID(to).Validate(); err != nil {
			add("to", CodeInvalidField, fmt.Sprintf("to %q is not a valid agent id", to))
		}
	}

	var msgType types.MessageType
	typeKnown := false
	if raw, ok := requireString(m, "type", add); ok {
		msgType = types.MessageType(raw)
		if msgType.Valid() {
			typeKnown = true
		} else {
			add("type", CodeUnknownType, fmt.Sprintf("unknown message type %q", raw))
		}
	}

	payload, payloadOK := requireObject(m, "payload", add)

	if ts, ok := requireString(m, "timestamp", add); ok {
		if !strings.ContainsRune(ts, 'T') {
			add("timestamp", CodeInvalidField, fmt.Sprintf("timestamp %q must use the RFC3339 'T' separator", ts))
		} else if !parsesRFC3339(ts) {
			add("timestamp", CodeInvalidField, fmt.Sprintf("timestamp %q is not RFC3339", ts))
		}
	}

	if ver, ok := requireString(m, "version", add); ok {
		if major, _, semverOK := splitSemver(ver); !semverOK {
			add("version", CodeInvalidField, fmt.Sprintf("version %q is not semver", ver))
		} else if major != protocolMajor {
			add("version", CodeVersionMismatch,
				fmt.Sprintf("envelope version %s is incompatible with protocol %s", ver, ProtocolVersion))
		}
	}

	if v, present := m["correlation_id"]; present {
		if s, ok := v.(string); !ok || !isUUIDv4(s) {
			add("correlation_id", CodeInvalidField, "correlation_id must be a uuid v4 string")
		}
	}

	if v, present := m["metadata"]; present {
		validateMetadata(v, add)
	}

	if typeKnown && payloadOK {
		validatePayload(msgType, payload, add)
	}

	return errs
}

func validateMetadata(v any, add func(field, code, msg string)) {
	md, ok := v.(map[string]any)
	if !ok {
		add("metadata", CodeInvalidField, "metadata must be an object")
		return
	}
	if p, present := md["priority"]; present {
		if f, isNum := asNumber(p); !isNum || f < 1 || f > 10 {
			add("metadata.priority", CodeInvalidField, "priority must be a number in 1..10")
		}
	}
	if t, present := md["ttl_ms"]; present {
		if f, isNum := asNumber(t); !isNum || f < 0 {
			add("metadata.ttl_ms", CodeInvalidField, "ttl_ms must be a non-negative number")
		}
	}
	if r, present := md["retry"]; present {
		if f, isNum := asNumber(r); !isNum || f < 0 {
			add("metadata.retry", CodeInvalidField, "retry must be a non-negative number")
		}
	}
	for _, key := range []string{"trace_id", "span_id"} {
		if s, present := md[key]; present {
			if _, isStr := s.(string); !isStr {
				add("metadata."+key, CodeInvalidField, key+" must be a string")
			}
		}
	}
}

// fieldKind 描述载荷必填键的期望类型。
type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
)

type payloadField struct {
	key  string
	kind fieldKind
}

// payloadSchema 是按消息类型的载荷必填键表(标签联合)。
var payloadSchema = map[types.MessageType][]payloadField{
	types.TypeRequestChat:           {{"session_id", kindString}, {"message", kindString}},
	types.TypeRequestAction:         {{"action", kindString}},
	types.TypeResponseChat:          {{"session_id", kindString}, {"message", kindString}},
	types.TypeResponseAction:        {{"action", kindString}, {"status", kindString}},
	types.TypeTaskAssigned:          {{"task_id", kindString}},
	types.TypeTaskStarted:           {{"task_id", kindString}},
	types.TypeTaskCompleted:         {{"task_id", kindString}},
	types.TypeTaskBlocked:           {{"task_id", kindString}, {"reason", kindString}},
	types.TypeTaskHandoff:           {{"task_id", kindString}, {"to_agent", kindString}},
	types.TypeSessionStarted:        {{"session_id", kindString}},
	types.TypeSessionEnded:          {{"session_id", kindString}},
	types.TypeSessionUpdated:        {{"session_id", kindString}},
	types.TypeFeedbackSubmitted:     {{"session_id", kindString}},
	types.TypeFeedbackProcessed:     {{"session_id", kindString}},
	types.TypeOptimizationStarted:   {{"job_id", kindString}},
	types.TypeOptimizationCompleted: {{"job_id", kindString}},
	types.TypeOptimizationFailed:    {{"job_id", kindString}, {"error", kindString}},
	types.TypeKnowledgeUploaded:     {{"document_id", kindString}},
	types.TypeKnowledgeEmbedded:     {{"document_id", kindString}},
	types.TypeKnowledgeDeleted:      {{"document_id", kindString}},
	types.TypeSystemHealth:          {{"status", kindString}},
	types.TypeSystemError:           {{"message", kindString}},
	types.TypeSystemMetric:          {{"name", kindString}, {"value", kindNumber}},
}

func validatePayload(t types.MessageType, payload map[string]any, add func(field, code, msg string)) {
	for _, rule := range payloadSchema[t] {
		field := "payload." + rule.key
		v, present := payload[rule.key]
		if !present {
			add(field, CodeRequiredField, fmt.Sprintf("%s requires payload key %q", t, rule.key))
			continue
		}
		switch rule.kind {
		case kindString:
			s, isStr := v.(string)
			if !isStr {
				add(field, CodeInvalidField, fmt.Sprintf("payload key %q must be a string", rule.key))
			} else if s == "" {
				add(field, CodeRequiredField, fmt.Sprintf("payload key %q must not be empty", rule.key))
			}
		case kindNumber:
			if _, isNum := asNumber(v); !isNum {
				add(field, CodeInvalidField, fmt.Sprintf("payload key %q must be a number", rule.key))
			}
		}
	}

	// 个别类型在必填键之外还有取值约束。
	if t == types.TypeFeedbackSubmitted {
		if v, present := payload["rating"]; present {
			if s, ok := v.(string); !ok || (s != "thumbs_up" && s != "thumbs_down") {
				add("payload.rating", CodeInvalidField, `rating must be "thumbs_up" or "thumbs_down"`)
			}
		}
		if v, present := payload["rating_value"]; present {
			if f, isNum := asNumber(v); !isNum || f < 1 || f > 5 {
				add("payload.rating_value", CodeInvalidField, "rating_value must be a number in 1..5")
			}
		}
	}
}

func requireString(m map[string]any, key string, add func(field, code, msg string)) (string, bool) {
	v, present := m[key]
	if !present {
		add(key, CodeRequiredField, fmt.Sprintf("field %q is required", key))
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		add(key, CodeInvalidField, fmt.Sprintf("field %q must be a string", key))
		return "", false
	}
	if s == "" {
		add(key, CodeRequiredField, fmt.Sprintf("field %q must not be empty", key))
		return "", false
	}
	return s, true
}

func requireObject(m map[string]any, key string, add func(field, code, msg string)) (map[string]any, bool) {
	v, present := m[key]
	if !present {
		add(key, CodeRequiredField, fmt.Sprintf("field %q is required", key))
		return nil, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		add(key, CodeInvalidField, fmt.Sprintf("field %q must be a structured object", key))
		return nil, false
	}
	return obj, true
}

func isUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}

func parsesRFC3339(s string) bool {
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

func splitSemver(v string) (major, minor int, ok bool) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, 0, false
	}
	var err error
	major, err = strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return 0, 0, false
	}
	if _, err := strconv.Atoi(parts[2]); err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
