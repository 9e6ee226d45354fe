package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/bus"
	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/types"
)

// =============================================================================
// 🧪 MessageHandler 测试
// =============================================================================

func newIngestBus() bus.MessageBus {
	return bus.New(&bus.Config{
		DefaultMaxRetries: 1,
		DefaultRetryDelay: time.Millisecond,
	}, zap.NewNop())
}

// chatEnvelopeBody 构造一个合法的 request.chat 信封线格式请求体。
func chatEnvelopeBody(t *testing.T) ([]byte, *envelope.Envelope) {
	t.Helper()
	env := envelope.New(
		types.NewAgentID("frontend", "tutor"),
		types.NewAgentID("backend", "grader"),
		types.TypeRequestChat,
		map[string]any{
			"session_id": "S-100",
			"message":    "explain binary search",
		},
	)
	body, err := envelope.Marshal(env)
	require.NoError(t, err)
	return body, env
}

func postIngest(handler *MessageHandler, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	handler.HandleIngest(w, r)
	return w
}

func TestMessageHandler_HandleIngest_Delivered(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	var received atomic.Int64
	unsub, err := b.Subscribe(types.TypeRequestChat.String(), func(_ context.Context, env *envelope.Envelope) error {
		received.Add(1)
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	handler := NewMessageHandler(b, time.Second, zap.NewNop())
	body, env := chatEnvelopeBody(t)

	w := postIngest(handler, body)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int64(1), received.Load())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, env.ID, data["message_id"])
	assert.Len(t, data["delivered_to"], 1)
}

func TestMessageHandler_HandleIngest_QueuedWithoutSubscriber(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	handler := NewMessageHandler(b, 0, zap.NewNop())
	body, _ := chatEnvelopeBody(t)

	w := postIngest(handler, body)

	// 无人订阅不是错误:信封进待投递队列
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["queued"])
	assert.Len(t, b.Pending(), 1)
}

func TestMessageHandler_HandleIngest_ValidationFailure(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	handler := NewMessageHandler(b, 0, zap.NewNop())

	// 缺 id/from/to,类型未知:逐字段错误随 422 返回
	w := postIngest(handler, []byte(`{"type":"bogus.type","payload":{}}`))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, data["valid"])
	rawErrors, ok := data["errors"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, rawErrors)

	// 校验失败的信封不得进入总线
	assert.Empty(t, b.Pending())
}

func TestMessageHandler_HandleIngest_DeliveryFailure(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	unsub, err := b.Subscribe(types.TypeRequestChat.String(), func(_ context.Context, env *envelope.Envelope) error {
		return errors.New("handler exploded")
	})
	require.NoError(t, err)
	defer unsub()

	handler := NewMessageHandler(b, time.Second, zap.NewNop())
	body, _ := chatEnvelopeBody(t)

	w := postIngest(handler, body)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrDelivery), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
}

func TestMessageHandler_HandleIngest_MethodNotAllowed(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	handler := NewMessageHandler(b, 0, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleIngest(w, httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMessageHandler_HandleIngest_WrongContentType(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	handler := NewMessageHandler(b, 0, zap.NewNop())
	body, _ := chatEnvelopeBody(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(body))
	r.Header.Set("Content-Type", "text/plain")
	handler.HandleIngest(w, r)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMessageHandler_HandlePending(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	handler := NewMessageHandler(b, 0, zap.NewNop())

	// 先入队一条无人订阅的信封
	body, env := chatEnvelopeBody(t)
	postIngest(handler, body)

	w := httptest.NewRecorder()
	handler.HandlePending(w, httptest.NewRequest(http.MethodGet, "/api/v1/pending", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["count"])

	messages, ok := data["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	first, ok := messages[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, env.ID, first["id"])
	assert.Equal(t, types.TypeRequestChat.String(), first["type"])
}

func TestMessageHandler_HandlePending_MethodNotAllowed(t *testing.T) {
	b := newIngestBus()
	defer b.Close()

	handler := NewMessageHandler(b, 0, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandlePending(w, httptest.NewRequest(http.MethodPost, "/api/v1/pending", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
