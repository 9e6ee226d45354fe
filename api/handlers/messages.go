package handlers

import (
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/bus"
	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/internal/ctxkeys"
	"github.com/BaSui01/agentbus/types"
)

// =============================================================================
// ✉️ 消息接入 Handler
// =============================================================================

// MessageHandler 接收外部信封并发布到消息总线
type MessageHandler struct {
	bus             bus.MessageBus
	deliveryTimeout time.Duration
	logger          *zap.Logger
}

// NewMessageHandler 创建消息接入处理器。
// deliveryTimeout 为 0 时单次投递不限时。
func NewMessageHandler(mbus bus.MessageBus, deliveryTimeout time.Duration, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		bus:             mbus,
		deliveryTimeout: deliveryTimeout,
		logger:          logger,
	}
}

// HandleIngest 处理 POST /api/v1/messages。
// 请求体是信封的线格式 JSON。校验失败返回 422 与逐字段错误;
// 校验通过后同步发布,投递结果随 202 返回,投递失败返回 502。
func (h *MessageHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "failed to read request body", h.logger)
		return
	}

	// 发布前校验:422 响应携带逐字段错误,供调用方修正
	vr := envelope.Validate(body)
	if !vr.Valid {
		h.logger.Warn("envelope rejected",
			zap.Int("error_count", len(vr.Errors)),
		)
		WriteJSON(w, http.StatusUnprocessableEntity, Response{
			Success: false,
			Data:    vr,
			Error: &ErrorInfo{
				Code:    string(types.ErrValidation),
				Message: "envelope validation failed",
			},
			Timestamp: time.Now(),
		})
		return
	}

	env, err := envelope.Unmarshal(body)
	if err != nil {
		// 校验已通过,到这里只剩极端的解码边界
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, err.Error(), h.logger)
		return
	}

	// 追踪开启时把 trace_id 带进日志,便于与链路对齐
	traceField := zap.Skip()
	if tid, ok := ctxkeys.TraceID(r.Context()); ok {
		traceField = zap.String("trace_id", tid)
	}

	// 发布(总线内部会再校验一次,对已校验的信封是空操作)
	opts := []bus.PublishOption{}
	if h.deliveryTimeout > 0 {
		opts = append(opts, bus.WithTimeout(h.deliveryTimeout))
	}
	result := h.bus.Publish(r.Context(), env, opts...)

	if !result.Success {
		h.logger.Warn("publish failed",
			zap.String("message_id", result.MessageID),
			zap.Strings("errors", result.Errors),
			traceField,
		)
		WriteJSON(w, http.StatusBadGateway, Response{
			Success: false,
			Data:    result,
			Error: &ErrorInfo{
				Code:      string(types.ErrDelivery),
				Message:   "envelope delivery failed",
				Retryable: true,
			},
			Timestamp: time.Now(),
		})
		return
	}

	h.logger.Info("envelope accepted",
		zap.String("message_id", result.MessageID),
		zap.String("type", env.Type.String()),
		zap.Int("delivered", len(result.DeliveredTo)),
		zap.Bool("queued", result.Queued),
		traceField,
	)

	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      result,
		Timestamp: time.Now(),
	})
}

// HandlePending 处理 GET /api/v1/pending。
// 返回待投递队列的深度与消息概要,用于诊断无人订阅的消息类型。
func (h *MessageHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	pending := h.bus.Pending()

	summaries := make([]map[string]any, 0, len(pending))
	for _, env := range pending {
		summaries = append(summaries, map[string]any{
			"id":        env.ID,
			"from":      env.From.String(),
			"to":        env.To.String(),
			"type":      env.Type.String(),
			"timestamp": env.Timestamp,
		})
	}

	WriteSuccess(w, map[string]any{
		"count":    len(pending),
		"messages": summaries,
	})
}
