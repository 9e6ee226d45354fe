package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/resilience/circuitbreaker"
	"github.com/BaSui01/agentbus/types"
)

// =============================================================================
// ⚡ 熔断器诊断 Handler
// =============================================================================

// BreakerHandler 暴露熔断器注册表的诊断与管理端点
type BreakerHandler struct {
	registry *circuitbreaker.Registry
	logger   *zap.Logger
}

// NewBreakerHandler 创建熔断器诊断处理器
func NewBreakerHandler(registry *circuitbreaker.Registry, logger *zap.Logger) *BreakerHandler {
	return &BreakerHandler{
		registry: registry,
		logger:   logger,
	}
}

// HandleSnapshots 处理 GET /api/v1/breakers。
// 返回所有已知 target 的熔断器快照。
func (h *BreakerHandler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	snapshots := h.registry.Snapshots()

	WriteSuccess(w, map[string]any{
		"count":    len(snapshots),
		"breakers": snapshots,
	})
}

// HandleReset 处理 POST /api/v1/breakers/reset。
// 把所有熔断器重置回关闭状态,计数清零。运维止血用:
// 目标恢复后不想等冷却窗口时手动放行。
func (h *BreakerHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	before := h.registry.States()
	h.registry.ResetAll()

	h.logger.Info("all circuit breakers reset",
		zap.Int("count", len(before)),
	)

	states := make(map[string]string, len(before))
	for target, state := range before {
		states[target] = state.String()
	}

	WriteSuccess(w, map[string]any{
		"reset_count":     len(before),
		"previous_states": states,
	})
}
