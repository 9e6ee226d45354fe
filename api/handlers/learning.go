package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/persistence"
	"github.com/BaSui01/agentbus/types"
)

// =============================================================================
// 📚 学习进度查询 Handler
// =============================================================================

// defaultReviewLimit 限制一次返回的待复核条数。
const defaultReviewLimit = 50

// LearningHandler 暴露学习管道产物的只读查询端点:
// 掌握度、人工复核队列与会话反馈。
type LearningHandler struct {
	store  *persistence.Store
	logger *zap.Logger
}

// NewLearningHandler 创建学习进度查询处理器
func NewLearningHandler(store *persistence.Store, logger *zap.Logger) *LearningHandler {
	return &LearningHandler{
		store:  store,
		logger: logger,
	}
}

// HandleMastery 处理 GET /api/v1/mastery?agent_id=...&student_id=...。
// 返回该学生在该代理下的全部主题掌握度,按更新时间倒序。
func (h *LearningHandler) HandleMastery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	studentID := r.URL.Query().Get("student_id")
	if agentID == "" || studentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"agent_id and student_id query parameters are required", h.logger)
		return
	}

	recs, err := h.store.ListMastery(r.Context(), agentID, studentID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrPersistence, "list mastery").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, map[string]any{
		"agent_id":   agentID,
		"student_id": studentID,
		"count":      len(recs),
		"topics":     recs,
	})
}

// HandleReviews 处理 GET /api/v1/reviews?limit=N。
// 返回待人工复核的低分回复,最早的在前。
func (h *LearningHandler) HandleReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	limit := defaultReviewLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
				"limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	recs, err := h.store.PendingReviews(r.Context(), limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrPersistence, "list pending reviews").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, map[string]any{
		"count":   len(recs),
		"reviews": recs,
	})
}

// HandleFeedback 处理 GET /api/v1/feedback?session_id=...。
// 返回该会话收到的全部反馈,最新的在前。
func (h *LearningHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"session_id query parameter is required", h.logger)
		return
	}

	recs, err := h.store.ListFeedback(r.Context(), sessionID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrPersistence, "list feedback").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, map[string]any{
		"session_id": sessionID,
		"count":      len(recs),
		"feedback":   recs,
	})
}
