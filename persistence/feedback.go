package persistence

import (
	"context"
	"encoding/json"

	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentbus/bus"
	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/types"
)

var _ bus.FeedbackSink = (*Store)(nil)

// SaveFeedbackEnvelope extracts the feedback fields from a
// feedback.submitted envelope and stores them. The envelope id is the
// dedup key: redelivering the same envelope is a no-op, which keeps
// at-least-once delivery idempotent.
func (s *Store) SaveFeedbackEnvelope(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return types.NewError(types.ErrValidation, "envelope must not be nil").
			WithComponent("persistence")
	}

	rec := &FeedbackRecord{
		MessageID: env.ID,
		SessionID: payloadString(env.Payload, "session_id"),
		FromAgent: env.From.String(),
		Rating:    payloadString(env.Payload, "rating"),
		Comment:   payloadString(env.Payload, "comment"),
	}
	if v, ok := payloadNumber(env.Payload, "rating_value"); ok {
		rec.RatingValue = int(v)
	}

	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(rec).Error
	if err != nil {
		return types.NewError(types.ErrPersistence, "save feedback").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return nil
}

// ListFeedback returns the stored feedback for one session, newest first.
func (s *Store) ListFeedback(ctx context.Context, sessionID string) ([]FeedbackRecord, error) {
	var recs []FeedbackRecord
	err := s.db(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "list feedback").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return recs, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadNumber(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
