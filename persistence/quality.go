package persistence

import (
	"context"
	"strings"

	"github.com/BaSui01/agentbus/types"
	"github.com/BaSui01/agentbus/workflow"
)

var _ workflow.ReviewStore = (*Store)(nil)

// SaveQualityReview stores one scored response.
func (s *Store) SaveQualityReview(ctx context.Context, review *workflow.QualityReview) error {
	if review == nil {
		return types.NewError(types.ErrValidation, "review must not be nil").
			WithComponent("persistence")
	}

	rec := &QualityReviewRecord{
		SessionID:   review.SessionID,
		Query:       review.Query,
		Response:    review.Response,
		Relevance:   review.Relevance,
		Accuracy:    review.Accuracy,
		Helpfulness: review.Helpfulness,
		Overall:     review.Overall,
		Flags:       strings.Join(review.Flags, ","),
		NeedsReview: review.NeedsReview,
	}

	if err := s.db(ctx).Create(rec).Error; err != nil {
		return types.NewError(types.ErrPersistence, "save quality review").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return nil
}

// PendingReviews returns reviews flagged for human moderation, oldest
// first, capped at limit (<= 0 means 100).
func (s *Store) PendingReviews(ctx context.Context, limit int) ([]QualityReviewRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []QualityReviewRecord
	err := s.db(ctx).
		Where("needs_review = ?", true).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "list pending reviews").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return recs, nil
}

// FlagList splits the stored comma-joined flags.
func (r *QualityReviewRecord) FlagList() []string {
	if r.Flags == "" {
		return nil
	}
	return strings.Split(r.Flags, ",")
}
