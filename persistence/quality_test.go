package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/types"
	"github.com/BaSui01/agentbus/workflow"
)

func TestSaveQualityReview_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	review := &workflow.QualityReview{
		SessionID:   "S-1",
		Query:       "what is a fraction",
		Response:    "short",
		Relevance:   0.1,
		Accuracy:    0.4,
		Helpfulness: 0,
		Overall:     0.16,
		Flags:       []string{"too_short", "low_overall"},
		NeedsReview: true,
	}
	require.NoError(t, store.SaveQualityReview(ctx, review))

	pending, err := store.PendingReviews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "S-1", pending[0].SessionID)
	assert.InDelta(t, 0.16, pending[0].Overall, 1e-9)
	assert.Equal(t, []string{"too_short", "low_overall"}, pending[0].FlagList())
}

func TestSaveQualityReview_NilReview(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveQualityReview(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestPendingReviews_ExcludesCleanReviews(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveQualityReview(ctx, &workflow.QualityReview{
		SessionID: "S-clean", Overall: 0.9, NeedsReview: false,
	}))
	require.NoError(t, store.SaveQualityReview(ctx, &workflow.QualityReview{
		SessionID: "S-flagged", Overall: 0.2, Flags: []string{"low_overall"}, NeedsReview: true,
	}))

	pending, err := store.PendingReviews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "S-flagged", pending[0].SessionID)
}

func TestPendingReviews_RespectsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveQualityReview(ctx, &workflow.QualityReview{
			SessionID: "S-many", NeedsReview: true,
		}))
	}

	pending, err := store.PendingReviews(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestQualityPipeline_PersistsThroughStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pipeline := workflow.NewQualityPipeline(nil, store, zap.NewNop())

	state, err := pipeline.Run(ctx, workflow.QualityState{
		SessionID: "S-pipe",
		Query:     "explain fractions",
		Response:  "no",
	})
	require.NoError(t, err)
	assert.True(t, state.Completed)
	assert.True(t, state.NeedsReview)

	pending, err := store.PendingReviews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "S-pipe", pending[0].SessionID)
	assert.Contains(t, pending[0].FlagList(), "too_short")
}
