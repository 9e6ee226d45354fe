package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReviewStore struct {
	mu      sync.Mutex
	reviews []*QualityReview
	saveErr error
}

func (s *fakeReviewStore) SaveQualityReview(_ context.Context, review *QualityReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.reviews = append(s.reviews, review)
	return nil
}

func (s *fakeReviewStore) lastReview() *QualityReview {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reviews) == 0 {
		return nil
	}
	return s.reviews[len(s.reviews)-1]
}

func qualityInput(query, response, sourceContext string) QualityState {
	return QualityState{
		SessionID:     "S-1",
		Query:         query,
		Response:      response,
		SourceContext: sourceContext,
	}
}

// ---------------------------------------------------------------------------
// Individual scoring nodes
// ---------------------------------------------------------------------------

func TestScoreRelevance(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		response string
		want     float64
	}{
		{"full overlap", "quadratic equation", "a quadratic equation has two roots", 1.0},
		{"half overlap", "quadratic equation", "this equation is linear", 0.5},
		{"no overlap", "quadratic equation", "photosynthesis in plants", 0.0},
		{"short words ignored", "is it an equation", "yes, an equation indeed", 1.0},
		{"duplicate terms count once", "equation equation equation", "one equation", 1.0},
		{"empty query", "", "some response text here", 0.0},
		{"punctuation stripped", "what is a fraction?", "a fraction compares parts", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := scoreRelevance(context.Background(), qualityInput(tt.query, tt.response, ""))
			require.NoError(t, err)

			state := Apply(QualityState{}, update)
			assert.InDelta(t, tt.want, state.Relevance, 1e-9)
		})
	}
}

func TestScoreAccuracy(t *testing.T) {
	tests := []struct {
		name     string
		response string
		source   string
		want     float64
	}{
		{"no markers no source", "plain answer with no grounding", "", 0.0},
		{"source only", "grounded answer", "retrieved passage", 0.4},
		{"one marker no source", "see [1] for details", "", 0.2},
		{"two markers with source", "first [1] then [2]", "retrieved passage", 0.8},
		{"capped at one", "[1][2][3][4][5][6]", "retrieved passage", 1.0},
		{"bracketed words are not markers", "see [note] and [ref]", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := scoreAccuracy(context.Background(), qualityInput("q", tt.response, tt.source))
			require.NoError(t, err)

			state := Apply(QualityState{}, update)
			assert.InDelta(t, tt.want, state.Accuracy, 1e-9)
		})
	}
}

func TestScoreHelpfulness_TooShort(t *testing.T) {
	update, err := scoreHelpfulness(context.Background(), qualityInput("q", "yes", ""))
	require.NoError(t, err)

	state := Apply(QualityState{}, update)
	assert.Zero(t, state.Helpfulness)
	assert.Contains(t, state.Flags, FlagTooShort)
}

func TestScoreHelpfulness_Structure(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     float64
	}{
		{"plain short paragraph", "this answer is just long enough to pass", 0.5},
		{"long paragraph", strings.Repeat("a thorough explanation ", 5), 0.7},
		{"multiline", "first line of the answer\nsecond line of it", 0.65},
		{"bulleted list", "the steps are:\n- isolate x\n- divide both sides", 0.8},
		{"numbered long answer", "steps:\n1. expand the terms\n2. collect like terms\n" + strings.Repeat("detail ", 12), 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := scoreHelpfulness(context.Background(), qualityInput("q", tt.response, ""))
			require.NoError(t, err)

			state := Apply(QualityState{}, update)
			assert.InDelta(t, tt.want, state.Helpfulness, 1e-9)
			assert.NotContains(t, state.Flags, FlagTooShort)
		})
	}
}

func TestAggregateScores_Weights(t *testing.T) {
	state := QualityState{Relevance: 1.0, Accuracy: 0.5, Helpfulness: 0.2}
	update, err := aggregateScores(0.6)(context.Background(), state)
	require.NoError(t, err)

	got := Apply(state, update)
	// 0.4*1.0 + 0.3*0.5 + 0.3*0.2 = 0.61
	assert.InDelta(t, 0.61, got.Overall, 1e-9)
	assert.NotContains(t, got.Flags, FlagLowOverall)
	assert.False(t, got.NeedsReview)
}

func TestAggregateScores_BelowThreshold(t *testing.T) {
	state := QualityState{Relevance: 0.5, Accuracy: 0.5, Helpfulness: 0.5}
	update, err := aggregateScores(0.6)(context.Background(), state)
	require.NoError(t, err)

	got := Apply(state, update)
	assert.InDelta(t, 0.5, got.Overall, 1e-9)
	assert.Contains(t, got.Flags, FlagLowOverall)
	assert.True(t, got.NeedsReview)
}

func TestAggregateScores_PriorFlagForcesReview(t *testing.T) {
	state := QualityState{Relevance: 1.0, Accuracy: 1.0, Helpfulness: 1.0, Flags: []string{FlagTooShort}}
	update, err := aggregateScores(0.6)(context.Background(), state)
	require.NoError(t, err)

	got := Apply(state, update)
	assert.InDelta(t, 1.0, got.Overall, 1e-9)
	assert.True(t, got.NeedsReview)
}

// ---------------------------------------------------------------------------
// Full pipeline
// ---------------------------------------------------------------------------

func TestQualityPipeline_ShortResponseNeedsReview(t *testing.T) {
	store := &fakeReviewStore{}
	p := NewQualityPipeline(nil, store, zap.NewNop())

	state, err := p.Run(context.Background(), qualityInput("what is a quadratic equation", "idk", ""))
	require.NoError(t, err)

	assert.True(t, state.Completed)
	assert.Contains(t, state.Flags, FlagTooShort)
	assert.True(t, state.NeedsReview)

	review := store.lastReview()
	require.NotNil(t, review)
	assert.Equal(t, "S-1", review.SessionID)
	assert.True(t, review.NeedsReview)
	assert.Contains(t, review.Flags, FlagTooShort)
}

func TestQualityPipeline_CitedResponseScoresWell(t *testing.T) {
	store := &fakeReviewStore{}
	p := NewQualityPipeline(nil, store, zap.NewNop())

	response := "A quadratic equation has degree two [1].\n" +
		"- the discriminant decides the root count [2]\n" +
		"- completing the square always works"
	state, err := p.Run(context.Background(),
		qualityInput("explain the quadratic equation", response, "algebra textbook chapter 3"))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, state.Accuracy, 0.7)
	assert.GreaterOrEqual(t, state.Relevance, 0.5)
	assert.GreaterOrEqual(t, state.Overall, 0.6)
	assert.False(t, state.NeedsReview)
	assert.Empty(t, state.Flags)
}

func TestQualityPipeline_CustomThreshold(t *testing.T) {
	store := &fakeReviewStore{}
	p := NewQualityPipeline(&QualityConfig{ReviewThreshold: 0.95}, store, zap.NewNop())

	response := "A quadratic equation has degree two [1].\n" +
		"- the discriminant decides the root count [2]\n" +
		"- completing the square always works"
	state, err := p.Run(context.Background(),
		qualityInput("explain the quadratic equation", response, "algebra textbook chapter 3"))
	require.NoError(t, err)

	assert.Contains(t, state.Flags, FlagLowOverall)
	assert.True(t, state.NeedsReview)
}

func TestQualityPipeline_StoreFailureFailsRun(t *testing.T) {
	store := &fakeReviewStore{saveErr: errors.New("insert failed")}
	p := NewQualityPipeline(nil, store, zap.NewNop())

	state, err := p.Run(context.Background(), qualityInput("q", "a sufficiently long response", ""))
	require.NoError(t, err)

	assert.Equal(t, StepError, state.Step)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "node persist_review")
	// scores survive into the terminal state
	assert.NotZero(t, state.Helpfulness)
}

func TestQualityPipeline_NilStore(t *testing.T) {
	p := NewQualityPipeline(nil, nil, zap.NewNop())

	state, err := p.Run(context.Background(), qualityInput("q", "a sufficiently long response", ""))
	require.NoError(t, err)
	assert.True(t, state.Completed)
	assert.Empty(t, state.Errors)
}

func TestQualityPipeline_ReviewRowMirrorsState(t *testing.T) {
	store := &fakeReviewStore{}
	p := NewQualityPipeline(nil, store, zap.NewNop())

	state, err := p.Run(context.Background(),
		qualityInput("divide fractions", "flip the second fraction and multiply, then simplify the result", ""))
	require.NoError(t, err)

	review := store.lastReview()
	require.NotNil(t, review)
	assert.Equal(t, state.SessionID, review.SessionID)
	assert.InDelta(t, state.Relevance, review.Relevance, 1e-9)
	assert.InDelta(t, state.Accuracy, review.Accuracy, 1e-9)
	assert.InDelta(t, state.Helpfulness, review.Helpfulness, 1e-9)
	assert.InDelta(t, state.Overall, review.Overall, 1e-9)
	assert.Equal(t, state.NeedsReview, review.NeedsReview)
}
