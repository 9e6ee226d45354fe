package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type masteryKey struct {
	agentID, studentID, topic string
}

type fakeMasteryStore struct {
	mu        sync.Mutex
	rows      map[masteryKey]float64
	getErr    error
	upsertErr error
	upserts   int
}

func newFakeMasteryStore() *fakeMasteryStore {
	return &fakeMasteryStore{rows: make(map[masteryKey]float64)}
}

func (s *fakeMasteryStore) GetMastery(_ context.Context, agentID, studentID, topic string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return 0, false, s.getErr
	}
	v, ok := s.rows[masteryKey{agentID, studentID, topic}]
	return v, ok, nil
}

func (s *fakeMasteryStore) UpsertMastery(_ context.Context, agentID, studentID, topic string, mastery float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	s.rows[masteryKey{agentID, studentID, topic}] = mastery
	return nil
}

func (s *fakeMasteryStore) stored(agentID, studentID, topic string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[masteryKey{agentID, studentID, topic}]
	return v, ok
}

func learningInput(input string) LearningState {
	return LearningState{
		AgentID:   "tutor:math",
		StudentID: "student-1",
		Input:     input,
	}
}

// ---------------------------------------------------------------------------
// Topic detection
// ---------------------------------------------------------------------------

func TestLearningPipeline_DetectsAlgebra(t *testing.T) {
	store := newFakeMasteryStore()
	p := NewLearningPipeline(store, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("solve this quadratic equation"))
	require.NoError(t, err)

	assert.Equal(t, "algebra", state.Topic)
	assert.GreaterOrEqual(t, state.Confidence, 0.5)
	assert.True(t, state.Completed)
	assert.Empty(t, state.Errors)
}

func TestLearningPipeline_NoKeywordMatch(t *testing.T) {
	store := newFakeMasteryStore()
	p := NewLearningPipeline(store, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("tell me about the weather"))
	require.NoError(t, err)

	assert.Empty(t, state.Topic)
	assert.Zero(t, state.Confidence)
	// downstream nodes are no-ops without a topic
	assert.Zero(t, state.Mastery)
	assert.Empty(t, state.Recommendation)
	assert.Equal(t, 0, store.upserts)
	assert.True(t, state.Completed)
}

func TestDetectTopic_Cases(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantTopic     string
		minConfidence float64
	}{
		{"single geometry keyword", "what is a triangle", "geometry", 0.5},
		{"fractions", "explain the numerator and denominator of a fraction", "fractions", 0.7},
		{"statistics", "compute the mean and median of this data", "statistics", 0.7},
		{"case insensitive", "SOLVE THE EQUATION", "algebra", 0.5},
		{"more hits raise confidence", "solve the quadratic equation with a variable and a polynomial", "algebra", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := detectTopic(context.Background(), learningInput(tt.input))
			require.NoError(t, err)

			state := Apply(learningInput(tt.input), update)
			assert.Equal(t, tt.wantTopic, state.Topic)
			assert.GreaterOrEqual(t, state.Confidence, tt.minConfidence)
			assert.Less(t, state.Confidence, 1.0)
		})
	}
}

func TestDetectTopic_TieGoesToFirstDeclared(t *testing.T) {
	// one algebra hit and one geometry hit; algebra is declared first
	update, err := detectTopic(context.Background(), learningInput("solve for the angle"))
	require.NoError(t, err)

	state := Apply(LearningState{}, update)
	assert.Equal(t, "algebra", state.Topic)
	assert.InDelta(t, 0.5, state.Confidence, 1e-9)
}

// ---------------------------------------------------------------------------
// Mastery assessment
// ---------------------------------------------------------------------------

func TestLearningPipeline_FirstInteractionMastery(t *testing.T) {
	store := newFakeMasteryStore()
	p := NewLearningPipeline(store, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("solve this equation"))
	require.NoError(t, err)

	// missing row reads as 0.0, so delta = 0.05 * (1 - 0)
	assert.Zero(t, state.PriorMastery)
	assert.InDelta(t, 0.05, state.Mastery, 1e-9)

	stored, ok := store.stored("tutor:math", "student-1", "algebra")
	require.True(t, ok)
	assert.InDelta(t, 0.05, stored, 1e-9)
}

func TestLearningPipeline_DiminishingReturns(t *testing.T) {
	store := newFakeMasteryStore()
	store.rows[masteryKey{"tutor:math", "student-1", "algebra"}] = 0.8
	p := NewLearningPipeline(store, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("solve this equation"))
	require.NoError(t, err)

	assert.InDelta(t, 0.8, state.PriorMastery, 1e-9)
	// delta = 0.05 * (1 - 0.8) = 0.01, at the floor
	assert.InDelta(t, 0.81, state.Mastery, 1e-9)
}

func TestLearningPipeline_MasteryFloorAndClamp(t *testing.T) {
	store := newFakeMasteryStore()
	store.rows[masteryKey{"tutor:math", "student-1", "algebra"}] = 0.995
	p := NewLearningPipeline(store, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("solve this equation"))
	require.NoError(t, err)

	// 0.05 * (1 - 0.995) = 0.00025 < 0.01 floor; 0.995 + 0.01 clamps to 1.0
	assert.InDelta(t, 1.0, state.Mastery, 1e-9)
}

func TestLearningPipeline_RepeatedRunsConverge(t *testing.T) {
	store := newFakeMasteryStore()
	p := NewLearningPipeline(store, zap.NewNop())

	var last float64
	for i := 0; i < 200; i++ {
		state, err := p.Run(context.Background(), learningInput("solve this equation"))
		require.NoError(t, err)
		require.Empty(t, state.Errors)
		assert.GreaterOrEqual(t, state.Mastery, last)
		last = state.Mastery
	}
	assert.InDelta(t, 1.0, last, 1e-9)
}

func TestLearningPipeline_StoreReadFailureFailsRun(t *testing.T) {
	store := newFakeMasteryStore()
	store.getErr = errors.New("connection refused")
	p := NewLearningPipeline(store, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("solve this equation"))
	require.NoError(t, err)

	assert.Equal(t, StepError, state.Step)
	assert.True(t, state.Completed)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "node assess_mastery")
	assert.Contains(t, state.Errors[0], "connection refused")
	assert.Equal(t, 0, store.upserts)
}

func TestLearningPipeline_UpsertFailureFailsRun(t *testing.T) {
	store := newFakeMasteryStore()
	store.upsertErr = errors.New("constraint violation")
	p := NewLearningPipeline(store, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("solve this equation"))
	require.NoError(t, err)

	assert.Equal(t, StepError, state.Step)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "node persist_progress")
	// the scores computed before the failing node are preserved
	assert.Equal(t, "algebra", state.Topic)
	assert.InDelta(t, 0.05, state.Mastery, 1e-9)
}

func TestLearningPipeline_NilStore(t *testing.T) {
	p := NewLearningPipeline(nil, zap.NewNop())

	state, err := p.Run(context.Background(), learningInput("solve this equation"))
	require.NoError(t, err)

	assert.Equal(t, "algebra", state.Topic)
	assert.InDelta(t, 0.05, state.Mastery, 1e-9)
	assert.True(t, state.Completed)
	assert.Empty(t, state.Errors)
}

// ---------------------------------------------------------------------------
// Recommendations
// ---------------------------------------------------------------------------

func TestRecommendNextStep_Bands(t *testing.T) {
	tests := []struct {
		mastery float64
		want    string
	}{
		{0.05, "review the fundamentals of algebra"},
		{0.29, "review the fundamentals of algebra"},
		{0.3, "practice more algebra problems"},
		{0.69, "practice more algebra problems"},
		{0.7, "ready to advance beyond algebra"},
		{1.0, "ready to advance beyond algebra"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("mastery %.2f", tt.mastery), func(t *testing.T) {
			state := LearningState{Topic: "algebra", Mastery: tt.mastery}
			update, err := recommendNextStep(context.Background(), state)
			require.NoError(t, err)

			got := Apply(state, update)
			assert.Equal(t, tt.want, got.Recommendation)
		})
	}
}

func TestLearningPipeline_UpsertKey(t *testing.T) {
	store := newFakeMasteryStore()
	p := NewLearningPipeline(store, zap.NewNop())

	state := LearningState{
		AgentID:   "tutor:science",
		StudentID: "student-42",
		Input:     "what is the area of a circle",
	}
	result, err := p.Run(context.Background(), state)
	require.NoError(t, err)
	require.Equal(t, "geometry", result.Topic)

	_, ok := store.stored("tutor:science", "student-42", "geometry")
	assert.True(t, ok)
	assert.Equal(t, 1, store.upserts)
}
