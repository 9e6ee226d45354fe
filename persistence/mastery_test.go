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

func TestGetMastery_AbsentRow(t *testing.T) {
	store := newTestStore(t)

	mastery, found, err := store.GetMastery(context.Background(), "tutor:math", "student-1", "algebra")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, mastery)
}

func TestUpsertMastery_InsertThenReplace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMastery(ctx, "tutor:math", "student-1", "algebra", 0.3))

	mastery, found, err := store.GetMastery(ctx, "tutor:math", "student-1", "algebra")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 0.3, mastery, 1e-9)

	// 最后写入者获胜
	require.NoError(t, store.UpsertMastery(ctx, "tutor:math", "student-1", "algebra", 0.72))

	mastery, found, err = store.GetMastery(ctx, "tutor:math", "student-1", "algebra")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 0.72, mastery, 1e-9)

	var count int64
	require.NoError(t, store.db(ctx).Model(&MasteryRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertMastery_CompositeKeyIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMastery(ctx, "tutor:math", "student-1", "algebra", 0.5))
	require.NoError(t, store.UpsertMastery(ctx, "tutor:math", "student-1", "geometry", 0.2))
	require.NoError(t, store.UpsertMastery(ctx, "tutor:math", "student-2", "algebra", 0.9))
	require.NoError(t, store.UpsertMastery(ctx, "tutor:physics", "student-1", "algebra", 0.1))

	mastery, _, err := store.GetMastery(ctx, "tutor:math", "student-1", "algebra")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mastery, 1e-9)

	records, err := store.ListMastery(ctx, "tutor:math", "student-1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestUpsertMastery_RejectsEmptyKey(t *testing.T) {
	store := newTestStore(t)

	err := store.UpsertMastery(context.Background(), "tutor:math", "student-1", "", 0.5)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

// =============================================================================
// 🧪 学习流水线对接测试
// =============================================================================

func TestLearningPipeline_PersistsMasteryThroughStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pipeline := workflow.NewLearningPipeline(store, zap.NewNop())

	state, err := pipeline.Run(ctx, workflow.LearningState{
		AgentID:   "tutor:math",
		StudentID: "student-7",
		Input:     "help me solve this quadratic equation",
	})
	require.NoError(t, err)
	assert.True(t, state.Completed)
	assert.Equal(t, "algebra", state.Topic)

	// 首次运行: 先前掌握度 0 -> 增量 max(0.01, 0.05*1.0) = 0.05
	mastery, found, err := store.GetMastery(ctx, "tutor:math", "student-7", "algebra")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 0.05, mastery, 1e-9)

	// 再次运行: 0.05 + max(0.01, 0.05*0.95) = 0.0975
	state, err = pipeline.Run(ctx, workflow.LearningState{
		AgentID:   "tutor:math",
		StudentID: "student-7",
		Input:     "another quadratic equation please",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, state.PriorMastery, 1e-9)

	mastery, _, err = store.GetMastery(ctx, "tutor:math", "student-7", "algebra")
	require.NoError(t, err)
	assert.InDelta(t, 0.0975, mastery, 1e-9)
}
