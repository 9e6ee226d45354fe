package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentbus/types"
	"github.com/BaSui01/agentbus/workflow"
)

var _ workflow.MasteryStore = (*Store)(nil)

// GetMastery returns the stored mastery for (agentID, studentID, topic)
// and whether a row exists.
func (s *Store) GetMastery(ctx context.Context, agentID, studentID, topic string) (float64, bool, error) {
	var rec MasteryRecord
	err := s.db(ctx).
		Where("agent_id = ? AND student_id = ? AND topic = ?", agentID, studentID, topic).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, types.NewError(types.ErrPersistence, "load mastery").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return rec.Mastery, true, nil
}

// UpsertMastery replaces the mastery for (agentID, studentID, topic),
// last write wins.
func (s *Store) UpsertMastery(ctx context.Context, agentID, studentID, topic string, mastery float64) error {
	if agentID == "" || studentID == "" || topic == "" {
		return types.NewError(types.ErrValidation, "agent id, student id and topic must not be empty").
			WithComponent("persistence")
	}

	rec := &MasteryRecord{
		AgentID:   agentID,
		StudentID: studentID,
		Topic:     topic,
		Mastery:   mastery,
	}

	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "agent_id"}, {Name: "student_id"}, {Name: "topic"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"mastery", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return types.NewError(types.ErrPersistence, "upsert mastery").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return nil
}

// ListMastery returns every topic row for one student under one agent,
// most recently updated first.
func (s *Store) ListMastery(ctx context.Context, agentID, studentID string) ([]MasteryRecord, error) {
	var recs []MasteryRecord
	err := s.db(ctx).
		Where("agent_id = ? AND student_id = ?", agentID, studentID).
		Order("updated_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "list mastery").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return recs, nil
}
