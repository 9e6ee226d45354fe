package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentbus/types"
	"github.com/BaSui01/agentbus/workflow"
)

var _ workflow.Checkpointer = (*Store)(nil)

// workflowLock returns the mutex serializing checkpoint writes for one
// workflow id, creating it on first use. Locks are process-local; the
// transaction plus the unique (workflow_id, version) index cover writers
// in other processes.
func (s *Store) workflowLock(workflowID string) *sync.Mutex {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	lock, ok := s.cpLocks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		s.cpLocks[workflowID] = lock
	}
	return lock
}

// SaveCheckpoint serializes state as JSON and appends it as the next
// version for workflowID. Versions start at 1 and increase by exactly one;
// concurrent saves for the same workflow are serialized.
func (s *Store) SaveCheckpoint(ctx context.Context, workflowID, threadID string, state any) (*Checkpoint, error) {
	if workflowID == "" {
		return nil, types.NewError(types.ErrValidation, "workflow id must not be empty").
			WithComponent("persistence")
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "marshal checkpoint state").
			WithComponent("persistence").
			WithCause(err)
	}

	lock := s.workflowLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	cp := &Checkpoint{
		WorkflowID: workflowID,
		ThreadID:   threadID,
		State:      string(raw),
	}

	err = s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var max sql.NullInt64
		if err := tx.Model(&Checkpoint{}).
			Where("workflow_id = ?", workflowID).
			Select("MAX(version)").
			Scan(&max).Error; err != nil {
			return err
		}
		cp.Version = int(max.Int64) + 1
		return tx.Create(cp).Error
	})
	if err != nil {
		s.observeCheckpoint("failed")
		return nil, types.NewError(types.ErrPersistence, "save checkpoint").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}

	s.observeCheckpoint("ok")
	s.logger.Debug("checkpoint saved",
		zap.String("workflow_id", workflowID),
		zap.Int("version", cp.Version))
	return cp, nil
}

// CheckpointState adapts SaveCheckpoint to the workflow.Checkpointer
// interface, discarding the stored row.
func (s *Store) CheckpointState(ctx context.Context, workflowID, threadID string, state any) error {
	_, err := s.SaveCheckpoint(ctx, workflowID, threadID, state)
	return err
}

// LoadCheckpoint returns the latest checkpoint for workflowID, or
// (nil, nil) when none exists.
func (s *Store) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db(ctx).
		Where("workflow_id = ?", workflowID).
		Order("version DESC").
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "load checkpoint").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return &cp, nil
}

// LoadCheckpointVersion returns one specific version, or (nil, nil) when
// it does not exist.
func (s *Store) LoadCheckpointVersion(ctx context.Context, workflowID string, version int) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db(ctx).
		Where("workflow_id = ? AND version = ?", workflowID, version).
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "load checkpoint version").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return &cp, nil
}

// CheckpointHistory returns every checkpoint for workflowID in ascending
// version order. An unknown workflow yields an empty slice.
func (s *Store) CheckpointHistory(ctx context.Context, workflowID string) ([]Checkpoint, error) {
	var cps []Checkpoint
	err := s.db(ctx).
		Where("workflow_id = ?", workflowID).
		Order("version ASC").
		Find(&cps).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "load checkpoint history").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return cps, nil
}

func (s *Store) observeCheckpoint(status string) {
	if s.metrics != nil {
		s.metrics.RecordCheckpointWrite(status)
	}
}
