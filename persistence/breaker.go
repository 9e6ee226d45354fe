package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentbus/resilience/circuitbreaker"
	"github.com/BaSui01/agentbus/types"
)

var _ circuitbreaker.StateStore = (*BreakerStateStore)(nil)

// BreakerStateStore adapts the Store to circuitbreaker.StateStore so
// breaker state survives restarts. One row per target, replaced on every
// transition.
type BreakerStateStore struct {
	store *Store
}

// BreakerStates returns the circuit breaker persistence adapter.
func (s *Store) BreakerStates() *BreakerStateStore {
	return &BreakerStateStore{store: s}
}

// Save upserts the snapshot row for snap.Target.
func (b *BreakerStateStore) Save(ctx context.Context, snap circuitbreaker.Snapshot) error {
	row := &BreakerState{
		Target:        snap.Target,
		State:         snap.State.String(),
		FailureCount:  snap.FailureCount,
		SuccessCount:  snap.SuccessCount,
		TotalRequests: snap.TotalRequests,
		LastFailureAt: timePtr(snap.LastFailureAt),
		LastSuccessAt: timePtr(snap.LastSuccessAt),
		NextAttemptAt: timePtr(snap.NextAttemptAt),
	}

	err := b.store.db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "target"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "failure_count", "success_count", "total_requests",
			"last_failure_at", "last_success_at", "next_attempt_at", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return types.NewError(types.ErrPersistence, "save breaker state").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return nil
}

// Load returns the persisted snapshot for target, or (nil, nil) when no
// row exists.
func (b *BreakerStateStore) Load(ctx context.Context, target string) (*circuitbreaker.Snapshot, error) {
	var row BreakerState
	err := b.store.db(ctx).Where("target = ?", target).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "load breaker state").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}

	state, err := circuitbreaker.ParseState(row.State)
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "decode breaker state").
			WithComponent("persistence").
			WithCause(err)
	}

	return &circuitbreaker.Snapshot{
		Target:        row.Target,
		State:         state,
		StateName:     row.State,
		FailureCount:  row.FailureCount,
		SuccessCount:  row.SuccessCount,
		TotalRequests: row.TotalRequests,
		LastFailureAt: timeVal(row.LastFailureAt),
		LastSuccessAt: timeVal(row.LastSuccessAt),
		NextAttemptAt: timeVal(row.NextAttemptAt),
	}, nil
}

// ListBreakerStates returns every persisted breaker row for diagnostics.
func (s *Store) ListBreakerStates(ctx context.Context) ([]BreakerState, error) {
	var rows []BreakerState
	if err := s.db(ctx).Order("target ASC").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrPersistence, "list breaker states").
			WithComponent("persistence").
			WithRetryable(true).
			WithCause(err)
	}
	return rows, nil
}

// timePtr maps the zero time to NULL.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
