package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStateStore 记录保存的快照，可注入加载/保存错误。
type fakeStateStore struct {
	mu       sync.Mutex
	saved    map[string]Snapshot
	loadSnap map[string]*Snapshot
	loadErr  error
	saveErr  error
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{
		saved:    make(map[string]Snapshot),
		loadSnap: make(map[string]*Snapshot),
	}
}

func (f *fakeStateStore) Save(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[snap.Target] = snap
	return nil
}

func (f *fakeStateStore) Load(_ context.Context, target string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.loadSnap[target], nil
}

func (f *fakeStateStore) savedSnapshot(target string) (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.saved[target]
	return snap, ok
}

// ---------------------------------------------------------------------------
// GetOrCreate
// ---------------------------------------------------------------------------

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, zap.NewNop())
	defer r.Close()

	cb1 := r.GetOrCreate("service-a")
	cb2 := r.GetOrCreate("service-a")
	cb3 := r.GetOrCreate("service-b")

	assert.Same(t, cb1, cb2)
	assert.NotSame(t, cb1, cb3)
}

func TestRegistry_GetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, zap.NewNop())
	defer r.Close()

	var wg sync.WaitGroup
	results := make([]CircuitBreaker, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = r.GetOrCreate("shared-target")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		assert.Same(t, results[0], results[i])
	}
}

// ---------------------------------------------------------------------------
// State seeding from the store
// ---------------------------------------------------------------------------

func TestRegistry_SeedsFromStore(t *testing.T) {
	store := newFakeStateStore()
	store.loadSnap["flaky-service"] = &Snapshot{
		Target:        "flaky-service",
		State:         StateOpen,
		FailureCount:  9,
		NextAttemptAt: time.Now().Add(1 * time.Hour),
	}

	r := NewRegistry(DefaultConfig(), store, zap.NewNop())
	defer r.Close()

	cb := r.GetOrCreate("flaky-service")
	assert.Equal(t, StateOpen, cb.State())

	// The breaker keeps rejecting calls across the restart
	err := cb.Call(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRegistry_LoadFailureStartsFresh(t *testing.T) {
	store := newFakeStateStore()
	store.loadErr = errors.New("db unreachable")

	r := NewRegistry(DefaultConfig(), store, zap.NewNop())
	defer r.Close()

	// Load errors must not block breaker creation
	cb := r.GetOrCreate("service-a")
	assert.Equal(t, StateClosed, cb.State())

	err := cb.Call(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Async persistence
// ---------------------------------------------------------------------------

func TestRegistry_PersistsSnapshots(t *testing.T) {
	store := newFakeStateStore()
	r := NewRegistry(&Config{
		FailureThreshold: 1,
		CallTimeout:      5 * time.Second,
		Cooldown:         1 * time.Hour,
	}, store, zap.NewNop())
	defer r.Close()

	cb := r.GetOrCreate("service-a")
	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	assert.Eventually(t, func() bool {
		snap, ok := store.savedSnapshot("service-a")
		return ok && snap.State == StateOpen && snap.FailureCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_SaveFailureIsSoft(t *testing.T) {
	store := newFakeStateStore()
	store.saveErr = errors.New("disk full")

	r := NewRegistry(&Config{
		FailureThreshold: 1,
		CallTimeout:      5 * time.Second,
		Cooldown:         1 * time.Hour,
	}, store, zap.NewNop())
	defer r.Close()

	// Save failures never surface to callers or change breaker behavior
	cb := r.GetOrCreate("service-a")
	err := cb.Call(context.Background(), func() error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	err = cb.Call(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

// ---------------------------------------------------------------------------
// Snapshots / States / ResetAll
// ---------------------------------------------------------------------------

func TestRegistry_SnapshotsAndStates(t *testing.T) {
	r := NewRegistry(&Config{
		FailureThreshold: 1,
		CallTimeout:      5 * time.Second,
		Cooldown:         1 * time.Hour,
	}, nil, zap.NewNop())
	defer r.Close()

	_ = r.GetOrCreate("service-a").Call(context.Background(), func() error { return errors.New("f") })
	_ = r.GetOrCreate("service-b").Call(context.Background(), func() error { return nil })

	states := r.States()
	assert.Equal(t, StateOpen, states["service-a"])
	assert.Equal(t, StateClosed, states["service-b"])

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1), snaps["service-a"].FailureCount)
	assert.Equal(t, int64(1), snaps["service-b"].SuccessCount)
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(&Config{
		FailureThreshold: 1,
		CallTimeout:      5 * time.Second,
		Cooldown:         1 * time.Hour,
	}, nil, zap.NewNop())
	defer r.Close()

	_ = r.GetOrCreate("service-a").Call(context.Background(), func() error { return errors.New("f") })
	_ = r.GetOrCreate("service-b").Call(context.Background(), func() error { return errors.New("f") })

	r.ResetAll()

	for target, state := range r.States() {
		assert.Equal(t, StateClosed, state, "target %s", target)
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestRegistry_CloseIdempotent(t *testing.T) {
	store := newFakeStateStore()
	r := NewRegistry(DefaultConfig(), store, zap.NewNop())

	_ = r.GetOrCreate("service-a").Call(context.Background(), func() error { return nil })

	r.Close()
	r.Close()

	// Snapshots enqueued after close are dropped, not panicking
	_ = r.GetOrCreate("service-b").Call(context.Background(), func() error { return nil })
}
