package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
	fired   chan time.Time
}

func newFakePruner() *fakePruner {
	return &fakePruner{fired: make(chan time.Time, 16)}
}

func (p *fakePruner) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	p.cutoffs = append(p.cutoffs, cutoff)
	err := p.err
	p.mu.Unlock()

	select {
	case p.fired <- cutoff:
	default:
	}

	if err != nil {
		return 0, err
	}
	return 3, nil
}

func (p *fakePruner) runCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func newTestService(t *testing.T, pruner *fakePruner, clock clockwork.Clock) *Service {
	t.Helper()

	svc, err := New(Config{
		Schedule:  "*/5 * * * *",
		Retention: 24 * time.Hour,
		Pruner:    pruner,
		Sessions:  func() int { return 2 },
		Logger:    zerolog.Nop(),
		Clock:     clock,
	})
	require.NoError(t, err)
	return svc
}

func waitFire(t *testing.T, ch <-chan time.Time) time.Time {
	t.Helper()

	select {
	case cutoff := <-ch:
		return cutoff
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for maintenance run")
		return time.Time{}
	}
}

func assertNoFire(t *testing.T, ch <-chan time.Time) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("unexpected maintenance run")
	case <-time.After(100 * time.Millisecond):
	}
}

// blockUntilWaiting waits until the scheduler goroutine is parked on the
// fake clock, so an Advance is guaranteed to wake it.
func blockUntilWaiting(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestNewService(t *testing.T) {
	pruner := newFakePruner()

	t.Run("valid config", func(t *testing.T) {
		svc, err := New(Config{
			Schedule:  "0 4 * * *",
			Retention: 30 * 24 * time.Hour,
			Pruner:    pruner,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.NotNil(t, svc.clock)
	})

	t.Run("missing pruner", func(t *testing.T) {
		_, err := New(Config{Schedule: "0 4 * * *", Retention: time.Hour})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pruner is required")
	})

	t.Run("non-positive retention", func(t *testing.T) {
		_, err := New(Config{Schedule: "0 4 * * *", Pruner: pruner})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retention must be positive")
	})

	t.Run("invalid schedule", func(t *testing.T) {
		_, err := New(Config{Schedule: "not a schedule", Retention: time.Hour, Pruner: pruner})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid maintenance schedule")
	})
}

func TestServiceRunsOnSchedule(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	pruner := newFakePruner()

	svc := newTestService(t, pruner, clock)
	svc.Start()
	defer svc.Stop()

	blockUntilWaiting(t, clock)
	clock.Advance(5 * time.Minute)

	cutoff := waitFire(t, pruner.fired)
	assert.True(t, cutoff.Equal(start.Add(5*time.Minute).Add(-24*time.Hour)),
		"cutoff should be now minus retention, got %s", cutoff)

	blockUntilWaiting(t, clock)
	clock.Advance(5 * time.Minute)

	waitFire(t, pruner.fired)
	assert.Equal(t, 2, pruner.runCount())
}

func TestServiceKeepsRunningAfterPruneFailure(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	pruner := newFakePruner()
	pruner.err = errors.New("database is locked")

	svc := newTestService(t, pruner, clock)
	svc.Start()
	defer svc.Stop()

	blockUntilWaiting(t, clock)
	clock.Advance(5 * time.Minute)
	waitFire(t, pruner.fired)

	blockUntilWaiting(t, clock)
	clock.Advance(5 * time.Minute)
	waitFire(t, pruner.fired)

	assert.Equal(t, 2, pruner.runCount())
}

func TestServiceStop(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	pruner := newFakePruner()

	svc := newTestService(t, pruner, clock)
	svc.Start()

	blockUntilWaiting(t, clock)
	svc.Stop()

	clock.Advance(time.Hour)
	assertNoFire(t, pruner.fired)
	assert.Equal(t, 0, pruner.runCount())

	// Stop again is a no-op.
	svc.Stop()
}
