package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-indexer/domain"
)

// scriptedRunner resolves every job immediately to a state chosen per profile.
type scriptedRunner struct {
	states    map[int64]domain.JobState
	submitErr map[int64]error
	waitErr   map[int64]error
	hold      chan struct{} // when set, Wait blocks until it is closed
	delay     time.Duration

	mu          sync.Mutex
	submitted   []domain.IndexJob
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (r *scriptedRunner) Submit(job domain.IndexJob) (string, error) {
	if err := r.submitErr[job.ProfileID]; err != nil {
		return "", err
	}
	r.mu.Lock()
	r.submitted = append(r.submitted, job)
	r.mu.Unlock()
	return fmt.Sprintf("job-%d", job.ProfileID), nil
}

func (r *scriptedRunner) Wait(ctx context.Context, id string) (domain.JobStatus, error) {
	n := r.inflight.Add(1)
	defer r.inflight.Add(-1)
	for {
		m := r.maxInflight.Load()
		if n <= m || r.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if r.hold != nil {
		select {
		case <-r.hold:
		case <-ctx.Done():
			return domain.JobStatus{}, ctx.Err()
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	pid, _ := strconv.ParseInt(strings.TrimPrefix(id, "job-"), 10, 64)
	if err := r.waitErr[pid]; err != nil {
		return domain.JobStatus{}, err
	}
	state, ok := r.states[pid]
	if !ok {
		state = domain.JobSucceeded
	}
	return domain.JobStatus{ID: id, ProfileID: pid, State: state}, nil
}

func profilesWithIDs(ids ...int64) *memProfiles {
	m := newMemProfiles()
	for _, id := range ids {
		m.put(domain.Profile{ID: id, Name: fmt.Sprintf("p%d", id)})
	}
	return m
}

func TestReindexAll_Accounting(t *testing.T) {
	runner := &scriptedRunner{
		states: map[int64]domain.JobState{
			1: domain.JobSucceeded,
			2: domain.JobSkipped,
			3: domain.JobFailed,
		},
		submitErr: map[int64]error{4: ErrQueueFull},
		waitErr:   map[int64]error{5: context.DeadlineExceeded},
	}
	c := NewReindexCoordinator(profilesWithIDs(1, 2, 3, 4, 5), runner, nil, ReindexConfig{Concurrency: 1}, nopLogger())

	var updates []ReindexSummary
	summary, err := c.ReindexAll(context.Background(), true, func(s ReindexSummary) { updates = append(updates, s) })
	require.NoError(t, err)

	assert.Equal(t, ReindexSummary{Total: 5, Done: 5, Processed: 1, Skipped: 1, Errors: 3}, summary)
	assert.Equal(t, summary.Total, summary.Processed+summary.Skipped+summary.Errors)
	require.Len(t, updates, 6)
	assert.Equal(t, ReindexSummary{Total: 5}, updates[0])
	for i, u := range updates {
		assert.Equal(t, i, u.Done)
		assert.Equal(t, 5, u.Total)
	}
	for _, job := range runner.submitted {
		assert.True(t, job.Force)
	}
	assert.Equal(t, 100, summary.Percent())
}

func TestReindexAll_BoundsConcurrency(t *testing.T) {
	runner := &scriptedRunner{delay: 10 * time.Millisecond}
	c := NewReindexCoordinator(profilesWithIDs(1, 2, 3, 4, 5, 6, 7, 8), runner, nil, ReindexConfig{Concurrency: 3}, nopLogger())

	summary, err := c.ReindexAll(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Processed)
	assert.LessOrEqual(t, runner.maxInflight.Load(), int32(3))
	assert.GreaterOrEqual(t, runner.maxInflight.Load(), int32(1))
}

func TestReindexAll_CancelStopsBetweenProfiles(t *testing.T) {
	runner := &scriptedRunner{}
	c := NewReindexCoordinator(profilesWithIDs(1, 2, 3, 4), runner, nil, ReindexConfig{Concurrency: 1}, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summary, err := c.ReindexAll(ctx, false, func(s ReindexSummary) {
		if s.Done == 1 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 4, summary.Total)
}

func TestReindexAll_ListFailureIsCoordinatorError(t *testing.T) {
	profiles := profilesWithIDs(1)
	profiles.listErr = errBoom
	c := NewReindexCoordinator(profiles, &scriptedRunner{}, nil, ReindexConfig{}, nopLogger())

	_, err := c.ReindexAll(context.Background(), false, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCoordinator))
	assert.True(t, errors.Is(err, errBoom))
}

func TestReindexAll_PerJobWaitCeiling(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	runner := &scriptedRunner{hold: hold}
	c := NewReindexCoordinator(profilesWithIDs(1, 2), runner, nil, ReindexConfig{Concurrency: 2, JobWaitTimeout: 20 * time.Millisecond}, nopLogger())

	summary, err := c.ReindexAll(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Errors)
}

func TestReindexCoordinator_BackgroundRun(t *testing.T) {
	hold := make(chan struct{})
	runner := &scriptedRunner{hold: hold}
	c := NewReindexCoordinator(profilesWithIDs(1, 2, 3), runner, nil, ReindexConfig{Concurrency: 1}, nopLogger())

	id, err := c.Start(false)
	require.NoError(t, err)
	_, err = c.Start(false)
	assert.True(t, errors.Is(err, ErrReindexInProgress))

	st, ok := c.Status(id)
	require.True(t, ok)
	assert.Contains(t, []RunState{RunPending, RunRunning}, st.State)

	// The snapshot size is visible before any profile finishes.
	require.Eventually(t, func() bool {
		st, _ := c.Status(id)
		return st.Summary.Total == 3
	}, 2*time.Second, time.Millisecond)
	st, _ = c.Status(id)
	assert.Equal(t, RunRunning, st.State)
	assert.Zero(t, st.Summary.Done)

	close(hold)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err = c.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st.State)
	assert.Equal(t, ReindexSummary{Total: 3, Done: 3, Processed: 3}, st.Summary)
	assert.False(t, st.FinishedAt.IsZero())

	// The slot is free again once a run finishes.
	next, err := c.Start(false)
	require.NoError(t, err)
	_, err = c.Wait(ctx, next)
	require.NoError(t, err)
}

func TestReindexCoordinator_CancelBackgroundRun(t *testing.T) {
	hold := make(chan struct{})
	runner := &scriptedRunner{hold: hold}
	c := NewReindexCoordinator(profilesWithIDs(1, 2, 3), runner, nil, ReindexConfig{Concurrency: 1}, nopLogger())

	id, err := c.Start(false)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.inflight.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.True(t, c.Cancel(id))
	close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, st.State)
	assert.Equal(t, 1, st.Summary.Done)

	assert.False(t, c.Cancel("missing"))
	_, err = c.Wait(ctx, "missing")
	assert.True(t, errors.Is(err, ErrUnknownRun))
}

func TestReindexCoordinator_BackgroundRunError(t *testing.T) {
	profiles := profilesWithIDs(1)
	profiles.listErr = errBoom
	c := NewReindexCoordinator(profiles, &scriptedRunner{}, nil, ReindexConfig{}, nopLogger())

	id, err := c.Start(false)
	require.NoError(t, err)
	st, err := c.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, RunError, st.State)
	assert.Contains(t, st.Error, "boom")
}

type fakeLocker struct {
	free     bool
	err      error
	unlocked int
}

func (l *fakeLocker) TryLock() (bool, error) { return l.free, l.err }
func (l *fakeLocker) Unlock() error {
	l.unlocked++
	return nil
}

func TestReindexCoordinator_Lock(t *testing.T) {
	held := &fakeLocker{free: false}
	c := NewReindexCoordinator(profilesWithIDs(1), &scriptedRunner{}, held, ReindexConfig{}, nopLogger())
	_, err := c.ReindexAll(context.Background(), false, nil)
	assert.True(t, errors.Is(err, ErrReindexInProgress))

	broken := &fakeLocker{err: errBoom}
	c = NewReindexCoordinator(profilesWithIDs(1), &scriptedRunner{}, broken, ReindexConfig{}, nopLogger())
	_, err = c.ReindexAll(context.Background(), false, nil)
	assert.True(t, errors.Is(err, domain.ErrCoordinator))

	free := &fakeLocker{free: true}
	c = NewReindexCoordinator(profilesWithIDs(1), &scriptedRunner{}, free, ReindexConfig{}, nopLogger())
	summary, err := c.ReindexAll(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, free.unlocked)
}

func TestReindexAll_WithWorkerPool(t *testing.T) {
	profiles := newMemProfiles(
		domain.Profile{ID: 1, ResearchArea: "AI", Description: "neural nets"},
		domain.Profile{ID: 2, Name: "Jane"},
		domain.Profile{ID: 3, ResearchArea: "Quantum"},
	)
	store := newMemIndex()
	pool := newTestPool(t, testPoolConfig(), profiles, store, newStubEncoder(3), nil)
	c := NewReindexCoordinator(profiles, pool, nil, ReindexConfig{Concurrency: 2, JobWaitTimeout: 5 * time.Second}, nopLogger())

	first, err := c.ReindexAll(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, ReindexSummary{Total: 3, Done: 3, Processed: 3}, first)

	second, err := c.ReindexAll(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, ReindexSummary{Total: 3, Done: 3, Skipped: 3}, second)

	forced, err := c.ReindexAll(context.Background(), true, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, forced.Processed)
}
