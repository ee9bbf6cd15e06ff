package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"profile-indexer/domain"
)

var (
	ErrReindexInProgress = errors.New("a bulk reindex is already running")
	ErrUnknownRun        = errors.New("unknown reindex run")
)

// JobRunner submits index jobs and waits for their terminal state.
type JobRunner interface {
	Submit(job domain.IndexJob) (string, error)
	Wait(ctx context.Context, id string) (domain.JobStatus, error)
}

// Locker guards bulk runs across processes. *flock.Flock satisfies it.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// RunState is the lifecycle state of a bulk reindex run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunError     RunState = "error"
)

// ReindexSummary counts the per-profile outcomes of a bulk run. For a
// completed run Processed+Skipped+Errors == Total.
type ReindexSummary struct {
	Total     int `json:"total_profiles"`
	Done      int `json:"done"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Percent returns Done as an integer percentage of Total.
func (s ReindexSummary) Percent() int {
	if s.Total == 0 {
		return 100
	}
	return s.Done * 100 / s.Total
}

// ReindexRun is the externally visible status of a bulk run.
type ReindexRun struct {
	ID         string         `json:"id"`
	Force      bool           `json:"force"`
	State      RunState       `json:"state"`
	Summary    ReindexSummary `json:"summary"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// ReindexConfig tunes a bulk run.
type ReindexConfig struct {
	Concurrency    int           // jobs in flight at once; 1 waits for each job before the next
	JobWaitTimeout time.Duration // how long to wait for one job; 0 waits indefinitely
}

type reindexRun struct {
	status ReindexRun
	cancel context.CancelFunc
	done   chan struct{}
}

// ReindexCoordinator drives one index job per profile and aggregates the
// outcomes. Only one run is active at a time.
type ReindexCoordinator struct {
	profiles domain.ProfileRepository
	jobs     JobRunner
	lock     Locker
	cfg      ReindexConfig
	log      zerolog.Logger

	mu   sync.Mutex
	busy bool
	runs map[string]*reindexRun
}

// NewReindexCoordinator creates a new ReindexCoordinator. lock may be nil.
func NewReindexCoordinator(profiles domain.ProfileRepository, jobs JobRunner, lock Locker, cfg ReindexConfig, logger zerolog.Logger) *ReindexCoordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &ReindexCoordinator{
		profiles: profiles,
		jobs:     jobs,
		lock:     lock,
		cfg:      cfg,
		log:      logger.With().Str("component", "reindex").Logger(),
		runs:     make(map[string]*reindexRun),
	}
}

// ReindexAll runs a bulk reindex in the caller's goroutine. progress, when not
// nil, is called once with the snapshot size and then after every profile. Cancelling ctx stops the run between
// profiles; the partial summary is returned with ctx's error.
func (c *ReindexCoordinator) ReindexAll(ctx context.Context, force bool, progress func(ReindexSummary)) (ReindexSummary, error) {
	if err := c.acquire(); err != nil {
		return ReindexSummary{}, err
	}
	defer c.release()
	return c.reindex(ctx, force, progress)
}

// Start launches a bulk reindex in the background and returns its run id.
func (c *ReindexCoordinator) Start(force bool) (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	run := &reindexRun{
		status: ReindexRun{ID: id, Force: force, State: RunPending, StartedAt: time.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.runs[id] = run
	c.mu.Unlock()

	go func() {
		defer cancel()
		c.mu.Lock()
		run.status.State = RunRunning
		c.mu.Unlock()
		summary, err := c.reindex(ctx, force, func(s ReindexSummary) {
			c.mu.Lock()
			run.status.Summary = s
			c.mu.Unlock()
		})
		c.mu.Lock()
		run.status.Summary = summary
		run.status.FinishedAt = time.Now()
		switch {
		case err == nil:
			run.status.State = RunCompleted
		case errors.Is(err, context.Canceled):
			run.status.State = RunCancelled
		default:
			run.status.State = RunError
			run.status.Error = err.Error()
		}
		c.mu.Unlock()
		c.release()
		close(run.done)
	}()
	return id, nil
}

// Status returns the status of a background run.
func (c *ReindexCoordinator) Status(id string) (ReindexRun, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[id]
	if !ok {
		return ReindexRun{}, false
	}
	return run.status, true
}

// Cancel asks a background run to stop after the profiles in flight.
func (c *ReindexCoordinator) Cancel(id string) bool {
	c.mu.Lock()
	run, ok := c.runs[id]
	c.mu.Unlock()
	if ok {
		run.cancel()
	}
	return ok
}

// Wait blocks until the background run finishes or ctx is done.
func (c *ReindexCoordinator) Wait(ctx context.Context, id string) (ReindexRun, error) {
	c.mu.Lock()
	run, ok := c.runs[id]
	c.mu.Unlock()
	if !ok {
		return ReindexRun{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		st, _ := c.Status(id)
		return st, ctx.Err()
	}
	st, _ := c.Status(id)
	return st, nil
}

func (c *ReindexCoordinator) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrReindexInProgress
	}
	if c.lock != nil {
		locked, err := c.lock.TryLock()
		if err != nil {
			return fmt.Errorf("%w: acquire reindex lock: %w", domain.ErrCoordinator, err)
		}
		if !locked {
			return fmt.Errorf("%w: held by another process", ErrReindexInProgress)
		}
	}
	c.busy = true
	return nil
}

func (c *ReindexCoordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil {
			c.log.Warn().Err(err).Msg("release reindex lock")
		}
	}
	c.busy = false
}

func (c *ReindexCoordinator) reindex(ctx context.Context, force bool, progress func(ReindexSummary)) (ReindexSummary, error) {
	ids, err := c.profiles.ListProfileIDs(ctx)
	if err != nil {
		return ReindexSummary{}, fmt.Errorf("%w: list profiles: %w", domain.ErrCoordinator, err)
	}
	summary := ReindexSummary{Total: len(ids)}
	c.log.Info().Int("total", summary.Total).Bool("force", force).Int("concurrency", c.cfg.Concurrency).Msg("bulk reindex started")
	if progress != nil {
		progress(summary)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(c.cfg.Concurrency))
		// Jobs already submitted are awaited even after cancellation so the
		// partial summary stays exact.
		waitCtx   = context.WithoutCancel(ctx)
		cancelled bool
	)

	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			cancelled = true
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			cancelled = true
			break
		}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer sem.Release(1)
			state := c.runOne(waitCtx, id, force)

			mu.Lock()
			defer mu.Unlock()
			summary.Done++
			switch state {
			case domain.JobSucceeded:
				summary.Processed++
			case domain.JobSkipped:
				summary.Skipped++
			default:
				summary.Errors++
			}
			c.log.Debug().Int("done", summary.Done).Int("total", summary.Total).Msg("bulk reindex progress")
			if progress != nil {
				progress(summary)
			}
		}(id)
	}
	wg.Wait()

	if cancelled {
		c.log.Warn().Int("done", summary.Done).Int("total", summary.Total).Msg("bulk reindex cancelled")
		return summary, ctx.Err()
	}
	c.log.Info().Int("processed", summary.Processed).Int("skipped", summary.Skipped).Int("errors", summary.Errors).Msg("bulk reindex completed")
	return summary, nil
}

// runOne submits the job for one profile and returns its terminal state; any
// failure to submit or await it counts as failed.
func (c *ReindexCoordinator) runOne(ctx context.Context, profileID int64, force bool) domain.JobState {
	jobID, err := c.jobs.Submit(domain.IndexJob{ProfileID: profileID, Force: force})
	if err != nil {
		c.log.Warn().Err(err).Int64("profile_id", profileID).Msg("submit reindex job")
		return domain.JobFailed
	}
	if c.cfg.JobWaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.JobWaitTimeout)
		defer cancel()
	}
	st, err := c.jobs.Wait(ctx, jobID)
	if err != nil {
		c.log.Warn().Err(err).Int64("profile_id", profileID).Str("job_id", jobID).Msg("wait for reindex job")
		return domain.JobFailed
	}
	if st.State == domain.JobFailed {
		c.log.Warn().Int64("profile_id", profileID).Str("job_id", jobID).Str("error", st.Error).Msg("reindex job failed")
	}
	return st.State
}
