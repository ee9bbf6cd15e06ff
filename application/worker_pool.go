package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"profile-indexer/domain"
)

var (
	ErrQueueFull  = errors.New("index queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrUnknownJob = errors.New("unknown job")
)

// PoolConfig bounds the worker pool.
type PoolConfig struct {
	Workers            int           // concurrent jobs; one worker per queue shard
	QueueSize          int           // total queued jobs across all shards
	MaxRetries         int           // retries after the first attempt
	BaseBackoff        time.Duration // delay before the first retry, doubled per retry
	MaxBackoff         time.Duration
	BackoffJitter      float64       // randomization factor applied to each delay; 0 disables
	JobTimeout         time.Duration // wall-clock limit per attempt; 0 disables
	MaxTasksPerWorker  int           // worker restarts after this many jobs; 0 disables
	MaxWorkerHeapBytes uint64        // worker restarts when the heap exceeds this; 0 disables
	ResultTTL          time.Duration // how long terminal statuses are kept; 0 keeps them forever
}

// DefaultPoolConfig returns the limits the pipeline runs with unless configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:            2,
		QueueSize:          256,
		MaxRetries:         3,
		BaseBackoff:        time.Second,
		MaxBackoff:         time.Minute,
		BackoffJitter:      0.2,
		JobTimeout:         10 * time.Minute,
		MaxTasksPerWorker:  10,
		MaxWorkerHeapBytes: 200 << 20,
		ResultTTL:          time.Hour,
	}
}

// JobExecutor runs one attempt of an index job.
type JobExecutor interface {
	Execute(ctx context.Context, job domain.IndexJob, embedder domain.EmbeddingClient, report ProgressFunc) domain.Outcome
}

type jobRecord struct {
	status domain.JobStatus
	done   chan struct{}
	timer  *time.Timer
	retry  backoff.BackOff
}

// WorkerPool executes index jobs with bounded concurrency, retry with
// exponential backoff and per-attempt timeouts. Jobs are sharded by profile
// id, so jobs for one profile never run concurrently, and a job submitted
// while another one for the same profile is still queued is coalesced into it.
// An attempt abandoned at its timeout keeps its shard occupied until it
// returns.
type WorkerPool struct {
	cfg       PoolConfig
	exec      JobExecutor
	newClient domain.EmbeddingClientFactory
	log       zerolog.Logger
	queues    []chan string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	now       func() time.Time
	heap      func() uint64

	mu       sync.Mutex
	closed   bool
	jobs     map[string]*jobRecord
	pending  map[int64]string // profile id -> queued job id
	restarts int
}

// NewWorkerPool creates a WorkerPool and starts its workers. Each worker opens
// its own embedding client through newClient on its first job.
func NewWorkerPool(cfg PoolConfig, exec JobExecutor, newClient domain.EmbeddingClientFactory, logger zerolog.Logger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	perShard := cfg.QueueSize / cfg.Workers
	if perShard <= 0 {
		perShard = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		cfg:       cfg,
		exec:      exec,
		newClient: newClient,
		log:       logger.With().Str("component", "worker_pool").Logger(),
		queues:    make([]chan string, cfg.Workers),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		heap:      heapAlloc,
		jobs:      make(map[string]*jobRecord),
		pending:   make(map[int64]string),
	}
	for i := range p.queues {
		p.queues[i] = make(chan string, perShard)
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.runShard(i)
	}
	return p
}

func (p *WorkerPool) queueFor(profileID int64) chan string {
	return p.queues[int(uint64(profileID)%uint64(len(p.queues)))]
}

// Submit enqueues job without waiting for it to run and returns its id. If a
// job for the same profile is still queued, that job's id is returned instead
// and the force flags are merged.
func (p *WorkerPool) Submit(job domain.IndexJob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrPoolClosed
	}
	now := p.now()
	p.pruneLocked(now)

	if id, ok := p.pending[job.ProfileID]; ok {
		rec := p.jobs[id]
		if job.Force {
			rec.status.Force = true
		}
		p.log.Debug().Str("job_id", id).Int64("profile_id", job.ProfileID).Msg("coalesced index job")
		return id, nil
	}

	id := uuid.NewString()
	select {
	case p.queueFor(job.ProfileID) <- id:
	default:
		return "", fmt.Errorf("%w: profile %d", ErrQueueFull, job.ProfileID)
	}
	p.jobs[id] = &jobRecord{
		status: domain.JobStatus{
			ID:          id,
			ProfileID:   job.ProfileID,
			Force:       job.Force,
			State:       domain.JobQueued,
			SubmittedAt: now,
			UpdatedAt:   now,
		},
		done: make(chan struct{}),
	}
	p.pending[job.ProfileID] = id
	p.log.Debug().Str("job_id", id).Int64("profile_id", job.ProfileID).Bool("force", job.Force).Msg("enqueued index job")
	return id, nil
}

// Status returns a snapshot of the job's status.
func (p *WorkerPool) Status(id string) (domain.JobStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.jobs[id]
	if !ok {
		return domain.JobStatus{}, false
	}
	return snapshot(rec), true
}

// Wait blocks until the job reaches a terminal state or ctx is done, and
// returns the latest status either way.
func (p *WorkerPool) Wait(ctx context.Context, id string) (domain.JobStatus, error) {
	p.mu.Lock()
	rec, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return domain.JobStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	select {
	case <-rec.done:
	case <-ctx.Done():
		p.mu.Lock()
		defer p.mu.Unlock()
		return snapshot(rec), ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(rec), nil
}

// Drain blocks until no job is queued or running.
func (p *WorkerPool) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *WorkerPool) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, rec := range p.jobs {
		if !rec.status.State.Terminal() {
			n++
		}
	}
	return n
}

// Restarts returns how many times a worker was replaced after exceeding its
// budget or timing out.
func (p *WorkerPool) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// Close stops accepting jobs, cancels running attempts and waits for the
// workers to exit. Jobs that did not finish are marked failed.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, rec := range p.jobs {
		if rec.status.State.Terminal() {
			continue
		}
		if rec.timer != nil {
			rec.timer.Stop()
		}
		rec.status.State = domain.JobFailed
		rec.status.Error = ErrPoolClosed.Error()
		rec.status.UpdatedAt = now
		close(rec.done)
	}
	p.pending = make(map[int64]string)
}

// runShard runs successive worker generations on one queue shard until the
// pool closes.
func (p *WorkerPool) runShard(shard int) {
	defer p.wg.Done()
	for generation := 1; ; generation++ {
		reason, stop := p.serve(shard, generation)
		if stop || p.ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		p.restarts++
		p.mu.Unlock()
		p.log.Info().Int("worker", shard).Int("generation", generation).Str("reason", reason).Msg("restarting worker")
	}
}

func (p *WorkerPool) serve(shard, generation int) (reason string, stop bool) {
	w := &worker{pool: p, shard: shard, generation: generation}
	defer w.release()
	for {
		select {
		case <-p.ctx.Done():
			return "", true
		case id := <-p.queues[shard]:
			if reason := w.process(id); reason != "" {
				return reason, false
			}
		}
	}
}

// worker is one generation of a shard's worker. It owns an embedding client
// handle for its lifetime.
type worker struct {
	pool       *WorkerPool
	shard      int
	generation int
	tasks      int
	client     domain.EmbeddingClient
	stray      <-chan struct{} // closed when an abandoned attempt returns
}

func (w *worker) embedder() (domain.EmbeddingClient, error) {
	if w.client != nil {
		return w.client, nil
	}
	c, err := w.pool.newClient(w.pool.ctx)
	if err != nil {
		return nil, err
	}
	w.client = c
	return c, nil
}

// release closes the worker's encoder handle. When an abandoned attempt is
// still running it waits for it, so the next generation never overlaps it.
// On pool shutdown it stops waiting and closes the handle once the attempt
// returns.
func (w *worker) release() {
	client := w.client
	w.client = nil
	closeClient := func() {
		if c, ok := client.(io.Closer); ok {
			_ = c.Close()
		}
	}
	if w.stray == nil {
		closeClient()
		return
	}
	select {
	case <-w.stray:
		closeClient()
	case <-w.pool.ctx.Done():
		stray := w.stray
		go func() {
			<-stray
			closeClient()
		}()
	}
	w.stray = nil
}

// process runs one job and returns a non-empty reason when the worker must
// be replaced.
func (w *worker) process(id string) string {
	job, ok := w.pool.begin(id)
	if !ok {
		return ""
	}
	w.tasks++

	var out domain.Outcome
	client, err := w.embedder()
	if err != nil {
		out = domain.Retryable(fmt.Errorf("open embedding client: %w: %w", domain.ErrTransientEncoder, err))
	} else {
		out, w.stray = w.pool.attempt(id, job, client)
	}
	w.pool.finish(id, out)

	cfg := w.pool.cfg
	switch {
	case w.stray != nil, out.Err != nil && domain.IsTimeout(out.Err):
		return "job timeout"
	case cfg.MaxTasksPerWorker > 0 && w.tasks >= cfg.MaxTasksPerWorker:
		return "task budget"
	case cfg.MaxWorkerHeapBytes > 0 && w.pool.heap() > cfg.MaxWorkerHeapBytes:
		return "heap budget"
	}
	return ""
}

// heapAlloc samples the process heap; goroutines have no heap of their own.
func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

func (p *WorkerPool) begin(id string) (domain.IndexJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.jobs[id]
	if !ok || rec.status.State != domain.JobQueued {
		return domain.IndexJob{}, false
	}
	if p.pending[rec.status.ProfileID] == id {
		delete(p.pending, rec.status.ProfileID)
	}
	rec.timer = nil
	rec.status.State = domain.JobRunning
	rec.status.Attempts++
	rec.status.Progress = 0
	rec.status.Note = "running"
	rec.status.UpdatedAt = p.now()
	return domain.IndexJob{ProfileID: rec.status.ProfileID, Force: rec.status.Force}, true
}

// attempt runs the executor under the job's wall-clock limit. When the limit
// passes, the attempt is abandoned and reported as a timeout; the returned
// channel is then closed once the executor actually returns.
func (p *WorkerPool) attempt(id string, job domain.IndexJob, client domain.EmbeddingClient) (domain.Outcome, <-chan struct{}) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()

	p.mu.Lock()
	attemptNo := p.jobs[id].status.Attempts
	p.mu.Unlock()

	result := make(chan domain.Outcome, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer func() {
			if r := recover(); r != nil {
				result <- domain.Terminal(fmt.Errorf("index job panicked: %v", r))
			}
		}()
		result <- p.exec.Execute(ctx, job, client, func(progress int, note string) {
			p.progress(id, attemptNo, progress, note)
		})
	}()

	select {
	case out := <-result:
		return out, nil
	case <-ctx.Done():
		// The executor may have finished in the same instant.
		select {
		case out := <-result:
			return out, nil
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Retryable(fmt.Errorf("%w after %s", domain.ErrJobTimeout, p.cfg.JobTimeout)), exited
		}
		return domain.Retryable(ctx.Err()), exited
	}
}

// progress records a report from attempt number attempt; reports from an
// earlier, abandoned attempt are dropped.
func (p *WorkerPool) progress(id string, attempt, progress int, note string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.jobs[id]
	if !ok || rec.status.State != domain.JobRunning || rec.status.Attempts != attempt {
		return
	}
	rec.status.Progress = progress
	rec.status.Note = note
	rec.status.UpdatedAt = p.now()
}

func (p *WorkerPool) finish(id string, out domain.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.jobs[id]
	if !ok {
		return
	}
	st := &rec.status
	st.UpdatedAt = p.now()
	logger := p.log.With().Str("job_id", id).Int64("profile_id", st.ProfileID).Int("attempt", st.Attempts).Logger()

	switch out.Kind {
	case domain.OutcomeSucceeded, domain.OutcomeSkipped:
		res := out.Result
		st.Result = &res
		st.Progress = 100
		st.Error = ""
		st.State = domain.JobSucceeded
		st.Note = "embedding stored"
		if out.Kind == domain.OutcomeSkipped {
			st.State = domain.JobSkipped
			st.Note = res.Message
		}
		logger.Info().Str("state", string(st.State)).Str("fingerprint", res.Fingerprint.Short()).Str("encoder_version", res.EncoderVersion).Msg("index job finished")
		close(rec.done)
		return
	}

	errMsg := "unknown error"
	if out.Err != nil {
		errMsg = out.Err.Error()
	}
	st.Error = errMsg

	if out.Kind == domain.OutcomeTerminal || p.closed || st.Attempts > p.cfg.MaxRetries {
		st.State = domain.JobFailed
		st.Note = "failed"
		logger.Error().Str("error", errMsg).Str("outcome", out.Kind.String()).Msg("index job failed")
		close(rec.done)
		return
	}

	if rec.retry == nil {
		rec.retry = newRetryBackoff(p.cfg)
	}
	delay := rec.retry.NextBackOff()
	st.State = domain.JobQueued
	st.Note = fmt.Sprintf("retry %d/%d in %s", st.Attempts, p.cfg.MaxRetries, delay)
	if _, ok := p.pending[st.ProfileID]; !ok {
		p.pending[st.ProfileID] = id
	}
	profileID := st.ProfileID
	rec.timer = time.AfterFunc(delay, func() { p.requeue(id, profileID) })
	logger.Warn().Str("error", errMsg).Dur("delay", delay).Msg("index job retry scheduled")
}

func (p *WorkerPool) requeue(id string, profileID int64) {
	select {
	case p.queueFor(profileID) <- id:
	case <-p.ctx.Done():
	}
}

// newRetryBackoff returns the delay schedule of one job: BaseBackoff doubled
// per retry, capped at MaxBackoff, randomized by BackoffJitter. Retries are
// counted by the pool, so the schedule itself never stops.
func newRetryBackoff(cfg PoolConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = cfg.BackoffJitter
	b.MaxInterval = cfg.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = 24 * time.Hour
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p *WorkerPool) pruneLocked(now time.Time) {
	if p.cfg.ResultTTL <= 0 {
		return
	}
	for id, rec := range p.jobs {
		if rec.status.State.Terminal() && now.Sub(rec.status.UpdatedAt) > p.cfg.ResultTTL {
			delete(p.jobs, id)
		}
	}
}

func snapshot(rec *jobRecord) domain.JobStatus {
	st := rec.status
	if st.Result != nil {
		r := *st.Result
		st.Result = &r
	}
	return st
}
