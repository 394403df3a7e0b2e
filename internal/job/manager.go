package job

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/tradedesk/internal/apperror"
	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
)

const (
	DefaultMaxParallelChunks = 10
	DefaultBatchPause        = 100 * time.Millisecond

	persistTimeout = 10 * time.Second
)

// ClientSource resolves a job's source name to a fetch client.
// *fetch.Registry satisfies it.
type ClientSource interface {
	Get(source string) (fetch.Client, error)
}

type CreateParams struct {
	Source   string
	Symbol   string
	Exchange string
	Interval candle.Interval
	From     time.Time
	To       time.Time
	Extra    map[string]string
}

type Option func(*Manager)

func WithMaxParallelChunks(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func WithBatchPause(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.pause = d
		}
	}
}

// WithDefaultSource sets the source used when CreateParams.Source is empty.
func WithDefaultSource(source string) Option {
	return func(m *Manager) { m.defaultSource = source }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// entry is the registry record of one job.
type entry struct {
	job Job
	run *run // non-nil while an executor owns the job

	// notifyMu orders observer deliveries so the terminal snapshot is
	// always the last one.
	notifyMu sync.Mutex
}

type run struct {
	cancel    context.CancelFunc
	done      chan struct{}
	committed bool // past merge; cancellation no longer accepted

	// persistMu orders status writes for the job.
	persistMu sync.Mutex
}

// Manager is the in-memory job registry. It owns every job's lifecycle and
// launches one executor goroutine per started job.
type Manager struct {
	clients ClientSource
	store   Store

	concurrency   int
	pause         time.Duration
	defaultSource string
	now           func() time.Time

	mu        sync.Mutex
	jobs      map[string]*entry
	observers *broadcaster

	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a registry. store may be nil, in which case nothing is
// persisted.
func NewManager(clients ClientSource, store Store, opts ...Option) *Manager {
	root, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clients:     clients,
		store:       store,
		concurrency: DefaultMaxParallelChunks,
		pause:       DefaultBatchPause,
		now:         func() time.Time { return time.Now().UTC() },
		jobs:        make(map[string]*entry),
		observers:   newBroadcaster(),
		root:        root,
		cancelRoot:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a PENDING job and returns its id.
func (m *Manager) Create(ctx context.Context, p CreateParams) (string, error) {
	if p.Symbol == "" {
		return "", apperror.New(apperror.BadRequest, "symbol is required")
	}
	if !p.From.Before(p.To) {
		return "", apperror.New(apperror.BadRequest, "from date must be before to date")
	}
	if p.Source == "" {
		p.Source = m.defaultSource
	}
	if _, err := m.clients.Get(p.Source); err != nil {
		return "", apperror.New(apperror.BadRequest, err.Error())
	}

	j := Job{
		ID:        uuid.NewString(),
		Source:    p.Source,
		Symbol:    p.Symbol,
		Exchange:  p.Exchange,
		Interval:  p.Interval,
		From:      p.From.UTC(),
		To:        p.To.UTC(),
		Status:    StatusPending,
		CreatedAt: m.now(),
		Extra:     p.Extra,
		Progress:  Progress{Message: "Queued"},
	}
	snap := j.clone()

	m.mu.Lock()
	m.jobs[j.ID] = &entry{job: j}
	m.mu.Unlock()

	slog.Info("job created", "job", j.ID, "source", j.Source, "symbol", j.Symbol,
		"exchange", j.Exchange, "interval", j.Interval, "from", j.From, "to", j.To)

	m.persist(ctx, "store metadata", j.ID, nil, func(ctx context.Context, s Store) error {
		return s.StoreJobMetadata(ctx, snap)
	})
	return j.ID, nil
}

// Start launches the executor for a PENDING job. It returns false if the job
// is unknown or not PENDING.
func (m *Manager) Start(id string) bool {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.run != nil || !CanTransition(e.job.Status, StatusRunning) {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	e.job.Status = StatusRunning
	e.job.StartedAt = &now
	e.job.Progress = Progress{Message: "Starting..."}

	ctx, cancel := context.WithCancel(m.root)
	r := &run{cancel: cancel, done: make(chan struct{})}
	r.persistMu.Lock()
	e.run = r
	m.wg.Add(1)
	m.mu.Unlock()

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := m.store.UpdateJobStatus(ctx, StatusUpdate{ID: id, Status: StatusRunning}); err != nil {
			slog.Error("job store: update status", "job", id, "error", err)
		}
		cancel()
	}
	r.persistMu.Unlock()

	slog.Info("job started", "job", id)
	go m.execute(ctx, id, e, r)
	return true
}

// Cancel stops a running job. It returns false for unknown, PENDING and
// terminal jobs, and for jobs whose executor is already persisting its
// result. A cancelled job's data is never persisted.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.run == nil || e.run.committed || e.job.Status != StatusRunning {
		m.mu.Unlock()
		return false
	}
	r := e.run
	r.cancel()
	snap, fns := m.terminateLocked(e, StatusCancelled, func(j *Job) {
		j.Progress.Message = "Cancelled"
		j.Progress.Details = "Job cancelled by user"
	})
	m.mu.Unlock()

	slog.Info("job cancelled", "job", id)
	m.publishTerminal(e, r, snap, fns)
	return true
}

// Get returns a copy of the job.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job.clone(), true
}

// All returns copies of every job, newest first.
func (m *Manager) All() []Job {
	m.mu.Lock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		jobs = append(jobs, e.job.clone())
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
	return jobs
}

// CleanupOldJobs drops terminal jobs that finished more than maxAge ago,
// together with their observers, and returns how many were removed.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var removed []string
	for id, e := range m.jobs {
		j := e.job
		if !j.Status.Terminal() || j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, id)
		m.observers.detach(id)
		removed = append(removed, id)
	}
	m.mu.Unlock()

	if len(removed) > 0 {
		slog.Info("cleaned up old jobs", "count", len(removed), "max_age", maxAge)
	}
	return len(removed)
}

// AddProgressCallback registers fn for every subsequent snapshot of the job,
// up to and including its terminal one. fn must not call Cancel.
func (m *Manager) AddProgressCallback(id string, fn ProgressFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return apperror.New(apperror.NotFound, "job not found")
	}
	if e.job.Status.Terminal() {
		return apperror.New(apperror.Conflict, fmt.Sprintf("job is already %s", e.job.Status))
	}
	m.observers.add(id, fn)
	return nil
}

// Wait blocks until the job's executor has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return Job{}, apperror.New(apperror.NotFound, "job not found")
	}
	r, status := e.run, e.job.Status
	m.mu.Unlock()

	if r == nil {
		if status == StatusPending {
			return Job{}, apperror.New(apperror.Conflict, "job has not been started")
		}
	} else {
		select {
		case <-r.done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}

	j, ok := m.Get(id)
	if !ok {
		return Job{}, apperror.New(apperror.NotFound, "job not found")
	}
	return j, nil
}

// Shutdown cancels every running job and waits for the executors to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancelRoot()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) execute(ctx context.Context, id string, e *entry, r *run) {
	defer m.wg.Done()
	defer close(r.done)
	defer func() {
		m.mu.Lock()
		if e.run == r {
			e.run = nil
		}
		m.mu.Unlock()
	}()
	defer r.cancel()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("job executor panic", "job", id, "panic", rec)
			m.fail(e, r, fmt.Errorf("executor panic: %v", rec))
		}
	}()

	snap := m.snapshot(e)
	client, err := m.clients.Get(snap.Source)
	if err != nil {
		m.fail(e, r, err)
		return
	}

	ex := &executor{
		fetcher:     fetch.NewFetcher(client),
		concurrency: m.concurrency,
		pause:       m.pause,
		report:      func(p Progress) { m.updateProgress(e, p) },
	}
	res, err := ex.run(ctx, snap)
	switch {
	case ctx.Err() != nil:
		m.abort(e, r)
	case err != nil:
		m.fail(e, r, err)
	default:
		m.complete(e, r, res)
	}
}

func (m *Manager) snapshot(e *entry) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.job.clone()
}

// updateProgress replaces the progress of a RUNNING job and notifies its
// observers. Updates to jobs in any other status are dropped.
func (m *Manager) updateProgress(e *entry, p Progress) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	m.mu.Lock()
	if e.job.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	if p.Percentage < e.job.Progress.Percentage {
		p.Percentage = e.job.Progress.Percentage
	}
	e.job.Progress = p
	if p.TotalChunks > 0 {
		e.job.TotalChunks = p.TotalChunks
	}
	snap := e.job.clone()
	fns := m.observers.list(snap.ID)
	m.mu.Unlock()

	notify(m.root, fns, snap)
}

func (m *Manager) complete(e *entry, r *run, res result) {
	m.mu.Lock()
	if e.job.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	r.committed = true
	m.mu.Unlock()

	n := len(res.candles)
	m.updateProgress(e, Progress{
		CurrentChunk:   res.totalChunks,
		TotalChunks:    res.totalChunks,
		CandlesFetched: n,
		Percentage:     98,
		Message:        "Storing data...",
		Details:        "Saving to database for future access",
	})

	snap := m.snapshot(e)
	if n > 0 {
		meta := DataMeta{
			ChunksFetched:    res.totalChunks - res.failedChunks,
			FailedChunks:     res.failedChunks,
			ParallelRequests: m.concurrency,
		}
		m.persist(context.Background(), "store data", snap.ID, r, func(ctx context.Context, s Store) error {
			stored, err := s.StoreJobData(ctx, snap, res.candles, meta)
			if err == nil {
				slog.Info("job data stored", "job", snap.ID, "candles", stored)
			}
			return err
		})
	}

	total := int64(n)
	m.persist(context.Background(), "update status", snap.ID, r, func(ctx context.Context, s Store) error {
		return s.UpdateJobStatus(ctx, StatusUpdate{
			ID: snap.ID, Status: StatusCompleted, TotalCandles: &total, FailedChunks: res.failedChunks,
		})
	})

	m.mu.Lock()
	final, fns := m.terminateLocked(e, StatusCompleted, func(j *Job) {
		if n > 0 {
			j.Result = res.candles
		}
		j.DataCount = n
		j.TotalChunks = res.totalChunks
		j.FailedChunks = res.failedChunks
		j.Partial = res.failedChunks > 0
		details := fmt.Sprintf("Fetched %d candles", n)
		if j.Partial {
			details = fmt.Sprintf("Fetched %d candles, %d of %d chunks failed", n, res.failedChunks, res.totalChunks)
		}
		j.Progress = Progress{
			CurrentChunk:   res.totalChunks,
			TotalChunks:    res.totalChunks,
			CandlesFetched: n,
			Percentage:     100,
			Message:        "Complete",
			Details:        details,
		}
	})
	m.mu.Unlock()

	slog.Info("job completed", "job", final.ID, "candles", n, "chunks", res.totalChunks, "failed_chunks", res.failedChunks)
	m.deliver(e, final, fns)
}

func (m *Manager) fail(e *entry, r *run, err error) {
	m.mu.Lock()
	if e.job.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	snap, fns := m.terminateLocked(e, StatusFailed, func(j *Job) {
		j.Error = err.Error()
		j.Progress.Message = "Failed"
		j.Progress.Details = "Error: " + err.Error()
	})
	m.mu.Unlock()

	slog.Error("job failed", "job", snap.ID, "error", err)
	m.publishTerminal(e, r, snap, fns)
}

// abort records a cancellation that did not come through Cancel, such as
// Shutdown.
func (m *Manager) abort(e *entry, r *run) {
	m.mu.Lock()
	if e.job.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	snap, fns := m.terminateLocked(e, StatusCancelled, func(j *Job) {
		j.Progress.Message = "Cancelled"
		j.Progress.Details = "Job interrupted by shutdown"
	})
	m.mu.Unlock()

	slog.Info("job cancelled", "job", snap.ID, "reason", "shutdown")
	m.publishTerminal(e, r, snap, fns)
}

// terminateLocked records a terminal status and detaches the observers,
// returning them with the final snapshot. The caller holds m.mu.
func (m *Manager) terminateLocked(e *entry, to Status, mutate func(*Job)) (Job, []ProgressFunc) {
	now := m.now()
	e.job.Status = to
	e.job.CompletedAt = &now
	if mutate != nil {
		mutate(&e.job)
	}
	return e.job.clone(), m.observers.detach(e.job.ID)
}

// publishTerminal persists a FAILED or CANCELLED status and delivers the
// final snapshot to the detached observers.
func (m *Manager) publishTerminal(e *entry, r *run, snap Job, fns []ProgressFunc) {
	u := StatusUpdate{ID: snap.ID, Status: snap.Status, FailedChunks: snap.FailedChunks}
	m.persist(context.Background(), "update status", snap.ID, r, func(ctx context.Context, s Store) error {
		return s.UpdateJobStatus(ctx, u)
	})
	m.deliver(e, snap, fns)
}

func (m *Manager) deliver(e *entry, snap Job, fns []ProgressFunc) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	notify(context.Background(), fns, snap)
}

// persist runs a best-effort store call. Failures are logged only.
func (m *Manager) persist(parent context.Context, op, id string, r *run, fn func(context.Context, Store) error) {
	if m.store == nil {
		return
	}
	if r != nil {
		r.persistMu.Lock()
		defer r.persistMu.Unlock()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
	defer cancel()
	if err := fn(ctx, m.store); err != nil {
		slog.Error("job store: "+op, "job", id, "error", err)
	}
}
