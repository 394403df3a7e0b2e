package job

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/apperror"
	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

// Service is the request-facing layer over the Manager and the Repository.
type Service struct {
	manager *Manager
	repo    Repository
	now     func() time.Time
}

func NewService(manager *Manager, repo Repository) *Service {
	return &Service{
		manager: manager,
		repo:    repo,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecoverStaleJobs fails stored jobs a previous process left PENDING or
// RUNNING. Their executors are gone, so they can never finish.
func (s *Service) RecoverStaleJobs(ctx context.Context) error {
	n, err := s.repo.MarkInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("marked interrupted jobs as failed", "count", n)
	}
	return nil
}

// Submit creates a job, attaches observers and starts it.
func (s *Service) Submit(ctx context.Context, req CreateJobRequest, observers ...ProgressFunc) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id, err := s.manager.Create(ctx, req.Params(s.now()))
	if err != nil {
		return nil, err
	}
	for _, fn := range observers {
		if err := s.manager.AddProgressCallback(id, fn); err != nil {
			return nil, err
		}
	}
	if !s.manager.Start(id) {
		return nil, apperror.New(apperror.Internal, "job could not be started")
	}
	j, _ := s.manager.Get(id)
	return &j, nil
}

func (s *Service) Get(ctx context.Context, req GetJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if j, ok := s.manager.Get(req.ID); ok {
		return &j, nil
	}
	sj, err := s.repo.GetJobData(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	j := fromStored(*sj)
	return &j, nil
}

// List returns in-memory jobs followed by stored jobs not held in memory,
// newest first.
func (s *Service) List(ctx context.Context, req ListJobsRequest) ([]Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	jobs := s.manager.All()
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = struct{}{}
	}

	stored, err := s.repo.GetStoredJobs(ctx, req.limit())
	if err != nil {
		return nil, fmt.Errorf("list stored jobs: %w", err)
	}
	for _, sj := range stored {
		if _, ok := seen[sj.ID]; ok {
			continue
		}
		jobs = append(jobs, fromStored(sj))
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs, nil
}

// Data returns a completed job's candles, from storage when available and
// from memory otherwise.
func (s *Service) Data(ctx context.Context, req GetJobRequest) (*StoredJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sj, err := s.repo.GetJobData(ctx, req.ID)
	switch {
	case err == nil && sj.Status == StatusCompleted:
		return sj, nil
	case err != nil && !apperror.Is(err, apperror.NotFound):
		return nil, err
	}

	if j, ok := s.manager.Get(req.ID); ok {
		if j.Status != StatusCompleted {
			return nil, apperror.New(apperror.Conflict, fmt.Sprintf("job is %s, data not available", j.Status))
		}
		out := toStored(j)
		return &out, nil
	}
	if sj != nil {
		return nil, apperror.New(apperror.Conflict, fmt.Sprintf("job is %s, data not available", sj.Status))
	}
	return nil, apperror.New(apperror.NotFound, "job not found")
}

func (s *Service) Cancel(_ context.Context, req GetJobRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	j, ok := s.manager.Get(req.ID)
	if !ok {
		return apperror.New(apperror.NotFound, "job not found")
	}
	if !s.manager.Cancel(req.ID) {
		return apperror.New(apperror.Conflict, fmt.Sprintf("job is %s and cannot be cancelled", j.Status))
	}
	return nil
}

func (s *Service) StoredJobs(ctx context.Context, req ListJobsRequest) ([]StoredJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.GetStoredJobs(ctx, req.limit())
}

func (s *Service) DeleteStored(ctx context.Context, req GetJobRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if j, ok := s.manager.Get(req.ID); ok && !j.Status.Terminal() {
		return apperror.New(apperror.Conflict, "job is still active")
	}
	return s.repo.DeleteJobData(ctx, req.ID)
}

func (s *Service) DeleteSymbol(ctx context.Context, req DeleteSymbolRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	return s.repo.DeleteSymbolData(ctx, req.Symbol, req.Exchange, candle.Interval(req.Interval))
}

func (s *Service) Search(ctx context.Context, req SearchRequest) ([]candle.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.SearchCandles(ctx, req.query())
}

type DataSummary struct {
	Series []SeriesSummary `json:"series"`
	Stats  *Stats          `json:"stats"`
}

func (s *Service) Summary(ctx context.Context) (*DataSummary, error) {
	series, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("data summary: %w", err)
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("data stats: %w", err)
	}
	return &DataSummary{Series: series, Stats: stats}, nil
}

func fromStored(sj StoredJob) Job {
	j := Job{
		ID:           sj.ID,
		Source:       sj.Source,
		Symbol:       sj.Symbol,
		Exchange:     sj.Exchange,
		Interval:     sj.Interval,
		From:         sj.From,
		To:           sj.To,
		Status:       sj.Status,
		CreatedAt:    sj.CreatedAt,
		CompletedAt:  sj.CompletedAt,
		Extra:        sj.Extra,
		TotalChunks:  sj.Meta.ChunksFetched + sj.Meta.FailedChunks,
		FailedChunks: sj.FailedChunks,
		Partial:      sj.FailedChunks > 0,
		DataCount:    int(sj.TotalCandles),
	}
	if sj.Status == StatusCompleted {
		j.Progress = Progress{
			CandlesFetched: int(sj.TotalCandles),
			Percentage:     100,
			Message:        "Complete",
			Details:        "Loaded from storage",
		}
	}
	return j
}

func toStored(j Job) StoredJob {
	return StoredJob{
		ID:           j.ID,
		Source:       j.Source,
		Symbol:       j.Symbol,
		Exchange:     j.Exchange,
		Interval:     j.Interval,
		From:         j.From,
		To:           j.To,
		Status:       j.Status,
		TotalCandles: int64(j.DataCount),
		FailedChunks: j.FailedChunks,
		Extra:        j.Extra,
		Meta: DataMeta{
			ChunksFetched: j.TotalChunks - j.FailedChunks,
			FailedChunks:  j.FailedChunks,
		},
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		Candles:     j.Result,
	}
}
