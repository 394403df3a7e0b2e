package job

import (
	"context"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

// Store is the persistence collaborator the Manager reports lifecycle
// changes to. Every call is best effort: failures are logged, never
// escalated to the job.
type Store interface {
	StoreJobMetadata(ctx context.Context, j Job) error
	UpdateJobStatus(ctx context.Context, u StatusUpdate) error
	StoreJobData(ctx context.Context, j Job, candles []candle.Candle, meta DataMeta) (int64, error)
}

// Repository is the full storage surface behind the read-side Service.
type Repository interface {
	Store
	GetJobData(ctx context.Context, id string) (*StoredJob, error)
	GetStoredJobs(ctx context.Context, limit int) ([]StoredJob, error)
	DeleteJobData(ctx context.Context, id string) error
	DeleteSymbolData(ctx context.Context, symbol, exchange string, interval candle.Interval) (int64, error)
	SearchCandles(ctx context.Context, q CandleQuery) ([]candle.Candle, error)
	Summary(ctx context.Context) ([]SeriesSummary, error)
	Stats(ctx context.Context) (*Stats, error)
	MarkInterrupted(ctx context.Context) (int64, error)
}

type StatusUpdate struct {
	ID           string
	Status       Status
	TotalCandles *int64
	FailedChunks int
}

// DataMeta describes how a stored series was gathered.
type DataMeta struct {
	ChunksFetched    int `json:"chunksFetched"`
	FailedChunks     int `json:"failedChunks"`
	ParallelRequests int `json:"parallelRequests"`
}

// StoredJob is a job as persisted. Candles is populated by GetJobData only.
type StoredJob struct {
	ID           string            `json:"jobId"`
	Source       string            `json:"source"`
	Symbol       string            `json:"symbol"`
	Exchange     string            `json:"exchange"`
	Interval     candle.Interval   `json:"interval"`
	From         time.Time         `json:"fromDate"`
	To           time.Time         `json:"toDate"`
	Status       Status            `json:"status"`
	TotalCandles int64             `json:"totalCandles"`
	FailedChunks int               `json:"failedChunks"`
	Extra        map[string]string `json:"extra,omitempty"`
	Meta         DataMeta          `json:"meta"`
	CreatedAt    time.Time         `json:"createdAt"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	Candles      []candle.Candle   `json:"data,omitempty"`
}

type CandleQuery struct {
	Symbol   string
	Exchange string
	Interval candle.Interval
	From     time.Time
	To       time.Time
	Limit    int
}

// SeriesSummary aggregates stored candles per symbol/exchange/interval.
type SeriesSummary struct {
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Interval     candle.Interval `json:"interval"`
	Earliest     time.Time       `json:"earliestDate"`
	Latest       time.Time       `json:"latestDate"`
	TotalCandles int64           `json:"totalCandles"`
	JobCount     int64           `json:"jobCount"`
}

type Stats struct {
	TotalCandles  int64      `json:"totalCandles"`
	TotalJobs     int64      `json:"totalJobs"`
	UniqueSeries  int64      `json:"uniqueSeries"`
	EarliestDate  *time.Time `json:"earliestDate,omitempty"`
	LatestDate    *time.Time `json:"latestDate,omitempty"`
}
