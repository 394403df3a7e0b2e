package job

import (
	"maps"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition encodes the lifecycle PENDING -> RUNNING -> {COMPLETED,
// FAILED, CANCELLED}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Progress is replaced wholesale on every update.
type Progress struct {
	CurrentChunk   int     `json:"currentChunk"`
	TotalChunks    int     `json:"totalChunks"`
	CandlesFetched int     `json:"candlesFetched"`
	Percentage     float64 `json:"percentage"`
	Message        string  `json:"message"`
	Details        string  `json:"details"`
}

// Job is one request to retrieve a symbol/exchange/interval series over
// [From, To).
type Job struct {
	ID           string            `json:"jobId"`
	Source       string            `json:"source"`
	Symbol       string            `json:"symbol"`
	Exchange     string            `json:"exchange"`
	Interval     candle.Interval   `json:"interval"`
	From         time.Time         `json:"fromDate"`
	To           time.Time         `json:"toDate"`
	Status       Status            `json:"status"`
	Progress     Progress          `json:"progress"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
	TotalChunks  int               `json:"totalChunks"`
	FailedChunks int               `json:"failedChunks"`
	Partial      bool              `json:"partial"`
	DataCount    int               `json:"dataCount"`

	// Result is set only for COMPLETED jobs that fetched at least one candle.
	Result []candle.Candle `json:"-"`
}

// clone returns a copy safe to hand out of the registry. Result is shared;
// it is never mutated after completion.
func (j *Job) clone() Job {
	cp := *j
	cp.Extra = maps.Clone(j.Extra)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
