package job

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultMaxAge          = 24 * time.Hour
	DefaultCleanupInterval = 30 * time.Minute
)

// Sweeper removes finished jobs older than maxAge. *Manager satisfies it.
type Sweeper interface {
	CleanupOldJobs(maxAge time.Duration) int
}

// Janitor periodically drops old terminal jobs from the registry.
type Janitor struct {
	sweeper  Sweeper
	maxAge   time.Duration
	interval time.Duration
	notify   chan struct{}
}

func NewJanitor(sweeper Sweeper, maxAge, interval time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Janitor{
		sweeper:  sweeper,
		maxAge:   maxAge,
		interval: interval,
		notify:   make(chan struct{}, 1),
	}
}

// Notify requests an immediate sweep. Non-blocking.
func (jn *Janitor) Notify() {
	select {
	case jn.notify <- struct{}{}:
	default:
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (jn *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(jn.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jn.notify:
		case <-ticker.C:
		}
		if n := jn.sweeper.CleanupOldJobs(jn.maxAge); n > 0 {
			slog.Debug("janitor: swept jobs", "count", n)
		}
	}
}
