package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ProgressFunc observes job snapshots. Returned errors are logged and
// otherwise ignored.
type ProgressFunc func(ctx context.Context, j Job) error

// broadcaster keeps the per-job observer lists.
type broadcaster struct {
	mu        sync.Mutex
	observers map[string][]ProgressFunc
}

func newBroadcaster() *broadcaster {
	return &broadcaster{observers: make(map[string][]ProgressFunc)}
}

func (b *broadcaster) add(id string, fn ProgressFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[id] = append(b.observers[id], fn)
}

// list returns a copy of the observers registered for id.
func (b *broadcaster) list(id string) []ProgressFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ProgressFunc(nil), b.observers[id]...)
}

// detach removes and returns the observers registered for id.
func (b *broadcaster) detach(id string) []ProgressFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	fns := b.observers[id]
	delete(b.observers, id)
	return fns
}

// notify calls every observer with snap. A failing or panicking observer
// does not prevent the rest from running.
func notify(ctx context.Context, fns []ProgressFunc, snap Job) {
	for i, fn := range fns {
		if err := call(ctx, fn, snap); err != nil {
			slog.Warn("progress callback failed", "job", snap.ID, "callback", i, "error", err)
		}
	}
}

func call(ctx context.Context, fn ProgressFunc, snap Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return fn(ctx, snap)
}
