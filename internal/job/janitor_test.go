package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int64
	age   atomic.Int64
}

func (s *countingSweeper) CleanupOldJobs(maxAge time.Duration) int {
	s.calls.Add(1)
	s.age.Store(int64(maxAge))
	return 0
}

func TestJanitor_NotifySweeps(t *testing.T) {
	sw := &countingSweeper{}
	jn := NewJanitor(sw, time.Hour, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		jn.Run(ctx)
		close(done)
	}()

	jn.Notify()
	require.Eventually(t, func() bool { return sw.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(time.Hour), sw.age.Load())

	cancel()
	<-done
}

func TestJanitor_TickerSweeps(t *testing.T) {
	sw := &countingSweeper{}
	jn := NewJanitor(sw, 0, 20*time.Millisecond)
	require.Equal(t, DefaultMaxAge, jn.maxAge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jn.Run(ctx)

	require.Eventually(t, func() bool { return sw.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestJanitor_SweepsManager(t *testing.T) {
	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(t, oneCandle, nil, WithClock(clock.Now))

	id, err := m.Create(context.Background(), CreateParams{Symbol: "A", Interval: "1day", From: day(1), To: day(5)})
	require.NoError(t, err)
	require.True(t, m.Start(id))
	waitJob(t, m, id)
	clock.Advance(2 * time.Hour)

	jn := NewJanitor(m, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jn.Run(ctx)
	jn.Notify()

	require.Eventually(t, func() bool {
		_, ok := m.Get(id)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
