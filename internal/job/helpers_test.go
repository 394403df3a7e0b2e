package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
)

type funcClient struct {
	fn func(ctx context.Context, req fetch.Request) ([]candle.Candle, error)
}

func (c *funcClient) Source() string { return "stub" }

func (c *funcClient) FetchCandles(ctx context.Context, req fetch.Request) ([]candle.Candle, error) {
	return c.fn(ctx, req)
}

// oneCandle returns a single candle stamped at the chunk start.
func oneCandle(_ context.Context, req fetch.Request) ([]candle.Candle, error) {
	return []candle.Candle{{Time: req.From, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}, nil
}

type memStore struct {
	mu        sync.Mutex
	metadata  []Job
	updates   []StatusUpdate
	data      map[string][]candle.Candle
	onStore   func()
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]candle.Candle)}
}

func (s *memStore) StoreJobMetadata(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, j)
	return nil
}

func (s *memStore) UpdateJobStatus(_ context.Context, u StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return s.updateErr
}

func (s *memStore) StoreJobData(_ context.Context, j Job, candles []candle.Candle, _ DataMeta) (int64, error) {
	if s.onStore != nil {
		s.onStore()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[j.ID] = candles
	return int64(len(candles)), nil
}

func (s *memStore) statuses(id string) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Status
	for _, u := range s.updates {
		if u.ID == id {
			out = append(out, u.Status)
		}
	}
	return out
}

func (s *memStore) stored(id string) ([]candle.Candle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[id]
	return c, ok
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T, fn func(context.Context, fetch.Request) ([]candle.Candle, error), store Store, opts ...Option) *Manager {
	t.Helper()
	reg := fetch.NewRegistry()
	reg.Register(&funcClient{fn: fn})
	opts = append([]Option{WithBatchPause(0), WithDefaultSource("stub")}, opts...)
	m := NewManager(reg, store, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitJob(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return j
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

var errUpstream = errors.New("upstream unavailable")
