package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

// Request describes one upstream call: a single chunk of a job's range.
// Extra carries derivative parameters (product_type, expiry_date,
// strike_price, right) that only the client interprets.
type Request struct {
	Symbol   string
	Exchange string
	Interval candle.Interval
	From     time.Time
	To       time.Time
	Extra    map[string]string
}

// Client fetches candles from an upstream market data API. Implementations
// own their retry policy for transient failures.
type Client interface {
	Source() string
	FetchCandles(ctx context.Context, req Request) ([]candle.Candle, error)
}

type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
	}
}

func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Source()] = c
}

func (r *Registry) Get(source string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[source]
	if !ok {
		return nil, fmt.Errorf("fetch client not found for source: %s", source)
	}
	return c, nil
}

func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sources := make([]string, 0, len(r.clients))
	for src := range r.clients {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}
