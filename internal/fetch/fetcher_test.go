package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

type stubClient struct {
	source  string
	candles []candle.Candle
	err     error
	panic   bool
	got     []Request
}

func (s *stubClient) Source() string { return s.source }

func (s *stubClient) FetchCandles(_ context.Context, req Request) ([]candle.Candle, error) {
	s.got = append(s.got, req)
	if s.panic {
		panic("boom")
	}
	return s.candles, s.err
}

func TestFetcher_UsesChunkBounds(t *testing.T) {
	c := &stubClient{source: "stub", candles: []candle.Candle{{Time: date(1, 2), Close: 1}}}
	f := NewFetcher(c)

	req := Request{Symbol: "NIFTY", Exchange: "NSE", Interval: candle.OneMinute, From: date(1, 1), To: date(1, 10)}
	out := f.Fetch(context.Background(), req, Chunk{Start: date(1, 4), End: date(1, 7)})

	require.NoError(t, out.Err)
	assert.Len(t, out.Candles, 1)
	require.Len(t, c.got, 1)
	assert.Equal(t, date(1, 4), c.got[0].From)
	assert.Equal(t, date(1, 7), c.got[0].To)
	assert.Equal(t, "NIFTY", c.got[0].Symbol)
}

func TestFetcher_ErrorBecomesValue(t *testing.T) {
	f := NewFetcher(&stubClient{source: "stub", err: errors.New("upstream 503")})
	out := f.Fetch(context.Background(), Request{Symbol: "X"}, Chunk{Start: date(1, 1), End: date(1, 2)})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "upstream 503")
	assert.Nil(t, out.Candles)
}

func TestFetcher_PanicBecomesValue(t *testing.T) {
	f := NewFetcher(&stubClient{source: "stub", panic: true})
	out := f.Fetch(context.Background(), Request{Symbol: "X"}, Chunk{Start: date(1, 1), End: date(1, 2)})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "panic")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubClient{source: "yahoo"})
	r.Register(&stubClient{source: "breeze"})

	c, err := r.Get("breeze")
	require.NoError(t, err)
	assert.Equal(t, "breeze", c.Source())

	_, err = r.Get("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"breeze", "yahoo"}, r.Sources())
}
