package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
)

// newTestServer returns a mock Yahoo Finance server that serves cookie, crumb,
// and chart endpoints, along with a Client configured to use it.
func newTestServer(t *testing.T, chartStatus int, chartBody string) (*httptest.Server, *Client, func() string) {
	t.Helper()

	var (
		mu       sync.Mutex
		lastPath string
	)
	mux := http.NewServeMux()

	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "test-session"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("test-crumb-123"))
	})

	mux.HandleFunc("/chart/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastPath = r.URL.Path + "?" + r.URL.RawQuery
		mu.Unlock()
		assert.Equal(t, "test-crumb-123", r.URL.Query().Get("crumb"))
		w.WriteHeader(chartStatus)
		_, _ = w.Write([]byte(chartBody))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c := New(
		WithHTTPClient(ts.Client()),
		WithChartEndpoint(ts.URL+"/chart"),
		WithCookieURL(ts.URL+"/cookie"),
		WithCrumbURL(ts.URL+"/crumb"),
	)
	return ts, c, func() string {
		mu.Lock()
		defer mu.Unlock()
		return lastPath
	}
}

func request(iv candle.Interval) fetch.Request {
	return fetch.Request{
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Interval: iv,
		From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

const twoCandles = `{"chart":{"result":[{"timestamp":[1704153600,1704240000],
"indicators":{"quote":[{"open":[10.5,11],"high":[12,12.5],"low":[10,10.75],"close":[11.25,12],"volume":[1000,2000]}]}}],"error":null}}`

func TestFetchCandles(t *testing.T) {
	_, c, lastPath := newTestServer(t, http.StatusOK, twoCandles)

	got, err := c.FetchCandles(context.Background(), request(candle.OneDay))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, time.Unix(1704153600, 0).UTC(), got[0].Time)
	assert.Equal(t, 10.5, got[0].Open)
	assert.Equal(t, 12.0, got[0].High)
	assert.Equal(t, 10.0, got[0].Low)
	assert.Equal(t, 11.25, got[0].Close)
	assert.Equal(t, int64(2000), got[1].Volume)

	assert.Contains(t, lastPath(), "/chart/RELIANCE.NS")
	assert.Contains(t, lastPath(), "interval=1d")
}

func TestFetchCandles_NullRowsSkipped(t *testing.T) {
	body := `{"chart":{"result":[{"timestamp":[1704153600,1704240000,1704326400],
"indicators":{"quote":[{"open":[1,null,3],"high":[1,2,3],"low":[1,2,3],"close":[1,2,3],"volume":[1,null,3]}]}}]}}`
	_, c, _ := newTestServer(t, http.StatusOK, body)

	got, err := c.FetchCandles(context.Background(), request(candle.FiveMinute))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFetchCandles_EmptyResult(t *testing.T) {
	_, c, _ := newTestServer(t, http.StatusOK, `{"chart":{"result":[]}}`)

	got, err := c.FetchCandles(context.Background(), request(candle.OneDay))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFetchCandles_ChartError(t *testing.T) {
	_, c, _ := newTestServer(t, http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)

	_, err := c.FetchCandles(context.Background(), request(candle.OneDay))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No data found")
}

func TestFetchCandles_AuthErrorResetsCrumb(t *testing.T) {
	_, c, _ := newTestServer(t, http.StatusUnauthorized, `{}`)

	_, err := c.FetchCandles(context.Background(), request(candle.OneDay))
	require.Error(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.crumb)
}

func TestFetchCandles_Validation(t *testing.T) {
	c := New()

	req := request(candle.OneDay)
	req.Symbol = ""
	_, err := c.FetchCandles(context.Background(), req)
	assert.Error(t, err)

	req = request(candle.OneDay)
	req.From, req.To = req.To, req.From
	_, err = c.FetchCandles(context.Background(), req)
	assert.Error(t, err)

	_, err = c.FetchCandles(context.Background(), request(candle.OneSecond))
	assert.Error(t, err)
}

func TestTicker(t *testing.T) {
	assert.Equal(t, "INFY.NS", ticker("INFY", "NSE"))
	assert.Equal(t, "INFY.BO", ticker("INFY", "bse"))
	assert.Equal(t, "AAPL", ticker("AAPL", "NASDAQ"))
	assert.Equal(t, "THYAO.IS", ticker("THYAO.IS", "NSE"))
}

func TestSource(t *testing.T) {
	assert.Equal(t, "yahoo", New().Source())
}
