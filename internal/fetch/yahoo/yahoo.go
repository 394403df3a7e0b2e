// Package yahoo implements a fetch client for Yahoo Finance OHLCV candles.
// It uses the v8 chart API with cookie + crumb authentication, matching the
// approach used by the yfinance Python library.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
)

const (
	defaultChartEndpoint = "https://query2.finance.yahoo.com/v8/finance/chart"
	defaultCookieURL     = "https://fc.yahoo.com"
	defaultCrumbURL      = "https://query1.finance.yahoo.com/v1/test/getcrumb"
	userAgent            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// exchangeSuffix maps Indian exchange codes to Yahoo ticker suffixes.
var exchangeSuffix = map[string]string{
	"NSE": ".NS",
	"BSE": ".BO",
}

// Client fetches historical candles from Yahoo Finance.
type Client struct {
	client        *http.Client
	chartEndpoint string
	cookieURL     string
	crumbURL      string

	mu    sync.Mutex
	crumb string
}

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		client:        &http.Client{Jar: jar, Timeout: 30 * time.Second},
		chartEndpoint: defaultChartEndpoint,
		cookieURL:     defaultCookieURL,
		crumbURL:      defaultCrumbURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. The client should have a cookie jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithChartEndpoint overrides the default chart API endpoint.
func WithChartEndpoint(ep string) Option {
	return func(c *Client) { c.chartEndpoint = ep }
}

// WithCookieURL overrides the URL used to obtain the session cookie.
func WithCookieURL(u string) Option {
	return func(c *Client) { c.cookieURL = u }
}

// WithCrumbURL overrides the URL used to obtain the crumb token.
func WithCrumbURL(u string) Option {
	return func(c *Client) { c.crumbURL = u }
}

// Source returns the client identifier.
func (c *Client) Source() string { return "yahoo" }

// chartResponse represents the Yahoo Finance v8 chart API response.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []quote `json:"quote"`
	} `json:"indicators"`
}

type quote struct {
	Open   []any `json:"open"`
	High   []any `json:"high"`
	Low    []any `json:"low"`
	Close  []any `json:"close"`
	Volume []any `json:"volume"`
}

// FetchCandles performs one chart request for req's range.
func (c *Client) FetchCandles(ctx context.Context, req fetch.Request) ([]candle.Candle, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}
	if !req.From.Before(req.To) {
		return nil, fmt.Errorf("start date must be before end date")
	}
	interval, err := yahooInterval(req.Interval)
	if err != nil {
		return nil, err
	}

	if err := c.ensureCrumb(ctx); err != nil {
		return nil, fmt.Errorf("yahoo auth: %w", err)
	}

	return c.fetchChart(ctx, ticker(req.Symbol, req.Exchange), interval, req.From, req.To)
}

func yahooInterval(iv candle.Interval) (string, error) {
	switch iv {
	case candle.OneMinute:
		return "1m", nil
	case candle.FiveMinute:
		return "5m", nil
	case candle.ThirtyMinute:
		return "30m", nil
	case candle.OneDay:
		return "1d", nil
	default:
		return "", fmt.Errorf("yahoo does not serve %s candles", iv)
	}
}

func ticker(symbol, exchange string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + exchangeSuffix[strings.ToUpper(exchange)]
}

// ensureCrumb fetches a session cookie and crumb token if not already cached.
func (c *Client) ensureCrumb(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crumb != "" {
		return nil
	}

	cookieReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cookieURL, nil)
	if err != nil {
		return fmt.Errorf("build cookie request: %w", err)
	}
	cookieReq.Header.Set("User-Agent", userAgent)

	cookieRes, err := c.client.Do(cookieReq) //nolint:gosec // URL from internal config
	if err != nil {
		return fmt.Errorf("fetch cookie: %w", err)
	}
	_ = cookieRes.Body.Close()

	crumbReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.crumbURL, nil)
	if err != nil {
		return fmt.Errorf("build crumb request: %w", err)
	}
	crumbReq.Header.Set("User-Agent", userAgent)

	crumbRes, err := c.client.Do(crumbReq) //nolint:gosec // URL from internal config
	if err != nil {
		return fmt.Errorf("fetch crumb: %w", err)
	}
	defer func() { _ = crumbRes.Body.Close() }()

	if crumbRes.StatusCode != http.StatusOK {
		return fmt.Errorf("crumb endpoint returned HTTP %d", crumbRes.StatusCode)
	}

	body, err := io.ReadAll(crumbRes.Body)
	if err != nil {
		return fmt.Errorf("read crumb: %w", err)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" {
		return fmt.Errorf("empty crumb received")
	}

	c.crumb = crumb
	slog.Info("yahoo: obtained crumb", "crumb_len", len(crumb))
	return nil
}

func (c *Client) fetchChart(ctx context.Context, symbol, interval string, from, to time.Time) ([]candle.Candle, error) {
	c.mu.Lock()
	crumb := c.crumb
	c.mu.Unlock()

	reqURL := fmt.Sprintf("%s/%s?period1=%s&period2=%s&interval=%s&crumb=%s",
		c.chartEndpoint,
		symbol,
		strconv.FormatInt(from.Unix(), 10),
		strconv.FormatInt(to.Unix(), 10),
		interval,
		crumb,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := c.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		// Invalidate crumb on auth errors so the next request re-authenticates.
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			c.mu.Lock()
			c.crumb = ""
			c.mu.Unlock()
		}
		return nil, fmt.Errorf("yahoo returned HTTP %d for %s", res.StatusCode, symbol)
	}

	var resp chartResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("parse yahoo response: %w", err)
	}

	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error: %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}

	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	candles := toCandles(resp.Chart.Result[0])
	slog.Info("retrieved yahoo data", "symbol", symbol, "interval", interval,
		"from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339),
		"count", len(candles))
	return candles, nil
}

// toCandles zips the parallel quote arrays. Rows with any null price are
// skipped; Yahoo uses null for missing data points.
func toCandles(r chartResult) []candle.Candle {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	n := min(len(r.Timestamp), len(q.Open), len(q.High), len(q.Low), len(q.Close))

	out := make([]candle.Candle, 0, n)
	for i := range n {
		o, ok1 := toFloat64(q.Open[i])
		h, ok2 := toFloat64(q.High[i])
		l, ok3 := toFloat64(q.Low[i])
		cl, ok4 := toFloat64(q.Close[i])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		var vol int64
		if i < len(q.Volume) {
			if v, ok := toFloat64(q.Volume[i]); ok {
				vol = int64(v)
			}
		}
		out = append(out, candle.Candle{
			Time:   time.Unix(r.Timestamp[i], 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  cl,
			Volume: vol,
		})
	}
	return out
}

// toFloat64 converts a JSON number (which may be float64 or json.Number) to float64.
// Returns false for nil values.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
