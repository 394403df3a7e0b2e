// Package breeze implements a fetch client for the ICICI Breeze historical
// charts API (v2). It rate-limits outgoing requests and retries transient
// upstream failures with exponential backoff.
package breeze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
)

const (
	defaultBaseURL  = "https://api.icicidirect.com"
	historicalPath  = "/breezeapi/api/v2/historicalcharts"
	apiTimeFormat   = "2006-01-02T15:04:05.000Z"
	breezeTimestamp = "2006-01-02 15:04:05"
)

// ist is the exchange-local zone Breeze reports candle times in.
var ist = time.FixedZone("IST", 5*3600+30*60)

// Client fetches historical candles from Breeze.
type Client struct {
	apiKey         string
	sessionToken   string
	baseURL        string
	client         *http.Client
	limiter        *rate.Limiter
	maxElapsedTime time.Duration
	initialBackoff time.Duration
}

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:        defaultBaseURL,
		client:         &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Every(time.Second), 5),
		maxElapsedTime: 30 * time.Second,
		initialBackoff: time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets the app key and the X-SessionToken value obtained at login.
func WithCredentials(apiKey, sessionToken string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
		c.sessionToken = sessionToken
	}
}

// WithBaseURL overrides the API host. An empty value keeps the default.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRequestsPerSecond caps outgoing requests. Non-positive values disable the cap.
func WithRequestsPerSecond(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(n)), n)
	}
}

// WithRetry sets the initial backoff interval and the total time spent retrying.
func WithRetry(initial, maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxElapsedTime = maxElapsed
	}
}

// Source returns the client identifier.
func (c *Client) Source() string { return "breeze" }

// StatusError is returned for non-success upstream statuses, whether they
// arrive as the HTTP status or in the response envelope.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("breeze returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("breeze returned status %d", e.StatusCode)
}

// Temporary reports whether the request is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FetchCandles performs one historical charts request for req's range,
// retrying transient failures.
func (c *Client) FetchCandles(ctx context.Context, req fetch.Request) ([]candle.Candle, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}
	if !req.From.Before(req.To) {
		return nil, fmt.Errorf("start date must be before end date")
	}

	reqURL := c.baseURL + historicalPath + "?" + queryParams(req).Encode()

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		b, err := c.do(ctx, reqURL)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			slog.Warn("breeze: transient failure, retrying", "symbol", req.Symbol, "error", err)
			return err
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxElapsedTime = c.maxElapsedTime

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	return parseCandles(body)
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("X-SessionToken", c.sessionToken)

	res, err := c.client.Do(httpReq) //nolint:gosec // URL built from internal config
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: res.StatusCode, Message: gjson.GetBytes(body, "Error").String()}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response")
	}

	// The envelope carries its own status; 503 here means the upstream
	// exchange feed is busy.
	if status := gjson.GetBytes(body, "Status"); status.Exists() && status.Int() != http.StatusOK {
		return nil, &StatusError{StatusCode: int(status.Int()), Message: gjson.GetBytes(body, "Error").String()}
	}
	return body, nil
}

// queryParams builds the v2 query string. Derivative parameters are only
// sent for the F&O segments.
func queryParams(req fetch.Request) url.Values {
	q := url.Values{}
	q.Set("stock_code", req.Symbol)
	q.Set("exch_code", req.Exchange)
	q.Set("interval", string(req.Interval))
	q.Set("from_date", req.From.UTC().Format(apiTimeFormat))
	q.Set("to_date", req.To.UTC().Format(apiTimeFormat))

	if !isDerivativeExchange(req.Exchange) {
		return q
	}

	extra := req.Extra
	right := extra["right"]
	switch {
	case extra["product_type"] == "options" || extra["product_type"] == "futures":
		q.Set("product_type", extra["product_type"])
	case isOptionRight(right):
		q.Set("product_type", "options")
	default:
		q.Set("product_type", "futures")
	}

	if v, ok := extra["expiry_date"]; ok {
		q.Set("expiry_date", v)
	}
	if v, ok := extra["strike_price"]; ok {
		q.Set("strike_price", v)
	}
	if _, ok := extra["right"]; ok {
		q.Set("right", normalizeRight(right))
	}
	return q
}

func isDerivativeExchange(exchange string) bool {
	switch strings.ToUpper(exchange) {
	case "NFO", "BFO":
		return true
	default:
		return false
	}
}

func isOptionRight(right string) bool {
	switch right {
	case "CE", "PE", "call", "put":
		return true
	default:
		return false
	}
}

func normalizeRight(right string) string {
	switch right {
	case "CE", "call":
		return "call"
	case "PE", "put":
		return "put"
	default:
		return "others"
	}
}

// parseCandles reads the Success array. Breeze sends prices as numbers or
// numeric strings depending on the segment, so fields are read leniently.
func parseCandles(body []byte) ([]candle.Candle, error) {
	success := gjson.GetBytes(body, "Success")
	if !success.Exists() || success.Type == gjson.Null {
		if e := gjson.GetBytes(body, "Error"); e.Exists() && e.Type != gjson.Null {
			return nil, fmt.Errorf("breeze error: %s", e.String())
		}
		return nil, nil
	}
	if !success.IsArray() {
		return nil, fmt.Errorf("unexpected Success payload: %s", success.Type)
	}

	rows := success.Array()
	out := make([]candle.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := parseTime(row.Get("datetime").String())
		if err != nil {
			slog.Warn("breeze: skipping candle with bad datetime", "index", i, "error", err)
			continue
		}
		out = append(out, candle.Candle{
			Time:   ts,
			Open:   row.Get("open").Float(),
			High:   row.Get("high").Float(),
			Low:    row.Get("low").Float(),
			Close:  row.Get("close").Float(),
			Volume: row.Get("volume").Int(),
		})
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(breezeTimestamp, s, ist); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse datetime %q: %w", s, err)
	}
	return t.UTC(), nil
}
