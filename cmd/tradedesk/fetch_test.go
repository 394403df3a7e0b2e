package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	"github.com/ahmethakanbesel/tradedesk/internal/config"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
	"github.com/ahmethakanbesel/tradedesk/internal/platform/sqlite"
	jobrepo "github.com/ahmethakanbesel/tradedesk/internal/repository/job"
)

type stubClient struct {
	err error
}

func (stubClient) Source() string { return "stub" }

func (s stubClient) FetchCandles(_ context.Context, req fetch.Request) ([]candle.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []candle.Candle
	for t := req.From; t.Before(req.To); t = t.Add(24 * time.Hour) {
		out = append(out, candle.Candle{Time: t, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10})
	}
	return out, nil
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		DBPath: filepath.Join(t.TempDir(), "fetch.db"),
		Jobs:   config.Jobs{Source: "stub", MaxParallelChunks: 2},
	}
}

func stubRegistry(c fetch.Client) *fetch.Registry {
	r := fetch.NewRegistry()
	r.Register(c)
	return r
}

func TestRunFetch_WritesCSV(t *testing.T) {
	cfg := testConfig(t)
	out := filepath.Join(t.TempDir(), "infy.csv")
	opts := fetchOptions{fromStr: "2024-01-01", toStr: "2024-01-04", format: "csv", outPath: out}
	opts.req.Symbol = "infy"

	var progress bytes.Buffer
	err := runFetch(context.Background(), cfg, stubRegistry(stubClient{}), opts, &bytes.Buffer{}, &progress)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "datetime,open,high,low,close,volume", lines[0])
	assert.Contains(t, progress.String(), "100.0%")
}

func TestRunFetch_Persist(t *testing.T) {
	cfg := testConfig(t)
	opts := fetchOptions{fromStr: "2024-01-01", toStr: "2024-01-03", format: "json", persist: true}
	opts.req.Symbol = "TCS"

	var stdout bytes.Buffer
	require.NoError(t, runFetch(context.Background(), cfg, stubRegistry(stubClient{}), opts, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), `"datetime"`)

	db, err := sqlite.Open(cfg.DBPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	stored, err := jobrepo.NewRepository(db.DB).GetStoredJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "TCS", stored[0].Symbol)
	assert.EqualValues(t, 2, stored[0].TotalCandles)
}

func TestRunFetch_Errors(t *testing.T) {
	cfg := testConfig(t)
	reg := stubRegistry(stubClient{})

	opts := fetchOptions{fromStr: "yesterday", format: "csv"}
	opts.req.Symbol = "INFY"
	assert.ErrorContains(t, runFetch(context.Background(), cfg, reg, opts, &bytes.Buffer{}, &bytes.Buffer{}), "--from")

	opts = fetchOptions{format: "xlsx"}
	opts.req.Symbol = "INFY"
	assert.Error(t, runFetch(context.Background(), cfg, reg, opts, &bytes.Buffer{}, &bytes.Buffer{}))

	opts = fetchOptions{fromStr: "2024-02-01", toStr: "2024-01-01", format: "csv"}
	opts.req.Symbol = "INFY"
	assert.Error(t, runFetch(context.Background(), cfg, reg, opts, &bytes.Buffer{}, &bytes.Buffer{}))

	opts = fetchOptions{format: "csv"}
	opts.req.Symbol = "INFY"
	opts.req.Source = "nowhere"
	assert.Error(t, runFetch(context.Background(), cfg, reg, opts, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestRunFetch_NoData(t *testing.T) {
	cfg := testConfig(t)
	opts := fetchOptions{fromStr: "2024-01-01", toStr: "2024-01-03", format: "csv"}
	opts.req.Symbol = "INFY"

	var stdout bytes.Buffer
	err := runFetch(context.Background(), cfg, stubRegistry(stubClient{err: errors.New("upstream down")}), opts, &stdout, &bytes.Buffer{})
	require.NoError(t, err, "failed chunks are reported, not fatal")
	assert.Equal(t, "datetime,open,high,low,close,volume\n", stdout.String())
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2024-03-05T10:00:00+05:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 4, 30, 0, 0, time.UTC), got)

	got, err = parseDate("  ")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseDate("05/03/2024")
	assert.Error(t, err)
}
