package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/apperror"
	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	domain "github.com/ahmethakanbesel/tradedesk/internal/job"
)

const (
	batchSize          = 500
	defaultSearchLimit = 10000
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ domain.Repository = (*Repository)(nil)

const upsertJob = `INSERT INTO jobs (id, source, symbol, exchange, interval, from_date, to_date,
		status, total_candles, failed_chunks, extra, meta, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		source = excluded.source,
		symbol = excluded.symbol,
		exchange = excluded.exchange,
		interval = excluded.interval,
		from_date = excluded.from_date,
		to_date = excluded.to_date,
		total_candles = excluded.total_candles,
		failed_chunks = excluded.failed_chunks,
		extra = excluded.extra,
		meta = COALESCE(excluded.meta, jobs.meta),
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, j domain.Job, total int64, meta *domain.DataMeta) error {
	extra, err := encodeJSON(j.Extra)
	if err != nil {
		return err
	}
	var metaJSON sql.NullString
	if meta != nil {
		if metaJSON, err = encodeJSON(meta); err != nil {
			return err
		}
	}
	_, err = db.ExecContext(ctx, upsertJob,
		j.ID, j.Source, j.Symbol, j.Exchange, string(j.Interval),
		formatTime(j.From), formatTime(j.To),
		string(j.Status), total, j.FailedChunks,
		extra, metaJSON,
		formatTime(j.CreatedAt), formatTimePtr(j.CompletedAt),
	)
	return err
}

func (r *Repository) StoreJobMetadata(ctx context.Context, j domain.Job) error {
	if err := upsert(ctx, r.db, j, 0, nil); err != nil {
		return fmt.Errorf("store job metadata: %w", err)
	}
	return nil
}

func (r *Repository) UpdateJobStatus(ctx context.Context, u domain.StatusUpdate) error {
	query := `UPDATE jobs SET status = ?, failed_chunks = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`
	args := []any{string(u.Status), u.FailedChunks}

	if u.Status.Terminal() {
		query += ", completed_at = ?"
		args = append(args, formatTime(time.Now()))
	}
	if u.TotalCandles != nil {
		query += ", total_candles = ?"
		args = append(args, *u.TotalCandles)
	}
	query += " WHERE id = ?"
	args = append(args, u.ID)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.NotFound, "job not found")
	}
	return nil
}

// StoreJobData replaces the candles stored for the job and refreshes its
// metadata in one transaction.
func (r *Repository) StoreJobData(ctx context.Context, j domain.Job, candles []candle.Candle, meta domain.DataMeta) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store job data: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	j.FailedChunks = meta.FailedChunks
	if err := upsert(ctx, tx, j, int64(len(candles)), &meta); err != nil {
		return 0, fmt.Errorf("store job data: metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM candles WHERE job_id = ?`, j.ID); err != nil {
		return 0, fmt.Errorf("store job data: clear: %w", err)
	}

	var total int64
	for i := 0; i < len(candles); i += batchSize {
		batch := candles[i:min(i+batchSize, len(candles))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*10)
		for k, c := range batch {
			placeholders[k] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, j.ID, j.Symbol, j.Exchange, string(j.Interval),
				c.Time.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			"INSERT OR IGNORE INTO candles (job_id, symbol, exchange, interval, ts, open, high, low, close, volume) VALUES %s",
			strings.Join(placeholders, ", "),
		)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("store job data: insert candles: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store job data: commit: %w", err)
	}
	return total, nil
}

const jobColumns = `id, source, symbol, exchange, interval, from_date, to_date,
	status, total_candles, failed_chunks, extra, meta, created_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (domain.StoredJob, error) {
	var (
		sj                           domain.StoredJob
		interval, status             string
		fromStr, toStr, createdStr   string
		extra, meta, completedString sql.NullString
	)
	if err := s.Scan(
		&sj.ID, &sj.Source, &sj.Symbol, &sj.Exchange, &interval,
		&fromStr, &toStr, &status, &sj.TotalCandles, &sj.FailedChunks,
		&extra, &meta, &createdStr, &completedString,
	); err != nil {
		return sj, err
	}

	sj.Interval = candle.Interval(interval)
	sj.Status = domain.Status(status)
	sj.From, _ = time.Parse(time.RFC3339, fromStr)
	sj.To, _ = time.Parse(time.RFC3339, toStr)
	sj.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	if completedString.Valid {
		if t, err := time.Parse(time.RFC3339, completedString.String); err == nil {
			sj.CompletedAt = &t
		}
	}
	if extra.Valid {
		if err := json.Unmarshal([]byte(extra.String), &sj.Extra); err != nil {
			return sj, fmt.Errorf("decode extra: %w", err)
		}
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &sj.Meta); err != nil {
			return sj, fmt.Errorf("decode meta: %w", err)
		}
	}
	return sj, nil
}

// GetJobData returns the stored job with its candles in time order.
func (r *Repository) GetJobData(ctx context.Context, id string) (*domain.StoredJob, error) {
	sj, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job data: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, open, high, low, close, volume FROM candles WHERE job_id = ? ORDER BY ts ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("get job data: candles: %w", err)
	}
	sj.Candles, err = scanCandles(rows)
	if err != nil {
		return nil, fmt.Errorf("get job data: %w", err)
	}
	return &sj, nil
}

func (r *Repository) GetStoredJobs(ctx context.Context, limit int) ([]domain.StoredJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stored jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.StoredJob
	for rows.Next() {
		sj, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, sj)
	}
	return jobs, rows.Err()
}

func (r *Repository) DeleteJobData(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete job data: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM candles WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete job data: candles: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job data: job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.NotFound, "job not found")
	}
	return tx.Commit()
}

// DeleteSymbolData removes every candle of the series and the jobs that
// produced them. Empty exchange or interval match any value.
func (r *Repository) DeleteSymbolData(ctx context.Context, symbol, exchange string, interval candle.Interval) (int64, error) {
	where, args := seriesFilter(symbol, exchange, interval)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete symbol data: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT job_id FROM candles WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete symbol data: jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("delete symbol data: scan job: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("delete symbol data: jobs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM candles WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete symbol data: candles: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete symbol data: job %s: %w", id, err)
		}
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete symbol data: commit: %w", err)
	}
	return n, nil
}

// SearchCandles returns stored candles of a series in time order. When
// several jobs stored the same timestamp the earliest insert wins.
func (r *Repository) SearchCandles(ctx context.Context, q domain.CandleQuery) ([]candle.Candle, error) {
	where, args := seriesFilter(q.Symbol, q.Exchange, q.Interval)
	if !q.From.IsZero() {
		where += " AND ts >= ?"
		args = append(args, q.From.Unix())
	}
	if !q.To.IsZero() {
		where += " AND ts <= ?"
		args = append(args, q.To.Unix())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	args = append(args, limit)

	query := `SELECT ts, open, high, low, close, volume FROM candles
		WHERE rowid IN (SELECT MIN(rowid) FROM candles WHERE ` + where + ` GROUP BY exchange, interval, ts)
		ORDER BY ts ASC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search candles: %w", err)
	}
	candles, err := scanCandles(rows)
	if err != nil {
		return nil, fmt.Errorf("search candles: %w", err)
	}
	return candles, nil
}

func (r *Repository) Summary(ctx context.Context) ([]domain.SeriesSummary, error) {
	const query = `SELECT symbol, exchange, interval, MIN(ts), MAX(ts), COUNT(*), COUNT(DISTINCT job_id)
		FROM candles
		GROUP BY symbol, exchange, interval
		ORDER BY symbol, exchange, interval`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("data summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.SeriesSummary
	for rows.Next() {
		var s domain.SeriesSummary
		var interval string
		var earliest, latest int64
		if err := rows.Scan(&s.Symbol, &s.Exchange, &interval, &earliest, &latest, &s.TotalCandles, &s.JobCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Interval = candle.Interval(interval)
		s.Earliest = time.Unix(earliest, 0).UTC()
		s.Latest = time.Unix(latest, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) Stats(ctx context.Context) (*domain.Stats, error) {
	var s domain.Stats
	var earliest, latest sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT symbol || '-' || exchange || '-' || interval), MIN(ts), MAX(ts) FROM candles`,
	).Scan(&s.TotalCandles, &s.UniqueSeries, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("stats: candles: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&s.TotalJobs); err != nil {
		return nil, fmt.Errorf("stats: jobs: %w", err)
	}
	if earliest.Valid {
		t := time.Unix(earliest.Int64, 0).UTC()
		s.EarliestDate = &t
	}
	if latest.Valid {
		t := time.Unix(latest.Int64, 0).UTC()
		s.LatestDate = &t
	}
	return &s, nil
}

// MarkInterrupted fails every job a previous process left PENDING or
// RUNNING.
func (r *Repository) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = 'failed', completed_at = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE status IN ('pending', 'running')`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

func seriesFilter(symbol, exchange string, interval candle.Interval) (string, []any) {
	where := "symbol = ?"
	args := []any{symbol}
	if exchange != "" {
		where += " AND exchange = ?"
		args = append(args, exchange)
	}
	if interval != "" {
		where += " AND interval = ?"
		args = append(args, string(interval))
	}
	return where, args
}

func scanCandles(rows *sql.Rows) ([]candle.Candle, error) {
	defer func() { _ = rows.Close() }()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = time.Unix(ts, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case map[string]string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case nil:
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
