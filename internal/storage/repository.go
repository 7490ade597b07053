package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertCumulativeSampleSQL = `INSERT INTO cumulative_samples (
        quote_id,
        token0_name,
        token1_name,
        field,
        ts,
        value
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (quote_id, field, ts) DO NOTHING;`

	listCumulativeSeriesSQL = `SELECT
        quote_id,
        token0_name,
        token1_name,
        field,
        ts,
        value,
        created_at
    FROM cumulative_samples
    WHERE quote_id = $1
      AND field = $2
      AND ts >= $3
    ORDER BY ts;`

	lastCumulativeTimestampSQL = `SELECT ts
    FROM cumulative_samples
    WHERE quote_id = $1
    ORDER BY ts DESC
    LIMIT 1;`

	insertRiskMetricSQL = `INSERT INTO risk_metrics (
        quote_id,
        token_name,
        field_type,
        ts,
        mu,
        sig_sqrd,
        var_grid
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (quote_id, field_type, ts) DO UPDATE
    SET token_name = EXCLUDED.token_name,
        mu         = EXCLUDED.mu,
        sig_sqrd   = EXCLUDED.sig_sqrd,
        var_grid   = EXCLUDED.var_grid;`

	listRecentRiskMetricsSQL = `SELECT
        id,
        quote_id,
        token_name,
        field_type,
        ts,
        mu,
        sig_sqrd,
        var_grid,
        created_at
    FROM risk_metrics
    ORDER BY ts DESC
    LIMIT $1;`

	listRiskMetricsBetweenSQL = `SELECT
        id,
        quote_id,
        token_name,
        field_type,
        ts,
        mu,
        sig_sqrd,
        var_grid,
        created_at
    FROM risk_metrics
    WHERE quote_id = $1
      AND field_type = $2
      AND ts >= $3
      AND ts < $4
    ORDER BY ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines persistence for raw cumulative samples.
type SampleStore interface {
	InsertCumulativeSample(ctx context.Context, sample CumulativeSample) error
	ListCumulativeSeries(ctx context.Context, quoteID, field string, from time.Time) ([]CumulativeSample, error)
	LastCumulativeTimestamp(ctx context.Context, quoteID string) (time.Time, bool, error)
}

// MetricStore defines persistence for computed risk metrics.
type MetricStore interface {
	InsertRiskMetric(ctx context.Context, metric RiskMetric) error
	ListRecentRiskMetrics(ctx context.Context, limit int) ([]RiskMetric, error)
	ListRiskMetricsBetween(ctx context.Context, quoteID, fieldType string, from, to time.Time) ([]RiskMetric, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to cumulative samples and risk metrics.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertCumulativeSample appends one accumulator observation. Duplicate
// (quote, field, ts) rows are ignored so the collector can safely re-read
// overlapping ranges.
func (s *Store) InsertCumulativeSample(ctx context.Context, sample CumulativeSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertCumulativeSampleSQL,
		sample.QuoteID,
		sample.Token0Name,
		sample.Token1Name,
		sample.Field,
		sample.TS,
		sample.Value.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert cumulative sample: %w", execErr)
	}
	return nil
}

// ListCumulativeSeries returns one quote's samples for a field, ascending by
// timestamp, starting at from.
func (s *Store) ListCumulativeSeries(ctx context.Context, quoteID, field string, from time.Time) ([]CumulativeSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCumulativeSeriesSQL, quoteID, field, from)
	if queryErr != nil {
		return nil, fmt.Errorf("list cumulative series: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]CumulativeSample, 0)
	for rows.Next() {
		sample, scanErr := scanCumulativeSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate cumulative series: %w", rows.Err())
	}
	return samples, nil
}

// LastCumulativeTimestamp reports the newest sample time for a quote; the
// second return is false when no samples exist.
func (s *Store) LastCumulativeTimestamp(ctx context.Context, quoteID string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var ts time.Time
	if err := pool.QueryRow(ctx, lastCumulativeTimestampSQL, quoteID).Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("last cumulative timestamp: %w", err)
	}
	return ts, true, nil
}

// InsertRiskMetric persists or replaces one risk record.
func (s *Store) InsertRiskMetric(ctx context.Context, metric RiskMetric) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	grid, marshalErr := json.Marshal(metric.VaR)
	if marshalErr != nil {
		return fmt.Errorf("marshal var grid: %w", marshalErr)
	}

	_, execErr := pool.Exec(ctx, insertRiskMetricSQL,
		metric.QuoteID,
		metric.TokenName,
		metric.FieldType,
		metric.TS,
		metric.Mu,
		metric.SigSqrd,
		grid,
	)
	if execErr != nil {
		return fmt.Errorf("insert risk metric: %w", execErr)
	}
	return nil
}

// ListRecentRiskMetrics lists the newest records across all quotes.
func (s *Store) ListRecentRiskMetrics(ctx context.Context, limit int) ([]RiskMetric, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRiskMetricsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent risk metrics: %w", queryErr)
	}
	defer rows.Close()

	return collectRiskMetrics(rows)
}

// ListRiskMetricsBetween lists one (quote, field) history within a window.
func (s *Store) ListRiskMetricsBetween(ctx context.Context, quoteID, fieldType string, from, to time.Time) ([]RiskMetric, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRiskMetricsBetweenSQL, quoteID, fieldType, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list risk metrics between: %w", queryErr)
	}
	defer rows.Close()

	return collectRiskMetrics(rows)
}

func collectRiskMetrics(rows pgx.Rows) ([]RiskMetric, error) {
	metrics := make([]RiskMetric, 0)
	for rows.Next() {
		metric, scanErr := scanRiskMetric(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		metrics = append(metrics, metric)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate risk metrics: %w", rows.Err())
	}
	return metrics, nil
}

func scanCumulativeSample(row pgx.Row) (CumulativeSample, error) {
	var (
		sample CumulativeSample
		value  string
	)
	if err := row.Scan(
		&sample.QuoteID,
		&sample.Token0Name,
		&sample.Token1Name,
		&sample.Field,
		&sample.TS,
		&value,
		&sample.CreatedAt,
	); err != nil {
		return CumulativeSample{}, fmt.Errorf("scan cumulative sample: %w", err)
	}

	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return CumulativeSample{}, fmt.Errorf("parse cumulative value %q: %w", value, err)
	}
	sample.Value = parsed
	return sample, nil
}

func scanRiskMetric(row pgx.Row) (RiskMetric, error) {
	var (
		metric RiskMetric
		grid   []byte
	)
	if err := row.Scan(
		&metric.ID,
		&metric.QuoteID,
		&metric.TokenName,
		&metric.FieldType,
		&metric.TS,
		&metric.Mu,
		&metric.SigSqrd,
		&grid,
		&metric.CreatedAt,
	); err != nil {
		return RiskMetric{}, fmt.Errorf("scan risk metric: %w", err)
	}

	if len(grid) > 0 {
		if err := json.Unmarshal(grid, &metric.VaR); err != nil {
			return RiskMetric{}, fmt.Errorf("unmarshal var grid: %w", err)
		}
	}
	return metric, nil
}

var (
	_ SampleStore    = (*Store)(nil)
	_ MetricStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
