package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS analysis_runs (
        id              UUID PRIMARY KEY,
        catalog         TEXT        NOT NULL,
        main_shock_time TIMESTAMPTZ NOT NULL,
        main_shock_mag  NUMERIC     NOT NULL,
        aftershocks     INTEGER     NOT NULL,
        days            INTEGER     NOT NULL,
        k               NUMERIC,
        c               NUMERIC,
        p               NUMERIC,
        r_squared       NUMERIC,
        correlation     NUMERIC,
        p_value         NUMERIC,
        status          TEXT        NOT NULL,
        error           TEXT,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS analysis_runs_created_at_idx ON analysis_runs (created_at DESC);
    CREATE INDEX IF NOT EXISTS analysis_runs_catalog_idx ON analysis_runs (catalog, created_at DESC);`

	insertRunSQL = `INSERT INTO analysis_runs (
        id,
        catalog,
        main_shock_time,
        main_shock_mag,
        aftershocks,
        days,
        k,
        c,
        p,
        r_squared,
        correlation,
        p_value,
        status,
        error,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    );`

	runColumns = `id,
        catalog,
        main_shock_time,
        main_shock_mag::text,
        aftershocks,
        days,
        k::text,
        c::text,
        p::text,
        r_squared::text,
        correlation::text,
        p_value::text,
        status,
        error,
        created_at`

	listRecentRunsSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    ORDER BY created_at DESC
    LIMIT $1;`

	listRecentRunsByCatalogSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    WHERE catalog = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore persists analysis runs.
type RunStore interface {
	InsertRun(ctx context.Context, run AnalysisRun) (AnalysisRun, error)
	ListRecentRuns(ctx context.Context, catalog string, limit int) ([]AnalysisRun, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store implements RunStore on PostgreSQL.
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

// EnsureSchema creates the analysis_runs table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
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
		// A failed unlock is released with the session when the connection closes.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertRun persists a run, assigning an ID and creation time when unset.
func (s *Store) InsertRun(ctx context.Context, run AnalysisRun) (AnalysisRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return AnalysisRun{}, err
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}

	_, execErr := pool.Exec(ctx, insertRunSQL,
		run.ID,
		run.Catalog,
		run.MainShockTime,
		run.MainShockMag.String(),
		run.Aftershocks,
		run.Days,
		numericArg(run.K),
		numericArg(run.C),
		numericArg(run.P),
		numericArg(run.RSquared),
		numericArg(run.Correlation),
		numericArg(run.PValue),
		run.Status,
		errMsg,
		run.CreatedAt,
	)
	if execErr != nil {
		return AnalysisRun{}, fmt.Errorf("insert analysis run: %w", execErr)
	}
	return run, nil
}

// ListRecentRuns lists the latest runs, newest first. An empty catalog lists
// runs of every catalog.
func (s *Store) ListRecentRuns(ctx context.Context, catalog string, limit int) ([]AnalysisRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var queryErr error
	if catalog == "" {
		rows, queryErr = pool.Query(ctx, listRecentRunsSQL, limit)
	} else {
		rows, queryErr = pool.Query(ctx, listRecentRunsByCatalogSQL, catalog, limit)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]AnalysisRun, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func numericArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanRun(rows pgx.Rows) (AnalysisRun, error) {
	var (
		run      AnalysisRun
		magStr   string
		numerics [6]*string
	)

	if err := rows.Scan(
		&run.ID,
		&run.Catalog,
		&run.MainShockTime,
		&magStr,
		&run.Aftershocks,
		&run.Days,
		&numerics[0],
		&numerics[1],
		&numerics[2],
		&numerics[3],
		&numerics[4],
		&numerics[5],
		&run.Status,
		&run.Error,
		&run.CreatedAt,
	); err != nil {
		return AnalysisRun{}, err
	}

	mag, err := decimal.NewFromString(magStr)
	if err != nil {
		return AnalysisRun{}, fmt.Errorf("parse main shock magnitude: %w", err)
	}
	run.MainShockMag = mag

	targets := []**decimal.Decimal{&run.K, &run.C, &run.P, &run.RSquared, &run.Correlation, &run.PValue}
	for i, raw := range numerics {
		value, err := parseNullableDecimal(raw)
		if err != nil {
			return AnalysisRun{}, err
		}
		*targets[i] = value
	}
	return run, nil
}

func parseNullableDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", *raw, err)
	}
	return &d, nil
}
