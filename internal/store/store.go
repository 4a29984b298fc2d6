// Package store archives preparation runs and their GUL input items in
// PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/gulprep/internal/config"
	"github.com/JonMunkholm/gulprep/internal/gul"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Connect opens and pings a pool sized from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS gul_runs (
	run_id        uuid PRIMARY KEY,
	exposure_path text NOT NULL,
	keys_path     text NOT NULL,
	target_dir    text NOT NULL,
	complex       boolean NOT NULL,
	items         integer NOT NULL,
	started_at    timestamptz NOT NULL,
	duration_ms   bigint NOT NULL
);

CREATE TABLE IF NOT EXISTS gul_inputs (
	run_id           uuid NOT NULL REFERENCES gul_runs (run_id) ON DELETE CASCADE,
	item_id          integer NOT NULL,
	loc_idx          integer NOT NULL,
	location_id      text NOT NULL,
	account_id       text NOT NULL,
	portfolio_id     text NOT NULL,
	condition_id     bigint NOT NULL,
	peril_id         text NOT NULL,
	coverage_type_id smallint NOT NULL,
	areaperil_id     bigint NOT NULL,
	vulnerability_id bigint NOT NULL,
	model_data       text,
	is_bi_coverage   boolean NOT NULL,
	tiv              double precision NOT NULL,
	deductible       double precision NOT NULL,
	deductible_min   double precision NOT NULL,
	deductible_max   double precision NOT NULL,
	"limit"          double precision NOT NULL,
	group_id         integer NOT NULL,
	coverage_id      integer NOT NULL,
	agg_id           integer NOT NULL,
	PRIMARY KEY (run_id, item_id)
);`

// inputColumns lists the gul_inputs columns in copy order.
var inputColumns = []string{
	"run_id", "item_id", "loc_idx", "location_id", "account_id", "portfolio_id", "condition_id",
	"peril_id", "coverage_type_id", "areaperil_id", "vulnerability_id", "model_data", "is_bi_coverage",
	"tiv", "deductible", "deductible_min", "deductible_max", "limit",
	"group_id", "coverage_id", "agg_id",
}

// Run is the archived summary of one preparation run.
type Run struct {
	ID           uuid.UUID     `json:"run_id"`
	ExposurePath string        `json:"exposure_path"`
	KeysPath     string        `json:"keys_path"`
	TargetDir    string        `json:"target_dir"`
	Complex      bool          `json:"complex"`
	Items        int           `json:"items"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Store writes runs to PostgreSQL.
type Store struct {
	db DB
}

// New returns a Store over db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the archive tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create archive tables: %w", err)
	}
	return nil
}

// SaveRun stores run and its items in one transaction. Items are loaded
// with COPY.
func (s *Store) SaveRun(ctx context.Context, run Run, items []gul.Item) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	id := pgUUID(run.ID)
	_, err = tx.Exec(ctx, `
		INSERT INTO gul_runs (run_id, exposure_path, keys_path, target_dir, complex, items, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, run.ExposurePath, run.KeysPath, run.TargetDir, run.Complex, run.Items, run.StartedAt, run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"gul_inputs"}, inputColumns, itemSource(id, items))
	if err != nil {
		return fmt.Errorf("copy items: %w", err)
	}
	if n != int64(len(items)) {
		return fmt.Errorf("copy items: wrote %d of %d rows", n, len(items))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DefaultListLimit caps ListRuns when limit is not positive.
const DefaultListLimit = 50

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT run_id, exposure_path, keys_path, target_dir, complex, items, started_at, duration_ms
		FROM gul_runs
		ORDER BY started_at DESC
		LIMIT $1`, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			id         pgtype.UUID
			items      int32
			durationMS int64
		)
		if err := rows.Scan(&id, &r.ExposurePath, &r.KeysPath, &r.TargetDir, &r.Complex, &items, &r.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.ID = uuid.UUID(id.Bytes)
		r.Items = int(items)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// itemSource streams items as gul_inputs rows.
func itemSource(runID pgtype.UUID, items []gul.Item) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
		return itemRow(runID, &items[i]), nil
	})
}

func itemRow(runID pgtype.UUID, it *gul.Item) []any {
	modelData := pgtype.Text{String: it.ModelData, Valid: it.ModelData != ""}
	return []any{
		runID, int32(it.ItemID), int32(it.LocIndex), it.LocationID, it.AccountID, it.PortfolioID, int64(it.ConditionID),
		it.PerilID, int16(it.CoverageType), it.AreaPerilID, it.VulnerabilityID, modelData, it.IsBI,
		it.TIV, it.Deductible, it.DeductibleMin, it.DeductibleMax, it.Limit,
		int32(it.GroupID), int32(it.CoverageID), int32(it.AggID),
	}
}
