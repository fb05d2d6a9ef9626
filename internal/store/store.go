// Package store records prepared datasets in Postgres: one summary row per
// run, every clean record with its split and label set, and the fitted
// label universe.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/pipeline"
)

// LatestEncoderSQL selects the classes of the most recently stored encoder.
const LatestEncoderSQL = `
	SELECT run_id, classes
	FROM stage.label_encoders
	ORDER BY created_at DESC
	LIMIT 1
`

var schemaQueries = []string{
	`CREATE SCHEMA IF NOT EXISTS stage`,
	`CREATE TABLE IF NOT EXISTS stage.dataset_runs (
		run_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT,
		error_message TEXT,
		rows_read INTEGER,
		rows_merged INTEGER,
		rows_padded INTEGER,
		summary JSONB,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stage.dataset_records (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT REFERENCES stage.dataset_runs(run_id),
		split TEXT NOT NULL,
		position INTEGER NOT NULL,
		source_line INTEGER NOT NULL,
		fields TEXT[] NOT NULL,
		labels BIGINT[] NOT NULL,
		repaired BOOLEAN DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS stage.label_encoders (
		run_id TEXT PRIMARY KEY REFERENCES stage.dataset_runs(run_id),
		classes BIGINT[] NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
}

// Store writes run results through database/sql with the lib/pq driver.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects, pings and makes sure the tables exist.
func Open(ctx context.Context, dbURL string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := New(db, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema setup failed: %w", err)
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the stage tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, query := range schemaQueries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

// Write stores res in one transaction: the run row, every record via COPY,
// then the encoder classes.
func (s *Store) Write(ctx context.Context, res *pipeline.Result) error {
	summary, err := json.Marshal(res.Summary())
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stage.dataset_runs (
			run_id, source, status, rows_read, rows_merged, rows_padded,
			summary, started_at, finished_at
		) VALUES ($1, $2, 'completed', $3, $4, $5, $6, $7, $8)
	`, res.RunID, res.Source, res.Stats.Rows, res.Stats.Merged, res.Stats.Padded,
		summary, res.StartedAt, res.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("stage", "dataset_records",
		"run_id", "split", "position", "source_line", "fields", "labels", "repaired",
	))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range recordRows(res) {
		_, err := stmt.ExecContext(ctx,
			res.RunID, row.split, row.position, row.line,
			pq.Array(row.fields), pq.Array(row.labels), row.repaired,
		)
		if err != nil {
			return fmt.Errorf("failed to copy record at line %d: %w", row.line, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to execute bulk insert: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stage.label_encoders (run_id, classes) VALUES ($1, $2)
	`, res.RunID, pq.Array(toInt64(res.Encoder.Classes())))
	if err != nil {
		return fmt.Errorf("failed to insert encoder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("stored dataset run",
		zap.String("run.id", res.RunID),
		zap.Int("data.rows", res.Dataset.Len()),
	)
	return nil
}

// RecordFailure stores a failed run so its status survives restarts.
func (s *Store) RecordFailure(ctx context.Context, runID, source, code string, runErr error) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage.dataset_runs (run_id, source, status, error_code, error_message)
		VALUES ($1, $2, 'failed', $3, $4)
		ON CONFLICT (run_id) DO UPDATE
		SET status = 'failed', error_code = $3, error_message = $4, finished_at = NOW()
	`, runID, source, code, runErr.Error())
	if err != nil {
		return fmt.Errorf("failed to record run failure: %w", err)
	}
	return nil
}

// LatestClasses returns the most recently stored label universe.
func (s *Store) LatestClasses(ctx context.Context) (string, []int, error) {
	var runID string
	var classes pq.Int64Array
	if err := s.db.QueryRowContext(ctx, LatestEncoderSQL).Scan(&runID, &classes); err != nil {
		return "", nil, fmt.Errorf("failed to load encoder: %w", err)
	}
	out := make([]int, len(classes))
	for i, c := range classes {
		out[i] = int(c)
	}
	return runID, out, nil
}

type recordRow struct {
	split    string
	position int
	line     int
	fields   []string
	labels   []int64
	repaired bool
}

// recordRows flattens the splits in train, validation, test order. position
// is the record's index in the whole dataset.
func recordRows(res *pipeline.Result) []recordRow {
	rows := make([]recordRow, 0, res.Dataset.Len())
	for _, sp := range res.Splits {
		for i, rec := range sp.Records {
			rows = append(rows, recordRow{
				split:    sp.Name,
				position: len(rows),
				line:     rec.Line,
				fields:   rec.Fields,
				labels:   toInt64(sp.Labels[i]),
				repaired: rec.Repaired,
			})
		}
	}
	return rows
}

func toInt64(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
