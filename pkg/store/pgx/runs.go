package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// RunDBStorage implements store.RunStorage on PostgreSQL.
type RunDBStorage struct {
	conn pgxIConn
}

// NewRunDBStorageWithConnection creates a run store on an existing pool or
// connection.
func NewRunDBStorageWithConnection(conn pgxIConn) *RunDBStorage {
	return &RunDBStorage{conn: conn}
}

func (s *RunDBStorage) CreateRun(ctx context.Context, run *store.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	if run.Phase == "" {
		run.Phase = store.PhaseQueued
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("encode run params: %w", err)
	}

	err = s.conn.QueryRow(ctx, createRunSQL, run.ID, run.OwnerID, run.Topic, params, run.Phase).
		Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RunDBStorage) GetRun(ctx context.Context, id string) (*store.Run, error) {
	run, err := scanRun(s.conn.QueryRow(ctx, getRunSQL, id))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *RunDBStorage) SaveProgress(ctx context.Context, id string, phase string, state []byte) error {
	tag, err := s.conn.Exec(ctx, saveProgressSQL, id, phase, nullJSON(state))
	if err != nil {
		return fmt.Errorf("save progress of run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

func (s *RunDBStorage) FinishRun(ctx context.Context, id string, result store.RunResult) error {
	tag, err := s.conn.Exec(
		ctx,
		finishRunSQL,
		id,
		result.Phase,
		nullJSON(result.State),
		result.Report,
		result.ReportKey,
		result.Error,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

func (s *RunDBStorage) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, deleteRunSQL, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

// ListStaleRuns returns unfinished runs that have not been updated for
// idleFor, oldest first.
func (s *RunDBStorage) ListStaleRuns(ctx context.Context, idleFor time.Duration) ([]store.Run, error) {
	rows, err := s.conn.Query(ctx, staleRunsSQL, idleFor.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgxv5.Row) (*store.Run, error) {
	var (
		run    store.Run
		params []byte
	)
	err := row.Scan(
		&run.ID,
		&run.OwnerID,
		&run.Topic,
		&params,
		&run.Phase,
		&run.State,
		&run.Report,
		&run.ReportKey,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return nil, fmt.Errorf("decode run params: %w", err)
		}
	}
	return &run, nil
}

// nullJSON keeps an empty state as SQL NULL instead of invalid JSONB.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

const runColumns = `id, owner_id, topic, params, phase, state, report, report_key, error, created_at, updated_at, finished_at`

const createRunSQL = `
INSERT INTO research_runs (id, owner_id, topic, params, phase)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at;
`

const getRunSQL = `
SELECT ` + runColumns + `
FROM research_runs
WHERE id = $1;
`

const saveProgressSQL = `
UPDATE research_runs
SET phase      = $2,
    state      = COALESCE($3::jsonb, state),
    updated_at = now()
WHERE id = $1 AND finished_at IS NULL;
`

const finishRunSQL = `
UPDATE research_runs
SET phase       = $2,
    state       = COALESCE($3::jsonb, state),
    report      = $4,
    report_key  = $5,
    error       = $6,
    updated_at  = now(),
    finished_at = now()
WHERE id = $1;
`

const deleteRunSQL = `
DELETE FROM research_runs
WHERE id = $1;
`

const staleRunsSQL = `
SELECT ` + runColumns + `
FROM research_runs
WHERE finished_at IS NULL
  AND updated_at < now() - ($1::bigint * interval '1 millisecond')
ORDER BY updated_at ASC;
`
