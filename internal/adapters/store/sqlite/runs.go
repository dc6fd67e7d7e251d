package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const runColumns = `id, session_id, started_at, ended_at, status, state, bid_limit,
	projects_found, projects_filtered, bids_placed, bids_failed, errors, stop_reason, last_error`

type RunStore struct {
	db *sql.DB
}

var _ ports.RunRepository = (*RunStore)(nil)

// Open inserts a new run record. A second running record for the same
// session violates idx_runs_one_running and maps to ErrAlreadyRunning.
func (s *RunStore) Open(ctx context.Context, run domain.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (`+runColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, runArgs(run)...)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("open run for session %s: %w", run.SessionID, domain.ErrAlreadyRunning)
		}
		return fmt.Errorf("open run: %w", err)
	}
	return nil
}

func (s *RunStore) Update(ctx context.Context, run domain.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET
	ended_at = ?, status = ?, state = ?, bid_limit = ?,
	projects_found = ?, projects_filtered = ?, bids_placed = ?, bids_failed = ?, errors = ?,
	stop_reason = ?, last_error = ?
WHERE id = ?`,
		nullableMillis(run),
		string(run.Status),
		string(run.State),
		run.BidLimit,
		run.Counters.ProjectsFound,
		run.Counters.ProjectsFiltered,
		run.Counters.BidsPlaced,
		run.Counters.BidsFailed,
		run.Counters.Errors,
		string(run.StopReason),
		run.LastError,
		string(run.ID),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("update run %s: %w", run.ID, domain.ErrAlreadyRunning)
		}
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, domain.ErrRunNotFound)
	}
	return nil
}

func (s *RunStore) GetLatest(ctx context.Context, sessionID domain.SessionID) (domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.RunRecord{}, err
	}

	row := s.db.QueryRowContext(ctx, `
SELECT `+runColumns+` FROM runs
WHERE session_id = ?
ORDER BY started_at DESC, rowid DESC
LIMIT 1`, string(sessionID))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunRecord{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.RunRecord{}, err
	}
	return run, nil
}

// List returns runs in start order. A positive limit keeps the newest.
func (s *RunStore) List(ctx context.Context, query ports.RunQuery) ([]domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if query.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, string(query.SessionID))
	}
	where, args = rangeClause(where, args, "started_at", query.Range)

	return s.query(ctx, windowed(runColumns, "runs", where, "started_at", query.Limit), args...)
}

func (s *RunStore) ListRunning(ctx context.Context) ([]domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.query(ctx, windowed(runColumns, "runs", []string{"status = ?"}, "started_at", 0), string(domain.RunStatusRunning))
}

func (s *RunStore) query(ctx context.Context, q string, args ...any) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func runArgs(run domain.RunRecord) []any {
	return []any{
		string(run.ID),
		string(run.SessionID),
		toMillis(run.StartedAt),
		nullableMillis(run),
		string(run.Status),
		string(run.State),
		run.BidLimit,
		run.Counters.ProjectsFound,
		run.Counters.ProjectsFiltered,
		run.Counters.BidsPlaced,
		run.Counters.BidsFailed,
		run.Counters.Errors,
		string(run.StopReason),
		run.LastError,
	}
}

func nullableMillis(run domain.RunRecord) sql.NullInt64 {
	if run.EndedAt == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*run.EndedAt), Valid: true}
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (domain.RunRecord, error) {
	var (
		run                          domain.RunRecord
		id, sessionID, status, state string
		stopReason                   string
		startedAt                    int64
		endedAt                      sql.NullInt64
	)
	if err := scanner.Scan(
		&id,
		&sessionID,
		&startedAt,
		&endedAt,
		&status,
		&state,
		&run.BidLimit,
		&run.Counters.ProjectsFound,
		&run.Counters.ProjectsFiltered,
		&run.Counters.BidsPlaced,
		&run.Counters.BidsFailed,
		&run.Counters.Errors,
		&stopReason,
		&run.LastError,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RunRecord{}, err
		}
		return domain.RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	run.ID = domain.RunID(id)
	run.SessionID = domain.SessionID(sessionID)
	run.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		ended := fromMillis(endedAt.Int64)
		run.EndedAt = &ended
	}
	run.Status = domain.RunStatus(status)
	run.State = domain.LoopState(state)
	run.StopReason = domain.StopReason(stopReason)
	return run, nil
}
