package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

type SeenStore struct {
	db        *sql.DB
	clock     ports.Clock
	retention time.Duration
}

var _ ports.SeenProjects = (*SeenStore)(nil)

func (s *SeenStore) Seen(ctx context.Context, sessionID domain.SessionID, projectID domain.ProjectID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var cutoff int64
	if s.retention > 0 {
		cutoff = toMillis(s.clock.Now().Add(-s.retention))
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM seen_projects
WHERE session_id = ? AND project_id = ? AND seen_at >= ?`,
		string(sessionID), int64(projectID), cutoff,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check seen project: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records the project id, refreshing the timestamp of a repeat.
func (s *SeenStore) MarkSeen(ctx context.Context, sessionID domain.SessionID, projectID domain.ProjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO seen_projects (session_id, project_id, seen_at) VALUES (?, ?, ?)
ON CONFLICT (session_id, project_id) DO UPDATE SET seen_at = excluded.seen_at`,
		string(sessionID), int64(projectID), toMillis(s.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("mark project seen: %w", err)
	}
	return nil
}

// Prune drops entries older than the retention window.
func (s *SeenStore) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM seen_projects WHERE seen_at < ?`,
		toMillis(s.clock.Now().Add(-s.retention)))
	if err != nil {
		return 0, fmt.Errorf("prune seen projects: %w", err)
	}
	return res.RowsAffected()
}
