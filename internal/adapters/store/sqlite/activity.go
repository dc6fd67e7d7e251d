package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const activityColumns = "id, session_id, run_id, level, message, project_id, data, at"

type ActivityStore struct {
	db *sql.DB
}

var _ ports.ActivityLog = (*ActivityStore)(nil)

func (s *ActivityStore) Append(ctx context.Context, entry domain.ActivityEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := ""
	if len(entry.Data) > 0 {
		encoded, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("encode activity data: %w", err)
		}
		data = string(encoded)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO activity (session_id, run_id, level, message, project_id, data, at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(entry.SessionID),
		string(entry.RunID),
		string(entry.Level),
		entry.Message,
		int64(entry.ProjectID),
		data,
		toMillis(entry.At),
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// List returns entries oldest first. A positive limit keeps the newest,
// which is what a log tail wants.
func (s *ActivityStore) List(ctx context.Context, query ports.LogQuery) ([]domain.ActivityEntry, error) {
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
	if query.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, string(query.RunID))
	}
	where, args = rangeClause(where, args, "at", query.Range)

	rows, err := s.db.QueryContext(ctx, windowed(activityColumns, "activity", where, "at", query.Limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityEntry
	for rows.Next() {
		var (
			entry                   domain.ActivityEntry
			sessionID, runID, level string
			data                    string
			projectID, at           int64
		)
		if err := rows.Scan(&entry.ID, &sessionID, &runID, &level, &entry.Message, &projectID, &data, &at); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.SessionID = domain.SessionID(sessionID)
		entry.RunID = domain.RunID(runID)
		entry.Level = domain.ActivityLevel(level)
		entry.ProjectID = domain.ProjectID(projectID)
		entry.At = fromMillis(at)
		if data != "" {
			if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
				return nil, fmt.Errorf("decode activity data %d: %w", entry.ID, err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}
