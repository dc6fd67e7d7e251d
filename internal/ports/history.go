package ports

import (
	"context"
	"time"

	"github.com/bnema/bidbot/internal/domain"
)

// TimeRange bounds a history query. Zero values leave that side open.
type TimeRange struct {
	Since time.Time
	Until time.Time
}

func (r TimeRange) Contains(at time.Time) bool {
	if !r.Since.IsZero() && at.Before(r.Since) {
		return false
	}
	if !r.Until.IsZero() && !at.Before(r.Until) {
		return false
	}
	return true
}

type RunQuery struct {
	SessionID domain.SessionID
	Range     TimeRange
	Limit     int
}

type BidQuery struct {
	SessionID domain.SessionID
	RunID     domain.RunID
	Range     TimeRange
	Limit     int
}

type LogQuery struct {
	SessionID domain.SessionID
	RunID     domain.RunID
	Range     TimeRange
	Limit     int
}

// RunRepository persists run records. Open fails with
// domain.ErrAlreadyRunning when the session already has a running record.
type RunRepository interface {
	Open(ctx context.Context, run domain.RunRecord) error
	Update(ctx context.Context, run domain.RunRecord) error
	GetLatest(ctx context.Context, sessionID domain.SessionID) (domain.RunRecord, error)
	List(ctx context.Context, query RunQuery) ([]domain.RunRecord, error)
	ListRunning(ctx context.Context) ([]domain.RunRecord, error)
}

type BidRepository interface {
	Append(ctx context.Context, bid domain.BidRecord) error
	List(ctx context.Context, query BidQuery) ([]domain.BidRecord, error)
}

type ActivityLog interface {
	Append(ctx context.Context, entry domain.ActivityEntry) error
	List(ctx context.Context, query LogQuery) ([]domain.ActivityEntry, error)
}

// SeenProjects remembers project ids evaluated by earlier runs.
type SeenProjects interface {
	Seen(ctx context.Context, sessionID domain.SessionID, projectID domain.ProjectID) (bool, error)
	MarkSeen(ctx context.Context, sessionID domain.SessionID, projectID domain.ProjectID) error
}
