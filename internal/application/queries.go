package application

import (
	"time"

	"github.com/bnema/bidbot/internal/domain"
)

// RunHandle identifies a loop spawned by Start.
type RunHandle struct {
	SessionID domain.SessionID
	RunID     domain.RunID
	StartedAt time.Time
}

type OverallStatistics struct {
	Sessions []domain.SessionStatistics
	Running  int
	Totals   domain.RunCounters
}

// SessionStatus pairs a session with its latest run. Latest is nil when
// the session never ran. Live reports a loop owned by this process.
type SessionStatus struct {
	Session domain.Session
	Latest  *domain.RunRecord
	Live    bool
}
