package domain

import "time"

type RunID string

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusStopped RunStatus = "stopped"
	RunStatusCrashed RunStatus = "crashed"
)

// LoopState is the polling loop state machine position.
type LoopState string

const (
	LoopStarting   LoopState = "starting"
	LoopPolling    LoopState = "polling"
	LoopProcessing LoopState = "processing"
	LoopBidding    LoopState = "bidding"
	LoopWaiting    LoopState = "waiting"
	LoopStopped    LoopState = "stopped"
	LoopCrashed    LoopState = "crashed"
)

func (s LoopState) Terminal() bool {
	return s == LoopStopped || s == LoopCrashed
}

type StopReason string

const (
	StopRequested           StopReason = "stop_requested"
	StopBidLimitReached     StopReason = "bid_limit_reached"
	StopConsecutiveFailures StopReason = "consecutive_failures"
	StopFatal               StopReason = "fatal"
	StopAbandoned           StopReason = "abandoned"
	StopShutdown            StopReason = "shutdown"
)

type RunCounters struct {
	ProjectsFound    int
	ProjectsFiltered int
	BidsPlaced       int
	BidsFailed       int
	Errors           int
}

func (c RunCounters) Add(other RunCounters) RunCounters {
	return RunCounters{
		ProjectsFound:    c.ProjectsFound + other.ProjectsFound,
		ProjectsFiltered: c.ProjectsFiltered + other.ProjectsFiltered,
		BidsPlaced:       c.BidsPlaced + other.BidsPlaced,
		BidsFailed:       c.BidsFailed + other.BidsFailed,
		Errors:           c.Errors + other.Errors,
	}
}

// RunRecord is one continuous execution of a session's polling loop.
// EndedAt stays nil while the run is running.
type RunRecord struct {
	ID         RunID
	SessionID  SessionID
	StartedAt  time.Time
	EndedAt    *time.Time
	Status     RunStatus
	State      LoopState
	BidLimit   int
	Counters   RunCounters
	StopReason StopReason
	LastError  string
}

func (r RunRecord) Running() bool {
	return r.Status == RunStatusRunning
}

// Close marks the record terminal. A stopped run ends in the stopped
// state, anything else in crashed.
func (r *RunRecord) Close(status RunStatus, reason StopReason, at time.Time) {
	ended := at.UTC()
	r.Status = status
	r.StopReason = reason
	r.EndedAt = &ended
	if status == RunStatusStopped {
		r.State = LoopStopped
	} else {
		r.State = LoopCrashed
	}
}

func (r RunRecord) Duration(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
