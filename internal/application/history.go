package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

// Statistics totals every run of a session. The counters of a running
// loop come from its live record.
func (r *Registry) Statistics(ctx context.Context, id domain.SessionID) (domain.SessionStatistics, error) {
	if _, err := r.sessions.GetByID(ctx, id); err != nil {
		return domain.SessionStatistics{}, fmt.Errorf("get session by id: %w", err)
	}

	runs, err := r.runs.List(ctx, ports.RunQuery{SessionID: id})
	if err != nil {
		return domain.SessionStatistics{}, fmt.Errorf("list runs: %w", err)
	}

	r.mu.Lock()
	handle, running := r.active[id]
	r.mu.Unlock()
	var live domain.RunRecord
	if running {
		live, running = handle.snapshot()
	}

	stats := domain.SessionStatistics{SessionID: id, Runs: len(runs)}
	for i := range runs {
		run := runs[i]
		if running && run.ID == live.ID {
			run = live
		}
		stats.Totals = stats.Totals.Add(run.Counters)
		if stats.LastRun == nil || run.StartedAt.After(stats.LastRun.StartedAt) {
			last := run
			stats.LastRun = &last
		}
	}

	return stats, nil
}

func (r *Registry) OverallStatistics(ctx context.Context) (OverallStatistics, error) {
	sessions, err := r.sessions.List(ctx)
	if err != nil {
		return OverallStatistics{}, fmt.Errorf("list sessions: %w", err)
	}

	var overall OverallStatistics
	for _, session := range sessions {
		stats, err := r.Statistics(ctx, session.ID)
		if err != nil {
			return OverallStatistics{}, err
		}
		overall.Sessions = append(overall.Sessions, stats)
		overall.Totals = overall.Totals.Add(stats.Totals)
		if stats.LastRun != nil && stats.LastRun.Running() {
			overall.Running++
		}
	}

	return overall, nil
}

// Overview reports the latest run of every session, in session order.
func (r *Registry) Overview(ctx context.Context) ([]SessionStatus, error) {
	sessions, err := r.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]SessionStatus, 0, len(sessions))
	for _, session := range sessions {
		entry := SessionStatus{Session: session}
		record, err := r.Status(ctx, session.ID)
		switch {
		case err == nil:
			entry.Latest = &record
		case !errors.Is(err, domain.ErrRunNotFound):
			return nil, err
		}
		r.mu.Lock()
		_, entry.Live = r.active[session.ID]
		r.mu.Unlock()
		out = append(out, entry)
	}
	return out, nil
}

func (r *Registry) Runs(ctx context.Context, query ports.RunQuery) ([]domain.RunRecord, error) {
	runs, err := r.runs.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (r *Registry) Bids(ctx context.Context, query ports.BidQuery) ([]domain.BidRecord, error) {
	bids, err := r.bids.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return bids, nil
}

func (r *Registry) Logs(ctx context.Context, query ports.LogQuery) ([]domain.ActivityEntry, error) {
	entries, err := r.activity.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return entries, nil
}
