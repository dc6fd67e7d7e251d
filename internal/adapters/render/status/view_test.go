package status

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/bidbot/internal/application"
	"github.com/bnema/bidbot/internal/domain"
)

func TestRenderShowsRunningSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render([]application.SessionStatus{
		{
			Session: domain.Session{ID: "s-1", Name: "Studio"},
			Latest: &domain.RunRecord{
				ID:        "r-1",
				SessionID: "s-1",
				StartedAt: now.Add(-90 * time.Minute),
				Status:    domain.RunStatusRunning,
				State:     domain.LoopWaiting,
				BidLimit:  10,
				Counters: domain.RunCounters{
					ProjectsFound:    40,
					ProjectsFiltered: 31,
					BidsPlaced:       5,
					BidsFailed:       1,
					Errors:           2,
				},
			},
			Live: true,
		},
		{
			Session: domain.Session{ID: "s-2", Name: "Backup"},
		},
	}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "sessions: 2, running: 1")
	assert.Contains(t, output, "Studio (s-1)")
	assert.Contains(t, output, "running / waiting")
	assert.Contains(t, output, "since 09:30 (1h30m)")
	assert.Contains(t, output, "5/10")
	assert.Contains(t, output, "found 40, filtered 31, failed 1, errors 2")
	assert.Contains(t, output, "Backup (s-2)")
	assert.Contains(t, output, "never started")
	assert.NotContains(t, output, "not owned by this process")
}

func TestRenderShowsCrashedRunWithLastError(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	ended := now.Add(-2 * 24 * time.Hour)

	output, err := Render([]application.SessionStatus{
		{
			Session: domain.Session{ID: "s-1", Name: "Studio"},
			Latest: &domain.RunRecord{
				ID:         "r-1",
				SessionID:  "s-1",
				StartedAt:  ended.Add(-10 * time.Minute),
				EndedAt:    &ended,
				Status:     domain.RunStatusCrashed,
				State:      domain.LoopCrashed,
				BidLimit:   3,
				StopReason: domain.StopConsecutiveFailures,
				LastError:  "search projects: marketplace: status 503",
			},
		},
	}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "sessions: 1, running: 0")
	assert.Contains(t, output, "crashed (consecutive_failures)")
	assert.Contains(t, output, "started 10:50 on 12 Mar, ran 10m")
	assert.Contains(t, output, "0/3")
	assert.Contains(t, output, "last error: search projects: marketplace: status 503")
}

func TestRenderFlagsRunningRecordWithoutLiveLoop(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render([]application.SessionStatus{
		{
			Session: domain.Session{ID: "s-1", Name: "Studio"},
			Latest: &domain.RunRecord{
				ID:        "r-1",
				SessionID: "s-1",
				StartedAt: now.Add(-time.Hour),
				Status:    domain.RunStatusRunning,
				State:     domain.LoopPolling,
				BidLimit:  5,
			},
		},
	}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "[not owned by this process]")
}

func TestRenderWithoutSessions(t *testing.T) {
	t.Parallel()

	output, err := Render(nil, RenderOptions{})

	require.NoError(t, err)
	assert.Contains(t, output, "sessions: 0, running: 0")
	assert.Contains(t, output, "No sessions configured.")
}

func TestRenderKeepsSessionOrder(t *testing.T) {
	t.Parallel()

	var statuses []application.SessionStatus
	for _, name := range []string{"Gamma", "Alpha", "Beta", "Delta"} {
		statuses = append(statuses, application.SessionStatus{
			Session: domain.Session{ID: domain.SessionID(strings.ToLower(name)), Name: name},
		})
	}

	output, err := Render(statuses, RenderOptions{})

	require.NoError(t, err)
	assert.Contains(t, output, "sessions: 4, running: 0")
	assert.NotContains(t, output, "No sessions configured.")
	last := -1
	for _, st := range statuses {
		at := strings.Index(output, st.Session.Name+" ("+string(st.Session.ID)+")")
		require.Greater(t, at, last, st.Session.Name)
		last = at
	}
}

func TestRenderProgressBarClampsOverflow(t *testing.T) {
	t.Parallel()

	s := newStyles()
	full := renderProgressBar(150, 4, s)
	empty := renderProgressBar(-5, 4, s)

	assert.Contains(t, full, "====")
	assert.Contains(t, empty, "----")
	assert.Empty(t, renderProgressBar(50, 0, s))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 42 * time.Second, want: "42s"},
		{in: 5 * time.Minute, want: "5m"},
		{in: 2*time.Hour + 3*time.Minute, want: "2h03m"},
		{in: 50 * time.Hour, want: "2d02h"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}
