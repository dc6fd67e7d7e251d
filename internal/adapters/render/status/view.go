package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/bidbot/internal/application"
	"github.com/bnema/bidbot/internal/domain"
)

const barWidth = 24

type RenderOptions struct {
	Now time.Time
}

// renderFrame stacks the header above the already rendered session blocks.
func renderFrame(statuses []application.SessionStatus, blocks []string, s styles) string {
	running := 0
	for _, st := range statuses {
		if st.Latest != nil && st.Latest.Running() {
			running++
		}
	}

	lines := []string{
		s.title.Render("Bidding Sessions"),
		s.header.Render(fmt.Sprintf("sessions: %d, running: %d", len(statuses), running)),
	}
	if len(blocks) == 0 {
		lines = append(lines, s.empty.Render("No sessions configured."))
	}
	lines = append(lines, blocks...)

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(st application.SessionStatus, opts RenderOptions, s styles) string {
	parts := []string{
		s.session.Render(fmt.Sprintf("%s (%s)", strings.TrimSpace(st.Session.Name), st.Session.ID)),
	}

	run := st.Latest
	if run == nil {
		parts = append(parts, s.empty.Render("never started"))
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	parts = append(parts,
		statusLine(*run, st.Live, opts, s),
		bidLine(*run, s),
		s.detail.Render(counterLine(run.Counters)),
	)
	if run.LastError != "" {
		parts = append(parts, s.warning.Render("last error: "+truncate(run.LastError, 96)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func statusLine(run domain.RunRecord, live bool, opts RenderOptions, s styles) string {
	statusStyle := s.stopped
	switch run.Status {
	case domain.RunStatusRunning:
		statusStyle = s.running
	case domain.RunStatusCrashed:
		statusStyle = s.crashed
	}

	label := string(run.Status)
	if run.Running() {
		label += " / " + string(run.State)
	} else if run.StopReason != "" {
		label += " (" + string(run.StopReason) + ")"
	}

	line := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("status:"),
		" ",
		statusStyle.Render(label),
		" ",
		s.meta.Render(formatSpan(run, opts.Now)),
	)

	// A running record without a loop in this process belongs to another
	// process or to one that died before recovery.
	if run.Running() && !live {
		line += " " + s.warning.Render("[not owned by this process]")
	}

	return line
}

func bidLine(run domain.RunRecord, s styles) string {
	percent := 0.0
	if run.BidLimit > 0 {
		percent = float64(run.Counters.BidsPlaced) / float64(run.BidLimit) * 100
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("bids:"),
		" ",
		renderProgressBar(percent, barWidth, s),
		" ",
		lipgloss.NewStyle().Foreground(interpolateColor(percent, 0, 100)).
			Render(fmt.Sprintf("%d/%d", run.Counters.BidsPlaced, run.BidLimit)),
	)
}

func counterLine(c domain.RunCounters) string {
	return fmt.Sprintf("found %d, filtered %d, failed %d, errors %d",
		c.ProjectsFound, c.ProjectsFiltered, c.BidsFailed, c.Errors)
}

func renderProgressBar(filledPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	fraction := clampPercent(filledPercent) / 100.0
	filled := int(math.Round(float64(width) * fraction))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// formatSpan describes when the run started and how long it lasted.
func formatSpan(run domain.RunRecord, now time.Time) string {
	if run.StartedAt.IsZero() {
		return ""
	}

	started := formatClock(run.StartedAt, now)
	if run.Running() {
		if now.IsZero() {
			return "since " + started
		}
		return fmt.Sprintf("since %s (%s)", started, formatDuration(run.Duration(now)))
	}
	return fmt.Sprintf("started %s, ran %s", started, formatDuration(run.Duration(now)))
}

func formatClock(at, now time.Time) string {
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	yearA, monthA, dayA := now.Date()
	yearB, monthB, dayB := at.Date()
	if yearA == yearB && monthA == monthB && dayA == dayB {
		return at.Format("15:04")
	}

	return at.Format("15:04 on 02 Jan")
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%02dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp from 240 (faded) to 255 (bright).
	baseColor := 240.0
	targetColor := 255.0
	colorCode := int(baseColor + (targetColor-baseColor)*normalized)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}
