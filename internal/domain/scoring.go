package domain

import (
	"regexp"
	"strings"
)

type MatchVerdict string

const (
	Match   MatchVerdict = "MATCH"
	NoMatch MatchVerdict = "NO_MATCH"
)

var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes <think> blocks emitted by reasoning models.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkBlockPattern.ReplaceAllString(text, ""))
}

// ParseVerdict reads a free-text classification. Anything that is not a
// plain MATCH counts as NO_MATCH.
func ParseVerdict(text string) MatchVerdict {
	normalized := strings.ToUpper(StripThinking(text))
	normalized = strings.Trim(normalized, ".\"'` ")
	normalized = strings.ReplaceAll(normalized, "_", " ")
	if normalized == "MATCH" {
		return Match
	}
	return NoMatch
}

type Recommendation struct {
	BudgetUSD    int
	DeadlineDays int
}

// SessionStatistics aggregates every run of one session.
type SessionStatistics struct {
	SessionID SessionID
	Runs      int
	Totals    RunCounters
	LastRun   *RunRecord
}
