package application

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/bnema/bidbot/internal/domain"
)

const (
	defaultMinBidAmountUSD = 70
	defaultFallbackAmount  = 1000
)

var (
	budgetPattern   = regexp.MustCompile(`Budget:\s*(\d+)`)
	deadlinePattern = regexp.MustCompile(`Deadline:\s*(\d+)`)
)

type ComposePolicy struct {
	MinBidAmountUSD float64
	FallbackAmount  float64
}

// ParseRecommendation reads "Budget: <int> USD, Deadline: <int> days".
func ParseRecommendation(text string) (domain.Recommendation, error) {
	cleaned := domain.StripThinking(text)

	budget, ok := firstInt(budgetPattern, cleaned)
	if !ok {
		return domain.Recommendation{}, fmt.Errorf("%w: no budget in %q", domain.ErrParse, truncate(cleaned, 120))
	}
	deadline, ok := firstInt(deadlinePattern, cleaned)
	if !ok {
		return domain.Recommendation{}, fmt.Errorf("%w: no deadline in %q", domain.ErrParse, truncate(cleaned, 120))
	}
	if deadline < 1 {
		return domain.Recommendation{}, fmt.Errorf("%w: deadline %d days", domain.ErrParse, deadline)
	}

	return domain.Recommendation{BudgetUSD: budget, DeadlineDays: deadline}, nil
}

func firstInt(pattern *regexp.Regexp, text string) (int, bool) {
	match := pattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return 0, false
	}
	value, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return value, true
}

// ComposeBid merges a recommendation and drafted text into a pending bid
// record. The USD budget is floored at the client's minimum and at
// MinBidAmountUSD, then converted with the project's exchange rate.
func ComposeBid(c domain.Candidate, rec domain.Recommendation, draft string, policy ComposePolicy) (domain.BidRecord, error) {
	text := domain.StripThinking(draft)
	if text == "" {
		return domain.BidRecord{}, fmt.Errorf("compose bid for project %d: empty draft", c.ID)
	}
	if rec.DeadlineDays < 1 {
		return domain.BidRecord{}, fmt.Errorf("compose bid for project %d: %w: deadline %d days", c.ID, domain.ErrParse, rec.DeadlineDays)
	}

	budget := math.Max(float64(rec.BudgetUSD), policy.MinBidAmountUSD)
	budget = math.Max(budget, c.MinBudgetUSD())

	// Without a rate the fallback is in the project currency, as is the
	// client's minimum.
	amount := math.Max(policy.FallbackAmount, c.MinBudget)
	if c.ExchangeRate > 0 {
		amount = roundCents(budget / c.ExchangeRate)
	}

	return domain.BidRecord{
		ProjectID:    c.ID,
		ProjectTitle: c.Title,
		ProjectLink:  c.Link(),
		Text:         text,
		Amount:       amount,
		Period:       rec.DeadlineDays,
		Currency:     c.Currency,
		ExchangeRate: c.ExchangeRate,
		BudgetUSD:    budget,
		Outcome:      domain.BidPending,
	}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
