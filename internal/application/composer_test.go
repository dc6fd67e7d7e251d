package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/bidbot/internal/domain"
)

func TestParseRecommendation(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    domain.Recommendation
		wantErr bool
	}{
		{name: "canonical", in: "Budget: 500 USD, Deadline: 10 days", want: domain.Recommendation{BudgetUSD: 500, DeadlineDays: 10}},
		{name: "think block", in: "<think>client wants a logo\nbase is 50</think>\nBudget: 80 USD, Deadline: 2 days", want: domain.Recommendation{BudgetUSD: 80, DeadlineDays: 2}},
		{name: "extra spacing", in: "Budget:   1750 USD,\nDeadline:20 days", want: domain.Recommendation{BudgetUSD: 1750, DeadlineDays: 20}},
		{name: "missing deadline", in: "Budget: 500 USD", wantErr: true},
		{name: "missing budget", in: "Deadline: 5 days", wantErr: true},
		{name: "zero deadline", in: "Budget: 500 USD, Deadline: 0 days", wantErr: true},
		{name: "numbers only inside think", in: "<think>Budget: 100 USD, Deadline: 3 days</think>no idea", wantErr: true},
		{name: "free text", in: "around five hundred", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecommendation(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func composeCandidate(rate, min, max float64) domain.Candidate {
	return domain.Candidate{
		ID:           55,
		Title:        "Brand refresh",
		Type:         domain.ContractFixed,
		Currency:     "EUR",
		ExchangeRate: rate,
		MinBudget:    min,
		MaxBudget:    max,
		SEOURL:       "graphic-design/brand-refresh",
	}
}

func TestComposeBidConvertsWithExchangeRate(t *testing.T) {
	policy := ComposePolicy{MinBidAmountUSD: 70, FallbackAmount: 1000}
	c := composeCandidate(1.08, 100, 400)

	bid, err := ComposeBid(c, domain.Recommendation{BudgetUSD: 500, DeadlineDays: 10}, "<think>x</think>  Proposal text  ", policy)

	require.NoError(t, err)
	assert.Equal(t, domain.BidPending, bid.Outcome)
	assert.Equal(t, "Proposal text", bid.Text)
	assert.Equal(t, 10, bid.Period)
	assert.Equal(t, "EUR", bid.Currency)
	assert.InDelta(t, 462.96, bid.Amount, 0.001)
	assert.Equal(t, "https://www.freelancer.com/projects/graphic-design/brand-refresh/details", bid.ProjectLink)
}

func TestComposeBidAmountRoundTripsToBudget(t *testing.T) {
	policy := ComposePolicy{MinBidAmountUSD: 70, FallbackAmount: 1000}
	rates := []float64{0.0121, 0.27, 0.74, 1, 1.08, 1.27, 3.5}
	budgets := []int{70, 95, 500, 1337, 1750}

	for _, rate := range rates {
		for _, budget := range budgets {
			c := composeCandidate(rate, 1, 0)
			bid, err := ComposeBid(c, domain.Recommendation{BudgetUSD: budget, DeadlineDays: 7}, "text", policy)
			require.NoError(t, err)

			assert.InDelta(t, bid.BudgetUSD, bid.Amount*bid.ExchangeRate, rate*0.005+1e-9, "rate %v budget %d", rate, budget)
			assert.InDelta(t, bid.BudgetUSD, bid.AmountUSD(), rate*0.005+0.005+1e-9)
		}
	}
}

func TestComposeBidNeverBelowClientMinimum(t *testing.T) {
	policy := ComposePolicy{MinBidAmountUSD: 70, FallbackAmount: 1000}

	bid, err := ComposeBid(composeCandidate(1.25, 400, 800), domain.Recommendation{BudgetUSD: 150, DeadlineDays: 5}, "text", policy)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, bid.BudgetUSD, 0.001)
	assert.GreaterOrEqual(t, bid.Amount, 400.0)

	bid, err = ComposeBid(composeCandidate(1, 10, 30), domain.Recommendation{BudgetUSD: 20, DeadlineDays: 2}, "text", policy)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, bid.Amount, 0.001)
}

func TestComposeBidFallsBackWithoutRate(t *testing.T) {
	policy := ComposePolicy{MinBidAmountUSD: 70, FallbackAmount: 1000}

	bid, err := ComposeBid(composeCandidate(0, 100, 400), domain.Recommendation{BudgetUSD: 500, DeadlineDays: 10}, "text", policy)

	require.NoError(t, err)
	assert.InDelta(t, 1000.0, bid.Amount, 0.001)

	bid, err = ComposeBid(composeCandidate(0, 5000, 8000), domain.Recommendation{BudgetUSD: 6000, DeadlineDays: 10}, "text", policy)

	require.NoError(t, err)
	assert.InDelta(t, 5000.0, bid.Amount, 0.001)
}

func TestComposeBidRejectsEmptyDraft(t *testing.T) {
	policy := ComposePolicy{MinBidAmountUSD: 70, FallbackAmount: 1000}

	_, err := ComposeBid(composeCandidate(1, 100, 400), domain.Recommendation{BudgetUSD: 500, DeadlineDays: 10}, "<think>only thoughts</think>\n", policy)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty draft")
}
