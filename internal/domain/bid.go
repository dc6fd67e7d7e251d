package domain

import (
	"math"
	"time"
)

type BidOutcome string

const (
	BidPending   BidOutcome = "pending"
	BidSubmitted BidOutcome = "submitted"
	BidFailed    BidOutcome = "failed"
)

// BidRecord is the audit entry of one submission attempt. Amount is in
// the project's currency; BudgetUSD is the recommendation it came from.
type BidRecord struct {
	ID               string
	SessionID        SessionID
	RunID            RunID
	ProjectID        ProjectID
	ProjectTitle     string
	ProjectLink      string
	Text             string
	Amount           float64
	Period           int
	Currency         string
	ExchangeRate     float64
	BudgetUSD        float64
	Outcome          BidOutcome
	Error            string
	MarketplaceBidID int64
	CreatedAt        time.Time
}

// AmountUSD converts the submitted amount back with the rate it was
// computed from. Zero when no rate was available.
func (b BidRecord) AmountUSD() float64 {
	if b.ExchangeRate <= 0 {
		return 0
	}
	return math.Round(b.Amount*b.ExchangeRate*100) / 100
}
