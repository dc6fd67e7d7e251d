package domain

import (
	"fmt"
	"strings"
	"time"
)

type ProjectID int64

type UserID int64

const projectBaseURL = "https://www.freelancer.com/projects"

// Project is a marketplace search result as the gateway reports it.
type Project struct {
	ID           ProjectID
	OwnerID      UserID
	Title        string
	Description  string
	Status       string
	Type         ContractType
	Currency     string
	ExchangeRate float64
	MinBudget    float64
	MaxBudget    float64
	NDA          bool
	OwnerCountry string
	SubmittedAt  time.Time
	SEOURL       string
}

// Candidate is a project that survived screening, reduced to what the
// scoring and bidding stages need.
type Candidate struct {
	ID           ProjectID
	OwnerID      UserID
	Title        string
	Description  string
	Type         ContractType
	Currency     string
	ExchangeRate float64
	MinBudget    float64
	MaxBudget    float64
	SubmittedAt  time.Time
	SEOURL       string
}

func (p Project) Candidate() Candidate {
	return Candidate{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		Title:        strings.TrimSpace(p.Title),
		Description:  strings.TrimSpace(p.Description),
		Type:         p.Type,
		Currency:     strings.ToUpper(strings.TrimSpace(p.Currency)),
		ExchangeRate: p.ExchangeRate,
		MinBudget:    p.MinBudget,
		MaxBudget:    p.MaxBudget,
		SubmittedAt:  p.SubmittedAt,
		SEOURL:       p.SEOURL,
	}
}

// MinBudgetUSD and MaxBudgetUSD convert the client range with the
// project's exchange rate. A missing rate leaves the amounts unconverted.
func (c Candidate) MinBudgetUSD() float64 {
	return toUSD(c.MinBudget, c.ExchangeRate)
}

func (c Candidate) MaxBudgetUSD() float64 {
	return toUSD(c.MaxBudget, c.ExchangeRate)
}

func (c Candidate) Link() string {
	if c.SEOURL != "" {
		return fmt.Sprintf("%s/%s/details", projectBaseURL, c.SEOURL)
	}
	return fmt.Sprintf("%s/%d", projectBaseURL, c.ID)
}

func toUSD(amount, rate float64) float64 {
	if rate <= 0 {
		return amount
	}
	return amount * rate
}

type ExistingBid struct {
	ID        int64
	BidderID  UserID
	ProjectID ProjectID
}
