package domain

import (
	"strings"
	"time"
)

type SessionID string

type ContractType string

const (
	ContractFixed  ContractType = "fixed"
	ContractHourly ContractType = "hourly"
)

func (t ContractType) Valid() bool {
	switch t {
	case ContractFixed, ContractHourly:
		return true
	default:
		return false
	}
}

// Credentials holds secret-store references, never the secret values.
type Credentials struct {
	MarketplaceTokenRef string
	LLMAPIKeyRef        string
}

type BiddingConfig struct {
	BidLimit       int
	SearchLimit    int
	SearchInterval time.Duration
	// MinWaitTime bounds the inter-poll sleep from below and is also the
	// minimum age a project must reach before a bid is submitted.
	MinWaitTime       time.Duration
	ContractType      ContractType
	SkillIDs          []int
	LanguageCodes     []string
	BlockedCurrencies []string
	BlockedCountries  []string
	MinFixedBudget    float64
	SealBids          bool
}

type BidPreferences struct {
	ServiceOfferings string
	WritingStyle     string
	PortfolioLinks   string
	Signature        string
}

type Session struct {
	ID          SessionID
	Name        string
	Credentials Credentials
	Bidding     BiddingConfig
	Preferences BidPreferences
	AutoStart   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func DefaultBiddingConfig() BiddingConfig {
	return BiddingConfig{
		BidLimit:          75,
		SearchLimit:       10,
		SearchInterval:    5 * time.Second,
		MinWaitTime:       32 * time.Second,
		ContractType:      ContractFixed,
		LanguageCodes:     []string{"en"},
		BlockedCurrencies: []string{"INR", "PKR", "BDT"},
		BlockedCountries: []string{
			"india", "bangladesh", "pakistan", "jamaica", "sri lanka", "nepal",
			"south africa", "kenya", "uganda", "egypt", "indonesia", "philippines",
		},
		MinFixedBudget: 30,
	}
}

// PollWait is the sleep between two polls.
func (c BiddingConfig) PollWait() time.Duration {
	if c.SearchInterval < c.MinWaitTime {
		return c.MinWaitTime
	}
	return c.SearchInterval
}

func (c BiddingConfig) Validate() error {
	if c.BidLimit < 1 {
		return NewValidationError("bid_limit", "must be at least 1")
	}
	if c.SearchLimit < 1 {
		return NewValidationError("search_limit", "must be at least 1")
	}
	if c.SearchInterval < 0 {
		return NewValidationError("search_interval", "must not be negative")
	}
	if c.MinWaitTime < 0 {
		return NewValidationError("min_wait_time", "must not be negative")
	}
	if !c.ContractType.Valid() {
		return NewValidationError("contract_type", "must be fixed or hourly")
	}
	if c.MinFixedBudget < 0 {
		return NewValidationError("min_fixed_budget", "must not be negative")
	}

	return nil
}

func (s Session) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return NewValidationError("id", "is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if strings.TrimSpace(s.Credentials.MarketplaceTokenRef) == "" {
		return NewValidationError("marketplace_token", "is required")
	}
	if strings.TrimSpace(s.Credentials.LLMAPIKeyRef) == "" {
		return NewValidationError("llm_api_key", "is required")
	}

	return s.Bidding.Validate()
}

// Normalize upper-cases currency codes, lower-cases countries and drops
// duplicate or blank filter entries.
func (c *BiddingConfig) Normalize() {
	if c == nil {
		return
	}

	c.BlockedCurrencies = normalizeList(c.BlockedCurrencies, strings.ToUpper)
	c.BlockedCountries = normalizeList(c.BlockedCountries, strings.ToLower)
	c.LanguageCodes = normalizeList(c.LanguageCodes, strings.ToLower)
	c.ContractType = ContractType(strings.ToLower(strings.TrimSpace(string(c.ContractType))))

	skills := make([]int, 0, len(c.SkillIDs))
	seen := make(map[int]struct{}, len(c.SkillIDs))
	for _, id := range c.SkillIDs {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		skills = append(skills, id)
	}
	c.SkillIDs = skills
}

func normalizeList(values []string, fold func(string) string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := fold(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
