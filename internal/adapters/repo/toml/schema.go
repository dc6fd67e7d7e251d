package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Sessions []sessionSchema `toml:"sessions"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported sessions schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type sessionSchema struct {
	ID          string            `toml:"id"`
	Name        string            `toml:"name"`
	AutoStart   bool              `toml:"autostart"`
	CreatedAt   string            `toml:"created_at"`
	UpdatedAt   string            `toml:"updated_at"`
	Credentials credentialsSchema `toml:"credentials"`
	Bidding     biddingSchema     `toml:"bidding"`
	Preferences preferencesSchema `toml:"preferences,omitempty"`
}

type credentialsSchema struct {
	MarketplaceTokenRef string `toml:"marketplace_token_ref"`
	LLMAPIKeyRef        string `toml:"llm_api_key_ref"`
}

type biddingSchema struct {
	BidLimit          int      `toml:"bid_limit"`
	SearchLimit       int      `toml:"search_limit"`
	SearchInterval    string   `toml:"search_interval"`
	MinWaitTime       string   `toml:"min_wait_time"`
	ContractType      string   `toml:"contract_type"`
	SkillIDs          []int    `toml:"skill_ids,omitempty"`
	LanguageCodes     []string `toml:"language_codes,omitempty"`
	BlockedCurrencies []string `toml:"blocked_currencies,omitempty"`
	BlockedCountries  []string `toml:"blocked_countries,omitempty"`
	MinFixedBudget    float64  `toml:"min_fixed_budget"`
	SealBids          bool     `toml:"seal_bids"`
}

type preferencesSchema struct {
	ServiceOfferings string `toml:"service_offerings,omitempty"`
	WritingStyle     string `toml:"writing_style,omitempty"`
	PortfolioLinks   string `toml:"portfolio_links,omitempty"`
	Signature        string `toml:"signature,omitempty"`
}
