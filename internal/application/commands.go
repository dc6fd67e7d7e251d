package application

import (
	"github.com/bnema/bidbot/internal/domain"
)

type CreateSessionCommand struct {
	Name             string
	MarketplaceToken string
	LLMAPIKey        string
	Bidding          domain.BiddingConfig
	Preferences      domain.BidPreferences
	AutoStart        bool
}

// UpdateSessionCommand changes only the fields that are set. New credential
// values replace the stored secrets in place.
type UpdateSessionCommand struct {
	Name             *string
	MarketplaceToken *string
	LLMAPIKey        *string
	Bidding          *domain.BiddingConfig
	Preferences      *domain.BidPreferences
	AutoStart        *bool
}

func (c UpdateSessionCommand) apply(session *domain.Session) {
	if c.Name != nil {
		session.Name = *c.Name
	}
	if c.Bidding != nil {
		session.Bidding = *c.Bidding
	}
	if c.Preferences != nil {
		session.Preferences = *c.Preferences
	}
	if c.AutoStart != nil {
		session.AutoStart = *c.AutoStart
	}
}
