package application

import (
	"context"
	"slices"
	"strings"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

type FilterReason string

const (
	ReasonMissingFields   FilterReason = "missing_fields"
	ReasonContractType    FilterReason = "contract_type"
	ReasonBlockedCurrency FilterReason = "blocked_currency"
	ReasonInactive        FilterReason = "inactive"
	ReasonNDA             FilterReason = "nda"
	ReasonBudgetTooLow    FilterReason = "budget_too_low"
	ReasonBlockedCountry  FilterReason = "blocked_country"
	ReasonAlreadyBid      FilterReason = "already_bid"
	ReasonBidCheckFailed  FilterReason = "bid_check_failed"
)

const projectStatusActive = "active"

type Rejection struct {
	ProjectID domain.ProjectID
	Reason    FilterReason
	Err       error
}

type ScreenResult struct {
	Candidates []domain.Candidate
	Rejections []Rejection
}

// ScreenProjects applies the static rules in a fixed order. It performs no
// I/O, so screening the same input twice yields the same result.
func ScreenProjects(cfg domain.BiddingConfig, projects []domain.Project) ScreenResult {
	var result ScreenResult
	for _, p := range projects {
		if reason, rejected := screen(cfg, p); rejected {
			result.Rejections = append(result.Rejections, Rejection{ProjectID: p.ID, Reason: reason})
			continue
		}
		result.Candidates = append(result.Candidates, p.Candidate())
	}
	return result
}

func screen(cfg domain.BiddingConfig, p domain.Project) (FilterReason, bool) {
	switch {
	case p.ID <= 0 || p.OwnerID <= 0 || strings.TrimSpace(p.Title) == "":
		return ReasonMissingFields, true
	case !strings.EqualFold(string(p.Type), string(cfg.ContractType)):
		return ReasonContractType, true
	case containsFold(cfg.BlockedCurrencies, p.Currency):
		return ReasonBlockedCurrency, true
	case !strings.EqualFold(p.Status, projectStatusActive):
		return ReasonInactive, true
	case p.NDA:
		return ReasonNDA, true
	case p.Type == domain.ContractFixed && p.MaxBudget > 0 && p.MaxBudget <= cfg.MinFixedBudget:
		return ReasonBudgetTooLow, true
	case p.OwnerCountry != "" && containsFold(cfg.BlockedCountries, p.OwnerCountry):
		return ReasonBlockedCountry, true
	}
	return "", false
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	return slices.ContainsFunc(values, func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), target)
	})
}

// Filter is the full screening stage: the static rules followed by an
// existing-bid check against the marketplace.
type Filter struct {
	cfg    domain.BiddingConfig
	market ports.Marketplace
}

func NewFilter(cfg domain.BiddingConfig, market ports.Marketplace) Filter {
	return Filter{cfg: cfg, market: market}
}

// Apply never fails as a whole. A project whose bids cannot be listed is
// rejected with ReasonBidCheckFailed and the error attached.
func (f Filter) Apply(ctx context.Context, bidder domain.UserID, projects []domain.Project) ScreenResult {
	static := ScreenProjects(f.cfg, projects)
	result := ScreenResult{Rejections: static.Rejections}

	for _, c := range static.Candidates {
		if ctx.Err() != nil {
			result.Rejections = append(result.Rejections, Rejection{ProjectID: c.ID, Reason: ReasonBidCheckFailed, Err: ctx.Err()})
			continue
		}

		bids, err := f.market.ExistingBids(ctx, c.ID)
		if err != nil {
			result.Rejections = append(result.Rejections, Rejection{ProjectID: c.ID, Reason: ReasonBidCheckFailed, Err: err})
			continue
		}
		if hasBidFrom(bids, bidder) {
			result.Rejections = append(result.Rejections, Rejection{ProjectID: c.ID, Reason: ReasonAlreadyBid})
			continue
		}
		result.Candidates = append(result.Candidates, c)
	}

	return result
}

func hasBidFrom(bids []domain.ExistingBid, bidder domain.UserID) bool {
	for _, b := range bids {
		if b.BidderID == bidder {
			return true
		}
	}
	return false
}
