package ports

import (
	"context"

	"github.com/bnema/bidbot/internal/domain"
)

type SearchFilter struct {
	Query         string
	Limit         int
	Offset        int
	SkillIDs      []int
	LanguageCodes []string
}

type BidSubmission struct {
	ProjectID   domain.ProjectID
	BidderID    domain.UserID
	Amount      float64
	Period      int
	Description string
}

type BidAck struct {
	BidID int64
}

// Marketplace is the freelance marketplace gateway. Implementations wrap
// retryable failures with domain.ErrTransient.
type Marketplace interface {
	Search(ctx context.Context, filter SearchFilter) ([]domain.Project, error)
	ExistingBids(ctx context.Context, projectID domain.ProjectID) ([]domain.ExistingBid, error)
	SubmitBid(ctx context.Context, bid BidSubmission) (BidAck, error)
	SelfIdentity(ctx context.Context) (domain.UserID, error)
	SealBid(ctx context.Context, bidID int64) error
}

type ScoreRequest struct {
	Title        string
	Description  string
	MinBudgetUSD float64
	MaxBudgetUSD float64
}

// Scorer is the scoring and drafting service. Recommend returns the raw
// model answer; parsing it is the caller's job.
type Scorer interface {
	Match(ctx context.Context, req ScoreRequest) (domain.MatchVerdict, error)
	Recommend(ctx context.Context, req ScoreRequest) (string, error)
	Draft(ctx context.Context, req ScoreRequest) (string, error)
}

// MarketplaceFactory and ScorerFactory build per-session clients from the
// resolved credential values.
type MarketplaceFactory func(session domain.Session, token string) (Marketplace, error)

type ScorerFactory func(session domain.Session, apiKey string) (Scorer, error)
