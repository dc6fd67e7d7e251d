package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 5 * time.Second
)

// RetryPolicy bounds retries of one gateway or scoring call. Only errors
// wrapping domain.ErrTransient are retried. BaseBackoff == MaxBackoff gives
// a fixed backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultRetryAttempts,
		BaseBackoff: defaultRetryBackoff,
		MaxBackoff:  defaultRetryBackoff,
	}
}

func normalizeRetryPolicy(in RetryPolicy) RetryPolicy {
	out := in
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	if out.BaseBackoff < 0 {
		out.BaseBackoff = 0
	}
	if out.MaxBackoff < out.BaseBackoff {
		out.MaxBackoff = out.BaseBackoff
	}
	return out
}

func (p RetryPolicy) backoffForAttempt(retryNumber int) time.Duration {
	if retryNumber < 1 {
		retryNumber = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < retryNumber; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type retrier struct {
	policy RetryPolicy
	sleep  sleepFunc
	logger *slog.Logger
}

func (r retrier) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsTransient(lastErr) || attempt == r.policy.MaxAttempts {
			break
		}

		backoff := r.policy.backoffForAttempt(attempt)
		r.logger.Warn("retrying call", "op", op, "attempt", attempt, "max_attempts", r.policy.MaxAttempts, "backoff", backoff, "error", lastErr)
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	return lastErr
}

type retryingMarketplace struct {
	next ports.Marketplace
	retrier
}

var _ ports.Marketplace = (*retryingMarketplace)(nil)

func (m *retryingMarketplace) Search(ctx context.Context, filter ports.SearchFilter) ([]domain.Project, error) {
	var projects []domain.Project
	err := m.do(ctx, "search", func(ctx context.Context) error {
		var err error
		projects, err = m.next.Search(ctx, filter)
		return err
	})
	return projects, err
}

func (m *retryingMarketplace) ExistingBids(ctx context.Context, projectID domain.ProjectID) ([]domain.ExistingBid, error) {
	var bids []domain.ExistingBid
	err := m.do(ctx, "existing_bids", func(ctx context.Context) error {
		var err error
		bids, err = m.next.ExistingBids(ctx, projectID)
		return err
	})
	return bids, err
}

// SubmitBid checks the project's bids before every retry so a submission
// whose response was lost is not placed twice.
func (m *retryingMarketplace) SubmitBid(ctx context.Context, bid ports.BidSubmission) (ports.BidAck, error) {
	var ack ports.BidAck
	attempt := 0
	err := m.do(ctx, "submit_bid", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			existing, err := m.next.ExistingBids(ctx, bid.ProjectID)
			if err != nil {
				return err
			}
			for _, b := range existing {
				if b.BidderID == bid.BidderID {
					ack = ports.BidAck{BidID: b.ID}
					return nil
				}
			}
		}

		var err error
		ack, err = m.next.SubmitBid(ctx, bid)
		return err
	})
	return ack, err
}

func (m *retryingMarketplace) SelfIdentity(ctx context.Context) (domain.UserID, error) {
	var id domain.UserID
	err := m.do(ctx, "self_identity", func(ctx context.Context) error {
		var err error
		id, err = m.next.SelfIdentity(ctx)
		return err
	})
	return id, err
}

func (m *retryingMarketplace) SealBid(ctx context.Context, bidID int64) error {
	return m.do(ctx, "seal_bid", func(ctx context.Context) error {
		return m.next.SealBid(ctx, bidID)
	})
}

type retryingScorer struct {
	next ports.Scorer
	retrier
}

var _ ports.Scorer = (*retryingScorer)(nil)

func (s *retryingScorer) Match(ctx context.Context, req ports.ScoreRequest) (domain.MatchVerdict, error) {
	var verdict domain.MatchVerdict
	err := s.do(ctx, "match", func(ctx context.Context) error {
		var err error
		verdict, err = s.next.Match(ctx, req)
		return err
	})
	return verdict, err
}

func (s *retryingScorer) Recommend(ctx context.Context, req ports.ScoreRequest) (string, error) {
	return s.text(ctx, "recommend", req, s.next.Recommend)
}

func (s *retryingScorer) Draft(ctx context.Context, req ports.ScoreRequest) (string, error) {
	return s.text(ctx, "draft", req, s.next.Draft)
}

func (s *retryingScorer) text(ctx context.Context, op string, req ports.ScoreRequest, call func(context.Context, ports.ScoreRequest) (string, error)) (string, error) {
	var out string
	err := s.do(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = call(ctx, req)
		return err
	})
	return out, err
}
