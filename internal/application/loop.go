package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const tracerName = "github.com/bnema/bidbot/internal/application"

const (
	defaultScoringConcurrency     = 3
	defaultMaxConsecutiveFailures = 5
	defaultSubmitTimeout          = 20 * time.Second
)

var errBidLimitReached = errors.New("bid limit reached")

type LoopPolicy struct {
	Retry                  RetryPolicy
	ScoringConcurrency     int
	MaxConsecutiveFailures int
	MinBidAmountUSD        float64
	FallbackAmount         float64
	// SubmitTimeout bounds one submission, retries included. A stop does
	// not interrupt a submission in flight.
	SubmitTimeout          time.Duration
}

func DefaultLoopPolicy() LoopPolicy {
	return LoopPolicy{
		Retry:                  DefaultRetryPolicy(),
		ScoringConcurrency:     defaultScoringConcurrency,
		MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
		MinBidAmountUSD:        defaultMinBidAmountUSD,
		FallbackAmount:         defaultFallbackAmount,
		SubmitTimeout:          defaultSubmitTimeout,
	}
}

func (p LoopPolicy) normalize() LoopPolicy {
	defaults := DefaultLoopPolicy()
	if p.Retry == (RetryPolicy{}) {
		p.Retry = defaults.Retry
	}
	p.Retry = normalizeRetryPolicy(p.Retry)
	if p.ScoringConcurrency < 1 {
		p.ScoringConcurrency = defaults.ScoringConcurrency
	}
	if p.MaxConsecutiveFailures < 1 {
		p.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if p.MinBidAmountUSD <= 0 {
		p.MinBidAmountUSD = defaults.MinBidAmountUSD
	}
	if p.FallbackAmount <= 0 {
		p.FallbackAmount = defaults.FallbackAmount
	}
	if p.SubmitTimeout <= 0 {
		p.SubmitTimeout = defaults.SubmitTimeout
	}
	return p
}

func (p LoopPolicy) compose() ComposePolicy {
	return ComposePolicy{MinBidAmountUSD: p.MinBidAmountUSD, FallbackAmount: p.FallbackAmount}
}

// loop drives one session: poll, screen, score, compose, submit, wait.
// All stages run on the loop goroutine except Match calls, which fan out
// up to ScoringConcurrency.
type loop struct {
	session  domain.Session
	handle   *runHandle
	market   ports.Marketplace
	scorer   ports.Scorer
	filter   Filter
	runs     ports.RunRepository
	bids     ports.BidRepository
	activity ports.ActivityLog
	seen     ports.SeenProjects
	clock    ports.Clock
	sleep    sleepFunc
	policy   LoopPolicy
	logger   *slog.Logger
	tracer   trace.Tracer

	processed map[domain.ProjectID]struct{}
	bidder    domain.UserID
	failures  int
}

func (r *Registry) newLoop(session domain.Session, handle *runHandle, market ports.Marketplace, scorer ports.Scorer) *loop {
	record, _ := handle.snapshot()
	logger := r.logger.With("session_id", session.ID, "run_id", record.ID)
	retry := retrier{policy: r.policy.Retry, sleep: r.sleep, logger: logger}
	market = &retryingMarketplace{next: market, retrier: retry}

	return &loop{
		session:   session,
		handle:    handle,
		market:    market,
		scorer:    &retryingScorer{next: scorer, retrier: retry},
		filter:    NewFilter(session.Bidding, market),
		runs:      r.runs,
		bids:      r.bids,
		activity:  r.activity,
		seen:      r.seen,
		clock:     r.clock,
		sleep:     r.sleep,
		policy:    r.policy,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		processed: map[domain.ProjectID]struct{}{},
	}
}

func (l *loop) run(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			l.finish(ctx, domain.RunStatusCrashed, domain.StopFatal, fmt.Errorf("%w: panic: %v", domain.ErrFatalLoop, p))
		}
	}()

	l.note(ctx, domain.LevelInfo, 0, fmt.Sprintf("Bot started with bid limit: %d", l.session.Bidding.BidLimit), nil)

	for {
		if ctx.Err() != nil {
			l.finish(ctx, domain.RunStatusStopped, stopReason(ctx), nil)
			return
		}

		err := l.iterate(ctx)
		switch {
		case errors.Is(err, errBidLimitReached):
			l.note(ctx, domain.LevelInfo, 0, "Bid limit reached. Stopping execution.", nil)
			l.finish(ctx, domain.RunStatusStopped, domain.StopBidLimitReached, nil)
			return
		case errors.Is(err, domain.ErrFatalLoop):
			l.finish(ctx, domain.RunStatusCrashed, domain.StopFatal, err)
			return
		case ctx.Err() != nil:
			l.finish(ctx, domain.RunStatusStopped, stopReason(ctx), nil)
			return
		case err != nil:
			l.failures++
			if l.failures >= l.policy.MaxConsecutiveFailures {
				l.finish(ctx, domain.RunStatusCrashed, domain.StopConsecutiveFailures,
					fmt.Errorf("%w: %d consecutive failed iterations: %w", domain.ErrFatalLoop, l.failures, err))
				return
			}
		default:
			l.failures = 0
		}

		l.setState(ctx, domain.LoopWaiting)
		if err := l.sleep(ctx, l.session.Bidding.PollWait()); err != nil {
			l.finish(ctx, domain.RunStatusStopped, stopReason(ctx), nil)
			return
		}
	}
}

func stopReason(ctx context.Context) domain.StopReason {
	if errors.Is(context.Cause(ctx), errShutdown) {
		return domain.StopShutdown
	}
	return domain.StopRequested
}

// iterate runs one poll. A returned error other than errBidLimitReached or
// ErrFatalLoop marks the iteration as failed.
func (l *loop) iterate(ctx context.Context) (err error) {
	ctx, span := l.tracer.Start(ctx, "bidbot.iteration", trace.WithAttributes(
		attribute.String("bidbot.session_id", string(l.session.ID)),
	))
	defer func() {
		if err != nil && !errors.Is(err, errBidLimitReached) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	l.setState(ctx, domain.LoopPolling)
	projects, err := l.search(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.fail(ctx, 0, "Error searching projects", err)
		return fmt.Errorf("search projects: %w", err)
	}
	span.SetAttributes(attribute.Int("bidbot.projects_found", len(projects)))
	l.count(ctx, func(n *domain.RunCounters) { n.ProjectsFound += len(projects) })
	if len(projects) == 0 {
		l.note(ctx, domain.LevelWarning, 0, "No projects found", nil)
		return nil
	}
	l.note(ctx, domain.LevelInfo, 0, fmt.Sprintf("Fetched %d projects", len(projects)), nil)

	l.setState(ctx, domain.LoopProcessing)
	fresh := l.dedup(ctx, projects)
	l.note(ctx, domain.LevelInfo, 0, fmt.Sprintf("%d new projects after filtering processed ones", len(fresh)), nil)
	if len(fresh) == 0 {
		return nil
	}

	bidder, err := l.identity(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.fail(ctx, 0, "Error resolving bidder identity", err)
		return fmt.Errorf("resolve bidder identity: %w", err)
	}

	screened := l.filter.Apply(ctx, bidder, fresh)
	for _, rejection := range screened.Rejections {
		switch {
		case rejection.Err == nil:
			l.markSeen(ctx, rejection.ProjectID)
		case ctx.Err() == nil:
			l.fail(ctx, rejection.ProjectID, fmt.Sprintf("Existing bid check failed for project %d", rejection.ProjectID), rejection.Err)
		}
	}
	l.count(ctx, func(n *domain.RunCounters) { n.ProjectsFiltered += len(screened.Candidates) })
	l.note(ctx, domain.LevelInfo, 0, fmt.Sprintf("Filtered down to %d projects", len(screened.Candidates)), nil)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	matched, err := l.score(ctx, screened.Candidates)
	l.persist(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.note(ctx, domain.LevelInfo, 0, fmt.Sprintf("AI refined down to %d projects", len(matched)), nil)
	if len(matched) == 0 {
		return nil
	}

	l.setState(ctx, domain.LoopBidding)
	for _, c := range matched {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.bid(ctx, bidder, c); err != nil {
			return err
		}
	}

	return nil
}

func (l *loop) search(ctx context.Context) ([]domain.Project, error) {
	ctx, span := l.tracer.Start(ctx, "bidbot.search")
	defer span.End()

	cfg := l.session.Bidding
	projects, err := l.market.Search(ctx, ports.SearchFilter{
		Limit:         cfg.SearchLimit,
		SkillIDs:      cfg.SkillIDs,
		LanguageCodes: cfg.LanguageCodes,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return projects, nil
}

// dedup drops projects evaluated earlier in this run or, when a history
// store is configured, settled by an earlier run.
func (l *loop) dedup(ctx context.Context, projects []domain.Project) []domain.Project {
	fresh := make([]domain.Project, 0, len(projects))
	for _, p := range projects {
		if _, ok := l.processed[p.ID]; ok {
			continue
		}
		l.processed[p.ID] = struct{}{}

		if l.seen != nil {
			seen, err := l.seen.Seen(ctx, l.session.ID, p.ID)
			if err != nil {
				l.logger.Warn("read processed-id history", "project_id", p.ID, "error", err)
			} else if seen {
				continue
			}
		}

		fresh = append(fresh, p)
	}
	return fresh
}

// markSeen records a project with a final verdict: rejected, not matched
// or bid on. Projects that failed on a gateway or scoring error stay
// eligible for later runs.
func (l *loop) markSeen(ctx context.Context, id domain.ProjectID) {
	if l.seen == nil {
		return
	}
	if err := l.seen.MarkSeen(context.WithoutCancel(ctx), l.session.ID, id); err != nil {
		l.logger.Warn("write processed-id history", "project_id", id, "error", err)
	}
}

func (l *loop) identity(ctx context.Context) (domain.UserID, error) {
	if l.bidder != 0 {
		return l.bidder, nil
	}
	bidder, err := l.market.SelfIdentity(ctx)
	if err != nil {
		return 0, err
	}
	l.bidder = bidder
	return bidder, nil
}

// score asks for a match verdict on every candidate and keeps the matches
// in their original order. Failures are counted per project; only a panic
// in a scoring call is returned.
func (l *loop) score(ctx context.Context, candidates []domain.Candidate) ([]domain.Candidate, error) {
	ctx, span := l.tracer.Start(ctx, "bidbot.score", trace.WithAttributes(
		attribute.Int("bidbot.candidates", len(candidates)),
	))
	defer span.End()

	verdicts := make([]domain.MatchVerdict, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(l.policy.ScoringConcurrency)
	for i, c := range candidates {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("%w: panic scoring project %d: %v", domain.ErrFatalLoop, c.ID, p)
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			verdict, err := l.scorer.Match(ctx, scoreRequest(c))
			if err != nil {
				if ctx.Err() == nil {
					l.fail(ctx, c.ID, fmt.Sprintf("AI evaluation failed for project %d", c.ID), err)
				}
				return nil
			}
			verdicts[i] = verdict
			if verdict == domain.Match {
				l.note(ctx, domain.LevelInfo, c.ID, fmt.Sprintf("Project %d matched our services", c.ID), nil)
			} else {
				l.markSeen(ctx, c.ID)
				l.note(ctx, domain.LevelInfo, c.ID, fmt.Sprintf("Project %d did not match our services", c.ID), nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	matched := make([]domain.Candidate, 0, len(candidates))
	for i, c := range candidates {
		if verdicts[i] == domain.Match {
			matched = append(matched, c)
		}
	}
	span.SetAttributes(attribute.Int("bidbot.matched", len(matched)))
	return matched, nil
}

func scoreRequest(c domain.Candidate) ports.ScoreRequest {
	return ports.ScoreRequest{
		Title:        c.Title,
		Description:  c.Description,
		MinBudgetUSD: c.MinBudgetUSD(),
		MaxBudgetUSD: c.MaxBudgetUSD(),
	}
}

// bid composes and submits one bid. Only a context error or the bid limit
// is returned; everything else is counted against the project.
func (l *loop) bid(ctx context.Context, bidder domain.UserID, c domain.Candidate) error {
	req := scoreRequest(c)

	answer, err := l.scorer.Recommend(ctx, req)
	if err != nil {
		return l.projectFailure(ctx, c.ID, "Budget analysis failed", err)
	}
	rec, err := ParseRecommendation(answer)
	if err != nil {
		return l.projectFailure(ctx, c.ID, "Unparsable budget recommendation", err)
	}
	draft, err := l.scorer.Draft(ctx, req)
	if err != nil {
		return l.projectFailure(ctx, c.ID, "Bid drafting failed", err)
	}
	record, err := ComposeBid(c, rec, draft, l.policy.compose())
	if err != nil {
		return l.projectFailure(ctx, c.ID, "Bid composition failed", err)
	}

	if err := l.pace(ctx, c.SubmittedAt); err != nil {
		return err
	}

	current, _ := l.handle.snapshot()
	if current.Counters.BidsPlaced >= l.session.Bidding.BidLimit {
		return errBidLimitReached
	}

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.policy.SubmitTimeout)
	defer cancel()
	submitCtx, span := l.tracer.Start(submitCtx, "bidbot.submit", trace.WithAttributes(
		attribute.Int64("bidbot.project_id", int64(c.ID)),
		attribute.Float64("bidbot.amount", record.Amount),
	))
	ack, err := l.market.SubmitBid(submitCtx, ports.BidSubmission{
		ProjectID:   c.ID,
		BidderID:    bidder,
		Amount:      record.Amount,
		Period:      record.Period,
		Description: record.Text,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	l.markSeen(ctx, c.ID)

	record.SessionID = l.session.ID
	record.RunID = current.ID
	record.CreatedAt = l.clock.Now()

	if err != nil {
		record.Outcome = domain.BidFailed
		record.Error = err.Error()
		l.appendBid(ctx, record)
		l.count(ctx, func(n *domain.RunCounters) { n.BidsFailed++ })
		l.fail(ctx, c.ID, fmt.Sprintf("Failed to place bid on project %d", c.ID), err)
		return ctx.Err()
	}

	record.Outcome = domain.BidSubmitted
	record.MarketplaceBidID = ack.BidID
	l.appendBid(ctx, record)
	placed := l.count(ctx, func(n *domain.RunCounters) { n.BidsPlaced++ }).BidsPlaced
	l.note(ctx, domain.LevelInfo, c.ID, fmt.Sprintf("Successfully placed bid on project %d", c.ID), map[string]any{
		"bid_amount": record.Amount,
		"bid_period": record.Period,
		"currency":   record.Currency,
	})

	if l.session.Bidding.SealBids && ack.BidID != 0 {
		if err := l.market.SealBid(ctx, ack.BidID); err != nil && ctx.Err() == nil {
			l.note(ctx, domain.LevelWarning, c.ID, fmt.Sprintf("Could not seal bid %d: %v", ack.BidID, err), nil)
		}
	}

	if placed >= l.session.Bidding.BidLimit {
		return errBidLimitReached
	}
	return ctx.Err()
}

// pace waits until the project is at least MinWaitTime old.
func (l *loop) pace(ctx context.Context, submittedAt time.Time) error {
	minWait := l.session.Bidding.MinWaitTime
	if submittedAt.IsZero() || minWait <= 0 {
		return ctx.Err()
	}

	elapsed := l.clock.Now().Sub(submittedAt)
	if elapsed >= minWait {
		return ctx.Err()
	}
	wait := min(minWait-elapsed, minWait).Round(time.Second)
	l.logger.Debug("pacing bid", "wait", wait)
	return l.sleep(ctx, wait)
}

func (l *loop) projectFailure(ctx context.Context, projectID domain.ProjectID, message string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.fail(ctx, projectID, message, err)
	return nil
}

func (l *loop) appendBid(ctx context.Context, record domain.BidRecord) {
	if err := l.bids.Append(context.WithoutCancel(ctx), record); err != nil {
		l.logger.Error("append bid record", "project_id", record.ProjectID, "error", err)
	}
}

// fail counts one error, remembers it on the record and logs it.
func (l *loop) fail(ctx context.Context, projectID domain.ProjectID, message string, err error) {
	l.handle.update(func(r *domain.RunRecord) {
		r.Counters.Errors++
		r.LastError = err.Error()
	})
	l.note(ctx, domain.LevelError, projectID, fmt.Sprintf("%s: %v", message, err), nil)
}

func (l *loop) count(ctx context.Context, fn func(*domain.RunCounters)) domain.RunCounters {
	record := l.handle.update(func(r *domain.RunRecord) { fn(&r.Counters) })
	l.persistRecord(ctx, record)
	return record.Counters
}

func (l *loop) setState(ctx context.Context, state domain.LoopState) {
	record := l.handle.update(func(r *domain.RunRecord) { r.State = state })
	l.persistRecord(ctx, record)
}

func (l *loop) persist(ctx context.Context) {
	record, _ := l.handle.snapshot()
	l.persistRecord(ctx, record)
}

func (l *loop) persistRecord(ctx context.Context, record domain.RunRecord) {
	if err := l.runs.Update(context.WithoutCancel(ctx), record); err != nil {
		l.logger.Warn("persist run record", "error", err)
	}
}

func (l *loop) finish(ctx context.Context, status domain.RunStatus, reason domain.StopReason, err error) {
	record := l.handle.update(func(r *domain.RunRecord) {
		r.Close(status, reason, l.clock.Now())
		if err != nil {
			r.LastError = err.Error()
		}
	})
	l.persistRecord(ctx, record)

	level := domain.LevelInfo
	if status == domain.RunStatusCrashed {
		level = domain.LevelError
	}
	l.note(ctx, level, 0, fmt.Sprintf("Bot stopped (%s). Total bids placed: %d", reason, record.Counters.BidsPlaced), nil)
	l.logger.Info("loop finished", "status", status, "reason", reason, "bids_placed", record.Counters.BidsPlaced, "errors", record.Counters.Errors)
}

// note writes a user-visible activity entry and mirrors it to the logger.
func (l *loop) note(ctx context.Context, level domain.ActivityLevel, projectID domain.ProjectID, message string, data map[string]any) {
	record, _ := l.handle.snapshot()
	entry := domain.ActivityEntry{
		SessionID: l.session.ID,
		RunID:     record.ID,
		Level:     level,
		Message:   message,
		ProjectID: projectID,
		Data:      data,
		At:        l.clock.Now(),
	}
	if err := l.activity.Append(context.WithoutCancel(ctx), entry); err != nil {
		l.logger.Warn("append activity entry", "error", err)
	}

	attrs := []any{"state", record.State}
	if projectID != 0 {
		attrs = append(attrs, "project_id", projectID)
	}
	switch level {
	case domain.LevelError:
		l.logger.Error(message, attrs...)
	case domain.LevelWarning:
		l.logger.Warn(message, attrs...)
	default:
		l.logger.Info(message, attrs...)
	}
}
