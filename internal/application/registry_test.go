package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
	"github.com/bnema/bidbot/internal/ports/mocks"
)

type harness struct {
	registry *Registry
	sessions *memSessions
	runs     *memRuns
	bids     *memBids
	activity *memActivity
	secrets  *memSecrets
	market   *fakeMarketplace
	scorer   *fakeScorer
	waiting  chan domain.SessionID
}

func newHarness(t *testing.T, market *fakeMarketplace) *harness {
	t.Helper()

	h := &harness{
		sessions: newMemSessions(),
		runs:     newMemRuns(),
		bids:     &memBids{},
		activity: &memActivity{},
		secrets:  newMemSecrets(),
		market:   market,
		scorer:   newFakeScorer(),
		waiting:  make(chan domain.SessionID, 16),
	}
	h.registry = NewRegistry(RegistryDeps{
		Sessions: h.sessions,
		Runs:     h.runs,
		Bids:     h.bids,
		Activity: h.activity,
		Secrets:  h.secrets,
		Marketplaces: func(domain.Session, string) (ports.Marketplace, error) {
			return h.market, nil
		},
		Scorers: func(domain.Session, string) (ports.Scorer, error) {
			return h.scorer, nil
		},
		Clock:  newStepClock(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Policy: LoopPolicy{Retry: RetryPolicy{MaxAttempts: 3}},
	})
	// Zero-length sleeps are retry backoffs; anything longer parks the
	// loop until it is cancelled.
	h.registry.sleep = func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		select {
		case h.waiting <- "":
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.registry.Shutdown(ctx)
	})

	return h
}

func testBidding(limit int) domain.BiddingConfig {
	cfg := domain.DefaultBiddingConfig()
	cfg.BidLimit = limit
	cfg.SearchInterval = time.Second
	cfg.MinWaitTime = 0
	return cfg
}

func (h *harness) createSession(t *testing.T, bidding domain.BiddingConfig) domain.SessionID {
	t.Helper()

	id, err := h.registry.Create(context.Background(), CreateSessionCommand{
		Name:             "studio",
		MarketplaceToken: "fl-token",
		LLMAPIKey:        "gsk-key",
		Bidding:          bidding,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) awaitWaiting(t *testing.T) {
	t.Helper()

	select {
	case <-h.waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("loop never reached the waiting state")
	}
}

func (h *harness) wait(t *testing.T, id domain.SessionID) domain.RunRecord {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := h.registry.Wait(ctx, id)
	require.NoError(t, err)
	return record
}

func TestRegistryCreateStoresSecretRefsOnly(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())

	id := h.createSession(t, testBidding(5))

	session, err := h.registry.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "bidbot/"+string(id)+"/marketplace_token", session.Credentials.MarketplaceTokenRef)
	assert.Equal(t, "bidbot/"+string(id)+"/llm_api_key", session.Credentials.LLMAPIKeyRef)

	token, err := h.secrets.Get(context.Background(), session.Credentials.MarketplaceTokenRef)
	require.NoError(t, err)
	assert.Equal(t, "fl-token", token)
}

func TestRegistryCreateRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())

	_, err := h.registry.Create(context.Background(), CreateSessionCommand{
		Name:             "studio",
		MarketplaceToken: "fl-token",
		LLMAPIKey:        "gsk-key",
		Bidding:          testBidding(0),
	})

	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, h.secrets.values)

	_, err = h.registry.Create(context.Background(), CreateSessionCommand{Name: "studio", LLMAPIKey: "gsk-key", Bidding: testBidding(1)})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "marketplace_token", vErr.Field)
}

func TestRegistryCreateRollsBackSecretsWhenSaveFails(t *testing.T) {
	repo := mocks.NewMockSessionRepository(t)
	store := mocks.NewMockSecretStore(t)
	registry := NewRegistry(RegistryDeps{Sessions: repo, Secrets: store, Runs: newMemRuns()})

	saveErr := errors.New("disk full")
	store.EXPECT().Put(mock.Anything, mock.AnythingOfType("string"), "fl-token").Return(nil)
	store.EXPECT().Put(mock.Anything, mock.AnythingOfType("string"), "gsk-key").Return(nil)
	repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("domain.Session")).Return(saveErr)
	store.EXPECT().Delete(mock.Anything, mock.AnythingOfType("string")).Return(nil).Times(2)

	_, err := registry.Create(context.Background(), CreateSessionCommand{
		Name:             "studio",
		MarketplaceToken: "fl-token",
		LLMAPIKey:        "gsk-key",
		Bidding:          testBidding(1),
	})

	require.ErrorIs(t, err, saveErr)
}

func TestRegistryCreateJoinsRollbackFailure(t *testing.T) {
	repo := mocks.NewMockSessionRepository(t)
	store := mocks.NewMockSecretStore(t)
	registry := NewRegistry(RegistryDeps{Sessions: repo, Secrets: store, Runs: newMemRuns()})

	putErr := errors.New("keyring locked")
	rollbackErr := errors.New("cannot delete")
	store.EXPECT().Put(mock.Anything, mock.AnythingOfType("string"), "fl-token").Return(nil)
	store.EXPECT().Put(mock.Anything, mock.AnythingOfType("string"), "gsk-key").Return(putErr)
	store.EXPECT().Delete(mock.Anything, mock.AnythingOfType("string")).Return(rollbackErr)

	_, err := registry.Create(context.Background(), CreateSessionCommand{
		Name:             "studio",
		MarketplaceToken: "fl-token",
		LLMAPIKey:        "gsk-key",
		Bidding:          testBidding(1),
	})

	require.ErrorIs(t, err, putErr)
	require.ErrorIs(t, err, rollbackErr)
}

func TestRegistryStartUnknownSession(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())

	_, err := h.registry.Start(context.Background(), "missing")

	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Empty(t, h.registry.Running())
}

func TestRegistryStartTwiceFailsWithAlreadyRunning(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))

	handle, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, handle.SessionID)

	_, err = h.registry.Start(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)

	h.awaitWaiting(t)
	require.NoError(t, h.registry.Stop(context.Background(), id))
	record := h.wait(t, id)
	assert.Equal(t, domain.RunStatusStopped, record.Status)

	_, err = h.registry.Start(context.Background(), id)
	require.NoError(t, err)
}

func TestRegistryStartRefusesPersistedRunningRecord(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))
	h.runs.seed(domain.RunRecord{ID: "old", SessionID: id, Status: domain.RunStatusRunning, State: domain.LoopWaiting})

	_, err := h.registry.Start(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)
	assert.Empty(t, h.registry.Running())

	recovered, err := h.registry.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	status, err := h.registry.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCrashed, status.Status)
	assert.Equal(t, domain.StopAbandoned, status.StopReason)
	require.NotNil(t, status.EndedAt)

	_, err = h.registry.Start(context.Background(), id)
	require.NoError(t, err)
}

func TestRegistryStopWhenNotRunning(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))

	err := h.registry.Stop(context.Background(), id)

	require.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestRegistryBidLimitScenario(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(projects(3)...))
	id := h.createSession(t, testBidding(3))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	record := h.wait(t, id)

	assert.Equal(t, domain.RunStatusStopped, record.Status)
	assert.Equal(t, domain.StopBidLimitReached, record.StopReason)
	assert.Equal(t, 3, record.Counters.BidsPlaced)
	assert.Equal(t, 0, record.Counters.Errors)
	require.NotNil(t, record.EndedAt)

	submitted := h.bids.withOutcome(domain.BidSubmitted)
	require.Len(t, submitted, 3)
	for _, bid := range submitted {
		assert.Equal(t, 10, bid.Period)
		assert.InDelta(t, 500.0, bid.Amount, 0.001)
		assert.Equal(t, "Clean storefront built in ten days.\nRegards,\nSam", bid.Text)
		assert.Equal(t, record.ID, bid.RunID)
	}
	assert.Len(t, h.market.submissions(), 3)
}

func TestRegistryUnparsableRecommendationSkipsOneProject(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(projects(5)...))
	h.scorer.recommend["Shopify store 3"] = "I would charge around five hundred dollars"
	id := h.createSession(t, testBidding(75))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	h.awaitWaiting(t)

	status, err := h.registry.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopWaiting, status.State)
	assert.Equal(t, 4, status.Counters.BidsPlaced)
	assert.Equal(t, 1, status.Counters.Errors)
	assert.Contains(t, status.LastError, "malformed scoring response")

	for _, sub := range h.market.submissions() {
		assert.NotEqual(t, domain.ProjectID(3), sub.ProjectID)
	}

	require.NoError(t, h.registry.Stop(context.Background(), id))
	record := h.wait(t, id)
	assert.Equal(t, domain.RunStatusStopped, record.Status)
	assert.Equal(t, domain.StopRequested, record.StopReason)
}

func TestRegistryStopDuringWaitClosesRecord(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	h.awaitWaiting(t)

	require.NoError(t, h.registry.Stop(context.Background(), id))
	record := h.wait(t, id)

	assert.Equal(t, domain.RunStatusStopped, record.Status)
	assert.Equal(t, domain.LoopStopped, record.State)
	require.NotNil(t, record.EndedAt)
	assert.False(t, record.EndedAt.Before(record.StartedAt))

	persisted, err := h.runs.GetLatest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusStopped, persisted.Status)
}

func TestRegistryStopDuringSubmissionRecordsPlacedBid(t *testing.T) {
	market := newFakeMarketplace(projects(1)...)
	market.hold = make(chan struct{})
	market.submitting = make(chan struct{})
	h := newHarness(t, market)
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	select {
	case <-market.submitting:
	case <-time.After(5 * time.Second):
		t.Fatal("bid was never submitted")
	}

	require.NoError(t, h.registry.Stop(context.Background(), id))
	close(market.hold)
	record := h.wait(t, id)

	assert.Equal(t, domain.RunStatusStopped, record.Status)
	assert.Equal(t, domain.StopRequested, record.StopReason)
	assert.Equal(t, 1, record.Counters.BidsPlaced)
	submitted := h.bids.withOutcome(domain.BidSubmitted)
	require.Len(t, submitted, 1)
	assert.Equal(t, int64(901), submitted[0].MarketplaceBidID)
}

func TestRegistryStopDuringHungSubmissionRecordsFailedBid(t *testing.T) {
	market := newFakeMarketplace(projects(1)...)
	market.hold = make(chan struct{})
	market.submitting = make(chan struct{})
	h := newHarness(t, market)
	h.registry.policy.SubmitTimeout = 50 * time.Millisecond
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	<-market.submitting
	require.NoError(t, h.registry.Stop(context.Background(), id))
	record := h.wait(t, id)

	assert.Equal(t, domain.RunStatusStopped, record.Status)
	assert.Len(t, market.submissions(), 1)
	assert.Zero(t, record.Counters.BidsPlaced)
	assert.Equal(t, 1, record.Counters.BidsFailed)
	failed := h.bids.withOutcome(domain.BidFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, context.DeadlineExceeded.Error())
}

func TestRegistryNeverResubmitsExistingBid(t *testing.T) {
	market := newFakeMarketplace(projects(2)...)
	market.existing[1] = []domain.ExistingBid{{ID: 1, BidderID: testBidder, ProjectID: 1}}
	market.existing[2] = []domain.ExistingBid{{ID: 2, BidderID: 9999, ProjectID: 2}}
	h := newHarness(t, market)
	id := h.createSession(t, testBidding(5))

	for range 2 {
		_, err := h.registry.Start(context.Background(), id)
		require.NoError(t, err)
		h.awaitWaiting(t)
		require.NoError(t, h.registry.Stop(context.Background(), id))
		h.wait(t, id)
	}

	subs := h.market.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, domain.ProjectID(2), subs[0].ProjectID)
	assert.Equal(t, testBidder, subs[0].BidderID)
}

func TestRegistryBidLimitHoldsUnderConcurrentScoring(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(projects(8)...))
	h.registry.policy.ScoringConcurrency = 4
	id := h.createSession(t, testBidding(2))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	record := h.wait(t, id)

	assert.Equal(t, 2, record.Counters.BidsPlaced)
	assert.Len(t, h.market.submissions(), 2)
	assert.Equal(t, 8, h.scorer.matches())
}

func TestRegistryTransientSearchFailureIsRetried(t *testing.T) {
	market := newFakeMarketplace(project(1))
	market.searchErrs = []error{domain.Transient(errors.New("connection reset")), nil}
	h := newHarness(t, market)
	id := h.createSession(t, testBidding(1))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	record := h.wait(t, id)

	assert.Equal(t, domain.StopBidLimitReached, record.StopReason)
	assert.Equal(t, 0, record.Counters.Errors)
	assert.Equal(t, 2, market.searchCalls)
}

func TestRegistryConsecutiveFailuresCrashTheLoop(t *testing.T) {
	market := newFakeMarketplace()
	market.searchErrs = []error{errors.New("403 forbidden")}
	h := newHarness(t, market)
	h.registry.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	record := h.wait(t, id)

	assert.Equal(t, domain.RunStatusCrashed, record.Status)
	assert.Equal(t, domain.StopConsecutiveFailures, record.StopReason)
	assert.Equal(t, defaultMaxConsecutiveFailures, record.Counters.Errors)
	assert.Contains(t, record.LastError, "fatal loop failure")
}

func TestRegistryIdentityFailureIsNotFatal(t *testing.T) {
	market := newFakeMarketplace(project(1))
	market.identityErr = errors.New("401 unauthorized")
	h := newHarness(t, market)
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	h.awaitWaiting(t)

	status, err := h.registry.Status(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, status.Running())
	assert.Equal(t, 1, status.Counters.Errors)
	assert.Empty(t, h.market.submissions())
}

func TestRegistryScorerPanicCrashesOnlyThatSession(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(project(1)))
	h.scorer.panicTitle = "Shopify store 1"
	crashing := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), crashing)
	require.NoError(t, err)
	record := h.wait(t, crashing)

	assert.Equal(t, domain.RunStatusCrashed, record.Status)
	assert.Equal(t, domain.StopFatal, record.StopReason)
	assert.Contains(t, record.LastError, "scorer exploded")

	h.scorer.panicTitle = ""
	other := h.createSession(t, testBidding(1))
	_, err = h.registry.Start(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusStopped, h.wait(t, other).Status)
}

func TestRegistryUpdateAndDeleteConflictWhileRunning(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)

	name := "renamed"
	err = h.registry.Update(context.Background(), id, UpdateSessionCommand{Name: &name})
	require.ErrorIs(t, err, domain.ErrConflict)
	require.ErrorIs(t, h.registry.Delete(context.Background(), id), domain.ErrConflict)

	h.awaitWaiting(t)
	require.NoError(t, h.registry.Stop(context.Background(), id))
	h.wait(t, id)

	token := "fl-rotated"
	require.NoError(t, h.registry.Update(context.Background(), id, UpdateSessionCommand{Name: &name, MarketplaceToken: &token}))
	session, err := h.registry.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", session.Name)
	stored, err := h.secrets.Get(context.Background(), session.Credentials.MarketplaceTokenRef)
	require.NoError(t, err)
	assert.Equal(t, "fl-rotated", stored)

	require.NoError(t, h.registry.Delete(context.Background(), id))
	_, err = h.registry.Get(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Empty(t, h.secrets.values)

	runs, err := h.registry.Runs(context.Background(), ports.RunQuery{SessionID: id})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRegistryUpdateConflictsWithPersistedRunningRecord(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))
	h.runs.seed(domain.RunRecord{ID: "elsewhere", SessionID: id, Status: domain.RunStatusRunning})

	auto := true
	err := h.registry.Update(context.Background(), id, UpdateSessionCommand{AutoStart: &auto})

	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegistryUpdateValidates(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))

	bad := testBidding(0)
	err := h.registry.Update(context.Background(), id, UpdateSessionCommand{Bidding: &bad})

	require.ErrorIs(t, err, domain.ErrValidation)
	session, err := h.registry.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5, session.Bidding.BidLimit)
}

func TestRegistryStatusOfNeverStartedSession(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Status(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrRunNotFound)

	_, err = h.registry.Status(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistryOverviewCombinesLatestRunAndLiveness(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(projects(1)...))
	ran := h.createSession(t, testBidding(1))
	idle := h.createSession(t, testBidding(1))

	_, err := h.registry.Start(context.Background(), ran)
	require.NoError(t, err)
	h.wait(t, ran)

	statuses, err := h.registry.Overview(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := map[domain.SessionID]SessionStatus{}
	for _, status := range statuses {
		byID[status.Session.ID] = status
	}

	require.NotNil(t, byID[ran].Latest)
	assert.Equal(t, domain.StopBidLimitReached, byID[ran].Latest.StopReason)
	assert.False(t, byID[ran].Live)
	assert.Nil(t, byID[idle].Latest)
	assert.False(t, byID[idle].Live)
}

func TestRegistryStatisticsSumRuns(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(projects(2)...))
	id := h.createSession(t, testBidding(1))

	for range 2 {
		_, err := h.registry.Start(context.Background(), id)
		require.NoError(t, err)
		h.wait(t, id)
	}

	stats, err := h.registry.Statistics(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 2, stats.Totals.BidsPlaced)
	assert.Equal(t, 4, stats.Totals.ProjectsFound)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, domain.StopBidLimitReached, stats.LastRun.StopReason)

	overall, err := h.registry.OverallStatistics(context.Background())
	require.NoError(t, err)
	require.Len(t, overall.Sessions, 1)
	assert.Equal(t, 2, overall.Totals.BidsPlaced)
	assert.Zero(t, overall.Running)

	logs, err := h.registry.Logs(context.Background(), ports.LogQuery{SessionID: id})
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestRegistrySeenHistorySkipsProjectsAcrossRuns(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(projects(2)...))
	h.registry.seen = newMemSeen()
	id := h.createSession(t, testBidding(5))

	_, err := h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	h.awaitWaiting(t)
	require.NoError(t, h.registry.Stop(context.Background(), id))
	h.wait(t, id)
	firstRunMatches := h.scorer.matches()

	_, err = h.registry.Start(context.Background(), id)
	require.NoError(t, err)
	h.awaitWaiting(t)
	require.NoError(t, h.registry.Stop(context.Background(), id))
	h.wait(t, id)

	assert.Equal(t, 2, firstRunMatches)
	assert.Equal(t, firstRunMatches, h.scorer.matches())
}

func TestRegistrySeenHistoryKeepsFailedProjectsEligible(t *testing.T) {
	h := newHarness(t, newFakeMarketplace(projects(2)...))
	h.registry.seen = newMemSeen()
	h.scorer.matchErrs = map[string]error{"Shopify store 1": errors.New("model overloaded")}
	id := h.createSession(t, testBidding(5))

	for range 2 {
		_, err := h.registry.Start(context.Background(), id)
		require.NoError(t, err)
		h.awaitWaiting(t)
		require.NoError(t, h.registry.Stop(context.Background(), id))
		h.wait(t, id)
	}

	// Project 2 was bid on in the first run; project 1 is scored again.
	assert.Equal(t, 3, h.scorer.matches())
	require.Len(t, h.market.submissions(), 1)
	assert.Equal(t, domain.ProjectID(2), h.market.submissions()[0].ProjectID)
}

func TestRegistryShutdownStopsEveryLoop(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	first := h.createSession(t, testBidding(5))
	second := h.createSession(t, testBidding(5))

	for _, id := range []domain.SessionID{first, second} {
		_, err := h.registry.Start(context.Background(), id)
		require.NoError(t, err)
		h.awaitWaiting(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.registry.Shutdown(ctx))

	assert.Empty(t, h.registry.Running())
	for _, id := range []domain.SessionID{first, second} {
		record, err := h.registry.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StopShutdown, record.StopReason)
	}
}

func TestRegistryVerifyResolvesIdentity(t *testing.T) {
	h := newHarness(t, newFakeMarketplace())
	id := h.createSession(t, testBidding(5))

	bidder, err := h.registry.Verify(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, testBidder, bidder)
}
