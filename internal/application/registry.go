package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

var (
	errStopRequested = errors.New("stop requested")
	errShutdown      = errors.New("registry shutting down")
)

// RegistryDeps wires the registry. Seen may be nil to disable the
// persisted processed-id history.
type RegistryDeps struct {
	Sessions     ports.SessionRepository
	Runs         ports.RunRepository
	Bids         ports.BidRepository
	Activity     ports.ActivityLog
	Seen         ports.SeenProjects
	Secrets      ports.SecretStore
	Marketplaces ports.MarketplaceFactory
	Scorers      ports.ScorerFactory
	Clock        ports.Clock
	Logger       *slog.Logger
	Policy       LoopPolicy
}

// Registry owns session definitions and guarantees at most one polling
// loop per session.
type Registry struct {
	sessions     ports.SessionRepository
	runs         ports.RunRepository
	bids         ports.BidRepository
	activity     ports.ActivityLog
	seen         ports.SeenProjects
	secrets      ports.SecretStore
	marketplaces ports.MarketplaceFactory
	scorers      ports.ScorerFactory
	clock        ports.Clock
	logger       *slog.Logger
	policy       LoopPolicy
	sleep        sleepFunc

	mu       sync.Mutex
	active   map[domain.SessionID]*runHandle
	mutating map[domain.SessionID]struct{}
}

func NewRegistry(deps RegistryDeps) *Registry {
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		sessions:     deps.Sessions,
		runs:         deps.Runs,
		bids:         deps.Bids,
		activity:     deps.Activity,
		seen:         deps.Seen,
		secrets:      deps.Secrets,
		marketplaces: deps.Marketplaces,
		scorers:      deps.Scorers,
		clock:        clock,
		logger:       logger,
		policy:       deps.Policy.normalize(),
		sleep:        sleepContext,
		active:       map[domain.SessionID]*runHandle{},
		mutating:     map[domain.SessionID]struct{}{},
	}
}

func marketplaceTokenKey(id domain.SessionID) string {
	return fmt.Sprintf("bidbot/%s/marketplace_token", id)
}

func llmAPIKeyKey(id domain.SessionID) string {
	return fmt.Sprintf("bidbot/%s/llm_api_key", id)
}

func (r *Registry) Create(ctx context.Context, cmd CreateSessionCommand) (domain.SessionID, error) {
	if cmd.MarketplaceToken == "" {
		return "", domain.NewValidationError("marketplace_token", "is required")
	}
	if cmd.LLMAPIKey == "" {
		return "", domain.NewValidationError("llm_api_key", "is required")
	}

	id := domain.SessionID(uuid.NewString())
	now := r.clock.Now()
	bidding := cmd.Bidding
	bidding.Normalize()

	session := domain.Session{
		ID:   id,
		Name: cmd.Name,
		Credentials: domain.Credentials{
			MarketplaceTokenRef: marketplaceTokenKey(id),
			LLMAPIKeyRef:        llmAPIKeyKey(id),
		},
		Bidding:     bidding,
		Preferences: cmd.Preferences,
		AutoStart:   cmd.AutoStart,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := session.Validate(); err != nil {
		return "", err
	}

	if err := r.secrets.Put(ctx, session.Credentials.MarketplaceTokenRef, cmd.MarketplaceToken); err != nil {
		return "", fmt.Errorf("store marketplace token: %w", err)
	}
	if err := r.secrets.Put(ctx, session.Credentials.LLMAPIKeyRef, cmd.LLMAPIKey); err != nil {
		if rollbackErr := r.secrets.Delete(ctx, session.Credentials.MarketplaceTokenRef); rollbackErr != nil {
			return "", fmt.Errorf("store llm api key and rollback marketplace token: %w", errors.Join(err, rollbackErr))
		}
		return "", fmt.Errorf("store llm api key: %w", err)
	}

	if err := r.sessions.Save(ctx, session); err != nil {
		var rollbackErr error
		for _, ref := range []string{session.Credentials.MarketplaceTokenRef, session.Credentials.LLMAPIKeyRef} {
			if deleteErr := r.secrets.Delete(ctx, ref); deleteErr != nil {
				rollbackErr = errors.Join(rollbackErr, deleteErr)
			}
		}
		if rollbackErr != nil {
			return "", fmt.Errorf("save session and rollback stored secrets: %w", errors.Join(err, rollbackErr))
		}
		return "", fmt.Errorf("save session: %w", err)
	}

	return id, nil
}

func (r *Registry) Get(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	session, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session by id: %w", err)
	}
	return session, nil
}

func (r *Registry) List(ctx context.Context) ([]domain.Session, error) {
	sessions, err := r.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (r *Registry) Update(ctx context.Context, id domain.SessionID, cmd UpdateSessionCommand) error {
	release, err := r.claim(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	session, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get session by id: %w", err)
	}
	original := session

	cmd.apply(&session)
	session.Bidding.Normalize()
	session.UpdatedAt = r.clock.Now()
	if err := session.Validate(); err != nil {
		return err
	}

	rotated := map[string]string{}
	restore := func() error {
		var restoreErr error
		for ref, previous := range rotated {
			if err := r.secrets.Put(ctx, ref, previous); err != nil {
				restoreErr = errors.Join(restoreErr, err)
			}
		}
		return restoreErr
	}

	for _, change := range []struct {
		ref   string
		value *string
	}{
		{ref: session.Credentials.MarketplaceTokenRef, value: cmd.MarketplaceToken},
		{ref: session.Credentials.LLMAPIKeyRef, value: cmd.LLMAPIKey},
	} {
		if change.value == nil {
			continue
		}
		if *change.value == "" {
			return domain.NewValidationError(secretField(change.ref, session.Credentials), "must not be empty")
		}
		previous, err := r.secrets.Get(ctx, change.ref)
		if err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
			return fmt.Errorf("read current secret: %w", err)
		}
		if err := r.secrets.Put(ctx, change.ref, *change.value); err != nil {
			if rollbackErr := restore(); rollbackErr != nil {
				return fmt.Errorf("store rotated secret and restore previous secrets: %w", errors.Join(err, rollbackErr))
			}
			return fmt.Errorf("store rotated secret: %w", err)
		}
		rotated[change.ref] = previous
	}

	if err := r.sessions.Save(ctx, session); err != nil {
		if rollbackErr := restore(); rollbackErr != nil {
			return fmt.Errorf("save session and restore previous secrets: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("save session: %w", err)
	}

	r.logger.Info("session updated", "session_id", id, "name_changed", original.Name != session.Name)
	return nil
}

func secretField(ref string, creds domain.Credentials) string {
	if ref == creds.MarketplaceTokenRef {
		return "marketplace_token"
	}
	return "llm_api_key"
}

// Delete removes the session definition and its secrets. Run, bid and
// activity history stay queryable.
func (r *Registry) Delete(ctx context.Context, id domain.SessionID) error {
	release, err := r.claim(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	session, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get session by id: %w", err)
	}

	if err := r.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	var secretErr error
	for _, ref := range []string{session.Credentials.MarketplaceTokenRef, session.Credentials.LLMAPIKeyRef} {
		if err := r.secrets.Delete(ctx, ref); err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
			secretErr = errors.Join(secretErr, err)
		}
	}
	if secretErr != nil {
		return fmt.Errorf("delete session secrets: %w", secretErr)
	}

	return nil
}

// claim blocks Start for the duration of a mutation and fails when the
// session is running, in this process or according to its persisted run.
func (r *Registry) claim(ctx context.Context, id domain.SessionID) (func(), error) {
	r.mu.Lock()
	if _, ok := r.active[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrConflict)
	}
	if _, ok := r.mutating[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s is being modified: %w", id, domain.ErrConflict)
	}
	r.mutating[id] = struct{}{}
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.mutating, id)
		r.mu.Unlock()
	}

	latest, err := r.runs.GetLatest(ctx, id)
	switch {
	case err == nil && latest.Running():
		release()
		return nil, fmt.Errorf("session %s has run %s in progress: %w", id, latest.ID, domain.ErrConflict)
	case err != nil && !errors.Is(err, domain.ErrRunNotFound):
		release()
		return nil, fmt.Errorf("get latest run: %w", err)
	}

	return release, nil
}

// Start opens a run record and spawns the session's polling loop. It
// returns as soon as the loop goroutine is running.
func (r *Registry) Start(ctx context.Context, id domain.SessionID) (RunHandle, error) {
	handle, err := r.reserve(id)
	if err != nil {
		return RunHandle{}, err
	}

	started, err := r.launch(ctx, id, handle)
	if err != nil {
		handle.cancel(err)
		r.release(id, handle)
		return RunHandle{}, err
	}

	return started, nil
}

func (r *Registry) reserve(id domain.SessionID) (*runHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[id]; ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrAlreadyRunning)
	}
	if _, ok := r.mutating[id]; ok {
		return nil, fmt.Errorf("session %s is being modified: %w", id, domain.ErrConflict)
	}

	loopCtx, cancel := context.WithCancelCause(context.Background())
	handle := &runHandle{ctx: loopCtx, cancel: cancel, done: make(chan struct{})}
	r.active[id] = handle
	return handle, nil
}

func (r *Registry) release(id domain.SessionID, handle *runHandle) {
	r.mu.Lock()
	if r.active[id] == handle {
		delete(r.active, id)
	}
	r.mu.Unlock()
	close(handle.done)
}

func (r *Registry) launch(ctx context.Context, id domain.SessionID, handle *runHandle) (RunHandle, error) {
	session, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return RunHandle{}, fmt.Errorf("get session by id: %w", err)
	}

	latest, err := r.runs.GetLatest(ctx, id)
	switch {
	case err == nil && latest.Running():
		return RunHandle{}, fmt.Errorf("session %s has run %s still marked running: %w", id, latest.ID, domain.ErrAlreadyRunning)
	case err != nil && !errors.Is(err, domain.ErrRunNotFound):
		return RunHandle{}, fmt.Errorf("get latest run: %w", err)
	}

	market, scorer, err := r.clients(ctx, session)
	if err != nil {
		return RunHandle{}, err
	}

	record := domain.RunRecord{
		ID:        domain.RunID(uuid.NewString()),
		SessionID: id,
		StartedAt: r.clock.Now(),
		Status:    domain.RunStatusRunning,
		State:     domain.LoopStarting,
		BidLimit:  session.Bidding.BidLimit,
	}
	if err := r.runs.Open(ctx, record); err != nil {
		return RunHandle{}, fmt.Errorf("open run record: %w", err)
	}
	handle.set(record)

	l := r.newLoop(session, handle, market, scorer)
	go func() {
		defer r.release(id, handle)
		l.run(handle.ctx)
	}()

	r.logger.Info("session started", "session_id", id, "run_id", record.ID, "bid_limit", record.BidLimit)
	return RunHandle{SessionID: id, RunID: record.ID, StartedAt: record.StartedAt}, nil
}

func (r *Registry) clients(ctx context.Context, session domain.Session) (ports.Marketplace, ports.Scorer, error) {
	token, err := r.secrets.Get(ctx, session.Credentials.MarketplaceTokenRef)
	if err != nil {
		return nil, nil, fmt.Errorf("read marketplace token: %w", err)
	}
	apiKey, err := r.secrets.Get(ctx, session.Credentials.LLMAPIKeyRef)
	if err != nil {
		return nil, nil, fmt.Errorf("read llm api key: %w", err)
	}

	market, err := r.marketplaces(session, token)
	if err != nil {
		return nil, nil, fmt.Errorf("build marketplace client: %w", err)
	}
	scorer, err := r.scorers(session, apiKey)
	if err != nil {
		return nil, nil, fmt.Errorf("build scoring client: %w", err)
	}

	return market, scorer, nil
}

// Verify resolves the marketplace identity behind a session's token.
func (r *Registry) Verify(ctx context.Context, id domain.SessionID) (domain.UserID, error) {
	session, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get session by id: %w", err)
	}
	token, err := r.secrets.Get(ctx, session.Credentials.MarketplaceTokenRef)
	if err != nil {
		return 0, fmt.Errorf("read marketplace token: %w", err)
	}
	market, err := r.marketplaces(session, token)
	if err != nil {
		return 0, fmt.Errorf("build marketplace client: %w", err)
	}

	bidder, err := market.SelfIdentity(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve marketplace identity: %w", err)
	}
	return bidder, nil
}

// Stop asks the loop to end at its next suspension point. It does not
// wait for the loop to close its run record.
func (r *Registry) Stop(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	handle, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotRunning)
	}

	handle.cancel(errStopRequested)
	return nil
}

// Wait blocks until the session's loop has exited and returns its final
// record. A session with no active loop returns its latest record.
func (r *Registry) Wait(ctx context.Context, id domain.SessionID) (domain.RunRecord, error) {
	r.mu.Lock()
	handle, ok := r.active[id]
	r.mu.Unlock()

	if ok {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return domain.RunRecord{}, ctx.Err()
		}
	}

	return r.Status(ctx, id)
}

// Status returns the live record of a running loop, or the latest
// persisted record otherwise.
func (r *Registry) Status(ctx context.Context, id domain.SessionID) (domain.RunRecord, error) {
	r.mu.Lock()
	handle, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		if record, started := handle.snapshot(); started {
			return record, nil
		}
	}

	record, err := r.runs.GetLatest(ctx, id)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrRunNotFound) {
		return domain.RunRecord{}, fmt.Errorf("get latest run: %w", err)
	}
	if _, getErr := r.sessions.GetByID(ctx, id); getErr != nil {
		return domain.RunRecord{}, fmt.Errorf("get session by id: %w", getErr)
	}
	return domain.RunRecord{}, fmt.Errorf("session %s: %w", id, domain.ErrRunNotFound)
}

func (r *Registry) Running() []domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]domain.SessionID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Recover closes every persisted running record that no loop in this
// process owns. It assumes a single serving process per database.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	running, err := r.runs.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}

	recovered := 0
	for _, record := range running {
		r.mu.Lock()
		handle, owned := r.active[record.SessionID]
		r.mu.Unlock()
		if owned {
			if live, ok := handle.snapshot(); ok && live.ID == record.ID {
				continue
			}
		}

		record.Close(domain.RunStatusCrashed, domain.StopAbandoned, r.clock.Now())
		record.LastError = "process exited while the run was active"
		if err := r.runs.Update(ctx, record); err != nil {
			return recovered, fmt.Errorf("close abandoned run %s: %w", record.ID, err)
		}
		r.logger.Warn("closed abandoned run", "session_id", record.SessionID, "run_id", record.ID)
		recovered++
	}

	return recovered, nil
}

// Shutdown stops every loop and waits for them to close their records.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	handles := make([]*runHandle, 0, len(r.active))
	for _, handle := range r.active {
		handles = append(handles, handle)
	}
	r.mu.Unlock()

	for _, handle := range handles {
		handle.cancel(errShutdown)
	}
	for _, handle := range handles {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for loops to stop: %w", ctx.Err())
		}
	}

	return nil
}

// runHandle is the registry's view of one loop. Only the loop writes the
// record; readers take snapshots.
type runHandle struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu      sync.RWMutex
	record  domain.RunRecord
	started bool
}

func (h *runHandle) set(record domain.RunRecord) {
	h.mu.Lock()
	h.record = record
	h.started = true
	h.mu.Unlock()
}

func (h *runHandle) update(fn func(*domain.RunRecord)) domain.RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.record)
	return h.record
}

func (h *runHandle) snapshot() (domain.RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.record, h.started
}
