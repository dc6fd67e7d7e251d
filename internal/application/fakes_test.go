package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[domain.SessionID]domain.Session{}}
}

func (m *memSessions) GetByID(_ context.Context, id domain.SessionID) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, nil
}

func (m *memSessions) List(context.Context) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSessions) Save(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memSessions) Delete(_ context.Context, id domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

type memRuns struct {
	mu    sync.Mutex
	order []domain.RunID
	runs  map[domain.RunID]domain.RunRecord
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[domain.RunID]domain.RunRecord{}}
}

func (m *memRuns) Open(_ context.Context, run domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs {
		if existing.SessionID == run.SessionID && existing.Running() {
			return domain.ErrAlreadyRunning
		}
	}
	m.order = append(m.order, run.ID)
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) Update(_ context.Context, run domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return domain.ErrRunNotFound
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) GetLatest(_ context.Context, id domain.SessionID) (domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if run := m.runs[m.order[i]]; run.SessionID == id {
			return run, nil
		}
	}
	return domain.RunRecord{}, domain.ErrRunNotFound
}

func (m *memRuns) List(_ context.Context, q ports.RunQuery) ([]domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RunRecord
	for _, id := range m.order {
		run := m.runs[id]
		if q.SessionID != "" && run.SessionID != q.SessionID {
			continue
		}
		if !q.Range.Contains(run.StartedAt) {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (m *memRuns) ListRunning(context.Context) ([]domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RunRecord
	for _, id := range m.order {
		if run := m.runs[id]; run.Running() {
			out = append(out, run)
		}
	}
	return out, nil
}

// seed stores a record directly, bypassing the running check.
func (m *memRuns) seed(run domain.RunRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, run.ID)
	m.runs[run.ID] = run
}

type memBids struct {
	mu   sync.Mutex
	bids []domain.BidRecord
}

func (m *memBids) Append(_ context.Context, bid domain.BidRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids = append(m.bids, bid)
	return nil
}

func (m *memBids) List(_ context.Context, q ports.BidQuery) ([]domain.BidRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BidRecord
	for _, b := range m.bids {
		if q.SessionID != "" && b.SessionID != q.SessionID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memBids) withOutcome(outcome domain.BidOutcome) []domain.BidRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BidRecord
	for _, b := range m.bids {
		if b.Outcome == outcome {
			out = append(out, b)
		}
	}
	return out
}

type memActivity struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
}

func (m *memActivity) Append(_ context.Context, e domain.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memActivity) List(_ context.Context, q ports.LogQuery) ([]domain.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ActivityEntry
	for _, e := range m.entries {
		if q.SessionID != "" && e.SessionID != q.SessionID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type memSecrets struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSecrets() *memSecrets {
	return &memSecrets{values: map[string]string{}}
}

func (m *memSecrets) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrSecretNotFound
	}
	return v, nil
}

func (m *memSecrets) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memSecrets) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

type memSeen struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemSeen() *memSeen {
	return &memSeen{seen: map[string]struct{}{}}
}

func (m *memSeen) Seen(_ context.Context, s domain.SessionID, p domain.ProjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[fmt.Sprintf("%s/%d", s, p)]
	return ok, nil
}

func (m *memSeen) MarkSeen(_ context.Context, s domain.SessionID, p domain.ProjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[fmt.Sprintf("%s/%d", s, p)] = struct{}{}
	return nil
}

const testBidder domain.UserID = 7001

type fakeMarketplace struct {
	mu          sync.Mutex
	projects    []domain.Project
	searchErrs  []error
	searchCalls int
	existing    map[domain.ProjectID][]domain.ExistingBid
	submitted   []ports.BidSubmission
	submitErrs  map[domain.ProjectID]error
	identity    domain.UserID
	identityErr error
	nextBidID   int64
	sealed      []int64

	// When hold is set, SubmitBid accepts the bid, signals submitting
	// and then blocks until hold is closed or ctx is done.
	hold       chan struct{}
	submitting chan struct{}
}

func newFakeMarketplace(projects ...domain.Project) *fakeMarketplace {
	return &fakeMarketplace{
		projects:   projects,
		existing:   map[domain.ProjectID][]domain.ExistingBid{},
		submitErrs: map[domain.ProjectID]error{},
		identity:   testBidder,
		nextBidID:  900,
	}
}

func (m *fakeMarketplace) Search(ctx context.Context, _ ports.SearchFilter) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	if len(m.searchErrs) > 0 {
		err := m.searchErrs[0]
		if len(m.searchErrs) > 1 {
			m.searchErrs = m.searchErrs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return append([]domain.Project(nil), m.projects...), ctx.Err()
}

func (m *fakeMarketplace) ExistingBids(_ context.Context, id domain.ProjectID) ([]domain.ExistingBid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ExistingBid(nil), m.existing[id]...), nil
}

func (m *fakeMarketplace) SubmitBid(ctx context.Context, bid ports.BidSubmission) (ports.BidAck, error) {
	m.mu.Lock()
	if err := m.submitErrs[bid.ProjectID]; err != nil {
		m.mu.Unlock()
		return ports.BidAck{}, err
	}
	m.nextBidID++
	m.submitted = append(m.submitted, bid)
	m.existing[bid.ProjectID] = append(m.existing[bid.ProjectID], domain.ExistingBid{
		ID: m.nextBidID, BidderID: bid.BidderID, ProjectID: bid.ProjectID,
	})
	ack := ports.BidAck{BidID: m.nextBidID}
	hold, submitting := m.hold, m.submitting
	m.mu.Unlock()

	if hold == nil {
		return ack, nil
	}
	close(submitting)
	select {
	case <-hold:
		return ack, nil
	case <-ctx.Done():
		return ports.BidAck{}, ctx.Err()
	}
}

func (m *fakeMarketplace) SelfIdentity(context.Context) (domain.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identityErr != nil {
		return 0, m.identityErr
	}
	return m.identity, nil
}

func (m *fakeMarketplace) SealBid(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = append(m.sealed, id)
	return nil
}

func (m *fakeMarketplace) submissions() []ports.BidSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.BidSubmission(nil), m.submitted...)
}

type fakeScorer struct {
	mu         sync.Mutex
	verdict    func(title string) domain.MatchVerdict
	recommend  map[string]string
	draft      string
	panicTitle string
	matchErrs  map[string]error
	matchCalls int
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{
		verdict:   func(string) domain.MatchVerdict { return domain.Match },
		recommend: map[string]string{},
		draft:     "<think>plan</think>Clean storefront built in ten days.\nRegards,\nSam",
	}
}

func (s *fakeScorer) Match(_ context.Context, req ports.ScoreRequest) (domain.MatchVerdict, error) {
	s.mu.Lock()
	s.matchCalls++
	panicTitle := s.panicTitle
	matchErr := s.matchErrs[req.Title]
	s.mu.Unlock()
	if panicTitle != "" && req.Title == panicTitle {
		panic("scorer exploded")
	}
	if matchErr != nil {
		return domain.NoMatch, matchErr
	}
	return s.verdict(req.Title), nil
}

func (s *fakeScorer) Recommend(_ context.Context, req ports.ScoreRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if answer, ok := s.recommend[req.Title]; ok {
		return answer, nil
	}
	return "Budget: 500 USD, Deadline: 10 days", nil
}

func (s *fakeScorer) Draft(context.Context, ports.ScoreRequest) (string, error) {
	return s.draft, nil
}

func (s *fakeScorer) matches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchCalls
}

func project(id int64) domain.Project {
	return domain.Project{
		ID:           domain.ProjectID(id),
		OwnerID:      domain.UserID(100 + id),
		Title:        fmt.Sprintf("Shopify store %d", id),
		Description:  "Need a Shopify storefront with custom theme.",
		Status:       "active",
		Type:         domain.ContractFixed,
		Currency:     "USD",
		ExchangeRate: 1,
		MinBudget:    250,
		MaxBudget:    750,
		OwnerCountry: "Germany",
	}
}

func projects(n int) []domain.Project {
	out := make([]domain.Project, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, project(int64(i)))
	}
	return out
}
