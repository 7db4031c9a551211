package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/enrich"
	"github.com/ignite/nurture-engine/internal/rooms"
	"github.com/ignite/nurture-engine/internal/scoring"
	"github.com/ignite/nurture-engine/internal/service/lifecycle"
)

// memRepo is an in-memory lifecycle repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	clients   map[int64]*domain.Client
	campaigns map[int64]*domain.Campaign
	visitors  map[int64]*domain.Visitor
	prospects map[int64]*domain.Prospect
	runs      []domain.RunReport
	nextID    int64

	backfills   int
	failScoring bool // VisitorsForScoring fails, to abort stage 2
}

func newMemRepo() *memRepo {
	return &memRepo{
		clients:   make(map[int64]*domain.Client),
		campaigns: make(map[int64]*domain.Campaign),
		visitors:  make(map[int64]*domain.Visitor),
		prospects: make(map[int64]*domain.Prospect),
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) addClient(tier domain.ClientTier, enabled bool) *domain.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &domain.Client{ID: m.id(), Name: "Client", Tier: tier, NurtureEnabled: enabled}
	m.clients[c.ID] = c
	return c
}

func (m *memRepo) addCampaign(clientID int64, startsAt time.Time) *domain.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &domain.Campaign{
		ID:       m.id(),
		ClientID: clientID,
		Name:     "Campaign",
		StartsAt: startsAt,
		EndsAt:   startsAt.Add(90 * 24 * time.Hour),
	}
	m.campaigns[c.ID] = c
	return c
}

func (m *memRepo) addVisitor(v *domain.Visitor) *domain.Visitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id()
	m.visitors[v.ID] = v
	return v
}

func (m *memRepo) listVisitors(clientID *int64, keep func(*domain.Visitor) bool) []domain.Visitor {
	var out []domain.Visitor
	for _, v := range m.visitors {
		if v.ArchivedAt != nil {
			continue
		}
		if clientID != nil && v.ClientID != *clientID {
			continue
		}
		if keep(v) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memRepo) VisitorsWithoutCampaign(_ context.Context, clientID *int64) ([]domain.Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listVisitors(clientID, func(v *domain.Visitor) bool { return v.CampaignID == nil }), nil
}

func (m *memRepo) VisitorsForMatching(_ context.Context, clientID *int64) ([]domain.Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listVisitors(clientID, func(*domain.Visitor) bool { return true }), nil
}

func (m *memRepo) QualifyingCampaign(_ context.Context, clientID int64, at time.Time) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok || !client.Qualifies() {
		return nil, lifecycle.ErrNoCampaign
	}
	var newest *domain.Campaign
	for _, c := range m.campaigns {
		if c.ClientID != clientID || !c.ActiveAt(at) {
			continue
		}
		if newest == nil || c.StartsAt.After(newest.StartsAt) {
			newest = c
		}
	}
	if newest == nil {
		return nil, lifecycle.ErrNoCampaign
	}
	cp := *newest
	return &cp, nil
}

func (m *memRepo) AssignCampaign(_ context.Context, visitorID, campaignID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[visitorID]
	if !ok {
		return fmt.Errorf("visitor %d missing", visitorID)
	}
	v.CampaignID = &campaignID
	return nil
}

func (m *memRepo) VisitorsForScoring(_ context.Context, f lifecycle.ScoreFilter) ([]domain.Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failScoring {
		return nil, fmt.Errorf("relation visitors does not exist")
	}
	return m.listVisitors(f.ClientID, func(v *domain.Visitor) bool {
		if v.CampaignID == nil {
			return false
		}
		if f.All {
			return true
		}
		return v.LeadScore == 0 || v.ScoreCalculatedAt == nil ||
			v.ScoreCalculatedAt.Before(f.StaleBefore) ||
			v.UpdatedAt.After(*v.ScoreCalculatedAt)
	}), nil
}

func (m *memRepo) SaveVisitorScore(_ context.Context, visitorID int64, score int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[visitorID]
	if !ok {
		return fmt.Errorf("visitor %d missing", visitorID)
	}
	v.LeadScore = score
	v.ScoreCalculatedAt = &at
	return nil
}

func (m *memRepo) VisitorsForProspecting(_ context.Context, clientID *int64) ([]domain.Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listVisitors(clientID, func(v *domain.Visitor) bool {
		return v.CampaignID != nil && v.LeadScore > 0
	}), nil
}

func (m *memRepo) ProspectByVisitorCampaign(_ context.Context, visitorID, campaignID int64) (*domain.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prospects {
		if p.VisitorID == visitorID && p.CampaignID == campaignID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, lifecycle.ErrNotFound
}

func (m *memRepo) CreateProspect(_ context.Context, p *domain.Prospect) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.ID = m.id()
	m.prospects[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) UpdateProspectScore(_ context.Context, prospectID int64, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[prospectID]
	if !ok {
		return lifecycle.ErrNotFound
	}
	p.LeadScore = score
	return nil
}

func (m *memRepo) UpdateVisitorCompany(_ context.Context, visitorID int64, f enrich.Firmographics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[visitorID]
	if !ok {
		return fmt.Errorf("visitor %d missing", visitorID)
	}
	if v.CompanyName == "" {
		v.CompanyName = f.CompanyName
	}
	if v.Industry == "" {
		v.Industry = f.Industry
	}
	if v.CompanySize == 0 {
		v.CompanySize = f.EmployeeCount
	}
	if v.Revenue == 0 {
		v.Revenue = f.AnnualRevenue
	}
	m.backfills++
	return nil
}

func (m *memRepo) RoomCandidates(_ context.Context, clientID *int64) ([]lifecycle.RoomCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lifecycle.RoomCandidate
	for _, p := range m.prospects {
		if !p.Active() || p.RoomLocked() {
			continue
		}
		campaign, ok := m.campaigns[p.CampaignID]
		if !ok {
			continue
		}
		if clientID != nil && campaign.ClientID != *clientID {
			continue
		}
		out = append(out, lifecycle.RoomCandidate{Prospect: *p, ClientID: campaign.ClientID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prospect.ID < out[j].Prospect.ID })
	return out, nil
}

func (m *memRepo) UpdateProspectRoom(_ context.Context, prospectID int64, room domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[prospectID]
	if !ok {
		return lifecycle.ErrNotFound
	}
	p.CurrentRoom = room
	return nil
}

func (m *memRepo) SaveRun(_ context.Context, r *domain.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *r)
	return nil
}

func (m *memRepo) RecentRuns(_ context.Context, limit int) ([]domain.RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.RunReport(nil), m.runs...)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// stubRules serves one fixed ruleset: 45 points for any page view, 20 for a
// form submit, 35 for three email opens.
type stubRules struct {
	missing map[int64]bool
}

func (s *stubRules) RuleSet(_ context.Context, clientID int64) (*scoring.RuleSet, error) {
	if s.missing[clientID] {
		return nil, scoring.ErrNoRules
	}
	return &scoring.RuleSet{
		Problem:  []scoring.Criterion{{Name: "any_views", Kind: scoring.KindPageViewsMin, Threshold: 1, Points: 45}},
		Solution: []scoring.Criterion{{Name: "form", Kind: scoring.KindFormSubmitted, Points: 20}},
		Offer:    []scoring.Criterion{{Name: "opens", Kind: scoring.KindEmailOpensMin, Threshold: 3, Points: 35}},
	}, nil
}

type stubThresholds struct{}

func (stubThresholds) ClientThresholds(context.Context, int64) (domain.Thresholds, error) {
	return domain.Thresholds{}, rooms.ErrNotConfigured
}

func (stubThresholds) GlobalThresholds(context.Context) (domain.Thresholds, error) {
	return domain.Thresholds{ProblemMax: 40, SolutionMax: 60, OfferMin: 61}, nil
}

type memTranslog struct {
	mu      sync.Mutex
	entries []domain.RoomTransition
}

func (t *memTranslog) LogTransition(_ context.Context, tr domain.RoomTransition) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, tr)
	return nil
}

type stubLock struct {
	acquired bool
	releases int
}

func (l *stubLock) Acquire(context.Context) (bool, error) { return l.acquired, nil }

func (l *stubLock) Release(context.Context) error {
	l.releases++
	return nil
}

type stubEnricher struct {
	verifyCalls  int
	companyCalls int
	status       string
	firmo        *enrich.Firmographics
}

func (e *stubEnricher) Enabled() bool { return true }

func (e *stubEnricher) Verify(_ context.Context, email string) (*enrich.Verification, error) {
	e.verifyCalls++
	status := e.status
	if status == "" {
		status = "valid"
	}
	return &enrich.Verification{Email: email, Status: status}, nil
}

func (e *stubEnricher) EnrichCompany(_ context.Context, dom string) (*enrich.Firmographics, error) {
	e.companyCalls++
	if e.firmo == nil {
		return nil, enrich.ErrNotFound
	}
	return e.firmo, nil
}

func newTestService(repo *memRepo, rules *stubRules, opts lifecycle.Options) (*lifecycle.Service, *memTranslog) {
	tl := &memTranslog{}
	svc := lifecycle.NewService(repo, scoring.NewEngine(rules), rooms.NewResolver(stubThresholds{}, nil), tl, opts)
	return svc, tl
}

func TestRunIncrementalCreatesProspect(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{})

	client := repo.addClient(domain.TierPremium, true)
	repo.addCampaign(client.ID, time.Now().Add(-24*time.Hour))
	repo.addVisitor(&domain.Visitor{
		ClientID:  client.ID,
		Name:      "Dana",
		Email:     "dana@acme.test",
		PageViews: 3,
	})

	report, err := svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("run failed: %s", report.Error)
	}
	if report.Match.Matched != 1 || report.Scores.Scored != 1 || report.Prospects.Created != 1 {
		t.Errorf("report = %+v", report)
	}

	if len(repo.prospects) != 1 {
		t.Fatalf("prospects = %d, want 1", len(repo.prospects))
	}
	for _, p := range repo.prospects {
		if p.LeadScore != 45 {
			t.Errorf("prospect score = %d, want 45", p.LeadScore)
		}
		if p.CurrentRoom != domain.RoomSolution {
			t.Errorf("initial room = %s, want solution (45 under 40/60/61)", p.CurrentRoom)
		}
		if p.Name != "Dana" || p.Email != "dana@acme.test" {
			t.Errorf("contact not denormalized: %+v", p)
		}
	}
	if len(repo.runs) != 1 || repo.runs[0].ID != report.ID {
		t.Errorf("run not persisted: %+v", repo.runs)
	}
	if report.DurationMS < 0 {
		t.Errorf("duration = %d", report.DurationMS)
	}

	// A second incremental run finds nothing new: score fresh, delta zero.
	report2, err := svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report2.Prospects.Created != 0 || report2.Prospects.Updated != 0 {
		t.Errorf("second run mutated prospects: %+v", report2.Prospects)
	}
	if report2.Scores.Scored != 0 {
		t.Errorf("fresh score re-calculated: %+v", report2.Scores)
	}
	if len(repo.prospects) != 1 {
		t.Errorf("second run duplicated the prospect")
	}
}

func TestRunRoomTransition(t *testing.T) {
	repo := newMemRepo()
	svc, translog := newTestService(repo, &stubRules{}, lifecycle.Options{})

	client := repo.addClient(domain.TierPremium, true)
	repo.addCampaign(client.ID, time.Now().Add(-24*time.Hour))
	v := repo.addVisitor(&domain.Visitor{ClientID: client.ID, Email: "lee@acme.test", PageViews: 2})

	if _, err := svc.Run(context.Background(), domain.JobIncremental, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(translog.entries) != 0 {
		t.Fatalf("creation must not log a transition: %+v", translog.entries)
	}

	// Engagement raises the score 45 → 65; the next run moves the room.
	repo.visitors[v.ID].FormSubmitted = true
	repo.visitors[v.ID].UpdatedAt = time.Now()

	report, err := svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Rooms.Transitions != 1 {
		t.Errorf("transitions = %d, want 1", report.Rooms.Transitions)
	}
	for _, p := range repo.prospects {
		if p.LeadScore != 65 || p.CurrentRoom != domain.RoomOffer {
			t.Errorf("prospect = score %d room %s, want 65/offer", p.LeadScore, p.CurrentRoom)
		}
	}
	if len(translog.entries) != 1 {
		t.Fatalf("progression rows = %d, want exactly 1", len(translog.entries))
	}
	tr := translog.entries[0]
	if tr.FromRoom != domain.RoomSolution || tr.ToRoom != domain.RoomOffer {
		t.Errorf("transition = %s→%s, want solution→offer", tr.FromRoom, tr.ToRoom)
	}
	if tr.Reason == "" {
		t.Error("transition missing reason")
	}
}

func TestRunIncrementalScoreSyncThreshold(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{})

	client := repo.addClient(domain.TierPremium, true)
	campaign := repo.addCampaign(client.ID, time.Now().Add(-24*time.Hour))

	fresh := time.Now()
	v := repo.addVisitor(&domain.Visitor{
		ClientID:          client.ID,
		CampaignID:        &campaign.ID,
		PageViews:         3,
		LeadScore:         45,
		ScoreCalculatedAt: &fresh,
		UpdatedAt:         fresh.Add(-time.Hour),
	})
	repo.prospects[900] = &domain.Prospect{
		ID:          900,
		VisitorID:   v.ID,
		CampaignID:  campaign.ID,
		CurrentRoom: domain.RoomSolution,
		LeadScore:   45,
		EmailStates: domain.EmailStates{},
	}

	// Identical score: incremental run must not touch the prospect.
	report, err := svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Prospects.Updated != 0 || report.Prospects.Skipped != 1 {
		t.Errorf("equal score: %+v", report.Prospects)
	}

	// One point of drift is enough to sync.
	repo.visitors[v.ID].LeadScore = 46
	report, err = svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Prospects.Updated != 1 {
		t.Errorf("one-point drift: %+v", report.Prospects)
	}
	if repo.prospects[900].LeadScore != 46 {
		t.Errorf("prospect score = %d, want 46", repo.prospects[900].LeadScore)
	}
}

func TestRunFullRematchesEverything(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{})

	client := repo.addClient(domain.TierPremium, true)
	old := repo.addCampaign(client.ID, time.Now().Add(-60*24*time.Hour))
	newest := repo.addCampaign(client.ID, time.Now().Add(-24*time.Hour))
	v := repo.addVisitor(&domain.Visitor{ClientID: client.ID, CampaignID: &old.ID, PageViews: 1})

	// Incremental leaves already-matched visitors alone.
	if _, err := svc.Run(context.Background(), domain.JobIncremental, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := *repo.visitors[v.ID].CampaignID; got != old.ID {
		t.Fatalf("incremental re-matched: campaign %d", got)
	}

	// Full mode re-matches to the newest active campaign.
	if _, err := svc.Run(context.Background(), domain.JobFull, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := *repo.visitors[v.ID].CampaignID; got != newest.ID {
		t.Errorf("full mode campaign = %d, want %d", got, newest.ID)
	}
}

func TestRunSkipsNonQualifyingClients(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{})

	standard := repo.addClient(domain.TierStandard, true)
	disabled := repo.addClient(domain.TierPremium, false)
	repo.addCampaign(standard.ID, time.Now().Add(-24*time.Hour))
	repo.addCampaign(disabled.ID, time.Now().Add(-24*time.Hour))
	repo.addVisitor(&domain.Visitor{ClientID: standard.ID, PageViews: 5})
	repo.addVisitor(&domain.Visitor{ClientID: disabled.ID, PageViews: 5})

	report, err := svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Match.Matched != 0 || report.Match.Skipped != 2 {
		t.Errorf("match stats = %+v, want 0 matched / 2 skipped", report.Match)
	}
	if len(repo.prospects) != 0 {
		t.Errorf("non-qualifying clients grew prospects")
	}
}

func TestRunClientModeScopes(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{})

	a := repo.addClient(domain.TierPremium, true)
	b := repo.addClient(domain.TierPremium, true)
	repo.addCampaign(a.ID, time.Now().Add(-24*time.Hour))
	repo.addCampaign(b.ID, time.Now().Add(-24*time.Hour))
	repo.addVisitor(&domain.Visitor{ClientID: a.ID, PageViews: 1})
	repo.addVisitor(&domain.Visitor{ClientID: b.ID, PageViews: 1})

	if _, err := svc.Run(context.Background(), domain.JobClient, nil); !errors.Is(err, lifecycle.ErrClientRequired) {
		t.Fatalf("client mode without id: want ErrClientRequired, got %v", err)
	}

	report, err := svc.Run(context.Background(), domain.JobClient, &a.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Match.Matched != 1 || report.Prospects.Created != 1 {
		t.Errorf("client scope leaked: %+v", report)
	}
	for _, p := range repo.prospects {
		if campaign := repo.campaigns[p.CampaignID]; campaign.ClientID != a.ID {
			t.Errorf("prospect created for wrong client %d", campaign.ClientID)
		}
	}
}

func TestRunStageFailureAbortsButReports(t *testing.T) {
	repo := newMemRepo()
	repo.failScoring = true
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{})

	client := repo.addClient(domain.TierPremium, true)
	repo.addCampaign(client.ID, time.Now().Add(-24*time.Hour))
	repo.addVisitor(&domain.Visitor{ClientID: client.ID, PageViews: 1})

	report, err := svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("stage failure must not error the call: %v", err)
	}
	if !report.Failed() || !strings.Contains(report.Error, "score stage") {
		t.Errorf("error indicator = %q", report.Error)
	}
	if report.Match.Matched != 1 {
		t.Errorf("stage 1 stats lost: %+v", report.Match)
	}
	if report.Prospects.Created != 0 || report.Rooms.Transitions != 0 {
		t.Errorf("later stages ran after abort: %+v", report)
	}
	if len(repo.runs) != 1 {
		t.Errorf("failed run not persisted")
	}
}

func TestRunPerVisitorScoringErrors(t *testing.T) {
	repo := newMemRepo()

	broken := repo.addClient(domain.TierPremium, true)
	healthy := repo.addClient(domain.TierPremium, true)
	svc, _ := newTestService(repo, &stubRules{missing: map[int64]bool{broken.ID: true}}, lifecycle.Options{})
	repo.addCampaign(broken.ID, time.Now().Add(-24*time.Hour))
	repo.addCampaign(healthy.ID, time.Now().Add(-24*time.Hour))
	repo.addVisitor(&domain.Visitor{ClientID: broken.ID, PageViews: 1})
	repo.addVisitor(&domain.Visitor{ClientID: healthy.ID, PageViews: 1})

	report, err := svc.Run(context.Background(), domain.JobIncremental, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("per-visitor error aborted the run: %s", report.Error)
	}
	if report.Scores.Scored != 1 || report.Scores.Errors != 1 {
		t.Errorf("score stats = %+v, want 1 scored / 1 error", report.Scores)
	}
	if report.Prospects.Created != 1 {
		t.Errorf("healthy visitor should still become a prospect: %+v", report.Prospects)
	}
}

func TestRunLock(t *testing.T) {
	repo := newMemRepo()
	busy := &stubLock{acquired: false}
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{Lock: busy})

	if _, err := svc.Run(context.Background(), domain.JobIncremental, nil); !errors.Is(err, lifecycle.ErrJobRunning) {
		t.Fatalf("want ErrJobRunning, got %v", err)
	}
	if busy.releases != 0 {
		t.Error("released a lock that was never held")
	}

	free := &stubLock{acquired: true}
	svc, _ = newTestService(repo, &stubRules{}, lifecycle.Options{Lock: free})
	if _, err := svc.Run(context.Background(), domain.JobIncremental, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if free.releases != 1 {
		t.Errorf("lock releases = %d, want 1", free.releases)
	}
}

func TestRunEnrichment(t *testing.T) {
	repo := newMemRepo()
	enricher := &stubEnricher{firmo: &enrich.Firmographics{
		Domain:        "acme.test",
		CompanyName:   "Acme Rockets",
		Industry:      "aerospace",
		EmployeeCount: 230,
	}}
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{Enricher: enricher})

	client := repo.addClient(domain.TierPremium, true)
	repo.addCampaign(client.ID, time.Now().Add(-24*time.Hour))
	v := repo.addVisitor(&domain.Visitor{ClientID: client.ID, Email: "dana@acme.test", PageViews: 1})
	known := repo.addVisitor(&domain.Visitor{ClientID: client.ID, Email: "lee@known.test", CompanyName: "Known Co", PageViews: 1})

	if _, err := svc.Run(context.Background(), domain.JobIncremental, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if enricher.verifyCalls != 2 {
		t.Errorf("verify calls = %d, want 2", enricher.verifyCalls)
	}
	if enricher.companyCalls != 1 {
		t.Errorf("company lookups = %d, want 1 (only the visitor without company data)", enricher.companyCalls)
	}
	if repo.visitors[v.ID].CompanyName != "Acme Rockets" {
		t.Errorf("company not backfilled: %+v", repo.visitors[v.ID])
	}
	if repo.visitors[known.ID].CompanyName != "Known Co" {
		t.Errorf("existing company overwritten: %+v", repo.visitors[known.ID])
	}
}

func TestRunsHistory(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &stubRules{}, lifecycle.Options{})

	for i := 0; i < 3; i++ {
		if _, err := svc.Run(context.Background(), domain.JobIncremental, nil); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	runs, err := svc.Runs(context.Background(), 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) && !runs[0].StartedAt.Equal(runs[1].StartedAt) {
		t.Errorf("runs not newest-first: %v then %v", runs[0].StartedAt, runs[1].StartedAt)
	}
}
