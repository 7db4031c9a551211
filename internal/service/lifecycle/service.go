package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/enrich"
	"github.com/ignite/nurture-engine/internal/pkg/distlock"
	"github.com/ignite/nurture-engine/internal/pkg/logger"
	"github.com/ignite/nurture-engine/internal/rooms"
	"github.com/ignite/nurture-engine/internal/scoring"
)

// scoreSyncThreshold is the minimum absolute score change an incremental
// run pushes onto an existing prospect. Full runs always sync.
const scoreSyncThreshold = 1

// Enricher augments new prospects with verification and firmographic data.
// The production implementation is enrich.Client.
type Enricher interface {
	Enabled() bool
	Verify(ctx context.Context, email string) (*enrich.Verification, error)
	EnrichCompany(ctx context.Context, domain string) (*enrich.Firmographics, error)
}

// Service runs the four-stage lifecycle job. All public methods are safe
// for concurrent use; Run itself is additionally serialized by the
// distributed lock when one is configured.
type Service struct {
	repo     Repository
	engine   *scoring.Engine
	resolver *rooms.Resolver
	translog rooms.TransitionLog

	enricher   Enricher
	lock       distlock.DistLock
	staleAfter time.Duration

	plog *logger.Logger
	now  func() time.Time
}

// Options carries the optional run collaborators.
type Options struct {
	// Enricher is consulted for new prospects; nil disables enrichment.
	Enricher Enricher

	// Lock serializes runs across instances; nil skips locking.
	Lock distlock.DistLock

	// StaleScoreAfter is the incremental-mode staleness window.
	// Defaults to 7 days.
	StaleScoreAfter time.Duration
}

// NewService creates a lifecycle service.
func NewService(repo Repository, engine *scoring.Engine, resolver *rooms.Resolver, translog rooms.TransitionLog, opts Options) *Service {
	if opts.StaleScoreAfter <= 0 {
		opts.StaleScoreAfter = 7 * 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		engine:     engine,
		resolver:   resolver,
		translog:   translog,
		enricher:   opts.Enricher,
		lock:       opts.Lock,
		staleAfter: opts.StaleScoreAfter,
		plog:       logger.Component("Lifecycle"),
		now:        time.Now,
	}
}

// run carries one invocation's scope and per-run caches.
type run struct {
	mode     domain.JobMode
	clientID *int64
	report   *domain.RunReport

	// Stage 1 resolves each client's campaign once per run.
	campaigns  map[int64]*domain.Campaign
	noCampaign map[int64]bool
}

// Run executes the four stages for the given mode. Stage-level failures
// abort the remaining stages but Run still returns the partial report with
// its error indicator set; the error return is reserved for pre-run
// problems (bad arguments, lock contention).
func (s *Service) Run(ctx context.Context, mode domain.JobMode, clientID *int64) (*domain.RunReport, error) {
	if mode == domain.JobClient && clientID == nil {
		return nil, ErrClientRequired
	}
	if mode != domain.JobClient {
		clientID = nil
	}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire job lock: %w", err)
		}
		if !acquired {
			return nil, ErrJobRunning
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				log.Printf("[Lifecycle] release job lock: %v", err)
			}
		}()
	}

	r := &run{
		mode:       mode,
		clientID:   clientID,
		campaigns:  make(map[int64]*domain.Campaign),
		noCampaign: make(map[int64]bool),
		report: &domain.RunReport{
			ID:        uuid.New().String(),
			Mode:      mode,
			ClientID:  clientID,
			StartedAt: s.now(),
		},
	}
	log.Printf("[Lifecycle] run %s starting (mode=%s client=%s)", r.report.ID, mode, fmtClientID(clientID))

	stages := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"match", s.matchCampaigns},
		{"score", s.calculateScores},
		{"prospects", s.syncProspects},
		{"rooms", s.assignRooms},
	}
	for _, stage := range stages {
		if err := stage.fn(ctx, r); err != nil {
			r.report.Error = fmt.Sprintf("%s stage: %v", stage.name, err)
			log.Printf("[Lifecycle] run %s aborted at %s stage: %v", r.report.ID, stage.name, err)
			break
		}
	}

	r.report.FinishedAt = s.now()
	r.report.DurationMS = r.report.FinishedAt.Sub(r.report.StartedAt).Milliseconds()

	if err := s.repo.SaveRun(ctx, r.report); err != nil {
		log.Printf("[Lifecycle] persist run %s: %v", r.report.ID, err)
	}

	m := r.report
	log.Printf("[Lifecycle] run %s finished in %dms: matched=%d scored=%d created=%d updated=%d transitions=%d errors=%d",
		m.ID, m.DurationMS, m.Match.Matched, m.Scores.Scored, m.Prospects.Created, m.Prospects.Updated,
		m.Rooms.Transitions, m.Scores.Errors+m.Prospects.Errors+m.Rooms.Errors)
	return r.report, nil
}

// Runs returns recent job history, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]domain.RunReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.RecentRuns(ctx, limit)
}

// matchCampaigns is stage 1: attach each visitor to its client's active
// qualifying campaign.
func (s *Service) matchCampaigns(ctx context.Context, r *run) error {
	var (
		visitors []domain.Visitor
		err      error
	)
	if r.mode == domain.JobIncremental {
		visitors, err = s.repo.VisitorsWithoutCampaign(ctx, r.clientID)
	} else {
		visitors, err = s.repo.VisitorsForMatching(ctx, r.clientID)
	}
	if err != nil {
		return fmt.Errorf("list visitors: %w", err)
	}

	for i := range visitors {
		v := &visitors[i]
		c, err := s.campaignFor(ctx, r, v.ClientID)
		if err != nil {
			if !errors.Is(err, ErrNoCampaign) {
				log.Printf("[Lifecycle] match visitor %d: %v", v.ID, err)
			}
			r.report.Match.Skipped++
			continue
		}
		if v.CampaignID != nil && *v.CampaignID == c.ID {
			r.report.Match.Matched++
			continue
		}
		if err := s.repo.AssignCampaign(ctx, v.ID, c.ID); err != nil {
			log.Printf("[Lifecycle] assign campaign %d to visitor %d: %v", c.ID, v.ID, err)
			r.report.Match.Skipped++
			continue
		}
		r.report.Match.Matched++
	}
	return nil
}

// campaignFor resolves (and caches for the run) the client's qualifying
// campaign.
func (s *Service) campaignFor(ctx context.Context, r *run, clientID int64) (*domain.Campaign, error) {
	if c, ok := r.campaigns[clientID]; ok {
		return c, nil
	}
	if r.noCampaign[clientID] {
		return nil, ErrNoCampaign
	}
	c, err := s.repo.QualifyingCampaign(ctx, clientID, s.now())
	if err != nil {
		if errors.Is(err, ErrNoCampaign) {
			r.noCampaign[clientID] = true
		}
		return nil, err
	}
	r.campaigns[clientID] = c
	return c, nil
}

// calculateScores is stage 2: refresh stale (or, in full mode, all) scores.
func (s *Service) calculateScores(ctx context.Context, r *run) error {
	f := ScoreFilter{ClientID: r.clientID, All: r.mode != domain.JobIncremental}
	if !f.All {
		f.StaleBefore = s.now().Add(-s.staleAfter)
	}
	visitors, err := s.repo.VisitorsForScoring(ctx, f)
	if err != nil {
		return fmt.Errorf("list visitors: %w", err)
	}

	for i := range visitors {
		v := &visitors[i]
		if _, err := s.engine.ScoreAndPersist(ctx, v, v.ClientID, s.repo); err != nil {
			log.Printf("[Lifecycle] score visitor %d: %v", v.ID, err)
			r.report.Scores.Errors++
			continue
		}
		r.report.Scores.Scored++
	}
	return nil
}

// syncProspects is stage 3: create prospects for newly qualified visitors
// and push meaningful score changes onto existing ones.
func (s *Service) syncProspects(ctx context.Context, r *run) error {
	visitors, err := s.repo.VisitorsForProspecting(ctx, r.clientID)
	if err != nil {
		return fmt.Errorf("list visitors: %w", err)
	}

	for i := range visitors {
		v := &visitors[i]
		if v.CampaignID == nil || v.LeadScore <= 0 {
			r.report.Prospects.Skipped++
			continue
		}

		existing, err := s.repo.ProspectByVisitorCampaign(ctx, v.ID, *v.CampaignID)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := s.createProspect(ctx, v); err != nil {
				log.Printf("[Lifecycle] create prospect for visitor %d: %v", v.ID, err)
				r.report.Prospects.Errors++
				continue
			}
			r.report.Prospects.Created++
		case err != nil:
			log.Printf("[Lifecycle] load prospect for visitor %d: %v", v.ID, err)
			r.report.Prospects.Errors++
		default:
			delta := v.LeadScore - existing.LeadScore
			if delta < 0 {
				delta = -delta
			}
			if r.mode == domain.JobIncremental && delta < scoreSyncThreshold {
				r.report.Prospects.Skipped++
				continue
			}
			if err := s.repo.UpdateProspectScore(ctx, existing.ID, v.LeadScore); err != nil {
				log.Printf("[Lifecycle] update prospect %d score: %v", existing.ID, err)
				r.report.Prospects.Errors++
				continue
			}
			r.report.Prospects.Updated++
		}
	}
	return nil
}

// createProspect seeds a new prospect with the visitor's score and its
// initial room, then runs best-effort enrichment.
func (s *Service) createProspect(ctx context.Context, v *domain.Visitor) error {
	p := &domain.Prospect{
		VisitorID:   v.ID,
		CampaignID:  *v.CampaignID,
		Name:        v.Name,
		Email:       v.Email,
		Title:       v.Title,
		CurrentRoom: s.resolver.RoomFor(ctx, v.ClientID, v.LeadScore),
		LeadScore:   v.LeadScore,
		EmailStates: domain.EmailStates{},
	}
	id, err := s.repo.CreateProspect(ctx, p)
	if err != nil {
		return err
	}
	p.ID = id
	s.enrichVisitor(ctx, v)
	return nil
}

// enrichVisitor verifies the address and backfills missing company fields.
// Failures are logged and dropped; enrichment never blocks the pipeline.
func (s *Service) enrichVisitor(ctx context.Context, v *domain.Visitor) {
	if s.enricher == nil || !s.enricher.Enabled() || v.Email == "" {
		return
	}

	if ver, err := s.enricher.Verify(ctx, v.Email); err != nil {
		s.plog.Debug("email verification failed", "visitor_id", v.ID, "error", err.Error())
	} else if !ver.Deliverable() {
		s.plog.Warn("prospect email likely undeliverable",
			"visitor_id", v.ID,
			"email", logger.RedactEmail(v.Email),
			"status", ver.Status)
	}

	if v.CompanyName != "" {
		return
	}
	dom := emailDomain(v.Email)
	if dom == "" {
		return
	}
	f, err := s.enricher.EnrichCompany(ctx, dom)
	if err != nil {
		if !errors.Is(err, enrich.ErrNotFound) {
			s.plog.Debug("company enrichment failed", "visitor_id", v.ID, "domain", dom, "error", err.Error())
		}
		return
	}
	if err := s.repo.UpdateVisitorCompany(ctx, v.ID, *f); err != nil {
		log.Printf("[Lifecycle] backfill company for visitor %d: %v", v.ID, err)
	}
}

// assignRooms is stage 4: recompute every candidate's room and log moves.
func (s *Service) assignRooms(ctx context.Context, r *run) error {
	cands, err := s.repo.RoomCandidates(ctx, r.clientID)
	if err != nil {
		return fmt.Errorf("list prospects: %w", err)
	}

	for _, c := range cands {
		target := s.resolver.RoomFor(ctx, c.ClientID, c.Prospect.LeadScore)
		if target == c.Prospect.CurrentRoom {
			continue
		}
		if err := s.repo.UpdateProspectRoom(ctx, c.Prospect.ID, target); err != nil {
			log.Printf("[Lifecycle] move prospect %d to %s: %v", c.Prospect.ID, target, err)
			r.report.Rooms.Errors++
			continue
		}
		transition := domain.RoomTransition{
			ProspectID: c.Prospect.ID,
			FromRoom:   c.Prospect.CurrentRoom,
			ToRoom:     target,
			Reason:     fmt.Sprintf("score %d", c.Prospect.LeadScore),
			CreatedAt:  s.now(),
		}
		if err := s.translog.LogTransition(ctx, transition); err != nil {
			log.Printf("[Lifecycle] log transition for prospect %d: %v", c.Prospect.ID, err)
		}
		r.report.Rooms.Transitions++
	}
	return nil
}

func emailDomain(email string) string {
	_, dom, found := strings.Cut(email, "@")
	if !found || dom == "" {
		return ""
	}
	return strings.ToLower(dom)
}

func fmtClientID(id *int64) string {
	if id == nil {
		return "all"
	}
	return fmt.Sprintf("%d", *id)
}
