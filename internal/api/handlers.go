package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/ignite/nurture-engine/internal/ai"
	"github.com/ignite/nurture-engine/internal/config"
	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/scoring"
	"github.com/ignite/nurture-engine/internal/service/sequence"
)

// SequenceService is the slice of the sequence service the handlers use.
type SequenceService interface {
	Generate(ctx context.Context, in sequence.GenerateInput) (*sequence.GenerateOutput, error)
	StoreExternal(ctx context.Context, in sequence.StoreExternalInput) (*sequence.GenerateOutput, error)
	RecordCopy(ctx context.Context, in sequence.CopyInput) (*domain.TrackingRecord, error)
	RecordOpen(ctx context.Context, token, ip string)
	States(ctx context.Context, prospectID int64) (*sequence.StatesView, error)
	Tracking(ctx context.Context, id int64) (*domain.TrackingRecord, error)
	BatchGenerate(ctx context.Context, in sequence.BatchInput) (*sequence.BatchResult, error)
}

// LifecycleService runs and reports on prospect lifecycle jobs.
type LifecycleService interface {
	Run(ctx context.Context, mode domain.JobMode, clientID *int64) (*domain.RunReport, error)
	Runs(ctx context.Context, limit int) ([]domain.RunReport, error)
}

// ScoringEngine computes a visitor's intent score.
type ScoringEngine interface {
	ScoreAndPersist(ctx context.Context, v *domain.Visitor, clientID int64, w scoring.ScoreWriter) (*domain.ScoreResult, error)
}

// RoomResolver maps scores onto rooms.
type RoomResolver interface {
	RoomFor(ctx context.Context, clientID int64, score int) domain.Room
}

// ScoreStore is the storage surface behind the on-demand scoring endpoint:
// it loads the visitor, persists the fresh score, and syncs the prospect row.
type ScoreStore interface {
	Visitor(ctx context.Context, id int64) (*domain.Visitor, error)
	SaveVisitorScore(ctx context.Context, visitorID int64, score int, at time.Time) error
	ProspectByVisitorCampaign(ctx context.Context, visitorID, campaignID int64) (*domain.Prospect, error)
	UpdateProspectScore(ctx context.Context, prospectID int64, score int) error
	UpdateProspectRoom(ctx context.Context, prospectID int64, room domain.Room) error
	LogTransition(ctx context.Context, t domain.RoomTransition) error
}

// ProspectStore loads prospects by id for the scoring endpoint.
type ProspectStore interface {
	Prospect(ctx context.Context, id int64) (*domain.Prospect, error)
}

// SettingsStore reads and writes the runtime AI configuration.
type SettingsStore interface {
	AISettings(ctx context.Context) (domain.AISettings, error)
	SaveAISettings(ctx context.Context, s domain.AISettings) error
}

// AIWriter resolves providers and renders prompts for the settings endpoints.
type AIWriter interface {
	Provider(s domain.AISettings) (ai.Provider, error)
	RenderPrompt(ctx context.Context, pctx ai.PromptContext) (string, error)
}

// WarehouseSyncer pulls firmographics from the warehouse into visitors.
type WarehouseSyncer interface {
	SyncVisitors(ctx context.Context) (int, error)
}

// ReportArchiver stores nightly run reports (S3). May be nil when archiving
// is not configured.
type ReportArchiver interface {
	StoreReport(ctx context.Context, report *domain.RunReport) error
}

// ReportNotifier emails nightly run digests (SES). May be nil when
// notifications are not configured.
type ReportNotifier interface {
	SendRunDigest(ctx context.Context, report *domain.RunReport) error
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	sequences SequenceService
	jobs      LifecycleService
	engine    ScoringEngine
	resolver  RoomResolver
	scores    ScoreStore
	prospects ProspectStore
	settings  SettingsStore
	writer    AIWriter
	syncer    WarehouseSyncer
	archiver  ReportArchiver
	notifier  ReportNotifier
	config    *config.Config
}

// NewHandlers creates a new Handlers instance around the core services.
// Optional collaborators are attached with the Set* methods.
func NewHandlers(sequences SequenceService, jobs LifecycleService, settings SettingsStore, writer AIWriter) *Handlers {
	return &Handlers{
		sequences: sequences,
		jobs:      jobs,
		settings:  settings,
		writer:    writer,
	}
}

// SetConfig sets the application config.
func (h *Handlers) SetConfig(cfg *config.Config) {
	h.config = cfg
}

// SetScoring wires the on-demand scoring endpoint.
func (h *Handlers) SetScoring(engine ScoringEngine, resolver RoomResolver, scores ScoreStore, prospects ProspectStore) {
	h.engine = engine
	h.resolver = resolver
	h.scores = scores
	h.prospects = prospects
}

// SetWarehouseSyncer wires the warehouse sync trigger.
func (h *Handlers) SetWarehouseSyncer(s WarehouseSyncer) {
	h.syncer = s
}

// SetReportPublishers wires the optional post-run report sinks.
func (h *Handlers) SetReportPublishers(archiver ReportArchiver, notifier ReportNotifier) {
	h.archiver = archiver
	h.notifier = notifier
}

// clientIP extracts the caller's address from the request. The RealIP
// middleware has already folded X-Forwarded-For/X-Real-IP into RemoteAddr,
// so the remote address is authoritative here.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
