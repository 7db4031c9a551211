package lifecycle

import (
	"context"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/enrich"
)

// Repository defines the data access contract for the lifecycle job.
// Implementations must be safe for concurrent use. All listing methods
// exclude archived visitors/prospects; clientID narrows to one client when
// non-nil.
type Repository interface {
	// VisitorsWithoutCampaign lists visitors not yet matched to a campaign
	// (incremental matching input).
	VisitorsWithoutCampaign(ctx context.Context, clientID *int64) ([]domain.Visitor, error)

	// VisitorsForMatching lists every active visitor (full re-match input).
	VisitorsForMatching(ctx context.Context, clientID *int64) ([]domain.Visitor, error)

	// QualifyingCampaign returns the client's currently-active campaign with
	// the newest starts_at, but only when the client is premium with
	// nurturing enabled. Returns ErrNoCampaign otherwise.
	QualifyingCampaign(ctx context.Context, clientID int64, at time.Time) (*domain.Campaign, error)

	// AssignCampaign records the matched campaign on the visitor row.
	AssignCampaign(ctx context.Context, visitorID, campaignID int64) error

	// VisitorsForScoring lists matched visitors due for a score refresh.
	VisitorsForScoring(ctx context.Context, f ScoreFilter) ([]domain.Visitor, error)

	// SaveVisitorScore writes lead_score and score_calculated_at.
	SaveVisitorScore(ctx context.Context, visitorID int64, score int, at time.Time) error

	// VisitorsForProspecting lists matched visitors with a positive score.
	VisitorsForProspecting(ctx context.Context, clientID *int64) ([]domain.Visitor, error)

	// ProspectByVisitorCampaign returns the prospect for a (visitor,
	// campaign) pair. Returns ErrNotFound when none exists.
	ProspectByVisitorCampaign(ctx context.Context, visitorID, campaignID int64) (*domain.Prospect, error)

	// CreateProspect inserts a new prospect and returns its ID.
	CreateProspect(ctx context.Context, p *domain.Prospect) (int64, error)

	// UpdateProspectScore writes the prospect's lead_score.
	UpdateProspectScore(ctx context.Context, prospectID int64, score int) error

	// UpdateVisitorCompany backfills company fields from enrichment. Only
	// empty columns are overwritten.
	UpdateVisitorCompany(ctx context.Context, visitorID int64, f enrich.Firmographics) error

	// RoomCandidates lists active, non-handed-off prospects under
	// qualifying campaigns, paired with their owning client.
	RoomCandidates(ctx context.Context, clientID *int64) ([]RoomCandidate, error)

	// UpdateProspectRoom writes the prospect's current_room.
	UpdateProspectRoom(ctx context.Context, prospectID int64, room domain.Room) error

	// SaveRun persists one run report to job history.
	SaveRun(ctx context.Context, r *domain.RunReport) error

	// RecentRuns returns run history, newest first.
	RecentRuns(ctx context.Context, limit int) ([]domain.RunReport, error)
}

// ScoreFilter selects the stage 2 scoring candidates.
type ScoreFilter struct {
	ClientID *int64

	// All recomputes every matched visitor (full/client modes).
	All bool

	// StaleBefore marks incremental candidates: score null or zero,
	// score_calculated_at missing or before this instant, or the visitor
	// updated since it was calculated.
	StaleBefore time.Time
}

// RoomCandidate pairs a prospect with its owning client for threshold
// resolution.
type RoomCandidate struct {
	Prospect domain.Prospect
	ClientID int64
}
