package sequence

import (
	"context"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
)

// Repository defines the data access contract for the sequence service.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Prospect returns a single prospect. Returns ErrNotFound if it doesn't
	// exist.
	Prospect(ctx context.Context, id int64) (*domain.Prospect, error)

	// ClientForProspect resolves the client owning the prospect's campaign.
	ClientForProspect(ctx context.Context, prospectID int64) (*domain.Client, error)

	// VisitorForProspect returns the visitor behind the prospect, used for
	// prompt personalization (company name, industry).
	VisitorForProspect(ctx context.Context, prospectID int64) (*domain.Visitor, error)

	// SetEmailState writes one slot's state unconditionally.
	SetEmailState(ctx context.Context, prospectID int64, slot domain.SlotKey, st domain.EmailState) error

	// CompareAndSetEmailState writes one slot's state only when the stored
	// state still equals from. Returns ErrStateConflict when another writer
	// got there first.
	CompareAndSetEmailState(ctx context.Context, prospectID int64, slot domain.SlotKey, from, to domain.EmailState) error

	// CreateTracking appends one row to the email-tracking ledger and
	// returns its ID.
	CreateTracking(ctx context.Context, rec *domain.TrackingRecord) (int64, error)

	// TrackingByID returns one ledger row. Returns ErrTrackingNotFound if it
	// doesn't exist.
	TrackingByID(ctx context.Context, id int64) (*domain.TrackingRecord, error)

	// TrackingByToken looks a ledger row up by its pixel token. Returns
	// ErrTrackingNotFound for unknown tokens.
	TrackingByToken(ctx context.Context, token string) (*domain.TrackingRecord, error)

	// LatestTrackingForSlot returns the newest ledger row for a slot, or
	// ErrTrackingNotFound when the slot was never generated.
	LatestTrackingForSlot(ctx context.Context, prospectID int64, slot domain.SlotKey) (*domain.TrackingRecord, error)

	// TrackingForProspect returns the newest ledger row per slot for a
	// prospect, newest-first.
	TrackingForProspect(ctx context.Context, prospectID int64) ([]domain.TrackingRecord, error)

	// RecordCopy applies the copy/send transaction: the ledger row becomes
	// copied with the sender's IP, the slot state becomes sent, the sequence
	// position advances, and the content URL joins urls_sent (deduplicated).
	// All writes commit together or not at all. Returns ErrAlreadyCopied if
	// the row was copied before.
	RecordCopy(ctx context.Context, p CopyParams) error

	// MarkOpened records the first open of a ledger row and flips the slot
	// state to opened. Later opens must keep the original timestamp.
	MarkOpened(ctx context.Context, trackingID, prospectID int64, slot domain.SlotKey, at time.Time) error

	// EligibleProspects lists active, non-handed-off prospects currently in
	// the room, optionally narrowed to one campaign or client.
	EligibleProspects(ctx context.Context, room domain.Room, campaignID, clientID *int64) ([]domain.Prospect, error)

	// LastGeneratedAt returns when the prospect's newest email in the room
	// was generated, or nil when none was.
	LastGeneratedAt(ctx context.Context, prospectID int64, room domain.Room) (*time.Time, error)
}

// CopyParams carries the copy/send transaction inputs.
type CopyParams struct {
	TrackingID int64
	ProspectID int64
	Slot       domain.SlotKey
	SenderIP   string
	URL        string // content URL to record in urls_sent, may be empty
}
