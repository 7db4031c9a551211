package sequence

import (
	"errors"

	"github.com/ignite/nurture-engine/internal/ai"
)

// Sentinel errors for the sequence service layer.
var (
	ErrNotFound             = errors.New("prospect not found")
	ErrTrackingNotFound     = errors.New("tracking record not found")
	ErrProspectArchived     = errors.New("prospect is archived")
	ErrSlotBlocked          = errors.New("previous email in sequence not yet sent")
	ErrSlotAlreadySent      = errors.New("email already sent for this slot")
	ErrGenerationInProgress = errors.New("generation already in progress for this slot")
	ErrSequenceComplete     = errors.New("email sequence already complete")
	ErrAlreadyCopied        = errors.New("email already marked as sent")
	ErrStateConflict        = errors.New("email state changed concurrently")
)

// FailureClass buckets a generation error for the caller. The classes map
// to distinct user-facing messages and HTTP statuses.
type FailureClass string

const (
	FailTemplate    FailureClass = "template_config"
	FailRateLimited FailureClass = "rate_limited"
	FailProvider    FailureClass = "provider"
	FailStorage     FailureClass = "storage"
	FailOther       FailureClass = "error"
)

// Classify maps a generation error onto its failure class.
func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, ai.ErrTemplateConfig):
		return FailTemplate
	case errors.Is(err, ai.ErrRateLimited):
		return FailRateLimited
	case errors.Is(err, ai.ErrProvider), errors.Is(err, ai.ErrNotConfigured):
		return FailProvider
	case errors.Is(err, errStorage):
		return FailStorage
	}
	return FailOther
}

// errStorage tags repository failures so Classify can tell them apart from
// provider failures.
var errStorage = errors.New("storage error")
