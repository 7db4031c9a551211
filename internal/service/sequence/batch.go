package sequence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/pkg/logger"
)

// BatchInput selects the prospects for one batch generation pass.
type BatchInput struct {
	Room             string `json:"room_type"`
	CampaignID       *int64 `json:"campaign_id"`
	ClientID         *int64 `json:"client_id"`
	SkipIfRecentDays int    `json:"skip_if_recent_days"`
}

// BatchOutcome labels one prospect's result within a batch.
type BatchOutcome string

const (
	OutcomeGenerated BatchOutcome = "generated"
	OutcomeSkipped   BatchOutcome = "skipped"
	OutcomeFailed    BatchOutcome = "failed"
)

// BatchDetail is the per-prospect line of a batch summary.
type BatchDetail struct {
	ProspectID int64        `json:"prospect_id"`
	Slot       string       `json:"slot,omitempty"`
	Outcome    BatchOutcome `json:"outcome"`
	Reason     string       `json:"reason,omitempty"`
}

// BatchResult summarizes one batch generation pass.
type BatchResult struct {
	Room      domain.Room   `json:"room"`
	Eligible  int           `json:"eligible"`
	Generated int           `json:"generated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Details   []BatchDetail `json:"details"`
}

// BatchGenerate walks every eligible prospect in a room and generates the
// next ungenerated slot for each. A prospect whose next slot is already
// ready or generating is skipped, as is one whose sequence is complete or
// who was generated for recently. Individual failures are recorded with a
// reason and never abort the batch.
func (s *Service) BatchGenerate(ctx context.Context, in BatchInput) (*BatchResult, error) {
	room, err := domain.ParseRoom(in.Room)
	if err != nil {
		return nil, err
	}
	if !room.IsSequenceRoom() {
		return nil, fmt.Errorf("room %q has no email sequence", room)
	}

	prospects, err := s.repo.EligibleProspects(ctx, room, in.CampaignID, in.ClientID)
	if err != nil {
		return nil, fmt.Errorf("list prospects: %v: %w", err, errStorage)
	}

	blog := logger.Component("BatchGenerate")
	result := &BatchResult{Room: room, Eligible: len(prospects)}
	for i := range prospects {
		p := &prospects[i]
		detail := s.generateNext(ctx, p, room, in.SkipIfRecentDays)
		result.Details = append(result.Details, detail)
		switch detail.Outcome {
		case OutcomeGenerated:
			result.Generated++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
			blog.Warn("generation failed",
				"prospect_id", p.ID,
				"email", logger.RedactEmail(p.Email),
				"slot", detail.Slot,
				"reason", detail.Reason)
		}
	}

	log.Printf("[BatchGenerate] room=%s eligible=%d generated=%d skipped=%d failed=%d",
		room, result.Eligible, result.Generated, result.Skipped, result.Failed)
	return result, nil
}

// generateNext finds the prospect's next ungenerated slot in the room and
// runs one generation for it.
func (s *Service) generateNext(ctx context.Context, p *domain.Prospect, room domain.Room, skipRecentDays int) BatchDetail {
	if skipRecentDays > 0 {
		last, err := s.repo.LastGeneratedAt(ctx, p.ID, room)
		if err != nil {
			return BatchDetail{ProspectID: p.ID, Outcome: OutcomeFailed, Reason: fmt.Sprintf("recent check: %v", err)}
		}
		if last != nil && s.now().Sub(*last) < time.Duration(skipRecentDays)*24*time.Hour {
			return BatchDetail{ProspectID: p.ID, Outcome: OutcomeSkipped, Reason: fmt.Sprintf("generated within %d days", skipRecentDays)}
		}
	}

	slot, skip := nextSlot(p, room)
	if skip != "" {
		return BatchDetail{ProspectID: p.ID, Outcome: OutcomeSkipped, Reason: skip}
	}

	out, err := s.Generate(ctx, GenerateInput{
		ProspectID:  p.ID,
		Room:        string(room),
		EmailNumber: slot.Number,
	})
	if err != nil {
		return BatchDetail{
			ProspectID: p.ID,
			Slot:       slot.String(),
			Outcome:    OutcomeFailed,
			Reason:     fmt.Sprintf("%s: %v", Classify(err), err),
		}
	}
	detail := BatchDetail{ProspectID: p.ID, Slot: slot.String(), Outcome: OutcomeGenerated}
	if out.Cached {
		detail.Reason = "cached"
	}
	return detail
}

// nextSlot picks the first slot in the room that still needs generation.
// The returned skip reason is non-empty when the prospect should be passed
// over: next slot already ready or generating, or all five done.
func nextSlot(p *domain.Prospect, room domain.Room) (domain.SlotKey, string) {
	for n := 1; n <= domain.EmailsPerRoom; n++ {
		slot := domain.SlotKey{Room: room, Number: n}
		switch st := p.EmailStates.Get(slot); st {
		case domain.EmailSent, domain.EmailOpened:
			continue
		case domain.EmailReady:
			return slot, fmt.Sprintf("slot %s already ready", slot)
		case domain.EmailGenerating:
			return slot, fmt.Sprintf("slot %s generation in progress", slot)
		default:
			// pending or failed: this is the one to generate.
			return slot, ""
		}
	}
	return domain.SlotKey{}, "sequence complete"
}
