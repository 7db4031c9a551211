package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/pkg/httputil"
	"github.com/ignite/nurture-engine/internal/scoring"
	"github.com/ignite/nurture-engine/internal/service/lifecycle"
	"github.com/ignite/nurture-engine/internal/service/sequence"
)

// parseIDParam converts a query parameter to an id, treating absent or
// malformed values as zero.
func parseIDParam(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// CalculateScore recomputes one visitor's intent score on demand, resolves
// the matching room, and syncs both back onto the prospect row when one
// exists. Accepts either a visitor or a prospect as the starting point.
//
//	GET /api/v1/calculate-score?visitor_id=…&client_id=…
//	GET /api/v1/calculate-score?prospect_id=…
func (h *Handlers) CalculateScore(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.resolver == nil || h.scores == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "scoring is not configured")
		return
	}

	q := r.URL.Query()
	visitorID := parseIDParam(q.Get("visitor_id"))
	prospectID := parseIDParam(q.Get("prospect_id"))
	clientID := parseIDParam(q.Get("client_id"))
	if visitorID <= 0 && prospectID <= 0 {
		httputil.BadRequest(w, "visitor_id or prospect_id is required")
		return
	}

	ctx := r.Context()

	var p *domain.Prospect
	if prospectID > 0 {
		var err error
		p, err = h.prospects.Prospect(ctx, prospectID)
		if err != nil {
			if errors.Is(err, sequence.ErrNotFound) {
				httputil.NotFound(w, err.Error())
				return
			}
			respondSafeError(w, http.StatusInternalServerError, err)
			return
		}
		visitorID = p.VisitorID
	}

	v, err := h.scores.Visitor(ctx, visitorID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			httputil.NotFound(w, "visitor not found")
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}

	if clientID <= 0 {
		clientID = v.ClientID
	}
	if clientID <= 0 {
		httputil.BadRequest(w, "client_id is required")
		return
	}

	result, err := h.engine.ScoreAndPersist(ctx, v, clientID, h.scores)
	if err != nil {
		if errors.Is(err, scoring.ErrNoRules) {
			httputil.ErrorCode(w, http.StatusInternalServerError, "scoring_rules_missing", err.Error())
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}

	room := h.resolver.RoomFor(ctx, clientID, result.Total)

	// Carry the fresh score onto the prospect row. With only a visitor id
	// the prospect is found through the visitor's campaign, if any.
	if p == nil && v.CampaignID != nil {
		p, err = h.scores.ProspectByVisitorCampaign(ctx, visitorID, *v.CampaignID)
		if err != nil && !errors.Is(err, lifecycle.ErrNotFound) {
			respondSafeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	response := map[string]interface{}{
		"score": result,
		"room":  room,
	}

	if p != nil && p.Active() {
		if err := h.scores.UpdateProspectScore(ctx, p.ID, result.Total); err != nil {
			respondSafeError(w, http.StatusInternalServerError, err)
			return
		}

		currentRoom := p.CurrentRoom
		moved := false
		if !p.RoomLocked() && room != p.CurrentRoom {
			if err := h.scores.UpdateProspectRoom(ctx, p.ID, room); err != nil {
				respondSafeError(w, http.StatusInternalServerError, err)
				return
			}
			transition := domain.RoomTransition{
				ProspectID: p.ID,
				FromRoom:   p.CurrentRoom,
				ToRoom:     room,
				Reason:     fmt.Sprintf("recalculated, score %d", result.Total),
				CreatedAt:  time.Now(),
			}
			if err := h.scores.LogTransition(ctx, transition); err != nil {
				log.Printf("[API] log transition for prospect %d: %v", p.ID, err)
			}
			currentRoom = room
			moved = true
		}

		response["prospect"] = map[string]interface{}{
			"id":           p.ID,
			"lead_score":   result.Total,
			"current_room": currentRoom,
			"moved":        moved,
		}
	}

	httputil.OK(w, response)
}
