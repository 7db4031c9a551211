package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/pkg/httputil"
	"github.com/ignite/nurture-engine/internal/service/sequence"
)

// respondSequenceError translates sequence service errors into the API's
// status taxonomy: missing records 404, blocked or conflicting transitions
// 409, rate limits 429, provider trouble 502, storage trouble 500. Anything
// left describes the caller's input and goes back as a 400.
func respondSequenceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sequence.ErrNotFound), errors.Is(err, sequence.ErrTrackingNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, sequence.ErrProspectArchived),
		errors.Is(err, sequence.ErrSlotBlocked),
		errors.Is(err, sequence.ErrSlotAlreadySent),
		errors.Is(err, sequence.ErrSequenceComplete),
		errors.Is(err, sequence.ErrAlreadyCopied),
		errors.Is(err, sequence.ErrStateConflict):
		httputil.Conflict(w, err.Error())
	default:
		switch sequence.Classify(err) {
		case sequence.FailTemplate:
			httputil.ErrorCode(w, http.StatusInternalServerError, "template_config", scrubSecrets(err.Error()))
		case sequence.FailRateLimited:
			httputil.TooManyRequests(w, err.Error())
		case sequence.FailProvider:
			httputil.BadGateway(w, scrubSecrets(err.Error()))
		case sequence.FailStorage:
			respondSafeError(w, http.StatusInternalServerError, err)
		default:
			httputil.BadRequest(w, scrubSecrets(err.Error()))
		}
	}
}

// validSlotRequest checks the shared slot coordinates on generate requests.
func validSlotRequest(w http.ResponseWriter, prospectID int64, room string, emailNumber int) bool {
	if prospectID <= 0 {
		httputil.BadRequest(w, "prospect_id is required")
		return false
	}
	r, err := domain.ParseRoom(room)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return false
	}
	if !r.IsSequenceRoom() {
		httputil.BadRequest(w, "room "+room+" has no email sequence")
		return false
	}
	if emailNumber < 1 || emailNumber > domain.EmailsPerRoom {
		httputil.BadRequest(w, "email_number must be between 1 and "+strconv.Itoa(domain.EmailsPerRoom))
		return false
	}
	return true
}

// GenerateEmail writes one sequence email through the AI provider.
//
//	POST /api/v1/emails/generate
func (h *Handlers) GenerateEmail(w http.ResponseWriter, r *http.Request) {
	var in sequence.GenerateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	if !validSlotRequest(w, in.ProspectID, in.Room, in.EmailNumber) {
		return
	}

	out, err := h.sequences.Generate(r.Context(), in)
	if err != nil {
		if errors.Is(err, sequence.ErrGenerationInProgress) {
			// Another request holds the slot. Not an error state: the caller
			// polls the states endpoint until the slot settles.
			httputil.Accepted(w, map[string]interface{}{
				"status":       "in_progress",
				"prospect_id":  in.ProspectID,
				"room_type":    in.Room,
				"email_number": in.EmailNumber,
			})
			return
		}
		respondSequenceError(w, err)
		return
	}

	httputil.OK(w, out)
}

// StoreExternalEmail stores pre-written copy for a slot, walking the same
// state transitions as Generate without calling the AI provider.
//
//	POST /api/v1/emails/store-external
func (h *Handlers) StoreExternalEmail(w http.ResponseWriter, r *http.Request) {
	var in sequence.StoreExternalInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	if !validSlotRequest(w, in.ProspectID, in.Room, in.EmailNumber) {
		return
	}
	if in.Subject == "" || in.BodyHTML == "" {
		httputil.BadRequest(w, "subject and body_html are required")
		return
	}

	out, err := h.sequences.StoreExternal(r.Context(), in)
	if err != nil {
		if errors.Is(err, sequence.ErrGenerationInProgress) {
			httputil.Accepted(w, map[string]interface{}{
				"status":       "in_progress",
				"prospect_id":  in.ProspectID,
				"room_type":    in.Room,
				"email_number": in.EmailNumber,
			})
			return
		}
		respondSequenceError(w, err)
		return
	}

	httputil.OK(w, out)
}

// TrackCopy marks an email as copied out and sent by the operator. The
// sender's address is taken from the request, never from the body, so the
// open-tracking self-view filter can't be spoofed.
//
//	POST /api/v1/emails/track-copy
func (h *Handlers) TrackCopy(w http.ResponseWriter, r *http.Request) {
	var in sequence.CopyInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.TrackingID <= 0 {
		httputil.BadRequest(w, "email_tracking_id is required")
		return
	}
	if in.ProspectID <= 0 {
		httputil.BadRequest(w, "prospect_id is required")
		return
	}
	in.SenderIP = clientIP(r)

	rec, err := h.sequences.RecordCopy(r.Context(), in)
	if err != nil {
		respondSequenceError(w, err)
		return
	}

	httputil.OK(w, rec)
}

// TrackOpen serves the 1x1 tracking pixel and records the open when it is
// genuine. Every code path answers with the image: a broken token, a
// self-view, or a storage hiccup must never surface to the person reading
// the email.
//
//	GET /emails/track-open/{token}
func (h *Handlers) TrackOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	h.sequences.RecordOpen(r.Context(), token, clientIP(r))
	serveTrackingPixel(w)
}

// serveTrackingPixel returns a 1x1 transparent GIF
func serveTrackingPixel(w http.ResponseWriter) {
	// 1x1 transparent GIF
	pixel := []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
		0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
		0x02, 0x44, 0x01, 0x00, 0x3b,
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixel)
}

// BatchGenerate generates the next pending slot for every eligible prospect
// in a room. Per-prospect skips and failures come back in the summary
// payload rather than as an error status.
//
//	POST /api/v1/emails/batch-generate-cis
func (h *Handlers) BatchGenerate(w http.ResponseWriter, r *http.Request) {
	var in sequence.BatchInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	room, err := domain.ParseRoom(in.Room)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !room.IsSequenceRoom() {
		httputil.BadRequest(w, "room "+in.Room+" has no email sequence")
		return
	}
	if in.SkipIfRecentDays < 0 {
		httputil.BadRequest(w, "skip_if_recent_days must not be negative")
		return
	}

	result, err := h.sequences.BatchGenerate(r.Context(), in)
	if err != nil {
		respondSequenceError(w, err)
		return
	}

	httputil.OK(w, result)
}

// EmailStates returns the full sequence picture for one prospect.
//
//	GET /api/v1/emails/states/{prospect_id}
func (h *Handlers) EmailStates(w http.ResponseWriter, r *http.Request) {
	prospectID, err := strconv.ParseInt(chi.URLParam(r, "prospect_id"), 10, 64)
	if err != nil || prospectID <= 0 {
		httputil.BadRequest(w, "invalid prospect_id")
		return
	}

	view, err := h.sequences.States(r.Context(), prospectID)
	if err != nil {
		respondSequenceError(w, err)
		return
	}

	httputil.OK(w, view)
}

// TrackingRecord returns one tracking ledger entry.
//
//	GET /api/v1/emails/tracking/{id}
func (h *Handlers) TrackingRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid tracking id")
		return
	}

	rec, err := h.sequences.Tracking(r.Context(), id)
	if err != nil {
		respondSequenceError(w, err)
		return
	}

	httputil.OK(w, rec)
}
