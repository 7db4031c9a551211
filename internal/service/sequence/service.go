package sequence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/nurture-engine/internal/ai"
	"github.com/ignite/nurture-engine/internal/content"
	"github.com/ignite/nurture-engine/internal/domain"
)

// EmailWriter produces the copy for one email slot. The production
// implementation is ai.Writer; tests substitute a stub.
type EmailWriter interface {
	Write(ctx context.Context, pctx ai.PromptContext) (*ai.GenerateResult, error)
}

// ContentSource picks the next content URL to weave into an email. The
// production implementation is content.Library.
type ContentSource interface {
	NextURL(ctx context.Context, client *domain.Client, sent []string) (*content.Item, error)
}

// Service implements the email sequence state machine. It coordinates the
// repository, the AI writer, and the content library. All public methods are
// safe for concurrent use if the underlying repository is concurrency-safe;
// slot exclusion is enforced by the repository's conditional state update.
type Service struct {
	repo    Repository
	writer  EmailWriter
	library ContentSource

	// pixelBase is the externally reachable origin for open-pixel URLs.
	pixelBase string

	now func() time.Time
}

// NewService creates a sequence service. library may be nil when no content
// feeds are configured; emails then go out without a content link.
func NewService(repo Repository, writer EmailWriter, library ContentSource, pixelBaseURL string) *Service {
	return &Service{
		repo:      repo,
		writer:    writer,
		library:   library,
		pixelBase: strings.TrimRight(pixelBaseURL, "/"),
		now:       time.Now,
	}
}

// GenerateInput holds the fields for generating one email slot.
type GenerateInput struct {
	ProspectID      int64  `json:"prospect_id"`
	Room            string `json:"room_type"`
	EmailNumber     int    `json:"email_number"`
	ForceRegenerate bool   `json:"force_regenerate"`
}

// GenerateOutput is the result of a Generate or StoreExternal call.
type GenerateOutput struct {
	Tracking *domain.TrackingRecord `json:"tracking"`
	State    domain.EmailState      `json:"state"`
	Cached   bool                   `json:"cached"`
}

// Generate runs the full generation transition for one slot: claim it,
// write the email through the AI provider, persist the tracking record, and
// mark the slot ready. Any failure after the claim restores the exact state
// captured before the attempt.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	p, slot, err := s.loadSlot(ctx, in.ProspectID, in.Room, in.EmailNumber)
	if err != nil {
		return nil, err
	}

	prior, cached, err := s.claimSlot(ctx, p, slot, in.ForceRegenerate)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return &GenerateOutput{Tracking: cached, State: domain.EmailReady, Cached: true}, nil
	}

	client, err := s.repo.ClientForProspect(ctx, p.ID)
	if err != nil {
		s.restore(ctx, p.ID, slot, prior)
		return nil, fmt.Errorf("load client: %v: %w", err, errStorage)
	}

	contentURL := s.nextContentURL(ctx, client, p)
	pctx := ai.PromptContext{
		ProspectName: p.Name,
		Title:        p.Title,
		ClientName:   client.Name,
		Room:         slot.Room,
		EmailNumber:  slot.Number,
		ContentURL:   contentURL,
	}
	if v, err := s.repo.VisitorForProspect(ctx, p.ID); err == nil {
		pctx.CompanyName = v.CompanyName
		pctx.Industry = v.Industry
	}

	res, err := s.writer.Write(ctx, pctx)
	if err != nil {
		s.restore(ctx, p.ID, slot, prior)
		return nil, fmt.Errorf("generate %s for prospect %d: %w", slot, p.ID, err)
	}

	rec, err := s.persistDraft(ctx, p.ID, slot, prior, draft{
		Subject:          res.Subject,
		BodyHTML:         res.BodyHTML,
		BodyText:         res.BodyText,
		ContentURL:       contentURL,
		Model:            res.Model,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		CostUSD:          res.CostUSD,
	})
	if err != nil {
		return nil, err
	}
	return &GenerateOutput{Tracking: rec, State: domain.EmailReady}, nil
}

// StoreExternalInput holds pre-generated content pushed from an outside
// pipeline.
type StoreExternalInput struct {
	ProspectID      int64  `json:"prospect_id"`
	Room            string `json:"room_type"`
	EmailNumber     int    `json:"email_number"`
	Subject         string `json:"subject"`
	BodyHTML        string `json:"body_html"`
	BodyText        string `json:"body_text"`
	ContentURL      string `json:"content_url"`
	Model           string `json:"model"`
	ForceRegenerate bool   `json:"force_regenerate"`
}

// StoreExternal applies the Generate transitions to content produced
// outside this service. The slot passes through generating so concurrent
// writers still exclude each other.
func (s *Service) StoreExternal(ctx context.Context, in StoreExternalInput) (*GenerateOutput, error) {
	if in.Subject == "" || in.BodyHTML == "" {
		return nil, fmt.Errorf("subject and body_html are required")
	}

	p, slot, err := s.loadSlot(ctx, in.ProspectID, in.Room, in.EmailNumber)
	if err != nil {
		return nil, err
	}

	prior, cached, err := s.claimSlot(ctx, p, slot, in.ForceRegenerate)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return &GenerateOutput{Tracking: cached, State: domain.EmailReady, Cached: true}, nil
	}

	model := in.Model
	if model == "" {
		model = "external"
	}
	rec, err := s.persistDraft(ctx, p.ID, slot, prior, draft{
		Subject:    in.Subject,
		BodyHTML:   in.BodyHTML,
		BodyText:   in.BodyText,
		ContentURL: in.ContentURL,
		Model:      model,
	})
	if err != nil {
		return nil, err
	}
	return &GenerateOutput{Tracking: rec, State: domain.EmailReady}, nil
}

// CopyInput holds the copy/send request.
type CopyInput struct {
	TrackingID  int64  `json:"email_tracking_id"`
	ProspectID  int64  `json:"prospect_id"`
	URLIncluded string `json:"url_included"`
	SenderIP    string `json:"-"`
}

// RecordCopy applies the copy/send transition: the operator copied the email
// out and sent it. The ledger update, the slot state, the sequence position,
// and the URL dedup set commit in one transaction.
func (s *Service) RecordCopy(ctx context.Context, in CopyInput) (*domain.TrackingRecord, error) {
	rec, err := s.repo.TrackingByID(ctx, in.TrackingID)
	if err != nil {
		return nil, storageErr("load tracking", err)
	}
	if rec.ProspectID != in.ProspectID {
		return nil, fmt.Errorf("tracking record %d does not belong to prospect %d", in.TrackingID, in.ProspectID)
	}
	if rec.Copied() {
		return nil, ErrAlreadyCopied
	}

	url := in.URLIncluded
	if url == "" {
		url = rec.ContentURL
	}

	err = s.repo.RecordCopy(ctx, CopyParams{
		TrackingID: rec.ID,
		ProspectID: rec.ProspectID,
		Slot:       rec.Slot(),
		SenderIP:   in.SenderIP,
		URL:        url,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCopied) || errors.Is(err, ErrTrackingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("record copy: %v: %w", err, errStorage)
	}

	log.Printf("[Sequence] prospect %d slot %s marked sent (tracking %d)", rec.ProspectID, rec.Slot(), rec.ID)
	out, err := s.repo.TrackingByID(ctx, rec.ID)
	if err != nil {
		return nil, storageErr("reload tracking", err)
	}
	return out, nil
}

// RecordOpen handles a tracking-pixel fetch. It never returns an error: the
// remote client only ever sees the pixel. Opens are ignored for unknown
// tokens, for emails not yet copied, for rows missing a sender address, and
// for the sender's own IP.
func (s *Service) RecordOpen(ctx context.Context, token, ip string) {
	if token == "" {
		return
	}
	rec, err := s.repo.TrackingByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrTrackingNotFound) {
			log.Printf("[Sequence] open lookup failed: %v", err)
		}
		return
	}
	if !rec.Copied() {
		// Not yet sent to anyone; a fetch here is the operator previewing.
		return
	}
	if rec.SenderIP == "" {
		// Without a sender address on record there is no way to tell a
		// recipient open from the sender re-reading their own mail. Opens on
		// such rows never count.
		return
	}
	if ip == rec.SenderIP {
		return
	}
	if rec.OpenedAt != nil {
		return
	}

	if err := s.repo.MarkOpened(ctx, rec.ID, rec.ProspectID, rec.Slot(), s.now()); err != nil {
		log.Printf("[Sequence] record open failed for tracking %d: %v", rec.ID, err)
		return
	}
	log.Printf("[Sequence] prospect %d slot %s opened (tracking %d)", rec.ProspectID, rec.Slot(), rec.ID)
}

// SlotView is one slot's state plus its newest tracking record, if any.
type SlotView struct {
	Slot     string                 `json:"slot"`
	State    domain.EmailState      `json:"state"`
	Tracking *domain.TrackingRecord `json:"tracking,omitempty"`
}

// StatesView is the full sequence picture for one prospect.
type StatesView struct {
	ProspectID       int64             `json:"prospect_id"`
	CurrentRoom      domain.Room       `json:"current_room"`
	SequencePosition int               `json:"email_sequence_position"`
	URLsSent         []string          `json:"urls_sent"`
	Slots            []SlotView        `json:"slots"`
	States           map[string]string `json:"email_states"`
}

// States returns every slot's state for the prospect, with the cached
// tracking record attached to slots that have one.
func (s *Service) States(ctx context.Context, prospectID int64) (*StatesView, error) {
	p, err := s.repo.Prospect(ctx, prospectID)
	if err != nil {
		return nil, storageErr("load prospect", err)
	}
	records, err := s.repo.TrackingForProspect(ctx, prospectID)
	if err != nil {
		return nil, fmt.Errorf("load tracking: %v: %w", err, errStorage)
	}
	bySlot := make(map[string]*domain.TrackingRecord, len(records))
	for i := range records {
		rec := &records[i]
		if _, ok := bySlot[rec.Slot().String()]; !ok {
			bySlot[rec.Slot().String()] = rec
		}
	}

	view := &StatesView{
		ProspectID:       p.ID,
		CurrentRoom:      p.CurrentRoom,
		SequencePosition: p.EmailSequencePosition,
		URLsSent:         p.URLsSent,
		States:           make(map[string]string),
	}
	for _, room := range domain.SequenceRooms() {
		for n := 1; n <= domain.EmailsPerRoom; n++ {
			slot := domain.SlotKey{Room: room, Number: n}
			st := p.EmailStates.Get(slot)
			view.States[slot.String()] = string(st)
			view.Slots = append(view.Slots, SlotView{
				Slot:     slot.String(),
				State:    st,
				Tracking: bySlot[slot.String()],
			})
		}
	}
	return view, nil
}

// Tracking returns one ledger row by ID.
func (s *Service) Tracking(ctx context.Context, id int64) (*domain.TrackingRecord, error) {
	rec, err := s.repo.TrackingByID(ctx, id)
	if err != nil {
		return nil, storageErr("load tracking", err)
	}
	return rec, nil
}

// storageErr wraps a non-sentinel repository error so Classify buckets it
// as storage trouble. Sentinels pass through untouched for the caller's
// errors.Is checks.
func storageErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTrackingNotFound) {
		return err
	}
	return fmt.Errorf("%s: %v: %w", op, err, errStorage)
}

// loadSlot validates the slot coordinates and loads the prospect.
func (s *Service) loadSlot(ctx context.Context, prospectID int64, room string, number int) (*domain.Prospect, domain.SlotKey, error) {
	r, err := domain.ParseRoom(room)
	if err != nil {
		return nil, domain.SlotKey{}, err
	}
	slot, err := domain.NewSlotKey(r, number)
	if err != nil {
		return nil, domain.SlotKey{}, err
	}
	p, err := s.repo.Prospect(ctx, prospectID)
	if err != nil {
		return nil, domain.SlotKey{}, storageErr("load prospect", err)
	}
	if !p.Active() {
		return nil, domain.SlotKey{}, ErrProspectArchived
	}
	return p, slot, nil
}

// claimSlot enforces the generate preconditions and flips the slot to
// generating. It returns the captured pre-generation state for rollback, or
// the cached record for the idempotent ready path.
func (s *Service) claimSlot(ctx context.Context, p *domain.Prospect, slot domain.SlotKey, force bool) (domain.EmailState, *domain.TrackingRecord, error) {
	prior := p.EmailStates.Get(slot)

	switch {
	case prior == domain.EmailGenerating:
		return prior, nil, ErrGenerationInProgress
	case prior.Delivered():
		return prior, nil, fmt.Errorf("%w: slot %s is %s", ErrSlotAlreadySent, slot, prior)
	case prior == domain.EmailReady && !force:
		rec, err := s.repo.LatestTrackingForSlot(ctx, p.ID, slot)
		if err == nil {
			return prior, rec, nil
		}
		if !errors.Is(err, ErrTrackingNotFound) {
			return prior, nil, fmt.Errorf("load cached email: %v: %w", err, errStorage)
		}
		// Ready with no stored record: heal the slot and regenerate.
		log.Printf("[Sequence] prospect %d slot %s ready without a tracking record, resetting", p.ID, slot)
		if err := s.repo.SetEmailState(ctx, p.ID, slot, domain.EmailPending); err != nil {
			return prior, nil, fmt.Errorf("reset slot: %v: %w", err, errStorage)
		}
		prior = domain.EmailPending
	}

	if prev, ok := slot.Prev(); ok {
		if !p.EmailStates.Get(prev).Delivered() {
			return prior, nil, fmt.Errorf("%w: %s before %s", ErrSlotBlocked, prev, slot)
		}
	}

	if err := s.repo.CompareAndSetEmailState(ctx, p.ID, slot, prior, domain.EmailGenerating); err != nil {
		if errors.Is(err, ErrStateConflict) {
			// Lost the race to another writer; same outcome as observing
			// generating up front.
			return prior, nil, ErrGenerationInProgress
		}
		return prior, nil, fmt.Errorf("claim slot: %v: %w", err, errStorage)
	}
	return prior, nil, nil
}

// draft is finished email copy waiting to be persisted.
type draft struct {
	Subject          string
	BodyHTML         string
	BodyText         string
	ContentURL       string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// persistDraft mints the tracking token, injects the pixel, stores the
// ledger row, and marks the slot ready. Failures restore the captured prior
// state so the slot never sticks at generating.
func (s *Service) persistDraft(ctx context.Context, prospectID int64, slot domain.SlotKey, prior domain.EmailState, d draft) (*domain.TrackingRecord, error) {
	token := uuid.New().String()
	rec := &domain.TrackingRecord{
		ProspectID:       prospectID,
		Room:             slot.Room,
		EmailNumber:      slot.Number,
		Subject:          d.Subject,
		BodyHTML:         s.injectPixel(d.BodyHTML, token),
		BodyText:         d.BodyText,
		ContentURL:       d.ContentURL,
		Token:            token,
		Status:           domain.TrackingGenerated,
		GeneratedAt:      s.now(),
		Model:            d.Model,
		PromptTokens:     d.PromptTokens,
		CompletionTokens: d.CompletionTokens,
		CostUSD:          d.CostUSD,
	}

	id, err := s.repo.CreateTracking(ctx, rec)
	if err != nil {
		s.restore(ctx, prospectID, slot, prior)
		return nil, fmt.Errorf("store email: %v: %w", err, errStorage)
	}
	rec.ID = id

	if err := s.repo.SetEmailState(ctx, prospectID, slot, domain.EmailReady); err != nil {
		s.restore(ctx, prospectID, slot, prior)
		return nil, fmt.Errorf("mark slot ready: %v: %w", err, errStorage)
	}

	log.Printf("[Sequence] prospect %d slot %s ready (tracking %d, model %s)", prospectID, slot, rec.ID, rec.Model)
	return rec, nil
}

// restore puts a slot back to its captured pre-generation state. A failed
// restore is logged and swallowed: the original error matters more, and the
// ready-without-record heal path recovers the slot later.
func (s *Service) restore(ctx context.Context, prospectID int64, slot domain.SlotKey, prior domain.EmailState) {
	if err := s.repo.SetEmailState(ctx, prospectID, slot, prior); err != nil {
		log.Printf("[Sequence] rollback to %s failed for prospect %d slot %s: %v", prior, prospectID, slot, err)
	}
}

// nextContentURL asks the library for the next unsent article. Absence of
// content is not a generation failure.
func (s *Service) nextContentURL(ctx context.Context, client *domain.Client, p *domain.Prospect) string {
	if s.library == nil || client == nil {
		return ""
	}
	item, err := s.library.NextURL(ctx, client, p.URLsSent)
	if err != nil {
		if !errors.Is(err, content.ErrNoContent) {
			log.Printf("[Sequence] content lookup failed for client %d: %v", client.ID, err)
		}
		return ""
	}
	return item.Link
}

// injectPixel appends the open-tracking image to the HTML body, before
// </body> when one exists.
func (s *Service) injectPixel(html, token string) string {
	if s.pixelBase == "" {
		return html
	}
	pixel := fmt.Sprintf(`<img src="%s/emails/track-open/%s" width="1" height="1" alt="" style="display:none;">`, s.pixelBase, token)
	if i := strings.LastIndex(strings.ToLower(html), "</body>"); i >= 0 {
		return html[:i] + pixel + html[i:]
	}
	return html + pixel
}
