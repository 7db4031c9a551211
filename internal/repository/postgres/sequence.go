package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/service/sequence"
)

// SequenceRepo implements sequence.Repository against PostgreSQL. Email
// states live in the prospects.email_states JSONB column; generated emails
// in the append-only email_tracking table.
type SequenceRepo struct{ db *sql.DB }

// NewSequenceRepo creates a Postgres-backed sequence repository.
func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

const trackingColumns = `
	id, prospect_id, room, email_number, subject, body_html, body_text,
	COALESCE(content_url,''), tracking_token, status, COALESCE(sender_ip,''),
	generated_at, copied_at, opened_at,
	COALESCE(model,''), prompt_tokens, completion_tokens, cost_usd`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTracking(row rowScanner) (*domain.TrackingRecord, error) {
	t := &domain.TrackingRecord{}
	err := row.Scan(
		&t.ID, &t.ProspectID, &t.Room, &t.EmailNumber, &t.Subject, &t.BodyHTML, &t.BodyText,
		&t.ContentURL, &t.Token, &t.Status, &t.SenderIP,
		&t.GeneratedAt, &t.CopiedAt, &t.OpenedAt,
		&t.Model, &t.PromptTokens, &t.CompletionTokens, &t.CostUSD,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanProspect(row rowScanner) (*domain.Prospect, error) {
	p := &domain.Prospect{}
	var states []byte
	err := row.Scan(
		&p.ID, &p.VisitorID, &p.CampaignID, &p.Name, &p.Email, &p.Title,
		&p.CurrentRoom, &p.LeadScore, &states, &p.EmailSequencePosition,
		pq.Array(&p.URLsSent), &p.SalesHandoffAt, &p.ArchivedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.EmailStates = domain.EmailStates{}
	if len(states) > 0 {
		if err := json.Unmarshal(states, &p.EmailStates); err != nil {
			return nil, fmt.Errorf("decode email states for prospect %d: %w", p.ID, err)
		}
	}
	return p, nil
}

func (r *SequenceRepo) Prospect(ctx context.Context, id int64) (*domain.Prospect, error) {
	p, err := scanProspect(r.db.QueryRowContext(ctx, `
		SELECT id, visitor_id, campaign_id, COALESCE(name,''), COALESCE(email,''), COALESCE(title,''),
		       current_room, lead_score, email_states, email_sequence_position,
		       COALESCE(urls_sent,'{}'), sales_handoff_at, archived_at, created_at, updated_at
		FROM prospects
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prospect: %w", err)
	}
	return p, nil
}

func (r *SequenceRepo) ClientForProspect(ctx context.Context, prospectID int64) (*domain.Client, error) {
	c := &domain.Client{}
	err := r.db.QueryRowContext(ctx, `
		SELECT cl.id, cl.name, cl.tier, cl.nurture_enabled,
		       COALESCE(cl.tracked_domains,'{}'), COALESCE(cl.content_feed_url,''), cl.created_at
		FROM clients cl
		JOIN campaigns c ON c.client_id = cl.id
		JOIN prospects p ON p.campaign_id = c.id
		WHERE p.id = $1
	`, prospectID).Scan(
		&c.ID, &c.Name, &c.Tier, &c.NurtureEnabled,
		pq.Array(&c.TrackedDomains), &c.ContentFeedURL, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sequence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client for prospect: %w", err)
	}
	return c, nil
}

func (r *SequenceRepo) VisitorForProspect(ctx context.Context, prospectID int64) (*domain.Visitor, error) {
	v, err := scanVisitor(r.db.QueryRowContext(ctx, `
		SELECT `+visitorColumns+`
		FROM visitors v
		JOIN prospects p ON p.visitor_id = v.id
		WHERE p.id = $1
	`, prospectID))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visitor for prospect: %w", err)
	}
	return v, nil
}

func (r *SequenceRepo) SetEmailState(ctx context.Context, prospectID int64, slot domain.SlotKey, st domain.EmailState) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE prospects
		SET email_states = jsonb_set(COALESCE(email_states,'{}'::jsonb), $2, to_jsonb($3::text)),
		    updated_at = NOW()
		WHERE id = $1
	`, prospectID, pq.Array([]string{slot.String()}), string(st))
	if err != nil {
		return fmt.Errorf("set email state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sequence.ErrNotFound
	}
	return nil
}

func (r *SequenceRepo) CompareAndSetEmailState(ctx context.Context, prospectID int64, slot domain.SlotKey, from, to domain.EmailState) error {
	// A missing key reads as pending, so the guard coalesces before comparing.
	res, err := r.db.ExecContext(ctx, `
		UPDATE prospects
		SET email_states = jsonb_set(COALESCE(email_states,'{}'::jsonb), $3, to_jsonb($4::text)),
		    updated_at = NOW()
		WHERE id = $1
		  AND COALESCE(email_states->>$2, 'pending') = $5
	`, prospectID, slot.String(), pq.Array([]string{slot.String()}), string(to), string(from))
	if err != nil {
		return fmt.Errorf("compare and set email state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM prospects WHERE id = $1)`, prospectID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("compare and set email state: %w", err)
	}
	if !exists {
		return sequence.ErrNotFound
	}
	return sequence.ErrStateConflict
}

func (r *SequenceRepo) CreateTracking(ctx context.Context, rec *domain.TrackingRecord) (int64, error) {
	status := rec.Status
	if status == "" {
		status = domain.TrackingGenerated
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO email_tracking
			(prospect_id, room, email_number, subject, body_html, body_text,
			 content_url, tracking_token, status, generated_at,
			 model, prompt_tokens, completion_tokens, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, rec.ProspectID, rec.Room, rec.EmailNumber, rec.Subject, rec.BodyHTML, rec.BodyText,
		rec.ContentURL, rec.Token, status, rec.GeneratedAt,
		rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.CostUSD,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create tracking record: %w", err)
	}
	return id, nil
}

func (r *SequenceRepo) TrackingByID(ctx context.Context, id int64) (*domain.TrackingRecord, error) {
	t, err := scanTracking(r.db.QueryRowContext(ctx, `
		SELECT `+trackingColumns+`
		FROM email_tracking
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrTrackingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking record: %w", err)
	}
	return t, nil
}

func (r *SequenceRepo) TrackingByToken(ctx context.Context, token string) (*domain.TrackingRecord, error) {
	t, err := scanTracking(r.db.QueryRowContext(ctx, `
		SELECT `+trackingColumns+`
		FROM email_tracking
		WHERE tracking_token = $1
	`, token))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrTrackingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking by token: %w", err)
	}
	return t, nil
}

func (r *SequenceRepo) LatestTrackingForSlot(ctx context.Context, prospectID int64, slot domain.SlotKey) (*domain.TrackingRecord, error) {
	t, err := scanTracking(r.db.QueryRowContext(ctx, `
		SELECT `+trackingColumns+`
		FROM email_tracking
		WHERE prospect_id = $1 AND room = $2 AND email_number = $3
		ORDER BY generated_at DESC, id DESC
		LIMIT 1
	`, prospectID, slot.Room, slot.Number))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrTrackingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest tracking for slot: %w", err)
	}
	return t, nil
}

func (r *SequenceRepo) TrackingForProspect(ctx context.Context, prospectID int64) ([]domain.TrackingRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, prospect_id, room, email_number, subject, body_html, body_text,
		       content_url, tracking_token, status, sender_ip,
		       generated_at, copied_at, opened_at, model, prompt_tokens, completion_tokens, cost_usd
		FROM (
			SELECT DISTINCT ON (room, email_number) `+trackingColumns+`
			FROM email_tracking
			WHERE prospect_id = $1
			ORDER BY room, email_number, generated_at DESC, id DESC
		) latest
		ORDER BY generated_at DESC, id DESC
	`, prospectID)
	if err != nil {
		return nil, fmt.Errorf("list tracking for prospect: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackingRecord
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracking record: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *SequenceRepo) RecordCopy(ctx context.Context, p sequence.CopyParams) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin copy tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE email_tracking
		SET status = $1, sender_ip = $2, copied_at = NOW()
		WHERE id = $3 AND prospect_id = $4 AND copied_at IS NULL
	`, domain.TrackingCopied, p.SenderIP, p.TrackingID, p.ProspectID)
	if err != nil {
		return fmt.Errorf("mark tracking copied: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM email_tracking WHERE id = $1 AND prospect_id = $2)`,
			p.TrackingID, p.ProspectID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("mark tracking copied: %w", err)
		}
		if !exists {
			return sequence.ErrTrackingNotFound
		}
		return sequence.ErrAlreadyCopied
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE prospects
		SET email_states = jsonb_set(COALESCE(email_states,'{}'::jsonb), $2, to_jsonb('sent'::text)),
		    email_sequence_position = email_sequence_position + 1,
		    urls_sent = CASE
		        WHEN $3 = '' OR $3 = ANY(COALESCE(urls_sent,'{}')) THEN urls_sent
		        ELSE array_append(COALESCE(urls_sent,'{}'), $3)
		    END,
		    updated_at = NOW()
		WHERE id = $1
	`, p.ProspectID, pq.Array([]string{p.Slot.String()}), p.URL)
	if err != nil {
		return fmt.Errorf("advance prospect sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sequence.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit copy tx: %w", err)
	}
	return nil
}

func (r *SequenceRepo) MarkOpened(ctx context.Context, trackingID, prospectID int64, slot domain.SlotKey, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_tracking
		SET status = $1, opened_at = $2
		WHERE id = $3 AND opened_at IS NULL
	`, domain.TrackingOpened, at, trackingID)
	if err != nil {
		return fmt.Errorf("mark tracking opened: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already opened; the first timestamp stands.
		return nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE prospects
		SET email_states = jsonb_set(COALESCE(email_states,'{}'::jsonb), $2, to_jsonb('opened'::text)),
		    updated_at = NOW()
		WHERE id = $1
	`, prospectID, pq.Array([]string{slot.String()}))
	if err != nil {
		return fmt.Errorf("mark slot opened: %w", err)
	}
	return nil
}

func (r *SequenceRepo) EligibleProspects(ctx context.Context, room domain.Room, campaignID, clientID *int64) ([]domain.Prospect, error) {
	q := `
		SELECT p.id, p.visitor_id, p.campaign_id, COALESCE(p.name,''), COALESCE(p.email,''), COALESCE(p.title,''),
		       p.current_room, p.lead_score, p.email_states, p.email_sequence_position,
		       COALESCE(p.urls_sent,'{}'), p.sales_handoff_at, p.archived_at, p.created_at, p.updated_at
		FROM prospects p
		JOIN campaigns c ON c.id = p.campaign_id
		WHERE p.archived_at IS NULL AND p.sales_handoff_at IS NULL AND p.current_room = $1`
	args := []interface{}{room}
	idx := 2

	if campaignID != nil {
		q += fmt.Sprintf(" AND p.campaign_id = $%d", idx)
		args = append(args, *campaignID)
		idx++
	}
	if clientID != nil {
		q += fmt.Sprintf(" AND c.client_id = $%d", idx)
		args = append(args, *clientID)
		idx++
	}
	q += " ORDER BY p.id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list eligible prospects: %w", err)
	}
	defer rows.Close()

	var out []domain.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *SequenceRepo) LastGeneratedAt(ctx context.Context, prospectID int64, room domain.Room) (*time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(generated_at) FROM email_tracking WHERE prospect_id = $1 AND room = $2
	`, prospectID, room).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last generated at: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}
