package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/enrich"
	"github.com/ignite/nurture-engine/internal/service/lifecycle"
)

// LifecycleRepo implements lifecycle.Repository against PostgreSQL.
type LifecycleRepo struct{ db *sql.DB }

// NewLifecycleRepo creates a Postgres-backed lifecycle repository.
func NewLifecycleRepo(db *sql.DB) *LifecycleRepo { return &LifecycleRepo{db: db} }

// visitorColumns is the full visitor select list; queries alias the table v.
const visitorColumns = `
	v.id, v.client_id, v.campaign_id, COALESCE(v.name,''), COALESCE(v.email,''), COALESCE(v.title,''),
	COALESCE(v.company_name,''), COALESCE(v.company_size,0), COALESCE(v.industry,''), COALESCE(v.revenue,0),
	v.page_views, COALESCE(v.recent_paths,'{}'), v.email_opens, v.form_submitted, v.last_seen_at,
	v.lead_score, v.score_calculated_at, v.created_at, v.updated_at, v.archived_at`

func scanVisitor(row rowScanner) (*domain.Visitor, error) {
	v := &domain.Visitor{}
	err := row.Scan(
		&v.ID, &v.ClientID, &v.CampaignID, &v.Name, &v.Email, &v.Title,
		&v.CompanyName, &v.CompanySize, &v.Industry, &v.Revenue,
		&v.PageViews, pq.Array(&v.RecentPaths), &v.EmailOpens, &v.FormSubmitted, &v.LastSeenAt,
		&v.LeadScore, &v.ScoreCalculatedAt, &v.CreatedAt, &v.UpdatedAt, &v.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *LifecycleRepo) listVisitors(ctx context.Context, q string, args ...interface{}) ([]domain.Visitor, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	defer rows.Close()

	var out []domain.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Visitor returns one visitor row. Used by the on-demand scoring endpoint.
func (r *LifecycleRepo) Visitor(ctx context.Context, id int64) (*domain.Visitor, error) {
	v, err := scanVisitor(r.db.QueryRowContext(ctx, `
		SELECT `+visitorColumns+`
		FROM visitors v
		WHERE v.id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visitor: %w", err)
	}
	return v, nil
}

func (r *LifecycleRepo) VisitorsWithoutCampaign(ctx context.Context, clientID *int64) ([]domain.Visitor, error) {
	q := `
		SELECT ` + visitorColumns + `
		FROM visitors v
		WHERE v.archived_at IS NULL AND v.campaign_id IS NULL`
	args := []interface{}{}
	if clientID != nil {
		q += ` AND v.client_id = $1`
		args = append(args, *clientID)
	}
	q += ` ORDER BY v.id`
	return r.listVisitors(ctx, q, args...)
}

func (r *LifecycleRepo) VisitorsForMatching(ctx context.Context, clientID *int64) ([]domain.Visitor, error) {
	q := `
		SELECT ` + visitorColumns + `
		FROM visitors v
		WHERE v.archived_at IS NULL`
	args := []interface{}{}
	if clientID != nil {
		q += ` AND v.client_id = $1`
		args = append(args, *clientID)
	}
	q += ` ORDER BY v.id`
	return r.listVisitors(ctx, q, args...)
}

func (r *LifecycleRepo) QualifyingCampaign(ctx context.Context, clientID int64, at time.Time) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT c.id, c.client_id, c.name, c.starts_at, c.ends_at, c.created_at
		FROM campaigns c
		JOIN clients cl ON cl.id = c.client_id
		WHERE c.client_id = $1
		  AND cl.tier = 'premium' AND cl.nurture_enabled = true
		  AND c.starts_at <= $2 AND c.ends_at >= $2
		ORDER BY c.starts_at DESC
		LIMIT 1
	`, clientID, at).Scan(&c.ID, &c.ClientID, &c.Name, &c.StartsAt, &c.EndsAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, lifecycle.ErrNoCampaign
	}
	if err != nil {
		return nil, fmt.Errorf("get qualifying campaign: %w", err)
	}
	return c, nil
}

func (r *LifecycleRepo) AssignCampaign(ctx context.Context, visitorID, campaignID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE visitors SET campaign_id = $1, updated_at = NOW() WHERE id = $2
	`, campaignID, visitorID)
	if err != nil {
		return fmt.Errorf("assign campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

func (r *LifecycleRepo) VisitorsForScoring(ctx context.Context, f lifecycle.ScoreFilter) ([]domain.Visitor, error) {
	q := `
		SELECT ` + visitorColumns + `
		FROM visitors v
		WHERE v.archived_at IS NULL AND v.campaign_id IS NOT NULL`
	args := []interface{}{}
	idx := 1

	if f.ClientID != nil {
		q += fmt.Sprintf(" AND v.client_id = $%d", idx)
		args = append(args, *f.ClientID)
		idx++
	}
	if !f.All {
		q += fmt.Sprintf(`
		  AND (v.lead_score = 0 OR v.score_calculated_at IS NULL
		       OR v.score_calculated_at < $%d OR v.updated_at > v.score_calculated_at)`, idx)
		args = append(args, f.StaleBefore)
		idx++
	}
	q += ` ORDER BY v.id`
	return r.listVisitors(ctx, q, args...)
}

// SaveVisitorScore deliberately leaves updated_at alone: bumping it here
// would make every scored visitor immediately stale again.
func (r *LifecycleRepo) SaveVisitorScore(ctx context.Context, visitorID int64, score int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE visitors SET lead_score = $1, score_calculated_at = $2 WHERE id = $3
	`, score, at, visitorID)
	if err != nil {
		return fmt.Errorf("save visitor score: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

func (r *LifecycleRepo) VisitorsForProspecting(ctx context.Context, clientID *int64) ([]domain.Visitor, error) {
	q := `
		SELECT ` + visitorColumns + `
		FROM visitors v
		WHERE v.archived_at IS NULL AND v.campaign_id IS NOT NULL AND v.lead_score > 0`
	args := []interface{}{}
	if clientID != nil {
		q += ` AND v.client_id = $1`
		args = append(args, *clientID)
	}
	q += ` ORDER BY v.id`
	return r.listVisitors(ctx, q, args...)
}

func (r *LifecycleRepo) ProspectByVisitorCampaign(ctx context.Context, visitorID, campaignID int64) (*domain.Prospect, error) {
	p, err := scanProspect(r.db.QueryRowContext(ctx, `
		SELECT id, visitor_id, campaign_id, COALESCE(name,''), COALESCE(email,''), COALESCE(title,''),
		       current_room, lead_score, email_states, email_sequence_position,
		       COALESCE(urls_sent,'{}'), sales_handoff_at, archived_at, created_at, updated_at
		FROM prospects
		WHERE visitor_id = $1 AND campaign_id = $2
	`, visitorID, campaignID))
	if err == sql.ErrNoRows {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prospect by visitor: %w", err)
	}
	return p, nil
}

func (r *LifecycleRepo) CreateProspect(ctx context.Context, p *domain.Prospect) (int64, error) {
	states, err := json.Marshal(p.EmailStates)
	if err != nil {
		return 0, fmt.Errorf("encode email states: %w", err)
	}
	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO prospects
			(visitor_id, campaign_id, name, email, title, current_room, lead_score,
			 email_states, email_sequence_position, urls_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, '{}', NOW(), NOW())
		ON CONFLICT (visitor_id, campaign_id) DO NOTHING
		RETURNING id
	`, p.VisitorID, p.CampaignID, p.Name, p.Email, p.Title, p.CurrentRoom, p.LeadScore, states).Scan(&id)
	if err == sql.ErrNoRows {
		// Lost a create race; surface the surviving row's id.
		existing, lookupErr := r.ProspectByVisitorCampaign(ctx, p.VisitorID, p.CampaignID)
		if lookupErr != nil {
			return 0, fmt.Errorf("create prospect: %w", lookupErr)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("create prospect: %w", err)
	}
	return id, nil
}

func (r *LifecycleRepo) UpdateProspectScore(ctx context.Context, prospectID int64, score int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE prospects SET lead_score = $1, updated_at = NOW() WHERE id = $2
	`, score, prospectID)
	if err != nil {
		return fmt.Errorf("update prospect score: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// UpdateVisitorCompany only fills columns that are still empty; enrichment
// never overwrites data the tracker collected first-hand.
func (r *LifecycleRepo) UpdateVisitorCompany(ctx context.Context, visitorID int64, f enrich.Firmographics) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE visitors SET
			company_name = CASE WHEN COALESCE(company_name,'') = '' THEN $1 ELSE company_name END,
			industry     = CASE WHEN COALESCE(industry,'') = '' THEN $2 ELSE industry END,
			company_size = CASE WHEN COALESCE(company_size,0) = 0 THEN $3 ELSE company_size END,
			revenue      = CASE WHEN COALESCE(revenue,0) = 0 THEN $4 ELSE revenue END,
			updated_at   = NOW()
		WHERE id = $5
	`, f.CompanyName, f.Industry, f.EmployeeCount, f.AnnualRevenue, visitorID)
	if err != nil {
		return fmt.Errorf("update visitor company: %w", err)
	}
	return nil
}

func (r *LifecycleRepo) RoomCandidates(ctx context.Context, clientID *int64) ([]lifecycle.RoomCandidate, error) {
	q := `
		SELECT p.id, p.visitor_id, p.campaign_id, COALESCE(p.name,''), COALESCE(p.email,''), COALESCE(p.title,''),
		       p.current_room, p.lead_score, p.email_states, p.email_sequence_position,
		       COALESCE(p.urls_sent,'{}'), p.sales_handoff_at, p.archived_at, p.created_at, p.updated_at,
		       c.client_id
		FROM prospects p
		JOIN campaigns c ON c.id = p.campaign_id
		WHERE p.archived_at IS NULL AND p.sales_handoff_at IS NULL`
	args := []interface{}{}
	if clientID != nil {
		q += ` AND c.client_id = $1`
		args = append(args, *clientID)
	}
	q += ` ORDER BY p.id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list room candidates: %w", err)
	}
	defer rows.Close()

	var out []lifecycle.RoomCandidate
	for rows.Next() {
		var (
			p      domain.Prospect
			states []byte
			cid    int64
		)
		err := rows.Scan(
			&p.ID, &p.VisitorID, &p.CampaignID, &p.Name, &p.Email, &p.Title,
			&p.CurrentRoom, &p.LeadScore, &states, &p.EmailSequencePosition,
			pq.Array(&p.URLsSent), &p.SalesHandoffAt, &p.ArchivedAt, &p.CreatedAt, &p.UpdatedAt,
			&cid,
		)
		if err != nil {
			return nil, fmt.Errorf("scan room candidate: %w", err)
		}
		p.EmailStates = domain.EmailStates{}
		if len(states) > 0 {
			if err := json.Unmarshal(states, &p.EmailStates); err != nil {
				return nil, fmt.Errorf("decode email states for prospect %d: %w", p.ID, err)
			}
		}
		out = append(out, lifecycle.RoomCandidate{Prospect: p, ClientID: cid})
	}
	return out, rows.Err()
}

func (r *LifecycleRepo) UpdateProspectRoom(ctx context.Context, prospectID int64, room domain.Room) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE prospects SET current_room = $1, updated_at = NOW() WHERE id = $2
	`, room, prospectID)
	if err != nil {
		return fmt.Errorf("update prospect room: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

func (r *LifecycleRepo) SaveRun(ctx context.Context, rep *domain.RunReport) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, mode, client_id, stats, error, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rep.ID, rep.Mode, rep.ClientID, body, rep.Error, rep.StartedAt, rep.FinishedAt, rep.DurationMS)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (r *LifecycleRepo) RecentRuns(ctx context.Context, limit int) ([]domain.RunReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT stats FROM job_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var rep domain.RunReport
		if err := json.Unmarshal(body, &rep); err != nil {
			return nil, fmt.Errorf("decode run report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}
