package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/nurture-engine/internal/scoring"
)

// RuleRepo implements scoring.RuleSource against PostgreSQL. Rulesets are
// JSONB rows keyed by client_id; a NULL-client row is the global fallback.
type RuleRepo struct{ db *sql.DB }

// NewRuleRepo creates a Postgres-backed scoring rule source.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

func (r *RuleRepo) RuleSet(ctx context.Context, clientID int64) (*scoring.RuleSet, error) {
	rs, err := r.load(ctx, `SELECT rules FROM scoring_rules WHERE client_id = $1`, clientID)
	if err == nil {
		return rs, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("load client ruleset: %w", err)
	}

	rs, err = r.load(ctx, `SELECT rules FROM scoring_rules WHERE client_id IS NULL`)
	if err == sql.ErrNoRows {
		return nil, scoring.ErrNoRules
	}
	if err != nil {
		return nil, fmt.Errorf("load global ruleset: %w", err)
	}
	return rs, nil
}

func (r *RuleRepo) load(ctx context.Context, q string, args ...interface{}) (*scoring.RuleSet, error) {
	var body []byte
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&body); err != nil {
		return nil, err
	}
	rs := &scoring.RuleSet{}
	if err := json.Unmarshal(body, rs); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	return rs, nil
}
