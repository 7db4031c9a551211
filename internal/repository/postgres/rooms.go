package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/rooms"
)

// ThresholdRepo implements rooms.ThresholdStore and rooms.TransitionLog
// against PostgreSQL. Threshold rows are keyed by client_id, with a single
// NULL-client row as the global default.
type ThresholdRepo struct{ db *sql.DB }

// NewThresholdRepo creates a Postgres-backed threshold store.
func NewThresholdRepo(db *sql.DB) *ThresholdRepo { return &ThresholdRepo{db: db} }

func (r *ThresholdRepo) ClientThresholds(ctx context.Context, clientID int64) (domain.Thresholds, error) {
	var t domain.Thresholds
	err := r.db.QueryRowContext(ctx, `
		SELECT problem_max, solution_max, offer_min
		FROM room_thresholds
		WHERE client_id = $1
	`, clientID).Scan(&t.ProblemMax, &t.SolutionMax, &t.OfferMin)
	if err == sql.ErrNoRows {
		return domain.Thresholds{}, rooms.ErrNotConfigured
	}
	if err != nil {
		return domain.Thresholds{}, fmt.Errorf("get client thresholds: %w", err)
	}
	return t, nil
}

func (r *ThresholdRepo) GlobalThresholds(ctx context.Context) (domain.Thresholds, error) {
	var t domain.Thresholds
	err := r.db.QueryRowContext(ctx, `
		SELECT problem_max, solution_max, offer_min
		FROM room_thresholds
		WHERE client_id IS NULL
	`).Scan(&t.ProblemMax, &t.SolutionMax, &t.OfferMin)
	if err == sql.ErrNoRows {
		return domain.Thresholds{}, rooms.ErrNotConfigured
	}
	if err != nil {
		return domain.Thresholds{}, fmt.Errorf("get global thresholds: %w", err)
	}
	return t, nil
}

func (r *ThresholdRepo) LogTransition(ctx context.Context, t domain.RoomTransition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO room_progressions (prospect_id, from_room, to_room, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ProspectID, t.FromRoom, t.ToRoom, t.Reason, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("log room transition: %w", err)
	}
	return nil
}
