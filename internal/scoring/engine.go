// Package scoring computes integer intent scores for visitors from
// weighted criteria grouped by room (problem/solution/offer).
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
)

// ErrNoRules means no scoring ruleset could be loaded for the client or
// globally. Callers must treat this as fatal for the scoring attempt: a
// silent zero score would falsely demote a prospect.
var ErrNoRules = errors.New("no scoring rules configured")

// RuleSource loads the criteria configuration for a client.
// Implementations resolve client-specific rules first, then the global set.
type RuleSource interface {
	// RuleSet returns the effective ruleset for the client.
	// Returns ErrNoRules when neither a client nor a global set exists.
	RuleSet(ctx context.Context, clientID int64) (*RuleSet, error)
}

// Engine evaluates rulesets against visitors. It is stateless and safe for
// concurrent use.
type Engine struct {
	rules RuleSource
}

// NewEngine creates a scoring engine backed by the given rule source.
func NewEngine(rules RuleSource) *Engine {
	return &Engine{rules: rules}
}

// Score evaluates the client's ruleset against the visitor and returns the
// total score with its per-room breakdown and per-criterion details.
// The three room subtotals always sum to Total.
func (e *Engine) Score(ctx context.Context, v *domain.Visitor, clientID int64) (*domain.ScoreResult, error) {
	rs, err := e.rules.RuleSet(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load scoring rules for client %d: %w", clientID, err)
	}
	if rs == nil {
		return nil, fmt.Errorf("load scoring rules for client %d: %w", clientID, ErrNoRules)
	}
	if problems := rs.Validate(); len(problems) > 0 {
		for _, p := range problems {
			log.Printf("[Scoring] invalid ruleset for client %d: %s", clientID, p)
		}
		return nil, fmt.Errorf("ruleset for client %d is invalid: %w", clientID, ErrNoRules)
	}

	now := time.Now()
	result := &domain.ScoreResult{
		VisitorID:    v.ID,
		Details:      make(map[domain.Room]map[string]int, 3),
		CalculatedAt: now,
	}

	for _, room := range domain.SequenceRooms() {
		subtotal := 0
		detail := make(map[string]int)
		for _, c := range rs.ForRoom(room) {
			if c.matches(v, now) {
				subtotal += c.Points
				detail[c.Name] = c.Points
			}
		}
		result.Details[room] = detail
		switch room {
		case domain.RoomProblem:
			result.Breakdown.Problem = subtotal
		case domain.RoomSolution:
			result.Breakdown.Solution = subtotal
		case domain.RoomOffer:
			result.Breakdown.Offer = subtotal
		}
	}

	result.Total = result.Breakdown.Total()
	return result, nil
}

// ScoreWriter persists a computed score onto the visitor row.
type ScoreWriter interface {
	SaveVisitorScore(ctx context.Context, visitorID int64, score int, at time.Time) error
}

// ScoreAndPersist evaluates like Score and writes the total plus its
// calculation time onto the visitor row through w. The returned result is
// what was stored.
func (e *Engine) ScoreAndPersist(ctx context.Context, v *domain.Visitor, clientID int64, w ScoreWriter) (*domain.ScoreResult, error) {
	result, err := e.Score(ctx, v, clientID)
	if err != nil {
		return nil, err
	}
	if err := w.SaveVisitorScore(ctx, v.ID, result.Total, result.CalculatedAt); err != nil {
		return nil, fmt.Errorf("persist score for visitor %d: %w", v.ID, err)
	}
	return result, nil
}
