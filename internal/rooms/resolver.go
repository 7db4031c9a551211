// Package rooms maps intent scores to funnel rooms using per-client
// threshold configuration with a global row and a hardcoded fallback.
package rooms

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/nurture-engine/internal/domain"
)

// ErrNotConfigured is returned by ThresholdStore implementations when no
// threshold row exists at the requested scope.
var ErrNotConfigured = errors.New("thresholds not configured")

// ThresholdStore loads stored threshold configuration.
type ThresholdStore interface {
	// ClientThresholds returns the client-specific row.
	// Returns ErrNotConfigured when the client has no row of its own.
	ClientThresholds(ctx context.Context, clientID int64) (domain.Thresholds, error)

	// GlobalThresholds returns the shared default row.
	// Returns ErrNotConfigured when none exists.
	GlobalThresholds(ctx context.Context) (domain.Thresholds, error)
}

// TransitionLog appends room-change audit entries.
type TransitionLog interface {
	LogTransition(ctx context.Context, t domain.RoomTransition) error
}

// Resolve maps a score to a room under the given thresholds. Precedence:
// offer is checked first, then solution, then problem. Scores below 1
// resolve to none.
func Resolve(score int, t domain.Thresholds) domain.Room {
	switch {
	case score >= t.OfferMin:
		return domain.RoomOffer
	case score > t.ProblemMax:
		return domain.RoomSolution
	case score >= 1:
		return domain.RoomProblem
	default:
		return domain.RoomNone
	}
}

// cacheTTL bounds how stale a client's thresholds can be within a job run.
const cacheTTL = 5 * time.Minute

// Resolver resolves rooms for clients. Effective thresholds are cached per
// client for five minutes, in Redis when available so job workers share one
// cache, otherwise in process.
type Resolver struct {
	store ThresholdStore
	cache thresholdCache
}

// NewResolver creates a resolver backed by the given store. Pass a nil
// redis client to cache in process instead.
func NewResolver(store ThresholdStore, redisClient *redis.Client) *Resolver {
	var cache thresholdCache
	if redisClient != nil {
		cache = &redisThresholdCache{redis: redisClient, ttl: cacheTTL}
	} else {
		cache = newMemThresholdCache(cacheTTL)
	}
	return &Resolver{store: store, cache: cache}
}

// RoomFor resolves the room for a score under the client's effective
// thresholds.
func (r *Resolver) RoomFor(ctx context.Context, clientID int64, score int) domain.Room {
	return Resolve(score, r.Thresholds(ctx, clientID))
}

// Thresholds returns the effective thresholds for a client: the client row
// when present and valid, else the global row, else hardcoded defaults.
// Misconfiguration is never fatal here; a bad row downgrades to defaults
// with a warning so the pipeline keeps moving.
func (r *Resolver) Thresholds(ctx context.Context, clientID int64) domain.Thresholds {
	if t, ok := r.cache.get(ctx, clientID); ok {
		return t
	}
	t := r.lookup(ctx, clientID)
	r.cache.put(ctx, clientID, t)
	return t
}

func (r *Resolver) lookup(ctx context.Context, clientID int64) domain.Thresholds {
	t, err := r.store.ClientThresholds(ctx, clientID)
	if err == nil {
		if verr := t.Validate(); verr != nil {
			log.Printf("[Rooms] client %d thresholds invalid, using defaults: %v", clientID, verr)
			return domain.DefaultThresholds()
		}
		return t
	}
	if !errors.Is(err, ErrNotConfigured) {
		log.Printf("[Rooms] load client %d thresholds: %v", clientID, err)
	}

	t, err = r.store.GlobalThresholds(ctx)
	if err == nil {
		if verr := t.Validate(); verr != nil {
			log.Printf("[Rooms] global thresholds invalid, using defaults: %v", verr)
			return domain.DefaultThresholds()
		}
		return t
	}
	if !errors.Is(err, ErrNotConfigured) {
		log.Printf("[Rooms] load global thresholds: %v", err)
	}

	return domain.DefaultThresholds()
}
