package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/nurture-engine/internal/domain"
)

type stubStore struct {
	client      domain.Thresholds
	clientErr   error
	global      domain.Thresholds
	globalErr   error
	clientCalls int
}

func (s *stubStore) ClientThresholds(_ context.Context, _ int64) (domain.Thresholds, error) {
	s.clientCalls++
	return s.client, s.clientErr
}

func (s *stubStore) GlobalThresholds(_ context.Context) (domain.Thresholds, error) {
	return s.global, s.globalErr
}

func newTestResolver(store ThresholdStore) *Resolver {
	return &Resolver{store: store, cache: newMemThresholdCache(time.Minute)}
}

func TestResolvePrecedence(t *testing.T) {
	defaults := domain.DefaultThresholds()
	custom := domain.Thresholds{ProblemMax: 10, SolutionMax: 20, OfferMin: 30}

	tests := []struct {
		name  string
		score int
		th    domain.Thresholds
		want  domain.Room
	}{
		{"negative score", -5, defaults, domain.RoomNone},
		{"zero score", 0, defaults, domain.RoomNone},
		{"minimum qualifying score", 1, defaults, domain.RoomProblem},
		{"at problem_max", 40, defaults, domain.RoomProblem},
		{"just above problem_max", 41, defaults, domain.RoomSolution},
		{"at solution_max", 60, defaults, domain.RoomSolution},
		{"at offer_min", 61, defaults, domain.RoomOffer},
		{"far above offer_min", 500, defaults, domain.RoomOffer},
		{"custom at problem_max", 10, custom, domain.RoomProblem},
		{"custom above problem_max", 11, custom, domain.RoomSolution},
		{"custom at offer_min", 30, custom, domain.RoomOffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.score, tt.th); got != tt.want {
				t.Errorf("Resolve(%d, %+v) = %s, want %s", tt.score, tt.th, got, tt.want)
			}
		})
	}
}

func TestResolveMonotonic(t *testing.T) {
	configs := []domain.Thresholds{
		domain.DefaultThresholds(),
		{ProblemMax: 1, SolutionMax: 2, OfferMin: 3},
		{ProblemMax: 25, SolutionMax: 90, OfferMin: 150},
	}

	for _, th := range configs {
		prev := domain.RoomNone
		for score := 0; score <= 200; score++ {
			room := Resolve(score, th)
			if room.Order() < prev.Order() {
				t.Fatalf("thresholds %+v: room regressed from %s to %s at score %d", th, prev, room, score)
			}
			prev = room
		}
		if Resolve(th.OfferMin, th) != domain.RoomOffer {
			t.Errorf("thresholds %+v: score at offer_min did not resolve to offer", th)
		}
	}
}

func TestThresholdsFallbackChain(t *testing.T) {
	clientRow := domain.Thresholds{ProblemMax: 10, SolutionMax: 20, OfferMin: 30}
	globalRow := domain.Thresholds{ProblemMax: 50, SolutionMax: 70, OfferMin: 90}
	invalid := domain.Thresholds{ProblemMax: 60, SolutionMax: 40, OfferMin: 20}

	tests := []struct {
		name  string
		store *stubStore
		want  domain.Thresholds
	}{
		{
			name:  "client row wins",
			store: &stubStore{client: clientRow, global: globalRow},
			want:  clientRow,
		},
		{
			name:  "no client row falls to global",
			store: &stubStore{clientErr: ErrNotConfigured, global: globalRow},
			want:  globalRow,
		},
		{
			name:  "no rows at all",
			store: &stubStore{clientErr: ErrNotConfigured, globalErr: ErrNotConfigured},
			want:  domain.DefaultThresholds(),
		},
		{
			name:  "invalid client row uses hardcoded defaults",
			store: &stubStore{client: invalid, global: globalRow},
			want:  domain.DefaultThresholds(),
		},
		{
			name:  "invalid global row uses hardcoded defaults",
			store: &stubStore{clientErr: ErrNotConfigured, global: invalid},
			want:  domain.DefaultThresholds(),
		},
		{
			name:  "store failure never fatal",
			store: &stubStore{clientErr: errors.New("db down"), globalErr: errors.New("db down")},
			want:  domain.DefaultThresholds(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(tt.store)
			if got := r.Thresholds(context.Background(), 1); got != tt.want {
				t.Errorf("Thresholds() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestThresholdsCachedPerClient(t *testing.T) {
	store := &stubStore{client: domain.Thresholds{ProblemMax: 10, SolutionMax: 20, OfferMin: 30}}
	r := newTestResolver(store)
	ctx := context.Background()

	r.Thresholds(ctx, 1)
	r.Thresholds(ctx, 1)
	if store.clientCalls != 1 {
		t.Fatalf("expected 1 store lookup for warm cache, got %d", store.clientCalls)
	}

	// Expire the entry and confirm the store is consulted again.
	r.cache.(*memThresholdCache).now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	r.Thresholds(ctx, 1)
	if store.clientCalls != 2 {
		t.Fatalf("expected store lookup after TTL expiry, got %d calls", store.clientCalls)
	}
}

func TestThresholdsRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := &stubStore{client: domain.Thresholds{ProblemMax: 10, SolutionMax: 20, OfferMin: 30}}
	r := NewResolver(store, client)
	ctx := context.Background()

	r.Thresholds(ctx, 42)
	r.Thresholds(ctx, 42)
	if store.clientCalls != 1 {
		t.Fatalf("expected 1 store lookup with redis cache, got %d", store.clientCalls)
	}

	mr.FastForward(6 * time.Minute)

	r.Thresholds(ctx, 42)
	if store.clientCalls != 2 {
		t.Fatalf("expected store lookup after redis TTL expiry, got %d calls", store.clientCalls)
	}
}

func TestRoomFor(t *testing.T) {
	store := &stubStore{client: domain.Thresholds{ProblemMax: 10, SolutionMax: 20, OfferMin: 30}}
	r := newTestResolver(store)

	if got := r.RoomFor(context.Background(), 1, 15); got != domain.RoomSolution {
		t.Errorf("RoomFor(score 15) = %s, want solution", got)
	}
}
