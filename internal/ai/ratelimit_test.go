package ai

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiterAllow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "gemini", 3) {
			t.Fatalf("request %d should be allowed under limit 3", i+1)
		}
	}
	if limiter.Allow(ctx, "gemini", 3) {
		t.Fatal("4th request in the same minute should be denied")
	}

	// Providers are limited independently.
	if !limiter.Allow(ctx, "bedrock", 3) {
		t.Fatal("different provider should have its own window")
	}

	// Counters expire with the window.
	mr.FastForward(2 * time.Minute)
	if !limiter.Allow(ctx, "gemini", 3) {
		t.Fatal("request after window expiry should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	if !nilLimiter.Allow(context.Background(), "gemini", 3) {
		t.Error("nil limiter must allow")
	}

	limiter := NewRateLimiter(nil)
	if !limiter.Allow(context.Background(), "gemini", 3) {
		t.Error("limiter without redis must allow")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	withRedis := NewRateLimiter(client)
	if !withRedis.Allow(context.Background(), "gemini", 0) {
		t.Error("perMinute 0 disables the limit")
	}
}
