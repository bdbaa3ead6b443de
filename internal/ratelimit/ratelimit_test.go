package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/jkaninda/fundi/internal/config"
)

func TestUnlimitedWhenRateZero(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestBurstThenLimited(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("request %d within burst rejected: %v", i, err)
		}
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestCallersIndependent(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("alice"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("alice not limited: %v", err)
	}
	if err := l.Allow("bob"); err != nil {
		t.Errorf("bob affected by alice's bucket: %v", err)
	}
}

func TestRefill(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{RequestsPerMinute: 6000, BurstSize: 1})

	if err := l.Allow("alice"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit before refill: %v", err)
	}

	// 100 tokens/s: 50ms is enough to refill one token.
	time.Sleep(50 * time.Millisecond)
	if err := l.Allow("alice"); err != nil {
		t.Errorf("bucket did not refill: %v", err)
	}
}

func TestBurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{RequestsPerMinute: 5})
	for i := 0; i < 5; i++ {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("request %d rejected, burst should default to rate: %v", i, err)
		}
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}
