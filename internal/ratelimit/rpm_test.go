package ratelimit_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/hub-gateway/internal/ratelimit"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func intPtr(v int) *int { return &v }

func TestGuard_AllowsUnderReservedThreshold(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	// limit=10, probe-phase reservation=0.2 -> floor(10*0.8)=8 non-cached slots.
	g := ratelimit.NewGuard(rdb, ratelimit.DefaultReservationController(), nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		d, err := g.Admit(ctx, "key-1", intPtr(10), false)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
		if !d.Admitted {
			t.Fatalf("iteration %d: expected admitted", i)
		}
	}
}

func TestGuard_RejectsOverReservedThreshold(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	g := ratelimit.NewGuard(rdb, ratelimit.DefaultReservationController(), nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := g.Admit(ctx, "key-2", intPtr(10), false); err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
	}

	d, err := g.Admit(ctx, "key-2", intPtr(10), false)
	if err != ratelimit.ErrConcurrencyLimit {
		t.Fatalf("expected ErrConcurrencyLimit, got %v", err)
	}
	if d.Admitted {
		t.Fatal("expected rejection past the reserved threshold")
	}
}

func TestGuard_CachedAttemptsUseFullLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	g := ratelimit.NewGuard(rdb, ratelimit.DefaultReservationController(), nil)
	ctx := context.Background()

	// Exhaust the non-cached reservation (8 of 10).
	for i := 0; i < 8; i++ {
		if _, err := g.Admit(ctx, "key-3", intPtr(10), false); err != nil {
			t.Fatalf("non-cached warmup %d: %v", i, err)
		}
	}

	// Cache-affinity attempts may still consume up to the full limit (2 more).
	for i := 0; i < 2; i++ {
		d, err := g.Admit(ctx, "key-3", intPtr(10), true)
		if err != nil {
			t.Fatalf("cached attempt %d: unexpected error: %v", i, err)
		}
		if !d.Admitted {
			t.Fatalf("cached attempt %d: expected admitted up to full limit", i)
		}
	}

	d, err := g.Admit(ctx, "key-3", intPtr(10), true)
	if err != ratelimit.ErrConcurrencyLimit || d.Admitted {
		t.Fatalf("expected the 11th attempt (over the full limit) to be rejected, got admitted=%v err=%v", d.Admitted, err)
	}
}

func TestGuard_DegradesGracefullyWhenRedisDown(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	cleanup() // Redis is gone before any call.

	g := ratelimit.NewGuard(rdb, ratelimit.DefaultReservationController(), nil)
	d, err := g.Admit(context.Background(), "key-4", intPtr(5), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Admitted {
		t.Fatal("expected admission when Redis is unavailable (graceful degradation)")
	}
}

func TestGuard_AdaptiveModeUsesLearnedLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	learned := ratelimit.NewAdaptiveController(rdb)
	ctx := context.Background()
	newLimit, err := learned.ShiftDown(ctx, "key-5")
	if err != nil {
		t.Fatalf("ShiftDown: %v", err)
	}
	if newLimit >= 60 {
		t.Fatalf("expected ShiftDown to lower the seeded default, got %d", newLimit)
	}

	g := ratelimit.NewGuard(rdb, ratelimit.DefaultReservationController(), learned)
	// nil limit -> adaptive mode, effective limit is the just-lowered value.
	d, err := g.Admit(ctx, "key-5", nil, true)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if d.Limit != newLimit {
		t.Fatalf("expected effective limit %d, got %d", newLimit, d.Limit)
	}
}

func TestAdaptiveController_ShiftUpRespectsCoolDown(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	a := ratelimit.NewAdaptiveController(rdb)
	ctx := context.Background()

	first, applied, err := a.ShiftUp(ctx, "key-6")
	if err != nil {
		t.Fatalf("first ShiftUp: %v", err)
	}
	if !applied {
		t.Fatal("expected the first ShiftUp to apply")
	}

	second, applied, err := a.ShiftUp(ctx, "key-6")
	if err != nil {
		t.Fatalf("second ShiftUp: %v", err)
	}
	if applied {
		t.Fatalf("expected the immediately-following ShiftUp to be suppressed by cool-down, got new limit %d (first %d)", second, first)
	}
}
