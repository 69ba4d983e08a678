package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tunables for the adaptive learned_rpm_limit controller (§4.8). Documented
// defaults per the Open Question in SPEC_FULL.md.
const (
	// DecreaseFactor is the multiplicative-decrease applied on an explicit
	// upstream rate-limit signal.
	DecreaseFactor = 0.7
	// IncreaseStep is the additive-increase nudge applied on sustained
	// success near the current limit.
	IncreaseStep = 2
	// Ceiling bounds how high a learned limit can climb without an operator
	// raising it explicitly via a static RPMLimit.
	Ceiling = 600
	// Floor is the minimum a learned limit is allowed to decay to.
	Floor = 1
	// CoolDown is the minimum spacing between two upshifts for the same key,
	// preventing the additive increase from chasing noise.
	CoolDown = 30 * time.Second
)

const learnedPfx = "rpm:learned:"

// AdaptiveController owns the learned_rpm_limit value for every
// ProviderKey in adaptive mode (RPMLimit == nil), persisted in Redis so it
// is shared across gateway replicas.
type AdaptiveController struct {
	rdb *redis.Client
}

// NewAdaptiveController wraps an existing Redis client.
func NewAdaptiveController(rdb *redis.Client) *AdaptiveController {
	return &AdaptiveController{rdb: rdb}
}

// Current returns keyID's learned limit, or defaultLimit when none is
// stored yet (nothing is written on this read).
func (a *AdaptiveController) Current(ctx context.Context, keyID string) int {
	val, err := a.rdb.HGet(ctx, learnedPfx+keyID, "limit").Int()
	if err != nil {
		return defaultLimit
	}
	return val
}

// ShiftDown applies the multiplicative-decrease rule in response to an
// explicit upstream rate-limit signal while keyID is in adaptive mode. Does
// not count as a health regression (§4.8) — callers must not also report
// this to the circuit breaker.
func (a *AdaptiveController) ShiftDown(ctx context.Context, keyID string) (newLimit int, err error) {
	current := a.Current(ctx, keyID)
	next := int(float64(current) * DecreaseFactor)
	if next < Floor {
		next = Floor
	}
	return next, a.store(ctx, keyID, next)
}

// ShiftUp applies the additive-increase rule on sustained success near the
// current learned limit, subject to Ceiling and CoolDown.
func (a *AdaptiveController) ShiftUp(ctx context.Context, keyID string) (newLimit int, applied bool, err error) {
	key := learnedPfx + keyID
	lastStr, lerr := a.rdb.HGet(ctx, key, "updated_at").Result()
	if lerr == nil {
		if last, perr := strconv.ParseInt(lastStr, 10, 64); perr == nil {
			if time.Since(time.Unix(0, last)) < CoolDown {
				return a.Current(ctx, keyID), false, nil
			}
		}
	}

	current := a.Current(ctx, keyID)
	next := current + IncreaseStep
	if next > Ceiling {
		next = Ceiling
	}
	if next == current {
		return current, false, nil
	}
	return next, true, a.store(ctx, keyID, next)
}

func (a *AdaptiveController) store(ctx context.Context, keyID string, limit int) error {
	return a.rdb.HSet(ctx, learnedPfx+keyID,
		"limit", limit,
		"updated_at", time.Now().UnixNano(),
	).Err()
}
