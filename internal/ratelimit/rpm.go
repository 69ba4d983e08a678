// Package ratelimit implements the concurrency/rate guard (C3): a per
// ProviderKey requests-per-minute admission check backed by a Redis sliding
// window, with a dynamic reservation ratio that holds back a slice of
// capacity for cache-affinity attempts.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/hub-gateway/internal/metrics"
)

// slidingWindowAdmit is an atomic Lua script: trims the 60-second window,
// and if the trimmed count is still under threshold, admits the attempt by
// adding it to the window and refreshing the key's TTL.
// KEYS[1] = per-key counter zset
// ARGV[1] = now (unix nanoseconds)
// ARGV[2] = window size (nanoseconds)
// ARGV[3] = admission threshold for this attempt
// Returns {admitted (0/1), count-after-this-call}.
var slidingWindowAdmit = redis.NewScript(`
	local key       = KEYS[1]
	local now       = tonumber(ARGV[1])
	local window    = tonumber(ARGV[2])
	local threshold = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
	local count = redis.call('ZCARD', key)
	if count >= threshold then
		return {0, count}
	end

	local member = tostring(now) .. '-' .. tostring(math.random(1, 1000000))
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, math.ceil(window / 1000000))
	return {1, count + 1}
`)

const (
	window       = time.Minute
	counterPfx   = "rpm:counter:"
	defaultLimit = 60 // seeded default for an unlearned adaptive key (§4.3, Open Question: documented tunable)
)

// ErrConcurrencyLimit is the plain sentinel the guard returns on rejection;
// the orchestrator's classifier recognises it with errors.Is and treats it
// as a concurrency-limit error.
var ErrConcurrencyLimit = errors.New("ratelimit: rpm limit reached")

// Guard is the per-key admission control described in §4.3. One Guard
// serves every ProviderKey in the deployment; Redis keys are namespaced by
// key ID so counters never collide across keys.
type Guard struct {
	rdb        *redis.Client
	reservation ReservationController
	learned    *AdaptiveController
	met        *metrics.Registry
}

// NewGuard constructs a Guard. learned may be nil to disable the adaptive
// controller (keys without an explicit RPMLimit then use defaultLimit).
func NewGuard(rdb *redis.Client, reservation ReservationController, learned *AdaptiveController) *Guard {
	if reservation == (ReservationController{}) {
		reservation = DefaultReservationController()
	}
	return &Guard{rdb: rdb, reservation: reservation, learned: learned}
}

// SetMetrics attaches a Registry for the admission-decision counter.
// Optional — a nil Registry (the default) simply skips recording.
func (g *Guard) SetMetrics(met *metrics.Registry) { g.met = met }

// Decision is the outcome of one admission check, returned so the
// orchestrator can log/classify without the guard depending on its error
// taxonomy.
type Decision struct {
	Admitted  bool
	Counter   int
	Limit     int
	Reservation float64
}

// Admit runs one §4.3 admission check for keyID. limit is the key's static
// RPMLimit (nil = adaptive, in which case the learned/controller-seeded
// limit is used). cached marks a cache-affinity attempt, which is admitted
// up to the full limit instead of the reserved fraction.
func (g *Guard) Admit(ctx context.Context, keyID string, limit *int, cached bool) (Decision, error) {
	effective := g.effectiveLimit(ctx, keyID, limit)

	// Pre-read the window count to drive the reservation ratio; the actual
	// admit decision below is atomic even though this read is not — a
	// request landing in the race window affects only R's precision, never
	// the admit/reject correctness (enforced by the Lua script).
	observed, _ := g.rdb.ZCard(ctx, counterPfx+keyID).Result()

	r := g.reservation.Ratio(int(observed))

	threshold := effective
	if !cached {
		threshold = int(math.Floor(float64(effective) * (1 - r)))
	}

	now := time.Now().UnixNano()
	res, err := slidingWindowAdmit.Run(ctx, g.rdb,
		[]string{counterPfx + keyID},
		now, window.Nanoseconds(), threshold,
	).Result()
	if err != nil {
		// Redis unavailable — admit (graceful degradation; matches the
		// cache/exact.go convention elsewhere in this gateway).
		if g.met != nil {
			g.met.RecordRateLimit("redis_unavailable")
		}
		return Decision{Admitted: true, Limit: effective, Reservation: r}, nil
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		if g.met != nil {
			g.met.RecordRateLimit("script_error")
		}
		return Decision{Admitted: true, Limit: effective, Reservation: r}, nil
	}
	admittedInt, _ := vals[0].(int64)
	count, _ := vals[1].(int64)

	d := Decision{Admitted: admittedInt == 1, Counter: int(count), Limit: effective, Reservation: r}
	if !d.Admitted {
		if g.met != nil {
			g.met.RecordRateLimit("rejected")
		}
		return d, ErrConcurrencyLimit
	}
	if g.met != nil {
		g.met.RecordRateLimit("admitted")
	}
	return d, nil
}

// effectiveLimit resolves the admission ceiling: the key's static limit if
// set, otherwise the adaptive controller's learned value (or the seeded
// default when nothing has been learned yet).
func (g *Guard) effectiveLimit(ctx context.Context, keyID string, limit *int) int {
	if limit != nil {
		return *limit
	}
	if g.learned == nil {
		return defaultLimit
	}
	return g.learned.Current(ctx, keyID)
}
