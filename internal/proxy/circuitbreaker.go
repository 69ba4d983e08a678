package proxy

import (
	"sync"
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/metrics"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// CBConfig holds circuit breaker tuning parameters (§4.8). Zero values fall
// back to the package defaults below.
type CBConfig struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker for a given (ProviderKey, ApiFormat) pair.
	ErrorThreshold int
	// TimeWindow is the rolling window for counting errors.
	TimeWindow time.Duration
	// BaseBackoff is the first open-circuit duration; each consecutive trip
	// without an intervening success doubles it, up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

const (
	defaultErrorThreshold = 5
	defaultTimeWindow     = 60 * time.Second
	defaultBaseBackoff    = 10 * time.Second
	defaultMaxBackoff     = 10 * time.Minute
)

func (c CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return defaultErrorThreshold
}

func (c CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return defaultTimeWindow
}

func (c CBConfig) baseBackoff() time.Duration {
	if c.BaseBackoff > 0 {
		return c.BaseBackoff
	}
	return defaultBaseBackoff
}

func (c CBConfig) maxBackoff() time.Duration {
	if c.MaxBackoff > 0 {
		return c.MaxBackoff
	}
	return defaultMaxBackoff
}

// errWindow is the rolling failure-count bookkeeping for one (key, format)
// pair. The durable open/closed/next-probe state itself lives on
// models.ProviderKey.CircuitByFormat (shared with the candidate builder,
// which must skip open circuits without asking this breaker); this struct
// holds only the request-handling-local counters needed to decide when to
// trip it.
type errWindow struct {
	mu          sync.Mutex
	errorCount  int
	windowStart time.Time
}

// CircuitBreaker implements C8's per-(ProviderKey, ApiFormat) breaker with
// exponential backoff between probes, generalizing the single
// error-threshold/rolling-window/half-open design to a composite key
// instead of one breaker per provider name.
type CircuitBreaker struct {
	mu      sync.Mutex
	windows map[string]*errWindow
	cfg     CBConfig
	met     *metrics.Registry
}

func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CBConfig{})
}

func NewCircuitBreakerWithConfig(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{windows: make(map[string]*errWindow), cfg: cfg}
}

// SetMetrics attaches a Registry for the circuit-breaker state gauge and
// rejection counter. Optional — a nil Registry (the default) simply skips
// recording.
func (cb *CircuitBreaker) SetMetrics(met *metrics.Registry) { cb.met = met }

// breakerLabel identifies a (ProviderKey, ApiFormat) pair for the metrics
// registry's single "provider" label, since one ProviderKey can carry
// distinct circuit state per format.
func breakerLabel(k *models.ProviderKey, format codec.ApiFormat) string {
	return k.ProviderID + "/" + string(format)
}

// Allow reports whether k should be attempted for format: always true when
// closed, true past NextProbeAt (one probe attempt — the breaker stays
// marked Open until RecordSuccess clears it, so concurrent callers may race
// for the same probe; an extra probe in flight is a performance cost, not a
// correctness one).
func (cb *CircuitBreaker) Allow(k *models.ProviderKey, format codec.ApiFormat) bool {
	cs := k.Circuit(format)
	if !cs.Open {
		return true
	}
	if time.Now().Before(cs.NextProbeAt) {
		if cb.met != nil {
			cb.met.RecordCircuitBreakerRejection(breakerLabel(k, format), "open")
		}
		return false
	}
	if cb.met != nil {
		cb.met.SetCircuitBreaker(breakerLabel(k, format), 2)
	}
	return true
}

// RecordSuccess closes the breaker and resets its failure window.
func (cb *CircuitBreaker) RecordSuccess(k *models.ProviderKey, format codec.ApiFormat) {
	cs := k.Circuit(format)
	cs.Open = false
	cs.ConsecutiveOpens = 0

	w := cb.window(k.ID, format)
	w.mu.Lock()
	w.errorCount = 0
	w.windowStart = time.Now()
	w.mu.Unlock()

	if cb.met != nil {
		cb.met.SetCircuitBreaker(breakerLabel(k, format), 0)
	}
}

// RecordFailure increments k/format's rolling error count and trips the
// breaker once ErrorThreshold is reached within TimeWindow, setting
// NextProbeAt with exponentially increasing backoff per consecutive trip.
func (cb *CircuitBreaker) RecordFailure(k *models.ProviderKey, format codec.ApiFormat) {
	cs := k.Circuit(format)
	w := cb.window(k.ID, format)

	w.mu.Lock()
	now := time.Now()
	if now.Sub(w.windowStart) > cb.cfg.timeWindow() {
		w.errorCount = 0
		w.windowStart = now
	}
	w.errorCount++

	tripped := w.errorCount >= cb.cfg.errorThreshold()
	if tripped {
		cs.ConsecutiveOpens++
		cs.Open = true
		cs.NextProbeAt = now.Add(cb.backoff(cs.ConsecutiveOpens))
	}
	w.mu.Unlock()

	if tripped && cb.met != nil {
		cb.met.SetCircuitBreaker(breakerLabel(k, format), 1)
	}
}

func (cb *CircuitBreaker) backoff(consecutiveOpens int) time.Duration {
	d := cb.cfg.baseBackoff()
	for i := 1; i < consecutiveOpens; i++ {
		d *= 2
		if d >= cb.cfg.maxBackoff() {
			return cb.cfg.maxBackoff()
		}
	}
	return d
}

func (cb *CircuitBreaker) window(keyID string, format codec.ApiFormat) *errWindow {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	k := keyID + "|" + string(format)
	w := cb.windows[k]
	if w == nil {
		w = &errWindow{windowStart: time.Now()}
		cb.windows[k] = w
	}
	return w
}
