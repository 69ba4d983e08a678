package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/hub-gateway/internal/affinity"
	npCache "github.com/nulpointcorp/hub-gateway/internal/cache"
	"github.com/nulpointcorp/hub-gateway/internal/candidate"
	"github.com/nulpointcorp/hub-gateway/internal/catalog"
	"github.com/nulpointcorp/hub-gateway/internal/logger"
	"github.com/nulpointcorp/hub-gateway/internal/metrics"
	"github.com/nulpointcorp/hub-gateway/internal/models"
	"github.com/nulpointcorp/hub-gateway/internal/proxy"
	"github.com/nulpointcorp/hub-gateway/internal/ratelimit"
	"github.com/nulpointcorp/hub-gateway/internal/upstream"
	"github.com/nulpointcorp/hub-gateway/internal/usage"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initCatalog builds the declarative provider/endpoint/model graph (C2's
// Catalog) from configuration. This is the one-shot in-memory stand-in for
// the admin-CRUD-backed catalog described as an external collaborator in
// SPEC_FULL.md §1 — see internal/catalog's DESIGN.md entry.
func (a *App) initCatalog(_ context.Context) error {
	a.cat = catalog.Build(a.cfg)
	a.log.Info("catalog built", slog.Int("providers", len(a.cat.ActiveProviders())))
	return nil
}

// initServices creates the model-resolution cache backend, the request
// logger, and the Prometheus metrics registry. None of these cache a
// response — SPEC_FULL.md's Non-goals keep the gateway stateless with
// respect to conversation content; what's cached here is the cheap
// model-name → GlobalModel memoization from §4.2 step 1.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		a.log.Info("model-resolution cache: redis")
	case "memory":
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("model-resolution cache: memory (in-process)")
	case "none":
		a.log.Info("model-resolution cache: disabled")
	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	reqLogger, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	if a.cfg.ClickHouseDSN != "" {
		sink, err := usage.NewClickHouseSink(ctx, a.cfg.ClickHouseDSN, a.log)
		if err != nil {
			return fmt.Errorf("clickhouse usage sink: %w", err)
		}
		a.usageSink = sink
		a.log.Info("usage sink: clickhouse")
	} else {
		a.usageSink = usage.NopSink{}
		a.log.Info("usage sink: discarded (no CLICKHOUSE_DSN configured)")
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initDispatch wires the candidate builder, concurrency/rate guard,
// cache-affinity manager, circuit breaker, upstream HTTP client, token
// estimator, and usage recorder into one Orchestrator (C2–C8). Redis-backed
// pieces (the guard, adaptive controller, affinity manager) are left nil
// when Redis isn't configured — each of those packages degrades gracefully
// on its own (see their respective godoc), so the gateway still serves
// traffic, just without sticky affinity or adaptive RPM learning.
func (a *App) initDispatch(_ context.Context) error {
	var resolveCache npCache.Cache
	switch a.cfg.Cache.Mode {
	case "redis":
		resolveCache = npCache.NewExactCacheFromClient(a.rdb)
	case "memory":
		resolveCache = a.memCache
	}

	var affinityMgr *affinity.Manager
	var guard *ratelimit.Guard
	var adaptive *ratelimit.AdaptiveController
	if a.rdb != nil {
		affinityMgr = affinity.New(a.rdb, a.log)
		adaptive = ratelimit.NewAdaptiveController(a.rdb)
		guard = ratelimit.NewGuard(a.rdb, ratelimit.DefaultReservationController(), adaptive)
	}

	builder := candidate.New(a.cat, resolveCache, affinityCandidateAdapter{affinityMgr}, a.log)
	builder.SetMetrics(a.prom)

	breaker := proxy.NewCircuitBreakerWithConfig(proxy.CBConfig{
		ErrorThreshold: a.cfg.CircuitBreaker.ErrorThreshold,
		TimeWindow:     a.cfg.CircuitBreaker.TimeWindow,
		BaseBackoff:    a.cfg.CircuitBreaker.HalfOpenTimeout,
	})
	breaker.SetMetrics(a.prom)

	if guard != nil {
		guard.SetMetrics(a.prom)
	}

	upstreamClient := upstream.New()

	recorder := usage.NewRecorder(a.usageSink, usage.NewMemoryLedger(), a.log)

	estimator, err := usage.NewEstimator()
	if err != nil {
		// Estimation is a best-effort fallback for upstreams that omit
		// usage blocks entirely (§4.6) — absence of a tokenizer table must
		// never keep the gateway from starting.
		a.log.Warn("token estimator unavailable", slog.String("error", err.Error()))
		estimator = nil
	}

	a.orch = proxy.NewOrchestrator(
		builder,
		guard,
		adaptive,
		affinityMgr,
		breaker,
		upstreamClient,
		recorder,
		estimator,
		a.prom,
		a.cfg.Failover.MaxRetries,
		a.log,
	)

	return nil
}

// affinityCandidateAdapter narrows *affinity.Manager down to the
// candidate.Affinity interface (a Get-only read), keeping internal/candidate
// free of a Redis dependency.
type affinityCandidateAdapter struct{ mgr *affinity.Manager }

func (ac affinityCandidateAdapter) Get(ctx context.Context, key models.AffinityKey) (*models.AffinityRecord, bool) {
	if ac.mgr == nil {
		return nil, false
	}
	return ac.mgr.Get(ctx, key)
}

// initGateway wires together the Gateway, health checker, and management
// routes around the Orchestrator built in initDispatch.
func (a *App) initGateway(ctx context.Context) error {
	var cacheReady func() bool
	if a.rdb != nil {
		cacheReady = redisPinger(ctx, a.rdb)
	} else {
		cacheReady = func() bool { return true }
	}

	a.health = proxy.NewHealthChecker(a.baseCtx, a.cat, cacheReady, a.prom)

	// allowAnonymous is the inverse of AllowClientAPIKeys: when the gateway
	// only ever uses its own configured provider keys (AllowClientAPIKeys
	// false), a client credential is just an identifier, not a forwarded
	// secret, so its absence doesn't need to be fatal.
	a.gw = proxy.NewGateway(a.orch, a.cat, a.health, a.reqLogger, a.cfg.CORSOrigins, !a.cfg.AllowClientAPIKeys, a.log)

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}
