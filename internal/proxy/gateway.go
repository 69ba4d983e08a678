// Package proxy is the core LLM request dispatcher.
//
// The Gateway receives an incoming client request in one of the supported
// dialects, builds a candidate list via the candidate builder, and hands the
// attempt loop to the Orchestrator — which applies the circuit breaker, rate
// guard, and cache-affinity overlay before talking to an upstream endpoint,
// falling back to the next candidate when one fails.
//
// Key design constraints:
//   - Proxy overhead is kept off the hot path: logger, affinity, and rate
//     limiter are optional and nil-safe on the Orchestrator itself.
//   - All I/O uses context.Context so timeouts and client disconnects
//     propagate correctly.
//   - Streaming responses are forwarded incrementally (SSE) and are never
//     cached — the only persistent routing memory is cache-affinity, a
//     sticky (client key, model) -> (provider, endpoint, key) binding, not a
//     response cache.
package proxy

import (
	"log/slog"

	"github.com/nulpointcorp/hub-gateway/internal/candidate"
	"github.com/nulpointcorp/hub-gateway/internal/logger"
)

// Gateway holds the wiring every HTTP handler needs: the Orchestrator that
// runs the dispatch loop, the health checker surfaced at /health and
// /readiness, and the handful of transport-level settings (CORS, anonymous
// access) that don't belong on the Orchestrator itself.
type Gateway struct {
	orch    *Orchestrator
	catalog candogCatalog
	health  *HealthChecker

	reqLogger *logger.Logger

	corsOrigins    []string
	allowAnonymous bool

	log *slog.Logger
}

// candogCatalog is the subset of catalog.Static the Gateway needs outside
// the candidate builder's own Catalog interface (model listing has no
// routing decision to make, so it talks to the concrete catalog directly).
type candogCatalog interface {
	candidate.Catalog
	ListModels() []map[string]any
}

// NewGateway constructs a Gateway around an already-wired Orchestrator.
// health, reqLogger, and log may be nil; corsOrigins defaults to ["*"] when
// empty. allowAnonymous lets the gateway accept a request with no client
// credential at all — useful only when every configured provider is a
// gateway-held key and AllowClientAPIKeys is false end to end.
func NewGateway(orch *Orchestrator, cat candogCatalog, health *HealthChecker, reqLogger *logger.Logger, corsOrigins []string, allowAnonymous bool, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Gateway{
		orch:           orch,
		catalog:        cat,
		health:         health,
		reqLogger:      reqLogger,
		corsOrigins:    corsOrigins,
		allowAnonymous: allowAnonymous,
		log:            log,
	}
}
