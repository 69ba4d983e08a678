package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the proxy routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to start in proxy-only mode.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	r := router.New()
	h := newDispatchHandlers(g)

	r.POST("/v1/messages", h.handleMessages)
	r.POST("/v1/chat/completions", h.handleChatCompletions)
	r.POST("/v1/responses", h.handleResponses)
	// fasthttp/router's ":modelAction" captures one full path segment,
	// including Gemini's embedded ":generateContent"/":streamGenerateContent"
	// suffix — split out in handleGeminiModelAction.
	r.POST("/v1beta/models/{modelAction}", h.handleGeminiModelAction)
	r.GET("/v1/models", g.handleModelList)
	r.GET("/v1beta/models", g.handleModelList)

	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	if g.health == nil {
		writeJSON(ctx, map[string]any{"status": "ok", "version": "0.1.0"})
		return
	}
	snap := g.health.Snapshot()
	writeJSON(ctx, snap)
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health == nil || g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

// handleModelList serves GET /v1/models and /v1beta/models: a flat listing
// of every global model the active catalog can currently resolve to, in the
// minimal shape both the OpenAI and Gemini CLIs expect to enumerate models.
func (g *Gateway) handleModelList(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"object": "list",
		"data":   g.catalog.ListModels(),
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
