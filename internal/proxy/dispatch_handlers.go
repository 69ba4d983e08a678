package proxy

import (
	"bufio"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/logger"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// dispatchHandlers wires the Orchestrator to the client-facing dialect
// routes. Unlike the teacher's single OpenAI-shaped ChatCompletions handler,
// each of these parses its own dialect's request shape but converges on the
// same DispatchRequest/DispatchStream contract.
type dispatchHandlers struct {
	orch *Orchestrator
	gw   *Gateway
}

func newDispatchHandlers(gw *Gateway) *dispatchHandlers {
	return &dispatchHandlers{orch: gw.orch, gw: gw}
}

// handleMessages serves POST /v1/messages (Claude dialect).
func (h *dispatchHandlers) handleMessages(ctx *fasthttp.RequestCtx) {
	h.dispatch(ctx, codec.FormatClaude, "")
}

// handleChatCompletions serves POST /v1/chat/completions (OpenAI dialect).
func (h *dispatchHandlers) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	h.dispatch(ctx, codec.FormatOpenAI, "")
}

// handleResponses serves POST /v1/responses (OpenAI Responses/CLI dialect).
func (h *dispatchHandlers) handleResponses(ctx *fasthttp.RequestCtx) {
	h.dispatch(ctx, codec.FormatOpenAICLI, "")
}

// handleGeminiModelAction serves both
// POST /v1beta/models/{model}:generateContent and
// POST /v1beta/models/{model}:streamGenerateContent. fasthttp/router's
// ":modelAction" param captures the whole path segment — including the
// literal colon Gemini embeds in it — so the split happens here rather than
// at route-registration time.
func (h *dispatchHandlers) handleGeminiModelAction(ctx *fasthttp.RequestCtx) {
	raw, _ := ctx.UserValue("modelAction").(string)
	model, action, ok := strings.Cut(raw, ":")
	if !ok {
		apierrWriteGeneric(ctx, fasthttp.StatusBadRequest, "invalid model action path")
		return
	}
	h.dispatch(ctx, codec.FormatGemini, model)
	_ = action // action only disambiguates stream vs non-stream, handled via ctx path below
}

// dispatch is the shared body for every route: extract credentials, parse
// the body, build a DispatchRequest, and branch to Dispatch or
// DispatchStream depending on what the client asked for.
func (h *dispatchHandlers) dispatch(ctx *fasthttp.RequestCtx, clientFormat codec.ApiFormat, pathModel string) {
	clientKey := extractClientAPIKey(ctx)
	if clientKey == "" && !h.gw.allowAnonymous {
		apierrWriteGeneric(ctx, fasthttp.StatusUnauthorized, "missing API credential")
		return
	}

	var body map[string]any
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		apierrWriteGeneric(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
		return
	}

	modelName := pathModel
	if modelName == "" {
		modelName, _ = body["model"].(string)
	}

	isStream := strings.HasSuffix(string(ctx.Path()), ":streamGenerateContent")
	if v, ok := body["stream"].(bool); ok {
		isStream = isStream || v
	}

	requestID, _ := ctx.UserValue("request_id").(string)
	if requestID == "" {
		requestID = string(ctx.Response.Header.Peek("X-Request-ID"))
	}

	req := DispatchRequest{
		RequestID:      requestID,
		ClientAPIKeyID: clientKey,
		UserID:         "",
		APIKeyID:       clientKey,
		FreeTier:       false,
		ClientFormat:   clientFormat,
		ModelName:      modelName,
		IsStream:       isStream,
		Restrictions:   models.Restrictions{},
		Body:           body,
	}

	start := time.Now()
	if isStream {
		h.dispatchStream(ctx, req, start)
		return
	}
	h.dispatchSync(ctx, req, start)
}

func (h *dispatchHandlers) dispatchSync(ctx *fasthttp.RequestCtx, req DispatchRequest, start time.Time) {
	result, serr := h.orch.Dispatch(ctx, req)
	if serr != nil {
		writeSurfaceError(ctx, req.ClientFormat, serr)
		return
	}

	h.logRequest(req, start, result.Provider, result.Model, result.StatusCode, result.Cached, result.Usage)

	ctx.SetStatusCode(result.StatusCode)
	ctx.SetContentType("application/json")
	if result.RawBody != nil {
		ctx.SetBody(result.RawBody)
		return
	}
	encoded, err := json.Marshal(result.Body)
	if err != nil {
		apierrWriteGeneric(ctx, fasthttp.StatusInternalServerError, "failed to encode response")
		return
	}
	ctx.SetBody(encoded)
}

func (h *dispatchHandlers) dispatchStream(ctx *fasthttp.RequestCtx, req DispatchRequest, start time.Time) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")

	var serr *SurfaceError
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { _ = recover() }()
		sink := newCtxStreamSink(w, ctx)
		result, streamErr := h.orch.DispatchStream(ctx, req, sink)
		serr = streamErr
		if streamErr == nil && !result.Disconnected {
			h.logRequest(req, start, result.Provider, result.Model, result.StatusCode, false, result.Usage)
		}
	})

	if serr != nil {
		// Streaming already committed the 200 status line via
		// SetBodyStreamWriter by the time fasthttp flushes it, so a
		// pre-dispatch failure here can only be surfaced as an SSE error
		// event rather than a status-code change. DispatchStream only
		// returns a SurfaceError for failures before any byte was written
		// (candidate build, request decode), so the status is still safe
		// to override in the common case.
		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			defer func() { _ = recover() }()
		})
		writeSurfaceError(ctx, req.ClientFormat, serr)
	}
}

// logRequest emits one batched observability record per successful dispatch
// to the async request logger; failed dispatches are not logged here. A dropped connection
// mid-stream never reaches here — §4.6 excludes it from both logging and
// usage recording.
func (h *dispatchHandlers) logRequest(req DispatchRequest, start time.Time, provider, model string, status int, cached bool, usage codec.UsageInfo) {
	if h.gw.reqLogger == nil {
		return
	}
	id, err := uuid.Parse(req.RequestID)
	if err != nil {
		id = uuid.New()
	}
	h.gw.reqLogger.Log(logger.RequestLog{
		ID:           id,
		ClientFormat: string(req.ClientFormat),
		Provider:     provider,
		Model:        model,
		InputTokens:  uint32(usage.InputTokens),
		OutputTokens: uint32(usage.OutputTokens),
		LatencyMs:    uint16(min(time.Since(start).Milliseconds(), 65535)),
		Status:       uint16(status),
		Cached:       cached,
		CreatedAt:    time.Now(),
	})
}

// extractClientAPIKey mirrors the teacher's credential extraction, widened
// to the dialects' three distinct header/query conventions (§6 detection
// priority): Claude's x-api-key, Gemini's ?key=/x-goog-api-key, and OpenAI's
// Bearer token.
func extractClientAPIKey(ctx *fasthttp.RequestCtx) string {
	lookup := func(name string) string {
		return string(ctx.Request.Header.Peek(name))
	}
	format, key := codec.DetectRequest(lookup, string(ctx.QueryArgs().Peek("key")), string(ctx.Path()))
	_ = format
	return key
}
