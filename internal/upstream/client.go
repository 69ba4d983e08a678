// Package upstream executes a chosen candidate's request against its
// Endpoint/ProviderKey over raw HTTP. The catalog describes endpoints
// declaratively (base URL, path, header rules) rather than binding each one
// to a fixed vendor SDK, so one fasthttp-based client serves every dialect —
// see DESIGN.md for why the per-vendor SDK providers were retired in favor
// of this.
package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// hopByHop headers are stripped from the outbound request regardless of
// endpoint configuration (§6) — the client's own transport framing must
// never leak upstream.
var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
	"Host", "Content-Length",
}

// Client executes upstream HTTP calls for the orchestrator (C5). One Client
// is shared across every candidate; fasthttp.Client pools connections per
// host internally.
type Client struct {
	hc *fasthttp.Client
}

// New builds a Client with pool sizing appropriate for a multi-tenant
// gateway fanning out to many distinct upstream hosts.
func New() *Client {
	return &Client{hc: &fasthttp.Client{
		MaxConnsPerHost:     512,
		MaxIdleConnDuration: 90 * time.Second,
		ReadTimeout:         120 * time.Second,
		WriteTimeout:        30 * time.Second,
	}}
}

// Request is one fully-addressed upstream call.
type Request struct {
	Endpoint *models.Endpoint
	Key      *models.ProviderKey
	// Model is the provider-native model name, substituted into the Gemini
	// path template. Ignored by dialects that carry the model in-body.
	Model  string
	Body   map[string]any
	Stream bool
}

// Response is a synchronous (non-streaming) upstream reply. Body is nil for
// an empty payload (e.g. a 204); callers inspect StatusCode before trusting
// Body's shape.
type Response struct {
	StatusCode int
	Body       map[string]any
	// RawBody is the verbatim response payload, captured so a passthrough
	// candidate (no dialect conversion) can forward the upstream's bytes to
	// the client byte-for-byte instead of re-marshaling the decoded Body.
	RawBody []byte
}

// StreamResponse is the raw byte-stream handle for a streaming reply;
// internal/stream owns SSE framing and dialect conversion from here.
type StreamResponse struct {
	StatusCode int
	Reader     *bufio.Reader
	release    func()
}

// Close releases the underlying fasthttp.Response. Must be called exactly
// once the stream has been fully drained or abandoned.
func (s *StreamResponse) Close() {
	if s.release != nil {
		s.release()
	}
}

func buildURL(r Request) string {
	base := strings.TrimRight(r.Endpoint.BaseURL, "/")
	path := r.Endpoint.Path
	if path == "" {
		path = codec.Props(r.Endpoint.ApiFormat).DefaultPath
	}
	if codec.BaseFormat(r.Endpoint.ApiFormat) == codec.FormatGemini {
		action := "generateContent"
		if r.Stream {
			action = "streamGenerateContent"
		}
		return fmt.Sprintf("%s%s/%s:%s", base, path, r.Model, action)
	}
	return base + path
}

// applyHeaders rebuilds the outbound header set in the order §6 specifies:
// endpoint header_rules (set/drop via empty value), then the auth header,
// then hop-by-hop stripping.
func applyHeaders(req *fasthttp.Request, r Request) {
	for _, rule := range r.Endpoint.HeaderRules {
		if rule.Value == "" {
			req.Header.Del(rule.Name)
		} else {
			req.Header.Set(rule.Name, rule.Value)
		}
	}
	applyAuth(req, r)
	for _, name := range hopByHop {
		req.Header.Del(name)
	}
	req.Header.SetContentType("application/json")
	if r.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
}

func applyAuth(req *fasthttp.Request, r Request) {
	if r.Key.AuthType == "oauth" {
		req.Header.Set("Authorization", "Bearer "+r.Key.Secret)
		return
	}
	switch codec.Props(r.Endpoint.ApiFormat).AuthHeader {
	case "Authorization":
		req.Header.Set("Authorization", "Bearer "+r.Key.Secret)
	case "":
		req.Header.Set("Authorization", "Bearer "+r.Key.Secret)
	default:
		req.Header.Set(codec.Props(r.Endpoint.ApiFormat).AuthHeader, r.Key.Secret)
	}
}

func endpointTimeout(e *models.Endpoint, fallback time.Duration) time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return fallback
}

// Do executes a non-streaming request and decodes the JSON body.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(buildURL(r))
	req.Header.SetMethod(fasthttp.MethodPost)
	applyHeaders(req, r)

	payload, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", err)
	}
	req.SetBody(payload)

	timeout := endpointTimeout(r.Endpoint, 60*time.Second)
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until > 0 && until < timeout {
			timeout = until
		}
	}

	if err := c.hc.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}

	var body map[string]any
	raw := resp.Body()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("upstream: decode response: %w", err)
		}
	}
	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)
	return &Response{StatusCode: resp.StatusCode(), Body: body, RawBody: rawCopy}, nil
}

// DoStream opens a streaming request and returns the raw body reader in
// fasthttp's stream-body mode, so the full response is never buffered in
// memory before the gateway starts forwarding bytes.
func (c *Client) DoStream(ctx context.Context, r Request) (*StreamResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	resp.StreamBody = true

	req.SetRequestURI(buildURL(r))
	req.Header.SetMethod(fasthttp.MethodPost)
	applyHeaders(req, r)

	payload, err := json.Marshal(r.Body)
	if err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, fmt.Errorf("upstream: marshal request: %w", err)
	}
	req.SetBody(payload)

	timeout := endpointTimeout(r.Endpoint, 180*time.Second)
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until > 0 && until < timeout {
			timeout = until
		}
	}

	if err := c.hc.DoTimeout(req, resp, timeout); err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, fmt.Errorf("upstream: %w", err)
	}
	fasthttp.ReleaseRequest(req)

	status := resp.StatusCode()
	return &StreamResponse{
		StatusCode: status,
		Reader:     bufio.NewReaderSize(resp.BodyStream(), 8192),
		release:    func() { fasthttp.ReleaseResponse(resp) },
	}, nil
}
