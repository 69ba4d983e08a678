package codec

import "strings"

// HeaderLookup fetches a header value by canonical (lower-case) name; it
// abstracts over fasthttp.Request/http.Header so detection can be tested
// without spinning up a real request.
type HeaderLookup func(name string) string

// DetectRequest classifies an inbound client request into an ApiFormat and
// extracts the caller-presented credential, following the priority order
// observed in the original implementation's detection module (see
// DESIGN.md): Claude requires BOTH x-api-key and anthropic-version present
// together; Gemini checks the ?key= query parameter first, then
// x-goog-api-key; OpenAI is the default fallback using a Bearer token,
// reusing x-api-key as the bearer-equivalent credential when no
// Authorization header was sent. The OPENAI_CLI (Responses API) refinement
// is applied afterward to OpenAI-detected requests, keyed only on the
// request path.
func DetectRequest(header HeaderLookup, queryKey string, path string) (ApiFormat, string) {
	apiKey := header("x-api-key")
	anthropicVersion := header("anthropic-version")
	if apiKey != "" && anthropicVersion != "" {
		format := FormatClaude
		if strings.Contains(path, "/responses") {
			// A Claude-authenticated request keeps FormatClaude even on a
			// /responses path; the OPENAI_CLI refinement below applies only
			// to OpenAI-detected requests.
		}
		return format, apiKey
	}

	if queryKey != "" {
		return refineGemini(path), queryKey
	}
	if goog := header("x-goog-api-key"); goog != "" {
		return refineGemini(path), goog
	}

	bearer := bearerToken(header("Authorization"))
	if bearer != "" {
		return refineOpenAI(path), bearer
	}
	if apiKey != "" {
		// OpenAI fallback: a client that only sent x-api-key (no
		// anthropic-version, no Bearer) is treated as OpenAI-dialect,
		// reusing x-api-key as the bearer-equivalent credential.
		return refineOpenAI(path), apiKey
	}
	return refineOpenAI(path), ""
}

func refineGemini(path string) ApiFormat {
	// Both GEMINI and GEMINI_CLI share a data format; the distinction only
	// matters for auth bookkeeping upstream, so detection always returns
	// the base GEMINI format and lets endpoint configuration pick CLI where
	// relevant.
	return FormatGemini
}

func refineOpenAI(path string) ApiFormat {
	if strings.Contains(path, "/responses") {
		return FormatOpenAICLI
	}
	return FormatOpenAI
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// DetectFromResponseShape classifies a raw response/body shape heuristically
// — used when the gateway sees a bare upstream body and needs to pick a
// parser without endpoint metadata (e.g. admin tooling replaying a captured
// response). It is not used on the request hot path, where the endpoint's
// configured api_format is authoritative.
func DetectFromResponseShape(body map[string]any) ApiFormat {
	if t, ok := body["type"].(string); ok && t == "message" {
		return FormatClaude
	}
	if _, ok := body["choices"]; ok {
		return FormatOpenAI
	}
	if _, ok := body["candidates"]; ok {
		return FormatGemini
	}
	if content, ok := body["content"].([]any); ok {
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text", "tool_use":
				return FormatClaude
			}
		}
	}
	return FormatOpenAI
}
