package codec

// ApiFormat is the wire dialect a client speaks or an endpoint hosts. This
// enum is the typed replacement for the source's format-ID strings (see
// DESIGN.md): dispatch happens via a Go map keyed by this type, never via
// string comparison sprinkled through the codebase.
type ApiFormat string

const (
	FormatClaude       ApiFormat = "claude"
	FormatClaudeCLI    ApiFormat = "claude_cli"
	FormatOpenAI       ApiFormat = "openai"
	FormatOpenAICLI    ApiFormat = "openai_cli"
	FormatGemini       ApiFormat = "gemini"
	FormatGeminiCLI    ApiFormat = "gemini_cli"
)

// formatOrder is the fixed enum order used for endpoint preference tie-breaks
// in the candidate builder (C2, "Endpoint preferred_format_order").
var formatOrder = []ApiFormat{
	FormatClaude, FormatClaudeCLI, FormatOpenAI, FormatOpenAICLI, FormatGemini, FormatGeminiCLI,
}

// PreferenceRank returns f's position in the fixed format enum order, used as
// a candidate-ordering tie-break key. Unknown formats sort last.
func PreferenceRank(f ApiFormat) int {
	for i, v := range formatOrder {
		if v == f {
			return i
		}
	}
	return len(formatOrder)
}

// dataFormatID groups formats that share request/response/stream body shape
// and differ only in authentication. CLAUDE/CLAUDE_CLI share "claude";
// GEMINI/GEMINI_CLI share "gemini". OPENAI and OPENAI_CLI do NOT share one —
// OPENAI_CLI speaks the Responses API, a materially different body shape.
var dataFormatID = map[ApiFormat]string{
	FormatClaude:    "claude",
	FormatClaudeCLI: "claude",
	FormatOpenAI:    "openai_chat",
	FormatOpenAICLI: "openai_responses",
	FormatGemini:    "gemini",
	FormatGeminiCLI: "gemini",
}

// IsPassthrough reports whether a request from client can be forwarded to
// endpoint without any conversion, because they share a data format ID.
func IsPassthrough(client, endpoint ApiFormat) bool {
	cid, ok1 := dataFormatID[client]
	eid, ok2 := dataFormatID[endpoint]
	return ok1 && ok2 && cid == eid
}

// BaseFormat collapses a CLI variant onto the normalizer it shares a body
// shape with. Used to look up a Normalizer in the registry.
func BaseFormat(f ApiFormat) ApiFormat {
	switch f {
	case FormatClaudeCLI:
		return FormatClaude
	case FormatGeminiCLI:
		return FormatGemini
	default:
		return f
	}
}

// formatProps holds the table-driven per-format behavior called out in the
// source's "dynamic dispatch via format ID strings" redesign note: the
// auth header the dialect expects, its default request path fragment, and
// whether [DONE] terminates its SSE stream.
type formatProps struct {
	AuthHeader     string
	DefaultPath    string
	DoneTerminated bool
}

var formatPropsTable = map[ApiFormat]formatProps{
	FormatClaude:    {AuthHeader: "x-api-key", DefaultPath: "/v1/messages", DoneTerminated: false},
	FormatClaudeCLI: {AuthHeader: "x-api-key", DefaultPath: "/v1/messages", DoneTerminated: false},
	FormatOpenAI:    {AuthHeader: "Authorization", DefaultPath: "/v1/chat/completions", DoneTerminated: true},
	FormatOpenAICLI: {AuthHeader: "Authorization", DefaultPath: "/v1/responses", DoneTerminated: true},
	FormatGemini:    {AuthHeader: "x-goog-api-key", DefaultPath: "/v1beta/models", DoneTerminated: false},
	FormatGeminiCLI: {AuthHeader: "x-goog-api-key", DefaultPath: "/v1beta/models", DoneTerminated: false},
}

func Props(f ApiFormat) formatProps {
	return formatPropsTable[f]
}

// DefaultCapabilities returns the FormatCapabilities for a given dialect.
// Image support defaults to false, matching the source dataclass default;
// every dialect that supports vision opts in explicitly below.
func DefaultCapabilities(f ApiFormat) FormatCapabilities {
	base := FormatCapabilities{
		SupportsStream:          true,
		SupportsErrorConversion: true,
		SupportsTools:           true,
		SupportsImages:          false,
		SupportedFeatures:       map[string]struct{}{},
	}
	switch BaseFormat(f) {
	case FormatClaude, FormatOpenAI, FormatGemini:
		base.SupportsImages = true
	case FormatOpenAICLI:
		// Responses API does not carry the legacy "functions" shape; the
		// codec emits its flat tools[] schema, but this dialect reports
		// SupportsTools=false. The candidate builder does not read it.
		base.SupportsTools = false
		base.SupportsImages = true
	}
	return base
}
