// Package codec implements the Hub-and-Spoke wire-format conversion layer.
//
// Every request, response, and stream event that passes through the gateway
// is translated into a canonical internal representation before being
// re-emitted in the target dialect. To convert A→B, the gateway always runs
// A→canonical→B; there is no direct A→B path. This keeps each dialect's
// normalizer isolated and makes adding a fifth dialect a matter of writing
// one more normalizer, not one per existing dialect.
package codec

// Role identifies the speaker of a canonical message or instruction segment.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
	RoleUnknown   Role = "unknown"
)

// ContentType tags the concrete type of a ContentBlock.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentImage      ContentType = "image"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
	ContentUnknown    ContentType = "unknown"
)

// StopReason is the canonical reason a model stopped generating. All four
// dialects map onto this set; dialects lacking a concept (e.g. OpenAI has no
// direct "pause_turn") simply never emit it.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopSequence        StopReason = "stop_sequence"
	StopToolUse         StopReason = "tool_use"
	StopPauseTurn       StopReason = "pause_turn"
	StopRefusal         StopReason = "refusal"
	StopContentFiltered StopReason = "content_filtered"
	StopUnknown         StopReason = "unknown"
)

// ErrorType is the canonical classification of an upstream error body,
// independent of the dialect that produced it. See internal/proxy for how
// this feeds the retry/circuit-breaker decision in C8.
type ErrorType string

const (
	ErrInvalidRequest        ErrorType = "invalid_request"
	ErrAuthentication        ErrorType = "authentication"
	ErrPermissionDenied      ErrorType = "permission_denied"
	ErrNotFound              ErrorType = "not_found"
	ErrRateLimit             ErrorType = "rate_limit"
	ErrOverloaded            ErrorType = "overloaded"
	ErrServerError           ErrorType = "server_error"
	ErrContentFiltered       ErrorType = "content_filtered"
	ErrContextLengthExceeded ErrorType = "context_length_exceeded"
	ErrUnknown               ErrorType = "unknown"
)

// Extra is a passthrough bag for fields the canonical model does not
// recognize. Carrying them forward (instead of dropping them) makes
// same-dialect round trips lossless and gives forward compatibility with
// provider-specific fields the codec has not learned about yet.
type Extra map[string]any

// ContentBlock is the tagged union of everything a message can contain.
// Exactly one of the Text/Image/ToolUse/ToolResult/Unknown fields is
// meaningful, selected by Type; this mirrors the source dataclass union
// using a single struct instead of an interface so JSON (de)serialization
// inside the codec stays straightforward; callers switch on Type.
type ContentBlock struct {
	Type ContentType

	// TextBlock
	Text string

	// ImageBlock — exactly one of (Data+MediaType) or URL is set.
	ImageData      string
	ImageMediaType string
	ImageURL       string

	// ToolUseBlock
	ToolID    string
	ToolName  string
	ToolInput map[string]any

	// ToolResultBlock
	ToolUseID   string
	Output      any
	ContentText string
	IsError     bool

	// UnknownBlock
	RawType string
	Payload map[string]any

	Extra Extra
}

// TextContentBlock is a convenience constructor for the overwhelmingly common
// case of a single text block.
func TextContentBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// InternalMessage is one turn of canonical conversation.
type InternalMessage struct {
	Role    Role
	Content []ContentBlock
	Extra   Extra
}

// ToolDefinition is the canonical tool/function schema shared by every
// dialect that supports tool calling.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Extra       Extra
}

// ToolChoiceType selects how the model should pick a tool.
type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceRequired ToolChoiceType = "required"
	ToolChoiceTool     ToolChoiceType = "tool"
)

// ToolChoice is the canonical tool-choice directive.
type ToolChoice struct {
	Type     ToolChoiceType
	ToolName string // only meaningful when Type == ToolChoiceTool
	Extra    Extra
}

// InstructionSegment preserves one system/developer instruction in order.
// OpenAI-dialect requests may interleave distinct system and developer
// messages; Claude and Gemini only accept one flattened system string. The
// codec keeps both representations on InternalRequest so neither direction
// of conversion loses information it didn't need to.
type InstructionSegment struct {
	Role Role // RoleSystem or RoleDeveloper only
	Text string
}

// InternalRequest is the canonical form of a chat/completion request.
type InternalRequest struct {
	Model    string
	Messages []InternalMessage

	// Instructions preserves system/developer segments in their original
	// order and role. System is the same content flattened to one string,
	// for dialects (Claude, Gemini) that only accept a bare system string.
	Instructions []InstructionSegment
	System       string

	MaxTokens      *int
	Temperature    *float64
	TopP           *float64
	TopK           *int
	StopSequences  []string
	Stream         bool
	Tools          []ToolDefinition
	ToolChoice     *ToolChoice
	Extra          Extra
}

// UsageInfo is the canonical token-usage tuple. All four token classes are
// independent: a provider that never reports cache tokens simply leaves
// them at zero, and the usage recorder (C7) treats that as "no cache
// activity" rather than "unknown".
type UsageInfo struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  int
	CacheWriteTokens int
	Extra            Extra
}

// Add accumulates usage deltas observed across multiple stream events,
// keeping the running maximum per field — the contract used by the stream
// processor (C6) since some dialects repeat cumulative totals on every
// event while others only report a delta on message_stop.
func (u *UsageInfo) Add(other UsageInfo) {
	if other.InputTokens > u.InputTokens {
		u.InputTokens = other.InputTokens
	}
	if other.OutputTokens > u.OutputTokens {
		u.OutputTokens = other.OutputTokens
	}
	if other.CacheReadTokens > u.CacheReadTokens {
		u.CacheReadTokens = other.CacheReadTokens
	}
	if other.CacheWriteTokens > u.CacheWriteTokens {
		u.CacheWriteTokens = other.CacheWriteTokens
	}
	total := u.InputTokens + u.OutputTokens
	if total > u.TotalTokens {
		u.TotalTokens = total
	}
}

// InternalResponse is the canonical form of a non-streaming response.
type InternalResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      UsageInfo
	Extra      Extra
}

// InternalError is the canonical form of an upstream error body.
type InternalError struct {
	Type      ErrorType
	Message   string
	Code      string
	Param     string
	Retryable bool
	Extra     Extra
}

func (e *InternalError) Error() string { return e.Message }

// FormatCapabilities describes what a dialect can represent (see
// DefaultCapabilities). The candidate builder (C2) does not consult it: a
// conversion candidate is admitted on the endpoint's format acceptance
// alone, even when the client used tools the target dialect cannot express.
type FormatCapabilities struct {
	SupportsStream          bool
	SupportsErrorConversion bool
	SupportsTools           bool
	SupportsImages          bool
	SupportedFeatures       map[string]struct{}
}

func (c FormatCapabilities) Has(feature string) bool {
	_, ok := c.SupportedFeatures[feature]
	return ok
}
