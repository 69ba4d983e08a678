package codec

// StreamEventType tags the concrete type of a StreamEvent.
type StreamEventType string

const (
	EventMessageStart    StreamEventType = "message_start"
	EventContentStart    StreamEventType = "content_block_start"
	EventContentDelta    StreamEventType = "content_block_delta"
	EventToolCallDelta   StreamEventType = "tool_call_delta"
	EventContentStop     StreamEventType = "content_block_stop"
	EventMessageDelta    StreamEventType = "message_delta"
	EventMessageStop     StreamEventType = "message_stop"
	EventUsage           StreamEventType = "usage"
	EventError           StreamEventType = "error"
	EventPing            StreamEventType = "ping"
	EventUnknown         StreamEventType = "unknown"
)

// StreamEvent is the tagged union of everything that can appear on the
// canonical event stream between a normalizer's request_to_internal pass and
// its stream_event_from_internal re-emission. One canonical event type
// covers every dialect's SSE vocabulary: Claude's content_block_delta,
// OpenAI's choices[].delta, and Gemini's candidates[].content all collapse
// onto ContentDelta, distinguished only by Index/Block when needed.
type StreamEvent struct {
	Type StreamEventType

	// Index is the content-block position this event applies to, for
	// dialects (Claude) that multiplex several blocks over one stream.
	Index int

	// MessageStart / MessageStop
	ID    string
	Model string

	// ContentStart
	Block ContentBlock

	// ContentDelta
	TextDelta string

	// ToolCallDelta — partial JSON fragment of a tool call's input, matching
	// Claude's input_json_delta and OpenAI's tool_calls[].function.arguments
	// incremental chunks.
	ToolCallID    string
	ToolCallName  string
	ToolInputJSON string

	// MessageDelta / MessageStop
	StopReason StopReason

	// Usage — may arrive standalone or piggybacked on MessageDelta/Stop.
	Usage UsageInfo

	// Error
	Err *InternalError

	// Unknown — carries the raw event so the dialect-specific normalizer can
	// decide whether to drop it or pass it through verbatim.
	RawType string
	Raw     map[string]any

	Extra Extra
}
