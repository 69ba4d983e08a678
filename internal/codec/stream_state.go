package codec

// StreamState accumulates the per-request bookkeeping a stream conversion
// needs across many incremental events: the running usage totals, the
// current stop reason, and a per-format substate bag for anything a single
// dialect's normalizer needs to remember between calls (e.g. Claude's
// open-content-block index, OpenAI's tool_calls[] accumulation buffer).
// Grounded on the source's StreamState.substate(format_id) pattern: rather
// than giving every normalizer its own ad hoc closure, the gateway owns one
// StreamState per request and hands each normalizer its own namespaced
// slice of it.
type StreamState struct {
	MessageID  string
	Model      string
	StopReason StopReason
	Usage      UsageInfo

	substates map[ApiFormat]map[string]any
}

// NewStreamState returns an empty StreamState ready for a new request.
func NewStreamState() *StreamState {
	return &StreamState{substates: make(map[ApiFormat]map[string]any)}
}

// Substate returns the mutable state bag private to format, creating it on
// first use. Normalizers type-assert the values they stored themselves;
// the bag is intentionally untyped so each dialect can carry whatever shape
// of scratch state its own event grammar needs.
func (s *StreamState) Substate(format ApiFormat) map[string]any {
	base := BaseFormat(format)
	if s.substates[base] == nil {
		s.substates[base] = make(map[string]any)
	}
	return s.substates[base]
}

// Reset clears accumulated usage/stop-reason state and all substates,
// leaving MessageID/Model intact — used when a retried request restarts the
// stream from the top after a mid-stream upstream failure.
func (s *StreamState) Reset() {
	s.StopReason = ""
	s.Usage = UsageInfo{}
	s.substates = make(map[ApiFormat]map[string]any)
}
