package usage

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
)

// Estimator provides a local token-count fallback for the rare upstream
// response that omits a usage block entirely — cl100k_base is a reasonable
// approximation across dialects since none of them publish their exact
// tokenizer for third-party use.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the cl100k_base encoding. Returns an error if the
// encoding's merge-rank table can't be loaded (e.g. no network access to
// fetch it and no local cache primed) — callers should treat a failed
// Estimator as "estimation unavailable" rather than fatal.
func NewEstimator() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Estimator{enc: enc}, nil
}

// CountText returns the estimated token count of a single string.
func (e *Estimator) CountText(text string) int {
	if e == nil || e.enc == nil || text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

// EstimateRequest sums the estimated token count across every message's
// text content plus the flattened system instructions, used only when an
// upstream response never reports usage for a completed request.
func (e *Estimator) EstimateRequest(req *codec.InternalRequest) int {
	if e == nil || req == nil {
		return 0
	}
	total := e.CountText(req.System)
	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			if block.Type == codec.ContentText {
				total += e.CountText(block.Text)
			}
		}
	}
	return total
}
