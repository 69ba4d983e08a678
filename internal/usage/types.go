// Package usage implements the usage recorder (C7): it prices a finished
// dispatch's token usage, applies the caller's rate multiplier and any
// free-tier override, debits the user/api-key ledger, and persists a
// durable usage row regardless of whether the debit succeeded.
package usage

import (
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
)

// BillingTemplate selects which token classes count toward tiered-pricing
// band selection — the one place the three client dialects' billing
// conventions actually diverge (§4.7).
type BillingTemplate string

const (
	TemplateClaude BillingTemplate = "claude"
	TemplateOpenAI BillingTemplate = "openai"
	TemplateGemini BillingTemplate = "gemini"
)

// TemplateForFormat resolves the billing template from the client-facing
// dialect the usage is billed against, per §4.7's "billing templates (per
// dialect)" note.
func TemplateForFormat(f codec.ApiFormat) BillingTemplate {
	switch codec.BaseFormat(f) {
	case codec.FormatClaude:
		return TemplateClaude
	case codec.FormatGemini:
		return TemplateGemini
	default:
		return TemplateOpenAI
	}
}

// Row is the durable usage record described in §6's persisted-state layout.
type Row struct {
	ID              string
	RequestID       string
	UserID          string
	APIKeyID        string
	ProviderID      string
	EndpointID      string
	KeyID           string
	ClientAPIFormat codec.ApiFormat
	TargetAPIFormat codec.ApiFormat
	ModelID         string
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
	CacheWriteTokens int
	CostUSD         float64
	StatusCode      int
	LatencyMS       int64
	IsStream        bool
	ErrorKind       string
	CreatedAt       time.Time
}
