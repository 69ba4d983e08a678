package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// Sink durably persists a finished usage Row. Implementations must not
// block the caller indefinitely — RecordUsage runs on the request's
// goroutine, not a background worker.
type Sink interface {
	Write(row Row)
}

// NopSink discards every row. Used when no durable sink is configured.
type NopSink struct{}

func (NopSink) Write(Row) {}

// Params bundles everything RecordUsage needs from one finished dispatch
// attempt. UserID and APIKeyID may both be empty for a standalone,
// unauthenticated deployment (ledger decrements are then skipped).
type Params struct {
	RequestID       string
	UserID          string
	APIKeyID        string
	ProviderID      string
	EndpointID      string
	KeyID           string
	ClientAPIFormat codec.ApiFormat
	TargetAPIFormat codec.ApiFormat
	ModelID         string
	Usage           codec.UsageInfo
	Pricing         models.Pricing
	RateMultiplier  float64
	FreeTier        bool
	StatusCode      int
	LatencyMS       int64
	IsStream        bool
	ErrorKind       string
}

// Recorder implements C7: price, discount, debit, and durably record one
// dispatch's usage.
type Recorder struct {
	sink   Sink
	ledger Ledger
	log    *slog.Logger
}

// NewRecorder constructs a Recorder. sink defaults to NopSink, ledger to a
// fresh MemoryLedger, when nil.
func NewRecorder(sink Sink, ledger Ledger, log *slog.Logger) *Recorder {
	if sink == nil {
		sink = NopSink{}
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sink: sink, ledger: ledger, log: log}
}

// RecordUsage computes cost, applies the rate multiplier and free-tier
// override, debits the user's and api-key's ledger accounts, and always
// writes the usage row to the sink — even when the ledger rejects the
// debit, since the tokens were genuinely spent upstream regardless of
// billing outcome. Returns ErrQuotaExceeded (wrapping) if either account's
// debit was rejected; the caller decides whether that should still surface
// as a 429 to the client for the *next* request (this one already
// completed upstream).
func (r *Recorder) RecordUsage(ctx context.Context, p Params) (float64, error) {
	template := TemplateForFormat(p.ClientAPIFormat)
	cost := Cost(p.Pricing, p.Usage, template)

	multiplier := p.RateMultiplier
	if multiplier == 0 {
		multiplier = 1.0
	}
	cost *= multiplier

	if p.FreeTier {
		cost = 0
	}

	var ledgerErr error
	if p.UserID != "" {
		if err := r.ledger.Decrement(ctx, p.UserID, cost); err != nil {
			ledgerErr = err
		}
	}
	if p.APIKeyID != "" {
		if err := r.ledger.Decrement(ctx, p.APIKeyID, cost); err != nil && ledgerErr == nil {
			ledgerErr = err
		}
	}

	row := Row{
		ID:               uuid.NewString(),
		RequestID:        p.RequestID,
		UserID:           p.UserID,
		APIKeyID:         p.APIKeyID,
		ProviderID:       p.ProviderID,
		EndpointID:       p.EndpointID,
		KeyID:            p.KeyID,
		ClientAPIFormat:  p.ClientAPIFormat,
		TargetAPIFormat:  p.TargetAPIFormat,
		ModelID:          p.ModelID,
		InputTokens:      p.Usage.InputTokens,
		OutputTokens:     p.Usage.OutputTokens,
		CacheReadTokens:  p.Usage.CacheReadTokens,
		CacheWriteTokens: p.Usage.CacheWriteTokens,
		CostUSD:          cost,
		StatusCode:       p.StatusCode,
		LatencyMS:        p.LatencyMS,
		IsStream:         p.IsStream,
		ErrorKind:        p.ErrorKind,
		CreatedAt:        time.Now().UTC(),
	}
	r.sink.Write(row)

	if ledgerErr != nil {
		r.log.WarnContext(ctx, "usage_ledger_rejected",
			slog.String("request_id", p.RequestID),
			slog.String("user_id", p.UserID),
			slog.String("api_key_id", p.APIKeyID),
			slog.Float64("cost_usd", cost),
		)
	}
	return cost, ledgerErr
}
