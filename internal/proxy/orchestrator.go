package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/candidate"
	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/metrics"
	"github.com/nulpointcorp/hub-gateway/internal/models"
	"github.com/nulpointcorp/hub-gateway/internal/ratelimit"
	"github.com/nulpointcorp/hub-gateway/internal/stream"
	"github.com/nulpointcorp/hub-gateway/internal/upstream"
	"github.com/nulpointcorp/hub-gateway/internal/usage"
)

// defaultAffinityTTL is used when a candidate's key carries no explicit
// CacheTTLMinutes (§4.4).
const defaultAffinityTTL = 10 * time.Minute

// SurfaceError is the single failure shape the orchestrator ever returns —
// every candidate.Build error, conversion error, and exhausted-retry
// classification is wrapped into one of these so the HTTP handler layer has
// exactly one type to unwrap.
type SurfaceError struct {
	Status int
	Cause  error
}

func (e *SurfaceError) Error() string { return e.Cause.Error() }
func (e *SurfaceError) Unwrap() error  { return e.Cause }

// DispatchRequest bundles everything the orchestrator needs to build and
// try candidates for one client call.
type DispatchRequest struct {
	RequestID      string
	ClientAPIKeyID string
	UserID         string
	APIKeyID       string
	FreeTier       bool
	ClientFormat   codec.ApiFormat
	ModelName      string
	IsStream       bool
	Restrictions   models.Restrictions
	Body           map[string]any
}

// DispatchResult is the outcome of a successful non-streaming dispatch.
// RawBody carries the byte-equality passthrough invariant (§8): on a
// non-conversion candidate it is the upstream's verbatim payload.
type DispatchResult struct {
	StatusCode int
	RawBody    []byte
	Body       map[string]any
	Usage      codec.UsageInfo
	Provider   string
	Model      string
	Cached     bool
}

// StreamDispatchResult is the outcome of a streaming dispatch. Usage is
// zero-valued when Disconnected is true (§4.6: usage is never recorded for
// a dropped connection).
type StreamDispatchResult struct {
	StatusCode   int
	Usage        codec.UsageInfo
	Provider     string
	Model        string
	Disconnected bool
}

// Orchestrator implements the dispatch loop (C5): build candidates, try
// them in order subject to the circuit breaker and rate guard, classify
// failures via Classify, and on success refresh affinity and record usage.
type Orchestrator struct {
	builder     *candidate.Builder
	guard       *ratelimit.Guard
	adaptive    *ratelimit.AdaptiveController
	affinityMgr AffinityRefresher
	breaker     *CircuitBreaker
	upstream    *upstream.Client
	recorder    *usage.Recorder
	estimator   *usage.Estimator
	met         *metrics.Registry
	maxAttempts int
	affinityTTL time.Duration
	log         *slog.Logger
}

// AffinityRefresher is the subset of internal/affinity.Manager the
// orchestrator needs, kept as an interface so tests can substitute a fake
// without pulling in Redis.
type AffinityRefresher interface {
	Get(ctx context.Context, key models.AffinityKey) (*models.AffinityRecord, bool)
	Put(ctx context.Context, key models.AffinityKey, rec models.AffinityRecord, ttl time.Duration) error
	Refresh(ctx context.Context, key models.AffinityKey, ttl time.Duration) error
}

// NewOrchestrator constructs an Orchestrator. affinityMgr, adaptive,
// recorder, and estimator may be nil — each degrades gracefully (no sticky
// routing, no adaptive learning, discarded usage, no local token fallback).
func NewOrchestrator(
	builder *candidate.Builder,
	guard *ratelimit.Guard,
	adaptive *ratelimit.AdaptiveController,
	affinityMgr AffinityRefresher,
	breaker *CircuitBreaker,
	upstreamClient *upstream.Client,
	recorder *usage.Recorder,
	estimator *usage.Estimator,
	met *metrics.Registry,
	maxAttempts int,
	log *slog.Logger,
) *Orchestrator {
	if breaker == nil {
		breaker = NewCircuitBreaker()
	}
	if log == nil {
		log = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Orchestrator{
		builder:     builder,
		guard:       guard,
		adaptive:    adaptive,
		affinityMgr: affinityMgr,
		breaker:     breaker,
		upstream:    upstreamClient,
		recorder:    recorder,
		estimator:   estimator,
		met:         met,
		maxAttempts: maxAttempts,
		affinityTTL: defaultAffinityTTL,
		log:         log,
	}
}

func (o *Orchestrator) candidateRequest(req DispatchRequest) candidate.Request {
	return candidate.Request{
		ClientFormat: req.ClientFormat,
		ModelName:    req.ModelName,
		IsStream:     req.IsStream,
		Restrictions: req.Restrictions,
	}
}

func (o *Orchestrator) attemptBudget(n int) int {
	if o.maxAttempts > 0 && o.maxAttempts < n {
		return o.maxAttempts
	}
	return n
}

// admit runs the rate guard for one candidate, returning the classification
// to apply (nil if admitted).
func (o *Orchestrator) admit(ctx context.Context, cand candidate.Candidate) (*Classification, error) {
	if o.guard == nil {
		return nil, nil
	}
	_, err := o.guard.Admit(ctx, cand.Key.ID, cand.Key.RPMLimit, cand.IsCached)
	if err == nil {
		return nil, nil
	}
	cls := Classify(ctx, err, 0)
	return &cls, err
}

func (o *Orchestrator) applyClassification(ctx context.Context, cand candidate.Candidate, cls Classification) {
	if cls.OpenCircuit {
		o.breaker.RecordFailure(cand.Key, cand.Endpoint.ApiFormat)
	}
	if cls.DownshiftRPM && cand.Key.RPMLimit == nil && o.adaptive != nil {
		_, _ = o.adaptive.ShiftDown(ctx, cand.Key.ID)
	}
}

func (o *Orchestrator) onSuccess(ctx context.Context, cand candidate.Candidate) {
	o.breaker.RecordSuccess(cand.Key, cand.Endpoint.ApiFormat)
	if cand.Key.RPMLimit == nil && o.adaptive != nil {
		_, _, _ = o.adaptive.ShiftUp(ctx, cand.Key.ID)
	}
}

func (o *Orchestrator) refreshAffinity(ctx context.Context, req DispatchRequest, cand candidate.Candidate) {
	if o.affinityMgr == nil || req.ClientAPIKeyID == "" {
		return
	}
	key := models.AffinityKey{
		ClientAPIKeyID:        req.ClientAPIKeyID,
		TargetFormat:          req.ClientFormat,
		ResolvedGlobalModelID: cand.GlobalModel.ID,
	}
	ttl := o.affinityTTL
	if cand.Key.CacheTTLMinutes > 0 {
		ttl = time.Duration(cand.Key.CacheTTLMinutes) * time.Minute
	}
	if cand.IsCached {
		_ = o.affinityMgr.Refresh(ctx, key, ttl)
		return
	}
	_ = o.affinityMgr.Put(ctx, key, models.AffinityRecord{
		ProviderID:   cand.Provider.ID,
		EndpointID:   cand.Endpoint.ID,
		KeyID:        cand.Key.ID,
		RequestCount: 1,
	}, ttl)
}

// recordAttempt emits the per-attempt upstream outcome counters/histogram
// (gateway_upstream_attempts_total / _duration_seconds). route is the
// endpoint's ApiFormat, since one provider may be attempted through several
// target formats.
func (o *Orchestrator) recordAttempt(cand candidate.Candidate, outcome string, start time.Time) {
	if o.met == nil {
		return
	}
	o.met.ObserveUpstreamAttempt(cand.Provider.Name, string(cand.Endpoint.ApiFormat), outcome, time.Since(start))
}

// recordFailoverStep emits a failover event when attempt i (i>0) tries a
// different candidate than attempt i-1.
func (o *Orchestrator) recordFailoverStep(primary string, candidates []candidate.Candidate, i int, reason string) {
	if o.met == nil || i == 0 {
		return
	}
	o.met.RecordFailover(primary, candidates[i-1].Provider.Name, candidates[i].Provider.Name, reason)
}

func (o *Orchestrator) recordUsage(ctx context.Context, req DispatchRequest, cand candidate.Candidate, u codec.UsageInfo, statusCode int, latency time.Duration, isStream bool, errKind string) {
	if o.met != nil {
		route := string(req.ClientFormat)
		cache := "miss"
		if cand.IsCached {
			cache = "hit"
		}
		o.met.RecordRequest(cand.Provider.Name, statusCode, latency.Milliseconds())
		o.met.ObserveGatewayRequest(cand.Provider.Name, route, cache, latency)
		o.met.AddTokens(cand.Provider.Name, route, u.InputTokens, u.OutputTokens, cand.IsCached)
		if errKind != "" {
			o.met.RecordError(cand.Provider.Name, errKind)
		}
	}
	if o.recorder == nil {
		return
	}
	var pricing models.Pricing
	if cand.ProviderModel != nil {
		pricing = cand.ProviderModel.Pricing
	}
	freeTier := req.FreeTier || cand.Provider.BillingType == models.BillingFreeTier
	_, err := o.recorder.RecordUsage(ctx, usage.Params{
		RequestID:       req.RequestID,
		UserID:          req.UserID,
		APIKeyID:        req.APIKeyID,
		ProviderID:      cand.Provider.ID,
		EndpointID:      cand.Endpoint.ID,
		KeyID:           cand.Key.ID,
		ClientAPIFormat: req.ClientFormat,
		TargetAPIFormat: cand.Endpoint.ApiFormat,
		ModelID:         cand.GlobalModel.ID,
		Usage:           u,
		Pricing:         pricing,
		RateMultiplier:  cand.Key.RateMultiplier,
		FreeTier:        freeTier,
		StatusCode:      statusCode,
		LatencyMS:       latency.Milliseconds(),
		IsStream:        isStream,
		ErrorKind:       errKind,
	})
	if err != nil {
		o.log.WarnContext(ctx, "usage_quota_rejected",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

// statusForBuildErr maps a candidate.Build failure to its §6 client status.
func statusForBuildErr(err error) int {
	var forbidden *candidate.ForbiddenByPolicyError
	if errors.As(err, &forbidden) {
		return 403
	}
	return 400
}

// Dispatch runs the full non-streaming attempt loop and always returns
// either a result or a SurfaceError, never a bare error.
func (o *Orchestrator) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, *SurfaceError) {
	candidates, err := o.builder.BuildWithAffinity(ctx, req.ClientAPIKeyID, o.candidateRequest(req))
	if err != nil {
		return nil, &SurfaceError{Status: statusForBuildErr(err), Cause: err}
	}

	srcNorm, err := codec.Lookup(req.ClientFormat)
	if err != nil {
		return nil, &SurfaceError{Status: 400, Cause: fmt.Errorf("%w: %v", errClientRequest, err)}
	}
	internalReq, err := srcNorm.RequestToInternal(req.Body)
	if err != nil {
		return nil, &SurfaceError{Status: 400, Cause: fmt.Errorf("%w: %v", errClientRequest, err)}
	}
	internalReq.Stream = false

	var (
		last    *Classification
		lastErr error
		primary string
	)
	if len(candidates) > 0 {
		primary = candidates[0].Provider.Name
	}

	for i := 0; i < o.attemptBudget(len(candidates)); i++ {
		cand := candidates[i]
		attemptStart := time.Now()

		reason := ""
		if last != nil {
			reason = string(last.Class)
		}
		o.recordFailoverStep(primary, candidates, i, reason)

		if !o.breaker.Allow(cand.Key, cand.Endpoint.ApiFormat) {
			continue
		}

		if cls, admitErr := o.admit(ctx, cand); admitErr != nil {
			o.applyClassification(ctx, cand, *cls)
			o.recordAttempt(cand, "rate_limited", attemptStart)
			last, lastErr = cls, admitErr
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		body := req.Body
		dstNorm, nerr := codec.Lookup(cand.Endpoint.ApiFormat)
		if nerr != nil {
			cls := Classify(ctx, fmt.Errorf("%w: %v", errConversion, nerr), 0)
			last, lastErr = &cls, nerr
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}
		if cand.NeedsConversion {
			converted, cerr := dstNorm.RequestFromInternal(internalReq)
			if cerr != nil {
				wrapped := fmt.Errorf("%w: %v", errConversion, cerr)
				cls := Classify(ctx, wrapped, 0)
				last, lastErr = &cls, wrapped
				if cls.RetryOtherCandidate {
					continue
				}
				break
			}
			body = converted
		}

		resp, uerr := o.upstream.Do(ctx, upstream.Request{
			Endpoint: cand.Endpoint,
			Key:      cand.Key,
			Model:    cand.ProviderModel.ProviderModelName,
			Body:     body,
			Stream:   false,
		})
		if uerr != nil {
			wrapped := &UpstreamConnError{Err: uerr}
			cls := Classify(ctx, wrapped, 0)
			o.applyClassification(ctx, cand, cls)
			o.recordAttempt(cand, "conn_error", attemptStart)
			last, lastErr = &cls, wrapped
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		if resp.StatusCode >= 400 {
			ierr := dstNorm.ErrorToInternal(resp.StatusCode, resp.Body)
			cls := Classify(ctx, ierr, resp.StatusCode)
			o.applyClassification(ctx, cand, cls)
			o.recordAttempt(cand, "upstream_error", attemptStart)
			last, lastErr = &cls, ierr
			o.recordUsage(ctx, req, cand, codec.UsageInfo{}, resp.StatusCode, time.Since(attemptStart), false, string(cls.Class))
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		internalResp, rerr := dstNorm.ResponseToInternal(resp.Body)
		if rerr != nil {
			wrapped := fmt.Errorf("%w: %v", errConversion, rerr)
			cls := Classify(ctx, wrapped, resp.StatusCode)
			last, lastErr = &cls, wrapped
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		u := internalResp.Usage
		if u.InputTokens == 0 && u.OutputTokens == 0 && o.estimator != nil {
			u.InputTokens = o.estimator.EstimateRequest(internalReq)
			u.OutputTokens = o.estimator.CountText(firstText(internalResp.Content))
		}

		outBody := resp.RawBody
		if cand.NeedsConversion {
			clientBody, ferr := srcNorm.ResponseFromInternal(internalResp)
			if ferr != nil {
				return nil, &SurfaceError{Status: 500, Cause: fmt.Errorf("proxy: encode client response: %w", ferr)}
			}
			encoded, merr := json.Marshal(clientBody)
			if merr != nil {
				return nil, &SurfaceError{Status: 500, Cause: merr}
			}
			outBody = encoded
		}

		o.onSuccess(ctx, cand)
		o.refreshAffinity(ctx, req, cand)
		o.recordAttempt(cand, "success", attemptStart)
		o.recordUsage(ctx, req, cand, u, resp.StatusCode, time.Since(attemptStart), false, "")
		if o.met != nil && i > 0 {
			o.met.RecordFailoverSuccess(primary, cand.Provider.Name)
		}

		return &DispatchResult{
			StatusCode: resp.StatusCode,
			RawBody:    outBody,
			Body:       resp.Body,
			Usage:      u,
			Provider:   cand.Provider.Name,
			Model:      cand.ProviderModel.ProviderModelName,
			Cached:     cand.IsCached,
		}, nil
	}

	if o.met != nil && len(candidates) > 0 {
		o.met.RecordFailoverExhausted(primary)
	}
	if last == nil {
		return nil, &SurfaceError{Status: 502, Cause: fmt.Errorf("proxy: no usable candidate for model %q", req.ModelName)}
	}
	return nil, &SurfaceError{Status: last.ClientStatus, Cause: lastErr}
}

// DispatchStream runs the streaming attempt loop. Retry safety follows the
// stream processor's contract exactly: an error with zero bytes forwarded
// tries the next candidate; an error after bytes were forwarded cannot be
// retried (the client already has partial output) and is surfaced only as
// telemetry; a clean disconnect stops immediately with no retry, no usage
// record, and no affinity refresh.
func (o *Orchestrator) DispatchStream(ctx context.Context, req DispatchRequest, sink stream.Sink) (*StreamDispatchResult, *SurfaceError) {
	candidates, err := o.builder.BuildWithAffinity(ctx, req.ClientAPIKeyID, o.candidateRequest(req))
	if err != nil {
		return nil, &SurfaceError{Status: statusForBuildErr(err), Cause: err}
	}

	srcNorm, err := codec.Lookup(req.ClientFormat)
	if err != nil {
		return nil, &SurfaceError{Status: 400, Cause: fmt.Errorf("%w: %v", errClientRequest, err)}
	}
	internalReq, err := srcNorm.RequestToInternal(req.Body)
	if err != nil {
		return nil, &SurfaceError{Status: 400, Cause: fmt.Errorf("%w: %v", errClientRequest, err)}
	}
	internalReq.Stream = true

	var (
		last    *Classification
		lastErr error
		primary string
	)
	if len(candidates) > 0 {
		primary = candidates[0].Provider.Name
	}

	for i := 0; i < o.attemptBudget(len(candidates)); i++ {
		cand := candidates[i]
		reqStart := time.Now()

		reason := ""
		if last != nil {
			reason = string(last.Class)
		}
		o.recordFailoverStep(primary, candidates, i, reason)

		if !o.breaker.Allow(cand.Key, cand.Endpoint.ApiFormat) {
			continue
		}
		if cls, admitErr := o.admit(ctx, cand); admitErr != nil {
			o.applyClassification(ctx, cand, *cls)
			o.recordAttempt(cand, "rate_limited", reqStart)
			last, lastErr = cls, admitErr
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		dstNorm, nerr := codec.Lookup(cand.Endpoint.ApiFormat)
		if nerr != nil {
			cls := Classify(ctx, fmt.Errorf("%w: %v", errConversion, nerr), 0)
			last, lastErr = &cls, nerr
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		body := req.Body
		if cand.NeedsConversion {
			converted, cerr := dstNorm.RequestFromInternal(internalReq)
			if cerr != nil {
				wrapped := fmt.Errorf("%w: %v", errConversion, cerr)
				cls := Classify(ctx, wrapped, 0)
				last, lastErr = &cls, wrapped
				if cls.RetryOtherCandidate {
					continue
				}
				break
			}
			body = converted
		}

		sresp, uerr := o.upstream.DoStream(ctx, upstream.Request{
			Endpoint: cand.Endpoint,
			Key:      cand.Key,
			Model:    cand.ProviderModel.ProviderModelName,
			Body:     body,
			Stream:   true,
		})
		if uerr != nil {
			wrapped := &UpstreamConnError{Err: uerr}
			cls := Classify(ctx, wrapped, 0)
			o.applyClassification(ctx, cand, cls)
			o.recordAttempt(cand, "conn_error", reqStart)
			last, lastErr = &cls, wrapped
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		if sresp.StatusCode >= 400 {
			raw, _ := io.ReadAll(sresp.Reader)
			sresp.Close()
			var decoded map[string]any
			_ = json.Unmarshal(raw, &decoded)
			ierr := dstNorm.ErrorToInternal(sresp.StatusCode, decoded)
			cls := Classify(ctx, ierr, sresp.StatusCode)
			o.applyClassification(ctx, cand, cls)
			o.recordAttempt(cand, "upstream_error", reqStart)
			last, lastErr = &cls, ierr
			if cls.RetryOtherCandidate {
				continue
			}
			break
		}

		attemptStart := time.Now()
		proc := stream.New(cand.Endpoint.ApiFormat, req.ClientFormat, codec.NewStreamState())
		result, perr := proc.Process(sresp.Reader, sink, attemptStart)
		sresp.Close()

		if perr != nil {
			if result.BytesForwarded == 0 {
				cls := Classify(ctx, perr, 0)
				o.applyClassification(ctx, cand, cls)
				o.recordAttempt(cand, "stream_error", reqStart)
				last, lastErr = &cls, perr
				if cls.RetryOtherCandidate {
					continue
				}
				break
			}
			// Bytes already reached the client — no retry is possible.
			o.breaker.RecordFailure(cand.Key, cand.Endpoint.ApiFormat)
			o.recordAttempt(cand, "stream_mid_flight_error", reqStart)
			o.log.ErrorContext(ctx, "stream_mid_flight_error",
				slog.String("request_id", req.RequestID),
				slog.String("error", perr.Error()),
			)
			return &StreamDispatchResult{
				StatusCode: 200,
				Usage:      result.Usage,
				Provider:   cand.Provider.Name,
				Model:      cand.ProviderModel.ProviderModelName,
			}, nil
		}

		if result.Disconnected {
			o.log.InfoContext(ctx, "client_disconnected", slog.String("request_id", req.RequestID))
			return &StreamDispatchResult{
				StatusCode:   499,
				Provider:     cand.Provider.Name,
				Model:        cand.ProviderModel.ProviderModelName,
				Disconnected: true,
			}, nil
		}

		o.onSuccess(ctx, cand)
		o.refreshAffinity(ctx, req, cand)
		o.recordAttempt(cand, "success", reqStart)
		o.recordUsage(ctx, req, cand, result.Usage, 200, time.Since(attemptStart), true, "")
		if o.met != nil && i > 0 {
			o.met.RecordFailoverSuccess(primary, cand.Provider.Name)
		}

		return &StreamDispatchResult{
			StatusCode: 200,
			Usage:      result.Usage,
			Provider:   cand.Provider.Name,
			Model:      cand.ProviderModel.ProviderModelName,
		}, nil
	}

	if o.met != nil && len(candidates) > 0 {
		o.met.RecordFailoverExhausted(primary)
	}
	if last == nil {
		return nil, &SurfaceError{Status: 502, Cause: fmt.Errorf("proxy: no usable candidate for model %q", req.ModelName)}
	}
	return nil, &SurfaceError{Status: last.ClientStatus, Cause: lastErr}
}

func firstText(blocks []codec.ContentBlock) string {
	for _, b := range blocks {
		if b.Type == codec.ContentText {
			return b.Text
		}
	}
	return ""
}
