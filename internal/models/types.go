// Package models defines the persisted catalog entities the gateway routes
// against: global models, providers, endpoints, keys, and the user/api-key
// policy layer that narrows what a given caller may reach. These types are
// treated as immutable snapshots during request handling — the catalog is
// administered out of band and read fresh (or from a short-TTL Redis cache)
// at the start of each dispatch.
package models

import (
	"regexp"
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
)

// BillingType classifies how a Provider's usage is paid for.
type BillingType string

const (
	BillingPayAsYouGo    BillingType = "pay_as_you_go"
	BillingMonthlyQuota  BillingType = "monthly_quota"
	BillingFreeTier      BillingType = "free_tier"
)

// Capabilities is the feature set a GlobalModel advertises, consulted by the
// candidate builder when deciding whether an endpoint's dialect can carry a
// given request (e.g. a vision request against a text-only model binding).
type Capabilities struct {
	Streaming        bool
	Vision           bool
	FunctionCalling  bool
	ExtendedThinking bool
	ImageGeneration  bool
}

// GlobalModel is the canonical, vendor-independent model identity a client
// requests by name (e.g. "claude-sonnet-4-5"). Administered centrally;
// immutable during request handling.
type GlobalModel struct {
	ID           string
	Name         string
	DisplayName  string
	Capabilities Capabilities
	// Aliases are regexes matched against a client-supplied model name
	// during resolution step (d) in the candidate builder.
	Aliases []string

	compiledAliases []*regexp.Regexp
}

// CompileAliases lazily compiles Aliases into regexps, memoizing on the
// receiver. Called once by the catalog loader after reading a GlobalModel
// from storage; resolution never compiles on the hot path.
func (g *GlobalModel) CompileAliases() error {
	g.compiledAliases = g.compiledAliases[:0]
	for _, pattern := range g.Aliases {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return err
		}
		g.compiledAliases = append(g.compiledAliases, re)
	}
	return nil
}

// MatchesAlias reports whether name matches any compiled alias regex.
func (g *GlobalModel) MatchesAlias(name string) bool {
	for _, re := range g.compiledAliases {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Provider is an upstream vendor account — e.g. "Anthropic-main" or
// "OpenRouter-secondary". Priority is ascending preference (lower wins
// ties). MonthlyQuotaUSD is nil when BillingType != BillingMonthlyQuota.
type Provider struct {
	ID              string
	Name            string
	Priority        int
	BillingType     BillingType
	MonthlyQuotaUSD *float64
	QuotaResetDay   int // day-of-month, 1-28
	Active          bool
}

// FormatAcceptance controls whether an Endpoint admits requests that would
// require the codec to convert between dialects.
type FormatAcceptance struct {
	Enabled         bool
	AcceptFormats   []codec.ApiFormat // empty = accept any
	RejectFormats   []codec.ApiFormat
	StreamConversion bool
}

func (f FormatAcceptance) accepts(format codec.ApiFormat) bool {
	for _, r := range f.RejectFormats {
		if r == format {
			return false
		}
	}
	if len(f.AcceptFormats) == 0 {
		return true
	}
	for _, a := range f.AcceptFormats {
		if a == format {
			return true
		}
	}
	return false
}

// HeaderRule mutates a single header on the outbound request to this
// Endpoint — set, or remove when Value is empty.
type HeaderRule struct {
	Name  string
	Value string
}

// Endpoint is a single wire-dialect entrypoint hosted by a Provider.
// (ProviderID, ApiFormat) is unique.
type Endpoint struct {
	ID               string
	ProviderID       string
	ApiFormat        codec.ApiFormat
	BaseURL          string
	Path             string // overrides codec.Props(ApiFormat).DefaultPath when set
	HeaderRules      []HeaderRule
	Timeout          time.Duration
	MaxRetries       int
	FormatAcceptance FormatAcceptance
	Active           bool
}

// AdmitsClient reports whether a request in clientFormat, streaming or not,
// is compatible with this endpoint — either because the two formats are
// passthrough-equivalent, or because conversion is enabled and permitted.
// needsConversion distinguishes the two compatible cases.
func (e Endpoint) AdmitsClient(clientFormat codec.ApiFormat, isStream, conversionEnabledGlobally bool) (compatible, needsConversion bool) {
	if codec.IsPassthrough(clientFormat, e.ApiFormat) {
		return true, false
	}
	if !conversionEnabledGlobally || !e.FormatAcceptance.Enabled {
		return false, false
	}
	if !e.FormatAcceptance.accepts(clientFormat) {
		return false, false
	}
	if isStream && !e.FormatAcceptance.StreamConversion {
		return false, false
	}
	return true, true
}

// CircuitState is the per-format breaker state carried on a ProviderKey.
type CircuitState struct {
	Open           bool
	NextProbeAt    time.Time
	ConsecutiveOpens int // drives exponential backoff in internal/proxy
}

// HealthState is a per-format rolling health indicator on a ProviderKey,
// independent of (but consulted alongside) the circuit breaker.
type HealthState struct {
	ConsecutiveFailures int
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
}

// ProviderKey is a credential owned by a Provider, valid for a subset of
// api_formats. GlobalPriority is nil unless the deployment's priority_mode
// is "global_key", in which case it ranks the key across providers.
type ProviderKey struct {
	ID              string
	ProviderID      string
	Secret          string
	// AuthType selects how Secret is presented upstream: "api_key" uses the
	// endpoint's natural auth header (§6), "oauth" always overrides with
	// Authorization: Bearer.
	AuthType        string
	ApiFormats      []codec.ApiFormat
	InternalPriority int
	GlobalPriority  *int
	RPMLimit        *int // nil = adaptive
	LearnedRPMLimit int  // set by the adaptive controller when RPMLimit is nil
	CacheTTLMinutes int
	HealthByFormat  map[codec.ApiFormat]*HealthState
	CircuitByFormat map[codec.ApiFormat]*CircuitState
	AllowedModels   []string // nil = all; entries may be GlobalModel IDs or alias patterns
	// RateMultiplier scales the computed usage cost for requests served by
	// this key (e.g. a negotiated discount). Zero means "unset", treated as
	// 1.0 by the usage recorder.
	RateMultiplier  float64
	Active          bool
}

// SupportsFormat reports whether this key can authenticate against format.
func (k *ProviderKey) SupportsFormat(format codec.ApiFormat) bool {
	for _, f := range k.ApiFormats {
		if f == format {
			return true
		}
	}
	return false
}

// AllowsModel reports whether this key's whitelist admits globalModelID.
// A nil AllowedModels means no restriction.
func (k *ProviderKey) AllowsModel(globalModelID string) bool {
	if k.AllowedModels == nil {
		return true
	}
	for _, m := range k.AllowedModels {
		if m == globalModelID {
			return true
		}
	}
	return false
}

// Circuit returns the breaker state for format, creating a closed default
// entry on first access.
func (k *ProviderKey) Circuit(format codec.ApiFormat) *CircuitState {
	if k.CircuitByFormat == nil {
		k.CircuitByFormat = map[codec.ApiFormat]*CircuitState{}
	}
	if k.CircuitByFormat[format] == nil {
		k.CircuitByFormat[format] = &CircuitState{}
	}
	return k.CircuitByFormat[format]
}

// Health returns the health state for format, creating a fresh entry on
// first access.
func (k *ProviderKey) Health(format codec.ApiFormat) *HealthState {
	if k.HealthByFormat == nil {
		k.HealthByFormat = map[codec.ApiFormat]*HealthState{}
	}
	if k.HealthByFormat[format] == nil {
		k.HealthByFormat[format] = &HealthState{}
	}
	return k.HealthByFormat[format]
}

// IsUsable applies the composite eligibility invariant: active, owning
// provider active, at least one api_format shared with some endpoint of the
// same provider (checked by the caller, which has the endpoint list), and
// model whitelist admits the target.
func (k *ProviderKey) IsUsable(providerActive bool, globalModelID string) bool {
	return k.Active && providerActive && k.AllowsModel(globalModelID)
}

// TieredPriceBand is one band of a tiered per-million-token price. The cost
// calculator picks the first band whose ToTokens is at least the request's
// total input context (inclusive); ToTokens == 0 means unbounded.
type TieredPriceBand struct {
	FromTokens  int64
	ToTokens    int64
	InputPerM   float64
	OutputPerM  float64
}

// Pricing carries the per-million-token rates for a provider-model binding.
// CacheCreationCountsTowardTier follows the per-dialect billing convention
// resolved in SPEC_FULL.md's Design Notes: true for Claude, false for
// OpenAI/Gemini.
type Pricing struct {
	InputPerM                     float64
	OutputPerM                     float64
	CacheReadPerM                  float64
	CacheWritePerM                 float64
	PerRequestPrice                *float64
	Tiers                          []TieredPriceBand
	CacheCreationCountsTowardTier  bool
}

// Model binds a GlobalModel to a specific Provider's naming and pricing.
type Model struct {
	ID                string
	GlobalModelID     string
	ProviderID        string
	ProviderModelName string
	Aliases           []string
	Pricing           Pricing
	Active            bool
}

// Restrictions narrows the catalog a User or ApiKey may reach. A nil slice
// means unrestricted; a non-nil empty slice means nothing is allowed.
type Restrictions struct {
	AllowedProviders []string
	AllowedFormats   []codec.ApiFormat
	AllowedModels    []string
}

func (r Restrictions) allowsProvider(providerID string) bool {
	if r.AllowedProviders == nil {
		return true
	}
	for _, p := range r.AllowedProviders {
		if p == providerID {
			return true
		}
	}
	return false
}

func (r Restrictions) allowsFormat(format codec.ApiFormat) bool {
	if r.AllowedFormats == nil {
		return true
	}
	for _, f := range r.AllowedFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (r Restrictions) allowsModel(globalModelID string) bool {
	if r.AllowedModels == nil {
		return true
	}
	for _, m := range r.AllowedModels {
		if m == globalModelID {
			return true
		}
	}
	return false
}

// Allows reports whether these Restrictions admit a candidate targeting
// providerID/format/globalModelID.
func (r Restrictions) Allows(providerID string, format codec.ApiFormat, globalModelID string) bool {
	return r.allowsProvider(providerID) && r.allowsFormat(format) && r.allowsModel(globalModelID)
}

// User owns quota and a restriction set shared by every ApiKey attached to
// it.
type User struct {
	ID           string
	Name         string
	QuotaUSD     *float64
	SpentUSD     float64
	Restrictions Restrictions
	Active       bool
}

// ApiKey is the credential a client presents. Standalone keys (UserID ==
// "") carry their own balance independent of any user quota; attached keys
// inherit and further narrow their owning User's restrictions.
type ApiKey struct {
	ID           string
	Secret       string
	UserID       string // empty for standalone keys
	QuotaUSD     *float64
	SpentUSD     float64
	Restrictions Restrictions
	Active       bool
}

// EffectiveRestrictions intersects this key's own restrictions with its
// owning user's, when attached. Intersection, not override: each dimension
// is the set both allow.
func (a ApiKey) EffectiveRestrictions(owner *User) Restrictions {
	if owner == nil {
		return a.Restrictions
	}
	return Restrictions{
		AllowedProviders: intersectOrEither(a.Restrictions.AllowedProviders, owner.Restrictions.AllowedProviders),
		AllowedFormats:   intersectFormatsOrEither(a.Restrictions.AllowedFormats, owner.Restrictions.AllowedFormats),
		AllowedModels:    intersectOrEither(a.Restrictions.AllowedModels, owner.Restrictions.AllowedModels),
	}
}

func intersectOrEither(a, b []string) []string {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	out := []string{}
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func intersectFormatsOrEither(a, b []codec.ApiFormat) []codec.ApiFormat {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	set := make(map[codec.ApiFormat]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	out := []codec.ApiFormat{}
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

// CandidateStatus tracks a RequestCandidate through its attempt lifecycle.
type CandidateStatus string

const (
	CandidatePending   CandidateStatus = "pending"
	CandidateStarted   CandidateStatus = "started"
	CandidateStreaming CandidateStatus = "streaming"
	CandidateSuccess   CandidateStatus = "success"
	CandidateFailed    CandidateStatus = "failed"
)

// RequestCandidate is the telemetry record for one dispatch attempt, kept
// in-memory for the lifetime of the request and flushed to durable storage
// by the usage recorder (C7) alongside the billing row.
type RequestCandidate struct {
	RequestID       string
	CandidateIndex  int
	ProviderID      string
	EndpointID      string
	KeyID           string
	ClientFormat    codec.ApiFormat
	TargetFormat    codec.ApiFormat
	NeedsConversion bool
	Status          CandidateStatus
	StatusCode      int
	LatencyMS       int64
	ErrorClass      string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// AffinityKey identifies one cache-affinity slot.
type AffinityKey struct {
	ClientAPIKeyID     string
	TargetFormat       codec.ApiFormat
	ResolvedGlobalModelID string
}

// AffinityRecord is the sticky-routing value cached against an AffinityKey.
type AffinityRecord struct {
	ProviderID   string
	EndpointID   string
	KeyID        string
	CreatedAt    time.Time
	ExpireAt     time.Time
	RequestCount int64
}

// PriorityMode toggles whether candidate ordering groups by provider first
// (default) or ranks keys across providers by GlobalPriority.
type PriorityMode string

const (
	PriorityModeProvider  PriorityMode = "provider"
	PriorityModeGlobalKey PriorityMode = "global_key"
)
