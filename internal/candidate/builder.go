// Package candidate implements the candidate builder (C2): given a client
// request's (format, model name, user, api key), it enumerates every
// (provider, endpoint, key) triple eligible to serve the request and
// returns them in the order the orchestrator (internal/proxy) should try
// them in.
package candidate

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/cache"
	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/metrics"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// resolveCacheTTL bounds how long a model-name → GlobalModel resolution is
// memoized in Redis. Short enough that a renamed/removed GlobalModel is
// picked up quickly, long enough to spare the catalog a lookup on every
// request for a hot model name.
const resolveCacheTTL = 5 * time.Minute

// Candidate is one (provider, endpoint, key) triple the orchestrator may
// attempt, annotated with the ordering/compatibility facts the builder
// already knows.
type Candidate struct {
	Provider        *models.Provider
	Endpoint        *models.Endpoint
	Key             *models.ProviderKey
	GlobalModel     *models.GlobalModel
	ProviderModel   *models.Model
	NeedsConversion bool
	IsCached        bool
}

// Request bundles the inputs to Build.
type Request struct {
	ClientFormat codec.ApiFormat
	ModelName    string
	IsStream     bool
	Restrictions models.Restrictions
}

// Affinity is the subset of the C4 cache-affinity manager the builder reads
// to overlay a sticky candidate at the head of the list. Defined here
// (rather than imported from internal/affinity) to avoid a dependency
// cycle — internal/affinity depends on this package for AffinityKey
// construction only if needed, not the reverse.
type Affinity interface {
	Get(ctx context.Context, key models.AffinityKey) (*models.AffinityRecord, bool)
}

// Builder implements §4.2 against a Catalog and an optional Redis-backed
// resolution cache / affinity overlay.
type Builder struct {
	catalog  Catalog
	resolve  cache.Cache // model-name resolution cache; nil disables memoization
	affinity Affinity    // nil disables the affinity overlay (step 4)
	met      *metrics.Registry
	log      *slog.Logger
}

// New constructs a Builder. resolve and affinity may be nil.
func New(catalog Catalog, resolve cache.Cache, affinity Affinity, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{catalog: catalog, resolve: resolve, affinity: affinity, log: log}
}

// SetMetrics attaches a Registry for the resolution-cache hit/miss counters.
// Optional — a nil Registry (the default) simply skips recording.
func (b *Builder) SetMetrics(met *metrics.Registry) { b.met = met }

// Build runs the full §4.2 algorithm and returns an ordered candidate list.
// Returned errors are always one of ModelNotFoundError, NoCompatibleEndpointError,
// or ForbiddenByPolicyError.
func (b *Builder) Build(ctx context.Context, req Request) ([]Candidate, error) {
	gm, err := b.resolveModel(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}

	var (
		exact       []Candidate
		conversions []Candidate
		sawAny      bool // at least one provider/endpoint existed before policy filtering
		sawAllowed  bool // at least one such endpoint also passed the caller's restrictions
	)

	for _, p := range b.catalog.ActiveProviders() {
		if !p.Active {
			continue
		}
		binding, ok := b.catalog.ModelBinding(gm.ID, p.ID)
		if !ok || !binding.Active {
			continue
		}

		endpoints := b.catalog.EndpointsForProvider(p.ID)
		keys := b.catalog.KeysForProvider(p.ID)
		if len(endpoints) == 0 || len(keys) == 0 {
			continue
		}

		for _, ep := range endpoints {
			if !ep.Active {
				continue
			}
			compatible, needsConversion := ep.AdmitsClient(req.ClientFormat, req.IsStream, b.catalog.ConversionEnabled())
			if !compatible {
				continue
			}
			sawAny = true

			if !req.Restrictions.Allows(p.ID, ep.ApiFormat, gm.ID) {
				continue
			}
			sawAllowed = true

			for _, k := range keys {
				if !k.SupportsFormat(ep.ApiFormat) {
					continue
				}
				if !k.Active || !p.Active {
					continue
				}
				if !modelWhitelistAllows(k, gm) {
					continue
				}
				if cs := k.Circuit(ep.ApiFormat); cs.Open && time.Now().Before(cs.NextProbeAt) {
					continue
				}

				c := Candidate{
					Provider:        p,
					Endpoint:        ep,
					Key:             k,
					GlobalModel:     gm,
					ProviderModel:   binding,
					NeedsConversion: needsConversion,
				}
				if needsConversion {
					conversions = append(conversions, c)
				} else {
					exact = append(exact, c)
				}
			}
		}
	}

	if len(exact) == 0 && len(conversions) == 0 {
		if !sawAny || sawAllowed {
			return nil, &NoCompatibleEndpointError{GlobalModelID: gm.ID, ClientFormat: string(req.ClientFormat)}
		}
		return nil, &ForbiddenByPolicyError{GlobalModelID: gm.ID}
	}

	mode := b.catalog.PriorityMode()
	sortCandidates(exact, mode)
	sortCandidates(conversions, mode)

	return append(exact, conversions...), nil
}

// resolveModel implements §4.2 step 1, consulting the Redis memoization
// cache before falling back to the catalog.
func (b *Builder) resolveModel(ctx context.Context, name string) (*models.GlobalModel, error) {
	cacheKey := "global_model:resolve:" + name

	if b.resolve != nil {
		if raw, ok := b.resolve.Get(ctx, cacheKey); ok {
			if gm, ok := b.catalog.ResolveGlobalModel(string(raw)); ok {
				if b.met != nil {
					b.met.CacheGetHit()
				}
				return gm, nil
			}
			// Stale cache entry (model renamed/removed) — fall through to a
			// fresh resolution rather than failing the request.
		} else if b.met != nil {
			b.met.CacheGetMiss()
		}
	} else if b.met != nil {
		b.met.CacheGetBypass()
	}

	gm, ok := b.catalog.ResolveGlobalModel(name)
	if !ok {
		return nil, &ModelNotFoundError{Requested: name}
	}

	if b.resolve != nil {
		if err := b.resolve.Set(ctx, cacheKey, []byte(gm.ID), resolveCacheTTL); err != nil {
			if b.met != nil {
				b.met.CacheSetError()
			}
		} else if b.met != nil {
			b.met.CacheSetOK()
		}
	}
	return gm, nil
}

func modelWhitelistAllows(k *models.ProviderKey, gm *models.GlobalModel) bool {
	if k.AllowedModels == nil {
		return true
	}
	if k.AllowsModel(gm.ID) {
		return true
	}
	for _, pattern := range k.AllowedModels {
		if gm.MatchesAlias(pattern) {
			return true
		}
	}
	return false
}

// sortCandidates applies the §8 ordering invariant: within a group, order by
// (provider.priority asc, endpoint preferred_format_order, key.global_priority
// asc with null=∞, key.internal_priority asc). priority_mode=global_key
// additionally ranks across providers purely by global priority before
// falling back to the same tie-breaks.
func sortCandidates(cs []Candidate, mode models.PriorityMode) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]

		if mode == models.PriorityModeGlobalKey {
			ag, bg := globalPriorityOrInf(a.Key), globalPriorityOrInf(b.Key)
			if ag != bg {
				return ag < bg
			}
		}

		if a.Provider.Priority != b.Provider.Priority {
			return a.Provider.Priority < b.Provider.Priority
		}
		ra, rb := codec.PreferenceRank(a.Endpoint.ApiFormat), codec.PreferenceRank(b.Endpoint.ApiFormat)
		if ra != rb {
			return ra < rb
		}
		ag, bg := globalPriorityOrInf(a.Key), globalPriorityOrInf(b.Key)
		if ag != bg {
			return ag < bg
		}
		return a.Key.InternalPriority < b.Key.InternalPriority
	})
}

// globalPriorityOrInf resolves the Open Question in SPEC_FULL.md: a nil
// GlobalPriority sorts last, represented here as MaxInt.
func globalPriorityOrInf(k *models.ProviderKey) int {
	if k.GlobalPriority == nil {
		return int(^uint(0) >> 1)
	}
	return *k.GlobalPriority
}

// BuildWithAffinity is Build plus the affinity overlay (§4.2 step 4 / §4.4)
// keyed on clientAPIKeyID — Build alone has no client identity to key
// affinity on.
// clientAPIKeyID, per §4.2 step 4 / §4.4.
func (b *Builder) BuildWithAffinity(ctx context.Context, clientAPIKeyID string, req Request) ([]Candidate, error) {
	cs, err := b.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if b.affinity == nil || len(cs) == 0 {
		return cs, nil
	}

	key := models.AffinityKey{
		ClientAPIKeyID:        clientAPIKeyID,
		TargetFormat:          req.ClientFormat,
		ResolvedGlobalModelID: cs[0].GlobalModel.ID,
	}
	rec, ok := b.affinity.Get(ctx, key)
	if !ok {
		return cs, nil
	}

	for i, c := range cs {
		if c.Provider.ID == rec.ProviderID && c.Endpoint.ID == rec.EndpointID && c.Key.ID == rec.KeyID {
			if i == 0 {
				cs[0].IsCached = true
				return cs, nil
			}
			sticky := cs[i]
			sticky.IsCached = true
			reordered := make([]Candidate, 0, len(cs))
			reordered = append(reordered, sticky)
			reordered = append(reordered, cs[:i]...)
			reordered = append(reordered, cs[i+1:]...)
			return reordered, nil
		}
	}
	// Recorded triple is no longer a valid candidate (key/endpoint went
	// inactive, circuit open) — serve the freshly ordered list unchanged.
	return cs, nil
}
