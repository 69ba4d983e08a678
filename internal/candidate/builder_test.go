package candidate

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// fakeCatalog is a minimal in-memory Catalog for builder tests.
type fakeCatalog struct {
	globals   map[string]*models.GlobalModel
	providers []*models.Provider
	endpoints map[string][]*models.Endpoint
	keys      map[string][]*models.ProviderKey
	bindings  map[string]*models.Model // key: globalModelID+"|"+providerID
	convEnabled bool
	mode        models.PriorityMode
}

func (f *fakeCatalog) ResolveGlobalModel(name string) (*models.GlobalModel, bool) {
	if gm, ok := f.globals[name]; ok {
		return gm, true
	}
	for _, gm := range f.globals {
		if gm.MatchesAlias(name) {
			return gm, true
		}
	}
	return nil, false
}

func (f *fakeCatalog) ActiveProviders() []*models.Provider { return f.providers }

func (f *fakeCatalog) EndpointsForProvider(providerID string) []*models.Endpoint {
	return f.endpoints[providerID]
}

func (f *fakeCatalog) KeysForProvider(providerID string) []*models.ProviderKey {
	return f.keys[providerID]
}

func (f *fakeCatalog) ModelBinding(globalModelID, providerID string) (*models.Model, bool) {
	m, ok := f.bindings[globalModelID+"|"+providerID]
	return m, ok
}

func (f *fakeCatalog) ConversionEnabled() bool     { return f.convEnabled }
func (f *fakeCatalog) PriorityMode() models.PriorityMode { return f.mode }

func baseCatalog() *fakeCatalog {
	gm := &models.GlobalModel{ID: "gm-1", Name: "claude-sonnet-4-5"}
	_ = gm.CompileAliases()

	p1 := &models.Provider{ID: "p1", Name: "Anthropic-main", Priority: 1, Active: true}
	p2 := &models.Provider{ID: "p2", Name: "OpenRouter-secondary", Priority: 2, Active: true}

	ep1 := &models.Endpoint{ID: "e1", ProviderID: "p1", ApiFormat: codec.FormatClaude, Active: true}
	ep2 := &models.Endpoint{ID: "e2", ProviderID: "p2", ApiFormat: codec.FormatOpenAI, Active: true,
		FormatAcceptance: models.FormatAcceptance{Enabled: true, StreamConversion: true}}

	k1 := &models.ProviderKey{ID: "k1", ProviderID: "p1", ApiFormats: []codec.ApiFormat{codec.FormatClaude}, Active: true}
	k2 := &models.ProviderKey{ID: "k2", ProviderID: "p2", ApiFormats: []codec.ApiFormat{codec.FormatOpenAI}, Active: true}

	return &fakeCatalog{
		globals:   map[string]*models.GlobalModel{"claude-sonnet-4-5": gm},
		providers: []*models.Provider{p1, p2},
		endpoints: map[string][]*models.Endpoint{"p1": {ep1}, "p2": {ep2}},
		keys:      map[string][]*models.ProviderKey{"p1": {k1}, "p2": {k2}},
		bindings: map[string]*models.Model{
			"gm-1|p1": {ID: "m1", GlobalModelID: "gm-1", ProviderID: "p1", Active: true},
			"gm-1|p2": {ID: "m2", GlobalModelID: "gm-1", ProviderID: "p2", Active: true},
		},
		convEnabled: true,
		mode:        models.PriorityModeProvider,
	}
}

func TestBuildModelNotFound(t *testing.T) {
	b := New(baseCatalog(), nil, nil, nil)
	_, err := b.Build(context.Background(), Request{ClientFormat: codec.FormatClaude, ModelName: "does-not-exist"})
	if _, ok := err.(*ModelNotFoundError); !ok {
		t.Fatalf("expected ModelNotFoundError, got %v (%T)", err, err)
	}
}

func TestBuildExactBeforeConversion(t *testing.T) {
	cat := baseCatalog()
	b := New(cat, nil, nil, nil)

	cs, err := b.Build(context.Background(), Request{ClientFormat: codec.FormatClaude, ModelName: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cs) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cs))
	}
	if cs[0].NeedsConversion {
		t.Fatal("exact-match candidate must precede conversion candidate")
	}
	if !cs[1].NeedsConversion {
		t.Fatal("second candidate should require conversion")
	}
	if cs[0].Provider.ID != "p1" {
		t.Fatalf("expected exact candidate from p1, got %s", cs[0].Provider.ID)
	}
}

func TestBuildRespectsRestrictions(t *testing.T) {
	cat := baseCatalog()
	b := New(cat, nil, nil, nil)

	cs, err := b.Build(context.Background(), Request{
		ClientFormat: codec.FormatClaude,
		ModelName:    "claude-sonnet-4-5",
		Restrictions: models.Restrictions{AllowedProviders: []string{"p2"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, c := range cs {
		if c.Provider.ID == "p1" {
			t.Fatalf("p1 should have been excluded by restriction, got candidate %+v", c)
		}
	}
}

func TestBuildForbiddenByPolicyWhenAllExcluded(t *testing.T) {
	cat := baseCatalog()
	b := New(cat, nil, nil, nil)

	_, err := b.Build(context.Background(), Request{
		ClientFormat: codec.FormatClaude,
		ModelName:    "claude-sonnet-4-5",
		Restrictions: models.Restrictions{AllowedProviders: []string{"nonexistent"}},
	})
	if _, ok := err.(*ForbiddenByPolicyError); !ok {
		t.Fatalf("expected ForbiddenByPolicyError, got %v (%T)", err, err)
	}
}

func TestBuildSkipsOpenCircuit(t *testing.T) {
	cat := baseCatalog()
	cat.keys["p1"][0].Circuit(codec.FormatClaude).Open = true
	cat.keys["p1"][0].Circuit(codec.FormatClaude).NextProbeAt = time.Now().Add(time.Hour)

	b := New(cat, nil, nil, nil)
	cs, err := b.Build(context.Background(), Request{ClientFormat: codec.FormatClaude, ModelName: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, c := range cs {
		if c.Provider.ID == "p1" {
			t.Fatal("p1's key has an open circuit breaker and must be excluded")
		}
	}
}

// fakeAffinity is a single-entry Affinity stub for BuildWithAffinity tests.
type fakeAffinity struct {
	key models.AffinityKey
	rec *models.AffinityRecord
}

func (f *fakeAffinity) Get(ctx context.Context, key models.AffinityKey) (*models.AffinityRecord, bool) {
	if key == f.key && f.rec != nil {
		return f.rec, true
	}
	return nil, false
}

func TestBuildWithAffinityReorders(t *testing.T) {
	cat := baseCatalog()
	aff := &fakeAffinity{
		key: models.AffinityKey{ClientAPIKeyID: "ck1", TargetFormat: codec.FormatClaude, ResolvedGlobalModelID: "gm-1"},
		rec: &models.AffinityRecord{ProviderID: "p2", EndpointID: "e2", KeyID: "k2"},
	}
	b := New(cat, nil, aff, nil)

	cs, err := b.BuildWithAffinity(context.Background(), "ck1", Request{ClientFormat: codec.FormatClaude, ModelName: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("BuildWithAffinity: %v", err)
	}
	if !cs[0].IsCached || cs[0].Provider.ID != "p2" {
		t.Fatalf("expected sticky p2 candidate at head, got %+v", cs[0])
	}
}
