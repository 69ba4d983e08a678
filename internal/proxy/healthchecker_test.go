package proxy

import (
	"context"
	"testing"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// fakeCatalog is a minimal candidate.Catalog stand-in so the health checker
// can be probed without a real catalog.Static and its config dependency.
type fakeCatalog struct {
	providers []*models.Provider
	keys      map[string][]*models.ProviderKey
}

func (f *fakeCatalog) ResolveGlobalModel(string) (*models.GlobalModel, bool) { return nil, false }
func (f *fakeCatalog) ActiveProviders() []*models.Provider                  { return f.providers }
func (f *fakeCatalog) EndpointsForProvider(string) []*models.Endpoint       { return nil }
func (f *fakeCatalog) KeysForProvider(id string) []*models.ProviderKey     { return f.keys[id] }
func (f *fakeCatalog) ModelBinding(string, string) (*models.Model, bool)    { return nil, false }
func (f *fakeCatalog) ConversionEnabled() bool                              { return true }
func (f *fakeCatalog) PriorityMode() models.PriorityMode                    { return models.PriorityModeProvider }

func TestHealthChecker_AllProvidersHealthy(t *testing.T) {
	key := &models.ProviderKey{ID: "k1", ProviderID: "openai", Active: true, ApiFormats: []codec.ApiFormat{codec.FormatOpenAI}}
	cat := &fakeCatalog{
		providers: []*models.Provider{{ID: "openai", Name: "openai", Active: true}},
		keys:      map[string][]*models.ProviderKey{"openai": {key}},
	}

	hc := NewHealthChecker(context.Background(), cat, nil, nil)
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Status != "ok" {
		t.Fatalf("expected overall status ok, got %s", snap.Status)
	}
	if snap.Providers["openai"] != "ok" {
		t.Fatalf("expected provider openai ok, got %s", snap.Providers["openai"])
	}
}

func TestHealthChecker_DegradedWhenAllKeysCircuitOpen(t *testing.T) {
	key := &models.ProviderKey{ID: "k1", ProviderID: "openai", Active: true, ApiFormats: []codec.ApiFormat{codec.FormatOpenAI}}
	key.Circuit(codec.FormatOpenAI).Open = true

	cat := &fakeCatalog{
		providers: []*models.Provider{{ID: "openai", Name: "openai", Active: true}},
		keys:      map[string][]*models.ProviderKey{"openai": {key}},
	}

	hc := NewHealthChecker(context.Background(), cat, nil, nil)
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Status != "degraded" {
		t.Fatalf("expected overall status degraded, got %s", snap.Status)
	}
	if snap.Providers["openai"] != "degraded" {
		t.Fatalf("expected provider openai degraded, got %s", snap.Providers["openai"])
	}
}
