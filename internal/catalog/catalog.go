// Package catalog assembles the declarative, config-loaded entity graph the
// candidate builder (C2) enumerates against: Providers, their Endpoints and
// ProviderKeys, and the GlobalModel/Model bindings that tie a client-visible
// model name to each provider's native one. It satisfies candidate.Catalog
// directly from internal/config.Config — there is no admin CRUD or database
// in this deployment's scope, so the catalog is built once at startup and
// held in memory for the process lifetime.
package catalog

import (
	"sync"

	"github.com/nulpointcorp/hub-gateway/internal/candidate"
	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/config"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// vendorEntry describes one OpenAI-compatible vendor's static defaults — the
// same table internal/app used to construct per-vendor SDK clients, now
// reused to construct an Endpoint/ProviderKey pair instead.
type vendorEntry struct {
	id      string
	name    string
	apiKey  string
	baseURL string
}

// Static is an in-memory candidate.Catalog built once from config.Config.
// Safe for concurrent reads; internal state never mutates after Build
// returns (the mutable part of the graph — circuit/health state — lives on
// the *models.ProviderKey pointers themselves, shared with the rest of the
// gateway).
type Static struct {
	mu sync.RWMutex

	providers map[string]*models.Provider
	endpoints map[string][]*models.Endpoint // providerID -> endpoints
	keys      map[string][]*models.ProviderKey // providerID -> keys

	globalModels []*models.GlobalModel
	byExactName  map[string]*models.GlobalModel
	bindings     map[string]*models.Model // globalModelID|providerID -> Model

	conversionEnabled bool
	priorityMode      models.PriorityMode

	// defaultRPMLimit is RATE_LIMIT.RPM_LIMIT applied to every key this
	// catalog builds. nil (the default, RPM_LIMIT unset or 0) leaves each
	// key in adaptive mode — see models.ProviderKey.RPMLimit.
	defaultRPMLimit *int
}

// Build constructs a Static catalog from cfg: one Provider/Endpoint/
// ProviderKey triple per configured vendor with a non-empty API key (or, for
// Vertex AI and Bedrock, per configured account), with Provider.Priority
// assigned in configuration order, plus a GlobalModel for every entry in
// providers.ModelAliases (bound to its provider only when that provider is
// configured) so a client-supplied model name
// resolves the same way it did under the teacher's static alias table.
func Build(cfg *config.Config) *Static {
	c := &Static{
		providers:         map[string]*models.Provider{},
		endpoints:         map[string][]*models.Endpoint{},
		keys:              map[string][]*models.ProviderKey{},
		byExactName:       map[string]*models.GlobalModel{},
		bindings:          map[string]*models.Model{},
		conversionEnabled: true,
		priorityMode:      models.PriorityModeProvider,
	}

	if cfg.RateLimit.RPMLimit > 0 {
		limit := cfg.RateLimit.RPMLimit
		c.defaultRPMLimit = &limit
	}

	priority := 0
	addDirect := func(id, secret, baseURL string, format codec.ApiFormat, defaultBaseURL string) {
		if secret == "" {
			return
		}
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		c.addProvider(id, id, priority, format, baseURL, secret)
		priority++
	}

	addDirect("openai", cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, codec.FormatOpenAI, "https://api.openai.com/v1")
	addDirect("anthropic", cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, codec.FormatClaude, "https://api.anthropic.com")
	addDirect("gemini", cfg.Gemini.APIKey, cfg.Gemini.BaseURL, codec.FormatGemini, "https://generativelanguage.googleapis.com")
	addDirect("mistral", cfg.Mistral.APIKey, cfg.Mistral.BaseURL, codec.FormatOpenAI, "https://api.mistral.ai/v1")

	for _, e := range openaiCompatVendors(cfg) {
		if e.apiKey == "" {
			continue
		}
		c.addProvider(e.id, e.name, priority, codec.FormatOpenAI, e.baseURL, e.apiKey)
		priority++
	}

	if cfg.VertexAI.Project != "" {
		c.addProvider("vertexai", "vertexai", priority, codec.FormatGemini,
			"https://"+cfg.VertexAI.Location+"-aiplatform.googleapis.com", "adc")
		priority++
	}
	if cfg.Bedrock.AccessKey != "" {
		baseURL := cfg.Bedrock.EndpointURL
		if baseURL == "" {
			baseURL = "https://bedrock-runtime." + cfg.Bedrock.Region + ".amazonaws.com"
		}
		c.addProvider("bedrock", "bedrock", priority, codec.FormatClaude, baseURL, cfg.Bedrock.SecretKey)
		priority++
	}
	if cfg.Azure.APIKey != "" {
		c.addProvider("azure", "azure", priority, codec.FormatOpenAI, cfg.Azure.Endpoint, cfg.Azure.APIKey)
		priority++
	}

	c.loadModelCatalog()
	return c
}

func (c *Static) addProvider(id, name string, priority int, format codec.ApiFormat, baseURL, secret string) {
	c.providers[id] = &models.Provider{
		ID:          id,
		Name:        name,
		Priority:    priority,
		BillingType: models.BillingPayAsYouGo,
		Active:      true,
	}
	c.endpoints[id] = []*models.Endpoint{{
		ID:         id + "-ep",
		ProviderID: id,
		ApiFormat:  format,
		BaseURL:    baseURL,
		FormatAcceptance: models.FormatAcceptance{
			Enabled:          true,
			StreamConversion: true,
		},
		Active: true,
	}}
	authType := "api_key"
	if id == "vertexai" {
		authType = "oauth"
	}
	c.keys[id] = []*models.ProviderKey{{
		ID:               id + "-key",
		ProviderID:       id,
		Secret:           secret,
		AuthType:         authType,
		ApiFormats:       []codec.ApiFormat{format},
		InternalPriority: 0,
		CacheTTLMinutes:  60,
		RPMLimit:         c.defaultRPMLimit,
		Active:           true,
	}}
}

// openaiCompatVendors mirrors the teacher's static base-URL table (formerly
// used to construct openaicompatprov.New clients), reused verbatim here to
// build declarative endpoints for the same vendor set.
func openaiCompatVendors(cfg *config.Config) []vendorEntry {
	return []vendorEntry{
		{"xai", "xai", cfg.XAI.APIKey, "https://api.x.ai/v1"},
		{"deepseek", "deepseek", cfg.DeepSeek.APIKey, "https://api.deepseek.com/v1"},
		{"groq", "groq", cfg.Groq.APIKey, "https://api.groq.com/openai/v1"},
		{"together", "together", cfg.Together.APIKey, "https://api.together.xyz/v1"},
		{"perplexity", "perplexity", cfg.Perplexity.APIKey, "https://api.perplexity.ai"},
		{"cerebras", "cerebras", cfg.Cerebras.APIKey, "https://api.cerebras.ai/v1"},
		{"moonshot", "moonshot", cfg.Moonshot.APIKey, "https://api.moonshot.cn/v1"},
		{"minimax", "minimax", cfg.MiniMax.APIKey, "https://api.minimax.chat/v1"},
		{"qwen", "qwen", cfg.Qwen.APIKey, "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"},
		{"nebius", "nebius", cfg.Nebius.APIKey, "https://api.studio.nebius.ai/v1"},
		{"novita", "novita", cfg.NovitaAI.APIKey, "https://api.novita.ai/v3/openai"},
		{"bytedance", "bytedance", cfg.ByteDance.APIKey, "https://ark.cn-beijing.volces.com/api/v3"},
		{"zai", "zai", cfg.ZAI.APIKey, "https://api.z.ai/api/openai/v1"},
		{"canopywave", "canopywave", cfg.CanopyWave.APIKey, "https://api.canopywave.com/v1"},
		{"inference", "inference", cfg.Inference.APIKey, "https://api.inference.net/v1"},
		{"nanogpt", "nanogpt", cfg.NanoGPT.APIKey, "https://nano-gpt.com/api/v1"},
	}
}

// ResolveGlobalModel implements candidate.Catalog.
func (c *Static) ResolveGlobalModel(name string) (*models.GlobalModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if gm, ok := c.byExactName[name]; ok {
		return gm, true
	}
	for _, m := range c.bindings {
		if m.ProviderModelName == name {
			return c.byExactName[m.GlobalModelID], true
		}
		for _, alias := range m.Aliases {
			if alias == name {
				return c.byExactName[m.GlobalModelID], true
			}
		}
	}
	for _, gm := range c.globalModels {
		if gm.MatchesAlias(name) {
			return gm, true
		}
	}
	return nil, false
}

// ActiveProviders implements candidate.Catalog.
func (c *Static) ActiveProviders() []*models.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Provider, 0, len(c.providers))
	for _, p := range c.providers {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// EndpointsForProvider implements candidate.Catalog.
func (c *Static) EndpointsForProvider(providerID string) []*models.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[providerID]
}

// KeysForProvider implements candidate.Catalog.
func (c *Static) KeysForProvider(providerID string) []*models.ProviderKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[providerID]
}

// ModelBinding implements candidate.Catalog.
func (c *Static) ModelBinding(globalModelID, providerID string) (*models.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.bindings[globalModelID+"|"+providerID]
	if !ok || !m.Active {
		return nil, false
	}
	return m, true
}

// ListModels returns every global model's client-facing name, for the
// GET /v1/models and /v1beta/models listing endpoints. Not part of
// candidate.Catalog — those endpoints talk to the concrete catalog directly
// since model listing has no routing decision to make.
func (c *Static) ListModels() []map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]map[string]any, 0, len(c.globalModels))
	for _, gm := range c.globalModels {
		out = append(out, map[string]any{
			"id":     gm.Name,
			"object": "model",
		})
	}
	return out
}

// ConversionEnabled implements candidate.Catalog.
func (c *Static) ConversionEnabled() bool { return c.conversionEnabled }

// PriorityMode implements candidate.Catalog.
func (c *Static) PriorityMode() models.PriorityMode { return c.priorityMode }

var _ candidate.Catalog = (*Static)(nil)
