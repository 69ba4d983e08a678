package models

import (
	"testing"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
)

func TestGlobalModelAliasMatching(t *testing.T) {
	gm := GlobalModel{Name: "claude-sonnet-4-5", Aliases: []string{`^claude-sonnet-4-5(-\d{8})?$`}}
	if err := gm.CompileAliases(); err != nil {
		t.Fatalf("CompileAliases: %v", err)
	}
	if !gm.MatchesAlias("claude-sonnet-4-5-20250514") {
		t.Error("expected dated alias to match")
	}
	if gm.MatchesAlias("claude-haiku") {
		t.Error("unrelated name should not match")
	}
}

func TestEndpointAdmitsClientPassthrough(t *testing.T) {
	ep := Endpoint{ApiFormat: codec.FormatClaude}
	compatible, needsConversion := ep.AdmitsClient(codec.FormatClaudeCLI, false, true)
	if !compatible || needsConversion {
		t.Errorf("claude_cli -> claude endpoint should be passthrough-compatible, got compatible=%v needsConversion=%v", compatible, needsConversion)
	}
}

func TestEndpointAdmitsClientConversionGatedByGlobalSwitch(t *testing.T) {
	ep := Endpoint{
		ApiFormat: codec.FormatOpenAI,
		FormatAcceptance: FormatAcceptance{
			Enabled:          true,
			StreamConversion: false,
		},
	}
	compatible, needsConversion := ep.AdmitsClient(codec.FormatClaude, false, true)
	if !compatible || !needsConversion {
		t.Errorf("conversion should be permitted for non-stream request, got compatible=%v needsConversion=%v", compatible, needsConversion)
	}

	compatible, _ = ep.AdmitsClient(codec.FormatClaude, true, true)
	if compatible {
		t.Error("endpoint without stream_conversion should reject a streaming conversion candidate")
	}

	compatible, _ = ep.AdmitsClient(codec.FormatClaude, false, false)
	if compatible {
		t.Error("conversion must be rejected when the global conversion switch is off")
	}
}

func TestProviderKeyAllowedModelsWhitelist(t *testing.T) {
	k := &ProviderKey{AllowedModels: []string{"gm-1"}}
	if !k.AllowsModel("gm-1") {
		t.Error("whitelisted model should be allowed")
	}
	if k.AllowsModel("gm-2") {
		t.Error("non-whitelisted model should be rejected")
	}

	unrestricted := &ProviderKey{}
	if !unrestricted.AllowsModel("anything") {
		t.Error("nil AllowedModels should mean unrestricted")
	}
}

func TestApiKeyEffectiveRestrictionsIntersects(t *testing.T) {
	owner := &User{Restrictions: Restrictions{AllowedProviders: []string{"p1", "p2"}}}
	key := ApiKey{UserID: owner.ID, Restrictions: Restrictions{AllowedProviders: []string{"p2", "p3"}}}

	eff := key.EffectiveRestrictions(owner)
	if len(eff.AllowedProviders) != 1 || eff.AllowedProviders[0] != "p2" {
		t.Errorf("expected intersection {p2}, got %v", eff.AllowedProviders)
	}
}

func TestApiKeyEffectiveRestrictionsStandalone(t *testing.T) {
	key := ApiKey{Restrictions: Restrictions{AllowedModels: []string{"gm-1"}}}
	eff := key.EffectiveRestrictions(nil)
	if len(eff.AllowedModels) != 1 || eff.AllowedModels[0] != "gm-1" {
		t.Errorf("standalone key restrictions should pass through unchanged, got %v", eff.AllowedModels)
	}
}
