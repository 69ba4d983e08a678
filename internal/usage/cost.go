package usage

import (
	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

// perMillion converts a per-million-token rate and a raw token count into a
// dollar cost.
func perMillion(tokens int, ratePerM float64) float64 {
	return float64(tokens) / 1_000_000 * ratePerM
}

// totalInputContext computes the tier-selection input per §4.7: input plus
// cache-read tokens, plus cache-write (creation) tokens only when the
// billing convention counts cache creation toward the tier — true for
// Claude, false for OpenAI/Gemini (§9 Design Notes).
func totalInputContext(usage codec.UsageInfo, countsCacheCreation bool) int64 {
	total := int64(usage.InputTokens) + int64(usage.CacheReadTokens)
	if countsCacheCreation {
		total += int64(usage.CacheWriteTokens)
	}
	return total
}

// selectTier picks the first tier whose upper bound is unbounded (ToTokens
// == 0) or at least totalCtx, per §4.7. Returns (tier, true) or a zero tier
// and false when Tiers is empty.
func selectTier(tiers []models.TieredPriceBand, totalCtx int64) (models.TieredPriceBand, bool) {
	for _, t := range tiers {
		if t.ToTokens == 0 || totalCtx <= t.ToTokens {
			return t, true
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1], true
	}
	return models.TieredPriceBand{}, false
}

// Cost implements the §4.7 cost formula: the sum of the four independent
// token-class costs plus an optional flat per-request price, using tiered
// input/output rates when pricing.Tiers is non-empty and the template's
// per-dialect tier-selection rule otherwise falling back to the flat rates.
func Cost(pricing models.Pricing, u codec.UsageInfo, template BillingTemplate) float64 {
	cacheCountsTowardTier := pricing.CacheCreationCountsTowardTier || countsCacheCreation(template)

	inputRate, outputRate := pricing.InputPerM, pricing.OutputPerM
	if tier, ok := selectTier(pricing.Tiers, totalInputContext(u, cacheCountsTowardTier)); ok {
		inputRate, outputRate = tier.InputPerM, tier.OutputPerM
	}

	cost := perMillion(u.InputTokens, inputRate) +
		perMillion(u.OutputTokens, outputRate) +
		perMillion(u.CacheReadTokens, pricing.CacheReadPerM) +
		perMillion(u.CacheWriteTokens, pricing.CacheWritePerM)

	if pricing.PerRequestPrice != nil {
		cost += *pricing.PerRequestPrice
	}
	return cost
}

func countsCacheCreation(template BillingTemplate) bool {
	return template == TemplateClaude
}
