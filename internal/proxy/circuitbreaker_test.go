package proxy

import (
	"testing"
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/models"
)

func testKey(id string) *models.ProviderKey {
	return &models.ProviderKey{ID: id, ProviderID: "openai-key", Active: true}
}

func TestCircuitBreaker_InitialStateAllowsAttempt(t *testing.T) {
	cb := NewCircuitBreaker()
	k := testKey("k1")
	if !cb.Allow(k, codec.FormatOpenAI) {
		t.Fatal("expected a fresh key/format pair to be allowed")
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CBConfig{ErrorThreshold: 3, TimeWindow: time.Minute, BaseBackoff: time.Hour})
	k := testKey("k2")

	for i := 0; i < 2; i++ {
		cb.RecordFailure(k, codec.FormatOpenAI)
		if !cb.Allow(k, codec.FormatOpenAI) {
			t.Fatalf("breaker tripped too early after %d failures", i+1)
		}
	}
	cb.RecordFailure(k, codec.FormatOpenAI)
	if cb.Allow(k, codec.FormatOpenAI) {
		t.Fatal("expected breaker to be open after reaching the error threshold")
	}
}

func TestCircuitBreaker_SuccessClosesBreaker(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CBConfig{ErrorThreshold: 1, TimeWindow: time.Minute, BaseBackoff: time.Hour})
	k := testKey("k3")

	cb.RecordFailure(k, codec.FormatOpenAI)
	if cb.Allow(k, codec.FormatOpenAI) {
		t.Fatal("expected breaker to be open")
	}

	cb.RecordSuccess(k, codec.FormatOpenAI)
	if !cb.Allow(k, codec.FormatOpenAI) {
		t.Fatal("expected breaker to be closed again after a recorded success")
	}
}

func TestCircuitBreaker_IndependentPerFormat(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CBConfig{ErrorThreshold: 1, TimeWindow: time.Minute, BaseBackoff: time.Hour})
	k := testKey("k4")

	cb.RecordFailure(k, codec.FormatClaude)
	if cb.Allow(k, codec.FormatClaude) {
		t.Fatal("expected claude-format breaker to be open")
	}
	if !cb.Allow(k, codec.FormatOpenAI) {
		t.Fatal("openai-format breaker on the same key must be unaffected")
	}
}

func TestCircuitBreaker_ResetsWindowAfterExpiry(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CBConfig{ErrorThreshold: 2, TimeWindow: 10 * time.Millisecond, BaseBackoff: time.Hour})
	k := testKey("k5")

	cb.RecordFailure(k, codec.FormatOpenAI)
	time.Sleep(20 * time.Millisecond)
	cb.RecordFailure(k, codec.FormatOpenAI)

	if !cb.Allow(k, codec.FormatOpenAI) {
		t.Fatal("expected the rolling window to have reset, so a single failure afterward shouldn't trip it")
	}
}
