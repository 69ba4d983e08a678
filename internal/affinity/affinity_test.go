package affinity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/hub-gateway/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, nil)
}

func sampleKey() models.AffinityKey {
	return models.AffinityKey{ClientAPIKeyID: "ck1", TargetFormat: "claude", ResolvedGlobalModelID: "gm-1"}
}

func TestGetMiss(t *testing.T) {
	m := newTestManager(t)
	if _, ok := m.Get(context.Background(), sampleKey()); ok {
		t.Fatal("expected miss on empty store")
	}
}

func TestPutThenGet(t *testing.T) {
	m := newTestManager(t)
	key := sampleKey()
	triple := models.AffinityRecord{ProviderID: "p1", EndpointID: "e1", KeyID: "k1"}

	if err := m.Put(context.Background(), key, triple, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := m.Get(context.Background(), key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.ProviderID != "p1" || got.EndpointID != "e1" || got.KeyID != "k1" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRefreshIncrementsRequestCount(t *testing.T) {
	m := newTestManager(t)
	key := sampleKey()
	triple := models.AffinityRecord{ProviderID: "p1", EndpointID: "e1", KeyID: "k1", RequestCount: 1}
	_ = m.Put(context.Background(), key, triple, time.Hour)

	if err := m.Refresh(context.Background(), key, time.Hour); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got, ok := m.Get(context.Background(), key)
	if !ok || got.RequestCount != 2 {
		t.Fatalf("expected request_count=2, got %+v (ok=%v)", got, ok)
	}
}

func TestInvalidateAllForProvider(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	k1 := models.AffinityKey{ClientAPIKeyID: "c1", TargetFormat: "claude", ResolvedGlobalModelID: "gm-1"}
	k2 := models.AffinityKey{ClientAPIKeyID: "c2", TargetFormat: "openai", ResolvedGlobalModelID: "gm-2"}

	_ = m.Put(ctx, k1, models.AffinityRecord{ProviderID: "p1", EndpointID: "e1", KeyID: "k1"}, time.Hour)
	_ = m.Put(ctx, k2, models.AffinityRecord{ProviderID: "p2", EndpointID: "e2", KeyID: "k2"}, time.Hour)

	if err := m.InvalidateAllForProvider(ctx, "p1"); err != nil {
		t.Fatalf("InvalidateAllForProvider: %v", err)
	}

	if _, ok := m.Get(ctx, k1); ok {
		t.Fatal("k1's record should be gone after invalidating p1")
	}
	if _, ok := m.Get(ctx, k2); !ok {
		t.Fatal("k2's record (provider p2) should survive invalidating p1")
	}
}

func TestInvalidateAllForKey(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	k1 := models.AffinityKey{ClientAPIKeyID: "c1", TargetFormat: "claude", ResolvedGlobalModelID: "gm-1"}
	_ = m.Put(ctx, k1, models.AffinityRecord{ProviderID: "p1", EndpointID: "e1", KeyID: "shared-key"}, time.Hour)

	if err := m.InvalidateAllForKey(ctx, "shared-key"); err != nil {
		t.Fatalf("InvalidateAllForKey: %v", err)
	}
	if _, ok := m.Get(ctx, k1); ok {
		t.Fatal("record should be invalidated")
	}
}

func TestInvalidateConditionalOnEndpoint(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := sampleKey()
	_ = m.Put(ctx, key, models.AffinityRecord{ProviderID: "p1", EndpointID: "e1", KeyID: "k1"}, time.Hour)

	if err := m.Invalidate(ctx, key, "wrong-endpoint"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := m.Get(ctx, key); !ok {
		t.Fatal("record should survive a conditional invalidate against the wrong endpoint")
	}

	if err := m.Invalidate(ctx, key, "e1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := m.Get(ctx, key); ok {
		t.Fatal("record should be gone after invalidating the matching endpoint")
	}
}
