// Package affinity implements the cache-affinity manager (C4): a sticky
// mapping from a client identity to the (provider, endpoint, key) triple it
// last used successfully, so repeat requests land on the same upstream and
// keep hitting its prompt cache.
//
// Storage mirrors internal/cache's Redis patterns — plain SET/GET with TTL
// for the record itself, plus two reverse-index sets (by provider, by key)
// so InvalidateAllForProvider/InvalidateAllForKey don't require a Redis
// KEYS/SCAN sweep.
package affinity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/hub-gateway/internal/models"
)

const (
	defaultTimeout = 500 * time.Millisecond
	keyPrefix      = "affinity:rec:"
	byProviderPfx  = "affinity:by_provider:"
	byKeyPfx       = "affinity:by_key:"
)

// record is the JSON wire shape stored at keyPrefix+<AffinityKey>.
type record struct {
	ProviderID   string    `json:"provider_id"`
	EndpointID   string    `json:"endpoint_id"`
	KeyID        string    `json:"key_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpireAt     time.Time `json:"expire_at"`
	RequestCount int64     `json:"request_count"`
}

// Manager is the Redis-backed implementation of C4.
type Manager struct {
	rdb     *redis.Client
	timeout time.Duration
	log     *slog.Logger
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle.
func New(rdb *redis.Client, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{rdb: rdb, timeout: defaultTimeout, log: log}
}

func recordKey(k models.AffinityKey) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, k.ClientAPIKeyID, k.TargetFormat, k.ResolvedGlobalModelID)
}

// Get returns the sticky record for key, or (nil, false) on a miss, TTL
// expiry, or Redis error — affinity is a soft hint, never a hard
// dependency.
func (m *Manager) Get(ctx context.Context, key models.AffinityKey) (*models.AffinityRecord, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.rdb.Get(ctx, recordKey(key)).Bytes()
	if err != nil {
		return nil, false
	}

	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		m.log.WarnContext(ctx, "affinity_decode_error", slog.String("error", err.Error()))
		return nil, false
	}

	return &models.AffinityRecord{
		ProviderID:   r.ProviderID,
		EndpointID:   r.EndpointID,
		KeyID:        r.KeyID,
		CreatedAt:    r.CreatedAt,
		ExpireAt:     r.ExpireAt,
		RequestCount: r.RequestCount,
	}, true
}

// Put writes or refreshes the sticky record for key with the given TTL,
// maintaining the by-provider/by-key reverse indexes used by the
// Invalidate* bulk operations. Called by the orchestrator only after a
// successful attempt (§4.4).
func (m *Manager) Put(ctx context.Context, key models.AffinityKey, triple models.AffinityRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	now := time.Now()
	r := record{
		ProviderID:   triple.ProviderID,
		EndpointID:   triple.EndpointID,
		KeyID:        triple.KeyID,
		CreatedAt:    now,
		ExpireAt:     now.Add(ttl),
		RequestCount: triple.RequestCount,
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("affinity: encode record: %w", err)
	}

	rk := recordKey(key)
	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, rk, raw, ttl)
	pipe.SAdd(ctx, byProviderPfx+triple.ProviderID, rk)
	pipe.Expire(ctx, byProviderPfx+triple.ProviderID, ttl+time.Hour)
	pipe.SAdd(ctx, byKeyPfx+triple.KeyID, rk)
	pipe.Expire(ctx, byKeyPfx+triple.KeyID, ttl+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.WarnContext(ctx, "affinity_put_error", slog.String("error", err.Error()))
		return nil // degrade gracefully — affinity is a soft hint
	}
	return nil
}

// Refresh extends an existing record's TTL and increments its request count
// after a successful attempt against it. A no-op if the record has already
// expired.
func (m *Manager) Refresh(ctx context.Context, key models.AffinityKey, ttl time.Duration) error {
	rec, ok := m.Get(ctx, key)
	if !ok {
		return nil
	}
	rec.RequestCount++
	return m.Put(ctx, key, *rec, ttl)
}

// Invalidate removes a single affinity record, optionally only when it
// currently points at endpointID (pass "" to invalidate unconditionally).
func (m *Manager) Invalidate(ctx context.Context, key models.AffinityKey, endpointID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if endpointID != "" {
		rec, ok := m.Get(ctx, key)
		if !ok || rec.EndpointID != endpointID {
			return nil
		}
	}
	return m.rdb.Del(ctx, recordKey(key)).Err()
}

// InvalidateAllForProvider deletes every affinity record currently pointing
// at providerID, via the by-provider reverse index.
func (m *Manager) InvalidateAllForProvider(ctx context.Context, providerID string) error {
	return m.invalidateBySet(ctx, byProviderPfx+providerID)
}

// InvalidateAllForKey deletes every affinity record currently pointing at
// keyID, via the by-key reverse index.
func (m *Manager) InvalidateAllForKey(ctx context.Context, keyID string) error {
	return m.invalidateBySet(ctx, byKeyPfx+keyID)
}

func (m *Manager) invalidateBySet(ctx context.Context, setKey string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	members, err := m.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("affinity: smembers %s: %w", setKey, err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := m.rdb.TxPipeline()
	for _, rk := range members {
		pipe.Del(ctx, rk)
	}
	pipe.Del(ctx, setKey)
	_, err = pipe.Exec(ctx)
	return err
}

// ListAll scans every affinity record for admin inspection. Used only by
// the out-of-scope admin surface; not on the request hot path.
func (m *Manager) ListAll(ctx context.Context) ([]models.AffinityRecord, error) {
	var out []models.AffinityRecord
	iter := m.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := m.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		out = append(out, models.AffinityRecord{
			ProviderID: r.ProviderID, EndpointID: r.EndpointID, KeyID: r.KeyID,
			CreatedAt: r.CreatedAt, ExpireAt: r.ExpireAt, RequestCount: r.RequestCount,
		})
	}
	return out, iter.Err()
}
