package usage

import (
	"context"
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned by Ledger.Decrement when an account's
// used_usd would cross its quota_usd — the atomic "WHERE used_usd <
// quota_usd" check described in §4.7.
var ErrQuotaExceeded = errors.New("usage: quota exceeded")

// Ledger debits cost against a user and/or api-key balance. Implementations
// must make the check-then-apply in Decrement atomic per account — this
// gateway has no admin/billing database of its own (out of scope per
// SPEC_FULL.md Non-goals), so the in-memory MemoryLedger below stands in for
// whatever durable ledger a real deployment wires in its place.
type Ledger interface {
	// SetQuota installs or clears accountID's quota_usd (nil = unlimited).
	SetQuota(accountID string, quotaUSD *float64)
	// Spent returns accountID's current used_usd.
	Spent(accountID string) float64
	// Decrement attempts to add cost to accountID's used_usd, rejecting with
	// ErrQuotaExceeded if accountID has a quota and used_usd+cost would meet
	// or exceed it. Charging zero cost always succeeds, even over quota,
	// since it represents a free-tier request whose tokens must still be
	// recorded.
	Decrement(ctx context.Context, accountID string, cost float64) error
}

type balance struct {
	quota *float64
	used  float64
}

// MemoryLedger is a process-local Ledger, adequate for a single-replica
// deployment or for exercising the recorder in tests; a production
// multi-replica deployment would back this with the same Redis/SQL store
// the rest of the gateway's durable state lives in.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]*balance
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: map[string]*balance{}}
}

func (l *MemoryLedger) account(accountID string) *balance {
	b := l.balances[accountID]
	if b == nil {
		b = &balance{}
		l.balances[accountID] = b
	}
	return b
}

func (l *MemoryLedger) SetQuota(accountID string, quotaUSD *float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(accountID).quota = quotaUSD
}

func (l *MemoryLedger) Spent(accountID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(accountID).used
}

func (l *MemoryLedger) Decrement(ctx context.Context, accountID string, cost float64) error {
	if accountID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.account(accountID)
	if cost > 0 && b.quota != nil && b.used+cost >= *b.quota {
		return ErrQuotaExceeded
	}
	b.used += cost
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
