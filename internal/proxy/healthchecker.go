package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/hub-gateway/internal/candidate"
	"github.com/nulpointcorp/hub-gateway/internal/metrics"
)

const healthProbeInterval = 30 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker runs a background sweep over the catalog's circuit-breaker
// state and exposes a snapshot — a provider is "degraded" when every key it
// owns has an open circuit on every format it serves, rather than an active
// RPC probe against the vendor: the catalog is configuration, not a live
// client, so the only signal available without spending a real request is
// the breaker state C8 already maintains.
type HealthChecker struct {
	catalog    candidate.Catalog
	cacheReady func() bool
	dbReady    func() bool
	baseCtx    context.Context
	metrics    *metrics.Registry

	providerStatuses map[string]*componentStatus
	cacheStatus      componentStatus
	dbStatus         componentStatus

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes.
func NewHealthChecker(ctx context.Context, catalog candidate.Catalog, cacheReady func() bool, met *metrics.Registry) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		catalog:          catalog,
		cacheReady:       cacheReady,
		providerStatuses: make(map[string]*componentStatus),
		startTime:        time.Now(),
		done:             make(chan struct{}),
		baseCtx:          ctx,
		metrics:          met,
	}

	hc.probe()
	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
	Cache         string            `json:"cache"`
	Database      string            `json:"database"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	providers := make(map[string]string, len(hc.providerStatuses))
	for name, s := range hc.providerStatuses {
		st := s.get()
		providers[name] = st
		if st != "ok" {
			overall = "degraded"
		}
	}

	cache := hc.cacheStatus.get()
	db := hc.dbStatus.get()
	if db == "down" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Providers:     providers,
		Cache:         cache,
		Database:      db,
	}
}

// ReadinessOK returns true when the database probe reports "ok" (used by
// GET /readiness for Kubernetes probes); the cache status is not consulted.
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.dbStatus.get() == "ok"
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	if hc.catalog != nil {
		for _, p := range hc.catalog.ActiveProviders() {
			status := "ok"
			if !p.Active || allKeysCircuitOpen(hc.catalog, p.ID) {
				status = "degraded"
			}
			s, ok := hc.providerStatuses[p.ID]
			if !ok {
				s = &componentStatus{}
				hc.providerStatuses[p.ID] = s
			}
			s.set(status)
			if hc.metrics != nil {
				hc.metrics.SetProviderHealth(p.Name, status == "ok")
			}
		}
	}

	if hc.cacheReady == nil || hc.cacheReady() {
		hc.cacheStatus.set("ok")
	} else {
		hc.cacheStatus.set("degraded")
	}

	if hc.dbReady == nil || hc.dbReady() {
		hc.dbStatus.set("ok")
	} else {
		hc.dbStatus.set("down")
	}
}

// allKeysCircuitOpen reports whether every key the provider owns has every
// supported format's breaker open — the provider has no usable path left.
func allKeysCircuitOpen(catalog candidate.Catalog, providerID string) bool {
	keys := catalog.KeysForProvider(providerID)
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if !k.Active {
			continue
		}
		for _, f := range k.ApiFormats {
			if cs := k.Circuit(f); !cs.Open {
				return false
			}
		}
	}
	return true
}
