// Package quota applies per-tenant enqueue rate limits so one noisy
// tenant cannot starve the queue for everyone else.
package quota

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantConfig sets the enqueue rate for one tenant.
type TenantConfig struct {
	// RatePerSecond is the sustained enqueue rate. Zero or negative
	// means unlimited.
	RatePerSecond float64
	// Burst is the bucket size. Defaults to max(1, RatePerSecond)
	// when zero.
	Burst int
}

// Manager tracks a token bucket per configured tenant. Tenants without
// a config are unlimited. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewManager creates a Manager with no tenant limits.
func NewManager() *Manager {
	return &Manager{
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetTenant installs or replaces the limit for a tenant. A config with
// non-positive RatePerSecond removes the limit.
func (m *Manager) SetTenant(tenantID string, cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.RatePerSecond <= 0 {
		delete(m.limiters, tenantID)
		return
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	m.limiters[tenantID] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
}

// Allow reports whether the tenant may enqueue one job now, consuming
// a token when it may. Unconfigured tenants are always allowed.
func (m *Manager) Allow(tenantID string) bool {
	m.mu.RLock()
	limiter, ok := m.limiters[tenantID]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}
