// README: In-process cache of resolved per-org policy objects.
// Invalidation is driven by a hashstructure fingerprint of the tenant
// override rather than a bare TTL, so a config write is reflected
// immediately rather than eventually.
package timepolicy

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/orro3790/dispatch/internal/types"
)

// OverrideLoader fetches the current tenant override row for an org, e.g.
// from organizationDispatchSettings. A zero-value TenantOverride is a
// legitimate "no overrides" response.
type OverrideLoader interface {
	LoadOverride(ctx context.Context, orgID types.ID) (TenantOverride, error)
}

type cacheEntry struct {
	policy Policy
	hash   uint64
}

// Cache resolves and memoizes Policy objects per organization.
type Cache struct {
	defaults Policy
	loader   OverrideLoader
	inner    *gocache.Cache
}

// NewCache builds a policy cache with no fixed expiry; entries are evicted
// only by an explicit Invalidate or a hash mismatch detected in For.
func NewCache(defaults Policy, loader OverrideLoader) *Cache {
	return &Cache{
		defaults: defaults,
		loader:   loader,
		inner:    gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// For returns the resolved policy for an organization, using the cached
// value if the tenant override has not changed since it was cached.
func (c *Cache) For(ctx context.Context, orgID types.ID) (Policy, error) {
	override, err := c.loader.LoadOverride(ctx, orgID)
	if err != nil {
		return Policy{}, err
	}
	wantHash, err := override.Hash()
	if err != nil {
		return Policy{}, err
	}

	key := string(orgID)
	if cached, ok := c.inner.Get(key); ok {
		entry := cached.(cacheEntry)
		if entry.hash == wantHash {
			return entry.policy, nil
		}
	}

	merged, err := Resolve(c.defaults, override)
	if err != nil {
		return Policy{}, err
	}
	c.inner.Set(key, cacheEntry{policy: merged, hash: wantHash}, gocache.NoExpiration)
	return merged, nil
}

// Invalidate forces the next For call for orgID to recompute, regardless
// of hash. Called after a direct write to organizationDispatchSettings so
// readers in the same process see the change without waiting on the next
// hash comparison round-trip.
func (c *Cache) Invalidate(orgID types.ID) {
	c.inner.Delete(string(orgID))
}
