package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"clinauth.org/internal/obs"
)

// DefaultCacheTTL bounds how stale a cached effective permission set may be.
// A revocation committed to the store is visible no later than one TTL after
// commit; deployments needing immediate revocation must call Invalidate on
// write (the Admin service does).
const DefaultCacheTTL = 5 * time.Minute

// Cache stores resolved permission sets keyed by user id. Implementations
// must support concurrent reads without blocking writers out entirely.
type Cache interface {
	Get(userID string) (PermissionSet, bool)
	Set(userID string, perms PermissionSet)
	Delete(userID string)
}

type cacheEntry struct {
	perms     PermissionSet
	expiresAt time.Time
}

// memoryCache is the in-process TTL cache backend.
type memoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewMemoryCache returns an in-process Cache with the given entry TTL.
func NewMemoryCache(ttl time.Duration, now func() time.Time) Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &memoryCache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

func (c *memoryCache) Get(userID string) (PermissionSet, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.perms, true
}

func (c *memoryCache) Set(userID string, perms PermissionSet) {
	c.mu.Lock()
	c.entries[userID] = cacheEntry{perms: perms, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) Delete(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Resolver computes effective permission sets:
//
//	(permissions of non-expired role assignments, hierarchy included)
//	∪ (non-expired direct grants)
//	− (non-expired direct denials)
//
// Denial always wins, role-derived grants included. Results are cached per
// user with a TTL; a singleflight group collapses concurrent cold-cache
// computations for the same user.
type Resolver struct {
	store Store
	cache Cache
	group singleflight.Group
	now   func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache replaces the default in-process cache backend.
func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithResolverClock overrides the time source (tests). Only affects validity
// window checks; the default cache keeps its own clock.
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver with an in-process cache of the given
// TTL (DefaultCacheTTL when zero).
func NewResolver(store Store, cacheTTL time.Duration, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewMemoryCache(cacheTTL, r.now)
	}
	return r
}

// EffectivePermissions returns the user's resolved permission set, serving
// from cache within the staleness bound.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if set, ok := r.cache.Get(userID); ok {
		obs.ObserveCacheLookup(true)
		return set, nil
	}
	obs.ObserveCacheLookup(false)

	v, err, _ := r.group.Do(userID, func() (any, error) {
		// A concurrent flight may have populated the cache while this call
		// waited on the group.
		if set, ok := r.cache.Get(userID); ok {
			return set, nil
		}
		set, err := r.compute(ctx, userID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(userID, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

// Invalidate drops the cached set for a user. Called by Admin mutations so
// grant and role changes take effect without waiting out the TTL.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Delete(userID)
}

func (r *Resolver) compute(ctx context.Context, userID string) (PermissionSet, error) {
	now := r.now().UTC()
	roles := r.store.Roles(ctx)
	perms := r.store.Permissions(ctx)

	assignments, err := roles.Assignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}

	roleIDs, err := r.expandRoles(ctx, assignments, now)
	if err != nil {
		return nil, err
	}
	set := make(PermissionSet)
	for _, roleID := range roleIDs {
		list, err := roles.PermissionsForRole(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("load role permissions: %w", err)
		}
		for _, p := range list {
			set[p.ID] = struct{}{}
		}
	}

	grants, err := perms.Grants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	for _, g := range grants {
		if g.Granted && !g.ExpiredAt(now) {
			set[g.PermissionID] = struct{}{}
		}
	}
	// Denials last: an explicit denial removes the permission no matter how
	// it was acquired.
	for _, g := range grants {
		if !g.Granted && !g.ExpiredAt(now) {
			delete(set, g.PermissionID)
		}
	}
	return set, nil
}

// expandRoles walks the role hierarchy breadth-first from the user's
// non-expired assignments. The visited set makes cycles terminate; every
// reachable role contributes its permissions.
func (r *Resolver) expandRoles(ctx context.Context, assignments []RoleAssignment, now time.Time) ([]string, error) {
	var queue []string
	for _, a := range assignments {
		if !a.ExpiredAt(now) {
			queue = append(queue, a.RoleID)
		}
	}
	visited := make(map[string]struct{}, len(queue))
	var out []string
	for len(queue) > 0 {
		roleID := queue[0]
		queue = queue[1:]
		if _, ok := visited[roleID]; ok {
			continue
		}
		visited[roleID] = struct{}{}
		out = append(out, roleID)

		role, err := r.store.Roles(ctx).Find(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Dangling role id: contributes nothing, resolution stays
				// fail-safe.
				continue
			}
			return nil, fmt.Errorf("load role %s: %w", roleID, err)
		}
		queue = append(queue, role.ParentIDs...)
	}
	return out, nil
}
