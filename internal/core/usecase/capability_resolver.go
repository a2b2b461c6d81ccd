package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const DefaultCapabilityCacheTTL = 5 * time.Minute

// AccessFeedFallbackTTL caps cache entries while cross-process invalidations
// may be missed.
const AccessFeedFallbackTTL = 15 * time.Second

// AccessResolver returns the effective roles and capabilities of an actor.
type AccessResolver interface {
	Resolve(ctx context.Context, actorID string) (domain.EffectiveAccess, error)
}

// AccessCache is an AccessResolver whose results can be invalidated.
type AccessCache interface {
	AccessResolver
	Invalidate(actorID string)
	InvalidateAll()
}

type cachedAccess struct {
	access    domain.EffectiveAccess
	expiresAt time.Time
}

// CapabilityResolver computes effective access from the identity provider and
// caches it per actor. Reads never take a lock; concurrent misses for one
// actor share a single identity lookup.
type CapabilityResolver struct {
	identity ports.IdentityProvider
	observer ports.WorkflowObserver
	ttl      time.Duration
	now      func() time.Time

	entries    sync.Map
	group      singleflight.Group
	generation atomic.Uint64
	feedDown   atomic.Bool
}

func NewCapabilityResolver(identity ports.IdentityProvider, ttl time.Duration, observer ports.WorkflowObserver) *CapabilityResolver {
	if ttl <= 0 {
		ttl = DefaultCapabilityCacheTTL
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &CapabilityResolver{
		identity: identity,
		observer: observer,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Resolve returns the union of capabilities over the actor's active roles.
// An empty or unknown actor resolves to empty access.
func (r *CapabilityResolver) Resolve(ctx context.Context, actorID string) (domain.EffectiveAccess, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.NewEffectiveAccess("", nil, nil, r.now().UTC()), nil
	}

	if value, ok := r.entries.Load(actorID); ok {
		entry := value.(cachedAccess)
		if r.now().Before(entry.expiresAt) {
			r.observer.ObserveCapabilityLookup(true)
			return entry.access, nil
		}
	}
	r.observer.ObserveCapabilityLookup(false)

	value, err, _ := r.group.Do(actorID, func() (any, error) {
		generation := r.generation.Load()
		access, err := r.load(ctx, actorID)
		if err != nil {
			return nil, err
		}
		// An invalidation that raced with this lookup wins.
		if r.generation.Load() == generation {
			r.entries.Store(actorID, cachedAccess{
				access:    access,
				expiresAt: access.ResolvedAt.Add(r.entryTTL()),
			})
		}
		return access, nil
	})
	if err != nil {
		return domain.EffectiveAccess{}, err
	}
	return value.(domain.EffectiveAccess), nil
}

func (r *CapabilityResolver) Capabilities(ctx context.Context, actorID string) ([]domain.Capability, error) {
	access, err := r.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return access.CapabilityList(), nil
}

func (r *CapabilityResolver) Invalidate(actorID string) {
	actorID = strings.TrimSpace(actorID)
	r.generation.Add(1)
	r.entries.Delete(actorID)
	r.group.Forget(actorID)
}

func (r *CapabilityResolver) InvalidateAll() {
	r.generation.Add(1)
	r.entries.Range(func(key, _ any) bool {
		r.entries.Delete(key)
		r.group.Forget(key.(string))
		return true
	})
}

// AccessChanged applies an invalidation broadcast by any process.
func (r *CapabilityResolver) AccessChanged(actorID string) {
	if strings.TrimSpace(actorID) == "" {
		r.InvalidateAll()
		return
	}
	r.Invalidate(actorID)
}

// SetAccessFeedHealthy drops the cache on every change of feed state, since
// changes made while the feed was down are lost. Entries cached while it is
// down live at most AccessFeedFallbackTTL.
func (r *CapabilityResolver) SetAccessFeedHealthy(healthy bool) {
	if r.feedDown.Swap(!healthy) == !healthy {
		return
	}
	r.InvalidateAll()
}

func (r *CapabilityResolver) AccessFeedHealthy() bool {
	return !r.feedDown.Load()
}

func (r *CapabilityResolver) entryTTL() time.Duration {
	if r.feedDown.Load() {
		return min(r.ttl, AccessFeedFallbackTTL)
	}
	return r.ttl
}

func (r *CapabilityResolver) load(ctx context.Context, actorID string) (domain.EffectiveAccess, error) {
	roles, err := r.identity.ResolveRoles(ctx, actorID)
	if err != nil {
		return domain.EffectiveAccess{}, domain.WrapError(domain.ErrTemporary, "resolve roles", err)
	}

	seen := make(map[domain.Capability]struct{})
	caps := make([]domain.Capability, 0, len(roles)*4)
	for _, role := range roles {
		roleCaps, err := r.identity.ResolveCapabilities(ctx, role)
		if err != nil {
			return domain.EffectiveAccess{}, domain.WrapError(
				domain.ErrTemporary,
				"resolve capabilities",
				fmt.Errorf("role %s: %w", role, err),
			)
		}
		for _, c := range roleCaps {
			if !c.Valid() {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			caps = append(caps, c)
		}
	}
	return domain.NewEffectiveAccess(actorID, roles, caps, r.now().UTC()), nil
}
