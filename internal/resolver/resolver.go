// Package resolver resolves and caches the public E2EE keys of local and
// remote actors.
//
// Results are cached for the life of the Resolver: a published key never
// changes under the same kid, rotation issues a new one. Concurrent lookups
// for the same key share a single request. Misses and failures are not
// cached.
package resolver

import (
	"context"
	"crypto/ecdh"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/egregoros/e2eedm-go/internal/api"
	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/metrics"
)

// ErrMissingActorID is returned when no actor id or handle is given.
var ErrMissingActorID = errors.New("actor id is required")

// Lookup is the actor-key-lookup service.
type Lookup interface {
	LookupActorKey(ctx context.Context, actorID, kid string) (*api.ActorKeyResponse, error)
	LookupActorKeyByHandle(ctx context.Context, handle string) (*api.ActorKeyResponse, error)
}

// ActorKey is a validated public key published by an actor.
type ActorKey struct {
	ActorID     string
	KID         string
	JWK         crypto.JWK
	PublicKey   *ecdh.PublicKey
	Fingerprint string
}

// Config configures a Resolver.
type Config struct {
	// Limit throttles lookups sent to the server. Zero means unlimited.
	Limit rate.Limit
	// Burst is the token bucket size. Defaults to 1 when Limit is set.
	Burst   int
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits     int64
	Lookups  int64
	NotFound int64
	Entries  int
}

// Resolver caches actor keys.
type Resolver struct {
	lookup  Lookup
	limiter *rate.Limiter
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	cache map[string]*ActorKey
	group singleflight.Group

	hits     atomic.Int64
	lookups  atomic.Int64
	notFound atomic.Int64
}

// New creates a Resolver backed by lookup.
func New(lookup Lookup, cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Resolver{
		lookup:  lookup,
		limiter: rate.NewLimiter(limit, burst),
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		cache:   make(map[string]*ActorKey),
	}
}

func cacheKey(actorID, kid string) string {
	if kid == "" {
		kid = "any"
	}
	return actorID + "#" + kid
}

func handleKey(handle string) string {
	return "@" + handle
}

func normalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// ResolveKey returns actorID's key with the given kid, or its current key
// when kid is empty. It returns nil, nil when the actor has no usable key.
func (r *Resolver) ResolveKey(ctx context.Context, actorID, kid string) (*ActorKey, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, ErrMissingActorID
	}
	return r.resolve(ctx, cacheKey(actorID, kid), func(ctx context.Context) (*api.ActorKeyResponse, error) {
		return r.lookup.LookupActorKey(ctx, actorID, kid)
	}, func(resp *api.ActorKeyResponse) *ActorKey {
		return r.accept(resp, actorID, kid)
	})
}

// ResolveKeyByHandle resolves a federation handle such as
// "@bob@remote.example" to the actor and its current key.
func (r *Resolver) ResolveKeyByHandle(ctx context.Context, handle string) (*ActorKey, error) {
	handle = normalizeHandle(handle)
	if handle == "" {
		return nil, ErrMissingActorID
	}
	return r.resolve(ctx, handleKey(handle), func(ctx context.Context) (*api.ActorKeyResponse, error) {
		return r.lookup.LookupActorKeyByHandle(ctx, handle)
	}, func(resp *api.ActorKeyResponse) *ActorKey {
		return r.accept(resp, "", "")
	})
}

func (r *Resolver) resolve(
	ctx context.Context,
	key string,
	fetch func(context.Context) (*api.ActorKeyResponse, error),
	accept func(*api.ActorKeyResponse) *ActorKey,
) (*ActorKey, error) {
	if k := r.cached(key); k != nil {
		r.hits.Add(1)
		r.metrics.KeyLookup("hit")
		return k, nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		if k := r.cached(key); k != nil {
			return k, nil
		}

		fctx := context.WithoutCancel(ctx)
		if err := r.limiter.Wait(fctx); err != nil {
			return nil, err
		}

		r.lookups.Add(1)
		resp, err := fetch(fctx)
		if err != nil {
			if errors.Is(err, apierrors.ErrNotFound) {
				r.miss(key, "not_found")
				return (*ActorKey)(nil), nil
			}
			r.metrics.KeyLookup("error")
			return nil, err
		}

		k := accept(resp)
		if k == nil {
			r.miss(key, "invalid")
			return (*ActorKey)(nil), nil
		}

		r.store(key, k)
		r.metrics.KeyLookup("fetched")
		return k, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ActorKey), nil
	}
}

func (r *Resolver) miss(key, outcome string) {
	r.notFound.Add(1)
	r.metrics.KeyLookup(outcome)
	r.log.WithField("key", key).Debug("no usable actor key")
}

// accept validates a lookup response. Partially populated keys are rejected
// rather than returned.
func (r *Resolver) accept(resp *api.ActorKeyResponse, actorID, kid string) *ActorKey {
	if resp == nil || resp.Key == nil {
		return nil
	}
	rec := resp.Key
	log := r.log.WithFields(logrus.Fields{"actor": resp.ActorAPID, "kid": rec.KID})

	if rec.KID == "" || !rec.JWK.Complete() {
		log.Warn("actor key response is incomplete")
		return nil
	}
	if kid != "" && rec.KID != kid {
		log.WithField("want_kid", kid).Warn("actor key response has a different kid")
		return nil
	}
	if actorID == "" {
		actorID = resp.ActorAPID
	}
	if actorID == "" {
		log.Warn("actor key response has no actor id")
		return nil
	}

	pub, err := crypto.ParsePublicJWK(rec.JWK)
	if err != nil {
		log.WithError(err).Warn("actor key is not a usable P-256 key")
		return nil
	}

	fp := rec.Fingerprint
	if fp == "" {
		fp = crypto.Fingerprint(pub)
	}
	return &ActorKey{
		ActorID:     actorID,
		KID:         rec.KID,
		JWK:         rec.JWK.Public(),
		PublicKey:   pub,
		Fingerprint: fp,
	}
}

func (r *Resolver) cached(key string) *ActorKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key]
}

func (r *Resolver) store(key string, k *ActorKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = k
	r.cache[cacheKey(k.ActorID, k.KID)] = k
}

// Invalidate drops every cached key for actorID, including handle entries
// that resolved to it.
func (r *Resolver) Invalidate(actorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, k := range r.cache {
		if k.ActorID == actorID {
			delete(r.cache, key)
		}
	}
}

// Reset empties the cache.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]*ActorKey)
	r.mu.Unlock()
}

// Stats returns counters since creation.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	entries := len(r.cache)
	r.mu.RUnlock()
	return Stats{
		Hits:     r.hits.Load(),
		Lookups:  r.lookups.Load(),
		NotFound: r.notFound.Load(),
		Entries:  entries,
	}
}
