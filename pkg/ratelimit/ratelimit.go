// Package ratelimit implements the per-tenant, per-capability token-bucket
// registry described in spec §4.1: each capability taxonomy (discord, kv,
// object_storage, http, runtime) has a global bucket plus optional
// per-action buckets, checked in order on every capability call, and every
// tenant gets its own independent set of buckets per taxonomy.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Quota is a (burst, period) pair: burst tokens are available up front and
// refill once per period.
type Quota struct {
	Burst  int
	Period time.Duration
}

// validate enforces the construct-time invariants from spec §4.1.
func (q Quota) validate(name string) error {
	if q.Burst <= 0 {
		return fmt.Errorf("ratelimit: bucket %q: burst must be > 0", name)
	}
	if q.Period <= 0 {
		return fmt.Errorf("ratelimit: bucket %q: period must be > 0", name)
	}
	return nil
}

func (q Quota) limiter() *rate.Limiter {
	// burst tokens refill over Period, so the steady-state rate is burst/period.
	r := rate.Limit(float64(q.Burst) / q.Period.Seconds())
	return rate.NewLimiter(r, q.Burst)
}

// Taxonomy describes one capability category's bucket layout: a global
// bucket, optional per-action buckets, and a list of actions that should
// bypass the global bucket entirely.
type Taxonomy struct {
	Name          string
	Global        Quota
	PerAction     map[string]Quota
	GlobalIgnore  map[string]struct{}
}

// bucketSet holds the live limiters for one taxonomy, scoped to one tenant.
type bucketSet struct {
	global    *rate.Limiter
	perAction map[string]*rate.Limiter
	ignore    map[string]struct{}
}

// Registry holds every taxonomy's buckets, keyed per tenant: each tenant
// gets its own independent bucketSet per taxonomy, built lazily on first
// use, so one tenant hammering a capability never drains another tenant's
// quota (spec §2, §8/§9's isolation invariant). A single Registry is built
// once per process and shared across every worker; the taxonomy
// definitions it holds are read-only templates cloned into each tenant's
// own limiters.
type Registry struct {
	mu         sync.Mutex
	taxonomies []Taxonomy
	perTenant  map[tenant.ID]map[string]*bucketSet
	denied     *prometheus.CounterVec // labels: taxonomy, bucket; optional
}

// NewRegistry constructs a Registry from a set of taxonomy definitions,
// returning a construct-time error if any quota is invalid.
func NewRegistry(taxonomies []Taxonomy) (*Registry, error) {
	return NewRegistryWithMetric(taxonomies, nil)
}

// NewRegistryWithMetric is NewRegistry plus a denied-call counter; pass nil
// to disable the metric.
func NewRegistryWithMetric(taxonomies []Taxonomy, denied *prometheus.CounterVec) (*Registry, error) {
	for _, tx := range taxonomies {
		if err := tx.Global.validate(tx.Name + ":global"); err != nil {
			return nil, err
		}
		for action, q := range tx.PerAction {
			if err := q.validate(tx.Name + ":" + action); err != nil {
				return nil, err
			}
		}
	}

	return &Registry{
		taxonomies: taxonomies,
		perTenant:  make(map[tenant.ID]map[string]*bucketSet),
		denied:     denied,
	}, nil
}

// bucketSetLocked returns t's bucketSet for taxonomy, building it (and t's
// per-taxonomy map, if this is t's first call) from the matching taxonomy
// definition on first use. Must be called with r.mu held.
func (r *Registry) bucketSetLocked(t tenant.ID, taxonomy string) (*bucketSet, bool) {
	sets, ok := r.perTenant[t]
	if !ok {
		sets = make(map[string]*bucketSet, len(r.taxonomies))
		r.perTenant[t] = sets
	}
	if bs, ok := sets[taxonomy]; ok {
		return bs, true
	}
	for _, tx := range r.taxonomies {
		if tx.Name != taxonomy {
			continue
		}
		bs := &bucketSet{
			global:    tx.Global.limiter(),
			perAction: make(map[string]*rate.Limiter, len(tx.PerAction)),
			ignore:    tx.GlobalIgnore,
		}
		for action, q := range tx.PerAction {
			bs.perAction[action] = q.limiter()
		}
		sets[taxonomy] = bs
		return bs, true
	}
	return nil, false
}

// Check consumes one token from t's taxonomy-global bucket (unless bucket
// is global-ignored) and one token from t's matching per-action bucket, if
// any. It returns a *rterr.RateLimited on the first denial, naming the
// bucket that denied and how long until a token would be available.
func (r *Registry) Check(t tenant.ID, taxonomy, bucket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bs, ok := r.bucketSetLocked(t, taxonomy)
	if !ok {
		// Unknown taxonomies impose no limit; the capability mediator is
		// responsible for rejecting unknown capability categories.
		return nil
	}

	if _, ignored := bs.ignore[bucket]; !ignored {
		if wait, ok := reserve(bs.global); !ok {
			r.recordDenied(taxonomy, "global")
			return &rterr.RateLimited{Bucket: taxonomy, Wait: wait}
		}
	}

	if lim, ok := bs.perAction[bucket]; ok {
		if wait, ok := reserve(lim); !ok {
			r.recordDenied(taxonomy, bucket)
			return &rterr.RateLimited{Bucket: taxonomy + ":" + bucket, Wait: wait}
		}
	}

	return nil
}

func (r *Registry) recordDenied(taxonomy, bucket string) {
	if r.denied != nil {
		r.denied.WithLabelValues(taxonomy, bucket).Inc()
	}
}

// reserve attempts to take one token now. On success it returns (0, true).
// On denial it returns the wait duration until a token would next be
// available and does not consume a token (the reservation is cancelled).
func reserve(lim *rate.Limiter) (time.Duration, bool) {
	res := lim.Reserve()
	if !res.OK() {
		return 0, false
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return delay, false
	}
	return 0, true
}
