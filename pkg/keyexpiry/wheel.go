// Package keyexpiry implements the hierarchical timer wheel that turns
// persisted KV expiry rows into dispatched events (spec §4.11).
package keyexpiry

import (
	"container/list"
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

// FiredChannel is the Redis pub/sub channel a Wheel publishes Fired entries
// to, for the other processes in a multi-replica deployment that don't run
// this tenant's wheel themselves (spec §4.11 assumes one wheel per process;
// a horizontally scaled deployment still needs every replica's in-process
// subscribers to learn about an expiry the replica running the wheel
// observed). Mirrors escalation.Engine's "nightowl:alert:escalated"
// pattern: publish is best-effort and never blocks firing.
const FiredChannel = "scriptrt:keyexpiry:fired"

// MaxDelay is the wheel's hard ceiling: (1<<36)-1 milliseconds, the classic
// hierarchical-timer-wheel bound (spec §4.11).
const MaxDelay = time.Duration((int64(1)<<36)-1) * time.Millisecond

const (
	levelSlots = 64
	numLevels  = 5
)

// Entry is a single persisted expiry row (spec §3: "Key expiry entry").
type Entry struct {
	ID        uuid.UUID
	Tenant    tenant.ID
	Key       string
	Scopes    []string
	ExpiresAt time.Time
}

// Fired is delivered to the wheel's subscriber when an entry's expiry is
// reached.
type Fired struct {
	Tenant tenant.ID
	Entry  Entry
}

type node struct {
	entry       Entry
	remainingMs int64 // milliseconds left to live at time of placement, recomputed on cascade
}

// level is one ring of the hierarchical wheel: levelSlots buckets, each
// covering tickMs * levelSlots^level... milliseconds of range depending on
// its position.
type level struct {
	buckets []*list.List
	cursor  int
}

func newLevel() *level {
	l := &level{buckets: make([]*list.List, levelSlots)}
	for i := range l.buckets {
		l.buckets[i] = list.New()
	}
	return l
}

// Wheel is a hierarchical timer wheel over (tenant, expiry-entry) pairs.
type Wheel struct {
	tickMs int64
	levels [numLevels]*level

	mu         sync.Mutex
	subscriber chan Fired
	pending    int

	store Store
	rdb   *redis.Client // optional; enables cross-process fan-out over FiredChannel

	firedTotal   *prometheus.CounterVec // labels: outcome; optional
	pendingGauge prometheus.Gauge       // optional
}

// Store is the durable backing for persisted expiry entries; the keyexpiry
// package never owns storage, matching spec §6's KV table ownership.
type Store interface {
	ListExpiring(nowOrEarlier bool) ([]Entry, error)
	Delete(id uuid.UUID) error
}

// New creates a Wheel with a 1-second base tick (spec gives no explicit
// tick resolution; 1s is the coarsest granularity that still meets the
// testable property in spec §8 of firing within 10s of an expiry). firedTotal
// and pendingGauge are optional; pass nil to disable either metric.
func New(store Store, firedTotal *prometheus.CounterVec, pendingGauge prometheus.Gauge) *Wheel {
	return NewWithRedis(store, firedTotal, pendingGauge, nil)
}

// NewWithRedis is New plus a Redis client that Fired entries are published
// to on FiredChannel, for sibling processes in a multi-replica deployment
// (see FiredChannel). rdb may be nil to disable cross-process fan-out.
func NewWithRedis(store Store, firedTotal *prometheus.CounterVec, pendingGauge prometheus.Gauge, rdb *redis.Client) *Wheel {
	w := &Wheel{tickMs: 1000, store: store, firedTotal: firedTotal, pendingGauge: pendingGauge, rdb: rdb}
	for i := range w.levels {
		w.levels[i] = newLevel()
	}
	return w
}

// Subscribe attaches the wheel's single allowed subscriber (spec §4.11: "at
// most one subscriber may be attached at a time").
func (w *Wheel) Subscribe() (<-chan Fired, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subscriber != nil {
		return nil, false
	}
	w.subscriber = make(chan Fired, 64)
	return w.subscriber, true
}

// Insert schedules an entry, clamping its remaining life to MaxDelay.
func (w *Wheel) Insert(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.insertLocked(e)
	w.pending++
	w.setPendingGauge()
}

func (w *Wheel) setPendingGauge() {
	if w.pendingGauge != nil {
		w.pendingGauge.Set(float64(w.pending))
	}
}

func (w *Wheel) insertLocked(e Entry) {
	remaining := time.Until(e.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > MaxDelay {
		remaining = MaxDelay
	}
	w.place(node{entry: e, remainingMs: remaining.Milliseconds()}, 0)
}

// place puts a node into the lowest level whose range covers its remaining
// time, starting the search at startLevel (used when cascading).
func (w *Wheel) place(n node, startLevel int) {
	for i := startLevel; i < numLevels; i++ {
		lvl := w.levels[i]
		slotRange := w.tickMs
		for j := 0; j < i; j++ {
			slotRange *= levelSlots
		}
		maxRange := slotRange * levelSlots
		if n.remainingMs < maxRange || i == numLevels-1 {
			ticksAhead := n.remainingMs / slotRange
			if ticksAhead < 1 {
				// The cursor's own slot has already been drained this turn.
				ticksAhead = 1
			}
			if ticksAhead >= levelSlots {
				ticksAhead = levelSlots - 1
			}
			slot := (lvl.cursor + int(ticksAhead)) % levelSlots
			lvl.buckets[slot].PushBack(n)
			return
		}
	}
}

// Tick advances the wheel by one base tick. Entries whose expiry has been
// reached are delivered to the subscriber, published on FiredChannel and
// deleted from the store; entries still in the future (clock drift) are
// re-armed. Tick returns nothing.
func (w *Wheel) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.levels[0].cursor = (w.levels[0].cursor + 1) % levelSlots
	bucket := w.levels[0].buckets[w.levels[0].cursor]
	w.drainBucket(bucket)

	for i := 1; i < numLevels; i++ {
		if w.levels[i-1].cursor != 0 {
			break
		}
		w.levels[i].cursor = (w.levels[i].cursor + 1) % levelSlots
		cascaded := w.levels[i].buckets[w.levels[i].cursor]
		w.cascadeBucket(cascaded)
	}
}

// drainBucket fires every node in a level-0 bucket whose time has come.
func (w *Wheel) drainBucket(b *list.List) {
	for e := b.Front(); e != nil; {
		next := e.Next()
		n := e.Value.(node)
		w.fireOrRearm(n)
		b.Remove(e)
		e = next
	}
}

// cascadeBucket re-inserts nodes from a higher level's bucket into lower
// levels, recomputing their remaining time.
func (w *Wheel) cascadeBucket(b *list.List) {
	for e := b.Front(); e != nil; {
		next := e.Next()
		n := e.Value.(node)
		n.remainingMs = time.Until(n.entry.ExpiresAt).Milliseconds()
		if n.remainingMs <= 0 {
			w.fireOrRearm(n)
		} else {
			w.place(n, 0)
		}
		b.Remove(e)
		e = next
	}
}

func (w *Wheel) fireOrRearm(n node) {
	if time.Now().Before(n.entry.ExpiresAt) {
		w.insertLocked(n.entry)
		return
	}
	w.pending--
	w.setPendingGauge()

	fired := Fired{Tenant: n.entry.Tenant, Entry: n.entry}

	outcome := "dropped"
	if w.subscriber != nil {
		select {
		case w.subscriber <- fired:
			outcome = "delivered"
		default:
		}
	}
	if w.firedTotal != nil {
		w.firedTotal.WithLabelValues(outcome).Inc()
	}
	w.publishRemote(fired)
	if w.store != nil {
		_ = w.store.Delete(n.entry.ID)
	}
}

// publishRemote best-effort publishes a fired entry to FiredChannel so
// sibling processes' RemoteListeners learn about it. It never blocks firing
// on network I/O beyond the client's own write timeout, and a publish
// failure is silently dropped, matching store.Delete's own best-effort
// cleanup just below it.
func (w *Wheel) publishRemote(f Fired) {
	if w.rdb == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = w.rdb.Publish(context.Background(), FiredChannel, data).Err()
}

// Run drives the wheel's ticker until stop is closed. It is expected to run in
// its own goroutine, one per process (spec §4.11 implies a single wheel).
func (w *Wheel) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(w.tickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Repopulate rebuilds the wheel from every persisted entry whose
// expires_at is non-null, randomizing a 5-10s fan-out delay for entries
// already past due to avoid a thundering herd (spec §4.11).
func (w *Wheel) Repopulate() error {
	entries, err := w.store.ListExpiring(true)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, e := range entries {
		if !e.ExpiresAt.After(now) {
			delay := time.Duration(5000+rand.Intn(5000)) * time.Millisecond
			e.ExpiresAt = now.Add(delay)
		}
		w.Insert(e)
	}
	return nil
}
