// Package vmmanager owns the per-tenant isolate lifecycle for a single
// worker (spec §4.6). It is deliberately unlocked: a Manager is only ever
// touched from its owning worker's goroutine, so concurrent creation is
// serialized by in-process broadcast rather than a mutex.
package vmmanager

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// state tags a tenant's VM slot: either a built isolate, or an in-flight
// creation that waiters can subscribe to.
type slotState int

const (
	stateCreated slotState = iota
	stateCreating
)

type slot struct {
	state  slotState
	iso    *isolate.Isolate
	notify chan struct{} // closed when creation completes (success or failure)
}

// Manager tracks one tenant->isolate map for a single worker.
type Manager struct {
	cfg         isolate.Config
	slots       map[tenant.ID]*slot
	brokenTotal *prometheus.CounterVec
}

// New creates a Manager using the given isolate resource budget for every
// tenant it constructs. brokenTotal is optional; pass nil to disable the
// metric.
func New(cfg isolate.Config, brokenTotal *prometheus.CounterVec) *Manager {
	return &Manager{cfg: cfg, slots: make(map[tenant.ID]*slot), brokenTotal: brokenTotal}
}

// GetOrCreate returns the tenant's isolate, building one if none exists yet.
// Per spec §4.6, at most one construction is ever in flight per tenant;
// since Manager is single-threaded-per-worker, "waiters" here just means
// re-entrant calls from within the same cooperative build (a Creating slot
// should not be observable by a second call), but the notify channel is
// kept to preserve the documented state machine and to support a future
// multi-goroutine dispatcher without a design change.
func (m *Manager) GetOrCreate(t tenant.ID) (*isolate.Isolate, error) {
	if s, ok := m.slots[t]; ok {
		switch s.state {
		case stateCreated:
			if s.iso.Broken() {
				delete(m.slots, t)
				return m.GetOrCreate(t)
			}
			return s.iso, nil
		case stateCreating:
			<-s.notify
			if s2, ok := m.slots[t]; ok && s2.state == stateCreated {
				return s2.iso, nil
			}
			delete(m.slots, t)
			return m.GetOrCreate(t)
		}
	}

	guard := &slot{state: stateCreating, notify: make(chan struct{})}
	m.slots[t] = guard

	iso, err := isolate.New(t, m.cfg, m.brokenTotal)
	if err != nil {
		delete(m.slots, t)
		close(guard.notify)
		return nil, fmt.Errorf("vmmanager: building isolate for %s: %w", t, err)
	}

	m.slots[t] = &slot{state: stateCreated, iso: iso}
	close(guard.notify)
	return iso, nil
}

// DropTenant marks a tenant's isolate broken and removes it from the
// manager; the next dispatch lazily rebuilds it (spec §4.8).
func (m *Manager) DropTenant(t tenant.ID) {
	if s, ok := m.slots[t]; ok && s.state == stateCreated {
		s.iso.Drop()
	}
	delete(m.slots, t)
}

// Get returns the tenant's isolate without creating one, refusing with
// VmBroken if the isolate exists but is broken.
func (m *Manager) Get(t tenant.ID) (*isolate.Isolate, bool, error) {
	s, ok := m.slots[t]
	if !ok || s.state != stateCreated {
		return nil, false, nil
	}
	if s.iso.Broken() {
		return nil, true, &rterr.VmBroken{Tenant: t.String()}
	}
	return s.iso, true, nil
}

// Len reports the number of tenants this manager currently tracks, used for
// telemetry (active VM count per worker).
func (m *Manager) Len() int { return len(m.slots) }

// TenantSnapshot is one tenant's point-in-time VM telemetry (spec §6).
type TenantSnapshot struct {
	Tenant           tenant.ID
	UsedMemoryBytes  int64
	MemoryLimitBytes int64
	SubIsolateCount  int
	Broken           bool
}

// Snapshot returns telemetry for every tenant currently tracked. Like every
// other Manager method, this must only be called from the owning worker's
// goroutine: the slot map has no lock of its own.
func (m *Manager) Snapshot() []TenantSnapshot {
	out := make([]TenantSnapshot, 0, len(m.slots))
	for t, s := range m.slots {
		if s.state != stateCreated {
			continue
		}
		out = append(out, TenantSnapshot{
			Tenant:           t,
			UsedMemoryBytes:  s.iso.MemoryUsedBytes(),
			MemoryLimitBytes: m.cfg.MemoryLimitBytes,
			SubIsolateCount:  s.iso.SubIsolateCount(),
			Broken:           s.iso.Broken(),
		})
	}
	return out
}
