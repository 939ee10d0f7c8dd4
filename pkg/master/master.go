// Package master accepts external event producers and routes them to the
// worker that owns the target tenant (spec §4.10). In-process routing is a
// direct call onto the worker pool's channel; internal/transport fronts the
// same Master over WebSocket and HTTP/2 for a collaborator whose event
// producer runs in a separate process (spec §6).
package master

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/scriptrt/pkg/dispatcher"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
	"github.com/wisbric/scriptrt/pkg/workerpool"
)

// Master routes external events to their owning worker.
type Master struct {
	pool      *workerpool.Pool
	timeout   time.Duration
	templates *template.Service
}

// New creates a Master fronting the given worker pool. templates backs
// RegenerateCache; it may be nil if the caller never issues that RPC op.
func New(pool *workerpool.Pool, timeout time.Duration, templates *template.Service) *Master {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Master{pool: pool, timeout: timeout, templates: templates}
}

// DispatchEvent routes an event to its tenant's owning worker and waits for
// the aggregated fan-out result.
func (m *Master) DispatchEvent(ctx context.Context, t tenant.ID, e dispatcher.Event) ([]dispatcher.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	reply := make(chan workerpool.Reply, 1)
	m.pool.Send(t, workerpool.Message{Kind: workerpool.MsgDispatchEvent, Tenant: t, Event: e, Reply: reply})

	select {
	case r := <-reply:
		return r.DispatchResults, r.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("master: dispatching event %q to tenant %s: %w", e.Name, t, ctx.Err())
	}
}

// DispatchScopedEvent is DispatchEvent restricted to templates whose
// allowed_caps intersect scopes (spec §6's DispatchScopedEvent op).
func (m *Master) DispatchScopedEvent(ctx context.Context, t tenant.ID, e dispatcher.Event, scopes []string) ([]dispatcher.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	reply := make(chan workerpool.Reply, 1)
	m.pool.Send(t, workerpool.Message{Kind: workerpool.MsgDispatchScopedEvent, Tenant: t, Event: e, Scopes: scopes, Reply: reply})

	select {
	case r := <-reply:
		return r.DispatchResults, r.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("master: dispatching scoped event %q to tenant %s: %w", e.Name, t, ctx.Err())
	}
}

// RegenerateCache forces an immediate reload of one tenant's template set
// (spec §6's RegenerateCache op) from the store into the cache. It
// requires Master to have been built with a non-nil
// *template.Service.
func (m *Master) RegenerateCache(ctx context.Context, t tenant.ID) error {
	if m.templates == nil {
		return fmt.Errorf("master: RegenerateCache: no template service configured")
	}
	return m.templates.Sync(ctx, t)
}

// IsReady reports whether the master can currently route work: the worker
// pool exists and has at least one worker. A collaborator's health probe
// calls this over the RPC IsReady op (spec §6); unlike the teacher's
// HandleStatus, it has no database or broker of its own to ping, since all
// of that liveness lives inside the workers it fronts.
func (m *Master) IsReady() bool {
	return m.pool != nil && m.pool.N() > 0
}

// RunScript routes an explicit script invocation to its tenant's owning
// worker (used by the jobserver collaborator and admin tooling).
func (m *Master) RunScript(ctx context.Context, t tenant.ID, name string, arg valuetree.Value) (valuetree.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	reply := make(chan workerpool.Reply, 1)
	msg := workerpool.Message{Kind: workerpool.MsgRunScript, Tenant: t, Reply: reply}
	msg.Script.Name = name
	msg.Script.Arg = arg
	m.pool.Send(t, msg)

	select {
	case r := <-reply:
		return r.ScriptResult, r.Err
	case <-ctx.Done():
		return valuetree.Value{}, fmt.Errorf("master: running script %q for tenant %s: %w", name, t, ctx.Err())
	}
}

// DropTenant asks the owning worker to drop a tenant's isolate.
func (m *Master) DropTenant(t tenant.ID) {
	m.pool.Send(t, workerpool.Message{Kind: workerpool.MsgDropTenant, Tenant: t})
}
