// Package worker implements spec §4.8: one worker owns a VM manager, a
// dispatcher, and a view of the template cache, and exposes the small
// message surface the worker thread pool routes to it.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/scriptrt/pkg/dispatcher"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
	"github.com/wisbric/scriptrt/pkg/vmmanager"
)

// Metrics bundles the optional Prometheus collectors a Worker's dispatcher
// reports into; a nil Metrics (or nil field) disables that metric.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	VMBrokenTotal    *prometheus.CounterVec
	CapDeniedTotal   *prometheus.CounterVec
}

// ErrorSink delivers a formatted error summary to a template's error
// channel, or to a process-wide default if the channel is missing or not
// owned by the tenant (spec §4.7). The chat-platform client that backs
// this is a collaborator (spec §6), not part of the core, so Worker only
// depends on this narrow interface.
type ErrorSink interface {
	SendError(ctx context.Context, t tenant.ID, channel, templateName, errText string)
}

// Worker owns one tenant partition's runtime: its VM manager, dispatcher,
// and the cache view templates are read from.
type Worker struct {
	ID        int
	vms       *vmmanager.Manager
	dispatch  *dispatcher.Dispatcher
	cache     *template.Cache
	errorSink ErrorSink
	logger    *slog.Logger
}

// New creates a Worker with the given isolate resource budget and overall
// dispatch wait time. Each of providers is wired into every sub-isolate
// the worker's dispatcher creates. metrics may be nil.
func New(id int, cfg isolate.Config, dispatchWait time.Duration, cache *template.Cache, errorSink ErrorSink, logger *slog.Logger, metrics *Metrics, providers ...dispatcher.ProviderFactory) *Worker {
	var brokenTotal *prometheus.CounterVec
	var dispatchMetrics *dispatcher.Metrics
	if metrics != nil {
		brokenTotal = metrics.VMBrokenTotal
		dispatchMetrics = &dispatcher.Metrics{
			DispatchTotal:    metrics.DispatchTotal,
			DispatchDuration: metrics.DispatchDuration,
			CapDeniedTotal:   metrics.CapDeniedTotal,
		}
	}
	vms := vmmanager.New(cfg, brokenTotal)
	d := dispatcher.New(vms, dispatchWait, dispatchMetrics)
	for _, p := range providers {
		d.RegisterProvider(p)
	}
	return &Worker{
		ID:        id,
		vms:       vms,
		dispatch:  d,
		cache:     cache,
		errorSink: errorSink,
		logger:    logger,
	}
}

// DispatchEvent routes an event to every template in the tenant's cache
// that matches it, mirroring failed dispatches to their template's
// error_channel (spec §4.7, §4.8).
func (w *Worker) DispatchEvent(ctx context.Context, t tenant.ID, e dispatcher.Event) ([]dispatcher.Result, error) {
	templates, _ := w.cache.Get(t)
	return w.dispatchMatching(ctx, t, e, dispatcher.Matching(templates, e))
}

// DispatchScopedEvent is DispatchEvent restricted to templates whose
// allowed_caps intersect scopes (spec §6's DispatchScopedEvent op), used by
// a collaborator that only wants delivery to templates touching a known set
// of capability categories (e.g. re-delivering a single integration's
// backlog without waking every template on the tenant).
func (w *Worker) DispatchScopedEvent(ctx context.Context, t tenant.ID, e dispatcher.Event, scopes []string) ([]dispatcher.Result, error) {
	templates, _ := w.cache.Get(t)
	return w.dispatchMatching(ctx, t, e, dispatcher.MatchingScoped(templates, e, scopes))
}

func (w *Worker) dispatchMatching(ctx context.Context, t tenant.ID, e dispatcher.Event, matching []*template.Template) ([]dispatcher.Result, error) {
	results, err := w.dispatch.Dispatch(ctx, t, e, matching)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.Err == nil {
			continue
		}
		var tpl *template.Template
		for _, candidate := range matching {
			if candidate.Name == r.TemplateName {
				tpl = candidate
				break
			}
		}
		if tpl == nil || w.errorSink == nil {
			continue
		}
		w.errorSink.SendError(ctx, t, tpl.ErrorChannel, tpl.Name, r.Err.Error())
	}
	return results, nil
}

// RunScript runs one explicitly named template without event filtering.
func (w *Worker) RunScript(ctx context.Context, t tenant.ID, name string, arg valuetree.Value) (valuetree.Value, error) {
	templates, _ := w.cache.Get(t)
	for _, tpl := range templates {
		if tpl.Name == name {
			return w.dispatch.DispatchInline(ctx, t, tpl, arg)
		}
	}
	return valuetree.Value{}, fmt.Errorf("worker: template %q not found for tenant %s", name, t)
}

// DropTenant marks a tenant's isolate broken and removes it; the next
// dispatch lazily rebuilds it.
func (w *Worker) DropTenant(t tenant.ID) {
	w.vms.DropTenant(t)
}

// Kill releases every isolate this worker owns.
func (w *Worker) Kill() {
	for _, s := range w.vms.Snapshot() {
		w.vms.DropTenant(s.Tenant)
	}
}

// ActiveVMs reports the number of live isolates this worker currently owns,
// for telemetry (spec §6: active/max threads per worker).
func (w *Worker) ActiveVMs() int { return w.vms.Len() }

// Snapshot returns per-tenant VM telemetry for every isolate this worker
// currently owns (spec §6). Like every vmmanager access, this must be
// called from the worker's own goroutine; workerpool routes it through the
// message channel to enforce that.
func (w *Worker) Snapshot() []vmmanager.TenantSnapshot {
	return w.vms.Snapshot()
}
