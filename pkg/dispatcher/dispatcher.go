// Package dispatcher fans an event out to the templates it matches and
// aggregates their results under an overall wait budget (spec §4.7).
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// ProviderFactory wires one capability provider's host functions into a
// freshly created sub-isolate. mediator restricts the provider's calls to
// whatever the template's allowed_caps grants.
type ProviderFactory func(sub *isolate.SubIsolate, t tenant.ID, mediator *capability.Mediator)

// Event is the descriptor fanned out to matching templates.
type Event struct {
	Name     string
	BaseName string
	Data     valuetree.Value
	Author   string
	Metadata map[string]string
}

// toValue converts the event descriptor into the VM-native value once, per
// spec §4.7 step 2, so every template receives an identical argument.
func (e Event) toValue() valuetree.Value {
	meta := make(map[string]valuetree.Value, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = valuetree.Text(v)
	}
	return valuetree.Map(map[string]valuetree.Value{
		"name":     valuetree.Text(e.Name),
		"data":     e.Data,
		"author":   valuetree.Text(e.Author),
		"metadata": valuetree.Map(meta),
	})
}

// Result is one template's outcome from a fan-out, in completion order.
type Result struct {
	TemplateName string
	Value        valuetree.Value
	Err          error
}

// VMSource resolves a tenant's isolate, used instead of a direct
// *vmmanager.Manager dependency so dispatcher stays free of an import
// cycle and is simple to fake in tests.
type VMSource interface {
	GetOrCreate(t tenant.ID) (*isolate.Isolate, error)
}

// Metrics bundles the optional Prometheus collectors a Dispatcher reports
// into; a nil Metrics (or nil field) disables that metric, mirroring the
// teacher's escalation.Engine pattern of injecting metrics rather than
// reaching for a package-global registry.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec   // labels: event, outcome
	DispatchDuration *prometheus.HistogramVec // labels: event
	CapDeniedTotal   *prometheus.CounterVec   // labels: category
}

// Dispatcher fans events out to matching templates and aggregates results.
type Dispatcher struct {
	vms       VMSource
	waitFor   time.Duration
	providers []ProviderFactory

	dispatchTotal    *prometheus.CounterVec   // labels: event, outcome
	dispatchDuration *prometheus.HistogramVec // labels: event
	capDeniedTotal   *prometheus.CounterVec   // labels: category
}

// New creates a Dispatcher with the given overall wait budget (default 10s
// per spec §5). metrics may be nil, or have nil fields, to disable any
// subset of its collectors.
func New(vms VMSource, waitFor time.Duration, metrics *Metrics) *Dispatcher {
	if waitFor <= 0 {
		waitFor = 10 * time.Second
	}
	d := &Dispatcher{vms: vms, waitFor: waitFor}
	if metrics != nil {
		d.dispatchTotal = metrics.DispatchTotal
		d.dispatchDuration = metrics.DispatchDuration
		d.capDeniedTotal = metrics.CapDeniedTotal
	}
	return d
}

// RegisterProvider adds a capability provider's wiring hook, run once per
// sub-isolate the first time it is created.
func (d *Dispatcher) RegisterProvider(p ProviderFactory) {
	d.providers = append(d.providers, p)
}

func (d *Dispatcher) wireSubIsolate(sub *isolate.SubIsolate, t tenant.ID, tpl *template.Template) {
	mediator := capability.NewMediatorWithMetric(tpl.AllowedCaps, d.capDeniedTotal)
	for _, p := range d.providers {
		p(sub, t, mediator)
	}
}

// Matching filters templates whose events set contains the event's name or
// base name (spec §4.7, §8).
func Matching(templates []*template.Template, e Event) []*template.Template {
	out := make([]*template.Template, 0, len(templates))
	for _, tpl := range templates {
		if tpl.MatchesEvent(e.Name, e.BaseName) {
			out = append(out, tpl)
		}
	}
	return out
}

// capCategory returns a capability string's leading "category" segment
// (e.g. "chat:post:*" -> "chat"), the granularity DispatchScopedEvent's
// scopes list is matched against.
func capCategory(c capability.String) string {
	cat, _, _ := strings.Cut(string(c), ":")
	return cat
}

// MatchingScoped narrows Matching's result to only templates that declare
// an allowed_caps entry whose category is one of scopes (spec §6's
// DispatchScopedEvent op). An empty scopes list matches everything
// Matching already matched, mirroring a collaborator that didn't restrict
// delivery at all.
func MatchingScoped(templates []*template.Template, e Event, scopes []string) []*template.Template {
	matched := Matching(templates, e)
	if len(scopes) == 0 {
		return matched
	}
	want := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		want[s] = struct{}{}
	}
	out := make([]*template.Template, 0, len(matched))
	for _, tpl := range matched {
		for _, c := range tpl.AllowedCaps {
			if _, ok := want[capCategory(c)]; ok {
				out = append(out, tpl)
				break
			}
		}
	}
	return out
}

// Dispatch fans e out to every template in templates, returning results in
// completion order. Late results (past the wait budget) are discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, t tenant.ID, e Event, templates []*template.Template) ([]Result, error) {
	start := time.Now()
	defer func() {
		if d.dispatchDuration != nil {
			d.dispatchDuration.WithLabelValues(e.Name).Observe(time.Since(start).Seconds())
		}
	}()

	iso, err := d.vms.GetOrCreate(t)
	if err != nil {
		return nil, err
	}
	if iso.Broken() {
		return nil, &rterr.VmBroken{Tenant: t.String()}
	}

	if len(templates) == 0 {
		return nil, nil
	}

	arg := e.toValue()

	ctx, cancel := context.WithTimeout(ctx, d.waitFor)
	defer cancel()

	type indexed struct {
		Result
		idx int
	}
	results := make(chan indexed, len(templates))

	// The tenant's VM is not safe for concurrent use, so the templates run
	// one after another on a single goroutine.
	go func() {
		for i, tpl := range templates {
			if ctx.Err() != nil {
				return
			}
			sub, created, err := iso.GetOrCreateSubIsolate(tpl.Name, tpl.Content)
			if err != nil {
				results <- indexed{Result{TemplateName: tpl.Name, Err: err}, i}
				continue
			}
			if created {
				d.wireSubIsolate(sub, t, tpl)
			}
			val, err := sub.Dispatch(ctx, arg)
			results <- indexed{Result{TemplateName: tpl.Name, Value: val, Err: err}, i}
		}
	}()

	out := make([]Result, 0, len(templates))
	for range templates {
		select {
		case r := <-results:
			out = append(out, r.Result)
			if d.dispatchTotal != nil {
				d.dispatchTotal.WithLabelValues(e.Name, outcomeLabel(r.Err)).Inc()
			}
		case <-ctx.Done():
			return out, nil
		}
	}
	return out, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DispatchInline runs a single named template without event filtering
// (spec §4.7's "dispatch-inline" variant).
func (d *Dispatcher) DispatchInline(ctx context.Context, t tenant.ID, tpl *template.Template, arg valuetree.Value) (valuetree.Value, error) {
	iso, err := d.vms.GetOrCreate(t)
	if err != nil {
		return valuetree.Value{}, err
	}
	sub, created, err := iso.GetOrCreateSubIsolate(tpl.Name, tpl.Content)
	if err != nil {
		return valuetree.Value{}, fmt.Errorf("dispatcher: creating sub-isolate for %q: %w", tpl.Name, err)
	}
	if created {
		d.wireSubIsolate(sub, t, tpl)
	}
	return sub.Dispatch(ctx, arg)
}
