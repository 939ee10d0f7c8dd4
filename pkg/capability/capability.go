// Package capability implements the hierarchical capability-string
// authorization rules a template's allowed_caps list is checked against
// before any host call (spec §4.2).
package capability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/scriptrt/pkg/rterr"
)

// String is a hierarchical "category:action:object" capability pattern.
// Segments may be "*" to match any value in that position.
type String string

// Request describes one host operation a script is attempting.
type Request struct {
	Category string
	Action   string
	Object   string
}

// candidates returns the set of allowed_caps patterns that would authorize
// this request, per spec §4.2: {cat:*, cat:action:*, cat:action:key, cat:*:key}.
func (r Request) candidates() [4]String {
	return [4]String{
		String(r.Category + ":*"),
		String(r.Category + ":" + r.Action + ":*"),
		String(r.Category + ":" + r.Action + ":" + r.Object),
		String(r.Category + ":*:" + r.Object),
	}
}

// Mediator checks a request against a template's allowed_caps list.
type Mediator struct {
	allowed map[String]struct{}
	denied  *prometheus.CounterVec // labels: category; optional
}

// NewMediator builds a Mediator from a template's allowed_caps list.
func NewMediator(allowedCaps []String) *Mediator {
	return NewMediatorWithMetric(allowedCaps, nil)
}

// NewMediatorWithMetric is NewMediator plus a denied-call counter; pass nil
// to disable the metric.
func NewMediatorWithMetric(allowedCaps []String, denied *prometheus.CounterVec) *Mediator {
	m := &Mediator{allowed: make(map[String]struct{}, len(allowedCaps)), denied: denied}
	for _, c := range allowedCaps {
		m.allowed[c] = struct{}{}
	}
	return m
}

// Check authorizes a request, returning a *rterr.CapDenied on failure.
func (m *Mediator) Check(req Request) error {
	for _, candidate := range req.candidates() {
		if _, ok := m.allowed[candidate]; ok {
			return nil
		}
	}
	if m.denied != nil {
		m.denied.WithLabelValues(req.Category).Inc()
	}
	return &rterr.CapDenied{Category: req.Category, Action: req.Action, Object: req.Object}
}

// ParseCap splits a "cat:action:object" capability string into a Request.
// Missing trailing segments are treated as "*".
func ParseCap(s string) Request {
	parts := strings.SplitN(s, ":", 3)
	req := Request{Category: "*", Action: "*", Object: "*"}
	if len(parts) > 0 {
		req.Category = parts[0]
	}
	if len(parts) > 1 {
		req.Action = parts[1]
	}
	if len(parts) > 2 {
		req.Object = parts[2]
	}
	return req
}
