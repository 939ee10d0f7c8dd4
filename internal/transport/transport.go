// Package transport implements the optional out-of-process RPC surface a
// master can front when its worker pool does not run in the same process
// (spec §6). Both variants carry the same JSON envelope: the WebSocket
// transport keeps a persistent connection per caller (wstransport.go), the
// HTTP/2 transport is a stateless JSON-over-h2c request/response surface
// (http2transport.go). Neither is required for the in-process deployment
// internal/app builds by default; they exist for a collaborator that wants
// to front a remote worker pool.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wisbric/scriptrt/pkg/dispatcher"
	"github.com/wisbric/scriptrt/pkg/master"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// Op names one of Master's operations.
type Op string

const (
	OpDispatchEvent       Op = "dispatch_event"
	OpDispatchScopedEvent Op = "dispatch_scoped_event"
	OpRunScript           Op = "run_script"
	OpDropTenant          Op = "drop_tenant"
	OpRegenerateCache     Op = "regenerate_cache"
	OpIsReady             Op = "is_ready"
)

// Request is the wire envelope for a single RPC call.
type Request struct {
	ID     string         `json:"id"`
	Op     Op             `json:"op"`
	Guild  uint64         `json:"guild"`
	Event  *EventPayload  `json:"event,omitempty"`
	Scopes []string       `json:"scopes,omitempty"` // OpDispatchScopedEvent only
	Script *ScriptPayload `json:"script,omitempty"`
}

// EventPayload carries dispatcher.Event's wire-safe fields.
type EventPayload struct {
	Name     string            `json:"name"`
	BaseName string            `json:"base_name,omitempty"`
	Data     valuetree.Value   `json:"data"`
	Author   string            `json:"author,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScriptPayload carries the arguments to Master.RunScript.
type ScriptPayload struct {
	Name string          `json:"name"`
	Arg  valuetree.Value `json:"arg"`
}

// ResultPayload mirrors dispatcher.Result over the wire; Err is flattened to
// a string since error values do not round-trip through JSON.
type ResultPayload struct {
	TemplateName string          `json:"template_name"`
	Value        valuetree.Value `json:"value"`
	Err          string          `json:"error,omitempty"`
}

// Response is the wire envelope returned for a Request of the same ID.
type Response struct {
	ID      string          `json:"id"`
	Results []ResultPayload `json:"results,omitempty"`
	Value   valuetree.Value `json:"value"`
	Ready   *bool           `json:"ready,omitempty"` // OpIsReady only
	Err     string          `json:"error,omitempty"`
}

// handle executes req against m and always returns a Response (never an
// error): RPC failures are carried in Response.Err so both transports can
// serialize a uniform reply.
func handle(ctx context.Context, m *master.Master, req Request) Response {
	t := tenant.Guild(req.Guild)

	switch req.Op {
	case OpDispatchEvent:
		if req.Event == nil {
			return errResponse(req.ID, fmt.Errorf("transport: %s requires an event payload", req.Op))
		}
		results, err := m.DispatchEvent(ctx, t, req.Event.toDispatcherEvent())
		if err != nil {
			return errResponse(req.ID, err)
		}
		return Response{ID: req.ID, Results: toResultPayloads(results)}

	case OpRunScript:
		if req.Script == nil {
			return errResponse(req.ID, fmt.Errorf("transport: %s requires a script payload", req.Op))
		}
		value, err := m.RunScript(ctx, t, req.Script.Name, req.Script.Arg)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return Response{ID: req.ID, Value: value}

	case OpDispatchScopedEvent:
		if req.Event == nil {
			return errResponse(req.ID, fmt.Errorf("transport: %s requires an event payload", req.Op))
		}
		results, err := m.DispatchScopedEvent(ctx, t, req.Event.toDispatcherEvent(), req.Scopes)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return Response{ID: req.ID, Results: toResultPayloads(results)}

	case OpDropTenant:
		m.DropTenant(t)
		return Response{ID: req.ID}

	case OpRegenerateCache:
		if err := m.RegenerateCache(ctx, t); err != nil {
			return errResponse(req.ID, err)
		}
		return Response{ID: req.ID}

	case OpIsReady:
		ready := m.IsReady()
		return Response{ID: req.ID, Ready: &ready}

	default:
		return errResponse(req.ID, fmt.Errorf("transport: unknown op %q", req.Op))
	}
}

func (p EventPayload) toDispatcherEvent() dispatcher.Event {
	return dispatcher.Event{
		Name:     p.Name,
		BaseName: p.BaseName,
		Data:     p.Data,
		Author:   p.Author,
		Metadata: p.Metadata,
	}
}

func toResultPayloads(results []dispatcher.Result) []ResultPayload {
	out := make([]ResultPayload, len(results))
	for i, r := range results {
		p := ResultPayload{TemplateName: r.TemplateName, Value: r.Value}
		if r.Err != nil {
			p.Err = r.Err.Error()
		}
		out[i] = p
	}
	return out
}

func errResponse(id string, err error) Response {
	return Response{ID: id, Err: err.Error()}
}

func decodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("transport: decoding request: %w", err)
	}
	return req, nil
}
