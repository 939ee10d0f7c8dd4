// Package rterr defines the typed error kinds that cross the scripting
// runtime's core boundary (spec §7). Callers use errors.As to recover the
// concrete kind; every kind also satisfies plain error formatting so logging
// call sites need no special casing.
package rterr

import (
	"fmt"
	"time"
)

// CapDenied is returned when a script attempts a host capability its
// template's allowed_caps does not grant.
type CapDenied struct {
	Category string
	Action   string
	Object   string
}

func (e *CapDenied) Error() string {
	return fmt.Sprintf("capability denied: %s:%s:%s", e.Category, e.Action, e.Object)
}

// RateLimited is returned when a capability call exhausts its token bucket.
type RateLimited struct {
	Bucket string
	Wait   time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited on bucket %q, wait %s", e.Bucket, e.Wait)
}

// ScriptError wraps an error raised from inside the VM (a Lua error or a
// value-conversion failure), captured and serialized as a string.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return e.Message }

// VmBroken indicates the tenant's isolate is unusable; the next dispatch
// will rebuild it from scratch.
type VmBroken struct {
	Tenant string
}

func (e *VmBroken) Error() string { return fmt.Sprintf("vm broken for tenant %s", e.Tenant) }

// Timeout indicates a dispatch exceeded its overall wait budget.
type Timeout struct {
	After time.Duration
}

func (e *Timeout) Error() string { return fmt.Sprintf("dispatch timed out after %s", e.After) }

// ConstraintViolated covers capability-provider input constraints: key too
// long, value too big, scopes empty, and similar.
type ConstraintViolated struct {
	Kind   string
	Detail string
}

func (e *ConstraintViolated) Error() string {
	return fmt.Sprintf("constraint violated (%s): %s", e.Kind, e.Detail)
}

// NotFound covers lookups that found nothing.
type NotFound struct {
	What string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s", e.What) }

// Conflict covers writes that collide with an existing record.
type Conflict struct {
	What string
}

func (e *Conflict) Error() string { return fmt.Sprintf("conflict: %s", e.What) }

// TransportError wraps a failure in the master<->worker RPC transport.
type TransportError struct {
	Detail string
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %s", e.Detail) }
