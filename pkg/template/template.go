// Package template implements the per-tenant script bundle (spec §3) and
// the read-through cache view each worker holds over it (spec §4.3).
package template

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// EntryPoint is the virtual-filesystem path every template's content map
// must contain (spec §3 invariant).
const EntryPoint = "/init.luau"

// State is the lifecycle of an attached template.
type State string

const (
	StateActive   State = "active"
	StateDisabled State = "disabled"
)

// Template is an immutable bundle owned by a tenant. A mutation never edits
// a Template in place; the cache replaces it with a new value.
type Template struct {
	ID          uuid.UUID
	Tenant      tenant.ID
	Name        string
	Content     map[string]string // virtual filesystem: path -> source text
	Language    string
	AllowedCaps []capability.String
	Events      []string
	ErrorChannel string // empty if unset
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate enforces the construct-time invariants from spec §3.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template: name must not be empty")
	}
	if _, ok := t.Content[EntryPoint]; !ok {
		return fmt.Errorf("template %q: content missing entry point %s", t.Name, EntryPoint)
	}
	return nil
}

// MatchesEvent reports whether the template is registered for an event with
// the given name or base name (spec §4.7 event filter: "a template receives
// an event iff its events set contains the event's name or its base_name").
func (t *Template) MatchesEvent(name, baseName string) bool {
	for _, e := range t.Events {
		if e == name || (baseName != "" && e == baseName) {
			return true
		}
	}
	return false
}
