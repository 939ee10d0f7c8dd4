// Package tenantstate persists the free-form durable state blob each tenant
// keeps alongside its templates — the subscribed event list and an
// arbitrary JSON document scripts can read back across restarts
// (spec §6: tenant_state(owner_id, owner_type, events[], data(json))).
package tenantstate

import (
	"time"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

// State is one tenant's durable state record.
type State struct {
	Tenant    tenant.ID
	Events    []string
	Data      map[string]any
	UpdatedAt time.Time
}
