// Package tenant defines the routing key used throughout the scripting
// runtime: a tagged union identifying the owner of templates, KV records,
// and isolates (spec §3).
package tenant

import (
	"context"
	"fmt"
)

// Kind discriminates the tenant ID union. Guild is the only variant today;
// the type is kept extensible (e.g. a future User or Channel variant) by
// adding a Kind constant and a corresponding field rather than changing the
// wire shape of existing IDs.
type Kind uint8

const (
	KindGuild Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindGuild:
		return "guild"
	default:
		return "unknown"
	}
}

// ID is the tenant routing key. It is comparable and hashable so it can be
// used directly as a map key in the template cache, VM manager, and worker
// filter.
type ID struct {
	Kind    Kind
	GuildID uint64
}

// Guild constructs a guild-variant tenant ID.
func Guild(guildID uint64) ID {
	return ID{Kind: KindGuild, GuildID: guildID}
}

// OwnerType returns the persistence-layer discriminator for this ID, used
// as the owner_type column value in the attached_templates / tenant_kv /
// tenant_state tables (spec §6).
func (id ID) OwnerType() string {
	return id.Kind.String()
}

// OwnerID returns the persistence-layer owner_id value as a string, since
// the owner_id column is polymorphic across tenant kinds.
func (id ID) OwnerID() string {
	switch id.Kind {
	case KindGuild:
		return fmt.Sprintf("%d", id.GuildID)
	default:
		return ""
	}
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s", id.OwnerType(), id.OwnerID())
}

// ParseOwner rebuilds a tenant ID from the flat owner_type/owner_id
// columns used across the attached_templates, tenant_kv, and tenant_state
// tables. Only the guild variant exists today.
func ParseOwner(ownerType, ownerID string) (ID, error) {
	if ownerType != KindGuild.String() {
		return ID{}, fmt.Errorf("tenant: unknown owner_type %q", ownerType)
	}
	var guildID uint64
	if _, err := fmt.Sscanf(ownerID, "%d", &guildID); err != nil {
		return ID{}, fmt.Errorf("tenant: invalid owner_id %q: %w", ownerID, err)
	}
	return Guild(guildID), nil
}

// ModFilter deterministically maps a tenant ID to one of n worker slots
// (spec §4.9: "a worker filter maps tenant->worker-id deterministically,
// e.g. id mod N"). n must be > 0.
func ModFilter(id ID, n int) int {
	return int(id.GuildID % uint64(n))
}

type contextKey string

const idKey contextKey = "tenant_id"

// NewContext stores a tenant ID in the context.
func NewContext(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, idKey, id)
}

// FromContext extracts the tenant ID from the context. ok is false if no
// tenant has been set.
func FromContext(ctx context.Context) (ID, bool) {
	v, ok := ctx.Value(idKey).(ID)
	return v, ok
}
