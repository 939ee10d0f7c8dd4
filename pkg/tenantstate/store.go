package tenantstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Store provides database operations against the tenant_state table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns a tenant's state record, or the zero record with no error if
// none exists yet — an absent row is a valid "never configured" state.
func (s *Store) Get(ctx context.Context, t tenant.ID) (State, error) {
	query := `SELECT events, data, last_updated_at FROM tenant_state WHERE owner_type = $1 AND owner_id = $2`
	var events []string
	var data []byte
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, query, t.OwnerType(), t.OwnerID()).Scan(&events, &data, &updatedAt)
	if err == pgx.ErrNoRows {
		return State{Tenant: t}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("fetching tenant state: %w", err)
	}

	out := State{Tenant: t, Events: events, UpdatedAt: updatedAt}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out.Data); err != nil {
			return State{}, fmt.Errorf("decoding tenant state data: %w", err)
		}
	}
	return out, nil
}

// Put replaces a tenant's state record wholesale.
func (s *Store) Put(ctx context.Context, t tenant.ID, events []string, data map[string]any) (State, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return State{}, fmt.Errorf("encoding tenant state data: %w", err)
	}

	query := `INSERT INTO tenant_state (owner_type, owner_id, events, data)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (owner_type, owner_id) DO UPDATE
	SET events = $3, data = $4, last_updated_at = now()
	RETURNING last_updated_at`

	var updatedAt time.Time
	if err := s.pool.QueryRow(ctx, query, t.OwnerType(), t.OwnerID(), events, raw).Scan(&updatedAt); err != nil {
		return State{}, fmt.Errorf("upserting tenant state: %w", err)
	}
	return State{Tenant: t, Events: events, Data: data, UpdatedAt: updatedAt}, nil
}
