package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/scriptrt/pkg/keyexpiry"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// Store provides database operations for the tenant_kv table:
// tenant_kv(id, owner_type, owner_id, key, scopes[], value (json),
// created_at, last_updated_at, expires_at), unique on
// (owner_type, owner_id, key, scopes).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const kvColumns = `id, owner_type, owner_id, key, scopes, value, created_at, last_updated_at, expires_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r         Record
		ownerType string
		ownerID   string
		raw       []byte
	)
	err := row.Scan(&r.ID, &ownerType, &ownerID, &r.Key, &r.Scopes, &raw, &r.CreatedAt, &r.LastUpdatedAt, &r.ExpiresAt)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(raw, &r.Value); err != nil {
		return Record{}, fmt.Errorf("decoding kv record %q value: %w", r.Key, err)
	}
	r.Owner, err = tenant.ParseOwner(ownerType, ownerID)
	if err != nil {
		return Record{}, fmt.Errorf("decoding kv record %q owner: %w", r.Key, err)
	}
	return r, nil
}

// scopeKey turns a normalized scope slice into the column value used for
// lookups and the unique index (scopes are sorted and deduplicated before
// they ever reach the store, see NormalizeScopes).
func scopeKey(scopes []string) []string {
	if scopes == nil {
		return []string{}
	}
	return scopes
}

// Get returns a single KV record by tenant, key, and exact scope set.
// Returns pgx.ErrNoRows if absent.
func (s *Store) Get(ctx context.Context, t tenant.ID, key string, scopes []string) (Record, error) {
	query := `SELECT ` + kvColumns + ` FROM tenant_kv WHERE owner_type = $1 AND owner_id = $2 AND key = $3 AND scopes = $4`
	row := s.pool.QueryRow(ctx, query, t.OwnerType(), t.OwnerID(), key, scopeKey(scopes))
	return scanRecord(row)
}

// Put creates or replaces a KV record, keyed on (owner_type, owner_id, key,
// scopes).
func (s *Store) Put(ctx context.Context, t tenant.ID, key string, scopes []string, value valuetree.Value, expiresAt *time.Time) (Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("encoding kv record %q value: %w", key, err)
	}

	query := `INSERT INTO tenant_kv (owner_type, owner_id, key, scopes, value, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (owner_type, owner_id, key, scopes) DO UPDATE
	SET value = $5, expires_at = $6, last_updated_at = now()
	RETURNING ` + kvColumns

	row := s.pool.QueryRow(ctx, query, t.OwnerType(), t.OwnerID(), key, scopeKey(scopes), raw, expiresAt)
	r, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("upserting kv record %q: %w", key, err)
	}
	return r, nil
}

// Delete removes a KV record. Returns pgx.ErrNoRows if absent.
func (s *Store) Delete(ctx context.Context, t tenant.ID, key string, scopes []string) error {
	query := `DELETE FROM tenant_kv WHERE owner_type = $1 AND owner_id = $2 AND key = $3 AND scopes = $4`
	tag, err := s.pool.Exec(ctx, query, t.OwnerType(), t.OwnerID(), key, scopeKey(scopes))
	if err != nil {
		return fmt.Errorf("deleting kv record %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Search lists records for a tenant whose key matches a LIKE pattern. An
// empty pattern (or "%") short-circuits to "no filter".
func (s *Store) Search(ctx context.Context, t tenant.ID, pattern string) ([]Record, error) {
	if pattern == "" {
		pattern = "%"
	}
	query := `SELECT ` + kvColumns + ` FROM tenant_kv WHERE owner_type = $1 AND owner_id = $2 AND key LIKE $3 ORDER BY key ASC`
	rows, err := s.pool.Query(ctx, query, t.OwnerType(), t.OwnerID(), pattern)
	if err != nil {
		return nil, fmt.Errorf("searching kv records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning kv record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating kv record rows: %w", err)
	}
	return out, nil
}

// listExpiring returns every record with a non-null expires_at, optionally
// restricted to rows already past due.
func (s *Store) listExpiring(ctx context.Context, nowOrEarlier bool) ([]Record, error) {
	query := `SELECT ` + kvColumns + ` FROM tenant_kv WHERE expires_at IS NOT NULL`
	if nowOrEarlier {
		query += ` AND expires_at <= now()`
	}
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing expiring kv records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning expiring kv record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expiring kv record rows: %w", err)
	}
	return out, nil
}

// deleteByID removes a record by primary key, used once the key-expiry
// wheel has fired an entry.
func (s *Store) deleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tenant_kv WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting kv record %s: %w", id, err)
	}
	return nil
}

// ExpiryAdapter satisfies keyexpiry.Store against the tenant_kv table. The
// wheel's interface is context-free (it runs off its own ticker goroutine),
// so the adapter supplies a background context at the storage boundary.
type ExpiryAdapter struct {
	store *Store
}

// NewExpiryAdapter wraps a Store for use as a keyexpiry.Store.
func NewExpiryAdapter(store *Store) *ExpiryAdapter {
	return &ExpiryAdapter{store: store}
}

// ListExpiring implements keyexpiry.Store.
func (a *ExpiryAdapter) ListExpiring(nowOrEarlier bool) ([]keyexpiry.Entry, error) {
	records, err := a.store.listExpiring(context.Background(), nowOrEarlier)
	if err != nil {
		return nil, err
	}
	out := make([]keyexpiry.Entry, len(records))
	for i, r := range records {
		expiresAt := time.Time{}
		if r.ExpiresAt != nil {
			expiresAt = *r.ExpiresAt
		}
		out[i] = keyexpiry.Entry{
			ID:        r.ID,
			Tenant:    r.Owner,
			Key:       r.Key,
			Scopes:    r.Scopes,
			ExpiresAt: expiresAt,
		}
	}
	return out, nil
}

// Delete implements keyexpiry.Store.
func (a *ExpiryAdapter) Delete(id uuid.UUID) error {
	return a.store.deleteByID(context.Background(), id)
}
