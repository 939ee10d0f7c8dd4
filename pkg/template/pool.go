package template

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

// PoolEntry is a shop-listed template definition anyone can attach to their
// own tenant (spec §6 template_pool / template_shop_listings).
type PoolEntry struct {
	ID        uuid.UUID
	Name      string
	Owner     tenant.ID
	Language  string
	Content   map[string]string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PoolStore provides database operations for template_pool rows.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolColumns = `id, name, owner_type, owner_id, language, content, state, created_at, last_updated_at`

func scanPoolRow(row pgx.Row) (PoolEntry, error) {
	var (
		e         PoolEntry
		ownerType string
		ownerID   uint64
		content   []byte
	)
	if err := row.Scan(&e.ID, &e.Name, &ownerType, &ownerID, &e.Language, &content, &e.State, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return PoolEntry{}, err
	}
	e.Owner = tenant.Guild(ownerID)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &e.Content); err != nil {
			return PoolEntry{}, fmt.Errorf("decoding pool entry %q content: %w", e.Name, err)
		}
	}
	return e, nil
}

// List returns every active, shop-listed pool entry. Read-mostly; callers
// should cache aggressively.
func (s *PoolStore) List(ctx context.Context) ([]PoolEntry, error) {
	query := `SELECT ` + poolColumns + ` FROM template_pool WHERE state = $1 ORDER BY name ASC`
	rows, err := s.pool.Query(ctx, query, StateActive)
	if err != nil {
		return nil, fmt.Errorf("listing template pool: %w", err)
	}
	defer rows.Close()

	var out []PoolEntry
	for rows.Next() {
		e, err := scanPoolRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template pool row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Publish inserts a new pool entry owned by the given tenant.
func (s *PoolStore) Publish(ctx context.Context, owner tenant.ID, name, language string, content map[string]string) (PoolEntry, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return PoolEntry{}, fmt.Errorf("encoding pool content: %w", err)
	}
	query := `INSERT INTO template_pool (name, owner_type, owner_id, language, content, state)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + poolColumns
	row := s.pool.QueryRow(ctx, query, name, owner.OwnerType(), owner.GuildID, language, encoded, StateActive)
	return scanPoolRow(row)
}
