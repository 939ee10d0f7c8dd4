package template

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/scriptrt/internal/httpserver"
	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Store provides database operations for attached templates, backed by the
// attached_templates table (spec §6). Each row optionally references a
// shared template_pool entry (the cross-tenant marketplace); when no
// reference is set, the attachment's own source column carries its content.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const attachedColumns = `id, owner_type, owner_id, name, template_pool_ref, source, language, allowed_caps, events, error_channel, state, created_at, last_updated_at`

type attachedRow struct {
	ID              uuid.UUID
	OwnerType       string
	OwnerID         string
	Name            string
	TemplatePoolRef *uuid.UUID
	Source          []byte
	Language        string
	AllowedCaps     []string
	Events          []string
	ErrorChannel    *string
	State           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func scanAttachedRow(row pgx.Row) (attachedRow, error) {
	var r attachedRow
	err := row.Scan(
		&r.ID, &r.OwnerType, &r.OwnerID, &r.Name, &r.TemplatePoolRef, &r.Source,
		&r.Language, &r.AllowedCaps, &r.Events, &r.ErrorChannel, &r.State,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func scanAttachedRows(rows pgx.Rows) ([]attachedRow, error) {
	defer rows.Close()
	var out []attachedRow
	for rows.Next() {
		r, err := scanAttachedRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attached template row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attached template rows: %w", err)
	}
	return out, nil
}

func (r attachedRow) toTemplate(id tenant.ID) (*Template, error) {
	content := make(map[string]string)
	if len(r.Source) > 0 {
		if err := json.Unmarshal(r.Source, &content); err != nil {
			return nil, fmt.Errorf("decoding template %q content: %w", r.Name, err)
		}
	}
	caps := make([]capability.String, len(r.AllowedCaps))
	for i, c := range r.AllowedCaps {
		caps[i] = capability.String(c)
	}
	errChan := ""
	if r.ErrorChannel != nil {
		errChan = *r.ErrorChannel
	}
	return &Template{
		ID:           r.ID,
		Tenant:       id,
		Name:         r.Name,
		Content:      content,
		Language:     r.Language,
		AllowedCaps:  caps,
		Events:       r.Events,
		ErrorChannel: errChan,
		State:        State(r.State),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// ListOwners returns every distinct tenant with at least one attachment, so
// a freshly started worker can warm its cache without waiting for each
// tenant's first event.
func (s *Store) ListOwners(ctx context.Context) ([]tenant.ID, error) {
	query := `SELECT DISTINCT owner_type, owner_id FROM attached_templates`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing template owners: %w", err)
	}
	defer rows.Close()

	var out []tenant.ID
	for rows.Next() {
		var ownerType, ownerID string
		if err := rows.Scan(&ownerType, &ownerID); err != nil {
			return nil, fmt.Errorf("scanning template owner row: %w", err)
		}
		id, err := tenant.ParseOwner(ownerType, ownerID)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template owner rows: %w", err)
	}
	return out, nil
}

// Get returns a single attached template by tenant and name.
func (s *Store) Get(ctx context.Context, t tenant.ID, name string) (*Template, error) {
	query := `SELECT ` + attachedColumns + ` FROM attached_templates WHERE owner_type = $1 AND owner_id = $2 AND name = $3`
	row := s.pool.QueryRow(ctx, query, t.OwnerType(), t.OwnerID(), name)
	r, err := scanAttachedRow(row)
	if err != nil {
		return nil, err
	}
	return r.toTemplate(t)
}

// List returns every active attachment for a tenant, ordered by name so
// cache population is deterministic.
func (s *Store) List(ctx context.Context, t tenant.ID) ([]*Template, error) {
	query := `SELECT ` + attachedColumns + ` FROM attached_templates WHERE owner_type = $1 AND owner_id = $2 AND state = $3 ORDER BY name ASC`
	rows, err := s.pool.Query(ctx, query, t.OwnerType(), t.OwnerID(), StateActive)
	if err != nil {
		return nil, fmt.Errorf("listing attached templates: %w", err)
	}
	raw, err := scanAttachedRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*Template, 0, len(raw))
	for _, r := range raw {
		tpl, err := r.toTemplate(t)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// ListPage returns up to limit+1 attachments for a tenant ordered by
// (created_at, id), starting strictly after the given keyset position (a
// nil after starts from the beginning). The caller trims the extra row
// itself to detect whether more pages remain, matching
// httpserver.NewCursorPage's contract.
func (s *Store) ListPage(ctx context.Context, t tenant.ID, after *httpserver.Cursor, limit int) ([]*Template, error) {
	query := `SELECT ` + attachedColumns + ` FROM attached_templates
		WHERE owner_type = $1 AND owner_id = $2 AND ($3::timestamptz IS NULL OR (created_at, id) > ($3, $4))
		ORDER BY created_at ASC, id ASC
		LIMIT $5`

	var afterCreatedAt *time.Time
	var afterID uuid.UUID
	if after != nil {
		afterCreatedAt = &after.CreatedAt
		afterID = after.ID
	}

	rows, err := s.pool.Query(ctx, query, t.OwnerType(), t.OwnerID(), afterCreatedAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing attached templates page: %w", err)
	}
	raw, err := scanAttachedRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*Template, 0, len(raw))
	for _, r := range raw {
		tpl, err := r.toTemplate(t)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// UpsertParams holds the fields needed to create or replace an attachment.
type UpsertParams struct {
	Tenant       tenant.ID
	Name         string
	Content      map[string]string
	Language     string
	AllowedCaps  []capability.String
	Events       []string
	ErrorChannel string
	State        State
}

// Upsert inserts a new attachment or replaces the existing one by
// (owner_type, owner_id, name).
func (s *Store) Upsert(ctx context.Context, p UpsertParams) (*Template, error) {
	tpl := &Template{Name: p.Name, Content: p.Content}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	source, err := json.Marshal(p.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding template content: %w", err)
	}
	caps := make([]string, len(p.AllowedCaps))
	for i, c := range p.AllowedCaps {
		caps[i] = string(c)
	}
	state := p.State
	if state == "" {
		state = StateActive
	}
	var errChan *string
	if p.ErrorChannel != "" {
		errChan = &p.ErrorChannel
	}

	query := `INSERT INTO attached_templates (owner_type, owner_id, name, source, language, allowed_caps, events, error_channel, state)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (owner_type, owner_id, name) DO UPDATE
	SET source = $4, language = $5, allowed_caps = $6, events = $7, error_channel = $8, state = $9, last_updated_at = now()
	RETURNING ` + attachedColumns

	row := s.pool.QueryRow(ctx, query,
		p.Tenant.OwnerType(), p.Tenant.OwnerID(), p.Name, source, p.Language, caps, p.Events, errChan, state,
	)
	r, err := scanAttachedRow(row)
	if err != nil {
		return nil, fmt.Errorf("upserting template %q: %w", p.Name, err)
	}
	return r.toTemplate(p.Tenant)
}

// Delete removes an attachment by tenant and name. Returns pgx.ErrNoRows if
// absent.
func (s *Store) Delete(ctx context.Context, t tenant.ID, name string) error {
	query := `DELETE FROM attached_templates WHERE owner_type = $1 AND owner_id = $2 AND name = $3`
	tag, err := s.pool.Exec(ctx, query, t.OwnerType(), t.OwnerID(), name)
	if err != nil {
		return fmt.Errorf("deleting template %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
