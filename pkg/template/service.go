package template

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wisbric/scriptrt/internal/httpserver"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Service ties the durable store to a worker's cache view: every mutation
// is persisted first, then applied to the cache so the in-memory view never
// diverges from the database for longer than a single call.
type Service struct {
	store  *Store
	cache  *Cache
	logger *slog.Logger
}

// NewService creates a Service backed by the given store and cache.
func NewService(store *Store, cache *Cache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// Sync loads a tenant's attachments from the store and applies them to the
// cache as a FullSyncOwner update. Called the first time a tenant is seen
// by a worker, or after an external RegenerateCache request (spec §6 RPC).
func (s *Service) Sync(ctx context.Context, t tenant.ID) error {
	templates, err := s.store.List(ctx, t)
	if err != nil {
		return fmt.Errorf("syncing templates for %s: %w", t, err)
	}
	return s.cache.Apply(FullSyncOwner{Tenant: t, Templates: templates})
}

// Attach persists a new or replacement attachment and upserts it into the
// cache.
func (s *Service) Attach(ctx context.Context, p UpsertParams) (*Template, error) {
	tpl, err := s.store.Upsert(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("attaching template %q: %w", p.Name, err)
	}
	if err := s.cache.Apply(Upsert{Tenant: p.Tenant, Template: tpl}); err != nil {
		return nil, fmt.Errorf("updating cache for template %q: %w", p.Name, err)
	}
	s.logger.Info("template attached", "tenant", p.Tenant, "name", p.Name)
	return tpl, nil
}

// Detach removes an attachment from the store and the cache.
func (s *Service) Detach(ctx context.Context, t tenant.ID, name string) error {
	if err := s.store.Delete(ctx, t, name); err != nil {
		return fmt.Errorf("detaching template %q: %w", name, err)
	}
	if err := s.cache.Apply(Remove{Tenant: t, Name: name}); err != nil {
		return fmt.Errorf("updating cache after detach of %q: %w", name, err)
	}
	s.logger.Info("template detached", "tenant", t, "name", name)
	return nil
}

// List returns the store-backed list (the durable truth, not the cache
// view), suitable for an admin listing endpoint.
func (s *Service) List(ctx context.Context, t tenant.ID) ([]*Template, error) {
	return s.store.List(ctx, t)
}

// ListPage is List with cursor pagination (httpserver.CursorParams), for a
// tenant with enough attachments that returning all of them in one response
// stops being reasonable.
func (s *Service) ListPage(ctx context.Context, t tenant.ID, after *httpserver.Cursor, limit int) ([]*Template, error) {
	return s.store.ListPage(ctx, t, after, limit)
}

// Get returns a single attachment by tenant and name.
func (s *Service) Get(ctx context.Context, t tenant.ID, name string) (*Template, error) {
	return s.store.Get(ctx, t, name)
}
