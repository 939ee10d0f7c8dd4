// Package seed provisions demo data for local development: a guild tenant
// with a small set of attached templates exercising the capability
// providers end to end.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/scriptrt/pkg/template"
)

// DemoGuildID is the guild ID provisioned by RunDemo, matching demo.yaml's
// "guild" field.
const DemoGuildID = 1

//go:embed demo.yaml
var demoFixture []byte

// RunDemo attaches the templates declared in demo.yaml to a fixed guild
// tenant, so a freshly migrated database has something to dispatch events
// against. It is idempotent: re-running it just upserts the same templates.
func RunDemo(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	store := template.NewStore(pool)

	attached, err := template.LoadFixtures(ctx, store, demoFixture)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	for _, tpl := range attached {
		logger.Info("seed-demo: attached template", "tenant", tpl.Tenant, "name", tpl.Name)
	}

	logger.Info("seed-demo: done", "count", len(attached))
	return nil
}
