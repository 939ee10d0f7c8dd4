package master

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/dispatcher"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/workerpool"
)

func TestDispatchEventRoutesThroughPool(t *testing.T) {
	cache := template.NewCache()
	id := tenant.Guild(5)
	if err := cache.Apply(template.Upsert{Tenant: id, Template: &template.Template{
		Name:   "echo",
		Events: []string{"Ping"},
		Content: map[string]string{
			template.EntryPoint: "return 1",
		},
	}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	pool := workerpool.New(2, isolate.DefaultConfig(), time.Second, cache, nil, slog.Default(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	m := New(pool, 2*time.Second, nil)
	results, err := m.DispatchEvent(context.Background(), id, dispatcher.Event{Name: "Ping"})
	if err != nil {
		t.Fatalf("DispatchEvent() error = %v", err)
	}
	if len(results) != 1 || results[0].Value.Int != 1 {
		t.Errorf("DispatchEvent() results = %+v", results)
	}

	if !m.IsReady() {
		t.Error("IsReady() = false, want true for a pool with workers")
	}
}

func TestDispatchScopedEventFiltersByCapabilityCategory(t *testing.T) {
	cache := template.NewCache()
	id := tenant.Guild(7)
	if err := cache.Apply(template.Upsert{Tenant: id, Template: &template.Template{
		Name:        "chatty",
		Events:      []string{"Ping"},
		AllowedCaps: []capability.String{"chat:*"},
		Content:     map[string]string{template.EntryPoint: "return 1"},
	}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := cache.Apply(template.Upsert{Tenant: id, Template: &template.Template{
		Name:        "quiet",
		Events:      []string{"Ping"},
		AllowedCaps: []capability.String{"kv:*"},
		Content:     map[string]string{template.EntryPoint: "return 2"},
	}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	pool := workerpool.New(2, isolate.DefaultConfig(), time.Second, cache, nil, slog.Default(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	m := New(pool, 2*time.Second, nil)
	results, err := m.DispatchScopedEvent(context.Background(), id, dispatcher.Event{Name: "Ping"}, []string{"chat"})
	if err != nil {
		t.Fatalf("DispatchScopedEvent() error = %v", err)
	}
	if len(results) != 1 || results[0].TemplateName != "chatty" {
		t.Errorf("DispatchScopedEvent() results = %+v, want only the chat-scoped template", results)
	}
}

func TestRegenerateCacheRequiresTemplateService(t *testing.T) {
	pool := workerpool.New(1, isolate.DefaultConfig(), time.Second, template.NewCache(), nil, slog.Default(), nil, nil)
	m := New(pool, 2*time.Second, nil)
	if err := m.RegenerateCache(context.Background(), tenant.Guild(1)); err == nil {
		t.Error("RegenerateCache() with no template service should error, got nil")
	}
}
