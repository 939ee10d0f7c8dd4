package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/wisbric/scriptrt/pkg/dispatcher"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

type recordingSink struct {
	channel, templateName, errText string
	called                         bool
}

func (r *recordingSink) SendError(_ context.Context, _ tenant.ID, channel, templateName, errText string) {
	r.called = true
	r.channel, r.templateName, r.errText = channel, templateName, errText
}

func TestDispatchEventRoutesErrorsToErrorChannel(t *testing.T) {
	cache := template.NewCache()
	t1 := tenant.Guild(9)
	if err := cache.Apply(template.Upsert{Tenant: t1, Template: &template.Template{
		Name:         "broken",
		Events:       []string{"Ping"},
		ErrorChannel: "alerts",
		Content:      map[string]string{template.EntryPoint: "error('boom')"},
	}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	sink := &recordingSink{}
	w := New(0, isolate.DefaultConfig(), time.Second, cache, sink, slog.Default(), nil)

	results, err := w.DispatchEvent(context.Background(), t1, dispatcher.Event{Name: "Ping"})
	if err != nil {
		t.Fatalf("DispatchEvent() error = %v", err)
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("DispatchEvent() results = %+v, want one errored result", results)
	}
	if !sink.called {
		t.Fatal("DispatchEvent() did not route the error to the error sink")
	}
	if sink.templateName != "broken" || sink.channel != "alerts" {
		t.Errorf("SendError() called with template=%q channel=%q", sink.templateName, sink.channel)
	}
}

func TestDropTenantResetsActiveVMs(t *testing.T) {
	cache := template.NewCache()
	t1 := tenant.Guild(10)
	w := New(0, isolate.DefaultConfig(), time.Second, cache, nil, slog.Default(), nil)

	if _, err := w.vms.GetOrCreate(t1); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if w.ActiveVMs() != 1 {
		t.Fatalf("ActiveVMs() = %d, want 1", w.ActiveVMs())
	}
	w.DropTenant(t1)
	if w.ActiveVMs() != 0 {
		t.Errorf("ActiveVMs() after DropTenant = %d, want 0", w.ActiveVMs())
	}
}
