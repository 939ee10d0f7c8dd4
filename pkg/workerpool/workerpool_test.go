package workerpool

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

func TestFilterIsDeterministicAndStable(t *testing.T) {
	p := New(4, isolate.DefaultConfig(), time.Second, template.NewCache(), nil, slog.Default(), nil, nil)
	id := tenant.Guild(42)

	first := p.WorkerIndex(id)
	for i := 0; i < 5; i++ {
		if got := p.WorkerIndex(id); got != first {
			t.Fatalf("WorkerIndex() = %d on call %d, want stable %d", got, i, first)
		}
	}
}

func TestLeastLoadedFilterBalancesAndStabilizes(t *testing.T) {
	f := NewLeastLoadedFilterStrategy()
	a, b := tenant.Guild(1), tenant.Guild(2)

	firstA := f.WorkerFor(a, 2)
	firstB := f.WorkerFor(b, 2)
	if firstA == firstB {
		t.Errorf("WorkerFor() assigned both tenants to worker %d, want balanced", firstA)
	}
	if got := f.WorkerFor(a, 2); got != firstA {
		t.Errorf("WorkerFor() = %d on repeat call, want stable %d", got, firstA)
	}
}

func TestDispatchEventRoundTrip(t *testing.T) {
	cache := template.NewCache()
	id := tenant.Guild(1)
	if err := cache.Apply(template.Upsert{Tenant: id, Template: &template.Template{
		Name:   "echo",
		Events: []string{"Ping"},
		Content: map[string]string{
			template.EntryPoint: "local e = ...\nreturn e.name",
		},
	}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	p := New(2, isolate.DefaultConfig(), time.Second, cache, nil, slog.Default(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	reply := make(chan Reply, 1)
	p.Send(id, Message{Kind: MsgDispatchEvent, Tenant: id, Event: dispatcher.Event{Name: "Ping"}, Reply: reply})

	select {
	case r := <-reply:
		if r.Err != nil {
			t.Fatalf("DispatchEvent reply error = %v", r.Err)
		}
		if len(r.DispatchResults) != 1 || r.DispatchResults[0].Value.Text != "Ping" {
			t.Errorf("DispatchEvent results = %+v", r.DispatchResults)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch reply")
	}
}
