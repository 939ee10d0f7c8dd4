package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

type fakeVMSource struct {
	iso *isolate.Isolate
	err error
}

func (f *fakeVMSource) GetOrCreate(t tenant.ID) (*isolate.Isolate, error) {
	return f.iso, f.err
}

func newFakeSource(t *testing.T) *fakeVMSource {
	t.Helper()
	iso, err := isolate.New(tenant.Guild(1), isolate.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("isolate.New() error = %v", err)
	}
	t.Cleanup(iso.Drop)
	return &fakeVMSource{iso: iso}
}

func TestMatchingFiltersByEventName(t *testing.T) {
	templates := []*template.Template{
		{Name: "a", Events: []string{"Ping"}},
		{Name: "b", Events: []string{"MessageCreate"}},
	}
	got := Matching(templates, Event{Name: "Ping"})
	if len(got) != 1 || got[0].Name != "a" {
		t.Errorf("Matching() = %v, want only template a", got)
	}
}

func TestDispatchAggregatesResults(t *testing.T) {
	src := newFakeSource(t)
	d := New(src, 2*time.Second, nil)

	templates := []*template.Template{
		{Name: "echo", Events: []string{"Ping"}, Content: map[string]string{
			template.EntryPoint: "local e = ...\nreturn e.name",
		}},
	}

	results, err := d.Dispatch(context.Background(), tenant.Guild(1), Event{Name: "Ping"}, Matching(templates, Event{Name: "Ping"}))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Dispatch() returned %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("Dispatch() result error = %v", results[0].Err)
	}
	if results[0].Value.Text != "Ping" {
		t.Errorf("Dispatch() result value = %+v, want text Ping", results[0].Value)
	}
}

func TestDispatchNoTemplatesIsNoop(t *testing.T) {
	src := newFakeSource(t)
	d := New(src, time.Second, nil)

	results, err := d.Dispatch(context.Background(), tenant.Guild(1), Event{Name: "Ping"}, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if results != nil {
		t.Errorf("Dispatch() with no templates = %v, want nil", results)
	}
}
