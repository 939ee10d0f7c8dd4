package keyexpiry

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]Entry
	deleted []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[uuid.UUID]Entry)}
}

func (s *fakeStore) ListExpiring(_ bool) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func TestWheelFiresOnExpiry(t *testing.T) {
	store := newFakeStore()
	w := New(store, nil, nil)
	w.tickMs = 10 // fast ticks for the test

	sub, ok := w.Subscribe()
	if !ok {
		t.Fatal("Subscribe() failed on first call")
	}

	id := tenant.Guild(1)
	entry := Entry{ID: uuid.New(), Tenant: id, Key: "k", ExpiresAt: time.Now().Add(30 * time.Millisecond)}
	store.entries[entry.ID] = entry
	w.Insert(entry)

	stop := make(chan struct{})
	go w.Run(stop)
	defer close(stop)

	select {
	case fired := <-sub:
		if fired.Entry.Key != "k" {
			t.Errorf("fired entry = %+v, want key k", fired.Entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the wheel to fire")
	}
}

func TestSecondSubscriberRejected(t *testing.T) {
	w := New(newFakeStore(), nil, nil)
	if _, ok := w.Subscribe(); !ok {
		t.Fatal("first Subscribe() should succeed")
	}
	if _, ok := w.Subscribe(); ok {
		t.Error("second Subscribe() should be rejected")
	}
}

func TestRepopulateRandomizesPastDueEntries(t *testing.T) {
	store := newFakeStore()
	past := Entry{ID: uuid.New(), Tenant: tenant.Guild(2), Key: "old", ExpiresAt: time.Now().Add(-time.Hour)}
	store.entries[past.ID] = past

	w := New(store, nil, nil)
	if err := w.Repopulate(); err != nil {
		t.Fatalf("Repopulate() error = %v", err)
	}

	var scheduled *Entry
	for _, lvl := range w.levels {
		for _, b := range lvl.buckets {
			for e := b.Front(); e != nil; e = e.Next() {
				if n := e.Value.(node); n.entry.ID == past.ID {
					scheduled = &n.entry
				}
			}
		}
	}
	if scheduled == nil {
		t.Fatal("Repopulate() did not schedule the past-due entry")
	}
	if d := time.Until(scheduled.ExpiresAt); d < 4*time.Second || d > 10*time.Second {
		t.Errorf("past-due entry rescheduled %s ahead, want a 5-10s delay", d)
	}
}
