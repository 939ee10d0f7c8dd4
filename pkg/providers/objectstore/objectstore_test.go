package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/wisbric/scriptrt/pkg/rterr"
)

func TestFileBackendRoundTrip(t *testing.T) {
	b := NewFileBackend(t.TempDir())
	ctx := context.Background()

	if err := b.Put(ctx, "guilds/1", "notes/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := b.Get(ctx, "guilds/1", "notes/a.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get() = %q, want %q", got, "hello")
	}

	if err := b.Delete(ctx, "guilds/1", "notes/a.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := b.Get(ctx, "guilds/1", "notes/a.txt"); err == nil {
		t.Fatal("Get() after Delete() expected error")
	} else {
		var nf *rterr.NotFound
		if !errors.As(err, &nf) {
			t.Errorf("Get() error = %v, want *rterr.NotFound", err)
		}
	}
}

func TestFileBackendConfinesTraversalKeys(t *testing.T) {
	root := t.TempDir()
	b := NewFileBackend(root)
	ctx := context.Background()

	if err := b.Put(ctx, "guilds/1", "../../etc/passwd", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	// A "../../" key collapses under the bucket root rather than escaping it.
	got, err := b.Get(ctx, "guilds/1", "etc/passwd")
	if err != nil {
		t.Fatalf("Get() of the collapsed path error = %v", err)
	}
	if string(got) != "x" {
		t.Errorf("Get() = %q, want %q", got, "x")
	}
}
