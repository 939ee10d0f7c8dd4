// Package objectstore implements the object-storage capability provider
// behind an S3-shaped interface. Only a local-filesystem ("file://")
// backend is built; a real S3 backend would satisfy the same Backend
// interface without any provider-side change.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/ratelimit"
	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Taxonomy is the object storage capability category's rate-limit
// taxonomy name.
const Taxonomy = "object_storage"

// MaxObjectBytes bounds a single Put's payload (below this, no multipart
// upload is needed; the threshold exists in the interface shape only,
// since the file backend never chunks).
const MaxObjectBytes = 50 * 1024 * 1024

// MaxPathLength bounds an object key's length.
const MaxPathLength = 512

// Backend is the S3-shaped storage interface. A real S3 implementation
// would satisfy this without any change to Provider.
type Backend interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// FileBackend implements Backend against a local directory tree, laid out
// as <root>/<bucket>/<key> (spec's "file:// dev backend").
type FileBackend struct {
	root string
}

// NewFileBackend creates a FileBackend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{root: dir}
}

// path joins key under <root>/<bucket>, rooting it at "/" first so
// filepath.Clean collapses any ".." segments instead of letting them
// escape the bucket directory.
func (b *FileBackend) path(bucket, key string) (string, error) {
	clean := filepath.Clean("/" + key)
	return filepath.Join(b.root, bucket, clean), nil
}

// Put writes data to <root>/<bucket>/<key>, creating parent directories.
func (b *FileBackend) Put(_ context.Context, bucket, key string, data []byte) error {
	p, err := b.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("objectstore: creating directories for %q: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("objectstore: writing %q: %w", key, err)
	}
	return nil
}

// Get reads <root>/<bucket>/<key>.
func (b *FileBackend) Get(_ context.Context, bucket, key string) ([]byte, error) {
	p, err := b.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, &rterr.NotFound{What: fmt.Sprintf("object %s/%s", bucket, key)}
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: reading %q: %w", key, err)
	}
	return data, nil
}

// Delete removes <root>/<bucket>/<key>.
func (b *FileBackend) Delete(_ context.Context, bucket, key string) error {
	p, err := b.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: deleting %q: %w", key, err)
	}
	return nil
}

// BucketFor returns a tenant's storage prefix: guilds/{guild_id}.
func BucketFor(t tenant.ID) string {
	return fmt.Sprintf("guilds/%s", t.OwnerID())
}

// Provider exposes Backend to scripts as "object_put"/"object_get"/
// "object_delete" host functions, mediated through capability and
// rate-limit checks and scoped to the calling tenant's bucket.
type Provider struct {
	backend Backend
	limits  *ratelimit.Registry
}

// NewProvider builds a Provider.
func NewProvider(backend Backend, limits *ratelimit.Registry) *Provider {
	return &Provider{backend: backend, limits: limits}
}

// Register is a dispatcher.ProviderFactory.
func (p *Provider) Register(sub *isolate.SubIsolate, t tenant.ID, mediator *capability.Mediator) {
	sub.Register("object_put", p.hostPut(t, mediator))
	sub.Register("object_get", p.hostGet(t, mediator))
	sub.Register("object_delete", p.hostDelete(t, mediator))
}

func (p *Provider) checkAction(t tenant.ID, mediator *capability.Mediator, action, key string) error {
	if len(key) > MaxPathLength {
		return &rterr.ConstraintViolated{Kind: "path_too_long", Detail: key}
	}
	if err := mediator.Check(capability.Request{Category: "object_storage", Action: action, Object: key}); err != nil {
		return err
	}
	if p.limits != nil {
		return p.limits.Check(t, Taxonomy, action)
	}
	return nil
}

func (p *Provider) hostPut(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		data := L.CheckString(2)

		if len(data) > MaxObjectBytes {
			L.RaiseError("%s", (&rterr.ConstraintViolated{Kind: "object_too_large", Detail: key}).Error())
			return 0
		}
		if err := p.checkAction(t, mediator, "put", key); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if err := p.backend.Put(L.Context(), BucketFor(t), key, []byte(data)); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return 0
	}
}

func (p *Provider) hostGet(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if err := p.checkAction(t, mediator, "get", key); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		data, err := p.backend.Get(L.Context(), BucketFor(t), key)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(lua.LString(data))
		return 1
	}
}

func (p *Provider) hostDelete(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if err := p.checkAction(t, mediator, "delete", key); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if err := p.backend.Delete(L.Context(), BucketFor(t), key); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return 0
	}
}
