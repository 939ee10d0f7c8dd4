package kvstore

import (
	"context"
	"errors"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/ratelimit"
	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// Taxonomy is the kv capability category's rate-limit taxonomy name.
const Taxonomy = "kv"

// Provider exposes the tenant key/value store to scripts as the kv_get,
// kv_set, kv_delete and kv_search globals, mediating every call through the template's capability mediator
// and the tenant's rate limiter before touching the store.
type Provider struct {
	store         *CachedStore
	limits        *ratelimit.Registry
	maxValueBytes int
}

// NewProvider builds a Provider. maxValueBytes <= 0 falls back to
// DefaultMaxValueBytes.
func NewProvider(store *CachedStore, limits *ratelimit.Registry, maxValueBytes int) *Provider {
	if maxValueBytes <= 0 {
		maxValueBytes = DefaultMaxValueBytes
	}
	return &Provider{store: store, limits: limits, maxValueBytes: maxValueBytes}
}

// Register is a dispatcher.ProviderFactory: it installs the kv_* globals
// into sub, restricted to whatever mediator allows.
func (p *Provider) Register(sub *isolate.SubIsolate, t tenant.ID, mediator *capability.Mediator) {
	sub.Register("kv_get", p.hostGet(t, mediator))
	sub.Register("kv_set", p.hostSet(t, mediator))
	sub.Register("kv_delete", p.hostDelete(t, mediator))
	sub.Register("kv_search", p.hostSearch(t, mediator))
}

func (p *Provider) checkAction(t tenant.ID, mediator *capability.Mediator, action, key string) error {
	if err := mediator.Check(capability.Request{Category: "kv", Action: action, Object: key}); err != nil {
		return err
	}
	if p.limits != nil {
		if err := p.limits.Check(t, Taxonomy, action); err != nil {
			return err
		}
	}
	return nil
}

func scopesFromLua(L *lua.LState, idx int) []string {
	v := L.Get(idx)
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	scopes := make([]string, 0, tbl.Len())
	tbl.ForEach(func(_, val lua.LValue) {
		if s, ok := val.(lua.LString); ok {
			scopes = append(scopes, string(s))
		}
	})
	return scopes
}

func raiseHostError(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

func (p *Provider) hostGet(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		scopes := scopesFromLua(L, 2)

		if err := p.checkAction(t, mediator, "get", key); err != nil {
			return raiseHostError(L, err)
		}
		normScopes, err := NormalizeScopes(append([]string{"default"}, scopes...))
		if err != nil {
			return raiseHostError(L, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec, err := p.store.Get(ctx, t, key, normScopes)
		if errors.Is(err, pgx.ErrNoRows) {
			L.Push(lua.LNil)
			return 1
		}
		if err != nil {
			return raiseHostError(L, err)
		}
		L.Push(isolate.ToLua(L, rec.Value))
		return 1
	}
}

func (p *Provider) hostSet(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		valLua := L.CheckAny(2)
		scopes := scopesFromLua(L, 3)

		if err := ValidateKey(key); err != nil {
			return raiseHostError(L, err)
		}
		if err := p.checkAction(t, mediator, "set", key); err != nil {
			return raiseHostError(L, err)
		}
		normScopes, err := NormalizeScopes(append([]string{"default"}, scopes...))
		if err != nil {
			return raiseHostError(L, err)
		}

		value, err := isolate.FromLua(valLua)
		if err != nil {
			return raiseHostError(L, &rterr.ScriptError{Message: err.Error()})
		}
		if encoded, err := value.MarshalJSON(); err == nil && len(encoded) > p.maxValueBytes {
			return raiseHostError(L, &rterr.ConstraintViolated{Kind: "value_too_large", Detail: key})
		}

		var ttl *time.Time
		if L.GetTop() >= 4 {
			seconds := L.CheckNumber(4)
			when := time.Now().Add(time.Duration(float64(seconds)) * time.Second)
			ttl = &when
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := p.store.Put(ctx, t, key, normScopes, value, ttl); err != nil {
			return raiseHostError(L, err)
		}
		return 0
	}
}

func (p *Provider) hostDelete(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		scopes := scopesFromLua(L, 2)

		if err := p.checkAction(t, mediator, "delete", key); err != nil {
			return raiseHostError(L, err)
		}
		normScopes, err := NormalizeScopes(append([]string{"default"}, scopes...))
		if err != nil {
			return raiseHostError(L, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = p.store.Delete(ctx, t, key, normScopes)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return raiseHostError(L, err)
		}
		return 0
	}
}

func (p *Provider) hostSearch(t tenant.ID, mediator *capability.Mediator) isolate.HostFunc {
	return func(L *lua.LState) int {
		pattern := L.OptString(1, "")

		if err := p.checkAction(t, mediator, "search", pattern); err != nil {
			return raiseHostError(L, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		records, err := p.store.Search(ctx, t, pattern)
		if err != nil {
			return raiseHostError(L, err)
		}

		keys := make([]valuetree.Value, len(records))
		for i, r := range records {
			keys[i] = valuetree.Text(r.Key)
		}
		L.Push(isolate.ToLua(L, valuetree.List(keys)))
		return 1
	}
}
