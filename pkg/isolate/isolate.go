// Package isolate implements the per-tenant scripting VM and its
// template-bound sub-isolates (spec §4.4, §4.5). Each Isolate owns exactly
// one gopher-lua state and is never touched from more than one goroutine at
// a time: the worker that owns it drives it cooperatively, one dispatch at
// a time, matching the single-threaded-per-worker concurrency model
// (spec §5, §9).
package isolate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	lua "github.com/yuin/gopher-lua"

	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// State is the isolate's lifecycle state (spec §4.4: Fresh -> Ready ->
// Running -> (Ready | Broken)).
type State int

const (
	StateFresh State = iota
	StateReady
	StateRunning
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Config controls the isolate's resource budget.
type Config struct {
	MemoryLimitBytes  int64         // default 20 MiB
	MaxExecutionTime  time.Duration // default 10s
	GiveTime          time.Duration // default 1s; grace period after a timeout before marking broken
	RegistrySize      int
	RegistryMaxSize   int
}

// DefaultConfig returns the spec's default resource budget.
func DefaultConfig() Config {
	return Config{
		MemoryLimitBytes: 20 * 1024 * 1024,
		MaxExecutionTime: 10 * time.Second,
		GiveTime:         1 * time.Second,
		RegistrySize:     1024,
		RegistryMaxSize:  1024 * 64,
	}
}

// HostFunc is a host service exposed to scripts; registered by capability
// providers into a sub-isolate's environment table.
type HostFunc = lua.LGFunction

// Isolate owns one tenant's VM: its sandboxed globals, its memory limit,
// its interrupt hook, a broken flag, and its sub-isolates keyed by
// template name.
type Isolate struct {
	Tenant tenant.ID
	cfg    Config
	vm     *lua.LState
	proxy  *lua.LTable

	state State
	subs  map[string]*SubIsolate

	mu sync.Mutex // guards state/subs against GC/inactivity goroutines only; dispatch itself is single-threaded

	brokenTotal *prometheus.CounterVec // labels: tenant, reason; optional
}

// New constructs a fresh isolate with the safe standard libraries and the
// proxy global table; require is installed per sub-isolate. It installs no
// memory limit (cfg.MemoryLimitBytes is reported, not enforced), does not
// make the globals read-only, attaches no task scheduler, and never returns
// an error. brokenTotal is optional; pass nil to disable the metric.
func New(t tenant.ID, cfg Config, brokenTotal *prometheus.CounterVec) (*Isolate, error) {
	iso := &Isolate{
		brokenTotal: brokenTotal,
		Tenant:      t,
		cfg:         cfg,
		subs:        make(map[string]*SubIsolate),
		state:       StateFresh,
	}

	vm := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: true,
		RegistrySize:        cfg.RegistrySize,
		RegistryMaxSize:     cfg.RegistryMaxSize,
	})

	// Step 1+2: safe standard libs only. No io/os/debug/package — those
	// would let a script escape its sandbox or touch the host filesystem.
	for _, open := range []lua.LGFunction{
		lua.OpenBase,
		lua.OpenTable,
		lua.OpenString,
		lua.OpenMath,
		lua.OpenCoroutine,
	} {
		open(vm)
	}
	removeUnsafeBaseGlobals(vm)

	// Step 3: proxy global table. Reads fall through to the real globals
	// via __index; writes to a key already present in the real globals
	// update the real globals, otherwise land in the proxy's own storage.
	realG := vm.Get(lua.GlobalsIndex).(*lua.LTable)
	proxy := vm.NewTable()
	meta := vm.NewTable()
	meta.RawSetString("__index", realG)
	meta.RawSetString("__newindex", vm.NewFunction(func(L *lua.LState) int {
		key := L.CheckAny(2)
		val := L.CheckAny(3)
		if ks, ok := key.(lua.LString); ok && realG.RawGetString(string(ks)) != lua.LNil {
			realG.RawSetString(string(ks), val)
		} else {
			proxy.RawSet(key, val)
		}
		return 0
	}))
	proxy.Metatable = meta
	iso.proxy = proxy

	// Step 4: require is installed per sub-isolate (it must see that
	// sub-isolate's virtual filesystem), via installRequire in subisolate.go.

	iso.vm = vm
	iso.state = StateReady
	return iso, nil
}

// removeUnsafeBaseGlobals strips base-library entries that would let a
// script reach outside its sandbox (file/process access, raw metatable
// control, dynamic loading).
func removeUnsafeBaseGlobals(vm *lua.LState) {
	g := vm.Get(lua.GlobalsIndex).(*lua.LTable)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage", "print"} {
		g.RawSetString(name, lua.LNil)
	}
}

// State returns the isolate's current lifecycle state.
func (iso *Isolate) State() State {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.state
}

// Broken reports whether the isolate is unusable.
func (iso *Isolate) Broken() bool {
	return iso.State() == StateBroken
}

func (iso *Isolate) markBroken(reason string) {
	iso.mu.Lock()
	iso.state = StateBroken
	iso.mu.Unlock()
	if iso.brokenTotal != nil {
		iso.brokenTotal.WithLabelValues(iso.Tenant.String(), reason).Inc()
	}
}

// MemoryUsedBytes approximates the isolate's Lua heap usage via gopher-lua's
// garbage collector counter. This is a best-effort figure: gopher-lua does
// not expose a true allocator hook, so it is the nearest available signal
// for the used_memory telemetry surface (spec §6).
func (iso *Isolate) MemoryUsedBytes() int64 {
	return int64(iso.vm.GCCount()) * 1024
}

// SubIsolate returns the named sub-isolate if one has already been created.
func (iso *Isolate) SubIsolate(name string) (*SubIsolate, bool) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	s, ok := iso.subs[name]
	return s, ok
}

// SubIsolateCount returns the number of sub-isolates currently built for
// this tenant, used as the active_threads telemetry signal (spec §6): each
// sub-isolate is one template's cooperative execution context.
func (iso *Isolate) SubIsolateCount() int {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return len(iso.subs)
}

// GetOrCreateSubIsolate returns the sub-isolate for (tenant, template),
// creating it on first use. A failed creation, whatever its cause, is
// retried up to 20 times with a 100ms backoff, checking broken before each
// attempt.
// created reports whether this call performed the creation, so callers can
// run one-time setup (capability provider registration) exactly once.
func (iso *Isolate) GetOrCreateSubIsolate(name string, content map[string]string) (sub *SubIsolate, created bool, err error) {
	if iso.Broken() {
		return nil, false, &rterr.VmBroken{Tenant: iso.Tenant.String()}
	}

	if s, ok := iso.SubIsolate(name); ok {
		return s, false, nil
	}

	const maxAttempts = 20
	const backoff = 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if iso.Broken() {
			return nil, false, &rterr.VmBroken{Tenant: iso.Tenant.String()}
		}

		s, createErr := newSubIsolate(iso, name, content)
		if createErr == nil {
			iso.mu.Lock()
			iso.subs[name] = s
			iso.mu.Unlock()
			return s, true, nil
		}
		lastErr = createErr
		time.Sleep(backoff)
	}
	return nil, false, fmt.Errorf("isolate: creating sub-isolate %q: %w", name, lastErr)
}

// runWithInterrupt executes fn on the VM under the isolate's time budget.
// If fn does not return within MaxExecutionTime, an additional GiveTime
// grace period is allowed before the isolate is marked broken. gopher-lua
// aborts the running chunk as soon as its context is cancelled rather than
// cooperatively yielding at a safe point, so the "request yield, then wait
// GiveTime" two-phase behavior described in spec §4.4 step 8 collapses
// here to "abort, then treat as broken if the abort itself does not
// resolve within GiveTime".
func (iso *Isolate) runWithInterrupt(parent context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, iso.cfg.MaxExecutionTime)
	defer cancel()

	iso.vm.SetContext(ctx)
	defer iso.vm.RemoveContext()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(iso.cfg.GiveTime):
			iso.markBroken("timeout")
			return &rterr.Timeout{After: iso.cfg.MaxExecutionTime}
		}
	}
}

// Drop marks the isolate and all its sub-isolates unreachable.
func (iso *Isolate) Drop() {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	iso.state = StateBroken
	for _, s := range iso.subs {
		s.parentDropped = true
	}
	iso.subs = make(map[string]*SubIsolate)
	iso.vm.Close()
}
