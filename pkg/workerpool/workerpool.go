// Package workerpool partitions tenants across a fixed set of workers by a
// deterministic filter and routes messages to them over per-worker channels
// (spec §4.9).
package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/scriptrt/pkg/dispatcher"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
	"github.com/wisbric/scriptrt/pkg/worker"
)

// Filter maps a tenant onto one of n worker indices. ModFilterStrategy
// implements "thread-per-guild" (a pure deterministic hash);
// LeastLoadedFilterStrategy implements "pooled" (new tenants go to whichever worker currently owns
// the fewest tenants; an already-assigned tenant never migrates, matching
// the invariant that a tenant's isolate lives on exactly one worker for
// the lifetime of its VM).
type Filter interface {
	WorkerFor(t tenant.ID, n int) int
}

// ModFilterStrategy is the deterministic "id mod N" filter.
type ModFilterStrategy struct{}

// WorkerFor implements Filter.
func (ModFilterStrategy) WorkerFor(t tenant.ID, n int) int {
	return tenant.ModFilter(t, n)
}

// LeastLoadedFilterStrategy assigns each new tenant to the worker with the
// fewest tenants assigned so far, then remembers the assignment so the
// tenant never migrates between workers.
type LeastLoadedFilterStrategy struct {
	mu       sync.Mutex
	assigned map[tenant.ID]int
	counts   []int
}

// NewLeastLoadedFilterStrategy builds a LeastLoadedFilterStrategy.
func NewLeastLoadedFilterStrategy() *LeastLoadedFilterStrategy {
	return &LeastLoadedFilterStrategy{assigned: make(map[tenant.ID]int)}
}

// WorkerFor implements Filter.
func (f *LeastLoadedFilterStrategy) WorkerFor(t tenant.ID, n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i, ok := f.assigned[t]; ok {
		return i
	}
	if len(f.counts) != n {
		f.counts = make([]int, n)
	}
	best := 0
	for i, c := range f.counts {
		if c < f.counts[best] {
			best = i
		}
	}
	f.counts[best]++
	f.assigned[t] = best
	return best
}

// MessageKind tags a workerpool message (spec §4.9).
type MessageKind int

const (
	MsgDispatchEvent MessageKind = iota
	MsgDispatchScopedEvent
	MsgRunScript
	MsgDropTenant
	MsgKill
)

// Message is one unit of work routed to a worker's message channel; Reply
// is the oneshot channel the worker answers on.
type Message struct {
	Kind   MessageKind
	Tenant tenant.ID
	Event  dispatcher.Event
	Scopes []string // MsgDispatchScopedEvent only
	Script struct {
		Name string
		Arg  valuetree.Value
	}
	Reply chan Reply
}

// Reply carries a message's outcome back to its sender.
type Reply struct {
	DispatchResults []dispatcher.Result
	ScriptResult    valuetree.Value
	Err             error
}

// Pool owns N workers, each pinned to its own goroutine with its own
// message channel, matching the one-OS-thread-per-worker model described in
// spec §4.9 (Go's runtime schedules the goroutine; we do not pin it to an
// OS thread, since that requires LockOSThread and gains nothing for a
// cooperative, non-blocking-syscall workload — see DESIGN.md).
type Pool struct {
	workers []*worker.Worker
	chans   []chan Message
	logger  *slog.Logger
	filter  Filter
}

// New creates a Pool of n workers, each with its own VM manager and
// dispatcher but sharing the given template cache and error sink. filter
// selects the tenant distribution strategy; a nil filter defaults to
// ModFilterStrategy (thread-per-guild). providers are wired into every
// sub-isolate any worker in the pool creates.
func New(n int, cfg isolate.Config, dispatchWait time.Duration, cache *template.Cache, errorSink worker.ErrorSink, logger *slog.Logger, filter Filter, metrics *worker.Metrics, providers ...dispatcher.ProviderFactory) *Pool {
	if filter == nil {
		filter = ModFilterStrategy{}
	}
	p := &Pool{
		workers: make([]*worker.Worker, n),
		chans:   make([]chan Message, n),
		logger:  logger,
		filter:  filter,
	}
	for i := 0; i < n; i++ {
		p.workers[i] = worker.New(i, cfg, dispatchWait, cache, errorSink, logger, metrics, providers...)
		p.chans[i] = make(chan Message, 256)
	}
	return p
}

// Run starts every worker's message loop; blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, len(p.workers))
	for i := range p.workers {
		go func(i int) {
			p.runWorker(ctx, i)
			done <- struct{}{}
		}(i)
	}
	for range p.workers {
		<-done
	}
}

func (p *Pool) runWorker(ctx context.Context, i int) {
	w := p.workers[i]
	for {
		select {
		case <-ctx.Done():
			w.Kill()
			return
		case msg := <-p.chans[i]:
			p.handle(ctx, w, msg)
			if msg.Kind == MsgKill {
				return
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, w *worker.Worker, msg Message) {
	var reply Reply
	switch msg.Kind {
	case MsgDispatchEvent:
		reply.DispatchResults, reply.Err = w.DispatchEvent(ctx, msg.Tenant, msg.Event)
	case MsgDispatchScopedEvent:
		reply.DispatchResults, reply.Err = w.DispatchScopedEvent(ctx, msg.Tenant, msg.Event, msg.Scopes)
	case MsgRunScript:
		reply.ScriptResult, reply.Err = w.RunScript(ctx, msg.Tenant, msg.Script.Name, msg.Script.Arg)
	case MsgDropTenant:
		w.DropTenant(msg.Tenant)
	case MsgKill:
		w.Kill()
	}
	if msg.Reply != nil {
		msg.Reply <- reply
	}
}

// WorkerIndex maps a tenant to its owning worker index using the pool's
// configured Filter.
func (p *Pool) WorkerIndex(t tenant.ID) int {
	return p.filter.WorkerFor(t, len(p.workers))
}

// Send routes a message to the tenant's owning worker.
func (p *Pool) Send(t tenant.ID, msg Message) {
	p.chans[p.WorkerIndex(t)] <- msg
}

// N returns the number of workers in the pool.
func (p *Pool) N() int { return len(p.workers) }

// Worker returns the worker owning a given index, for telemetry collection.
func (p *Pool) Worker(i int) *worker.Worker { return p.workers[i] }
