package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/executor"
)

// Group is an executor.Adapter that consults a cache and collapses
// concurrent identical statements into one data-store call.
type Group struct {
	executor.Adapter

	cache Cache
	ttl   time.Duration
	sf    singleflight.Group

	mu      sync.Mutex
	waiters map[string]int
	cancels map[string]context.CancelFunc

	// OnLookup, when set, observes every cache lookup.
	OnLookup func(hit bool)

	// OnError, when set, observes cache backend failures. They never fail
	// the request.
	OnError func(err error)
}

// NewGroup wraps a. A nil cache still de-duplicates in-flight statements.
func NewGroup(a executor.Adapter, c Cache, ttl time.Duration) *Group {
	return &Group{
		Adapter: a,
		cache:   c,
		ttl:     ttl,
		waiters: make(map[string]int),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Query returns a cached or shared result, running stmt at most once per
// key at a time. The shared call runs under the deadline of the caller
// that started it and is cancelled once no caller is waiting for it.
func (g *Group) Query(ctx context.Context, stmt *compiler.Statement) (*executor.Result, error) {
	res, _, err := g.QueryCached(ctx, stmt)
	return res, err
}

// QueryCached is Query that also reports whether the result came from the
// cache.
func (g *Group) QueryCached(ctx context.Context, stmt *compiler.Statement) (*executor.Result, bool, error) {
	key, err := Key(stmt)
	if err != nil {
		res, err := g.Adapter.Query(ctx, stmt)
		return res, false, err
	}

	if g.cache != nil {
		res, ok, err := g.cache.Get(ctx, key)
		if err != nil {
			g.reportError(err)
		}
		if g.OnLookup != nil {
			g.OnLookup(ok)
		}
		if ok {
			return res, true, nil
		}
	}

	g.join(key)
	ch := g.sf.DoChan(key, func() (interface{}, error) {
		callCtx := g.start(ctx, key)
		defer g.finish(key)

		res, err := g.Adapter.Query(callCtx, stmt)
		if err != nil {
			return nil, err
		}
		if g.cache != nil {
			if err := g.cache.Set(context.WithoutCancel(ctx), key, res, g.ttl); err != nil {
				g.reportError(err)
			}
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		g.leave(key)
		return nil, false, errors.NewExecution(g.Name(), ctx.Err())
	case r := <-ch:
		g.leave(key)
		if r.Err != nil {
			return nil, false, r.Err
		}
		return r.Val.(*executor.Result), false, nil
	}
}

// join registers a caller waiting on key.
func (g *Group) join(key string) {
	g.mu.Lock()
	g.waiters[key]++
	g.mu.Unlock()
}

// leave deregisters a caller and cancels the in-flight call when it was
// the last one waiting.
func (g *Group) leave(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiters[key]--
	if g.waiters[key] > 0 {
		return
	}
	delete(g.waiters, key)
	if cancel, ok := g.cancels[key]; ok {
		cancel()
		delete(g.cancels, key)
	}
}

// start derives the context of the shared call from the starting caller:
// its values and deadline, but a cancellation owned by the group.
func (g *Group) start(ctx context.Context, key string) context.Context {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if deadline, ok := ctx.Deadline(); ok {
		callCtx, cancel = withDeadline(callCtx, cancel, deadline)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiters[key] == 0 {
		cancel()
		return callCtx
	}
	g.cancels[key] = cancel
	return callCtx
}

func (g *Group) finish(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cancel, ok := g.cancels[key]; ok {
		cancel()
		delete(g.cancels, key)
	}
}

func withDeadline(parent context.Context, cancelParent context.CancelFunc, d time.Time) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithDeadline(parent, d)
	return ctx, func() {
		cancel()
		cancelParent()
	}
}

func (g *Group) reportError(err error) {
	if g.OnError != nil {
		g.OnError(err)
	}
}
