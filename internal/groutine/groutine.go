// Package groutine starts named goroutines.
//
// Names show up as pprof labels, so a goroutine dump of the relay tells the
// stream ticker, the console reader and the stack pumps apart.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey struct{}

// Go runs fn in a goroutine labelled name. A nil parent means context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name Go attached to ctx.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

// Group tracks named goroutines so their owner can wait for them on shutdown.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn like the package level Go and tracks it.
func (g *Group) Go(parent context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(parent, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Wait blocks until every tracked goroutine returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
