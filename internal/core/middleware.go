package core

import (
	"context"
	"runtime/debug"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Next continues the middleware chain. Fallbacks are appended to the
// end of the chain and run if nothing before them replies.
type Next func(ctx context.Context, fallbacks ...Fallback) (string, error)

// Fallback is a chain step that is not bound to a session scope.
type Fallback func(ctx context.Context, next Next) (string, error)

// Middleware handles a session. It either replies by returning without
// calling next, or delegates by returning next's result.
type Middleware func(ctx context.Context, s *Session, next Next) (string, error)

// FallbackText is a fallback that replies with text.
func FallbackText(text string) Fallback {
	return func(context.Context, Next) (string, error) {
		return text, nil
	}
}

type middlewareEntry struct {
	ctx *Context
	mw  Middleware
}

// middlewareChain holds registered middleware. Prepended entries run
// first, latest prepend first.
type middlewareChain struct {
	mu      sync.RWMutex
	prepend []*middlewareEntry
	append  []*middlewareEntry
}

func (c *middlewareChain) add(ctx *Context, mw Middleware, prepend bool) (remove func()) {
	e := &middlewareEntry{ctx: ctx, mw: mw}
	c.mu.Lock()
	if prepend {
		c.prepend = append([]*middlewareEntry{e}, c.prepend...)
	} else {
		c.append = append(slices.Clip(c.append), e)
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.prepend = without(c.prepend, e)
		c.append = without(c.append, e)
	}
}

func without(list []*middlewareEntry, e *middlewareEntry) []*middlewareEntry {
	i := slices.Index(list, e)
	if i < 0 {
		return list
	}
	out := make([]*middlewareEntry, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

func (c *middlewareChain) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prepend) + len(c.append)
}

// steps returns the middleware matching s, bound to it, in run order.
// pivot runs after the prepended entries and before the appended ones.
func (c *middlewareChain) steps(s *Session, pivot Fallback) []Fallback {
	c.mu.RLock()
	prepend, appended := c.prepend, c.append
	c.mu.RUnlock()

	steps := make([]Fallback, 0, len(prepend)+len(appended)+1)
	bind := func(entries []*middlewareEntry) {
		for _, e := range entries {
			if !e.ctx.Match(s) {
				continue
			}
			mw := e.mw
			steps = append(steps, func(ctx context.Context, next Next) (string, error) {
				return mw(ctx, s, next)
			})
		}
	}
	bind(prepend)
	if pivot != nil {
		steps = append(steps, pivot)
	}
	bind(appended)
	return steps
}

// chainRun executes one composed chain. It is owned by a single dispatch.
type chainRun struct {
	app   *App
	steps []Fallback
}

func (r *chainRun) next(i int) Next {
	return func(ctx context.Context, fallbacks ...Fallback) (string, error) {
		r.steps = append(r.steps, fallbacks...)
		if i >= len(r.steps) {
			return "", nil
		}
		return r.call(ctx, i), nil
	}
}

// call runs step i. Errors and panics are logged and become no reply.
func (r *chainRun) call(ctx context.Context, i int) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.app.metrics.MiddlewareErrors.Inc()
			r.app.logger.Error("middleware panicked",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			out = ""
		}
	}()
	out, err := r.steps[i](ctx, r.next(i+1))
	if err != nil {
		r.app.metrics.MiddlewareErrors.Inc()
		r.app.logger.Warn("middleware failed", zap.Error(err))
		return ""
	}
	return out
}

func (r *chainRun) run(ctx context.Context) string {
	if len(r.steps) == 0 {
		return ""
	}
	return r.call(ctx, 0)
}
