package core

import (
	"context"
	"sync"
	"time"
)

// Prompt waits for the next message from the same user in the same
// channel and returns its content. It returns "" when timeout elapses
// or ctx ends first. The awaited message is consumed.
func (s *Session) Prompt(ctx context.Context, timeout time.Duration) string {
	app := s.app
	uid, cid := s.UID(), s.CID()
	reply := make(chan string, 1)
	var once sync.Once

	timer := app.clock.Timer(timeout)
	defer timer.Stop()

	dispose := app.root.Middleware(func(ctx context.Context, in *Session, next Next) (string, error) {
		if in.UID() != uid || in.CID() != cid {
			return next(ctx)
		}
		taken := false
		once.Do(func() {
			reply <- in.Content
			taken = true
		})
		if !taken {
			return next(ctx)
		}
		return "", nil
	}, true)
	defer dispose()

	select {
	case text := <-reply:
		return text
	case <-timer.C:
	case <-ctx.Done():
	}
	once.Do(func() {})
	// A message may have won the race against the timer.
	select {
	case text := <-reply:
		return text
	default:
		return ""
	}
}
