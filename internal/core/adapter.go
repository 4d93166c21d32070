package core

import (
	"context"
	"slices"
)

// Adapter connects a chat platform. Start registers bots and begins
// dispatching inbound messages; Stop ends it.
type Adapter interface {
	Platform() string
	Start(ctx context.Context, app *App) error
	Stop(ctx context.Context) error
}

// Bot sends messages on behalf of one account.
type Bot interface {
	// SendMessage posts content to a channel and returns the message id.
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

// AddAdapter registers an adapter started by Start.
func (app *App) AddAdapter(ad Adapter) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.adapters = append(app.adapters, ad)
}

// Adapters returns registered adapters in order.
func (app *App) Adapters() []Adapter {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return slices.Clone(app.adapters)
}

// AddBot registers the bot for an account and returns a function that
// removes it.
func (app *App) AddBot(platform, selfID string, b Bot) (remove func()) {
	key := platform + ":" + selfID
	app.mu.Lock()
	app.bots[key] = b
	app.mu.Unlock()
	return func() {
		app.mu.Lock()
		defer app.mu.Unlock()
		if app.bots[key] == b {
			delete(app.bots, key)
		}
	}
}

// Bot returns the bot for an account, or nil.
func (app *App) Bot(platform, selfID string) Bot {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.bots[platform+":"+selfID]
}
