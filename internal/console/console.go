// Package console serves a read-only HTTP view of a running App: the
// plugin tree, the command list, a live registry feed and metrics.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dshills/koishi/internal/core"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 10 * time.Second
	feedBuffer   = 16
)

// Console is the HTTP console of one App.
type Console struct {
	app      *core.App
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	ln    net.Listener
	srv   *http.Server
	feeds map[*feed]struct{}
	wg    sync.WaitGroup
}

// New creates a console for app.
func New(app *core.App) *Console {
	return &Console{
		app:    app,
		logger: app.Logger().Named("console"),
		feeds:  make(map[*feed]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the console routes.
func (c *Console) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /registry", c.serveRegistry)
	mux.HandleFunc("GET /registry/ws", c.serveFeed)
	mux.HandleFunc("GET /commands", c.serveCommands)
	mux.Handle("GET /metrics", c.app.Metrics().Handler())
	return mux
}

// Start listens on addr.
func (c *Console) Start(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.srv != nil {
		return fmt.Errorf("console already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	c.ln = ln
	c.srv = &http.Server{Handler: c.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := c.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("console stopped", zap.Error(err))
		}
	}()
	c.logger.Info("console listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address, or "" when not started.
func (c *Console) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return ""
	}
	return c.ln.Addr().String()
}

// Stop shuts the server down and closes live feeds.
func (c *Console) Stop(ctx context.Context) error {
	c.mu.Lock()
	srv := c.srv
	feeds := make([]*feed, 0, len(c.feeds))
	for f := range c.feeds {
		feeds = append(feeds, f)
	}
	c.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, f := range feeds {
		f.close()
	}
	c.wg.Wait()
	return err
}

func (c *Console) serveRegistry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, c.app.Registry().Snapshot())
}

type commandInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Declaration string   `json:"declaration"`
	Aliases     []string `json:"aliases,omitempty"`
	Authority   int      `json:"authority"`
	Hidden      bool     `json:"hidden,omitempty"`
}

func (c *Console) serveCommands(w http.ResponseWriter, _ *http.Request) {
	cmds := c.app.Commands()
	out := make([]commandInfo, 0, len(cmds))
	for _, cmd := range cmds {
		cfg := cmd.Config()
		out = append(out, commandInfo{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Declaration: cmd.Declaration(),
			Aliases:     cmd.Aliases(),
			Authority:   cfg.Authority,
			Hidden:      cfg.Hidden,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// serveFeed streams a registry snapshot on connect and after every
// plugin change.
func (c *Console) serveFeed(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	f := &feed{ws: ws, queue: make(chan core.StateInfo, feedBuffer), done: make(chan struct{})}
	f.queue <- c.app.Registry().Snapshot()

	hook := c.app.Bus().On(core.EventRegistry, func(_ context.Context, args ...any) (any, error) {
		if len(args) > 0 {
			if info, ok := args[0].(core.StateInfo); ok {
				f.push(info)
			}
		}
		return nil, nil
	})

	c.mu.Lock()
	c.feeds[f] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	defer func() {
		c.app.Bus().Off(hook)
		f.close()
		c.mu.Lock()
		delete(c.feeds, f)
		c.mu.Unlock()
		c.wg.Done()
	}()

	// Reads only detect the client going away.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				f.close()
				return
			}
		}
	}()

	for {
		select {
		case info := <-f.queue:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(info); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					c.logger.Debug("feed write failed", zap.Error(err))
				}
				return
			}
		case <-f.done:
			return
		}
	}
}

// feed is one live registry subscriber.
type feed struct {
	ws    *websocket.Conn
	queue chan core.StateInfo
	once  sync.Once
	done  chan struct{}
}

// push enqueues info, replacing the oldest pending snapshot when the
// client lags.
func (f *feed) push(info core.StateInfo) {
	for {
		select {
		case <-f.done:
			return
		case f.queue <- info:
			return
		default:
		}
		select {
		case <-f.queue:
		default:
		}
	}
}

func (f *feed) close() {
	f.once.Do(func() {
		close(f.done)
		_ = f.ws.Close()
	})
}
