// Package websocket serves a generic bridge protocol over WebSocket.
//
// A bridge process connects, announces the accounts it relays and
// forwards inbound messages as JSON events:
//
//	{"type":"connect","platform":"discord","self_id":"42"}
//	{"type":"message","platform":"discord","self_id":"42","user_id":"7",
//	 "guild_id":"g","channel_id":"c","message_id":"m","content":"help"}
//
// Replies and messages sent by the bot travel back as
//
//	{"action":"send","platform":"discord","self_id":"42","channel_id":"c","content":"..."}
package websocket

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dshills/koishi/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// Platform is reported by Adapter.Platform. Sessions carry the platform
// named in each event.
const Platform = "websocket"

const writeTimeout = 10 * time.Second

// ErrClosed is returned when writing to a closed bridge connection.
var ErrClosed = errors.New("bridge connection closed")

// Adapter accepts bridge connections.
type Adapter struct {
	addr     string
	path     string
	token    string
	upgrader websocket.Upgrader

	mu     sync.Mutex
	app    *core.App
	logger *zap.Logger
	ln     net.Listener
	srv    *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPath sets the upgrade path. Defaults to "/bridge".
func WithPath(p string) Option {
	return func(a *Adapter) {
		if p != "" {
			a.path = p
		}
	}
}

// WithToken requires bridges to present token, either as a bearer
// Authorization header or a "token" query parameter.
func WithToken(token string) Option {
	return func(a *Adapter) {
		a.token = token
	}
}

// New creates an adapter listening on addr once started.
func New(addr string, opts ...Option) *Adapter {
	a := &Adapter{
		addr:  addr,
		path:  "/bridge",
		conns: make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements core.Adapter.
func (a *Adapter) Platform() string { return Platform }

// Addr returns the listening address, or "" before Start.
func (a *Adapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Start listens and serves bridge connections.
func (a *Adapter) Start(ctx context.Context, app *core.App) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv != nil {
		return fmt.Errorf("websocket adapter already started")
	}
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(a.path, a.serveBridge)

	a.app = app
	a.logger = app.Logger().Named("websocket")
	a.ln = ln
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("bridge server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("bridge server listening", zap.String("addr", ln.Addr().String()), zap.String("path", a.path))
	return nil
}

// Stop closes the listener and every bridge connection, then waits for
// in-flight dispatches.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.srv == nil || a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	srv, cancel := a.srv, a.cancel
	conns := make([]*conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	err := srv.Shutdown(ctx)
	for _, c := range conns {
		c.close()
	}
	cancel()
	a.wg.Wait()
	return err
}

func (a *Adapter) authorized(r *http.Request) bool {
	if a.token == "" {
		return true
	}
	given := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		given = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(a.token)) == 1
}

func (a *Adapter) serveBridge(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &conn{adapter: a, ws: ws, remote: r.RemoteAddr, bots: make(map[string]func())}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = ws.Close()
		return
	}
	a.conns[c] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	defer a.wg.Done()
	defer func() {
		c.close()
		a.mu.Lock()
		delete(a.conns, c)
		a.mu.Unlock()
	}()
	a.logger.Info("bridge connected", zap.String("remote", c.remote))
	c.readLoop()
}

// conn is one bridge connection. It may relay several accounts.
type conn struct {
	adapter *Adapter
	ws      *websocket.Conn
	remote  string

	wmu sync.Mutex

	mu     sync.Mutex
	bots   map[string]func()
	closed bool
}

func (c *conn) readLoop() {
	a := c.adapter
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Warn("bridge read failed", zap.String("remote", c.remote), zap.Error(err))
			}
			return
		}
		if !gjson.ValidBytes(data) {
			a.logger.Warn("invalid bridge frame", zap.String("remote", c.remote))
			continue
		}
		ev := gjson.ParseBytes(data)
		platform, selfID := ev.Get("platform").String(), ev.Get("self_id").String()
		if platform == "" || selfID == "" {
			a.logger.Warn("bridge event without account", zap.String("type", ev.Get("type").String()))
			continue
		}

		switch typ := ev.Get("type").String(); typ {
		case "connect":
			c.register(platform, selfID)
			frame, _ := sjson.SetBytes([]byte(`{"action":"ready"}`), "platform", platform)
			frame, _ = sjson.SetBytes(frame, "self_id", selfID)
			if err := c.write(frame); err != nil {
				a.logger.Warn("bridge write failed", zap.Error(err))
			}
		case "message":
			c.register(platform, selfID)
			s := sessionFrom(ev)
			if s.Timestamp.IsZero() {
				s.Timestamp = a.app.Clock().Now()
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				reply := a.app.Dispatch(a.ctx, s)
				if reply == "" {
					return
				}
				if err := c.send(s.Platform, s.SelfID, s.ChannelID, reply, s.MessageID); err != nil {
					a.logger.Warn("bridge reply failed", zap.String("session", s.ID), zap.Error(err))
				}
			}()
		default:
			a.logger.Debug("ignored bridge event", zap.String("type", typ))
		}
	}
}

func sessionFrom(ev gjson.Result) *core.Session {
	s := &core.Session{
		Type:      "message",
		Subtype:   ev.Get("subtype").String(),
		Platform:  ev.Get("platform").String(),
		SelfID:    ev.Get("self_id").String(),
		UserID:    ev.Get("user_id").String(),
		GuildID:   ev.Get("guild_id").String(),
		ChannelID: ev.Get("channel_id").String(),
		MessageID: ev.Get("message_id").String(),
		Content:   ev.Get("content").String(),
		Author:    ev.Get("author").String(),
	}
	if ts := ev.Get("timestamp"); ts.Exists() {
		s.Timestamp = time.UnixMilli(ts.Int())
	}
	if s.MessageID == "" {
		s.MessageID = uuid.NewString()
	}
	if s.ChannelID == "" && s.GuildID == "" {
		s.ChannelID = "private:" + s.UserID
	}
	return s
}

func (c *conn) register(platform, selfID string) {
	key := platform + ":" + selfID
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.bots[key]; ok {
		return
	}
	b := &bot{conn: c, platform: platform, selfID: selfID}
	c.bots[key] = c.adapter.app.AddBot(platform, selfID, b)
	c.adapter.logger.Info("bot online", zap.String("platform", platform), zap.String("self_id", selfID))
}

func (c *conn) send(platform, selfID, channelID, content, replyTo string) error {
	frame := []byte(`{"action":"send"}`)
	frame, _ = sjson.SetBytes(frame, "platform", platform)
	frame, _ = sjson.SetBytes(frame, "self_id", selfID)
	frame, _ = sjson.SetBytes(frame, "channel_id", channelID)
	frame, _ = sjson.SetBytes(frame, "content", content)
	if replyTo != "" {
		frame, _ = sjson.SetBytes(frame, "reply_to", replyTo)
	}
	return c.write(frame)
}

func (c *conn) write(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// close removes the relayed bots and closes the socket. It is safe to
// call more than once.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	removes := c.bots
	c.bots = nil
	c.mu.Unlock()

	for _, remove := range removes {
		remove()
	}
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	_ = c.ws.Close()
}

// bot sends on behalf of one relayed account.
type bot struct {
	conn     *conn
	platform string
	selfID   string
}

func (b *bot) SendMessage(_ context.Context, channelID, content string) (string, error) {
	id := uuid.NewString()
	if err := b.conn.send(b.platform, b.selfID, channelID, content, ""); err != nil {
		return "", err
	}
	return id, nil
}
