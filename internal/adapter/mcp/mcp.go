// Package mcp exposes the bot as a Model Context Protocol server over
// stdio. A client talks to the bot through the send_message tool.
package mcp

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/dshills/koishi/internal/core"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Platform is the platform name of MCP sessions.
const Platform = "mcp"

// Adapter serves MCP tools backed by an App.
type Adapter struct {
	in      io.Reader
	out     io.Writer
	userID  string
	selfID  string
	version string

	mu     sync.Mutex
	app    *core.App
	logger *zap.Logger
	outbox map[string][]string
	remove func()
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithUserID sets the user id of sessions without an explicit user_id.
func WithUserID(id string) Option {
	return func(a *Adapter) {
		if id != "" {
			a.userID = id
		}
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(a *Adapter) {
		if v != "" {
			a.version = v
		}
	}
}

// New creates an adapter speaking MCP over in and out.
func New(in io.Reader, out io.Writer, opts ...Option) *Adapter {
	a := &Adapter{
		in:      in,
		out:     out,
		userID:  "mcp",
		selfID:  "koishi",
		version: "dev",
		outbox:  make(map[string][]string),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements core.Adapter.
func (a *Adapter) Platform() string { return Platform }

// Done is closed when the client disconnects or the adapter stops.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Bind registers the bot with app without serving. Start calls it.
func (a *Adapter) Bind(app *core.App) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.app != nil {
		return
	}
	a.app = app
	a.logger = app.Logger().Named("mcp")
	a.remove = app.AddBot(Platform, a.selfID, a)
}

// Server builds the MCP server with the bot tools.
func (a *Adapter) Server() *server.MCPServer {
	s := server.NewMCPServer(
		"koishi",
		a.version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	send := &sendTool{adapter: a}
	s.AddTool(send.Definition(), send.Handle)
	list := &listTool{adapter: a}
	s.AddTool(list.Definition(), list.Handle)
	return s
}

// Start binds to app and serves requests until the input closes.
func (a *Adapter) Start(ctx context.Context, app *core.App) error {
	a.Bind(app)
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return fmt.Errorf("mcp adapter already started")
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.mu.Unlock()

	stdio := server.NewStdioServer(a.Server())
	go func() {
		defer a.finish()
		if err := stdio.Listen(ctx, a.in, a.out); err != nil && ctx.Err() == nil {
			a.logger.Warn("mcp server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop cancels serving and removes the bot.
func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	cancel, remove := a.cancel, a.remove
	a.remove = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if remove != nil {
		remove()
	}
	a.finish()
	return nil
}

func (a *Adapter) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

// SendMessage implements core.Bot. Messages wait in the channel outbox
// until the next send_message call on that channel collects them.
func (a *Adapter) SendMessage(_ context.Context, channelID, content string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outbox[channelID] = append(a.outbox[channelID], content)
	return uuid.NewString(), nil
}

func (a *Adapter) drain(channelID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := a.outbox[channelID]
	delete(a.outbox, channelID)
	return msgs
}

func (a *Adapter) bound() *core.App {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.app
}

// sendTool handles the send_message tool.
type sendTool struct {
	adapter *Adapter
}

func (t *sendTool) Definition() mcp.Tool {
	return mcp.NewTool("send_message",
		mcp.WithDescription(
			"Send a chat message to the bot and return everything it says in response. "+
				"Commands such as \"help\" list what the bot can do.",
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message text"),
		),
		mcp.WithString("user_id",
			mcp.Description("Sender id (default: the configured MCP user)"),
		),
		mcp.WithString("guild_id",
			mcp.Description("Guild id; omit for a private message"),
		),
		mcp.WithString("channel_id",
			mcp.Description("Channel id (default: private channel of the sender)"),
		),
	)
}

func (t *sendTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := t.adapter
	app := a.bound()
	if app == nil {
		return mcp.NewToolResultError("bot is not running"), nil
	}
	content := strings.TrimSpace(req.GetString("content", ""))
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}

	s := &core.Session{
		Type:      "message",
		Platform:  Platform,
		SelfID:    a.selfID,
		UserID:    req.GetString("user_id", a.userID),
		GuildID:   req.GetString("guild_id", ""),
		ChannelID: req.GetString("channel_id", ""),
		MessageID: uuid.NewString(),
		Content:   content,
		Timestamp: app.Clock().Now(),
	}
	if s.ChannelID == "" {
		if s.GuildID != "" {
			s.ChannelID = s.GuildID
		} else {
			s.ChannelID = "private:" + s.UserID
		}
	}
	s.Author = s.UserID

	reply := app.Dispatch(ctx, s)
	msgs := a.drain(s.ChannelID)
	if reply != "" {
		msgs = append(msgs, reply)
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText("(no reply)"), nil
	}
	return mcp.NewToolResultText(strings.Join(msgs, "\n")), nil
}

// listTool handles the list_commands tool.
type listTool struct {
	adapter *Adapter
}

func (t *listTool) Definition() mcp.Tool {
	return mcp.NewTool("list_commands",
		mcp.WithDescription("List the bot's visible commands with their descriptions."),
	)
}

func (t *listTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	app := t.adapter.bound()
	if app == nil {
		return mcp.NewToolResultError("bot is not running"), nil
	}
	var lines []string
	for _, cmd := range app.Commands() {
		if cmd.Config().Hidden {
			continue
		}
		line := cmd.Name()
		if d := cmd.Description(); d != "" {
			line += " - " + d
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("No commands available."), nil
	}
	slices.Sort(lines)
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}
