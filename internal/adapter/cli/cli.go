// Package cli is a line-oriented adapter for local use. Every input
// line is a private message from one fixed user; replies and sent
// messages are written to the output.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dshills/koishi/internal/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Platform is the platform name of cli sessions.
const Platform = "cli"

// Adapter reads messages from an io.Reader and writes to an io.Writer.
type Adapter struct {
	in     io.Reader
	out    io.Writer
	userID string
	selfID string
	prompt string
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	remove func()
	done   chan struct{}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithUserID sets the id of the user typing. Defaults to "cli".
func WithUserID(id string) Option {
	return func(a *Adapter) {
		if id != "" {
			a.userID = id
		}
	}
}

// WithSelfID sets the bot id. Defaults to "koishi".
func WithSelfID(id string) Option {
	return func(a *Adapter) {
		if id != "" {
			a.selfID = id
		}
	}
}

// WithPrompt sets text written before each input line.
func WithPrompt(p string) Option {
	return func(a *Adapter) {
		a.prompt = p
	}
}

// New creates an adapter over in and out.
func New(in io.Reader, out io.Writer, opts ...Option) *Adapter {
	a := &Adapter{
		in:     in,
		out:    out,
		userID: "cli",
		selfID: "koishi",
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements core.Adapter.
func (a *Adapter) Platform() string { return Platform }

// Done is closed when the input is exhausted or the adapter stopped.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Start registers the bot and begins reading input.
func (a *Adapter) Start(ctx context.Context, app *core.App) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return fmt.Errorf("cli adapter already started")
	}
	a.logger = app.Logger().Named("cli")
	a.remove = app.AddBot(Platform, a.selfID, a)

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	go a.read(ctx, app)
	return nil
}

func (a *Adapter) read(ctx context.Context, app *core.App) {
	defer a.finish()
	sc := bufio.NewScanner(a.in)
	a.writePrompt()
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			if reply := app.Dispatch(ctx, a.session(app, line)); reply != "" {
				a.write(reply)
			}
		}
		a.writePrompt()
	}
	if err := sc.Err(); err != nil {
		a.logger.Warn("reading input", zap.Error(err))
	}
}

func (a *Adapter) session(app *core.App, content string) *core.Session {
	return &core.Session{
		Type:      "message",
		Subtype:   core.SubtypePrivate,
		Platform:  Platform,
		SelfID:    a.selfID,
		UserID:    a.userID,
		ChannelID: "private:" + a.userID,
		MessageID: uuid.NewString(),
		Content:   content,
		Author:    a.userID,
		Timestamp: app.Clock().Now(),
	}
}

// SendMessage implements core.Bot by writing content to the output.
func (a *Adapter) SendMessage(_ context.Context, _ string, content string) (string, error) {
	a.write(content)
	return uuid.NewString(), nil
}

func (a *Adapter) write(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintln(a.out, text)
}

func (a *Adapter) writePrompt() {
	if a.prompt == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprint(a.out, a.prompt)
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

// Stop stops dispatching input. A read blocked on the input returns
// with the next line.
func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	cancel, remove := a.cancel, a.remove
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
