package core

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func TestSuggestionConfirmed(t *testing.T) {
	app := newTestApp(t)
	app.Context().Command("foo <x>", "").Action(echoAction)
	ctx := context.Background()
	base := app.chain.len()

	reply := app.Dispatch(ctx, privateMsg("fo bar"))
	assert.Equal(t, `Did you mean "foo"? Send a period to apply the suggestion.`, reply)
	assert.Equal(t, base+1, app.chain.len())

	assert.Equal(t, "bar", app.Dispatch(ctx, privateMsg(".")))
	assert.Equal(t, base, app.chain.len())
}

func TestSuggestionNamesEveryCandidate(t *testing.T) {
	app := newTestApp(t)
	app.Context().Command("foo <text>", "").Action(echoAction)
	app.Context().Command("fooo", "").Action(replyWith("fooo"))
	ctx := context.Background()

	reply := app.Dispatch(ctx, privateMsg("fo bar"))
	assert.Contains(t, reply, `Did you mean "foo" or "fooo"?`)

	assert.Equal(t, "bar", app.Dispatch(ctx, privateMsg(".")))
	assert.Equal(t, "", app.Dispatch(ctx, privateMsg(".")))
}

func TestSuggestionDeclined(t *testing.T) {
	app := newTestApp(t)
	app.Context().Command("foo <x>", "").Action(echoAction)
	ctx := context.Background()
	base := app.chain.len()

	app.Dispatch(ctx, privateMsg("fo bar"))
	assert.Equal(t, "", app.Dispatch(ctx, privateMsg("never mind")))
	assert.Equal(t, base, app.chain.len())
	assert.Equal(t, "", app.Dispatch(ctx, privateMsg(".")))
}

func TestSuggestionScopedToUser(t *testing.T) {
	app := newTestApp(t)
	app.Context().Command("foo <x>", "").Action(echoAction)
	ctx := context.Background()

	app.Dispatch(ctx, privateMsg("fo bar"))
	other := privateMsg(".")
	other.UserID, other.ChannelID = "bob", "private:bob"
	assert.Equal(t, "", app.Dispatch(ctx, other))
	assert.Equal(t, "bar", app.Dispatch(ctx, privateMsg("。")))
}

func TestSuggestionExpires(t *testing.T) {
	mock := clock.NewMock()
	app := newTestApp(t, WithClock(mock), WithSuggestionTimeout(time.Minute))
	app.Context().Command("foo <x>", "").Action(echoAction)
	ctx := context.Background()
	base := app.chain.len()

	app.Dispatch(ctx, privateMsg("fo bar"))
	require.Equal(t, base+1, app.chain.len())

	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return app.chain.len() == base }, waitFor, time.Millisecond)
	assert.Equal(t, "", app.Dispatch(ctx, privateMsg(".")))
}

func TestNoSuggestionInGroupWithoutPrefix(t *testing.T) {
	app := newTestApp(t)
	app.Context().Command("foo <x>", "").Action(echoAction)
	base := app.chain.len()

	assert.Equal(t, "", app.Dispatch(context.Background(), groupMsg("g1", "fo bar")))
	assert.Equal(t, base, app.chain.len())
}

func TestPromptReceivesNextMessage(t *testing.T) {
	app := newTestApp(t)
	answers := make(chan string, 1)
	app.Context().Command("ask", "").Action(func(ctx context.Context, a *Argv) (string, error) {
		answers <- a.Session.Prompt(ctx, time.Minute)
		return "", nil
	})
	ctx := context.Background()
	base := app.chain.len()

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.Dispatch(ctx, privateMsg("ask"))
	}()
	require.Eventually(t, func() bool { return app.chain.len() == base+1 }, waitFor, time.Millisecond)

	assert.Equal(t, "", app.Dispatch(ctx, privateMsg("42")))
	assert.Equal(t, "42", <-answers)
	<-done
	assert.Equal(t, base, app.chain.len())
}

func TestPromptTimeout(t *testing.T) {
	mock := clock.NewMock()
	app := newTestApp(t, WithClock(mock))
	answers := make(chan string, 1)
	app.Context().Command("ask", "").Action(func(ctx context.Context, a *Argv) (string, error) {
		answers <- a.Session.Prompt(ctx, time.Minute)
		return "", nil
	})
	ctx := context.Background()
	base := app.chain.len()

	go app.Dispatch(ctx, privateMsg("ask"))
	require.Eventually(t, func() bool { return app.chain.len() == base+1 }, waitFor, time.Millisecond)

	mock.Add(time.Minute)
	select {
	case got := <-answers:
		assert.Equal(t, "", got)
	case <-time.After(waitFor):
		t.Fatal("prompt did not time out")
	}
	require.Eventually(t, func() bool { return app.chain.len() == base }, waitFor, time.Millisecond)
}

func TestPromptCanceled(t *testing.T) {
	app := newTestApp(t)
	s := privateMsg("")
	s.bind(app)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "", s.Prompt(ctx, time.Hour))
}
