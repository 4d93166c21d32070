package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func guildTarget(guild string) Target {
	return Target{Platform: "mock", SelfID: "bot", UserID: "u1", GuildID: guild, ChannelID: "c1"}
}

func TestZeroSelectorMatchesEverything(t *testing.T) {
	var s Selector
	assert.True(t, s.IsAll())
	assert.True(t, s.Match(Target{}))
	assert.True(t, s.Match(guildTarget("a")))
	assert.Equal(t, "*", s.String())
}

func TestGuildNarrowingIsMonotonic(t *testing.T) {
	inA := guildTarget("a")

	assert.True(t, All().Guild("a").Guild("a", "b").Match(inA))
	assert.False(t, All().Guild("a").Guild("b").Match(inA))

	s := All().Guild("a", "b").Guild("a", "c")
	assert.True(t, s.Match(inA))
	assert.False(t, s.Match(guildTarget("b")))
	assert.False(t, s.Match(guildTarget("c")))
}

func TestDisjointUserNeverMatches(t *testing.T) {
	s := All().User("a").User("b")
	targets := []Target{
		{UserID: "a"},
		{UserID: "b"},
		{UserID: ""},
		{Platform: "x", UserID: "a", GuildID: "g"},
	}
	for _, target := range targets {
		assert.False(t, s.Match(target), "target %+v", target)
	}
}

func TestEmptyIDsLeaveDimensionUnconstrained(t *testing.T) {
	base := All().Platform("mock")
	assert.Equal(t, base.String(), base.User().String())
	assert.True(t, base.User().Match(Target{Platform: "mock", UserID: "anyone"}))
}

func TestNarrowingDoesNotMutateReceiver(t *testing.T) {
	base := All().Platform("mock")
	_ = base.Guild("a")
	_ = base.User("u")
	assert.True(t, base.Match(Target{Platform: "mock", GuildID: "z", UserID: "v"}))
}

func TestPrivate(t *testing.T) {
	tests := []struct {
		name   string
		sel    Selector
		target Target
		want   bool
	}{
		{"private matches no guild", All().Private(), Target{UserID: "u"}, true},
		{"private rejects guild", All().Private(), Target{UserID: "u", GuildID: "g"}, false},
		{"private with user", All().Private("u"), Target{UserID: "u"}, true},
		{"private with other user", All().Private("u"), Target{UserID: "v"}, false},
		{"except private", All().ExceptPrivate(), Target{GuildID: "g"}, true},
		{"except private rejects dm", All().ExceptPrivate(), Target{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.Match(tt.target))
		})
	}
}

func TestExcept(t *testing.T) {
	s := All().Platform("mock").ExceptUser("banned")
	assert.True(t, s.Match(Target{Platform: "mock", UserID: "ok"}))
	assert.False(t, s.Match(Target{Platform: "mock", UserID: "banned"}))
	assert.False(t, s.Match(Target{Platform: "other", UserID: "ok"}))

	assert.False(t, All().ExceptGuild("a").Match(guildTarget("a")))
	assert.True(t, All().ExceptChannel("x").Match(guildTarget("a")))
	assert.False(t, All().ExceptPlatform("mock").Match(guildTarget("a")))
	assert.False(t, All().ExceptSelf("bot").Match(guildTarget("a")))
}

func TestUnionAndIntersect(t *testing.T) {
	a := All().Guild("a")
	b := All().User("u2")

	u := a.Union(b)
	assert.True(t, u.Match(guildTarget("a")))
	assert.True(t, u.Match(Target{UserID: "u2", GuildID: "z"}))
	assert.False(t, u.Match(guildTarget("z")))

	i := a.Intersect(All().User("u1"))
	assert.True(t, i.Match(guildTarget("a")))
	assert.False(t, i.Match(Target{UserID: "u2", GuildID: "a"}))
}

func TestNormalization(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	s := All().User(" " + composed + " ")
	assert.True(t, s.Match(Target{UserID: decomposed}))
	assert.False(t, s.Match(Target{UserID: "cafe"}))
}

func TestString(t *testing.T) {
	s := All().Platform("mock").Guild("a", "b").ExceptUser("x")
	assert.Equal(t, "platform in [mock] && guild in [a,b] && user not in [x]", s.String())
	assert.Equal(t, "(guild in [a] || private)", All().Guild("a").Union(All().Private()).String())
}
