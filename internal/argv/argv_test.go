package argv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contents(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Content
	}
	return out
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{"empty", "", nil},
		{"spaces", "   ", nil},
		{"words", "echo  foo bar", []string{"echo", "foo", "bar"}},
		{"double quotes", `say "hello world" x`, []string{"say", "hello world", "x"}},
		{"single quotes", `say 'a b'`, []string{"say", "a b"}},
		{"escaped quote", `say "a \"b\""`, []string{"say", `a "b"`}},
		{"unterminated", `say "abc`, []string{"say", "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.source)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, contents(got))
		})
	}
}

func TestTokenizeInterpolation(t *testing.T) {
	tokens := Tokenize("echo a$(echo 0)b $(echo $(echo 1))")
	require.Len(t, tokens, 3)

	assert.Equal(t, "ab", tokens[1].Content)
	assert.Equal(t, []Inter{{Pos: 1, Source: "echo 0"}}, tokens[1].Inters)

	assert.Equal(t, "", tokens[2].Content)
	assert.Equal(t, []Inter{{Pos: 0, Source: "echo $(echo 1)"}}, tokens[2].Inters)
	assert.True(t, HasInters(tokens))
}

func TestTokenizeInterpolationQuoting(t *testing.T) {
	single := Tokenize(`'$(echo 0)'`)
	require.Len(t, single, 1)
	assert.Empty(t, single[0].Inters)
	assert.Equal(t, "$(echo 0)", single[0].Content)

	double := Tokenize(`"x $(echo 0)"`)
	require.Len(t, double, 1)
	assert.Len(t, double[0].Inters, 1)

	unbalanced := Tokenize("$(echo")
	assert.Equal(t, []string{"$(echo"}, contents(unbalanced))
	assert.False(t, HasInters(unbalanced))
}

func TestExpand(t *testing.T) {
	tokens := Tokenize("a$(x)b$(y)c")
	require.Len(t, tokens, 1)
	err := tokens[0].Expand(func(source string) (string, error) {
		return "<" + source + ">", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a<x>b<y>c", tokens[0].Content)
	assert.Empty(t, tokens[0].Inters)

	boom := errors.New("boom")
	tokens = Tokenize("$(x)")
	assert.ErrorIs(t, tokens[0].Expand(func(string) (string, error) { return "", boom }), boom)
}

func TestStringify(t *testing.T) {
	tokens := Tokenize(`a  "b c"   d `)
	assert.Equal(t, `a  "b c"   d`, Stringify(tokens))
	assert.Equal(t, "", Stringify(nil))
}

func TestParseDeclaration(t *testing.T) {
	name, decls, err := ParseDeclaration("User.Flag <id:integer> [reason] [...extra]")
	require.NoError(t, err)
	assert.Equal(t, "user.flag", name)
	assert.Equal(t, []Declaration{
		{Name: "id", Type: "integer", Required: true},
		{Name: "reason"},
		{Name: "extra", Variadic: true},
	}, decls)

	_, decls, err = ParseDeclaration("list [items...]")
	require.NoError(t, err)
	assert.Equal(t, []Declaration{{Name: "items", Variadic: true}}, decls)

	_, _, err = ParseDeclaration("   ")
	assert.ErrorIs(t, err, ErrInvalidDeclaration)

	_, _, err = ParseDeclaration("bad [...a] [b]")
	assert.ErrorIs(t, err, ErrInvalidDeclaration)
}

func TestParseOptionDecl(t *testing.T) {
	opt, err := ParseOptionDecl("allIn", "-a, --all-in [value:number]  include everything")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "all-in"}, opt.Aliases)
	assert.Equal(t, "number", opt.Type)
	assert.False(t, opt.Required)
	assert.False(t, opt.IsFlag())
	assert.Equal(t, "include everything", opt.Description)
	assert.Equal(t, "-a, --all-in [value:number]", opt.Syntax())

	flag, err := ParseOptionDecl("force", "-f")
	require.NoError(t, err)
	assert.True(t, flag.IsFlag())
	assert.Equal(t, []string{"f", "force"}, flag.Aliases)

	untyped, err := ParseOptionDecl("name", "-n <name>")
	require.NoError(t, err)
	assert.Equal(t, "string", untyped.Type)
	assert.True(t, untyped.Required)
}

func newTestSchema(t *testing.T, decl string, options map[string]string) *Schema {
	t.Helper()
	_, args, err := ParseDeclaration(decl)
	require.NoError(t, err)
	s := NewSchema(args, nil)
	for name, src := range options {
		opt, err := ParseOptionDecl(name, src)
		require.NoError(t, err)
		require.NoError(t, s.AddOption(opt))
	}
	return s
}

func TestSchemaParse(t *testing.T) {
	s := newTestSchema(t, "cmd <a> [b:number]", map[string]string{
		"force":  "-f, --force",
		"count":  "-c, --count <n:integer>",
		"dryRun": "-d, --dry-run",
	})

	tests := []struct {
		name    string
		source  string
		args    []any
		options map[string]any
		rest    string
		unknown []string
	}{
		{"positional", "x 2", []any{"x", 2.0}, map[string]any{}, "", nil},
		{"short flag", "-f x", []any{"x"}, map[string]any{"force": true}, "", nil},
		{"long value", "--count 3 x", []any{"x"}, map[string]any{"count": 3}, "", nil},
		{"inline value", "--count=4", nil, map[string]any{"count": 4}, "", nil},
		{"combined shorts", "-fc 5", nil, map[string]any{"force": true, "count": 5}, "", nil},
		{"camel alias", "--dry-run", nil, map[string]any{"dryRun": true}, "", nil},
		{"negation", "--no-force", nil, map[string]any{"force": false}, "", nil},
		{"negative number", "-5", []any{"-5"}, map[string]any{}, "", nil},
		{"raw rest", "x -- -f --count", []any{"x"}, map[string]any{}, "-f --count", nil},
		{"unknown", "--foo-bar", nil, map[string]any{"fooBar": true}, "", []string{"foo-bar"}},
		{"quoted dash", `"-f"`, []any{"-f"}, map[string]any{}, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Parse(Tokenize(tt.source))
			require.NoError(t, err)
			assert.Equal(t, tt.args, res.Args)
			assert.Equal(t, tt.options, res.Options)
			assert.Equal(t, tt.rest, res.Rest)
			assert.Equal(t, tt.unknown, res.Unknown)
		})
	}
}

func TestSchemaParseNoNegated(t *testing.T) {
	s := newTestSchema(t, "cmd", nil)
	opt, err := ParseOptionDecl("noCache", "--no-cache")
	require.NoError(t, err)
	require.NoError(t, s.AddOption(opt))

	other, err := ParseOptionDecl("color", "--color")
	require.NoError(t, err)
	other.NoNegated = true
	require.NoError(t, s.AddOption(other))

	res, err := s.Parse(Tokenize("--no-cache --no-color"))
	require.NoError(t, err)
	assert.Equal(t, true, res.Options["noCache"])
	assert.Equal(t, true, res.Options["noColor"])
	assert.Equal(t, []string{"no-color"}, res.Unknown)
}

func TestSchemaParseText(t *testing.T) {
	s := newTestSchema(t, "echo <message:text>", nil)
	res, err := s.Parse(Tokenize(`hello   "big" -x world`))
	require.NoError(t, err)
	assert.Equal(t, []any{`hello   "big" -x world`}, res.Args)
	assert.Empty(t, res.Options)
}

func TestSchemaParseVariadic(t *testing.T) {
	s := newTestSchema(t, "sum [...n:number]", nil)
	res, err := s.Parse(Tokenize("1 2 3.5"))
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.5}, res.Args)
}

func TestSchemaParseErrors(t *testing.T) {
	s := newTestSchema(t, "cmd <n:posint>", map[string]string{"count": "-c <n:integer>"})

	_, err := s.Parse(Tokenize("0"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "argument", verr.Kind)
	assert.Equal(t, "n", verr.Name)

	_, err = s.Parse(Tokenize("1 -c abc"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "option", verr.Kind)

	_, err = s.Parse(Tokenize("1 -c"))
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestSchemaFallbackAndValue(t *testing.T) {
	s := newTestSchema(t, "cmd", nil)
	opt, err := ParseOptionDecl("mode", "-m")
	require.NoError(t, err)
	opt.Value = "fast"
	opt.Fallback = "slow"
	require.NoError(t, s.AddOption(opt))

	res, err := s.Parse(Tokenize(""))
	require.NoError(t, err)
	assert.Equal(t, "slow", res.Options["mode"])

	res, err = s.Parse(Tokenize("-m"))
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Options["mode"])
}

func TestSchemaDuplicateAlias(t *testing.T) {
	s := newTestSchema(t, "cmd", map[string]string{"force": "-f"})
	opt, err := ParseOptionDecl("fast", "-f")
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddOption(opt), ErrDuplicateOption)

	assert.True(t, s.RemoveOption("force"))
	assert.NoError(t, s.AddOption(opt))
}

func TestTypes(t *testing.T) {
	types := NewTypes()
	types.Register("upper", func(s string) (any, error) { return s + "!", nil })

	v, err := types.Coerce("upper", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", v)

	_, err = types.Coerce("missing", "x")
	assert.ErrorIs(t, err, ErrUnknownType)

	v, err = types.Coerce("boolean", "yes")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = types.Coerce("natural", "-1")
	assert.Error(t, err)
}

func TestCase(t *testing.T) {
	assert.Equal(t, "fooBarBaz", CamelCase("foo-bar-baz"))
	assert.Equal(t, "foo-bar-baz", ParamCase("fooBarBaz"))
	assert.Equal(t, "x", CamelCase("x"))
}
