package argv

import (
	"fmt"
	"strings"
	"sync"
)

// Result is the outcome of parsing a token list against a Schema.
type Result struct {
	// Args holds positional values in input order.
	Args []any

	// Options holds option values keyed by option name.
	Options map[string]any

	// Rest is the raw text after a "--" separator.
	Rest string

	// Unknown lists option spellings that matched no declaration.
	Unknown []string
}

// Schema is the set of argument and option declarations of one command.
// It is safe for concurrent use.
type Schema struct {
	mu      sync.RWMutex
	args    []Declaration
	options []*OptionDecl
	alias   map[string]*OptionDecl
	types   *Types
}

// NewSchema creates a schema for the given arguments. A nil types uses
// the builtin registry.
func NewSchema(args []Declaration, types *Types) *Schema {
	if types == nil {
		types = NewTypes()
	}
	return &Schema{
		args:  args,
		alias: make(map[string]*OptionDecl),
		types: types,
	}
}

// Args returns the positional declarations.
func (s *Schema) Args() []Declaration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Declaration(nil), s.args...)
}

// Options returns option declarations in registration order.
func (s *Schema) Options() []*OptionDecl {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*OptionDecl(nil), s.options...)
}

// Option returns the declaration stored under name.
func (s *Schema) Option(name string) *OptionDecl {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.options {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// AddOption registers an option. Redeclaring a name replaces the old
// declaration; an alias owned by a different option is an error.
func (s *Schema) AddOption(opt *OptionDecl) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opt.Type != "" && !s.types.Has(opt.Type) {
		return fmt.Errorf("option %s: %w %q", opt.Name, ErrUnknownType, opt.Type)
	}
	for _, a := range opt.Aliases {
		if owner, ok := s.alias[a]; ok && owner.Name != opt.Name {
			return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateOption, a, owner.Name, opt.Name)
		}
	}
	for i, o := range s.options {
		if o.Name == opt.Name {
			for _, a := range o.Aliases {
				delete(s.alias, a)
			}
			s.options = append(s.options[:i:i], s.options[i+1:]...)
			break
		}
	}
	s.options = append(s.options, opt)
	for _, a := range opt.Aliases {
		s.alias[a] = opt
	}
	return nil
}

// RemoveOption deletes the option stored under name.
func (s *Schema) RemoveOption(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.options {
		if o.Name == name {
			for _, a := range o.Aliases {
				delete(s.alias, a)
			}
			s.options = append(s.options[:i:i], s.options[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Schema) lookup(name string) *OptionDecl {
	if o, ok := s.alias[name]; ok {
		return o
	}
	return s.alias[ParamCase(name)]
}

// resolveOption finds the declaration for a dash-less spelling and reports
// whether the spelling is the negated --no-x form.
func (s *Schema) resolveOption(name string) (*OptionDecl, bool) {
	if o := s.lookup(name); o != nil {
		return o, false
	}
	if strings.HasPrefix(name, "no-") {
		if o := s.lookup(name[3:]); o != nil && !o.NoNegated {
			return o, true
		}
	}
	return nil, false
}

func (s *Schema) argDecl(index int) (Declaration, bool) {
	if index < len(s.args) {
		return s.args[index], true
	}
	if n := len(s.args); n > 0 && s.args[n-1].Variadic {
		return s.args[n-1], true
	}
	return Declaration{}, false
}

// swallowsRest reports whether the argument at index is a trailing text argument.
func (s *Schema) swallowsRest(index int) bool {
	return index == len(s.args)-1 && s.args[index].Type == "text" && !s.args[index].Variadic
}

// Parse interprets tokens according to the schema. Interpolations must
// already be expanded. Coercion failures are returned as *ValidationError.
func (s *Schema) Parse(tokens []Token) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &Result{Options: make(map[string]any)}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		content := tok.Content

		if s.swallowsRest(len(res.Args)) {
			res.Args = append(res.Args, Stringify(tokens[i:]))
			break
		}

		if tok.Quoted != 0 || !strings.HasPrefix(content, "-") || content == "-" || isNumeric(content) {
			v, err := s.coerceArg(len(res.Args), content)
			if err != nil {
				return nil, err
			}
			res.Args = append(res.Args, v)
			continue
		}

		if content == "--" {
			res.Rest = Stringify(tokens[i+1:])
			break
		}

		var names []string
		var inline *string
		body := strings.TrimLeft(content, "-")
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			v := body[eq+1:]
			inline = &v
			body = body[:eq]
		}
		if strings.HasPrefix(content, "--") {
			names = []string{body}
		} else {
			for _, r := range body {
				names = append(names, string(r))
			}
		}

		for j, name := range names {
			last := j == len(names)-1
			opt, negated := s.resolveOption(name)
			key := CamelCase(name)
			if opt != nil {
				key = opt.Name
			} else {
				res.Unknown = append(res.Unknown, name)
			}

			var val any
			switch {
			case negated:
				val = false
			case last && inline != nil:
				typ := ""
				if opt != nil {
					typ = opt.Type
					if opt.IsFlag() {
						typ = "boolean"
					}
				}
				v, err := s.coerceOption(opt, key, typ, *inline)
				if err != nil {
					return nil, err
				}
				val = v
			case opt == nil || opt.IsFlag() || !last:
				val = true
				if opt != nil && opt.Value != nil {
					val = opt.Value
				}
			default:
				if i+1 < len(tokens) && isValueToken(tokens[i+1]) {
					i++
					v, err := s.coerceOption(opt, key, opt.Type, tokens[i].Content)
					if err != nil {
						return nil, err
					}
					val = v
				} else if opt.Required {
					return nil, &ValidationError{Kind: "option", Name: key, Err: ErrMissingValue}
				} else {
					continue
				}
			}
			res.Options[key] = val
		}
	}

	for _, opt := range s.options {
		if _, ok := res.Options[opt.Name]; !ok && opt.Fallback != nil {
			res.Options[opt.Name] = opt.Fallback
		}
	}
	return res, nil
}

func isValueToken(tok Token) bool {
	return tok.Quoted != 0 || !strings.HasPrefix(tok.Content, "-") || isNumeric(tok.Content)
}

func (s *Schema) coerceArg(index int, source string) (any, error) {
	decl, ok := s.argDecl(index)
	if !ok {
		return source, nil
	}
	v, err := s.types.Coerce(decl.Type, source)
	if err != nil {
		return nil, &ValidationError{Kind: "argument", Name: decl.Name, Source: source, Err: err}
	}
	return v, nil
}

func (s *Schema) coerceOption(opt *OptionDecl, key, typ, source string) (any, error) {
	if opt == nil {
		return source, nil
	}
	v, err := s.types.Coerce(typ, source)
	if err != nil {
		return nil, &ValidationError{Kind: "option", Name: key, Source: source, Err: err}
	}
	return v, nil
}
