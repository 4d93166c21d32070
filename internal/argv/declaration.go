package argv

import (
	"fmt"
	"regexp"
	"strings"
)

// Declaration describes one positional argument.
type Declaration struct {
	Name     string
	Type     string
	Required bool
	Variadic bool
}

// String renders the declaration in command syntax.
func (d Declaration) String() string {
	name := d.Name
	if d.Variadic {
		name = "..." + name
	}
	if d.Type != "" {
		name += ":" + d.Type
	}
	if d.Required {
		return "<" + name + ">"
	}
	return "[" + name + "]"
}

var declRE = regexp.MustCompile(`[<\[]\s*(\.\.\.)?\s*([^>\]:\s]+?)(\.\.\.)?\s*(?::\s*([^>\]\s]+))?\s*[>\]]`)

// ParseDeclaration splits a command declaration into its name and arguments.
// The name is lowercased.
func ParseDeclaration(source string) (string, []Declaration, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", nil, fmt.Errorf("%w: empty command declaration", ErrInvalidDeclaration)
	}
	end := strings.IndexAny(source, " \t<[")
	name := source
	rest := ""
	if end >= 0 {
		name, rest = source[:end], source[end:]
	}
	if name == "" {
		return "", nil, fmt.Errorf("%w: missing command name in %q", ErrInvalidDeclaration, source)
	}
	decls, err := parseArgs(rest)
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(name), decls, nil
}

func parseArgs(source string) ([]Declaration, error) {
	var decls []Declaration
	for _, m := range declRE.FindAllStringSubmatch(source, -1) {
		d := Declaration{
			Name:     m[2],
			Type:     m[4],
			Required: strings.HasPrefix(m[0], "<"),
			Variadic: m[1] != "" || m[3] != "",
		}
		if n := len(decls); n > 0 && decls[n-1].Variadic {
			return nil, fmt.Errorf("%w: argument %s follows variadic %s", ErrInvalidDeclaration, d.Name, decls[n-1].Name)
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// OptionDecl describes one command option.
type OptionDecl struct {
	// Name is the key under which the value is stored.
	Name string

	// Aliases are the dash-less spellings that select this option.
	Aliases []string

	// Type names the value transform; empty means a boolean flag.
	Type string

	// Required reports whether the value slot is mandatory.
	Required bool

	// Description is free text shown in help output.
	Description string

	// Fallback is used when the option is absent.
	Fallback any

	// Value is assigned when a flag is present, instead of true.
	Value any

	// Authority is the minimum authority needed to use the option.
	Authority int

	// NoNegated disables the --no-x form.
	NoNegated bool

	// Hidden hides the option from help output.
	Hidden bool

	slot string
}

// IsFlag reports whether the option takes no value.
func (o *OptionDecl) IsFlag() bool {
	return o.Type == ""
}

// Syntax renders the option aliases and value slot.
func (o *OptionDecl) Syntax() string {
	parts := make([]string, 0, len(o.Aliases))
	for _, a := range o.Aliases {
		if len([]rune(a)) == 1 {
			parts = append(parts, "-"+a)
		} else {
			parts = append(parts, "--"+a)
		}
	}
	s := strings.Join(parts, ", ")
	if o.slot != "" {
		s += " " + o.slot
	}
	return s
}

// ParseOptionDecl parses an option declaration such as
// "-a, --all-in [value:number] include everything" stored under name.
func ParseOptionDecl(name, source string) (*OptionDecl, error) {
	opt := &OptionDecl{Name: name}
	fields := strings.Fields(source)
	i := 0
	for ; i < len(fields); i++ {
		f := strings.TrimSuffix(fields[i], ",")
		if !strings.HasPrefix(f, "-") {
			break
		}
		alias := strings.TrimLeft(f, "-")
		if alias == "" {
			return nil, fmt.Errorf("%w: empty alias in option %s", ErrInvalidDeclaration, name)
		}
		opt.Aliases = append(opt.Aliases, alias)
	}
	if i < len(fields) && (strings.HasPrefix(fields[i], "<") || strings.HasPrefix(fields[i], "[")) {
		decls, err := parseArgs(fields[i])
		if err != nil {
			return nil, err
		}
		if len(decls) == 1 {
			opt.slot = fields[i]
			opt.Type = decls[0].Type
			if opt.Type == "" {
				opt.Type = "string"
			}
			opt.Required = decls[0].Required
		}
		i++
	}
	opt.Description = strings.Join(fields[i:], " ")

	param := ParamCase(name)
	hasName := false
	for _, a := range opt.Aliases {
		if a == param {
			hasName = true
		}
	}
	if !hasName {
		opt.Aliases = append(opt.Aliases, param)
	}
	return opt, nil
}
