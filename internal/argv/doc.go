// Package argv tokenizes and parses command lines.
//
// Parsing happens in two steps. Tokenize splits a source line into tokens,
// honoring single and double quotes and recording $(...) interpolations
// without evaluating them. A Schema built from command and option
// declarations then turns a token list into positional arguments, options
// and a raw rest string, coercing values through a Types registry.
//
// # Declarations
//
// Command declarations name the command followed by its arguments:
//
//	echo <message:text>
//	user.flag <id> [reason] [...extra]
//
// Angle brackets mark required arguments, square brackets optional ones and
// a leading or trailing ellipsis marks a variadic argument. An argument typed
// text swallows the remaining raw input when it is the last declaration.
//
// Option declarations list dashed aliases, an optional value slot and a
// description:
//
//	-a, --all-in [value:number]  include everything
//
// An option without a value slot is boolean. --foo-bar is stored under
// fooBar, and --no-foo sets foo to false unless the option opts out.
package argv
