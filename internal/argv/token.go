package argv

import (
	"strings"
	"unicode"
)

// Inter is an unevaluated $(...) interpolation inside a token.
type Inter struct {
	// Pos is the byte offset in Token.Content where the output is spliced.
	Pos int

	// Source is the command line between the parentheses.
	Source string
}

// Token is one whitespace-delimited unit of a command line.
type Token struct {
	// Content is the token text with quotes removed.
	Content string

	// Quoted is the quote rune that enclosed the token, or 0.
	Quoted rune

	// Sep is the whitespace that followed the token.
	Sep string

	// Inters lists pending interpolations in ascending Pos order.
	Inters []Inter
}

// Raw returns the token as it would be written, quotes included.
func (t Token) Raw() string {
	if t.Quoted == 0 {
		return t.Content
	}
	q := string(t.Quoted)
	return q + t.Content + q
}

// Expand evaluates pending interpolations with eval and splices the output
// into Content. Interpolations are evaluated left to right.
func (t *Token) Expand(eval func(source string) (string, error)) error {
	if len(t.Inters) == 0 {
		return nil
	}
	outputs := make([]string, len(t.Inters))
	for i, inter := range t.Inters {
		out, err := eval(inter.Source)
		if err != nil {
			return err
		}
		outputs[i] = out
	}
	// Splice from the back so earlier offsets stay valid.
	content := t.Content
	for i := len(t.Inters) - 1; i >= 0; i-- {
		pos := t.Inters[i].Pos
		content = content[:pos] + outputs[i] + content[pos:]
	}
	t.Content = content
	t.Inters = nil
	return nil
}

// Stringify joins tokens back into their raw form, dropping the trailing separator.
func Stringify(tokens []Token) string {
	var b strings.Builder
	for i, tok := range tokens {
		b.WriteString(tok.Raw())
		if i < len(tokens)-1 {
			b.WriteString(tok.Sep)
		}
	}
	return b.String()
}

// HasInters reports whether any token carries a pending interpolation.
func HasInters(tokens []Token) bool {
	for _, tok := range tokens {
		if len(tok.Inters) > 0 {
			return true
		}
	}
	return false
}

// Tokenize splits source into tokens.
func Tokenize(source string) []Token {
	runes := []rune(source)
	n := len(runes)
	i := skipSpace(runes, 0)

	var tokens []Token
	for i < n {
		var tok Token
		var b strings.Builder

		if q := runes[i]; q == '"' || q == '\'' {
			tok.Quoted = q
			i++
			for i < n && runes[i] != q {
				if runes[i] == '\\' && i+1 < n && runes[i+1] == q {
					b.WriteRune(q)
					i += 2
					continue
				}
				if q == '"' {
					if next, ok := scanInter(runes, i, &b, &tok); ok {
						i = next
						continue
					}
				}
				b.WriteRune(runes[i])
				i++
			}
			if i < n {
				i++ // closing quote
			}
		} else {
			for i < n && !unicode.IsSpace(runes[i]) {
				if next, ok := scanInter(runes, i, &b, &tok); ok {
					i = next
					continue
				}
				b.WriteRune(runes[i])
				i++
			}
		}

		tok.Content = b.String()
		end := skipSpace(runes, i)
		tok.Sep = string(runes[i:end])
		i = end
		tokens = append(tokens, tok)
	}
	return tokens
}

// scanInter records an interpolation starting at i, if there is a balanced one.
func scanInter(runes []rune, i int, b *strings.Builder, tok *Token) (int, bool) {
	if runes[i] != '$' || i+1 >= len(runes) || runes[i+1] != '(' {
		return i, false
	}
	end := matchParen(runes, i+2)
	if end < 0 {
		return i, false
	}
	tok.Inters = append(tok.Inters, Inter{
		Pos:    b.Len(),
		Source: string(runes[i+2 : end]),
	})
	return end + 1, true
}

// matchParen returns the index of the parenthesis closing the group that
// starts at start, or -1. Quoted segments are skipped.
func matchParen(runes []rune, start int) int {
	depth := 1
	var quote rune
	for i := start; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
