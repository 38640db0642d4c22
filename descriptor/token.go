package descriptor

import (
	"strings"
)

// token is a piece of the parsed string together with its offset.
type token struct {
	s   string
	pos int
}

// sub returns the token for s[start:end].
func (t token) sub(start, end int) token {
	return token{s: t.s[start:end], pos: t.pos + start}
}

// split splits the token at every occurrence of sep.
func (t token) split(sep byte) []token {
	var (
		parts []token
		start int
	)
	for i := 0; i <= len(t.s); i++ {
		if i == len(t.s) || t.s[i] == sep {
			parts = append(parts, t.sub(start, i))
			start = i + 1
		}
	}

	return parts
}

// args splits a comma separated argument list, ignoring commas nested in
// brackets. An empty list yields no arguments.
func (t token) args() ([]token, error) {
	if t.s == "" {
		return nil, nil
	}

	var (
		parts []token
		depth int
		start int
	)
	for i := 0; i < len(t.s); i++ {
		switch t.s[i] {
		case '(', '<', '[':
			depth++

		case ')', '>', ']':
			depth--
			if depth < 0 {
				return nil, parseErr(
					ErrInvalidStructure, t.sub(i, i+1),
				)
			}

		case ',':
			if depth == 0 {
				parts = append(parts, t.sub(start, i))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, parseErr(ErrInvalidStructure, t)
	}

	return append(parts, t.sub(start, len(t.s))), nil
}

// call unwraps `name(...)` and returns the argument list.
func (t token) call(name string) ([]token, error) {
	if !strings.HasPrefix(t.s, name+"(") || !strings.HasSuffix(t.s, ")") {
		return nil, parseErr(ErrInvalidStructure, t)
	}

	return t.sub(len(name)+1, len(t.s)-1).args()
}
