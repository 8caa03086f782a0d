package textutil

import (
	"errors"
	"strings"
)

// ErrUnterminatedQuote is returned by SplitArgs for an unbalanced quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// SplitArgs splits a parameter string into arguments the way a POSIX shell
// would, honouring single quotes, double quotes, and backslash escapes. No
// expansion of any kind is performed.
func SplitArgs(value string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range value {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
			inArg = true
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		case r == '\\':
			escaped = true
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 || escaped {
		return nil, ErrUnterminatedQuote
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}
