// Copyright (C) 2023 Quern Labs, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package rowexpr

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Pattern is a compiled LIKE pattern: '%' matches any run of
// characters, '_' matches exactly one, and the escape character,
// when present, makes the following wildcard literal. Pattern
// values have the LikePattern pseudo-type and never serialize.
type Pattern struct {
	Source string
	Escape string
	re     *regexp.Regexp
}

func (p *Pattern) String() string { return p.Source }

// MatchString reports whether s matches the whole pattern.
func (p *Pattern) MatchString(s string) bool { return p.re.MatchString(s) }

func likeEscapeChar(escape string) (rune, error) {
	r, size := utf8.DecodeRuneInString(escape)
	if size == 0 || size != len(escape) {
		return 0, Evalf(ErrInvalidArgument, "escape string must be a single character")
	}
	return r, nil
}

// LikeHasWildcard reports whether pattern contains an unescaped
// wildcard. escape is the escape character, or empty for none;
// a malformed escape sequence is an error.
func LikeHasWildcard(pattern, escape string) (bool, error) {
	if escape == "" {
		return strings.ContainsAny(pattern, "%_"), nil
	}
	ec, err := likeEscapeChar(escape)
	if err != nil {
		return false, err
	}
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == ec {
			i++
			if i >= len(runes) {
				return false, Evalf(ErrInvalidArgument,
					"escape character must not end the pattern")
			}
			if c := runes[i]; c != '%' && c != '_' && c != ec {
				return false, Evalf(ErrInvalidArgument,
					"escape character must be followed by '%%', '_', or itself")
			}
			continue
		}
		if c == '%' || c == '_' {
			return true, nil
		}
	}
	return false, nil
}

// UnescapeLike strips the escape characters from a pattern with
// no unescaped wildcards, yielding the literal string the
// pattern matches.
func UnescapeLike(pattern, escape string) (string, error) {
	if escape == "" {
		return pattern, nil
	}
	ec, err := likeEscapeChar(escape)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		if runes[i] == ec {
			i++
			if i >= len(runes) {
				return "", Evalf(ErrInvalidArgument,
					"escape character must not end the pattern")
			}
		}
		out.WriteRune(runes[i])
	}
	return out.String(), nil
}

// CompileLike compiles a LIKE pattern. escape is the escape
// character, or empty for none.
func CompileLike(pattern, escape string) (*Pattern, error) {
	var ec rune
	if escape != "" {
		var err error
		ec, err = likeEscapeChar(escape)
		if err != nil {
			return nil, err
		}
	}
	var b strings.Builder
	b.WriteString(`(?s)\A`)
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if escape != "" && c == ec {
			i++
			if i >= len(runes) {
				return nil, Evalf(ErrInvalidArgument,
					"escape character must not end the pattern")
			}
			if c := runes[i]; c != '%' && c != '_' && c != ec {
				return nil, Evalf(ErrInvalidArgument,
					"escape character must be followed by '%%', '_', or itself")
			}
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
			continue
		}
		switch c {
		case '%':
			b.WriteString(`.*`)
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`\z`)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, Evalf(ErrInvalidArgument, "malformed pattern %s: %v", Quote(pattern), err)
	}
	return &Pattern{Source: pattern, Escape: escape, re: re}, nil
}
