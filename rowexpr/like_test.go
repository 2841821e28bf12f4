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
	"errors"
	"testing"
)

func TestLikeMatch(t *testing.T) {
	testcases := []struct {
		pattern, escape string
		in              string
		want            bool
	}{
		{"howdy", "", "howdy", true},
		{"howdy", "", "howdy!", false},
		{"howdy", "", "Howdy", false},
		{"%", "", "", true},
		{"%", "", "anything", true},
		{"a%", "", "abc", true},
		{"a%", "", "ba", false},
		{"%c", "", "abc", true},
		{"a%c", "", "ac", true},
		{"a%c", "", "abbbc", true},
		{"a%c", "", "acb", false},
		{"_", "", "x", true},
		{"_", "", "", false},
		{"_", "", "xy", false},
		{"a_c", "", "abc", true},
		{"a_c", "", "ac", false},
		// wildcards cross newlines
		{"a%c", "", "a\nc", true},
		{"a_c", "", "a\nc", true},
		// one rune, not one byte
		{"_", "", "é", true},
		{"a_c", "", "aéc", true},
		// regex metacharacters are literal
		{"a.c", "", "abc", false},
		{"a.c", "", "a.c", true},
		{"(x)", "", "(x)", true},
		{"50\\%", "", "50\\no", true},
		// escaped wildcards are literal
		{"50#%", "#", "50%", true},
		{"50#%", "#", "50x", false},
		{"a#_b", "#", "a_b", true},
		{"a#_b", "#", "axb", false},
		{"a##b", "#", "a#b", true},
		{"a##%", "#", "a#whatever", true},
	}
	for i := range testcases {
		p, err := CompileLike(testcases[i].pattern, testcases[i].escape)
		if err != nil {
			t.Errorf("case %d: compile %q: %v", i, testcases[i].pattern, err)
			continue
		}
		if got := p.MatchString(testcases[i].in); got != testcases[i].want {
			t.Errorf("case %d: %q matching %q = %v",
				i, testcases[i].pattern, testcases[i].in, got)
		}
	}
}

func TestLikeCompileErrors(t *testing.T) {
	testcases := []struct {
		pattern, escape string
	}{
		{"abc#", "#"},
		{"a#bc", "#"},
		{"abc", "##"},
		{"abc", "no"},
	}
	for i := range testcases {
		_, err := CompileLike(testcases[i].pattern, testcases[i].escape)
		if err == nil {
			t.Errorf("case %d: compiling %q with escape %q succeeded",
				i, testcases[i].pattern, testcases[i].escape)
			continue
		}
		var ee *EvalError
		if !errors.As(err, &ee) || ee.Code != ErrInvalidArgument {
			t.Errorf("case %d: error %v is not INVALID_FUNCTION_ARGUMENT", i, err)
		}
	}
}

func TestLikeHasWildcard(t *testing.T) {
	testcases := []struct {
		pattern, escape string
		want            bool
	}{
		{"abc", "", false},
		{"a%c", "", true},
		{"a_c", "", true},
		{"", "", false},
		{"a#%c", "#", false},
		{"a#%c%", "#", true},
		{"a##%", "#", true},
		{"a##c", "#", false},
	}
	for i := range testcases {
		got, err := LikeHasWildcard(testcases[i].pattern, testcases[i].escape)
		if err != nil {
			t.Errorf("case %d: %v", i, err)
			continue
		}
		if got != testcases[i].want {
			t.Errorf("case %d: LikeHasWildcard(%q, %q) = %v",
				i, testcases[i].pattern, testcases[i].escape, got)
		}
	}
	if _, err := LikeHasWildcard("abc#", "#"); err == nil {
		t.Error("trailing escape character accepted")
	}
	if _, err := LikeHasWildcard("a#bc", "#"); err == nil {
		t.Error("escape of a plain character accepted")
	}
}

func TestUnescapeLike(t *testing.T) {
	testcases := []struct {
		pattern, escape string
		want            string
	}{
		{"abc", "", "abc"},
		{"a#%c", "#", "a%c"},
		{"a#_c", "#", "a_c"},
		{"a##c", "#", "a#c"},
		{"50#%#%", "#", "50%%"},
	}
	for i := range testcases {
		got, err := UnescapeLike(testcases[i].pattern, testcases[i].escape)
		if err != nil {
			t.Errorf("case %d: %v", i, err)
			continue
		}
		if got != testcases[i].want {
			t.Errorf("case %d: UnescapeLike(%q, %q) = %q",
				i, testcases[i].pattern, testcases[i].escape, got)
		}
	}
}
