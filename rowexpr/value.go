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
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/exp/slices"
)

// Datum is the runtime representation of a value.
// The canonical forms are:
//
//	nil               SQL NULL
//	bool              boolean
//	int64             integer
//	float64           double
//	string            varchar and json
//	time.Time         timestamp
//	[]Datum           array
//	Tuple             row
//	map[Datum]Datum   map
//
// Evaluation may additionally produce opaque runtime objects
// (compiled patterns, closures); those never pass the literal
// gate and never reach the wire.
type Datum any

// Tuple is a row value: one datum per row field, in field order.
type Tuple []Datum

// Matcher is the runtime form of a compiled LIKE pattern.
// Registry implementations produce Matcher datums from
// like_pattern() and consume them in like().
type Matcher interface {
	MatchString(s string) bool
}

// Applier is the runtime form of a function value. Builtins
// with function-typed parameters receive an Applier and call
// Apply once per element.
type Applier interface {
	Apply(args ...Datum) (Datum, error)
}

// DatumEquals reports deep structural equality of two datums.
// Timestamps compare by instant, doubles by IEEE equality
// (NaN is unequal to itself), and opaque objects by identity.
func DatumEquals(a, b Datum) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool:
		b2, ok := b.(bool)
		return ok && a == b2
	case int64:
		b2, ok := b.(int64)
		return ok && a == b2
	case float64:
		b2, ok := b.(float64)
		return ok && a == b2
	case string:
		b2, ok := b.(string)
		return ok && a == b2
	case time.Time:
		b2, ok := b.(time.Time)
		return ok && a.Equal(b2)
	case Tuple:
		b2, ok := b.(Tuple)
		return ok && slices.EqualFunc(a, b2, DatumEquals)
	case []Datum:
		b2, ok := b.([]Datum)
		return ok && slices.EqualFunc(a, b2, DatumEquals)
	case map[Datum]Datum:
		b2, ok := b.(map[Datum]Datum)
		if !ok || len(a) != len(b2) {
			return false
		}
		for k, v := range a {
			v2, ok := b2[k]
			if !ok || !DatumEquals(v, v2) {
				return false
			}
		}
		return true
	case *Pattern:
		b2, ok := b.(*Pattern)
		return ok && a.Source == b2.Source && a.Escape == b2.Escape
	default:
		ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
		return ta == tb && ta.Comparable() && a == b
	}
}

// copyDatum copies container datums so that callers cannot
// alias the interior of a copied expression tree. Scalars and
// opaque objects are shared.
func copyDatum(v Datum) Datum {
	switch v := v.(type) {
	case []Datum:
		out := make([]Datum, len(v))
		for i := range v {
			out[i] = copyDatum(v[i])
		}
		return out
	case Tuple:
		out := make(Tuple, len(v))
		for i := range v {
			out[i] = copyDatum(v[i])
		}
		return out
	case map[Datum]Datum:
		out := make(map[Datum]Datum, len(v))
		for k, e := range v {
			out[k] = copyDatum(e)
		}
		return out
	default:
		return v
	}
}

func quote(dst *strings.Builder, s string) {
	dst.WriteByte('\'')
	for _, r := range s {
		switch {
		case r == '\'' || r == '\\':
			dst.WriteByte('\\')
			dst.WriteRune(r)
		case r < utf8.RuneSelf && strconv.IsPrint(r):
			dst.WriteRune(r)
		default:
			tmp := strconv.AppendQuoteRuneToASCII(nil, r)
			dst.Write(tmp[1 : len(tmp)-1])
		}
	}
	dst.WriteByte('\'')
}

// Quote produces a SQL single-quoted string.
func Quote(s string) string {
	var dst strings.Builder
	quote(&dst, s)
	return dst.String()
}

func writeDatum(dst *strings.Builder, v Datum) {
	switch v := v.(type) {
	case nil:
		dst.WriteString("NULL")
	case bool:
		if v {
			dst.WriteString("TRUE")
		} else {
			dst.WriteString("FALSE")
		}
	case int64:
		dst.WriteString(strconv.FormatInt(v, 10))
	case float64:
		var buf [32]byte
		dst.Write(strconv.AppendFloat(buf[:0], v, 'g', -1, 64))
	case string:
		quote(dst, v)
	case time.Time:
		dst.WriteByte('`')
		dst.WriteString(v.UTC().Format(time.RFC3339Nano))
		dst.WriteByte('`')
	case Tuple:
		dst.WriteString("ROW(")
		for i := range v {
			if i > 0 {
				dst.WriteString(", ")
			}
			writeDatum(dst, v[i])
		}
		dst.WriteByte(')')
	case []Datum:
		dst.WriteString("ARRAY[")
		for i := range v {
			if i > 0 {
				dst.WriteString(", ")
			}
			writeDatum(dst, v[i])
		}
		dst.WriteByte(']')
	case map[Datum]Datum:
		// print in sorted key order so output is stable
		entries := make([]string, 0, len(v))
		for k, e := range v {
			var one strings.Builder
			writeDatum(&one, k)
			one.WriteString(": ")
			writeDatum(&one, e)
			entries = append(entries, one.String())
		}
		slices.Sort(entries)
		dst.WriteString("MAP{")
		for i := range entries {
			if i > 0 {
				dst.WriteString(", ")
			}
			dst.WriteString(entries[i])
		}
		dst.WriteByte('}')
	case *Pattern:
		dst.WriteString("like_pattern(")
		quote(dst, v.Source)
		if v.Escape != "" {
			dst.WriteString(", ")
			quote(dst, v.Escape)
		}
		dst.WriteByte(')')
	default:
		fmt.Fprintf(dst, "<%T>", v)
	}
}
