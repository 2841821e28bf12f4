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
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Type is the static type attached to every expression node.
// The set of implementations is closed: Scalar, Varchar, Array,
// Map, Row, and Func.
type Type interface {
	// String returns the SQL-ish spelling of the type.
	String() string
	// Equals reports whether two types are identical.
	Equals(Type) bool
	// literal reports whether values of this type may be
	// embedded directly in a Constant node and re-encoded
	// by the serialization layer.
	literal() bool
}

// Scalar is a scalar type with no parameters.
type Scalar int

const (
	// Unknown is the type of the untyped NULL literal
	// and of expressions the planner could not type.
	Unknown Scalar = iota

	// Boolean is the SQL boolean type (three-valued).
	Boolean

	// Integer is a signed 64-bit integer.
	Integer

	// Double is an IEEE-754 64-bit float.
	Double

	// Timestamp is a point in time with nanosecond precision.
	Timestamp

	// JSON is a json document kept in its textual form.
	JSON

	// LikePattern is the type of a compiled LIKE pattern.
	// Values of this type exist only at runtime; they cannot
	// be serialized into plans.
	LikePattern

	maxScalar
)

func (s Scalar) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	case Double:
		return "double"
	case Timestamp:
		return "timestamp"
	case JSON:
		return "json"
	case LikePattern:
		return "like_pattern"
	default:
		return "invalid"
	}
}

func (s Scalar) Equals(t Type) bool {
	s2, ok := t.(Scalar)
	return ok && s == s2
}

func (s Scalar) literal() bool {
	return s != LikePattern && s >= Unknown && s < maxScalar
}

// Varchar is a character string type.
// N is the maximum length in characters;
// N < 0 means unbounded.
type Varchar struct {
	N int
}

// VarcharAny is the unbounded varchar type.
var VarcharAny = Varchar{N: -1}

func (v Varchar) String() string {
	if v.N < 0 {
		return "varchar"
	}
	return "varchar(" + strconv.Itoa(v.N) + ")"
}

func (v Varchar) Equals(t Type) bool {
	v2, ok := t.(Varchar)
	if !ok {
		return false
	}
	if v.N < 0 {
		return v2.N < 0
	}
	return v.N == v2.N
}

func (v Varchar) literal() bool { return true }

// Array is the type of an ordered collection
// of elements that share one type.
type Array struct {
	Elem Type
}

func (a Array) String() string {
	return "array(" + a.Elem.String() + ")"
}

func (a Array) Equals(t Type) bool {
	a2, ok := t.(Array)
	return ok && a.Elem.Equals(a2.Elem)
}

func (a Array) literal() bool { return a.Elem.literal() }

// Map is the type of a collection of key/value pairs.
type Map struct {
	Key  Type
	Elem Type
}

func (m Map) String() string {
	return "map(" + m.Key.String() + ", " + m.Elem.String() + ")"
}

func (m Map) Equals(t Type) bool {
	m2, ok := t.(Map)
	return ok && m.Key.Equals(m2.Key) && m.Elem.Equals(m2.Elem)
}

func (m Map) literal() bool { return m.Key.literal() && m.Elem.literal() }

// Row is the type of a fixed-width tuple.
// Names, when present, must have one entry
// per field; unnamed rows leave it nil.
type Row struct {
	Fields []Type
	Names  []string
}

func (r Row) String() string {
	var dst strings.Builder
	dst.WriteString("row(")
	for i := range r.Fields {
		if i > 0 {
			dst.WriteString(", ")
		}
		if len(r.Names) == len(r.Fields) && r.Names[i] != "" {
			dst.WriteString(r.Names[i])
			dst.WriteByte(' ')
		}
		dst.WriteString(r.Fields[i].String())
	}
	dst.WriteByte(')')
	return dst.String()
}

func (r Row) Equals(t Type) bool {
	r2, ok := t.(Row)
	return ok && TypesEqual(r.Fields, r2.Fields) && slices.Equal(r.Names, r2.Names)
}

func (r Row) literal() bool {
	for i := range r.Fields {
		if !r.Fields[i].literal() {
			return false
		}
	}
	return true
}

// Func is the type of a lambda or of a partially-bound closure.
type Func struct {
	Args []Type
	Ret  Type
}

func (f Func) String() string {
	var dst strings.Builder
	dst.WriteString("function(")
	for i := range f.Args {
		if i > 0 {
			dst.WriteString(", ")
		}
		dst.WriteString(f.Args[i].String())
	}
	dst.WriteString(") -> ")
	dst.WriteString(f.Ret.String())
	return dst.String()
}

func (f Func) Equals(t Type) bool {
	f2, ok := t.(Func)
	return ok && f.Ret.Equals(f2.Ret) && TypesEqual(f.Args, f2.Args)
}

func (f Func) literal() bool { return false }

// TypesEqual reports whether a and b are
// pairwise equal type lists.
func TypesEqual(a, b []Type) bool {
	return slices.EqualFunc(a, b, func(x, y Type) bool {
		return x.Equals(y)
	})
}

// IsLiteralType reports whether values of type t can be embedded
// in Constant nodes that survive serialization. Compiled patterns,
// lambdas, and closures are runtime-only and fail this test.
func IsLiteralType(t Type) bool {
	return t != nil && t.literal()
}
