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

package catalog

import (
	"golang.org/x/exp/slices"

	"github.com/quernlabs/quern/rowexpr"
)

// CommonSuperType returns the narrowest type both a and b can be
// cast to without loss of meaning: Unknown defers to the other
// type, Integer widens to Double, bounded varchars widen to the
// larger bound, and container types resolve elementwise.
func (c *Catalog) CommonSuperType(a, b rowexpr.Type) (rowexpr.Type, bool) {
	if a == nil || b == nil {
		return nil, false
	}
	if a.Equals(b) {
		return a, true
	}
	if a.Equals(rowexpr.Unknown) {
		return b, true
	}
	if b.Equals(rowexpr.Unknown) {
		return a, true
	}
	if isNumeric(a) && isNumeric(b) {
		return rowexpr.Double, true
	}
	switch at := a.(type) {
	case rowexpr.Varchar:
		bt, ok := b.(rowexpr.Varchar)
		if !ok {
			return nil, false
		}
		if at.N < 0 || bt.N < 0 {
			return rowexpr.VarcharAny, true
		}
		if bt.N > at.N {
			return bt, true
		}
		return at, true
	case rowexpr.Array:
		bt, ok := b.(rowexpr.Array)
		if !ok {
			return nil, false
		}
		elem, ok := c.CommonSuperType(at.Elem, bt.Elem)
		if !ok {
			return nil, false
		}
		return rowexpr.Array{Elem: elem}, true
	case rowexpr.Map:
		bt, ok := b.(rowexpr.Map)
		if !ok {
			return nil, false
		}
		key, ok := c.CommonSuperType(at.Key, bt.Key)
		if !ok {
			return nil, false
		}
		elem, ok := c.CommonSuperType(at.Elem, bt.Elem)
		if !ok {
			return nil, false
		}
		return rowexpr.Map{Key: key, Elem: elem}, true
	case rowexpr.Row:
		bt, ok := b.(rowexpr.Row)
		if !ok || len(at.Fields) != len(bt.Fields) {
			return nil, false
		}
		fields := make([]rowexpr.Type, len(at.Fields))
		for i := range at.Fields {
			f, ok := c.CommonSuperType(at.Fields[i], bt.Fields[i])
			if !ok {
				return nil, false
			}
			fields[i] = f
		}
		out := rowexpr.Row{Fields: fields}
		if slices.Equal(at.Names, bt.Names) {
			out.Names = at.Names
		}
		return out, true
	}
	return nil, false
}

// TypeOnlyCast reports whether a cast from one type to the other
// changes only the static type and leaves the runtime value
// untouched. Widening a bounded varchar is the canonical case.
func (c *Catalog) TypeOnlyCast(from, to rowexpr.Type) bool {
	if from == nil || to == nil {
		return false
	}
	if from.Equals(to) {
		return true
	}
	if from.Equals(rowexpr.Unknown) {
		// only NULL inhabits unknown
		return true
	}
	switch ft := from.(type) {
	case rowexpr.Varchar:
		tt, ok := to.(rowexpr.Varchar)
		if !ok {
			return false
		}
		return tt.N < 0 || (ft.N >= 0 && ft.N <= tt.N)
	case rowexpr.Array:
		tt, ok := to.(rowexpr.Array)
		return ok && c.TypeOnlyCast(ft.Elem, tt.Elem)
	case rowexpr.Map:
		tt, ok := to.(rowexpr.Map)
		return ok && c.TypeOnlyCast(ft.Key, tt.Key) && c.TypeOnlyCast(ft.Elem, tt.Elem)
	case rowexpr.Row:
		tt, ok := to.(rowexpr.Row)
		if !ok || len(ft.Fields) != len(tt.Fields) {
			return false
		}
		for i := range ft.Fields {
			if !c.TypeOnlyCast(ft.Fields[i], tt.Fields[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func isNumeric(t rowexpr.Type) bool {
	return t.Equals(rowexpr.Integer) || t.Equals(rowexpr.Double)
}

// hasEquality reports whether values of t can be compared with
// the equality operator.
func hasEquality(t rowexpr.Type) bool {
	switch t := t.(type) {
	case rowexpr.Scalar:
		return t != rowexpr.LikePattern
	case rowexpr.Varchar:
		return true
	case rowexpr.Array:
		return hasEquality(t.Elem)
	case rowexpr.Map:
		return hasEquality(t.Key) && hasEquality(t.Elem)
	case rowexpr.Row:
		for i := range t.Fields {
			if !hasEquality(t.Fields[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// castable reports whether a cast from one type to the other is
// defined at all. It is deliberately permissive across scalars;
// casts that are legal in shape but fail on a particular value
// (say, 'pear' to integer) report their error at evaluation.
func castable(from, to rowexpr.Type) bool {
	if from == nil || to == nil {
		return false
	}
	if from.Equals(to) || from.Equals(rowexpr.Unknown) {
		return true
	}
	if from.Equals(rowexpr.LikePattern) || to.Equals(rowexpr.LikePattern) {
		return false
	}
	if _, ok := from.(rowexpr.Func); ok {
		return false
	}
	if _, ok := to.(rowexpr.Func); ok {
		return false
	}
	// any value can be rendered as text or as json
	if _, ok := to.(rowexpr.Varchar); ok {
		return true
	}
	if to.Equals(rowexpr.JSON) {
		return true
	}
	switch tt := to.(type) {
	case rowexpr.Scalar:
		switch tt {
		case rowexpr.Boolean, rowexpr.Integer, rowexpr.Double:
			if isNumeric(from) || from.Equals(rowexpr.Boolean) {
				return true
			}
			_, ok := from.(rowexpr.Varchar)
			return ok
		case rowexpr.Timestamp:
			_, ok := from.(rowexpr.Varchar)
			return ok
		case rowexpr.Unknown:
			return false
		}
	case rowexpr.Array:
		if ft, ok := from.(rowexpr.Array); ok {
			return castable(ft.Elem, tt.Elem)
		}
		return from.Equals(rowexpr.JSON)
	case rowexpr.Map:
		if ft, ok := from.(rowexpr.Map); ok {
			return castable(ft.Key, tt.Key) && castable(ft.Elem, tt.Elem)
		}
		return from.Equals(rowexpr.JSON)
	case rowexpr.Row:
		if ft, ok := from.(rowexpr.Row); ok {
			if len(ft.Fields) != len(tt.Fields) {
				return false
			}
			for i := range ft.Fields {
				if !castable(ft.Fields[i], tt.Fields[i]) {
					return false
				}
			}
			return true
		}
		return from.Equals(rowexpr.JSON)
	}
	return false
}
