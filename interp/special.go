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

package interp

import (
	"unicode/utf8"

	"github.com/quernlabs/quern/rowexpr"
)

// foldArray builds a constant array directly from constant
// arguments, bypassing the builtin invocation and the size gate;
// the parent expression re-applies the gate if the array has to
// be re-encoded.
func (i *Interpreter) foldArray(n *rowexpr.Call, args []result) (result, bool) {
	if anyResidual(args) {
		return result{}, false
	}
	return value(datums(args)), true
}

// foldCast handles the cast shapes the generic invoke path gets
// wrong: NULL input, residual input (where the cast may be
// dropped or pushed into a json_parse), targets with no literal
// form, and type-only coercions. Everything else falls through
// to the ordinary builtin invocation.
func (i *Interpreter) foldCast(n *rowexpr.Call, args []result) (result, bool, error) {
	if len(args) != 1 {
		return result{}, false, shapeErr(n, "cast with %d arguments", len(args))
	}
	src := n.Args[0]
	from, to := src.Type(), n.T
	v := args[0]
	if v.isNull() {
		return value(nil), true, nil
	}
	if !v.isValue() {
		if from.Equals(to) {
			return v, true, nil
		}
		if inner, ok := src.(*rowexpr.Call); ok && inner.Func.Name == rowexpr.FnJSONParse {
			switch to.(type) {
			case rowexpr.Array, rowexpr.Map, rowexpr.Row:
				fn, err := i.reg.StructuredCast(to)
				if err != nil {
					return result{}, false, err
				}
				return unresolved(rowexpr.NewCall(fn, to, inner.Args...)), true, nil
			}
		}
		return unresolved(rebuildCall(n, []rowexpr.Node{i.toNode(v, src)}, nil)), true, nil
	}
	if i.level <= Serializable && !rowexpr.IsLiteralType(to) {
		return unresolved(rebuildCall(n, []rowexpr.Node{i.toNode(v, src)}, nil)), true, nil
	}
	if i.reg.TypeOnlyCast(from, to) {
		return v, true, nil
	}
	return result{}, false, nil
}

// foldLike folds like(value, like_pattern(pattern[, escape])).
// With everything constant the pattern is compiled and matched
// immediately, even at the Serializable level where the compiled
// matcher itself may not be embedded. A constant pattern with no
// wildcards turns the predicate into plain equality.
func (i *Interpreter) foldLike(n *rowexpr.Call, args []result) (result, bool, error) {
	if len(args) != 2 {
		return result{}, false, shapeErr(n, "like with %d arguments", len(args))
	}
	patExpr, ok := n.Args[1].(*rowexpr.Call)
	if !ok || (patExpr.Func.Name != rowexpr.FnLikePattern && patExpr.Func.Name != rowexpr.FnCast) {
		// the pattern argument is already a compiled matcher
		return result{}, false, nil
	}
	val := args[0]
	if val.isNull() {
		return value(nil), true, nil
	}
	pat, err := i.eval(patExpr.Args[0])
	if err != nil {
		return result{}, false, err
	}
	if pat.isNull() {
		return value(nil), true, nil
	}
	hasEscape := patExpr.Func.Name == rowexpr.FnLikePattern && len(patExpr.Args) == 2
	var esc result
	if hasEscape {
		esc, err = i.eval(patExpr.Args[1])
		if err != nil {
			return result{}, false, err
		}
		if esc.isNull() {
			return value(nil), true, nil
		}
	}

	if val.isValue() && pat.isValue() && (!hasEscape || esc.isValue()) {
		switch pv := args[1]; {
		case pv.isNull():
			return value(nil), true, nil
		case pv.isValue():
			m, ok := pv.val.(rowexpr.Matcher)
			if !ok {
				return result{}, false, shapeErr(n, "pattern folded to %T", pv.val)
			}
			return matchLike(n, val.val, m)
		default:
			// the compiled matcher was withheld by the literal
			// gate; compile it again here and match anyway
			cargs := []rowexpr.Datum{pat.val}
			sig := []rowexpr.Type{patExpr.Args[0].Type()}
			if hasEscape {
				cargs = append(cargs, esc.val)
				sig = append(sig, patExpr.Args[1].Type())
			}
			fn, err := i.reg.Lookup(rowexpr.FnLikePattern, sig)
			if err != nil {
				return result{}, false, err
			}
			mv, err := i.reg.Invoke(fn, i.session, cargs)
			if err != nil {
				return result{}, false, err
			}
			m, ok := mv.(rowexpr.Matcher)
			if !ok {
				return result{}, false, shapeErr(n, "like_pattern produced %T", mv)
			}
			return matchLike(n, val.val, m)
		}
	}

	ps, okPat := pat.val.(string)
	es, okEsc := "", true
	if hasEscape {
		es, okEsc = esc.val.(string)
	}
	if pat.isValue() && okPat && (!hasEscape || (esc.isValue() && okEsc)) {
		wild, err := rowexpr.LikeHasWildcard(ps, es)
		if err != nil {
			return result{}, false, err
		}
		if !wild {
			return i.rewriteLikeAsEquality(n, val, ps, es)
		}
	}
	return result{}, false, nil
}

// rewriteLikeAsEquality turns a wildcard-free LIKE into an
// equality comparison at the common supertype of the value and
// the unescaped pattern, then evaluates the comparison.
func (i *Interpreter) rewriteLikeAsEquality(n *rowexpr.Call, val result, pattern, escape string) (result, bool, error) {
	lit, err := rowexpr.UnescapeLike(pattern, escape)
	if err != nil {
		return result{}, false, err
	}
	valueType := n.Args[0].Type()
	patType := rowexpr.Type(rowexpr.Varchar{N: utf8.RuneCountInString(lit)})
	super, ok := i.reg.CommonSuperType(valueType, patType)
	if !ok {
		return result{}, false, shapeErr(n, "no common type for %s and %s", valueType, patType)
	}
	left := toNodeUngated(val, valueType)
	right := rowexpr.Node(rowexpr.Const(lit, patType))
	if !valueType.Equals(super) {
		fn, err := i.reg.Cast(valueType, super)
		if err != nil {
			return result{}, false, err
		}
		left = rowexpr.NewCall(fn, super, left)
	}
	if !patType.Equals(super) {
		fn, err := i.reg.Cast(patType, super)
		if err != nil {
			return result{}, false, err
		}
		right = rowexpr.NewCall(fn, super, right)
	}
	fn, err := i.reg.Equality(super, super)
	if err != nil {
		return result{}, false, err
	}
	r, err := i.eval(rowexpr.NewCall(fn, rowexpr.Boolean, left, right))
	if err != nil {
		return result{}, false, err
	}
	return r, true, nil
}

func matchLike(n *rowexpr.Call, v rowexpr.Datum, m rowexpr.Matcher) (result, bool, error) {
	s, ok := v.(string)
	if !ok {
		return result{}, false, shapeErr(n, "like of non-string value %T", v)
	}
	return value(m.MatchString(s)), true, nil
}
