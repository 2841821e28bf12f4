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
	"github.com/quernlabs/quern/rowexpr"
)

func (i *Interpreter) evalForm(n *rowexpr.Form) (result, error) {
	switch n.Op {
	case rowexpr.OpIf:
		return i.evalIf(n)
	case rowexpr.OpNullIf:
		return i.evalNullIf(n)
	case rowexpr.OpIsNull:
		return i.evalIsNull(n)
	case rowexpr.OpAnd:
		return i.evalAnd(n)
	case rowexpr.OpOr:
		return i.evalOr(n)
	case rowexpr.OpRow:
		return i.evalRow(n)
	case rowexpr.OpCoalesce:
		return i.evalCoalesce(n)
	case rowexpr.OpIn:
		return i.evalIn(n)
	case rowexpr.OpDeref:
		return i.evalDeref(n)
	case rowexpr.OpBind:
		return i.evalBind(n)
	case rowexpr.OpSwitch:
		return i.evalSwitch(n)
	case rowexpr.OpBetween:
		return i.evalBetween(n)
	case rowexpr.OpWhen:
		return result{}, shapeErr(n, "WHEN clause outside SWITCH")
	}
	return result{}, shapeErr(n, "unknown special form")
}

func (i *Interpreter) rebuildForm(n *rowexpr.Form, args []rowexpr.Node) result {
	return unresolved(&rowexpr.Form{Op: n.Op, T: n.T, Args: args})
}

// evalIf evaluates only the branch the condition selects; the
// untaken branch is never executed. When the condition does not
// fold, both branches are speculatively optimized in place.
func (i *Interpreter) evalIf(n *rowexpr.Form) (result, error) {
	cond, err := i.evalDeferred(n.Args[0])
	if err != nil {
		return result{}, err
	}
	if !cond.isValue() {
		then, err := i.evalDeferred(n.Args[1])
		if err != nil {
			return result{}, err
		}
		els, err := i.evalDeferred(n.Args[2])
		if err != nil {
			return result{}, err
		}
		return i.rebuildForm(n, []rowexpr.Node{
			i.toNode(cond, n.Args[0]),
			i.toNode(then, n.Args[1]),
			i.toNode(els, n.Args[2]),
		}), nil
	}
	if b, ok := cond.val.(bool); ok && b {
		return i.evalDeferred(n.Args[1])
	}
	return i.evalDeferred(n.Args[2])
}

// evalNullIf folds NULLIF(a, b) by comparing both operands at
// their common supertype; on a match the result is NULL, and
// otherwise it is the original, uncast left value.
func (i *Interpreter) evalNullIf(n *rowexpr.Form) (result, error) {
	left, err := i.evalDeferred(n.Args[0])
	if err != nil {
		return result{}, err
	}
	if left.isNull() {
		return value(nil), nil
	}
	right, err := i.evalDeferred(n.Args[1])
	if err != nil {
		return result{}, err
	}
	if right.isNull() {
		return left, nil
	}
	if !left.isValue() || !right.isValue() {
		return i.rebuildForm(n, []rowexpr.Node{
			i.toNode(left, n.Args[0]),
			i.toNode(right, n.Args[1]),
		}), nil
	}
	lt, rt := n.Args[0].Type(), n.Args[1].Type()
	common, ok := i.reg.CommonSuperType(lt, rt)
	if !ok {
		return result{}, shapeErr(n, "no common type for %s and %s", lt, rt)
	}
	lv, err := i.castValue(left.val, lt, common)
	if err != nil {
		return result{}, err
	}
	rv, err := i.castValue(right.val, rt, common)
	if err != nil {
		return result{}, err
	}
	eq, err := i.equalValues(common, common, lv, rv)
	if err != nil {
		return result{}, err
	}
	if b, ok := eq.(bool); ok && b {
		return value(nil), nil
	}
	return left, nil
}

func (i *Interpreter) evalIsNull(n *rowexpr.Form) (result, error) {
	v, err := i.evalDeferred(n.Args[0])
	if err != nil {
		return result{}, err
	}
	if !v.isValue() {
		return i.rebuildForm(n, []rowexpr.Node{i.toNode(v, n.Args[0])}), nil
	}
	return value(v.val == nil), nil
}

// evalAnd implements three-valued AND. FALSE on the left
// short-circuits; everything else evaluates the right side too,
// so errors on the right are only skipped behind a FALSE left.
func (i *Interpreter) evalAnd(n *rowexpr.Form) (result, error) {
	left, err := i.eval(n.Args[0])
	if err != nil {
		return result{}, err
	}
	if isFalse(left) {
		return value(false), nil
	}
	right, err := i.eval(n.Args[1])
	if err != nil {
		return result{}, err
	}
	if isTrue(right) {
		return left, nil
	}
	if isFalse(right) || isTrue(left) {
		return right, nil
	}
	if left.isNull() && right.isNull() {
		return value(nil), nil
	}
	return i.rebuildForm(n, []rowexpr.Node{
		i.toNode(left, n.Args[0]),
		i.toNode(right, n.Args[1]),
	}), nil
}

// evalOr implements three-valued OR, the mirror of evalAnd.
func (i *Interpreter) evalOr(n *rowexpr.Form) (result, error) {
	left, err := i.eval(n.Args[0])
	if err != nil {
		return result{}, err
	}
	if isTrue(left) {
		return value(true), nil
	}
	right, err := i.eval(n.Args[1])
	if err != nil {
		return result{}, err
	}
	if isFalse(right) {
		return left, nil
	}
	if isTrue(right) || isFalse(left) {
		return right, nil
	}
	if left.isNull() && right.isNull() {
		return value(nil), nil
	}
	return i.rebuildForm(n, []rowexpr.Node{
		i.toNode(left, n.Args[0]),
		i.toNode(right, n.Args[1]),
	}), nil
}

func (i *Interpreter) evalRow(n *rowexpr.Form) (result, error) {
	rt, ok := n.T.(rowexpr.Row)
	if !ok {
		return result{}, shapeErr(n, "ROW_CONSTRUCTOR of non-row type %s", n.T)
	}
	if len(n.Args) != len(rt.Fields) {
		return result{}, shapeErr(n, "%d fields for row type %s", len(n.Args), rt)
	}
	for j := range n.Args {
		if !n.Args[j].Type().Equals(rt.Fields[j]) {
			return result{}, shapeErr(n, "field %d is %s, row type wants %s",
				j, n.Args[j].Type(), rt.Fields[j])
		}
	}
	args, err := i.evalAll(n.Args)
	if err != nil {
		return result{}, err
	}
	if anyResidual(args) {
		return i.rebuildForm(n, i.toNodes(args, n.Args)), nil
	}
	return value(rowexpr.Tuple(datums(args))), nil
}

// evalCoalesce drops NULL operands, flattens nested COALESCE
// residuals, removes duplicate deterministic operands, and
// truncates everything after the first constant non-NULL
// operand, which is the value the expression settles on.
func (i *Interpreter) evalCoalesce(n *rowexpr.Form) (result, error) {
	var values []result
	for _, arg := range n.Args {
		r, err := i.evalDeferred(arg)
		if err != nil {
			return result{}, err
		}
		if r.isNull() {
			continue
		}
		if f, ok := r.node.(*rowexpr.Form); ok && f.Op == rowexpr.OpCoalesce {
			for _, sub := range f.Args {
				values = append(values, unresolved(sub))
			}
			continue
		}
		values = append(values, r)
	}
	if len(values) > 0 && values[0].isValue() {
		return values[0], nil
	}
	if len(values) == 1 {
		return values[0], nil
	}
	var exprs []rowexpr.Node
	seen := newNodeSet()
	for _, r := range values {
		expr := r.node
		if expr == nil {
			expr = rowexpr.Const(r.val, n.T)
		}
		if !rowexpr.Deterministic(expr, i.reg) || seen.add(expr) {
			exprs = append(exprs, expr)
		}
		if c, ok := expr.(*rowexpr.Constant); ok && c.Value != nil {
			break
		}
	}
	switch len(exprs) {
	case 0:
		return value(nil), nil
	case 1:
		return unresolved(exprs[0]), nil
	}
	return i.rebuildForm(n, exprs), nil
}

// evalIn compares the target against every candidate; the scan
// never short-circuits, so a failing candidate fails the whole
// expression even after a match. A match beats NULL candidates
// and unresolved candidates; without one, NULL candidates make
// the result NULL.
func (i *Interpreter) evalIn(n *rowexpr.Form) (result, error) {
	candidates, err := i.evalAll(n.Args[1:])
	if err != nil {
		return result{}, err
	}
	target, err := i.eval(n.Args[0])
	if err != nil {
		return result{}, err
	}
	if target.isNull() {
		return value(nil), nil
	}
	targetType := n.Args[0].Type()

	var (
		found    bool
		hasNull  bool
		residual []rowexpr.Node
	)
	for j, c := range candidates {
		orig := n.Args[1+j]
		if !c.isValue() || !target.isValue() {
			residual = append(residual, i.toNode(c, orig))
			continue
		}
		if c.isNull() {
			hasNull = true
			continue
		}
		eq, err := i.equalValues(targetType, orig.Type(), target.val, c.val)
		if err != nil {
			return result{}, err
		}
		if eq == nil {
			hasNull = true
		} else if b, ok := eq.(bool); ok && b {
			found = true
		}
	}
	if found {
		return value(true), nil
	}
	if len(residual) > 0 || !target.isValue() {
		args := []rowexpr.Node{i.toNode(target, n.Args[0])}
		seen := newNodeSet()
		var tail []rowexpr.Node
		for _, r := range residual {
			if !rowexpr.Deterministic(r, i.reg) {
				tail = append(tail, r)
				continue
			}
			if seen.add(r) {
				args = append(args, r)
			}
		}
		args = append(args, tail...)
		return i.rebuildForm(n, args), nil
	}
	if hasNull {
		return value(nil), nil
	}
	return value(false), nil
}

func (i *Interpreter) evalDeref(n *rowexpr.Form) (result, error) {
	base, err := i.eval(n.Args[0])
	if err != nil {
		return result{}, err
	}
	idx, err := i.eval(n.Args[1])
	if err != nil {
		return result{}, err
	}
	field, ok := idx.val.(int64)
	if !ok || !idx.isValue() {
		return result{}, shapeErr(n, "field ordinal is not an integer constant")
	}
	if base.isNull() {
		return value(nil), nil
	}
	if !base.isValue() {
		return i.rebuildForm(n, []rowexpr.Node{
			i.toNode(base, n.Args[0]),
			rowexpr.Int(field),
		}), nil
	}
	row, ok := base.val.(rowexpr.Tuple)
	if !ok {
		return result{}, shapeErr(n, "dereference of non-row value %T", base.val)
	}
	if field < 0 || int(field) >= len(row) {
		return result{}, shapeErr(n, "field %d out of range for %d-field row", field, len(row))
	}
	return value(row[field]), nil
}

func (i *Interpreter) evalBind(n *rowexpr.Form) (result, error) {
	args, err := i.evalAll(n.Args)
	if err != nil {
		return result{}, err
	}
	if anyResidual(args) {
		return i.rebuildForm(n, i.toNodes(args, n.Args)), nil
	}
	fn, ok := args[len(args)-1].val.(*Closure)
	if !ok {
		return result{}, shapeErr(n, "BIND of non-function value %T", args[len(args)-1].val)
	}
	return value(fn.bind(datums(args[:len(args)-1]))), nil
}

// evalSwitch folds the simple CASE form. Clauses whose operand
// provably cannot match are dropped; the first provable match
// with no surviving clauses before it decides the result, and a
// provable match behind surviving clauses becomes the rebuilt
// CASE's else branch, cutting the clauses after it. A CASE whose
// final argument is a WHEN clause has an implicit NULL else.
func (i *Interpreter) evalSwitch(n *rowexpr.Form) (result, error) {
	last := n.Args[len(n.Args)-1]
	clauses := n.Args[1:]
	haveElse := true
	if w, ok := last.(*rowexpr.Form); ok && w.Op == rowexpr.OpWhen {
		haveElse = false
	} else {
		clauses = n.Args[1 : len(n.Args)-1]
	}

	subject, err := i.evalDeferred(n.Args[0])
	if err != nil {
		return result{}, err
	}

	var kept []rowexpr.Node
	var els result
	var elsOrigin rowexpr.Node
	haveResult := false
	if !subject.isNull() {
		for _, clause := range clauses {
			w, ok := clause.(*rowexpr.Form)
			if !ok || w.Op != rowexpr.OpWhen {
				return result{}, shapeErr(clause, "SWITCH clause is not WHEN")
			}
			operand, res := w.Args[0], w.Args[1]
			opv, err := i.evalDeferred(operand)
			if err != nil {
				return result{}, err
			}
			if !opv.isValue() || !subject.isValue() {
				rv, err := i.evalDeferred(res)
				if err != nil {
					return result{}, err
				}
				kept = append(kept, &rowexpr.Form{
					Op: rowexpr.OpWhen,
					T:  w.T,
					Args: []rowexpr.Node{
						i.toNode(opv, operand),
						i.toNode(rv, res),
					},
				})
				continue
			}
			if opv.isNull() {
				continue
			}
			eq, err := i.equalValues(n.Args[0].Type(), operand.Type(), subject.val, opv.val)
			if err != nil {
				return result{}, err
			}
			if b, ok := eq.(bool); ok && b {
				if len(kept) == 0 {
					// leftmost provable match with nothing
					// unresolved before it
					return i.evalDeferred(res)
				}
				els, err = i.evalDeferred(res)
				if err != nil {
					return result{}, err
				}
				elsOrigin = res
				haveResult = true
				break
			}
		}
	}
	if !haveResult {
		if haveElse {
			els, err = i.evalDeferred(last)
			if err != nil {
				return result{}, err
			}
			elsOrigin = last
		} else {
			els = value(nil)
			elsOrigin = rowexpr.NullOf(n.T)
		}
	}
	if len(kept) == 0 {
		return els, nil
	}
	args := make([]rowexpr.Node, 0, len(kept)+2)
	args = append(args, i.toNode(subject, n.Args[0]))
	args = append(args, kept...)
	args = append(args, i.toNode(els, elsOrigin))
	return i.rebuildForm(n, args), nil
}

// evalBetween folds its operands but never the comparison
// itself; range predicates are rewritten by the planner before
// evaluation, so a fully constant BETWEEN stays as it is.
func (i *Interpreter) evalBetween(n *rowexpr.Form) (result, error) {
	args, err := i.evalAll(n.Args)
	if err != nil {
		return result{}, err
	}
	if anyResidual(args) {
		return i.rebuildForm(n, i.toNodes(args, n.Args)), nil
	}
	return unresolved(n), nil
}

// castValue invokes the cast operator from one type to another;
// same-type casts are identity.
func (i *Interpreter) castValue(v rowexpr.Datum, from, to rowexpr.Type) (rowexpr.Datum, error) {
	if from.Equals(to) {
		return v, nil
	}
	fn, err := i.reg.Cast(from, to)
	if err != nil {
		return nil, err
	}
	return i.reg.Invoke(fn, i.session, []rowexpr.Datum{v})
}

// equalValues applies the equality operator; the result is true,
// false, or nil for SQL NULL.
func (i *Interpreter) equalValues(lt, rt rowexpr.Type, l, r rowexpr.Datum) (rowexpr.Datum, error) {
	fn, err := i.reg.Equality(lt, rt)
	if err != nil {
		return nil, err
	}
	return i.reg.Invoke(fn, i.session, []rowexpr.Datum{l, r})
}
