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
	"errors"
	"testing"

	"github.com/quernlabs/quern/catalog"
	"github.com/quernlabs/quern/rowexpr"
)

var testCat = catalog.Default()

func mkfn(t *testing.T, name string, args ...rowexpr.Type) rowexpr.FuncRef {
	t.Helper()
	fn, err := testCat.Lookup(name, args)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return fn
}

// mkcall resolves name against the argument node types and
// builds the call the planner would emit.
func mkcall(t *testing.T, name string, args ...rowexpr.Node) *rowexpr.Call {
	t.Helper()
	ts := make([]rowexpr.Type, len(args))
	for i := range args {
		ts[i] = args[i].Type()
	}
	fn := mkfn(t, name, ts...)
	return rowexpr.NewCall(fn, fn.Ret, args...)
}

func addI(t *testing.T, a, b rowexpr.Node) *rowexpr.Call {
	return mkcall(t, catalog.OpAdd, a, b)
}

func divZero(t *testing.T) *rowexpr.Call {
	return mkcall(t, catalog.OpDivide, rowexpr.Int(1), rowexpr.Int(0))
}

func optimizeAt(t *testing.T, n rowexpr.Node, level Level) Result {
	t.Helper()
	res, err := New(n, testCat, rowexpr.NewSession("tester"), level).Optimize()
	if err != nil {
		t.Fatalf("optimizing %s: %v", rowexpr.ToString(n), err)
	}
	return res
}

// checkRewrites runs each input through Optimize and compares
// the resulting expression, folded or residual, against want.
func checkRewrites(t *testing.T, tests []struct{ in, want rowexpr.Node }) {
	t.Helper()
	for i := range tests {
		res := optimizeAt(t, tests[i].in, Optimized)
		got := res.Node()
		if !rowexpr.Equal(got, tests[i].want) {
			t.Errorf("case %d: %s became %s, want %s",
				i, rowexpr.ToString(tests[i].in),
				rowexpr.ToString(got), rowexpr.ToString(tests[i].want))
		}
	}
}

func TestFoldCalls(t *testing.T) {
	tests := []struct{ in, want rowexpr.Node }{
		{addI(t, rowexpr.Int(2), rowexpr.Int(3)), rowexpr.Int(5)},
		{
			mkcall(t, "upper", rowexpr.Str("howdy")),
			rowexpr.Str("HOWDY"),
		},
		{
			mkcall(t, "concat", rowexpr.Str("a"), rowexpr.Str("b"), rowexpr.Str("c")),
			rowexpr.Str("abc"),
		},
		{
			mkcall(t, "abs", rowexpr.Int(-5)),
			rowexpr.Int(5),
		},
		{
			addI(t, addI(t, rowexpr.Int(1), rowexpr.Int(2)), rowexpr.Int(3)),
			rowexpr.Int(6),
		},
		// a null argument short-circuits without invoking
		{
			mkcall(t, "upper", rowexpr.NullOf(rowexpr.VarcharAny)),
			rowexpr.NullOf(rowexpr.VarcharAny),
		},
		{
			addI(t, rowexpr.Int(1), rowexpr.NullOf(rowexpr.Integer)),
			rowexpr.NullOf(rowexpr.Integer),
		},
		// residual arguments still fold below the call
		{
			addI(t, rowexpr.Var("x", rowexpr.Integer), addI(t, rowexpr.Int(1), rowexpr.Int(2))),
			addI(t, rowexpr.Var("x", rowexpr.Integer), rowexpr.Int(3)),
		},
	}
	checkRewrites(t, tests)
}

func TestAndOr(t *testing.T) {
	T := rowexpr.Bool(true)
	F := rowexpr.Bool(false)
	N := rowexpr.NullOf(rowexpr.Boolean)
	p := rowexpr.Var("p", rowexpr.Boolean)
	q := rowexpr.Var("q", rowexpr.Boolean)
	tests := []struct{ in, want rowexpr.Node }{
		{rowexpr.And(T, T), T},
		{rowexpr.And(T, F), F},
		{rowexpr.And(T, N), N},
		{rowexpr.And(F, T), F},
		{rowexpr.And(F, F), F},
		{rowexpr.And(F, N), F},
		{rowexpr.And(N, T), N},
		{rowexpr.And(N, F), F},
		{rowexpr.And(N, N), N},
		{rowexpr.Or(T, T), T},
		{rowexpr.Or(T, F), T},
		{rowexpr.Or(T, N), T},
		{rowexpr.Or(F, T), T},
		{rowexpr.Or(F, F), F},
		{rowexpr.Or(F, N), N},
		{rowexpr.Or(N, T), T},
		{rowexpr.Or(N, F), N},
		{rowexpr.Or(N, N), N},
		// unresolved operands
		{rowexpr.And(p, T), p},
		{rowexpr.And(p, F), F},
		{rowexpr.And(p, N), rowexpr.And(p, N)},
		{rowexpr.And(p, q), rowexpr.And(p, q)},
		{rowexpr.Or(p, T), T},
		{rowexpr.Or(p, F), p},
		{rowexpr.Or(p, q), rowexpr.Or(p, q)},
	}
	checkRewrites(t, tests)
}

func TestAndShortCircuit(t *testing.T) {
	// FALSE on the left must suppress evaluation of a failing
	// right side entirely
	bad := mkcall(t, catalog.OpLess, divZero(t), rowexpr.Int(5))
	res := optimizeAt(t, rowexpr.And(rowexpr.Bool(false), bad), Optimized)
	if !res.Resolved() || res.Datum() != false {
		t.Errorf("FALSE AND error became %s", rowexpr.ToString(res.Node()))
	}
	res = optimizeAt(t, rowexpr.Or(rowexpr.Bool(true), bad), Optimized)
	if !res.Resolved() || res.Datum() != true {
		t.Errorf("TRUE OR error became %s", rowexpr.ToString(res.Node()))
	}

	// anywhere else the failure surfaces
	_, err := New(rowexpr.And(rowexpr.Bool(true), bad), testCat, nil, Optimized).Optimize()
	var ee *rowexpr.EvalError
	if err == nil || !errors.As(err, &ee) || ee.Code != rowexpr.ErrDivisionByZero {
		t.Errorf("TRUE AND error: got %v", err)
	}
}

func TestIf(t *testing.T) {
	p := rowexpr.Var("p", rowexpr.Boolean)
	tests := []struct{ in, want rowexpr.Node }{
		{rowexpr.If(rowexpr.Bool(true), rowexpr.Int(1), rowexpr.Int(2)), rowexpr.Int(1)},
		{rowexpr.If(rowexpr.Bool(false), rowexpr.Int(1), rowexpr.Int(2)), rowexpr.Int(2)},
		// a null condition selects the else branch
		{rowexpr.If(rowexpr.NullOf(rowexpr.Boolean), rowexpr.Int(1), rowexpr.Int(2)), rowexpr.Int(2)},
		// branches simplify in place under an unresolved condition
		{
			rowexpr.If(p, addI(t, rowexpr.Int(1), rowexpr.Int(1)), rowexpr.Int(3)),
			rowexpr.If(p, rowexpr.Int(2), rowexpr.Int(3)),
		},
	}
	checkRewrites(t, tests)
}

func TestIfUntakenBranch(t *testing.T) {
	// the untaken branch is never executed, so its failure
	// cannot surface
	in := rowexpr.If(rowexpr.Bool(false), divZero(t), rowexpr.Int(2))
	res := optimizeAt(t, in, Optimized)
	if !res.Resolved() || res.Datum() != int64(2) {
		t.Fatalf("IF(FALSE, 1/0, 2) became %s", rowexpr.ToString(res.Node()))
	}
	v, err := EvaluateConstant(in, testCat, nil)
	if err != nil || v != int64(2) {
		t.Fatalf("evaluating IF(FALSE, 1/0, 2): %v, %v", v, err)
	}

	// the taken branch's failure is deferred during optimization
	// and raised at evaluation
	in = rowexpr.If(rowexpr.Bool(true), divZero(t), rowexpr.Int(2))
	res = optimizeAt(t, in, Optimized)
	if res.Resolved() {
		t.Fatalf("IF(TRUE, 1/0, 2) folded to %v", res.Datum())
	}
	var ee *rowexpr.EvalError
	if !errors.As(res.Err(), &ee) || ee.Code != rowexpr.ErrDivisionByZero {
		t.Fatalf("deferred error is %v", res.Err())
	}
	if _, err := EvaluateConstant(in, testCat, nil); !errors.As(err, &ee) {
		t.Fatalf("evaluating IF(TRUE, 1/0, 2): %v", err)
	}
}

func TestIfDeferredShape(t *testing.T) {
	// a failing branch under an unresolved condition becomes
	// cast(fail(code, payload)) in the rebuilt expression
	p := rowexpr.Var("p", rowexpr.Boolean)
	in := rowexpr.If(p, divZero(t), rowexpr.Int(2))
	res := optimizeAt(t, in, Optimized)
	if res.Resolved() || res.Err() != nil {
		t.Fatalf("unexpected result for %s", rowexpr.ToString(in))
	}
	form, ok := res.Node().(*rowexpr.Form)
	if !ok || form.Op != rowexpr.OpIf {
		t.Fatalf("residual is %s", rowexpr.ToString(res.Node()))
	}
	cast, ok := form.Args[1].(*rowexpr.Call)
	if !ok || cast.Func.Name != rowexpr.FnCast {
		t.Fatalf("then branch is %s", rowexpr.ToString(form.Args[1]))
	}
	if !cast.T.Equals(rowexpr.Integer) {
		t.Errorf("failure carrier has type %s", cast.T)
	}
	fail, ok := cast.Args[0].(*rowexpr.Call)
	if !ok || fail.Func.Name != rowexpr.FnFail {
		t.Fatalf("carrier wraps %s", rowexpr.ToString(cast.Args[0]))
	}
	if !fail.Args[0].Equals(rowexpr.Int(int64(rowexpr.ErrDivisionByZero))) {
		t.Errorf("carrier code is %s", rowexpr.ToString(fail.Args[0]))
	}

	// executing the residual with the condition bound re-raises
	// the original failure
	bound, err := New(res.Node(), testCat, nil, Evaluated).
		OptimizeWith(rowexpr.Bindings{"p": true})
	if err != nil {
		t.Fatal(err)
	}
	var ee *rowexpr.EvalError
	if !errors.As(bound.Err(), &ee) || ee.Code != rowexpr.ErrDivisionByZero {
		t.Fatalf("re-raised error is %v", bound.Err())
	}
}

func TestNullIf(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	tests := []struct{ in, want rowexpr.Node }{
		{rowexpr.NullIf(rowexpr.Int(1), rowexpr.Int(1)), rowexpr.NullOf(rowexpr.Integer)},
		{rowexpr.NullIf(rowexpr.Int(1), rowexpr.Int(2)), rowexpr.Int(1)},
		{rowexpr.NullIf(rowexpr.NullOf(rowexpr.Integer), rowexpr.Int(2)), rowexpr.NullOf(rowexpr.Integer)},
		{rowexpr.NullIf(rowexpr.Int(1), rowexpr.NullOf(rowexpr.Integer)), rowexpr.Int(1)},
		// operands compare at their common supertype, but a
		// surviving left value keeps its original type
		{rowexpr.NullIf(rowexpr.Int(1), rowexpr.Float(1)), rowexpr.NullOf(rowexpr.Integer)},
		{rowexpr.NullIf(rowexpr.Int(1), rowexpr.Float(1.5)), rowexpr.Int(1)},
		{
			rowexpr.NullIf(x, rowexpr.Int(1)),
			rowexpr.NullIf(x, rowexpr.Int(1)),
		},
	}
	checkRewrites(t, tests)
}

func TestIsNull(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	tests := []struct{ in, want rowexpr.Node }{
		{rowexpr.IsNull(rowexpr.NullOf(rowexpr.Integer)), rowexpr.Bool(true)},
		{rowexpr.IsNull(rowexpr.Int(1)), rowexpr.Bool(false)},
		{rowexpr.IsNull(x), rowexpr.IsNull(x)},
		{
			rowexpr.IsNull(addI(t, rowexpr.Int(1), rowexpr.NullOf(rowexpr.Integer))),
			rowexpr.Bool(true),
		},
	}
	checkRewrites(t, tests)
}

func TestCoalesce(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	y := rowexpr.Var("y", rowexpr.Integer)
	null := rowexpr.NullOf(rowexpr.Integer)
	rand1 := mkcall(t, "random")
	rand2 := mkcall(t, "random")
	tests := []struct{ in, want rowexpr.Node }{
		// the first concrete non-null operand wins
		{rowexpr.Coalesce(null, rowexpr.Int(5), x), rowexpr.Int(5)},
		{rowexpr.Coalesce(null, null), null},
		// null operands are dropped
		{rowexpr.Coalesce(x, null, rowexpr.Int(1)), rowexpr.Coalesce(x, rowexpr.Int(1))},
		// operands after a constant are unreachable
		{rowexpr.Coalesce(x, rowexpr.Int(1), y), rowexpr.Coalesce(x, rowexpr.Int(1))},
		// deterministic duplicates collapse
		{rowexpr.Coalesce(x, x, y), rowexpr.Coalesce(x, y)},
		// non-deterministic duplicates do not
		{rowexpr.Coalesce(rand1, rand2), rowexpr.Coalesce(rand1, rand2)},
		// nested COALESCE flattens
		{rowexpr.Coalesce(rowexpr.Coalesce(x, y), rowexpr.Int(1)),
			rowexpr.Coalesce(x, y, rowexpr.Int(1))},
		// a single survivor loses the wrapper
		{rowexpr.Coalesce(x, null), x},
	}
	checkRewrites(t, tests)
}

func TestIn(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	rand := mkcall(t, "random")
	tests := []struct{ in, want rowexpr.Node }{
		{
			rowexpr.In(rowexpr.Int(2), rowexpr.Int(1), rowexpr.Int(2), rowexpr.Int(3)),
			rowexpr.Bool(true),
		},
		{
			rowexpr.In(rowexpr.Int(2), rowexpr.Int(1), rowexpr.Int(3)),
			rowexpr.Bool(false),
		},
		// a null candidate makes a miss indeterminate
		{
			rowexpr.In(rowexpr.Int(2), rowexpr.Int(1), rowexpr.NullOf(rowexpr.Integer)),
			rowexpr.NullOf(rowexpr.Boolean),
		},
		// but a match beats null candidates
		{
			rowexpr.In(rowexpr.Int(2), rowexpr.NullOf(rowexpr.Integer), rowexpr.Int(2)),
			rowexpr.Bool(true),
		},
		// and unresolved ones
		{
			rowexpr.In(rowexpr.Int(2), x, rowexpr.Int(2)),
			rowexpr.Bool(true),
		},
		{
			rowexpr.In(rowexpr.NullOf(rowexpr.Integer), rowexpr.Int(1)),
			rowexpr.NullOf(rowexpr.Boolean),
		},
		// misses drop out of the rebuilt list
		{
			rowexpr.In(rowexpr.Int(2), x, rowexpr.Int(3)),
			rowexpr.In(rowexpr.Int(2), x),
		},
		// unresolved candidates dedup; non-deterministic ones
		// keep their place at the tail
		{
			rowexpr.In(rowexpr.Int(2), x, x),
			rowexpr.In(rowexpr.Int(2), x),
		},
		{
			rowexpr.In(rowexpr.Int(2), rand, x),
			rowexpr.In(rowexpr.Int(2), x, rand),
		},
		{
			rowexpr.In(x, rowexpr.Int(1), rowexpr.Int(2)),
			rowexpr.In(x, rowexpr.Int(1), rowexpr.Int(2)),
		},
	}
	checkRewrites(t, tests)
}

func TestInNeverSkipsCandidates(t *testing.T) {
	// IN evaluates every candidate even after a match, so a
	// failing candidate fails the whole expression
	in := rowexpr.In(rowexpr.Int(1), rowexpr.Int(1), divZero(t))
	_, err := New(in, testCat, nil, Optimized).Optimize()
	var ee *rowexpr.EvalError
	if err == nil || !errors.As(err, &ee) || ee.Code != rowexpr.ErrDivisionByZero {
		t.Fatalf("got %v", err)
	}
}

func TestSwitch(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	one := rowexpr.Str("one")
	two := rowexpr.Str("two")
	other := rowexpr.Str("other")
	vc := rowexpr.VarcharAny
	tests := []struct{ in, want rowexpr.Node }{
		{
			rowexpr.Switch(vc, rowexpr.Int(2),
				rowexpr.When(rowexpr.Int(1), one),
				rowexpr.When(rowexpr.Int(2), two),
				other),
			two,
		},
		{
			rowexpr.Switch(vc, rowexpr.Int(9),
				rowexpr.When(rowexpr.Int(1), one),
				other),
			other,
		},
		// no else falls through to NULL
		{
			rowexpr.Switch(vc, rowexpr.Int(9),
				rowexpr.When(rowexpr.Int(1), one)),
			rowexpr.NullOf(vc),
		},
		// a null subject matches nothing
		{
			rowexpr.Switch(vc, rowexpr.NullOf(rowexpr.Integer),
				rowexpr.When(rowexpr.Int(1), one),
				other),
			other,
		},
		// null operands cannot match and are dropped
		{
			rowexpr.Switch(vc, rowexpr.Int(2),
				rowexpr.When(rowexpr.NullOf(rowexpr.Integer), one),
				rowexpr.When(rowexpr.Int(2), two)),
			two,
		},
		// unresolved subject keeps all clauses, folding inside
		{
			rowexpr.Switch(vc, x,
				rowexpr.When(addI(t, rowexpr.Int(1), rowexpr.Int(1)), one),
				other),
			rowexpr.Switch(vc, x,
				rowexpr.When(rowexpr.Int(2), one),
				other),
		},
		// a proven match behind an unresolved clause becomes the
		// else branch, cutting everything after it
		{
			rowexpr.Switch(vc, rowexpr.Int(2),
				rowexpr.When(x, rowexpr.Str("first")),
				rowexpr.When(rowexpr.Int(2), rowexpr.Str("second")),
				rowexpr.When(rowexpr.Int(3), rowexpr.Str("third")),
				other),
			rowexpr.Switch(vc, rowexpr.Int(2),
				rowexpr.When(x, rowexpr.Str("first")),
				rowexpr.Str("second")),
		},
	}
	checkRewrites(t, tests)
}

func TestRowAndDeref(t *testing.T) {
	pairT := rowexpr.Row{Fields: []rowexpr.Type{rowexpr.Integer, rowexpr.VarcharAny}}
	rowConst := rowexpr.Const(rowexpr.Tuple{int64(7), "q"}, pairT)
	r := rowexpr.Var("r", pairT)
	tests := []struct{ in, want rowexpr.Node }{
		{
			rowexpr.RowOf(pairT, rowexpr.Int(7), rowexpr.Str("q")),
			rowConst,
		},
		{
			rowexpr.RowOf(pairT, rowexpr.Field(0, rowexpr.Integer), rowexpr.Str("q")),
			rowexpr.RowOf(pairT, rowexpr.Field(0, rowexpr.Integer), rowexpr.Str("q")),
		},
		{rowexpr.Deref(rowConst, 0), rowexpr.Int(7)},
		{rowexpr.Deref(rowConst, 1), rowexpr.Str("q")},
		// null propagates through field access
		{rowexpr.Deref(rowexpr.NullOf(pairT), 1), rowexpr.NullOf(rowexpr.VarcharAny)},
		{rowexpr.Deref(r, 1), rowexpr.Deref(r, 1)},
		{
			rowexpr.Deref(rowexpr.RowOf(pairT, rowexpr.Int(7), rowexpr.Str("q")), 0),
			rowexpr.Int(7),
		},
	}
	checkRewrites(t, tests)

	// field types are a precondition
	bad := rowexpr.RowOf(pairT, rowexpr.Str("a"), rowexpr.Str("q"))
	if _, err := New(bad, testCat, nil, Optimized).Optimize(); err == nil {
		t.Error("mistyped row constructor passed")
	}
}

func TestBetween(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	// operands fold, the comparison itself never does
	in := rowexpr.Between(x, addI(t, rowexpr.Int(1), rowexpr.Int(1)), rowexpr.Int(9))
	res := optimizeAt(t, in, Optimized)
	want := rowexpr.Between(x, rowexpr.Int(2), rowexpr.Int(9))
	if !rowexpr.Equal(res.Node(), want) {
		t.Errorf("got %s", rowexpr.ToString(res.Node()))
	}

	in = rowexpr.Between(rowexpr.Int(2), rowexpr.Int(1), rowexpr.Int(9))
	res = optimizeAt(t, in, Optimized)
	if res.Resolved() || !rowexpr.Equal(res.Node(), in) {
		t.Errorf("constant BETWEEN became %s", rowexpr.ToString(res.Node()))
	}
	var nc *NotConstantError
	if _, err := EvaluateConstant(in, testCat, nil); !errors.As(err, &nc) {
		t.Errorf("evaluating constant BETWEEN: %v", err)
	}
}

func TestOptimizeWith(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	y := rowexpr.Var("y", rowexpr.Integer)
	sum := addI(t, x, y)

	res, err := New(sum, testCat, nil, Optimized).
		OptimizeWith(rowexpr.Bindings{"x": int64(2), "y": int64(3)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved() || res.Datum() != int64(5) {
		t.Errorf("got %s", rowexpr.ToString(res.Node()))
	}

	// unbound variables stay in the residual expression
	res, err = New(sum, testCat, nil, Optimized).
		OptimizeWith(rowexpr.Bindings{"x": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	if !rowexpr.Equal(res.Node(), addI(t, rowexpr.Int(2), y)) {
		t.Errorf("got %s", rowexpr.ToString(res.Node()))
	}

	// a bound nil is a real SQL NULL, not an unbound variable
	res, err = New(sum, testCat, nil, Optimized).
		OptimizeWith(rowexpr.Bindings{"x": nil, "y": int64(3)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved() || res.Datum() != nil {
		t.Errorf("got %s", rowexpr.ToString(res.Node()))
	}
}

func TestEvaluateEntryPoints(t *testing.T) {
	sum := addI(t, rowexpr.Int(2), rowexpr.Int(3))
	if _, err := New(sum, testCat, nil, Optimized).Evaluate(); err == nil {
		t.Error("Evaluate below the evaluated level succeeded")
	}
	if _, err := New(sum, testCat, nil, Evaluated).Optimize(); err == nil {
		t.Error("Optimize at the evaluated level succeeded")
	}

	v, err := EvaluateConstant(sum, testCat, nil)
	if err != nil || v != int64(5) {
		t.Errorf("EvaluateConstant: %v, %v", v, err)
	}

	var nc *NotConstantError
	if _, err := EvaluateConstant(rowexpr.Field(0, rowexpr.Integer), testCat, nil); !errors.As(err, &nc) {
		t.Errorf("input reference evaluated: %v", err)
	}
	if _, err := EvaluateConstant(
		mkcall(t, "upper", rowexpr.Var("s", rowexpr.VarcharAny)), testCat, nil); !errors.As(err, &nc) {
		t.Errorf("unresolved variable evaluated: %v", err)
	}

	var ee *rowexpr.EvalError
	if _, err := EvaluateConstant(divZero(t), testCat, nil); !errors.As(err, &ee) {
		t.Errorf("division by zero evaluated: %v", err)
	}
}

func TestMalformedTreeRejected(t *testing.T) {
	// run() validates shape before evaluating anything
	bad := rowexpr.NewCall(rowexpr.FuncRef{}, rowexpr.Integer)
	if _, err := New(bad, testCat, nil, Optimized).Optimize(); err == nil {
		t.Error("unresolved call accepted")
	}
	when := rowexpr.When(rowexpr.Int(1), rowexpr.Int(2))
	if _, err := New(when, testCat, nil, Optimized).Optimize(); err == nil {
		t.Error("free-standing WHEN accepted")
	}
}

func TestOptimizeIdempotent(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	p := rowexpr.Var("p", rowexpr.Boolean)
	exprs := []rowexpr.Node{
		rowexpr.If(p, divZero(t), rowexpr.Int(2)),
		rowexpr.Coalesce(x, mkcall(t, "random"), rowexpr.Int(1)),
		rowexpr.In(rowexpr.Int(2), x, rowexpr.Int(3)),
		rowexpr.Switch(rowexpr.VarcharAny, x,
			rowexpr.When(rowexpr.Int(1), rowexpr.Str("one")),
			rowexpr.Str("other")),
		rowexpr.Between(rowexpr.Int(2), rowexpr.Int(1), rowexpr.Int(9)),
		rowexpr.And(p, rowexpr.NullOf(rowexpr.Boolean)),
	}
	for i := range exprs {
		first := optimizeAt(t, exprs[i], Optimized)
		second := optimizeAt(t, first.Node(), Optimized)
		if !rowexpr.Equal(first.Node(), second.Node()) {
			t.Errorf("case %d: %s re-optimized to %s",
				i, rowexpr.ToString(first.Node()), rowexpr.ToString(second.Node()))
		}
	}
}
