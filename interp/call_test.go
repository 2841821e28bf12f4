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
	"strings"
	"testing"
	"time"

	"github.com/quernlabs/quern/catalog"
	"github.com/quernlabs/quern/rowexpr"
)

func castCall(t *testing.T, arg rowexpr.Node, to rowexpr.Type) *rowexpr.Call {
	t.Helper()
	fn, err := testCat.Cast(arg.Type(), to)
	if err != nil {
		t.Fatalf("cast %s to %s: %v", arg.Type(), to, err)
	}
	return rowexpr.NewCall(fn, to, arg)
}

// likeCall builds like(val, like_pattern(pattern[, escape])) the
// way the planner lowers a LIKE predicate.
func likeCall(t *testing.T, val rowexpr.Node, pattern string, escape ...string) *rowexpr.Call {
	t.Helper()
	args := []rowexpr.Node{rowexpr.Str(pattern)}
	for _, e := range escape {
		args = append(args, rowexpr.Str(e))
	}
	ts := make([]rowexpr.Type, len(args))
	for i := range ts {
		ts[i] = rowexpr.VarcharAny
	}
	fn := mkfn(t, rowexpr.FnLikePattern, ts...)
	pat := rowexpr.NewCall(fn, fn.Ret, args...)
	return mkcall(t, rowexpr.FnLike, val, pat)
}

func TestSerializableGate(t *testing.T) {
	big := strings.Repeat("x", 1200)
	in := mkcall(t, "upper", rowexpr.Str(big))

	// the folded value would exceed MaxConstantBytes, so the
	// Serializable level keeps the call
	res := optimizeAt(t, in, Serializable)
	if res.Resolved() || !rowexpr.Equal(res.Node(), in) {
		t.Errorf("oversized fold became %s", rowexpr.ToString(res.Node()))
	}

	res = optimizeAt(t, in, Optimized)
	if !res.Resolved() || res.Datum() != strings.ToUpper(big) {
		t.Error("Optimized level did not fold the oversized value")
	}

	small := strings.Repeat("x", 900)
	res = optimizeAt(t, mkcall(t, "upper", rowexpr.Str(small)), Serializable)
	if !res.Resolved() || res.Datum() != strings.ToUpper(small) {
		t.Error("Serializable level did not fold a small value")
	}
}

func TestCastFolding(t *testing.T) {
	x := rowexpr.Var("x", rowexpr.Integer)
	tests := []struct{ in, want rowexpr.Node }{
		{
			castCall(t, rowexpr.NullOf(rowexpr.VarcharAny), rowexpr.Integer),
			rowexpr.NullOf(rowexpr.Integer),
		},
		// casting a residual to its own type is a no-op
		{castCall(t, x, rowexpr.Integer), x},
		// widening a varchar never touches the value
		{
			castCall(t, rowexpr.Const("hello", rowexpr.Varchar{N: 5}), rowexpr.Varchar{N: 10}),
			rowexpr.Const("hello", rowexpr.Varchar{N: 10}),
		},
		{castCall(t, rowexpr.Str("42"), rowexpr.Integer), rowexpr.Int(42)},
		// integer casts round half up
		{castCall(t, rowexpr.Float(2.5), rowexpr.Integer), rowexpr.Int(3)},
		{castCall(t, rowexpr.Bool(true), rowexpr.VarcharAny), rowexpr.Str("true")},
	}
	checkRewrites(t, tests)

	var ee *rowexpr.EvalError
	_, err := New(castCall(t, rowexpr.Str("pear"), rowexpr.Integer), testCat, nil, Optimized).Optimize()
	if !errors.As(err, &ee) || ee.Code != rowexpr.ErrInvalidCast {
		t.Errorf("cast of 'pear' to integer: %v", err)
	}
}

func TestCastOfJSONParse(t *testing.T) {
	arrT := rowexpr.Array{Elem: rowexpr.Integer}
	x := rowexpr.Var("x", rowexpr.VarcharAny)

	// cast(json_parse(x) AS array(integer)) collapses into the
	// one-step structured conversion
	in := castCall(t, mkcall(t, rowexpr.FnJSONParse, x), arrT)
	res := optimizeAt(t, in, Optimized)
	call, ok := res.Node().(*rowexpr.Call)
	if !ok || call.Func.Name != rowexpr.FnJSONToArray {
		t.Fatalf("residual is %s", rowexpr.ToString(res.Node()))
	}
	if !call.T.Equals(arrT) || len(call.Args) != 1 || !call.Args[0].Equals(x) {
		t.Errorf("structured cast is %s", rowexpr.ToString(call))
	}

	// and the collapsed form evaluates
	in = castCall(t, mkcall(t, rowexpr.FnJSONParse, rowexpr.Str("[1, 2]")), arrT)
	v, err := EvaluateConstant(in, testCat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rowexpr.DatumEquals(v, []rowexpr.Datum{int64(1), int64(2)}) {
		t.Errorf("got %v", v)
	}
}

func TestLikeConstantFold(t *testing.T) {
	tests := []struct {
		val, pattern string
		want         bool
	}{
		{"abc", "a%", true},
		{"xbc", "a%", false},
		{"abc", "_b_", true},
		{"abc", "abc", true},
	}
	for i := range tests {
		in := likeCall(t, rowexpr.Str(tests[i].val), tests[i].pattern)
		// the compiled matcher itself is not serializable, but
		// the match result is; both levels fold
		for _, level := range []Level{Serializable, Optimized} {
			res := optimizeAt(t, in, level)
			if !res.Resolved() || res.Datum() != tests[i].want {
				t.Errorf("case %d at %s: got %s",
					i, level, rowexpr.ToString(res.Node()))
			}
		}
	}

	res := optimizeAt(t, likeCall(t, rowexpr.NullOf(rowexpr.VarcharAny), "a%"), Optimized)
	if !res.Resolved() || res.Datum() != nil {
		t.Errorf("NULL LIKE 'a%%' became %s", rowexpr.ToString(res.Node()))
	}
}

func TestLikePatternCompiled(t *testing.T) {
	s := rowexpr.Var("s", rowexpr.VarcharAny)
	in := likeCall(t, s, "a%")

	// at Optimized the pattern subexpression is compiled once and
	// embedded as a constant
	res := optimizeAt(t, in, Optimized)
	call, ok := res.Node().(*rowexpr.Call)
	if !ok || call.Func.Name != rowexpr.FnLike || !call.Args[0].Equals(s) {
		t.Fatalf("residual is %s", rowexpr.ToString(res.Node()))
	}
	pc, ok := call.Args[1].(*rowexpr.Constant)
	if !ok {
		t.Fatalf("pattern argument is %s", rowexpr.ToString(call.Args[1]))
	}
	m, ok := pc.Value.(*rowexpr.Pattern)
	if !ok {
		t.Fatalf("pattern constant holds %T", pc.Value)
	}
	if !m.MatchString("abc") || m.MatchString("xbc") {
		t.Error("embedded matcher does not implement the pattern")
	}

	// re-optimizing the compiled form is stable
	again := optimizeAt(t, res.Node(), Optimized)
	if !rowexpr.Equal(again.Node(), res.Node()) {
		t.Errorf("re-optimized to %s", rowexpr.ToString(again.Node()))
	}

	// at Serializable the matcher may not be embedded, so the
	// pattern subexpression survives as written
	res = optimizeAt(t, in, Serializable)
	if !rowexpr.Equal(res.Node(), in) {
		t.Errorf("Serializable residual is %s", rowexpr.ToString(res.Node()))
	}
}

func TestLikeAsEquality(t *testing.T) {
	s := rowexpr.Var("s", rowexpr.VarcharAny)
	eqFn, err := testCat.Equality(rowexpr.VarcharAny, rowexpr.VarcharAny)
	if err != nil {
		t.Fatal(err)
	}

	// a pattern with no wildcards is plain equality
	res := optimizeAt(t, likeCall(t, s, "abc"), Optimized)
	want := rowexpr.NewCall(eqFn, rowexpr.Boolean, s, rowexpr.Str("abc"))
	if !rowexpr.Equal(res.Node(), want) {
		t.Errorf("got %s, want %s",
			rowexpr.ToString(res.Node()), rowexpr.ToString(want))
	}

	// escaped wildcards count as literals
	res = optimizeAt(t, likeCall(t, s, "50#%", "#"), Optimized)
	want = rowexpr.NewCall(eqFn, rowexpr.Boolean, s, rowexpr.Str("50%"))
	if !rowexpr.Equal(res.Node(), want) {
		t.Errorf("escaped pattern became %s", rowexpr.ToString(res.Node()))
	}

	// real wildcards do not rewrite
	res = optimizeAt(t, likeCall(t, s, "a%"), Optimized)
	if c, ok := res.Node().(*rowexpr.Call); !ok || c.Func.Name != rowexpr.FnLike {
		t.Errorf("wildcard pattern became %s", rowexpr.ToString(res.Node()))
	}
}

func TestArrayConstructor(t *testing.T) {
	arrT := rowexpr.Array{Elem: rowexpr.Integer}
	fn := mkfn(t, rowexpr.FnArrayConstructor, rowexpr.Integer, rowexpr.Integer)

	// NULL elements are elements, not a NULL array
	in := rowexpr.NewCall(fn, arrT, rowexpr.NullOf(rowexpr.Integer), rowexpr.Int(1))
	res := optimizeAt(t, in, Optimized)
	if !res.Resolved() {
		t.Fatalf("got %s", rowexpr.ToString(res.Node()))
	}
	if !rowexpr.DatumEquals(res.Datum(), []rowexpr.Datum{nil, int64(1)}) {
		t.Errorf("got %v", res.Datum())
	}

	x := rowexpr.Var("x", rowexpr.Integer)
	in = rowexpr.NewCall(fn, arrT, x, rowexpr.Int(1))
	res = optimizeAt(t, in, Optimized)
	if res.Resolved() || !rowexpr.Equal(res.Node(), in) {
		t.Errorf("residual constructor became %s", rowexpr.ToString(res.Node()))
	}
}

func TestNeverFolded(t *testing.T) {
	// dynamic filter placeholders always survive optimization
	df := mkcall(t, rowexpr.FnDynamicFilter, rowexpr.Int(1))
	res := optimizeAt(t, df, Optimized)
	if res.Resolved() || !rowexpr.Equal(res.Node(), df) {
		t.Errorf("dynamic filter became %s", rowexpr.ToString(res.Node()))
	}
	// but evaluate to TRUE when forced
	v, err := EvaluateConstant(df, testCat, nil)
	if err != nil || v != true {
		t.Errorf("forced dynamic filter: %v, %v", v, err)
	}

	// fail() survives optimization and raises on evaluation
	fail := mkcall(t, rowexpr.FnFail,
		rowexpr.Int(int64(rowexpr.ErrFailed)),
		rowexpr.Const(`{"message":"boom"}`, rowexpr.JSON))
	res = optimizeAt(t, fail, Optimized)
	if res.Resolved() || !rowexpr.Equal(res.Node(), fail) {
		t.Errorf("fail() became %s", rowexpr.ToString(res.Node()))
	}
	_, err = EvaluateConstant(fail, testCat, nil)
	var ee *rowexpr.EvalError
	if !errors.As(err, &ee) || ee.Code != rowexpr.ErrFailed || ee.Msg != "boom" {
		t.Errorf("fail() raised %v", err)
	}
}

func TestNonDeterministic(t *testing.T) {
	rand := mkcall(t, "random")
	res := optimizeAt(t, rand, Optimized)
	if res.Resolved() || !rowexpr.Equal(res.Node(), rand) {
		t.Errorf("random() became %s", rowexpr.ToString(res.Node()))
	}
	// arguments still fold underneath
	in := mkcall(t, "random", addI(t, rowexpr.Int(4), rowexpr.Int(6)))
	res = optimizeAt(t, in, Optimized)
	if !rowexpr.Equal(res.Node(), mkcall(t, "random", rowexpr.Int(10))) {
		t.Errorf("got %s", rowexpr.ToString(res.Node()))
	}
	// at the Evaluated level it runs
	v, err := EvaluateConstant(in, testCat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := v.(int64); !ok || n < 0 || n >= 10 {
		t.Errorf("random(10) = %v", v)
	}
}

func TestAggregateCalls(t *testing.T) {
	fn := mkfn(t, "count", rowexpr.Integer)
	filter := rowexpr.IsNull(rowexpr.Var("p", rowexpr.Boolean))

	// aggregates are never folded; their rewritten form drops the
	// FILTER clause, which the execution engine carries separately
	cnt := rowexpr.NewCall(fn, fn.Ret, rowexpr.Field(0, rowexpr.Integer))
	cnt.Filter = filter
	res := optimizeAt(t, cnt, Optimized)
	got, ok := res.Node().(*rowexpr.Call)
	if !ok || got.Func.Name != "count" {
		t.Fatalf("got %s", rowexpr.ToString(res.Node()))
	}
	if got.Filter != nil {
		t.Errorf("aggregate rewrite kept filter %s", rowexpr.ToString(got.Filter))
	}

	// arguments fold in place
	agg := rowexpr.NewCall(fn, fn.Ret, addI(t, rowexpr.Int(1), rowexpr.Int(2)))
	res = optimizeAt(t, agg, Optimized)
	want := rowexpr.NewCall(fn, fn.Ret, rowexpr.Int(3))
	if !rowexpr.Equal(res.Node(), want) {
		t.Errorf("got %s", rowexpr.ToString(res.Node()))
	}

	// a scalar call kept for a later round does carry its filter
	rand := mkcall(t, "random")
	rand.Filter = filter
	res = optimizeAt(t, rand, Optimized)
	got, ok = res.Node().(*rowexpr.Call)
	if !ok || !rowexpr.Equal(got.Filter, filter) {
		t.Errorf("scalar rewrite lost filter: %s", rowexpr.ToString(res.Node()))
	}

	// aggregates cannot be forced
	if _, err := EvaluateConstant(rowexpr.NewCall(fn, fn.Ret, rowexpr.Int(1)), testCat, nil); err == nil {
		t.Error("count evaluated in-process")
	}
}

func TestRemoteFunctions(t *testing.T) {
	reg := catalog.New()
	invoked := false
	err := reg.Register(&catalog.Builtin{
		Name:          "remote_score",
		Args:          []rowexpr.Type{rowexpr.Integer},
		Ret:           rowexpr.Double,
		Deterministic: true,
		Locality:      rowexpr.LocalityRemote,
		Call: func(s *rowexpr.Session, args []rowexpr.Datum) (rowexpr.Datum, error) {
			invoked = true
			return float64(0), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	fn, err := reg.Lookup("remote_score", []rowexpr.Type{rowexpr.Integer})
	if err != nil {
		t.Fatal(err)
	}
	in := rowexpr.NewCall(fn, fn.Ret, rowexpr.Int(3))

	res, err := New(in, reg, nil, Optimized).Optimize()
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolved() || !rowexpr.Equal(res.Node(), in) {
		t.Errorf("remote call became %s", rowexpr.ToString(res.Node()))
	}

	// even full evaluation refuses to run it in-process
	var nc *NotConstantError
	if _, err := EvaluateConstant(in, reg, nil); !errors.As(err, &nc) {
		t.Errorf("evaluating remote call: %v", err)
	}
	if invoked {
		t.Error("remote function was invoked in-process")
	}
}

func TestSessionFunctions(t *testing.T) {
	sess := rowexpr.NewSession("tester")

	v, err := EvaluateConstant(mkcall(t, "now"), testCat, sess)
	if err != nil {
		t.Fatal(err)
	}
	if ts, ok := v.(time.Time); !ok || !ts.Equal(sess.Start) {
		t.Errorf("now() = %v, session started %v", v, sess.Start)
	}

	// now() is stable within a session, so it folds early
	res, err := New(mkcall(t, "now"), testCat, sess, Optimized).Optimize()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved() {
		t.Errorf("now() stayed %s", rowexpr.ToString(res.Node()))
	}

	v, err = EvaluateConstant(mkcall(t, "current_user"), testCat, sess)
	if err != nil || v != "tester" {
		t.Errorf("current_user() = %v, %v", v, err)
	}
}
