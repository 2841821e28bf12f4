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

// Package interp implements partial evaluation of row expressions.
//
// An Interpreter walks an expression tree and folds every
// subexpression whose value it can compute, leaving everything
// else behind as a residual expression. How much it is allowed
// to fold is controlled by the Level: at Serializable the result
// must survive re-encoding, at Optimized it may contain opaque
// runtime objects, and at Evaluated it is the final value.
//
// Failures raised while speculatively evaluating a subexpression
// (division by zero inside an untaken branch, for example) do not
// abort optimization; they are deferred into the residual
// expression as a call that re-raises the error if it is ever
// actually executed.
package interp

import (
	"errors"
	"fmt"

	"github.com/quernlabs/quern/rowexpr"
)

// Level controls how much of an expression the interpreter
// is allowed to fold.
type Level int

const (
	// Serializable folds only values that can be re-encoded as
	// wire constants: results never contain opaque runtime
	// objects, and no constant larger than MaxConstantBytes is
	// introduced into the rewritten expression.
	Serializable Level = iota
	// Optimized also folds values that have no wire form, such
	// as compiled LIKE patterns; non-deterministic calls are
	// still left in place.
	Optimized
	// Evaluated computes the final value, invoking every
	// function including non-deterministic ones.
	Evaluated
)

func (l Level) String() string {
	switch l {
	case Serializable:
		return "serializable"
	case Optimized:
		return "optimized"
	case Evaluated:
		return "evaluated"
	default:
		return "unknown"
	}
}

// Interpreter partially evaluates one expression.
//
// An Interpreter is single-use and not safe for concurrent use;
// construct a fresh one per expression.
type Interpreter struct {
	expr     rowexpr.Node
	reg      rowexpr.Registry
	session  *rowexpr.Session
	level    Level
	resolver rowexpr.VariableResolver
}

// New constructs an interpreter for expr at the given level.
func New(expr rowexpr.Node, reg rowexpr.Registry, session *rowexpr.Session, level Level) *Interpreter {
	return &Interpreter{expr: expr, reg: reg, session: session, level: level}
}

// Result is the outcome of partial evaluation: either a concrete
// value, or a residual expression that still depends on inputs
// or unresolved variables.
type Result struct {
	val      rowexpr.Datum
	node     rowexpr.Node
	typ      rowexpr.Type
	resolved bool
	err      error
}

// Resolved reports whether the expression folded all the way
// down to a value.
func (r Result) Resolved() bool { return r.resolved }

// Datum returns the folded value; it is meaningful only when
// Resolved reports true.
func (r Result) Datum() rowexpr.Datum { return r.val }

// Node returns the result as an expression: the residual
// expression when one remains, and a constant node otherwise.
func (r Result) Node() rowexpr.Node {
	if !r.resolved {
		return r.node
	}
	return rowexpr.Const(r.val, r.typ)
}

// Err returns the failure the residual expression is guaranteed
// to raise when executed, if optimization proved one. A nil Err
// says nothing about expressions that were left unevaluated.
func (r Result) Err() error { return r.err }

// Evaluate computes the final value of the expression. The
// interpreter must be at the Evaluated level and the expression
// must not contain input references or unresolved variables;
// otherwise a NotConstantError is returned.
func (i *Interpreter) Evaluate() (rowexpr.Datum, error) {
	if i.level != Evaluated {
		return nil, fmt.Errorf("interp: Evaluate at level %s", i.level)
	}
	r, err := i.run(nil)
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	if !r.resolved {
		return nil, &NotConstantError{Node: r.node}
	}
	return r.val, nil
}

// Optimize partially evaluates the expression without resolving
// any variables. The interpreter must be below the Evaluated
// level.
func (i *Interpreter) Optimize() (Result, error) {
	if i.level >= Evaluated {
		return Result{}, fmt.Errorf("interp: Optimize at level %s", i.level)
	}
	return i.run(nil)
}

// OptimizeWith partially evaluates the expression, resolving
// variables through res. A variable res does not bind stays in
// the residual expression.
func (i *Interpreter) OptimizeWith(res rowexpr.VariableResolver) (Result, error) {
	return i.run(res)
}

// EvaluateConstant fully evaluates an expression that contains
// no input references and returns its value.
func EvaluateConstant(expr rowexpr.Node, reg rowexpr.Registry, s *rowexpr.Session) (rowexpr.Datum, error) {
	return New(expr, reg, s, Evaluated).Evaluate()
}

func (i *Interpreter) run(res rowexpr.VariableResolver) (Result, error) {
	if err := rowexpr.Check(i.expr); err != nil {
		return Result{}, err
	}
	i.resolver = res
	r, err := i.eval(i.expr)
	if err != nil {
		return Result{}, err
	}
	out := Result{typ: i.expr.Type()}
	if r.node != nil {
		out.node = r.node
		out.err = r.err
	} else {
		out.val = r.val
		out.resolved = true
	}
	return out, nil
}

// NotConstantError is returned by Evaluate when the expression
// still depends on input references or unresolved variables.
type NotConstantError struct {
	Node rowexpr.Node
}

func (e *NotConstantError) Error() string {
	return fmt.Sprintf("expression %q does not evaluate to a constant", rowexpr.ToString(e.Node))
}

// result is the outcome of evaluating one subexpression: a
// concrete value (node == nil), a residual expression, or a
// deferred failure (node != nil and err != nil; the node
// re-raises err when executed).
type result struct {
	val  rowexpr.Datum
	node rowexpr.Node
	err  error
}

func value(v rowexpr.Datum) result     { return result{val: v} }
func unresolved(n rowexpr.Node) result { return result{node: n} }

// isValue reports whether r is a concrete value, including NULL.
func (r result) isValue() bool { return r.node == nil }

// isNull reports whether r is a concrete SQL NULL.
func (r result) isNull() bool { return r.node == nil && r.val == nil }

func isTrue(r result) bool {
	b, ok := r.val.(bool)
	return r.node == nil && ok && b
}

func isFalse(r result) bool {
	b, ok := r.val.(bool)
	return r.node == nil && ok && !b
}

func anyResidual(rs []result) bool {
	for i := range rs {
		if rs[i].node != nil {
			return true
		}
	}
	return false
}

func datums(rs []result) []rowexpr.Datum {
	out := make([]rowexpr.Datum, len(rs))
	for i := range rs {
		out[i] = rs[i].val
	}
	return out
}

func shapeErr(at rowexpr.Node, f string, args ...any) error {
	return &rowexpr.ShapeError{At: at, Msg: fmt.Sprintf(f, args...)}
}

func (i *Interpreter) eval(n rowexpr.Node) (result, error) {
	switch n := n.(type) {
	case *rowexpr.Input:
		return unresolved(n), nil
	case *rowexpr.Constant:
		return value(n.Value), nil
	case *rowexpr.Variable:
		return i.evalVariable(n), nil
	case *rowexpr.Call:
		return i.evalCall(n)
	case *rowexpr.Lambda:
		return i.evalLambda(n)
	case *rowexpr.Form:
		return i.evalForm(n)
	}
	return result{}, shapeErr(n, "unknown node kind %T", n)
}

// evalAll evaluates nodes strictly left to right; errors
// propagate immediately.
func (i *Interpreter) evalAll(nodes []rowexpr.Node) ([]result, error) {
	out := make([]result, len(nodes))
	for j := range nodes {
		r, err := i.eval(nodes[j])
		if err != nil {
			return nil, err
		}
		out[j] = r
	}
	return out, nil
}

// evalDeferred evaluates n speculatively: a domain failure does
// not propagate but is captured into a deferred result whose
// expression re-raises the failure if it is ever executed.
// Contract violations still propagate.
func (i *Interpreter) evalDeferred(n rowexpr.Node) (result, error) {
	r, err := i.eval(n)
	if err == nil {
		return r, nil
	}
	var ee *rowexpr.EvalError
	if !errors.As(err, &ee) {
		return result{}, err
	}
	node, derr := i.failureNode(ee, n.Type())
	if derr != nil {
		// the registry cannot express the failure as a call;
		// surface the original error instead
		return result{}, err
	}
	return result{node: node, err: err}, nil
}

func (i *Interpreter) evalVariable(n *rowexpr.Variable) result {
	if i.resolver == nil {
		return unresolved(n)
	}
	if v, ok := i.resolver.Value(n.Name); ok {
		return value(v)
	}
	return unresolved(n)
}

func (i *Interpreter) evalLambda(n *rowexpr.Lambda) (result, error) {
	if i.level < Evaluated {
		// lambda parameters shadow everything; the enclosing
		// resolver must not leak into the body
		saved := i.resolver
		i.resolver = nil
		r, err := i.evalDeferred(n.Body)
		i.resolver = saved
		if err != nil {
			return result{}, err
		}
		body := i.toNode(r, n.Body)
		if rowexpr.Equal(body, n.Body) {
			return unresolved(n), nil
		}
		return unresolved(&rowexpr.Lambda{Params: n.Params, Sig: n.Sig, Body: body}), nil
	}
	return value(&Closure{ev: i, params: n.Params, sig: n.Sig, body: n.Body}), nil
}
