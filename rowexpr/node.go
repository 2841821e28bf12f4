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

// Package rowexpr defines the row expression IR consumed by the
// partial evaluator: a small, closed set of immutable tree nodes
// (input references, constants, variables, calls, lambdas, and
// special forms) plus the type and value models that go with them.
package rowexpr

import (
	"strconv"
	"strings"
)

// Printable is implemented by values that can render
// themselves as (approximately) SQL text.
type Printable interface {
	// text should write the textual representation of this
	// node to dst; constants redact themselves when redact
	// is true.
	text(dst *strings.Builder, redact bool)
}

// ToString returns the string representation of p.
func ToString(p Printable) string {
	if p == nil {
		return "<nil>"
	}
	var dst strings.Builder
	p.text(&dst, false)
	return dst.String()
}

// ToRedacted returns the string representation of p with
// every constant replaced by a placeholder, for logging
// expression shapes without leaking literal values.
func ToRedacted(p Printable) string {
	if p == nil {
		return "<nil>"
	}
	var dst strings.Builder
	p.text(&dst, true)
	return dst.String()
}

// Visitor is an interface that must be satisfied by
// the argument to Walk.
//
// A Visitor's Visit method is invoked for each node encountered
// by Walk. If the result visitor w is not nil, Walk visits each
// of the children of node with the visitor w, followed by a call
// of w.Visit(nil).
//
// (see also: ast.Visitor)
type Visitor interface {
	Visit(Node) Visitor
}

// Walk traverses an expression in depth-first order: It starts by
// calling v.Visit(n); n must not be nil. If the visitor w returned
// by v.Visit(n) is not nil, Walk is invoked recursively with visitor
// w for each of the non-nil children of n, followed by a call of
// w.Visit(nil).
//
// (see also: ast.Walk)
func Walk(v Visitor, n Node) {
	w := v.Visit(n)
	if w != nil {
		n.walk(w)
		w.Visit(nil)
	}
}

// Node is an expression tree node.
//
// The implementations form a closed set: *Input, *Constant,
// *Variable, *Call, *Lambda, and *Form. Nodes are treated as
// immutable by the evaluator; rewrites always build new nodes.
type Node interface {
	Printable
	// Type returns the declared static type of the node.
	Type() Type
	// Equals reports whether this node is structurally
	// equivalent to another node.
	Equals(Node) bool

	walk(Visitor)
}

// Equal returns whether a and b are equivalent.
// a or b may be nil.
func Equal(a, b Node) bool {
	if a == nil {
		return b == nil
	}
	return b != nil && a.Equals(b)
}

// FuncRef identifies a resolved function implementation: the
// canonical function name plus the signature the call was
// resolved against. Casts carry the target type in Ret.
type FuncRef struct {
	Name string
	Args []Type
	Ret  Type
}

func (f FuncRef) Equals(g FuncRef) bool {
	if f.Name != g.Name || !TypesEqual(f.Args, g.Args) {
		return false
	}
	if f.Ret == nil {
		return g.Ret == nil
	}
	return g.Ret != nil && f.Ret.Equals(g.Ret)
}

// FormOp enumerates the special forms. Special forms differ from
// calls in that their evaluation order is form-specific: they may
// skip, reorder, or short-circuit the evaluation of their arguments.
type FormOp int

const (
	// OpIf is IF(condition, then, else).
	OpIf FormOp = iota
	// OpNullIf is NULLIF(a, b): NULL when a = b, else a.
	OpNullIf
	// OpIsNull is (x IS NULL).
	OpIsNull
	// OpAnd is three-valued logical AND.
	OpAnd
	// OpOr is three-valued logical OR.
	OpOr
	// OpRow constructs a row from its arguments.
	OpRow
	// OpCoalesce returns the first non-NULL argument.
	OpCoalesce
	// OpIn is (target IN (candidates...)).
	OpIn
	// OpDeref extracts a row field by ordinal.
	OpDeref
	// OpBind partially applies a lambda to a prefix
	// of its arguments.
	OpBind
	// OpSwitch is the simple CASE: the first argument is the
	// subject, followed by OpWhen clauses and an optional
	// trailing else expression.
	OpSwitch
	// OpWhen is a single WHEN operand THEN result clause.
	// It appears only inside OpSwitch.
	OpWhen
	// OpBetween is (x BETWEEN lo AND hi).
	OpBetween

	maxFormOp
)

func (op FormOp) String() string {
	switch op {
	case OpIf:
		return "IF"
	case OpNullIf:
		return "NULL_IF"
	case OpIsNull:
		return "IS_NULL"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpRow:
		return "ROW_CONSTRUCTOR"
	case OpCoalesce:
		return "COALESCE"
	case OpIn:
		return "IN"
	case OpDeref:
		return "DEREFERENCE"
	case OpBind:
		return "BIND"
	case OpSwitch:
		return "SWITCH"
	case OpWhen:
		return "WHEN"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// arity returns the (min, max) argument counts for the form;
// max < 0 means unbounded.
func (op FormOp) arity() (int, int) {
	switch op {
	case OpIsNull:
		return 1, 1
	case OpNullIf, OpAnd, OpOr, OpDeref, OpWhen:
		return 2, 2
	case OpIf, OpBetween:
		return 3, 3
	case OpRow, OpCoalesce:
		return 1, -1
	case OpIn, OpBind, OpSwitch:
		return 2, -1
	default:
		return 0, -1
	}
}

// Input refers to a field of the input row by position.
// Inputs are never resolved by the evaluator; they survive
// into the residual expression untouched.
type Input struct {
	FieldIndex int
	T          Type
}

// Field constructs an input reference.
func Field(index int, t Type) *Input {
	return &Input{FieldIndex: index, T: t}
}

func (i *Input) Type() Type { return i.T }

func (i *Input) text(dst *strings.Builder, redact bool) {
	dst.WriteByte('$')
	dst.WriteString(strconv.Itoa(i.FieldIndex))
}

func (i *Input) Equals(n Node) bool {
	i2, ok := n.(*Input)
	return ok && i.FieldIndex == i2.FieldIndex && i.T.Equals(i2.T)
}

func (i *Input) walk(v Visitor) {}

// Constant is a value embedded directly in the tree.
// A nil Value is SQL NULL.
type Constant struct {
	Value Datum
	T     Type
}

// Const constructs a constant of an explicit type.
func Const(v Datum, t Type) *Constant {
	return &Constant{Value: v, T: t}
}

// NullOf constructs a NULL constant of type t.
func NullOf(t Type) *Constant { return &Constant{T: t} }

// Bool constructs a boolean constant.
func Bool(b bool) *Constant { return &Constant{Value: b, T: Boolean} }

// Int constructs an integer constant.
func Int(i int64) *Constant { return &Constant{Value: i, T: Integer} }

// Float constructs a double constant.
func Float(f float64) *Constant { return &Constant{Value: f, T: Double} }

// Str constructs an unbounded varchar constant.
func Str(s string) *Constant { return &Constant{Value: s, T: VarcharAny} }

func (c *Constant) Type() Type { return c.T }

// IsNullConst reports whether n is a constant NULL.
func IsNullConst(n Node) bool {
	c, ok := n.(*Constant)
	return ok && c.Value == nil
}

func (c *Constant) text(dst *strings.Builder, redact bool) {
	if redact {
		dst.WriteByte('?')
		return
	}
	writeDatum(dst, c.Value)
}

func (c *Constant) Equals(n Node) bool {
	c2, ok := n.(*Constant)
	return ok && c.T.Equals(c2.T) && DatumEquals(c.Value, c2.Value)
}

func (c *Constant) walk(v Visitor) {}

// Variable is a named free variable. Variables are resolved
// against a VariableResolver during optimization; unresolved
// variables survive into the residual expression.
type Variable struct {
	Name string
	T    Type
}

// Var constructs a variable reference.
func Var(name string, t Type) *Variable {
	return &Variable{Name: name, T: t}
}

func (va *Variable) Type() Type { return va.T }

func (va *Variable) text(dst *strings.Builder, redact bool) {
	dst.WriteString(va.Name)
}

func (va *Variable) Equals(n Node) bool {
	v2, ok := n.(*Variable)
	return ok && va.Name == v2.Name && va.T.Equals(v2.T)
}

func (va *Variable) walk(v Visitor) {}

// Call invokes a resolved function. Name is the display name
// the planner used for the call; Func identifies the resolved
// implementation. Filter, when non-nil, is the FILTER (WHERE ...)
// expression attached to an aggregate call.
type Call struct {
	Name   string
	Func   FuncRef
	T      Type
	Args   []Node
	Filter Node
}

// NewCall constructs a call to a resolved function.
func NewCall(fn FuncRef, ret Type, args ...Node) *Call {
	return &Call{Name: fn.Name, Func: fn, T: ret, Args: args}
}

func (c *Call) Type() Type { return c.T }

func (c *Call) text(dst *strings.Builder, redact bool) {
	dst.WriteString(c.Name)
	dst.WriteByte('(')
	for i := range c.Args {
		if i > 0 {
			dst.WriteString(", ")
		}
		c.Args[i].text(dst, redact)
	}
	dst.WriteByte(')')
	if c.Filter != nil {
		dst.WriteString(" FILTER (WHERE ")
		c.Filter.text(dst, redact)
		dst.WriteByte(')')
	}
}

// Equals compares the resolved function, type, arguments, and
// filter; the display name is cosmetic and is ignored.
func (c *Call) Equals(n Node) bool {
	c2, ok := n.(*Call)
	if !ok || !c.Func.Equals(c2.Func) || !c.T.Equals(c2.T) {
		return false
	}
	if len(c.Args) != len(c2.Args) {
		return false
	}
	for i := range c.Args {
		if !c.Args[i].Equals(c2.Args[i]) {
			return false
		}
	}
	return Equal(c.Filter, c2.Filter)
}

func (c *Call) walk(v Visitor) {
	for i := range c.Args {
		Walk(v, c.Args[i])
	}
	if c.Filter != nil {
		Walk(v, c.Filter)
	}
}

// Lambda is an anonymous function literal. The body may refer
// only to the lambda's own parameters; lambdas do not capture
// the enclosing scope.
type Lambda struct {
	Params []string
	Sig    Func
	Body   Node
}

// NewLambda constructs a lambda; the signature's return type
// is taken from the body.
func NewLambda(params []string, argTypes []Type, body Node) *Lambda {
	return &Lambda{
		Params: params,
		Sig:    Func{Args: argTypes, Ret: body.Type()},
		Body:   body,
	}
}

func (l *Lambda) Type() Type { return l.Sig }

func (l *Lambda) text(dst *strings.Builder, redact bool) {
	dst.WriteByte('(')
	for i := range l.Params {
		if i > 0 {
			dst.WriteString(", ")
		}
		dst.WriteString(l.Params[i])
	}
	dst.WriteString(") -> ")
	l.Body.text(dst, redact)
}

func (l *Lambda) Equals(n Node) bool {
	l2, ok := n.(*Lambda)
	if !ok || len(l.Params) != len(l2.Params) {
		return false
	}
	for i := range l.Params {
		if l.Params[i] != l2.Params[i] {
			return false
		}
	}
	return l.Sig.Equals(l2.Sig) && l.Body.Equals(l2.Body)
}

func (l *Lambda) walk(v Visitor) {
	Walk(v, l.Body)
}

// Form is a special form application. Argument layout is
// form-specific; see the FormOp constants.
type Form struct {
	Op   FormOp
	T    Type
	Args []Node
}

// If constructs IF(cond, then, else); the type is taken from
// the then-branch, or the else-branch when then is untyped NULL.
func If(cond, then, els Node) *Form {
	t := then.Type()
	if t.Equals(Unknown) {
		t = els.Type()
	}
	return &Form{Op: OpIf, T: t, Args: []Node{cond, then, els}}
}

// NullIf constructs NULLIF(a, b); the type is taken from a.
func NullIf(a, b Node) *Form {
	return &Form{Op: OpNullIf, T: a.Type(), Args: []Node{a, b}}
}

// IsNull constructs (x IS NULL).
func IsNull(x Node) *Form {
	return &Form{Op: OpIsNull, T: Boolean, Args: []Node{x}}
}

// And constructs three-valued (a AND b).
func And(a, b Node) *Form {
	return &Form{Op: OpAnd, T: Boolean, Args: []Node{a, b}}
}

// Or constructs three-valued (a OR b).
func Or(a, b Node) *Form {
	return &Form{Op: OpOr, T: Boolean, Args: []Node{a, b}}
}

// RowOf constructs a row value of an explicit row type.
func RowOf(t Row, fields ...Node) *Form {
	return &Form{Op: OpRow, T: t, Args: fields}
}

// Coalesce constructs COALESCE(args...); the type is taken
// from the first argument that is not untyped NULL.
func Coalesce(args ...Node) *Form {
	t := args[0].Type()
	for _, a := range args {
		if !a.Type().Equals(Unknown) {
			t = a.Type()
			break
		}
	}
	return &Form{Op: OpCoalesce, T: t, Args: args}
}

// In constructs (target IN (candidates...)).
func In(target Node, candidates ...Node) *Form {
	return &Form{Op: OpIn, T: Boolean, Args: append([]Node{target}, candidates...)}
}

// Deref constructs row-field access by ordinal.
func Deref(base Node, field int) *Form {
	t := Type(Unknown)
	if rt, ok := base.Type().(Row); ok && field >= 0 && field < len(rt.Fields) {
		t = rt.Fields[field]
	}
	return &Form{Op: OpDeref, T: t, Args: []Node{base, Int(int64(field))}}
}

// Bind constructs a partial application of fn to a prefix of
// its arguments; the result type is the remaining function type.
func Bind(bound []Node, fn Node) *Form {
	t := fn.Type()
	if ft, ok := t.(Func); ok && len(bound) <= len(ft.Args) {
		t = Func{Args: ft.Args[len(bound):], Ret: ft.Ret}
	}
	return &Form{Op: OpBind, T: t, Args: append(append([]Node{}, bound...), fn)}
}

// Switch constructs a simple CASE expression of type t. The
// clauses are OpWhen forms, optionally followed by a final
// else expression; without one the CASE falls through to NULL.
func Switch(t Type, subject Node, clauses ...Node) *Form {
	return &Form{Op: OpSwitch, T: t, Args: append([]Node{subject}, clauses...)}
}

// When constructs a single WHEN operand THEN result clause.
func When(operand, result Node) *Form {
	return &Form{Op: OpWhen, T: result.Type(), Args: []Node{operand, result}}
}

// Between constructs (x BETWEEN lo AND hi).
func Between(x, lo, hi Node) *Form {
	return &Form{Op: OpBetween, T: Boolean, Args: []Node{x, lo, hi}}
}

func (f *Form) Type() Type { return f.T }

func (f *Form) text(dst *strings.Builder, redact bool) {
	switch f.Op {
	case OpAnd, OpOr:
		dst.WriteByte('(')
		f.Args[0].text(dst, redact)
		if f.Op == OpAnd {
			dst.WriteString(" AND ")
		} else {
			dst.WriteString(" OR ")
		}
		f.Args[1].text(dst, redact)
		dst.WriteByte(')')
	case OpIsNull:
		dst.WriteByte('(')
		f.Args[0].text(dst, redact)
		dst.WriteString(" IS NULL)")
	case OpIn:
		dst.WriteByte('(')
		f.Args[0].text(dst, redact)
		dst.WriteString(" IN (")
		for i, arg := range f.Args[1:] {
			if i > 0 {
				dst.WriteString(", ")
			}
			arg.text(dst, redact)
		}
		dst.WriteString("))")
	case OpBetween:
		dst.WriteByte('(')
		f.Args[0].text(dst, redact)
		dst.WriteString(" BETWEEN ")
		f.Args[1].text(dst, redact)
		dst.WriteString(" AND ")
		f.Args[2].text(dst, redact)
		dst.WriteByte(')')
	case OpDeref:
		f.Args[0].text(dst, redact)
		dst.WriteString(".$")
		f.Args[1].text(dst, redact)
	case OpSwitch:
		dst.WriteString("CASE ")
		f.Args[0].text(dst, redact)
		rest := f.Args[1:]
		for _, arg := range rest {
			if w, ok := arg.(*Form); ok && w.Op == OpWhen {
				dst.WriteByte(' ')
				w.text(dst, redact)
			} else {
				dst.WriteString(" ELSE ")
				arg.text(dst, redact)
			}
		}
		dst.WriteString(" END")
	case OpWhen:
		dst.WriteString("WHEN ")
		f.Args[0].text(dst, redact)
		dst.WriteString(" THEN ")
		f.Args[1].text(dst, redact)
	case OpNullIf:
		dst.WriteString("NULLIF(")
		f.Args[0].text(dst, redact)
		dst.WriteString(", ")
		f.Args[1].text(dst, redact)
		dst.WriteByte(')')
	case OpRow:
		dst.WriteString("ROW(")
		writeArgs(dst, f.Args, redact)
		dst.WriteByte(')')
	default:
		dst.WriteString(f.Op.String())
		dst.WriteByte('(')
		writeArgs(dst, f.Args, redact)
		dst.WriteByte(')')
	}
}

func writeArgs(dst *strings.Builder, args []Node, redact bool) {
	for i := range args {
		if i > 0 {
			dst.WriteString(", ")
		}
		args[i].text(dst, redact)
	}
}

func (f *Form) Equals(n Node) bool {
	f2, ok := n.(*Form)
	if !ok || f.Op != f2.Op || !f.T.Equals(f2.T) {
		return false
	}
	if len(f.Args) != len(f2.Args) {
		return false
	}
	for i := range f.Args {
		if !f.Args[i].Equals(f2.Args[i]) {
			return false
		}
	}
	return true
}

func (f *Form) walk(v Visitor) {
	for i := range f.Args {
		Walk(v, f.Args[i])
	}
}

// Copy returns a deep copy of n. Embedded container datums are
// copied structurally; opaque runtime objects are shared.
func Copy(n Node) Node {
	switch n := n.(type) {
	case *Input:
		cp := *n
		return &cp
	case *Constant:
		return &Constant{Value: copyDatum(n.Value), T: n.T}
	case *Variable:
		cp := *n
		return &cp
	case *Call:
		cp := &Call{Name: n.Name, Func: n.Func, T: n.T}
		cp.Args = copyNodes(n.Args)
		if n.Filter != nil {
			cp.Filter = Copy(n.Filter)
		}
		return cp
	case *Lambda:
		return &Lambda{
			Params: append([]string{}, n.Params...),
			Sig:    n.Sig,
			Body:   Copy(n.Body),
		}
	case *Form:
		return &Form{Op: n.Op, T: n.T, Args: copyNodes(n.Args)}
	}
	panic("???")
}

func copyNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i := range nodes {
		out[i] = Copy(nodes[i])
	}
	return out
}
