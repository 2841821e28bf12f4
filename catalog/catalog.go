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

// Package catalog implements the function registry consumed by
// the expression interpreter. It resolves function names against
// a table of builtin signatures, dispatches invocations, and
// answers the type questions (common supertypes, cast legality)
// that expression rewrites depend on.
//
// Equality, casts, and the json-to-structured conversions are not
// table entries; they are resolved dynamically from the operand
// types, since every comparable or castable type pair yields a
// distinct signature.
package catalog

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/quernlabs/quern/rowexpr"
)

// Builtin describes one resolvable function signature.
//
// Args lists the parameter types; a nil entry matches any
// argument type. When Variadic is set, the final entry may be
// repeated zero or more times. Ret is the declared return type;
// RetOf, when non-nil, computes the return type from the actual
// argument types instead (for signatures like element_at, whose
// result type depends on the element type of its input).
type Builtin struct {
	Name     string
	Args     []rowexpr.Type
	Ret      rowexpr.Type
	RetOf    func(args []rowexpr.Type) rowexpr.Type
	Variadic bool

	Kind              rowexpr.FunctionKind
	Deterministic     bool
	CalledOnNullInput bool
	Locality          rowexpr.Locality

	// Call evaluates the function. It is nil for signatures
	// that cannot run in-process (aggregates, window functions,
	// remote functions); the interpreter leaves those calls in
	// the expression tree rather than invoking them.
	Call func(s *rowexpr.Session, args []rowexpr.Datum) (rowexpr.Datum, error)
}

func (b *Builtin) ret(args []rowexpr.Type) rowexpr.Type {
	if b.RetOf != nil {
		if t := b.RetOf(args); t != nil {
			return t
		}
	}
	return b.Ret
}

// Catalog is a set of builtin signatures keyed by function name.
// The zero value is not usable; construct one with New or Default.
//
// A Catalog is safe for concurrent use once populated; Register
// must not race with lookups.
type Catalog struct {
	fns map[string][]*Builtin
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{fns: make(map[string][]*Builtin)}
}

// Default returns a catalog populated with the standard builtins.
func Default() *Catalog {
	c := New()
	for i := range stdlib {
		if err := c.Register(&stdlib[i]); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds one signature to the catalog. Registering a
// signature that collides with an existing one (same name, same
// parameter types) is an error.
func (c *Catalog) Register(b *Builtin) error {
	if b.Name == "" {
		return fmt.Errorf("catalog: builtin with empty name")
	}
	if b.Ret == nil && b.RetOf == nil {
		return fmt.Errorf("catalog: %s has no return type", b.Name)
	}
	for _, prev := range c.fns[b.Name] {
		// DeepEqual rather than Type.Equals: wildcard (nil)
		// parameter types are legal in signatures
		if prev.Variadic == b.Variadic && reflect.DeepEqual(prev.Args, b.Args) {
			return fmt.Errorf("catalog: duplicate signature for %s", b.Name)
		}
	}
	c.fns[b.Name] = append(c.fns[b.Name], b)
	return nil
}

// Names returns the registered function names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.fns))
	for name := range c.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type matchKind int

const (
	matchNo matchKind = iota
	matchCoerce
	matchExact
)

// paramAccepts reports how well an argument type fits a declared
// parameter type. A nil parameter is a wildcard. An Unknown
// argument (the type of NULL) fits anywhere. Integer arguments
// fit Double parameters via coercion, which ranks below an exact
// overload during resolution.
func paramAccepts(param, arg rowexpr.Type) matchKind {
	if param == nil {
		return matchExact
	}
	if param.Equals(arg) {
		return matchExact
	}
	if arg.Equals(rowexpr.Unknown) {
		return matchExact
	}
	switch p := param.(type) {
	case rowexpr.Varchar:
		if a, ok := arg.(rowexpr.Varchar); ok {
			if p.N < 0 || (a.N >= 0 && a.N <= p.N) {
				return matchExact
			}
		}
	case rowexpr.Scalar:
		if p == rowexpr.Double && arg.Equals(rowexpr.Integer) {
			return matchCoerce
		}
	case rowexpr.Array:
		if a, ok := arg.(rowexpr.Array); ok {
			return paramAccepts(p.Elem, a.Elem)
		}
	case rowexpr.Map:
		if a, ok := arg.(rowexpr.Map); ok {
			k := paramAccepts(p.Key, a.Key)
			if k == matchNo {
				return matchNo
			}
			if v := paramAccepts(p.Elem, a.Elem); v < k {
				k = v
			}
			return k
		}
	case rowexpr.Row:
		if a, ok := arg.(rowexpr.Row); ok && len(p.Fields) == len(a.Fields) {
			k := matchExact
			for i := range p.Fields {
				f := paramAccepts(p.Fields[i], a.Fields[i])
				if f == matchNo {
					return matchNo
				}
				if f < k {
					k = f
				}
			}
			return k
		}
	case rowexpr.Func:
		// function parameters match on arity only;
		// the applied value carries its own signature
		if a, ok := arg.(rowexpr.Func); ok && len(p.Args) == len(a.Args) {
			return matchExact
		}
	}
	return matchNo
}

func (b *Builtin) accepts(args []rowexpr.Type) matchKind {
	np := len(b.Args)
	if b.Variadic {
		if len(args) < np-1 {
			return matchNo
		}
	} else if len(args) != np {
		return matchNo
	}
	kind := matchExact
	for i := range args {
		pi := i
		if pi >= np {
			pi = np - 1
		}
		switch paramAccepts(b.Args[pi], args[i]) {
		case matchNo:
			return matchNo
		case matchCoerce:
			kind = matchCoerce
		}
	}
	return kind
}

// resolve picks the best signature for a call site: an exact
// match wins; otherwise the first signature reachable through
// numeric coercion.
func (c *Catalog) resolve(name string, args []rowexpr.Type) *Builtin {
	var loose *Builtin
	for _, b := range c.fns[name] {
		switch b.accepts(args) {
		case matchExact:
			return b
		case matchCoerce:
			if loose == nil {
				loose = b
			}
		}
	}
	return loose
}

func typeList(args []rowexpr.Type) string {
	var sb strings.Builder
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a == nil {
			sb.WriteString("?")
			continue
		}
		sb.WriteString(a.String())
	}
	return sb.String()
}

// Lookup resolves a function name against the argument types at
// a call site and returns the reference the planner should embed
// in the expression tree.
func (c *Catalog) Lookup(name string, args []rowexpr.Type) (rowexpr.FuncRef, error) {
	if name == rowexpr.FnEqual && len(args) == 2 {
		return c.Equality(args[0], args[1])
	}
	b := c.resolve(name, args)
	if b == nil {
		return rowexpr.FuncRef{}, fmt.Errorf("catalog: no function %s(%s)", name, typeList(args))
	}
	return rowexpr.FuncRef{Name: name, Args: args, Ret: b.ret(args)}, nil
}

// Equality returns the equality operator over the common
// supertype of the two operand types. Types with no common
// supertype, and types without an equality (functions, compiled
// patterns), yield an error.
func (c *Catalog) Equality(left, right rowexpr.Type) (rowexpr.FuncRef, error) {
	common, ok := c.CommonSuperType(left, right)
	if !ok {
		return rowexpr.FuncRef{}, fmt.Errorf("catalog: no common type for %s and %s", left, right)
	}
	if !hasEquality(common) {
		return rowexpr.FuncRef{}, fmt.Errorf("catalog: type %s has no equality", common)
	}
	return rowexpr.FuncRef{
		Name: rowexpr.FnEqual,
		Args: []rowexpr.Type{common, common},
		Ret:  rowexpr.Boolean,
	}, nil
}

// Cast returns the cast operator from one type to another, or an
// error if no such conversion exists.
func (c *Catalog) Cast(from, to rowexpr.Type) (rowexpr.FuncRef, error) {
	if !castable(from, to) {
		return rowexpr.FuncRef{}, fmt.Errorf("catalog: cannot cast %s to %s", from, to)
	}
	return rowexpr.FuncRef{
		Name: rowexpr.FnCast,
		Args: []rowexpr.Type{from},
		Ret:  to,
	}, nil
}

// StructuredCast returns the direct json-text-to-structured
// conversion for an array, map, or row target. The interpreter
// uses it to collapse cast(json_parse(text) as T) into a single
// call that skips the intermediate json value.
func (c *Catalog) StructuredCast(to rowexpr.Type) (rowexpr.FuncRef, error) {
	var name string
	switch to.(type) {
	case rowexpr.Array:
		name = rowexpr.FnJSONToArray
	case rowexpr.Map:
		name = rowexpr.FnJSONToMap
	case rowexpr.Row:
		name = rowexpr.FnJSONToRow
	default:
		return rowexpr.FuncRef{}, fmt.Errorf("catalog: no structured cast to %s", to)
	}
	return rowexpr.FuncRef{
		Name: name,
		Args: []rowexpr.Type{rowexpr.VarcharAny},
		Ret:  to,
	}, nil
}

// Metadata returns the planner-visible properties of a resolved
// function reference.
func (c *Catalog) Metadata(fn rowexpr.FuncRef) (rowexpr.FunctionMetadata, error) {
	switch fn.Name {
	case rowexpr.FnEqual, rowexpr.FnCast,
		rowexpr.FnJSONToArray, rowexpr.FnJSONToMap, rowexpr.FnJSONToRow:
		return rowexpr.FunctionMetadata{
			Name:          fn.Name,
			Kind:          rowexpr.KindScalar,
			Deterministic: true,
			Locality:      rowexpr.LocalityBuiltin,
		}, nil
	}
	b := c.resolve(fn.Name, fn.Args)
	if b == nil {
		return rowexpr.FunctionMetadata{}, fmt.Errorf("catalog: no function %s(%s)", fn.Name, typeList(fn.Args))
	}
	return rowexpr.FunctionMetadata{
		Name:              b.Name,
		Kind:              b.Kind,
		Deterministic:     b.Deterministic,
		CalledOnNullInput: b.CalledOnNullInput,
		Locality:          b.Locality,
	}, nil
}

// Invoke runs a resolved function against constant arguments.
func (c *Catalog) Invoke(fn rowexpr.FuncRef, s *rowexpr.Session, args []rowexpr.Datum) (rowexpr.Datum, error) {
	switch fn.Name {
	case rowexpr.FnEqual:
		if len(fn.Args) != 2 || len(args) != 2 {
			return nil, fmt.Errorf("catalog: equality takes 2 arguments, got %d", len(args))
		}
		return equalAt(fn.Args[0], args[0], args[1])
	case rowexpr.FnCast:
		if len(fn.Args) != 1 || len(args) != 1 || fn.Ret == nil {
			return nil, fmt.Errorf("catalog: malformed cast reference %s", fn.Name)
		}
		return c.castValue(args[0], fn.Args[0], fn.Ret)
	case rowexpr.FnJSONToArray, rowexpr.FnJSONToMap, rowexpr.FnJSONToRow:
		if len(args) != 1 || fn.Ret == nil {
			return nil, fmt.Errorf("catalog: malformed structured cast %s", fn.Name)
		}
		if args[0] == nil {
			return nil, nil
		}
		text, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("catalog: %s applied to %T", fn.Name, args[0])
		}
		return jsonToStructured(text, fn.Ret)
	}
	b := c.resolve(fn.Name, fn.Args)
	if b == nil {
		return nil, fmt.Errorf("catalog: no function %s(%s)", fn.Name, typeList(fn.Args))
	}
	if b.Call == nil {
		return nil, fmt.Errorf("catalog: %s cannot be evaluated in-process", fn.Name)
	}
	return b.Call(s, args)
}
