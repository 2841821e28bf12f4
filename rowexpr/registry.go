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

// Canonical names of functions the evaluator itself knows about.
// A Registry that supports the corresponding feature must expose
// the function under this name.
const (
	// FnLike is like(value, pattern): pattern matching against
	// a compiled like_pattern value.
	FnLike = "like"
	// FnLikePattern is like_pattern(pattern[, escape]): compiles
	// a LIKE pattern into a runtime matcher.
	FnLikePattern = "like_pattern"
	// FnFail is fail(code, json): raises an error carrying the
	// decoded failure payload.
	FnFail = "fail"
	// FnJSONParse is json_parse(varchar): parses text into a
	// json value.
	FnJSONParse = "json_parse"
	// FnArrayConstructor builds an array from its arguments.
	FnArrayConstructor = "array_constructor"
	// FnDynamicFilter marks a placeholder predicate that the
	// scheduler resolves at run time; it is never folded.
	FnDynamicFilter = "$internal$dynamic_filter_function"
	// FnCast is the canonical name of the cast operator.
	FnCast = "$operator$cast"
	// FnEqual is the canonical name of the equality operator.
	FnEqual = "$operator$equal"
	// FnJSONToArray, FnJSONToMap, and FnJSONToRow parse json text
	// and convert it to a structured value in one step; they are
	// the targets of the CAST(json_parse(x) AS ...) rewrite.
	FnJSONToArray = "$internal$json_to_array_cast"
	FnJSONToMap   = "$internal$json_to_map_cast"
	FnJSONToRow   = "$internal$json_to_row_cast"
)

// FunctionKind describes the implementation class of a function.
type FunctionKind int

const (
	KindScalar FunctionKind = iota
	KindAggregate
	KindWindow
)

func (k FunctionKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindAggregate:
		return "aggregate"
	case KindWindow:
		return "window"
	default:
		return "unknown"
	}
}

// Locality describes where a function implementation runs.
type Locality int

const (
	// LocalityBuiltin runs in-process.
	LocalityBuiltin Locality = iota
	// LocalityRemote runs in an external system; the evaluator
	// never invokes remote functions and always leaves their
	// calls in the residual expression.
	LocalityRemote
)

// FunctionMetadata describes a resolved function.
type FunctionMetadata struct {
	Name string
	Kind FunctionKind
	// Deterministic is false for functions like random() whose
	// result varies between invocations; the evaluator will not
	// fold non-deterministic calls below the Evaluated level.
	Deterministic bool
	// CalledOnNullInput is true when the implementation wants to
	// see NULL arguments; when false a NULL argument short-circuits
	// the call to NULL without invoking it.
	CalledOnNullInput bool
	Locality          Locality
}

// Registry resolves and invokes functions on behalf of the
// evaluator. Implementations must be safe for concurrent use.
type Registry interface {
	// Lookup resolves a function by canonical name and exact
	// argument types.
	Lookup(name string, args []Type) (FuncRef, error)

	// Equality returns the equality operator over operands of the
	// given types, coercing both sides to their common supertype
	// as needed. The operator returns boolean or NULL.
	Equality(left, right Type) (FuncRef, error)

	// Cast returns the cast operator from one type to another.
	Cast(from, to Type) (FuncRef, error)

	// StructuredCast returns the direct json-to-structured cast
	// whose target is to, which must be an array, map, or row
	// type. It parses json text and converts in one step.
	StructuredCast(to Type) (FuncRef, error)

	// Metadata describes a previously resolved function.
	Metadata(fn FuncRef) (FunctionMetadata, error)

	// Invoke runs a resolved builtin. Arguments arrive in the
	// canonical Datum forms; a nil result is SQL NULL.
	Invoke(fn FuncRef, s *Session, args []Datum) (Datum, error)

	// CommonSuperType returns the least common supertype of a
	// and b, if one exists.
	CommonSuperType(a, b Type) (Type, bool)

	// TypeOnlyCast reports whether casting from -> to changes
	// only the declared type and never the runtime value.
	TypeOnlyCast(from, to Type) bool
}

// VariableResolver supplies values for free variables during
// optimization. The second result reports whether the variable
// is bound at all; a bound nil datum is a real SQL NULL.
type VariableResolver interface {
	Value(name string) (Datum, bool)
}

// ResolverFunc adapts a function to the VariableResolver interface.
type ResolverFunc func(string) (Datum, bool)

func (f ResolverFunc) Value(name string) (Datum, bool) { return f(name) }

// Bindings is a map-backed VariableResolver.
type Bindings map[string]Datum

func (b Bindings) Value(name string) (Datum, bool) {
	v, ok := b[name]
	return v, ok
}
