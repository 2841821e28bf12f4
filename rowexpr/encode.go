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
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/amazon-ion/ion-go/ion"
	"golang.org/x/exp/slices"
)

// Expression trees and constant values encode to binary Ion.
// Nodes become structs with an "op" discriminator; constant
// values are nested as standalone Ion documents so that their
// encoded size can be measured (and capped) independently of
// the surrounding tree.

const (
	opInput  = "INPUT"
	opConst  = "CONST"
	opVar    = "VAR"
	opCall   = "CALL"
	opLambda = "LAMBDA"
)

type encNode struct {
	Op     string    `ion:"op"`
	Field  *int64    `ion:"field,omitempty"`
	Name   string    `ion:"name,omitempty"`
	T      *encType  `ion:"type,omitempty"`
	Value  []byte    `ion:"value,omitempty"`
	Fn     *encFunc  `ion:"fn,omitempty"`
	Args   []encNode `ion:"args,omitempty"`
	Filter *encNode  `ion:"filter,omitempty"`
	Params []string  `ion:"params,omitempty"`
}

type encFunc struct {
	Name string    `ion:"name"`
	Args []encType `ion:"args,omitempty"`
	Ret  *encType  `ion:"ret,omitempty"`
}

type encType struct {
	Kind   string    `ion:"kind"`
	Name   string    `ion:"name,omitempty"`
	N      *int64    `ion:"n,omitempty"`
	Key    *encType  `ion:"key,omitempty"`
	Elem   *encType  `ion:"elem,omitempty"`
	Fields []encType `ion:"fields,omitempty"`
	Names  []string  `ion:"names,omitempty"`
	Ret    *encType  `ion:"ret,omitempty"`
}

var scalarByName = func() map[string]Scalar {
	m := make(map[string]Scalar, int(maxScalar))
	for s := Unknown; s < maxScalar; s++ {
		m[s.String()] = s
	}
	return m
}()

var formOpByName = func() map[string]FormOp {
	m := make(map[string]FormOp, int(maxFormOp))
	for op := FormOp(0); op < maxFormOp; op++ {
		m[op.String()] = op
	}
	return m
}()

// EncodeNode encodes n as a binary Ion document. Trees holding
// runtime-only constants (compiled patterns, closures) cannot be
// encoded; callers that need a guarantee should gate on
// IsLiteralType first.
func EncodeNode(n Node) ([]byte, error) {
	en, err := encodeNode(n)
	if err != nil {
		return nil, err
	}
	return ion.MarshalBinary(en)
}

// DecodeNode decodes a tree previously encoded by EncodeNode.
func DecodeNode(data []byte) (Node, error) {
	var en encNode
	err := ion.Unmarshal(data, &en)
	if err != nil {
		return nil, fmt.Errorf("decoding expression: %w", err)
	}
	return decodeNode(&en)
}

func encodeNode(n Node) (*encNode, error) {
	switch n := n.(type) {
	case *Input:
		t, err := encodeType(n.T)
		if err != nil {
			return nil, err
		}
		field := int64(n.FieldIndex)
		return &encNode{Op: opInput, Field: &field, T: t}, nil
	case *Constant:
		t, err := encodeType(n.T)
		if err != nil {
			return nil, err
		}
		val, err := EncodeDatum(n.Value, n.T)
		if err != nil {
			return nil, err
		}
		return &encNode{Op: opConst, T: t, Value: val}, nil
	case *Variable:
		t, err := encodeType(n.T)
		if err != nil {
			return nil, err
		}
		return &encNode{Op: opVar, Name: n.Name, T: t}, nil
	case *Call:
		t, err := encodeType(n.T)
		if err != nil {
			return nil, err
		}
		fn := &encFunc{Name: n.Func.Name}
		for i := range n.Func.Args {
			at, err := encodeType(n.Func.Args[i])
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, *at)
		}
		if n.Func.Ret != nil {
			fn.Ret, err = encodeType(n.Func.Ret)
			if err != nil {
				return nil, err
			}
		}
		en := &encNode{Op: opCall, Name: n.Name, T: t, Fn: fn}
		en.Args, err = encodeNodes(n.Args)
		if err != nil {
			return nil, err
		}
		if n.Filter != nil {
			en.Filter, err = encodeNode(n.Filter)
			if err != nil {
				return nil, err
			}
		}
		return en, nil
	case *Lambda:
		t, err := encodeType(n.Sig)
		if err != nil {
			return nil, err
		}
		body, err := encodeNode(n.Body)
		if err != nil {
			return nil, err
		}
		return &encNode{
			Op:     opLambda,
			T:      t,
			Params: n.Params,
			Args:   []encNode{*body},
		}, nil
	case *Form:
		t, err := encodeType(n.T)
		if err != nil {
			return nil, err
		}
		en := &encNode{Op: n.Op.String(), T: t}
		en.Args, err = encodeNodes(n.Args)
		if err != nil {
			return nil, err
		}
		return en, nil
	}
	panic("???")
}

func encodeNodes(nodes []Node) ([]encNode, error) {
	out := make([]encNode, 0, len(nodes))
	for i := range nodes {
		en, err := encodeNode(nodes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *en)
	}
	return out, nil
}

func decodeNode(en *encNode) (Node, error) {
	t, err := decodeType(en.T)
	if err != nil {
		return nil, err
	}
	switch en.Op {
	case opInput:
		if en.Field == nil {
			return nil, fmt.Errorf("input node missing field ordinal")
		}
		return Field(int(*en.Field), t), nil
	case opConst:
		v, err := DecodeDatum(en.Value, t)
		if err != nil {
			return nil, err
		}
		return Const(v, t), nil
	case opVar:
		return Var(en.Name, t), nil
	case opCall:
		if en.Fn == nil {
			return nil, fmt.Errorf("call node missing function")
		}
		fn := FuncRef{Name: en.Fn.Name}
		for i := range en.Fn.Args {
			at, err := decodeType(&en.Fn.Args[i])
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, at)
		}
		if en.Fn.Ret != nil {
			fn.Ret, err = decodeType(en.Fn.Ret)
			if err != nil {
				return nil, err
			}
		}
		args, err := decodeNodes(en.Args)
		if err != nil {
			return nil, err
		}
		c := &Call{Name: en.Name, Func: fn, T: t, Args: args}
		if en.Filter != nil {
			c.Filter, err = decodeNode(en.Filter)
			if err != nil {
				return nil, err
			}
		}
		return c, nil
	case opLambda:
		ft, ok := t.(Func)
		if !ok {
			return nil, fmt.Errorf("lambda node with non-function type %s", t)
		}
		if len(en.Args) != 1 {
			return nil, fmt.Errorf("lambda node with %d bodies", len(en.Args))
		}
		body, err := decodeNode(&en.Args[0])
		if err != nil {
			return nil, err
		}
		return &Lambda{Params: en.Params, Sig: ft, Body: body}, nil
	}
	op, ok := formOpByName[en.Op]
	if !ok {
		return nil, fmt.Errorf("unknown node op %q", en.Op)
	}
	args, err := decodeNodes(en.Args)
	if err != nil {
		return nil, err
	}
	return &Form{Op: op, T: t, Args: args}, nil
}

func decodeNodes(ens []encNode) ([]Node, error) {
	if len(ens) == 0 {
		return nil, nil
	}
	out := make([]Node, 0, len(ens))
	for i := range ens {
		n, err := decodeNode(&ens[i])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func encodeType(t Type) (*encType, error) {
	switch t := t.(type) {
	case nil:
		return nil, fmt.Errorf("node has no type")
	case Scalar:
		return &encType{Kind: "scalar", Name: t.String()}, nil
	case Varchar:
		n := int64(t.N)
		return &encType{Kind: "varchar", N: &n}, nil
	case Array:
		elem, err := encodeType(t.Elem)
		if err != nil {
			return nil, err
		}
		return &encType{Kind: "array", Elem: elem}, nil
	case Map:
		key, err := encodeType(t.Key)
		if err != nil {
			return nil, err
		}
		elem, err := encodeType(t.Elem)
		if err != nil {
			return nil, err
		}
		return &encType{Kind: "map", Key: key, Elem: elem}, nil
	case Row:
		et := &encType{Kind: "row", Names: t.Names}
		for i := range t.Fields {
			f, err := encodeType(t.Fields[i])
			if err != nil {
				return nil, err
			}
			et.Fields = append(et.Fields, *f)
		}
		return et, nil
	case Func:
		ret, err := encodeType(t.Ret)
		if err != nil {
			return nil, err
		}
		et := &encType{Kind: "func", Ret: ret}
		for i := range t.Args {
			a, err := encodeType(t.Args[i])
			if err != nil {
				return nil, err
			}
			et.Fields = append(et.Fields, *a)
		}
		return et, nil
	}
	panic("???")
}

func decodeType(et *encType) (Type, error) {
	if et == nil {
		return nil, fmt.Errorf("node has no type")
	}
	switch et.Kind {
	case "scalar":
		s, ok := scalarByName[et.Name]
		if !ok {
			return nil, fmt.Errorf("unknown scalar type %q", et.Name)
		}
		return s, nil
	case "varchar":
		if et.N == nil {
			return VarcharAny, nil
		}
		return Varchar{N: int(*et.N)}, nil
	case "array":
		elem, err := decodeType(et.Elem)
		if err != nil {
			return nil, err
		}
		return Array{Elem: elem}, nil
	case "map":
		key, err := decodeType(et.Key)
		if err != nil {
			return nil, err
		}
		elem, err := decodeType(et.Elem)
		if err != nil {
			return nil, err
		}
		return Map{Key: key, Elem: elem}, nil
	case "row":
		rt := Row{Names: et.Names}
		for i := range et.Fields {
			f, err := decodeType(&et.Fields[i])
			if err != nil {
				return nil, err
			}
			rt.Fields = append(rt.Fields, f)
		}
		return rt, nil
	case "func":
		ret, err := decodeType(et.Ret)
		if err != nil {
			return nil, err
		}
		ft := Func{Ret: ret}
		for i := range et.Fields {
			a, err := decodeType(&et.Fields[i])
			if err != nil {
				return nil, err
			}
			ft.Args = append(ft.Args, a)
		}
		return ft, nil
	}
	return nil, fmt.Errorf("unknown type kind %q", et.Kind)
}

// EncodeDatum encodes a single value of type t as a standalone
// binary Ion document. NULL encodes to no bytes at all. The
// result length is the value's serialized size as far as plan
// size limits are concerned.
func EncodeDatum(v Datum, t Type) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	iv, err := ionValue(v, t)
	if err != nil {
		return nil, err
	}
	return ion.MarshalBinary(iv)
}

// DecodeDatum decodes a value of type t encoded by EncodeDatum.
func DecodeDatum(data []byte, t Type) (Datum, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw any
	err := ion.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s constant: %w", t, err)
	}
	return datumFromRaw(raw, t)
}

func ionValue(v Datum, t Type) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case int64:
		return v, nil
	case float64:
		return v, nil
	case string:
		return v, nil
	case time.Time:
		return ion.NewTimestampWithFractionalSeconds(
			v.UTC(), ion.TimestampPrecisionNanosecond, ion.TimezoneUTC, 9), nil
	case []Datum:
		at, ok := t.(Array)
		if !ok {
			return nil, fmt.Errorf("array value with type %s", t)
		}
		out := make([]any, 0, len(v))
		for i := range v {
			e, err := ionValue(v[i], at.Elem)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case Tuple:
		rt, ok := t.(Row)
		if !ok || len(rt.Fields) != len(v) {
			return nil, fmt.Errorf("%d-field tuple with type %s", len(v), t)
		}
		out := make([]any, 0, len(v))
		for i := range v {
			e, err := ionValue(v[i], rt.Fields[i])
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case map[Datum]Datum:
		mt, ok := t.(Map)
		if !ok {
			return nil, fmt.Errorf("map value with type %s", t)
		}
		// flatten to a [k, v, k, v, ...] list in a stable order
		keys := make([]Datum, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, func(a, b Datum) int {
			var sa, sb strings.Builder
			writeDatum(&sa, a)
			writeDatum(&sb, b)
			return strings.Compare(sa.String(), sb.String())
		})
		out := make([]any, 0, 2*len(v))
		for _, k := range keys {
			ek, err := ionValue(k, mt.Key)
			if err != nil {
				return nil, err
			}
			ev, err := ionValue(v[k], mt.Elem)
			if err != nil {
				return nil, err
			}
			out = append(out, ek, ev)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%T value of type %s is not serializable", v, t)
	}
}

func datumFromRaw(raw any, t Type) (Datum, error) {
	if raw == nil {
		return nil, nil
	}
	switch t := t.(type) {
	case Scalar:
		switch t {
		case Boolean:
			if b, ok := raw.(bool); ok {
				return b, nil
			}
		case Integer:
			if i, ok := rawInt(raw); ok {
				return i, nil
			}
		case Double:
			if f, ok := rawFloat(raw); ok {
				return f, nil
			}
		case Timestamp:
			if ts, ok := rawTime(raw); ok {
				return ts, nil
			}
		case JSON:
			if s, ok := raw.(string); ok {
				return s, nil
			}
		}
	case Varchar:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case Array:
		elems, ok := raw.([]any)
		if !ok {
			break
		}
		out := make([]Datum, 0, len(elems))
		for i := range elems {
			e, err := datumFromRaw(elems[i], t.Elem)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case Row:
		elems, ok := raw.([]any)
		if !ok || len(elems) != len(t.Fields) {
			break
		}
		out := make(Tuple, 0, len(elems))
		for i := range elems {
			e, err := datumFromRaw(elems[i], t.Fields[i])
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case Map:
		elems, ok := raw.([]any)
		if !ok || len(elems)%2 != 0 {
			break
		}
		out := make(map[Datum]Datum, len(elems)/2)
		for i := 0; i < len(elems); i += 2 {
			k, err := datumFromRaw(elems[i], t.Key)
			if err != nil {
				return nil, err
			}
			v, err := datumFromRaw(elems[i+1], t.Elem)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot decode %T as %s", raw, t)
}

func rawInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case *big.Int:
		if v.IsInt64() {
			return v.Int64(), true
		}
	}
	return 0, false
}

func rawFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func rawTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case *ion.Timestamp:
		return v.GetDateTime(), true
	case ion.Timestamp:
		return v.GetDateTime(), true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}
