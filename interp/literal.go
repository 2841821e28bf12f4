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

// MaxConstantBytes caps the encoded size of any constant the
// Serializable level may introduce into a rewritten expression.
// Folded values that encode larger than this keep their original
// subexpression instead.
const MaxConstantBytes = 1000

// toNode converts an evaluation result back into an expression
// standing in for original. Residual results already are
// expressions; values become constants, except that at the
// Serializable level a value that cannot be re-encoded within
// MaxConstantBytes falls back to the original expression, and
// below the Evaluated level closures do the same.
func (i *Interpreter) toNode(r result, original rowexpr.Node) rowexpr.Node {
	if r.node != nil {
		return r.node
	}
	if i.level <= Serializable && !serializable(r.val, original.Type()) {
		return original
	}
	if i.level < Evaluated {
		if _, ok := r.val.(*Closure); ok {
			return original
		}
	}
	return rowexpr.Const(r.val, original.Type())
}

func (i *Interpreter) toNodes(rs []result, originals []rowexpr.Node) []rowexpr.Node {
	out := make([]rowexpr.Node, len(rs))
	for j := range rs {
		out[j] = i.toNode(rs[j], originals[j])
	}
	return out
}

// toNodeUngated converts a result into an expression of type t
// with no size or opacity gate applied.
func toNodeUngated(r result, t rowexpr.Type) rowexpr.Node {
	if r.node != nil {
		return r.node
	}
	return rowexpr.Const(r.val, t)
}

// serializable reports whether v can be embedded as a constant
// of type t and shipped over the wire.
func serializable(v rowexpr.Datum, t rowexpr.Type) bool {
	if v == nil {
		return true
	}
	if !rowexpr.IsLiteralType(t) {
		return false
	}
	data, err := rowexpr.EncodeDatum(v, t)
	if err != nil {
		return false
	}
	return len(data) <= MaxConstantBytes
}
