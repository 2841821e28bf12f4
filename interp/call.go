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
	"fmt"

	"github.com/quernlabs/quern/rowexpr"
)

// evalCall evaluates a function call. Arguments are always
// evaluated strictly left to right with errors propagating;
// whether the call itself folds depends on the function's
// metadata and the interpreter level.
func (i *Interpreter) evalCall(n *rowexpr.Call) (result, error) {
	args, err := i.evalAll(n.Args)
	if err != nil {
		return result{}, err
	}
	md, err := i.reg.Metadata(n.Func)
	if err != nil {
		return result{}, fmt.Errorf("interp: resolving %s: %w", n.Func.Name, err)
	}

	if !md.CalledOnNullInput {
		for j := range args {
			if args[j].isNull() {
				return value(nil), nil
			}
		}
	}

	switch n.Func.Name {
	case rowexpr.FnArrayConstructor:
		if r, ok := i.foldArray(n, args); ok {
			return r, nil
		}
	case rowexpr.FnCast:
		r, ok, err := i.foldCast(n, args)
		if err != nil {
			return result{}, err
		}
		if ok {
			return r, nil
		}
	case rowexpr.FnLike:
		r, ok, err := i.foldLike(n, args)
		if err != nil {
			return result{}, err
		}
		if ok {
			return r, nil
		}
	}

	if md.Kind != rowexpr.KindScalar {
		return unresolved(rebuildCall(n, i.toNodes(args, n.Args), nil)), nil
	}

	// non-deterministic calls and calls that exist to fail are
	// never folded during optimization
	if i.level < Evaluated &&
		(!rowexpr.Deterministic(n, i.reg) ||
			anyResidual(args) ||
			n.Func.Name == rowexpr.FnDynamicFilter ||
			n.Func.Name == rowexpr.FnFail) {
		return unresolved(rebuildCall(n, i.toNodes(args, n.Args), n.Filter)), nil
	}
	if anyResidual(args) {
		return result{}, &NotConstantError{Node: n}
	}

	switch md.Locality {
	case rowexpr.LocalityBuiltin:
	case rowexpr.LocalityRemote:
		// remote functions never run in-process
		return unresolved(rebuildCall(n, i.toNodes(args, n.Args), nil)), nil
	default:
		return result{}, fmt.Errorf("interp: function %s: unsupported locality %d", n.Func.Name, md.Locality)
	}

	v, err := i.reg.Invoke(n.Func, i.session, datums(args))
	if err != nil {
		return result{}, err
	}
	if i.level <= Serializable && !serializable(v, n.T) {
		return unresolved(rebuildCall(n, i.toNodes(args, n.Args), nil)), nil
	}
	return value(v), nil
}

// rebuildCall rebuilds n around new arguments. Only the rebuild
// that keeps a call intact for a later optimization round carries
// the FILTER clause forward; the others pass filter == nil.
func rebuildCall(n *rowexpr.Call, args []rowexpr.Node, filter rowexpr.Node) *rowexpr.Call {
	return &rowexpr.Call{Name: n.Name, Func: n.Func, T: n.T, Args: args, Filter: filter}
}
