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

// Closure is the runtime value a lambda evaluates to at the
// Evaluated level: the lambda body plus any arguments already
// bound by BIND. Builtins that take function-typed arguments
// receive a *Closure and call Apply.
type Closure struct {
	ev     *Interpreter
	params []string
	sig    rowexpr.Func
	body   rowexpr.Node
	bound  []rowexpr.Datum
}

// Arity returns the number of arguments Apply still expects.
func (c *Closure) Arity() int { return len(c.params) - len(c.bound) }

// bind returns a copy of c with additional arguments bound to
// the leftmost free parameters.
func (c *Closure) bind(prefix []rowexpr.Datum) *Closure {
	cp := *c
	cp.bound = append(append([]rowexpr.Datum{}, c.bound...), prefix...)
	return &cp
}

// Apply evaluates the closure body with every parameter bound.
// The body sees only the parameter bindings; the resolver of the
// enclosing evaluation does not apply inside a lambda.
func (c *Closure) Apply(args ...rowexpr.Datum) (rowexpr.Datum, error) {
	all := args
	if len(c.bound) > 0 {
		all = append(append([]rowexpr.Datum{}, c.bound...), args...)
	}
	if len(all) != len(c.params) {
		return nil, fmt.Errorf("interp: lambda of %d parameters applied to %d arguments",
			len(c.params), len(all))
	}
	binding := make(rowexpr.Bindings, len(all))
	for j := range c.params {
		binding[c.params[j]] = all[j]
	}
	sub := *c.ev
	sub.resolver = binding
	r, err := sub.eval(c.body)
	if err != nil {
		return nil, err
	}
	if !r.isValue() {
		return nil, &NotConstantError{Node: r.node}
	}
	return r.val, nil
}
