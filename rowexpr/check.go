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
	"time"
)

type checker interface {
	check() error
}

type checkwalk struct {
	errors []error
}

func (c *checkwalk) Visit(n Node) Visitor {
	if n == nil {
		return nil
	}
	ce, ok := n.(checker)
	if ok {
		err := ce.check()
		if err != nil {
			c.errors = append(c.errors, err)
			return nil
		}
	}
	return c
}

func combine(err []error) error {
	if len(err) == 1 {
		return err[0]
	}
	return fmt.Errorf("%w and %d other errors", err[0], len(err)-1)
}

// Check walks the expression given by n and validates the
// structural preconditions the evaluator relies on: special-form
// arities, WHEN placement inside SWITCH, lambda parameter counts,
// and constant value/type agreement. It does not type-check
// expressions; inputs are assumed to be planner-typed.
func Check(n Node) error {
	c := &checkwalk{}
	Walk(c, n)
	if c.errors == nil {
		return nil
	}
	return combine(c.errors)
}

func (c *Call) check() error {
	if c.Func.Name == "" {
		return errshape(c, "call has no resolved function")
	}
	if len(c.Func.Args) != len(c.Args) {
		return errshapef(c, "resolved for %d arguments but has %d",
			len(c.Func.Args), len(c.Args))
	}
	return nil
}

func (l *Lambda) check() error {
	if len(l.Params) != len(l.Sig.Args) {
		return errshapef(l, "%d parameters but %d argument types",
			len(l.Params), len(l.Sig.Args))
	}
	return nil
}

func (f *Form) check() error {
	min, max := f.Op.arity()
	if len(f.Args) < min || (max >= 0 && len(f.Args) > max) {
		return errshapef(f, "%s wants %d argument(s), has %d",
			f.Op, min, len(f.Args))
	}
	switch f.Op {
	case OpDeref:
		idx, ok := f.Args[1].(*Constant)
		if !ok {
			return errshape(f, "field index is not a constant")
		}
		i, ok := idx.Value.(int64)
		if !ok || i < 0 {
			return errshape(f, "field index is not a non-negative integer")
		}
		if rt, ok := f.Args[0].Type().(Row); ok && int(i) >= len(rt.Fields) {
			return errshapef(f, "field index %d out of range for %s", i, rt)
		}
	case OpSwitch:
		whens := 0
		for i, arg := range f.Args[1:] {
			w, ok := arg.(*Form)
			if ok && w.Op == OpWhen {
				whens++
				continue
			}
			// only the trailing else may be a non-WHEN node
			if i != len(f.Args)-2 {
				return errshape(f, "non-WHEN clause before end of SWITCH")
			}
		}
		if whens == 0 {
			return errshape(f, "SWITCH has no WHEN clause")
		}
	case OpBind:
		fn := f.Args[len(f.Args)-1]
		ft, ok := fn.Type().(Func)
		if !ok {
			return errshape(f, "last BIND argument is not function-typed")
		}
		if len(f.Args)-1 > len(ft.Args) {
			return errshapef(f, "binding %d values to %s", len(f.Args)-1, ft)
		}
	}
	return nil
}

func (c *Constant) check() error {
	if c.Value == nil {
		return nil
	}
	ok := true
	switch v := c.Value.(type) {
	case bool:
		ok = c.T.Equals(Boolean)
	case int64:
		ok = c.T.Equals(Integer)
	case float64:
		ok = c.T.Equals(Double)
	case string:
		if _, isv := c.T.(Varchar); !isv {
			ok = c.T.Equals(JSON)
		}
	case time.Time:
		ok = c.T.Equals(Timestamp)
	case []Datum:
		_, ok = c.T.(Array)
	case map[Datum]Datum:
		_, ok = c.T.(Map)
	case Tuple:
		rt, isrow := c.T.(Row)
		ok = isrow && len(rt.Fields) == len(v)
	default:
		// opaque runtime objects may only inhabit
		// runtime-only types
		if _, isf := c.T.(Func); !isf {
			ok = c.T.Equals(LikePattern)
		}
	}
	if !ok {
		return errshapef(c, "%T value does not inhabit type %s", c.Value, c.T)
	}
	return nil
}
