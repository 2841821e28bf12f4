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

type detwalk struct {
	reg Registry
	det *bool
}

func (d detwalk) Visit(n Node) Visitor {
	if n == nil || !*d.det {
		return nil
	}
	if c, ok := n.(*Call); ok {
		md, err := d.reg.Metadata(c.Func)
		if err != nil || !md.Deterministic {
			*d.det = false
			return nil
		}
	}
	return d
}

// Deterministic reports whether every function referenced by n
// resolves to a deterministic implementation in reg. Calls whose
// metadata cannot be resolved count as non-deterministic.
func Deterministic(n Node, reg Registry) bool {
	det := true
	Walk(detwalk{reg: reg, det: &det}, n)
	return det
}
