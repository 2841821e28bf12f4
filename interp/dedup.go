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
	"github.com/dchest/siphash"

	"github.com/quernlabs/quern/rowexpr"
)

// fixed keys so node hashes are stable across processes
const (
	nodeHashK0 = 0x9f4c3712fb8e602d
	nodeHashK1 = 0x4b36cd8a215f70e9
)

// nodeSet is a set of expressions keyed by structural equality.
// Expressions hash by their printed form; bucket collisions fall
// back to Equals.
type nodeSet struct {
	buckets map[uint64][]rowexpr.Node
}

func newNodeSet() *nodeSet {
	return &nodeSet{buckets: make(map[uint64][]rowexpr.Node)}
}

// add inserts n and reports whether it was not already present.
func (s *nodeSet) add(n rowexpr.Node) bool {
	h := siphash.Hash(nodeHashK0, nodeHashK1, []byte(rowexpr.ToString(n)))
	for _, other := range s.buckets[h] {
		if n.Equals(other) {
			return false
		}
	}
	s.buckets[h] = append(s.buckets[h], n)
	return true
}
