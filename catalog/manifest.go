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

package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/quernlabs/quern/rowexpr"
)

// Manifest declares functions that live outside the process,
// typically behind a remote function service. Declared functions
// resolve and carry metadata like any builtin, but they have no
// local implementation; the interpreter leaves their calls in
// the expression tree.
type Manifest struct {
	Functions []FunctionDef `json:"functions"`
}

// FunctionDef is one declared function signature.
type FunctionDef struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
	Ret  string   `json:"ret"`
	// Kind is "scalar", "aggregate", or "window";
	// empty means scalar.
	Kind string `json:"kind"`
	// Locality is "remote" or "builtin"; empty means remote.
	Locality string `json:"locality"`
	// Deterministic defaults to true when omitted.
	Deterministic     *bool `json:"deterministic"`
	CalledOnNullInput bool  `json:"called_on_null_input"`
}

// ParseManifest decodes a yaml (or json) manifest document.
func ParseManifest(buf []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(buf, m); err != nil {
		return nil, fmt.Errorf("catalog: parsing manifest: %w", err)
	}
	return m, nil
}

// Load registers every function a manifest declares.
func (c *Catalog) Load(m *Manifest) error {
	for i := range m.Functions {
		def := &m.Functions[i]
		b := &Builtin{
			Name:              strings.ToLower(strings.TrimSpace(def.Name)),
			Deterministic:     def.Deterministic == nil || *def.Deterministic,
			CalledOnNullInput: def.CalledOnNullInput,
		}
		switch strings.ToLower(def.Kind) {
		case "", "scalar":
			b.Kind = rowexpr.KindScalar
		case "aggregate":
			b.Kind = rowexpr.KindAggregate
		case "window":
			b.Kind = rowexpr.KindWindow
		default:
			return fmt.Errorf("catalog: function %s: unknown kind %q", def.Name, def.Kind)
		}
		switch strings.ToLower(def.Locality) {
		case "", "remote":
			b.Locality = rowexpr.LocalityRemote
		case "builtin":
			b.Locality = rowexpr.LocalityBuiltin
		default:
			return fmt.Errorf("catalog: function %s: unknown locality %q", def.Name, def.Locality)
		}
		for _, a := range def.Args {
			t, err := ParseType(a)
			if err != nil {
				return fmt.Errorf("catalog: function %s: %w", def.Name, err)
			}
			b.Args = append(b.Args, t)
		}
		ret, err := ParseType(def.Ret)
		if err != nil {
			return fmt.Errorf("catalog: function %s: %w", def.Name, err)
		}
		b.Ret = ret
		if err := c.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// LoadManifest parses and registers a manifest document.
func (c *Catalog) LoadManifest(buf []byte) error {
	m, err := ParseManifest(buf)
	if err != nil {
		return err
	}
	return c.Load(m)
}

// ParseType parses the textual spelling of a type as it appears
// in manifests: scalar names, varchar(n), and the array, map,
// and row constructors.
func ParseType(s string) (rowexpr.Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty type")
	}
	base, inner := s, ""
	if i := strings.IndexByte(s, '('); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("malformed type %q", s)
		}
		base, inner = s[:i], s[i+1:len(s)-1]
	}
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "unknown":
		return rowexpr.Unknown, nil
	case "boolean":
		return rowexpr.Boolean, nil
	case "integer", "bigint":
		return rowexpr.Integer, nil
	case "double":
		return rowexpr.Double, nil
	case "timestamp":
		return rowexpr.Timestamp, nil
	case "json":
		return rowexpr.JSON, nil
	case "varchar":
		if inner == "" {
			return rowexpr.VarcharAny, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(inner))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed varchar bound %q", inner)
		}
		return rowexpr.Varchar{N: n}, nil
	case "array":
		elem, err := ParseType(inner)
		if err != nil {
			return nil, err
		}
		return rowexpr.Array{Elem: elem}, nil
	case "map":
		parts, err := splitTypes(inner)
		if err != nil || len(parts) != 2 {
			return nil, fmt.Errorf("malformed map type %q", s)
		}
		key, err := ParseType(parts[0])
		if err != nil {
			return nil, err
		}
		elem, err := ParseType(parts[1])
		if err != nil {
			return nil, err
		}
		return rowexpr.Map{Key: key, Elem: elem}, nil
	case "row":
		parts, err := splitTypes(inner)
		if err != nil || len(parts) == 0 {
			return nil, fmt.Errorf("malformed row type %q", s)
		}
		row := rowexpr.Row{}
		named := 0
		for _, p := range parts {
			name, field := "", p
			// a leading identifier before the type is
			// the field name
			if j := strings.IndexByte(strings.TrimSpace(p), ' '); j > 0 {
				trimmed := strings.TrimSpace(p)
				head := trimmed[:j]
				if !strings.ContainsAny(head, "()") && !isTypeName(head) {
					name, field = head, trimmed[j+1:]
				}
			}
			t, err := ParseType(field)
			if err != nil {
				return nil, err
			}
			row.Fields = append(row.Fields, t)
			row.Names = append(row.Names, name)
			if name != "" {
				named++
			}
		}
		if named == 0 {
			row.Names = nil
		}
		return row, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

func isTypeName(s string) bool {
	switch strings.ToLower(s) {
	case "unknown", "boolean", "integer", "bigint", "double",
		"timestamp", "json", "varchar", "array", "map", "row":
		return true
	}
	return false
}

// splitTypes splits a comma-separated type list at nesting
// depth zero.
func splitTypes(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", s)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in %q", s)
	}
	if strings.TrimSpace(s[start:]) != "" {
		parts = append(parts, s[start:])
	}
	return parts, nil
}
