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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quernlabs/quern/rowexpr"
)

// castValue converts one runtime value between types. NULL casts
// to NULL at every type; beyond that the conversion depends on
// the target, and a value that cannot be represented raises an
// INVALID_CAST_ARGUMENT error.
func (c *Catalog) castValue(v rowexpr.Datum, from, to rowexpr.Type) (rowexpr.Datum, error) {
	if v == nil {
		return nil, nil
	}
	if from.Equals(to) || c.TypeOnlyCast(from, to) {
		return v, nil
	}
	switch tt := to.(type) {
	case rowexpr.Scalar:
		switch tt {
		case rowexpr.Boolean:
			return castToBool(v)
		case rowexpr.Integer:
			return castToInt(v)
		case rowexpr.Double:
			return castToFloat(v)
		case rowexpr.Timestamp:
			return castToTime(v)
		case rowexpr.JSON:
			return jsonText(v, from)
		}
	case rowexpr.Varchar:
		return castToVarchar(v, from, tt)
	case rowexpr.Array:
		if from.Equals(rowexpr.JSON) {
			if s, ok := v.(string); ok {
				return jsonToStructured(s, to)
			}
			break
		}
		ft, ok := from.(rowexpr.Array)
		av, ok2 := v.([]rowexpr.Datum)
		if !ok || !ok2 {
			break
		}
		out := make([]rowexpr.Datum, len(av))
		for i := range av {
			e, err := c.castValue(av[i], ft.Elem, tt.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case rowexpr.Map:
		if from.Equals(rowexpr.JSON) {
			if s, ok := v.(string); ok {
				return jsonToStructured(s, to)
			}
			break
		}
		ft, ok := from.(rowexpr.Map)
		mv, ok2 := v.(map[rowexpr.Datum]rowexpr.Datum)
		if !ok || !ok2 {
			break
		}
		out := make(map[rowexpr.Datum]rowexpr.Datum, len(mv))
		for k, e := range mv {
			k2, err := c.castValue(k, ft.Key, tt.Key)
			if err != nil {
				return nil, err
			}
			e2, err := c.castValue(e, ft.Elem, tt.Elem)
			if err != nil {
				return nil, err
			}
			out[k2] = e2
		}
		return out, nil
	case rowexpr.Row:
		if from.Equals(rowexpr.JSON) {
			if s, ok := v.(string); ok {
				return jsonToStructured(s, to)
			}
			break
		}
		ft, ok := from.(rowexpr.Row)
		rv, ok2 := v.(rowexpr.Tuple)
		if !ok || !ok2 || len(ft.Fields) != len(tt.Fields) || len(rv) != len(ft.Fields) {
			break
		}
		out := make(rowexpr.Tuple, len(rv))
		for i := range rv {
			f, err := c.castValue(rv[i], ft.Fields[i], tt.Fields[i])
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %s to %s", from, to)
}

func castToBool(v rowexpr.Datum) (rowexpr.Datum, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "1":
			return true, nil
		case "false", "f", "0":
			return false, nil
		}
		return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %q to boolean", v)
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %T to boolean", v)
}

func castToInt(v rowexpr.Datum) (rowexpr.Datum, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case int64:
		return v, nil
	case float64:
		if math.IsNaN(v) {
			return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast NaN to integer")
		}
		// round half toward positive infinity
		r := math.Floor(v + 0.5)
		if r < math.MinInt64 || r >= math.MaxInt64 {
			return nil, rowexpr.Evalf(rowexpr.ErrNumericOverflow, "value %v is out of integer range", v)
		}
		return int64(r), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %q to integer", v)
		}
		return n, nil
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %T to integer", v)
}

func castToFloat(v rowexpr.Datum) (rowexpr.Datum, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return float64(1), nil
		}
		return float64(0), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			switch strings.ToLower(s) {
			case "infinity":
				return math.Inf(1), nil
			case "-infinity":
				return math.Inf(-1), nil
			case "nan":
				return math.NaN(), nil
			}
			return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %q to double", v)
		}
		return f, nil
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %T to double", v)
}

// timestamp text forms accepted by casts, most specific first
var timeFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func castToTime(v rowexpr.Datum) (rowexpr.Datum, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, ok := parseTimestamp(v); ok {
			return t, nil
		}
		return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %q to timestamp", v)
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %T to timestamp", v)
}

func formatDatum(v rowexpr.Datum, from rowexpr.Type) (string, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		if from.Equals(rowexpr.JSON) {
			// a json string renders as its contents,
			// not as its quoted form
			var s string
			if err := json.Unmarshal([]byte(v), &s); err == nil {
				return s, nil
			}
		}
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	}
	return "", rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %T to varchar", v)
}

func castToVarchar(v rowexpr.Datum, from rowexpr.Type, to rowexpr.Varchar) (rowexpr.Datum, error) {
	s, err := formatDatum(v, from)
	if err != nil {
		return nil, err
	}
	if to.N >= 0 && utf8.RuneCountInString(s) > to.N {
		return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "value %q is too long for %s", s, to)
	}
	return s, nil
}

// jsonText renders a value of any literal type as canonical
// (compact) json text.
func jsonText(v rowexpr.Datum, from rowexpr.Type) (rowexpr.Datum, error) {
	raw, err := toJSONValue(v, from)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %s to json: %v", from, err)
	}
	return string(buf), nil
}

// toJSONValue lowers a datum into the encoding/json value space.
func toJSONValue(v rowexpr.Datum, from rowexpr.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v := v.(type) {
	case bool, int64, float64:
		return v, nil
	case string:
		if from.Equals(rowexpr.JSON) {
			return json.RawMessage(v), nil
		}
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case []rowexpr.Datum:
		ft, ok := from.(rowexpr.Array)
		if !ok {
			break
		}
		out := make([]any, len(v))
		for i := range v {
			e, err := toJSONValue(v[i], ft.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case rowexpr.Tuple:
		ft, ok := from.(rowexpr.Row)
		if !ok || len(ft.Fields) != len(v) {
			break
		}
		out := make([]any, len(v))
		for i := range v {
			e, err := toJSONValue(v[i], ft.Fields[i])
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case map[rowexpr.Datum]rowexpr.Datum:
		ft, ok := from.(rowexpr.Map)
		if !ok {
			break
		}
		out := make(map[string]any, len(v))
		for k, e := range v {
			ks, err := formatDatum(k, ft.Key)
			if err != nil {
				return nil, err
			}
			ev, err := toJSONValue(e, ft.Elem)
			if err != nil {
				return nil, err
			}
			out[ks] = ev
		}
		return out, nil
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast %T to json", v)
}

// jsonToStructured parses json text and shapes it directly into
// an array, map, or row value of the target type.
func jsonToStructured(text string, to rowexpr.Type) (rowexpr.Datum, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "malformed json: %v", err)
	}
	return jsonToDatum(raw, to)
}

func jsonToDatum(raw any, t rowexpr.Type) (rowexpr.Datum, error) {
	if raw == nil {
		return nil, nil
	}
	switch t := t.(type) {
	case rowexpr.Scalar:
		switch t {
		case rowexpr.Boolean:
			if b, ok := raw.(bool); ok {
				return b, nil
			}
		case rowexpr.Integer:
			if num, ok := raw.(json.Number); ok {
				if n, err := num.Int64(); err == nil {
					return n, nil
				}
				if f, err := num.Float64(); err == nil {
					return castToInt(f)
				}
			}
		case rowexpr.Double:
			if num, ok := raw.(json.Number); ok {
				if f, err := num.Float64(); err == nil {
					return f, nil
				}
			}
		case rowexpr.Timestamp:
			if s, ok := raw.(string); ok {
				if ts, ok := parseTimestamp(s); ok {
					return ts, nil
				}
			}
		case rowexpr.JSON:
			buf, err := json.Marshal(raw)
			if err != nil {
				return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot re-encode json: %v", err)
			}
			return string(buf), nil
		}
	case rowexpr.Varchar:
		if s, ok := raw.(string); ok {
			if t.N >= 0 && utf8.RuneCountInString(s) > t.N {
				return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "value %q is too long for %s", s, t)
			}
			return s, nil
		}
	case rowexpr.Array:
		arr, ok := raw.([]any)
		if !ok {
			break
		}
		out := make([]rowexpr.Datum, len(arr))
		for i := range arr {
			e, err := jsonToDatum(arr[i], t.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case rowexpr.Map:
		obj, ok := raw.(map[string]any)
		if !ok {
			break
		}
		out := make(map[rowexpr.Datum]rowexpr.Datum, len(obj))
		for k, e := range obj {
			key, err := jsonKeyDatum(k, t.Key)
			if err != nil {
				return nil, err
			}
			ev, err := jsonToDatum(e, t.Elem)
			if err != nil {
				return nil, err
			}
			out[key] = ev
		}
		return out, nil
	case rowexpr.Row:
		switch raw := raw.(type) {
		case []any:
			if len(raw) != len(t.Fields) {
				return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast,
					"json array of %d elements does not fit %s", len(raw), t)
			}
			out := make(rowexpr.Tuple, len(raw))
			for i := range raw {
				f, err := jsonToDatum(raw[i], t.Fields[i])
				if err != nil {
					return nil, err
				}
				out[i] = f
			}
			return out, nil
		case map[string]any:
			if len(t.Names) != len(t.Fields) {
				break
			}
			out := make(rowexpr.Tuple, len(t.Fields))
			for i, name := range t.Names {
				f, err := jsonToDatum(raw[name], t.Fields[i])
				if err != nil {
					return nil, err
				}
				out[i] = f
			}
			return out, nil
		}
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot cast json value %s to %s", jsonPreview(raw), t)
}

// jsonKeyDatum converts a json object key into a map key of the
// declared key type. Object keys are always strings on the wire,
// so non-varchar key types parse the text.
func jsonKeyDatum(s string, t rowexpr.Type) (rowexpr.Datum, error) {
	switch t := t.(type) {
	case rowexpr.Varchar:
		if t.N >= 0 && utf8.RuneCountInString(s) > t.N {
			return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "key %q is too long for %s", s, t)
		}
		return s, nil
	case rowexpr.Scalar:
		switch t {
		case rowexpr.Integer:
			return castToInt(s)
		case rowexpr.Double:
			return castToFloat(s)
		case rowexpr.Boolean:
			return castToBool(s)
		}
	}
	return nil, rowexpr.Evalf(rowexpr.ErrInvalidCast, "cannot use %s as a map key type", t)
}

func jsonPreview(raw any) string {
	buf, err := json.Marshal(raw)
	if err != nil || len(buf) == 0 {
		return "?"
	}
	const max = 40
	if len(buf) > max {
		return string(buf[:max]) + "..."
	}
	return string(buf)
}

// sortedKeys returns the printed forms of a map datum's keys in
// sorted order, for deterministic iteration.
func sortedKeys(m map[rowexpr.Datum]rowexpr.Datum) []rowexpr.Datum {
	keys := make([]rowexpr.Datum, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	return keys
}
