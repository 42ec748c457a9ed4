package definition

import (
	"encoding/json"
	"fmt"
	"math"

	"cuelang.org/go/cue"
)

// toGo converts a concrete CUE value into plain Go data: nil, bool, int,
// float64, string, []any and map[string]any. Struct fields keep their
// declaration order only in the CUE source; the map has none.
func toGo(v cue.Value, where string) (any, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	switch v.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return b, nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: "type", Message: fmt.Sprintf("%s: %v", where, err), Pos: v.Pos()}
		}
		return int(n), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, &CompileError{Field: "type", Message: fmt.Sprintf("%s: %v", where, err), Pos: v.Pos()}
		}
		return f, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return s, nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		list := []any{}
		for i := 0; iter.Next(); i++ {
			item, err := toGo(iter.Value(), fmt.Sprintf("%s[%d]", where, i))
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := map[string]any{}
		for iter.Next() {
			field, err := toGo(iter.Value(), where+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = field
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("%s: value must be concrete data (got %v)", where, v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// toNumber reports v as a float64 in every case and as an int64 when
// isIntegral(v) holds.
func toNumber(v any) (i int64, f float64, ok bool) {
	switch n := v.(type) {
	case int:
		return int64(n), float64(n), true
	case int8:
		return int64(n), float64(n), true
	case int16:
		return int64(n), float64(n), true
	case int32:
		return int64(n), float64(n), true
	case int64:
		return n, float64(n), true
	case uint8:
		return int64(n), float64(n), true
	case uint16:
		return int64(n), float64(n), true
	case uint32:
		return int64(n), float64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, float64(n), true
		}
		return int64(n), float64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, float64(n), true
		}
		return int64(n), float64(n), true
	case float32:
		return int64(n), float64(n), true
	case float64:
		return int64(n), n, true
	case json.Number:
		if iv, err := n.Int64(); err == nil {
			return iv, float64(iv), true
		}
		fv, err := n.Float64()
		if err != nil {
			return 0, 0, false
		}
		return int64(fv), fv, true
	}
	return 0, 0, false
}

// isIntegral reports whether v is one of Go's integer types or an integer
// json.Number.
func isIntegral(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return true
	case uint:
		return uint64(n) <= math.MaxInt64
	case uint64:
		return n <= math.MaxInt64
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

// cloneValue deep-copies plain data so stores built from one definition never
// share mutable lists or maps.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
