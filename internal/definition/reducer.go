package definition

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// NewReducer turns a ReducerDef into a store reducer.
func NewReducer(def ReducerDef) (fluxtor.Reducer, error) {
	apply, ok := reducerOps[def.Op]
	if !ok {
		return nil, fmt.Errorf("reducer %q: unknown op %q", def.Key, def.Op)
	}

	return func(prev any, action string, payload any) (any, error) {
		if !slices.Contains(def.On, action) {
			return prev, nil
		}
		next, err := apply(prev, def.operand(payload), def)
		if err != nil {
			return nil, fmt.Errorf("reducer %q on %q: %w", def.Key, action, err)
		}
		return next, nil
	}, nil
}

// operand picks the value an op works with.
func (r ReducerDef) operand(payload any) any {
	switch {
	case r.HasValue:
		return cloneValue(r.Value)
	case r.Field != "":
		obj, ok := payload.(map[string]any)
		if !ok {
			return nil
		}
		return obj[r.Field]
	default:
		return payload
	}
}

type opFunc func(prev, operand any, def ReducerDef) (any, error)

var reducerOps = map[string]opFunc{
	OpSet:    opSet,
	OpAdd:    opAdd,
	OpAppend: opAppend,
	OpMerge:  opMerge,
	OpToggle: opToggle,
	OpUnset:  opUnset,
}

func opSet(_, operand any, _ ReducerDef) (any, error) {
	return operand, nil
}

// opAdd adds operand to prev. A missing prev counts as 0; a missing operand
// counts as 1 unless a field was named.
func opAdd(prev, operand any, def ReducerDef) (any, error) {
	if prev == nil {
		prev = 0
	}
	if operand == nil {
		if def.Field != "" {
			return nil, fmt.Errorf("add: payload field %q is missing", def.Field)
		}
		operand = 1
	}

	pi, pf, ok := toNumber(prev)
	if !ok {
		return nil, fmt.Errorf("add: current value %v (%T) is not a number", prev, prev)
	}
	oi, of, ok := toNumber(operand)
	if !ok {
		return nil, fmt.Errorf("add: operand %v (%T) is not a number", operand, operand)
	}

	if isIntegral(prev) && isIntegral(operand) {
		return int(pi + oi), nil
	}
	return pf + of, nil
}

func opAppend(prev, operand any, _ ReducerDef) (any, error) {
	var list []any
	switch p := prev.(type) {
	case nil:
	case []any:
		list = p
	default:
		return nil, fmt.Errorf("append: current value %v (%T) is not a list", prev, prev)
	}

	out := make([]any, len(list), len(list)+1)
	copy(out, list)
	return append(out, operand), nil
}

// opMerge shallow-merges operand into prev. Operands that are not
// map[string]any (structs, typed maps) are decoded into one first, keyed
// by their json tags.
func opMerge(prev, operand any, _ ReducerDef) (any, error) {
	out := map[string]any{}
	switch p := prev.(type) {
	case nil:
	case map[string]any:
		maps.Copy(out, p)
	default:
		return nil, fmt.Errorf("merge: current value %v (%T) is not an object", prev, prev)
	}

	if operand == nil {
		return out, nil
	}
	patch, ok := operand.(map[string]any)
	if !ok {
		if err := fluxtor.Decode(operand, &patch); err != nil {
			return nil, fmt.Errorf("merge: operand %T is not an object: %w", operand, err)
		}
	}
	maps.Copy(out, patch)
	return out, nil
}

func opToggle(prev, _ any, _ ReducerDef) (any, error) {
	switch p := prev.(type) {
	case nil:
		return true, nil
	case bool:
		return !p, nil
	default:
		return nil, fmt.Errorf("toggle: current value %v (%T) is not a bool", prev, prev)
	}
}

func opUnset(_, _ any, _ ReducerDef) (any, error) {
	return nil, nil
}
