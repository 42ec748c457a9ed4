package definition

import (
	"fmt"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Definition is a compiled store declaration.
type Definition struct {
	Name       string
	State      map[string]any
	Actions    []ActionDef
	Reducers   []ReducerDef
	Middleware []MiddlewareDef
}

// ActionDef declares an action and the names its positional arguments are
// stored under in the payload.
type ActionDef struct {
	Name   string
	Params []string
}

// ReducerDef declares one state key reducer.
//
// The reducer only reacts to the actions listed in On; for any other action
// it returns the previous value. The operand is the payload field named by
// Field, the constant Value when HasValue is set, or the whole payload.
type ReducerDef struct {
	Key      string
	On       []string
	Op       string
	Field    string
	Value    any
	HasValue bool
	Pos      token.Pos
}

// MiddlewareDef declares one middleware. An empty On applies it to every
// action.
type MiddlewareDef struct {
	Kind   string
	On     []string
	Values map[string]any
	Delay  time.Duration
	Pos    token.Pos
}

// Reducer operations.
const (
	OpSet    = "set"
	OpAdd    = "add"
	OpAppend = "append"
	OpMerge  = "merge"
	OpToggle = "toggle"
	OpUnset  = "unset"
)

// Middleware kinds.
const (
	KindLog      = "log"
	KindDefaults = "defaults"
	KindDelay    = "delay"
	KindBlock    = "block"
)

var (
	knownOps   = []string{OpSet, OpAdd, OpAppend, OpMerge, OpToggle, OpUnset}
	knownKinds = []string{KindLog, KindDefaults, KindDelay, KindBlock}
)

// Action returns the declared action with the given name.
func (d *Definition) Action(name string) (ActionDef, bool) {
	for _, a := range d.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionDef{}, false
}

// ActionNames returns the declared action names in declaration order.
func (d *Definition) ActionNames() []string {
	names := make([]string, len(d.Actions))
	for i, a := range d.Actions {
		names[i] = a.Name
	}
	return names
}

// WithState returns a copy of d whose initial state has overrides applied
// on top of the declared state.
func (d *Definition) WithState(overrides map[string]any) *Definition {
	c := *d
	c.State = cloneValue(d.State).(map[string]any)
	for k, v := range overrides {
		c.State[k] = cloneValue(v)
	}
	return &c
}

// Compile parses a CUE value into a Definition.
//
// The CUE value should be the store struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`store: counter: { ... }`)
//	def, err := Compile(v.LookupPath(cue.ParsePath("store.counter")))
func Compile(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{State: map[string]any{}}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}
	if def.Name == "" {
		return nil, &CompileError{Field: "store", Message: "store name is required", Pos: v.Pos()}
	}

	var err error
	if def.State, err = parseState(v); err != nil {
		return nil, err
	}
	if def.Actions, err = parseActions(v); err != nil {
		return nil, err
	}
	if len(def.Actions) == 0 {
		return nil, &CompileError{
			Field:   "action",
			Message: "at least one action is required",
			Pos:     v.Pos(),
		}
	}

	declared := def.ActionNames()
	if def.Reducers, err = parseReducers(v, declared); err != nil {
		return nil, err
	}
	if def.Middleware, err = parseMiddleware(v, declared); err != nil {
		return nil, err
	}
	return def, nil
}

func parseState(v cue.Value) (map[string]any, error) {
	stateVal := v.LookupPath(cue.ParsePath("state"))
	if !stateVal.Exists() {
		return map[string]any{}, nil
	}
	if stateVal.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: "state", Message: "state must be a struct", Pos: stateVal.Pos()}
	}

	state, err := toGo(stateVal, "state")
	if err != nil {
		return nil, err
	}
	return state.(map[string]any), nil
}

func parseActions(v cue.Value) ([]ActionDef, error) {
	actionsVal := v.LookupPath(cue.ParsePath("action"))
	if !actionsVal.Exists() {
		return nil, nil
	}

	iter, err := actionsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var actions []ActionDef
	for iter.Next() {
		name := iter.Label()
		if name == "" {
			return nil, &CompileError{Field: "action", Message: "action name must not be empty", Pos: iter.Value().Pos()}
		}

		action := ActionDef{Name: name}
		paramsVal := iter.Value().LookupPath(cue.ParsePath("params"))
		if paramsVal.Exists() {
			params, err := parseStringList(paramsVal, "action."+name+".params")
			if err != nil {
				return nil, err
			}
			for i, p := range params {
				if p == "" {
					return nil, &CompileError{
						Field:   "action.params",
						Message: fmt.Sprintf("action %q: param %d has an empty name", name, i),
						Pos:     paramsVal.Pos(),
					}
				}
				if slices.Contains(params[:i], p) {
					return nil, &CompileError{
						Field:   "action.params",
						Message: fmt.Sprintf("action %q: param %q declared twice", name, p),
						Pos:     paramsVal.Pos(),
					}
				}
			}
			action.Params = params
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func parseReducers(v cue.Value, declared []string) ([]ReducerDef, error) {
	listVal := v.LookupPath(cue.ParsePath("reducer"))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var reducers []ReducerDef
	for i := 0; iter.Next(); i++ {
		rv := iter.Value()
		where := fmt.Sprintf("reducer[%d]", i)
		r := ReducerDef{Pos: rv.Pos()}

		if r.Key, err = requiredString(rv, "key", "reducer", where); err != nil {
			return nil, err
		}
		if r.Op, err = requiredString(rv, "op", "reducer.op", where); err != nil {
			return nil, err
		}
		if !slices.Contains(knownOps, r.Op) {
			return nil, &CompileError{
				Field:   "reducer.op",
				Message: fmt.Sprintf("%s: unknown op %q (want one of %v)", where, r.Op, knownOps),
				Pos:     rv.Pos(),
			}
		}

		onVal := rv.LookupPath(cue.ParsePath("on"))
		if !onVal.Exists() {
			return nil, &CompileError{Field: "reducer.on", Message: where + ": on is required", Pos: rv.Pos()}
		}
		if r.On, err = parseStringOrList(onVal, where+".on"); err != nil {
			return nil, err
		}
		if err := checkDeclared(r.On, declared, "reducer.on", where, onVal.Pos()); err != nil {
			return nil, err
		}

		if fieldVal := rv.LookupPath(cue.ParsePath("field")); fieldVal.Exists() {
			if r.Field, err = fieldVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if valueVal := rv.LookupPath(cue.ParsePath("value")); valueVal.Exists() {
			if r.Value, err = toGo(valueVal, where+".value"); err != nil {
				return nil, err
			}
			r.HasValue = true
		}
		if r.Field != "" && r.HasValue {
			return nil, &CompileError{
				Field:   "reducer",
				Message: where + ": field and value are mutually exclusive",
				Pos:     rv.Pos(),
			}
		}
		if r.Op == OpAdd && r.HasValue {
			if _, _, ok := toNumber(r.Value); !ok {
				return nil, &CompileError{
					Field:   "reducer.value",
					Message: fmt.Sprintf("%s: add needs a numeric value, got %T", where, r.Value),
					Pos:     rv.Pos(),
				}
			}
		}
		reducers = append(reducers, r)
	}
	return reducers, nil
}

func parseMiddleware(v cue.Value, declared []string) ([]MiddlewareDef, error) {
	listVal := v.LookupPath(cue.ParsePath("middleware"))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var chain []MiddlewareDef
	for i := 0; iter.Next(); i++ {
		mv := iter.Value()
		where := fmt.Sprintf("middleware[%d]", i)
		m := MiddlewareDef{Pos: mv.Pos()}

		if m.Kind, err = requiredString(mv, "kind", "middleware.kind", where); err != nil {
			return nil, err
		}
		if !slices.Contains(knownKinds, m.Kind) {
			return nil, &CompileError{
				Field:   "middleware.kind",
				Message: fmt.Sprintf("%s: unknown kind %q (want one of %v)", where, m.Kind, knownKinds),
				Pos:     mv.Pos(),
			}
		}

		if onVal := mv.LookupPath(cue.ParsePath("on")); onVal.Exists() {
			if m.On, err = parseStringOrList(onVal, where+".on"); err != nil {
				return nil, err
			}
			if err := checkDeclared(m.On, declared, "middleware.on", where, onVal.Pos()); err != nil {
				return nil, err
			}
		}

		switch m.Kind {
		case KindDefaults:
			valuesVal := mv.LookupPath(cue.ParsePath("values"))
			if !valuesVal.Exists() || valuesVal.IncompleteKind() != cue.StructKind {
				return nil, &CompileError{Field: "middleware", Message: where + ": defaults needs a values struct", Pos: mv.Pos()}
			}
			values, err := toGo(valuesVal, where+".values")
			if err != nil {
				return nil, err
			}
			m.Values = values.(map[string]any)
		case KindDelay:
			msVal := mv.LookupPath(cue.ParsePath("ms"))
			ms, err := msVal.Int64()
			if err != nil || ms <= 0 {
				return nil, &CompileError{Field: "middleware", Message: where + ": delay needs a positive integer ms", Pos: mv.Pos()}
			}
			m.Delay = time.Duration(ms) * time.Millisecond
		case KindBlock:
			if len(m.On) == 0 {
				return nil, &CompileError{Field: "middleware", Message: where + ": block needs on", Pos: mv.Pos()}
			}
		}
		chain = append(chain, m)
	}
	return chain, nil
}

func requiredString(v cue.Value, name, field, where string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: fmt.Sprintf("%s: %s is required", where, name), Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: fmt.Sprintf("%s: %s must be a string", where, name), Pos: fv.Pos()}
	}
	if s == "" {
		return "", &CompileError{Field: field, Message: fmt.Sprintf("%s: %s must not be empty", where, name), Pos: fv.Pos()}
	}
	return s, nil
}

func parseStringList(v cue.Value, where string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "type", Message: where + ": must be a list of strings", Pos: v.Pos()}
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: "type", Message: where + ": must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// parseStringOrList accepts either "name" or ["a", "b"].
func parseStringOrList(v cue.Value, where string) ([]string, error) {
	if s, err := v.String(); err == nil {
		return []string{s}, nil
	}
	return parseStringList(v, where)
}

func checkDeclared(names, declared []string, field, where string, pos token.Pos) error {
	for _, n := range names {
		if !slices.Contains(declared, n) {
			return &CompileError{
				Field:   field,
				Message: fmt.Sprintf("%s: action %q is not declared", where, n),
				Pos:     pos,
			}
		}
	}
	return nil
}

// CompileError is a definition error with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
