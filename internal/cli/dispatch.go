package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fluxtor/internal/definition"
	"github.com/roach88/fluxtor/internal/fluxtor"
	"github.com/roach88/fluxtor/internal/ir"
	"github.com/roach88/fluxtor/internal/recorder"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	Definitions string
	Store       string
	Database    string
	Timeout     time.Duration

	// IDGenerator overrides dispatch ids (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator fluxtor.IDGenerator
}

// Dispatch statuses reported by the command.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
	StatusStalled   = "stalled"
)

// DispatchRecord is the outcome of one dispatched action.
type DispatchRecord struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	Seq    int64  `json:"seq,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// DispatchResult holds the dispatch command output.
type DispatchResult struct {
	Store       string           `json:"store"`
	Dispatches  []DispatchRecord `json:"dispatches"`
	State       json.RawMessage  `json:"state"`
	StateDigest string           `json:"state_digest"`
}

// actionStep is one parsed ACTION[=JSONARGS] argument.
type actionStep struct {
	Action string
	Args   []any
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newDispatchCommand(&DispatchOptions{RootOptions: rootOpts})
}

func newDispatchCommand(opts *DispatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch ACTION[=JSONARGS]...",
		Short: "Dispatch actions against a store and print the final state",
		Long: `Build a store from its CUE definition, dispatch each action in order
and print the final state as canonical JSON.

JSONARGS is a JSON array of positional arguments, or a single JSON value
passed as the only argument. Dispatching stops at the first action that
fails, is rejected or does not complete within --timeout.

With --db every dispatch is recorded to a SQLite trace database that can
be inspected with "fluxtor trace".

Examples:
  fluxtor dispatch --store counter increment 'increment=[5]' reset
  fluxtor dispatch -d ./defs --store todo 'add=["milk"]' --db trace.db
  fluxtor dispatch --store counter increment --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Definitions, "definitions", "d", "", "CUE definitions directory (default from config)")
	cmd.Flags().StringVarP(&opts.Store, "store", "s", "", "store name (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record dispatches to this SQLite database")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "how long to wait for each dispatch to complete")

	return cmd
}

func runDispatch(opts *DispatchOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg := opts.loadedConfig()

	defsDir := firstNonEmpty(opts.Definitions, cfg.Definitions)
	storeName := firstNonEmpty(opts.Store, cfg.Store)
	dbPath := firstNonEmpty(opts.Database, cfg.Trace.Database)

	if storeName == "" {
		return formatter.fail(ExitCommandError, ErrCodeUsage, "--store is required (or set store in fluxtor.toml)", nil)
	}
	if opts.Timeout <= 0 {
		return formatter.fail(ExitCommandError, ErrCodeUsage, "--timeout must be positive", nil)
	}

	steps, err := parseActionArgs(args)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}

	loaded, loadErrors := definition.LoadDir(defsDir, definition.LoadModeFailFast)
	if len(loadErrors) > 0 {
		code, message := loadErrorCode(loadErrors[0])
		return formatter.fail(ExitCommandError, code, message, nil)
	}
	def, ok := loaded.Lookup(storeName)
	if !ok {
		return formatter.fail(ExitCommandError, definition.ErrCodeStore,
			fmt.Sprintf("store %q not found in %s", storeName, defsDir), loaded.Names())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := opts.logger(cmd.ErrOrStderr())
	storeOpts := []fluxtor.Option{fluxtor.WithLogger(logger)}
	if opts.IDGenerator != nil {
		storeOpts = append(storeOpts, fluxtor.WithIDGenerator(opts.IDGenerator))
	}

	var rec *recorder.Recorder
	if dbPath != "" {
		rec, err = recorder.Open(dbPath, recorder.WithLogger(logger))
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to open trace database: %v", err), nil)
		}
		rec.Start(ctx)
		storeOpts = append(storeOpts, fluxtor.WithObserver(rec))
		formatter.VerboseLog("Recording to %s", dbPath)
	}

	s, err := definition.Build(def, storeOpts...)
	if err != nil {
		closeRecorder(rec, formatter)
		return formatter.fail(ExitCommandError, definition.ErrCodeGeneric, fmt.Sprintf("failed to build store: %v", err), nil)
	}

	result := DispatchResult{Store: storeName, Dispatches: make([]DispatchRecord, 0, len(steps))}
	var failed *DispatchRecord
	for _, step := range steps {
		r := dispatchOne(ctx, s, step, opts.Timeout)
		result.Dispatches = append(result.Dispatches, r)
		if r.Status != StatusCompleted {
			failed = &result.Dispatches[len(result.Dispatches)-1]
			break
		}
	}

	if err := closeRecorder(rec, formatter); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to record trace: %v", err), nil)
	}

	state := map[string]any(s.State())
	stateJSON, err := ir.MarshalCanonical(state)
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeDispatch, fmt.Sprintf("state is not serializable: %v", err), nil)
	}
	result.State = stateJSON
	result.StateDigest, err = ir.StateDigest(state)
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeDispatch, fmt.Sprintf("state is not serializable: %v", err), nil)
	}

	if formatter.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if failed != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: failureCode(failed.Status), Message: failureMessage(failed)}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, r := range result.Dispatches {
			if r.Status == StatusCompleted {
				fmt.Fprintf(w, "✓ %s (seq %d, %s)\n", r.Action, r.Seq, r.ID)
				continue
			}
			fmt.Fprintf(w, "✗ %s\n", failureMessage(&r))
		}
		fmt.Fprintln(w, string(stateJSON))
	}

	if failed != nil {
		return NewExitError(ExitFailure, failureMessage(failed))
	}
	return nil
}

// dispatchOne dispatches a single step and waits for it to finish.
func dispatchOne(ctx context.Context, s *fluxtor.Store, step actionStep, timeout time.Duration) DispatchRecord {
	p, err := s.DispatchContext(ctx, step.Action, step.Args...)
	if err != nil {
		r := DispatchRecord{Action: step.Action, Status: StatusFailed, Error: err.Error()}
		if fluxtor.IsUnknownAction(err) {
			r.Status = StatusRejected
		}
		if p != nil {
			r.ID, r.Seq = p.ID, p.Seq
		}
		return r
	}

	r := DispatchRecord{ID: p.ID, Action: p.Action, Seq: p.Seq}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Wait(waitCtx); err != nil {
		if !p.Completed() {
			r.Status = StatusStalled
			r.Error = fmt.Sprintf("not completed after %s", timeout)
			return r
		}
		r.Status = StatusFailed
		r.Error = err.Error()
		return r
	}

	r.Status = StatusCompleted
	return r
}

// parseActionArgs parses ACTION[=JSONARGS] arguments.
func parseActionArgs(args []string) ([]actionStep, error) {
	steps := make([]actionStep, 0, len(args))
	for _, arg := range args {
		name, raw, hasArgs := strings.Cut(arg, "=")
		if name == "" {
			return nil, fmt.Errorf("invalid action %q: name is empty", arg)
		}
		step := actionStep{Action: name}
		if hasArgs {
			v, err := decodeJSONArg(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			if list, ok := v.([]any); ok {
				step.Args = list
			} else {
				step.Args = []any{v}
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// decodeJSONArg decodes one JSON value. Integral numbers become int so
// they add up like the integers declared in CUE state.
func decodeJSONArg(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	default:
		return v
	}
}

func closeRecorder(rec *recorder.Recorder, formatter *OutputFormatter) error {
	if rec == nil {
		return nil
	}
	if err := rec.Close(); err != nil {
		formatter.VerboseLog("Closing trace database: %v", err)
		return err
	}
	return nil
}

func failureCode(status string) string {
	if status == StatusStalled {
		return ErrCodeStalled
	}
	return ErrCodeDispatch
}

func failureMessage(r *DispatchRecord) string {
	return fmt.Sprintf("%s %s: %s", r.Action, r.Status, r.Error)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
