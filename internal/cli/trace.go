package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fluxtor/internal/recorder"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Action   string // optional - filter to specific action
	Status   string // optional - filter to a dispatch status
	Dispatch string // optional - show one dispatch with its events
	Limit    int
}

// TraceResult holds the trace listing output.
type TraceResult struct {
	Dispatches []recorder.Dispatch `json:"dispatches"`
	Rejected   []recorder.Event    `json:"rejected,omitempty"`
	Stats      TraceStats          `json:"stats"`
}

// TraceStats holds summary statistics for a listing.
type TraceStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Rejected  int `json:"rejected"`
}

// DispatchDetail holds one dispatch with its event timeline.
type DispatchDetail struct {
	Dispatch recorder.Dispatch `json:"dispatch"`
	Events   []recorder.Event  `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect a recorded trace database",
		Long: `List the dispatches recorded by "fluxtor dispatch --db", or show a
single dispatch with its full event timeline.

Dispatches are listed in sequence order. Pending dispatches never
completed (a middleware did not forward them). Rejected dispatches named
an unknown action and have no id.

Examples:
  fluxtor trace --db trace.db
  fluxtor trace --db trace.db --action increment --status failed
  fluxtor trace --db trace.db --dispatch 0192f1c2-...
  fluxtor trace --db trace.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to trace database (default from config)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only dispatches of this action")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only dispatches with this status (pending|completed|failed)")
	cmd.Flags().StringVar(&opts.Dispatch, "dispatch", "", "show one dispatch and its events")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of dispatches (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	dbPath := firstNonEmpty(opts.Database, opts.loadedConfig().Trace.Database)

	if dbPath == "" {
		return formatter.fail(ExitCommandError, ErrCodeUsage, "--db is required (or set trace.database in fluxtor.toml)", nil)
	}
	switch opts.Status {
	case "", recorder.StatusPending, recorder.StatusCompleted, recorder.StatusFailed:
	default:
		return formatter.fail(ExitCommandError, ErrCodeUsage, fmt.Sprintf("invalid --status %q", opts.Status), nil)
	}

	// Opening would create an empty database
	if _, err := os.Stat(dbPath); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("database not found: %s", dbPath), nil)
	}

	rec, err := recorder.Open(dbPath, recorder.WithLogger(opts.logger(cmd.ErrOrStderr())))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	defer rec.Close()

	if opts.Dispatch != "" {
		return showDispatch(opts, rec, formatter, cmd)
	}
	return listDispatches(opts, rec, formatter, cmd)
}

func showDispatch(opts *TraceOptions, rec *recorder.Recorder, formatter *OutputFormatter, cmd *cobra.Command) error {
	ctx := cmd.Context()

	d, err := rec.ReadDispatch(ctx, opts.Dispatch)
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.fail(ExitFailure, ErrCodeDispatch, fmt.Sprintf("dispatch %q not found", opts.Dispatch), nil)
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to read dispatch: %v", err), nil)
	}

	events, err := rec.ReadEvents(ctx, d.ID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to read events: %v", err), nil)
	}

	if formatter.IsJSON() {
		return formatter.Success(DispatchDetail{Dispatch: d, Events: events})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Dispatch %s\n", d.ID)
	fmt.Fprintf(w, "  action: %s\n", d.Action)
	fmt.Fprintf(w, "  seq:    %d\n", d.Seq)
	fmt.Fprintf(w, "  status: %s\n", d.Status)
	fmt.Fprintf(w, "  args:   %s\n", string(d.Args))
	if len(d.Payload) > 0 {
		fmt.Fprintf(w, "  payload: %s\n", string(d.Payload))
	}
	if d.Error != "" {
		fmt.Fprintf(w, "  error:  %s (stage %s)\n", d.Error, d.Stage)
	}
	if d.StateDigest != "" {
		fmt.Fprintf(w, "  state:  %s\n", d.StateDigest)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Events:")
	for _, e := range events {
		fmt.Fprintf(w, "  [%d] %s %s\n", e.ID, e.Type, string(e.Data))
	}
	return nil
}

func listDispatches(opts *TraceOptions, rec *recorder.Recorder, formatter *OutputFormatter, cmd *cobra.Command) error {
	ctx := cmd.Context()

	dispatches, err := rec.ReadDispatches(ctx, recorder.Filter{
		Action: opts.Action,
		Status: opts.Status,
		Limit:  opts.Limit,
	})
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to read dispatches: %v", err), nil)
	}

	var rejected []recorder.Event
	if opts.Status == "" {
		all, err := rec.ReadRejected(ctx)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to read rejected dispatches: %v", err), nil)
		}
		for _, e := range all {
			if opts.Action == "" || e.Action == opts.Action {
				rejected = append(rejected, e)
			}
		}
	}

	result := TraceResult{Dispatches: dispatches, Rejected: rejected}
	result.Stats = computeTraceStats(dispatches, rejected)

	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if len(dispatches) == 0 && len(rejected) == 0 {
		fmt.Fprintln(w, "No dispatches recorded.")
		return nil
	}
	for _, d := range dispatches {
		line := fmt.Sprintf("%6d  %-10s %s  %s", d.Seq, d.Status, d.ID, d.Action)
		if d.Error != "" {
			line += fmt.Sprintf("  (%s: %s)", d.Stage, d.Error)
		}
		fmt.Fprintln(w, line)
	}
	for _, e := range rejected {
		fmt.Fprintf(w, "%6s  %-10s %s\n", "-", "rejected", e.Action)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d dispatch(es): %d completed, %d failed, %d pending, %d rejected\n",
		result.Stats.Total, result.Stats.Completed, result.Stats.Failed, result.Stats.Pending, result.Stats.Rejected)
	return nil
}

func computeTraceStats(dispatches []recorder.Dispatch, rejected []recorder.Event) TraceStats {
	stats := TraceStats{Total: len(dispatches) + len(rejected), Rejected: len(rejected)}
	for _, d := range dispatches {
		switch d.Status {
		case recorder.StatusCompleted:
			stats.Completed++
		case recorder.StatusFailed:
			stats.Failed++
		case recorder.StatusPending:
			stats.Pending++
		}
	}
	return stats
}
