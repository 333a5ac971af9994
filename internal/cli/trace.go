package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	StoreOptions
	Resource string // follow one resource's parent chain
	Task     string
	Kind     string
}

// TraceEntry is one record in the timeline.
type TraceEntry struct {
	Seq       int64           `json:"seq"`
	Hash      string          `json:"hash"`
	Kind      string          `json:"kind"`
	Task      string          `json:"task"`
	Depth     int             `json:"depth"`
	Resources []string        `json:"resources"`
	Payload   json.RawMessage `json:"payload"`
	Outcome   json.RawMessage `json:"outcome"`
	Status    string          `json:"status"`
	// Parent is the previous record on the traced resource, set only
	// with --resource.
	Parent string `json:"parent,omitempty"`
}

// TraceStats summarises a timeline.
type TraceStats struct {
	Records  int            `json:"records"`
	Failures int            `json:"failures"`
	Nested   int            `json:"nested"`
	ByKind   map[string]int `json:"by_kind"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Resource string       `json:"resource,omitempty"`
	Head     string       `json:"head,omitempty"`
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the record timeline",
		Long: `Print execution records in sequence order.

With --resource, follows that resource's parent chain back from its head
instead of scanning the whole log.

Examples:
  effectctl trace --db ./effects.db
  effectctl trace --db ./effects.db --resource acct-1
  effectctl trace --db ./effects.db --task worker-3 --kind Transfer -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Resource, "resource", "", "follow one resource's chain")
	cmd.Flags().StringVar(&opts.Task, "task", "", "only records from this task")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only records of this effect kind")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if opts.Kind != "" {
		if _, err := effect.ParseKind(opts.Kind); err != nil {
			return WrapExitError(ExitCommandError, "invalid --kind", err)
		}
	}

	st, err := opts.open(ctx, opts.config())
	if err != nil {
		return err
	}
	defer st.Close()

	result := TraceResult{Resource: opts.Resource}
	var records []execlog.Record
	if opts.Resource != "" {
		r := effect.ResourceID(opts.Resource)
		heads, err := execlog.Heads(ctx, st)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to scan store", err)
		}
		head, ok := heads[r]
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("no records touch resource %q", opts.Resource))
		}
		result.Head = head
		if records, err = execlog.Chain(ctx, st, head, r); err != nil {
			return WrapExitError(ExitFailure, "broken chain", err)
		}
	} else if records, err = execlog.All(ctx, st); err != nil {
		return WrapExitError(ExitCommandError, "failed to scan store", err)
	}

	result.Timeline, err = buildTimeline(records, opts)
	if err != nil {
		return err
	}
	result.Stats = traceStats(result.Timeline)

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

func buildTimeline(records []execlog.Record, opts *TraceOptions) ([]TraceEntry, error) {
	timeline := make([]TraceEntry, 0, len(records))
	for _, rec := range records {
		if opts.Task != "" && rec.Task != opts.Task {
			continue
		}
		if opts.Kind != "" && rec.Kind.String() != opts.Kind {
			continue
		}
		payload, err := ir.MarshalValue(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("record seq=%d payload: %w", rec.Seq, err)
		}
		outcome, err := ir.MarshalValue(rec.Outcome.Object())
		if err != nil {
			return nil, fmt.Errorf("record seq=%d outcome: %w", rec.Seq, err)
		}
		entry := TraceEntry{
			Seq:       rec.Seq,
			Hash:      rec.Hash,
			Kind:      rec.Kind.String(),
			Task:      rec.Task,
			Depth:     rec.Depth,
			Resources: resourceNames(rec.Resources),
			Payload:   payload,
			Outcome:   outcome,
			Status:    outcomeStatus(rec.Outcome),
		}
		if opts.Resource != "" {
			entry.Parent = rec.Parent(effect.ResourceID(opts.Resource))
		}
		timeline = append(timeline, entry)
	}
	return timeline, nil
}

func traceStats(timeline []TraceEntry) TraceStats {
	stats := TraceStats{Records: len(timeline), ByKind: make(map[string]int)}
	for _, e := range timeline {
		stats.ByKind[e.Kind]++
		if e.Status != "success" {
			stats.Failures++
		}
		if e.Depth > 0 {
			stats.Nested++
		}
	}
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	if result.Resource != "" {
		fmt.Fprintf(w, "Trace for resource: %s (head %s)\n", result.Resource, truncateHash(result.Head))
	} else {
		fmt.Fprintln(w, "Trace for all resources")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no records)")
	}
	for _, e := range result.Timeline {
		indent := strings.Repeat("  ", e.Depth)
		fmt.Fprintf(w, "  [%d] %s%s %s task=%s -> %s\n",
			e.Seq, indent, e.Kind, strings.Join(e.Resources, ","), e.Task, e.Status)
		if verbose {
			fmt.Fprintf(w, "       %sPayload: %s\n", indent, e.Payload)
			fmt.Fprintf(w, "       %sOutcome: %s\n", indent, e.Outcome)
			fmt.Fprintf(w, "       %sHash: %s\n", indent, truncateHash(e.Hash))
			if e.Parent != "" {
				fmt.Fprintf(w, "       %sParent: %s\n", indent, truncateHash(e.Parent))
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Records:  %d\n", result.Stats.Records)
	fmt.Fprintf(w, "  Failures: %d\n", result.Stats.Failures)
	fmt.Fprintf(w, "  Nested:   %d\n", result.Stats.Nested)
	for _, k := range slices.Sorted(maps.Keys(result.Stats.ByKind)) {
		fmt.Fprintf(w, "  %-9s %d\n", k+":", result.Stats.ByKind[k])
	}
}

func resourceNames(rs []effect.ResourceID) []string {
	rs = effect.Dedup(rs)
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// outcomeStatus is "success", the failure kind, or "rejected:" and the kind
// for a refused nested effect.
func outcomeStatus(o effect.Outcome) string {
	if o.IsSuccess() {
		return "success"
	}
	if o.Status() == effect.StatusRejected {
		return "rejected:" + string(o.Kind())
	}
	if k := o.Kind(); k != "" {
		return string(k)
	}
	return string(o.Status())
}

// truncateHash shortens a hash for display.
func truncateHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:8] + "..." + h[len(h)-8:]
}
