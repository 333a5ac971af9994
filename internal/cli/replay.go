package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/state"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	StoreOptions
	StateFile string // initial resource values; empty means no resources
}

// ReplayMismatch is one divergence between the log and the re-run.
type ReplayMismatch struct {
	Seq      int64  `json:"seq"`
	Hash     string `json:"hash"`
	Field    string `json:"field"`
	Resource string `json:"resource,omitempty"`
	Want     string `json:"want,omitempty"`
	Got      string `json:"got,omitempty"`
}

// ReplayResult holds the replay command's payload.
type ReplayResult struct {
	Checked       int                        `json:"checked"`
	Deterministic bool                       `json:"deterministic"`
	Mismatches    []ReplayMismatch           `json:"mismatches"`
	Final         map[string]json.RawMessage `json:"final"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run the log and check it reproduces",
		Long: `Re-run every logged effect against the initial state with the
built-in ledger and observer handlers, and compare each record's input
hashes and outcome with what the re-run produces.

Invoke records name functions that only exist inside the program that
wrote the log, so they are reported as mismatches here.

Exit codes:
  0 - Every record reproduced
  1 - Divergence detected
  2 - Command error (store or state file not found, etc.)

Examples:
  effectctl replay --db ./effects.db --state initial.yaml
  effectctl replay --db ./effects.db --state initial.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.StateFile, "state", "", "YAML file of initial resource values")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	initial, err := loadInitialState(opts.StateFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load initial state", err)
	}

	st, err := opts.open(ctx, opts.config())
	if err != nil {
		return err
	}
	defer st.Close()

	logger := opts.logger()
	defer func() { _ = logger.Sync() }()

	report, err := execlog.Replay(ctx, st, initial.Snapshot(), handler.Standard(nil),
		execlog.WithReplayLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "replay aborted", err)
	}

	result, err := replayResult(report)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Deterministic {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    CodeDeterminism,
				Message: fmt.Sprintf("%d mismatches", len(result.Mismatches)),
			}
		}
		if err := writeJSON(w, resp); err != nil {
			return err
		}
	} else {
		outputReplayText(w, result, opts.Verbose)
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay diverged from the log")
	}
	return nil
}

// loadInitialState reads a YAML mapping of resource id to value.
func loadInitialState(path string) (*state.Store, error) {
	if path == "" {
		return state.New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[effect.ResourceID]ir.Value, len(raw))
	for k, v := range raw {
		iv, err := ir.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		values[effect.ResourceID(k)] = iv
	}
	return state.FromValues(values)
}

func replayResult(report execlog.Report) (ReplayResult, error) {
	result := ReplayResult{
		Checked:       report.Checked,
		Deterministic: report.OK(),
		Mismatches:    make([]ReplayMismatch, 0, len(report.Mismatches)),
		Final:         make(map[string]json.RawMessage, len(report.Final)),
	}
	for _, m := range report.Mismatches {
		result.Mismatches = append(result.Mismatches, ReplayMismatch{
			Seq:      m.Seq,
			Hash:     m.Hash,
			Field:    m.Field,
			Resource: string(m.Resource),
			Want:     m.Want,
			Got:      m.Got,
		})
	}
	for r, v := range report.Final {
		data, err := ir.MarshalValue(v)
		if err != nil {
			return result, fmt.Errorf("final %s: %w", r, err)
		}
		result.Final[string(r)] = data
	}
	return result, nil
}

func outputReplayText(w io.Writer, result ReplayResult, verbose bool) {
	if result.Deterministic {
		fmt.Fprintf(w, "✓ %d records replayed deterministically\n", result.Checked)
	} else {
		fmt.Fprintf(w, "✗ %d records replayed, %d mismatches\n", result.Checked, len(result.Mismatches))
		for _, m := range result.Mismatches {
			line := fmt.Sprintf("  seq=%d %s", m.Seq, m.Field)
			if m.Resource != "" {
				line += " " + m.Resource
			}
			fmt.Fprintln(w, line)
			if verbose {
				fmt.Fprintf(w, "    want: %s\n", m.Want)
				fmt.Fprintf(w, "    got:  %s\n", m.Got)
			}
		}
	}
	if verbose {
		fmt.Fprintln(w, "Final state:")
		for _, k := range slices.Sorted(maps.Keys(result.Final)) {
			fmt.Fprintf(w, "  %s = %s\n", k, result.Final[k])
		}
	}
}
