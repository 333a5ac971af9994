package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/effectcore/execlog"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	StoreOptions
}

// VerifyResult is the verify command's payload.
type VerifyResult struct {
	Records int    `json:"records"`
	Valid   bool   `json:"valid"`
	Seq     int64  `json:"seq,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check record hashes and parent links",
		Long: `Recompute every record's content hash and walk each resource's
parent chain in sequence order.

Exit codes:
  0 - Every record checks out
  1 - A record was altered or a chain is broken
  2 - Command error (store not found, etc.)

Examples:
  effectctl verify --db ./effects.db
  effectctl verify --db ./effects.bolt --store bolt --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	st, err := opts.open(ctx, opts.config())
	if err != nil {
		return err
	}
	defer st.Close()

	n, verr := execlog.Verify(ctx, st)
	result := VerifyResult{Records: n, Valid: verr == nil}
	var ie *execlog.IntegrityError
	switch {
	case verr == nil:
	case errors.As(verr, &ie):
		result.Seq, result.Hash, result.Reason = ie.Seq, ie.Hash, ie.Reason
	default:
		return WrapExitError(ExitCommandError, "failed to read store", verr)
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: CodeIntegrity, Message: verr.Error()}
		}
		if err := writeJSON(w, resp); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Fprintf(w, "✓ %d records verified\n", n)
	} else {
		fmt.Fprintf(w, "✗ %d records verified before failure\n", n)
		fmt.Fprintf(w, "  seq=%d hash=%s\n", ie.Seq, truncateHash(ie.Hash))
		fmt.Fprintf(w, "  %s\n", ie.Reason)
	}

	if !result.Valid {
		return WrapExitError(ExitFailure, "log verification failed", verr)
	}
	return nil
}
