package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/execlog/boltstore"
	"github.com/roach88/effectcore/execlog/sqlitestore"
	"github.com/roach88/effectcore/executor"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/lock"
	"github.com/roach88/effectcore/state"
)

const initialYAML = "a: 100\nb: 0\n"

// ledgerEffects is a short history over a and b: deposit, transfer and a
// withdraw that fails for lack of funds.
func ledgerEffects(t *testing.T) []effect.Effect {
	t.Helper()
	d, err := effect.NewDeposit("a", 50)
	require.NoError(t, err)
	tr, err := effect.NewTransfer("a", "b", 70)
	require.NoError(t, err)
	w, err := effect.NewWithdraw("b", 500)
	require.NoError(t, err)
	return []effect.Effect{d, tr, w}
}

// writeLog executes effects against a=100, b=0 with the ledger handler and
// persists the records to store.
func writeLog(t *testing.T, store execlog.Store, effects []effect.Effect) {
	t.Helper()
	writeLogWith(t, store, handler.Ledger(), effects)
}

func writeLogWith(t *testing.T, store execlog.Store, h handler.Handler, effects []effect.Effect) {
	t.Helper()
	ctx := context.Background()
	st, err := state.FromValues(map[effect.ResourceID]ir.Value{"a": ir.Int(100), "b": ir.Int(0)})
	require.NoError(t, err)
	log, err := execlog.Open(ctx, store)
	require.NoError(t, err)
	x, err := executor.New(lock.New(), h, log, executor.WithState(st))
	require.NoError(t, err)

	for i, e := range effects {
		_, err := x.Execute(ctx, lock.TaskID("task-1"), e, effect.NewCapabilitySet(e.RequiredCapabilities()...))
		require.NoError(t, err, "effect %d", i)
	}
}

func sqliteLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "effects.db")
	store, err := sqlitestore.Open(path)
	require.NoError(t, err)
	writeLog(t, store, ledgerEffects(t))
	require.NoError(t, store.Close())
	return path
}

func boltLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "effects.bolt")
	store, err := boltstore.Open(context.Background(), path, 0o600)
	require.NoError(t, err)
	writeLog(t, store, ledgerEffects(t))
	require.NoError(t, store.Close())
	return path
}

// tamperedLog copies a clean log into a new sqlite file with the outcome
// of record seq replaced but its hash left alone.
func tamperedLog(t *testing.T, seq int64) string {
	t.Helper()
	ctx := context.Background()
	clean := execlog.NewMemoryStore()
	writeLog(t, clean, ledgerEffects(t))
	records, err := execlog.All(ctx, clean)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tampered.db")
	store, err := sqlitestore.Open(path)
	require.NoError(t, err)
	defer store.Close()
	for _, rec := range records {
		if rec.Seq == seq {
			rec.Outcome = effect.Success(ir.Int(1_000_000))
		}
		require.NoError(t, store.Append(ctx, rec))
	}
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
