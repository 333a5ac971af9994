package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/internal/config"
)

// StoreOptions selects the record store a command reads. Unset fields
// fall back to the loaded config.
type StoreOptions struct {
	Database string
	Backend  string
}

func (s *StoreOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.Database, "db", "", "path to the record store")
	cmd.Flags().StringVar(&s.Backend, "store", "", "store backend (sqlite|bolt); default from config or sqlite")
}

// open resolves the store against cfg and opens it. Missing files are a
// command error: the read-only commands never create a store.
func (s *StoreOptions) open(ctx context.Context, cfg config.Config) (execlog.Store, error) {
	if s.Database != "" {
		cfg.Path = s.Database
	}
	if s.Backend != "" {
		cfg.Store = s.Backend
	}
	if cfg.Store == config.StoreMemory {
		cfg.Store = config.StoreSQLite
	}
	if cfg.Path == "" {
		return nil, NewExitError(ExitCommandError, "no store given: pass --db or set path in --config")
	}
	if cfg.Store != config.StoreSQLite && cfg.Store != config.StoreBolt {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown store %q: must be sqlite or bolt", cfg.Store))
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, WrapExitError(ExitCommandError, "store not found", err)
	}
	st, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}
