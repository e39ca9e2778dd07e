package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/omniswarm/omniswarm/internal/ledger"
	"github.com/omniswarm/omniswarm/internal/node"
	"github.com/omniswarm/omniswarm/internal/settlement"
)

// SnapshotView wraps a settlement snapshot for CLI output.
type SnapshotView struct {
	*settlement.Snapshot
}

func (v SnapshotView) String() string {
	out := fmt.Sprintf("snapshot %s\n", v.Hash)
	out += fmt.Sprintf("settlements: %d, total minted: %d\n", v.Settlements, v.TotalMinted)
	for _, b := range v.Balances {
		out += fmt.Sprintf("  %-60s %12d\n", b.Account, b.Balance)
	}
	out += fmt.Sprintf("receipts: %d", len(v.ReceiptIDs))
	return out
}

// NewSnapshotCommand creates the snapshot command: print the
// deterministic settlement snapshot of the ledger.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the deterministic settlement snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{
				Format:    rootOpts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   rootOpts.Verbose,
			}

			path := dbPath
			if path == "" {
				cfg, err := node.LoadConfig(rootOpts.Config)
				if err != nil {
					return WrapExitError(ExitCommandError, "load config", err)
				}
				path = filepath.Join(cfg.DataDir, "ledger.db")
			}
			if _, err := os.Stat(path); err != nil {
				f.Error("E_NO_LEDGER", fmt.Sprintf("ledger not found at %s", path), nil)
				return WrapExitError(ExitCommandError, "ledger not found", err)
			}

			store, err := ledger.Open(path)
			if err != nil {
				f.Error("E_LEDGER", err.Error(), nil)
				return WrapExitError(ExitCommandError, "open ledger", err)
			}
			defer store.Close()

			snap, err := settlement.TakeSnapshot(cmd.Context(), store)
			if err != nil {
				f.Error("E_SNAPSHOT", err.Error(), nil)
				return WrapExitError(ExitFailure, "take snapshot", err)
			}
			return f.Success(SnapshotView{snap})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the ledger database (default from config)")
	return cmd
}
