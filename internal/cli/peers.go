package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omniswarm/omniswarm/internal/node"
	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// PeerView is one peer row in the peers output.
type PeerView struct {
	NodeID   string `json:"node_id"`
	State    string `json:"state"`
	LastSeen int64  `json:"last_seen"`
}

// PeerList is the peers command's result payload.
type PeerList struct {
	Peers []PeerView `json:"peers"`
}

func (p PeerList) String() string {
	if len(p.Peers) == 0 {
		return "no peers"
	}
	out := ""
	for i, peer := range p.Peers {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%-8s %s", peer.State, peer.NodeID)
	}
	return out
}

// NewPeersCommand creates the peers command: stand up a swarm on the
// configured transport and print the resulting peer table.
func NewPeersCommand(rootOpts *RootOptions) *cobra.Command {
	var peerCount int

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Print the peer table",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{
				Format:    rootOpts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   rootOpts.Verbose,
			}

			cfg, err := node.LoadConfig(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			self, err := node.EphemeralIdentity()
			if err != nil {
				return WrapExitError(ExitFailure, "create identity", err)
			}
			metrics := telemetry.NewMetrics()

			table, _, cleanup, err := assembleSwarm(cmd.Context(), self, cfg, peerCount, nil, metrics)
			if err != nil {
				f.Error("E_PEERS", err.Error(), nil)
				return WrapExitError(ExitFailure, "assemble swarm", err)
			}
			defer cleanup()

			list := PeerList{}
			for _, info := range table.Snapshot() {
				list.Peers = append(list.Peers, PeerView{
					NodeID:   info.NodeID,
					State:    info.State.String(),
					LastSeen: info.LastSeen.UnixMilli(),
				})
			}
			return f.Success(list)
		},
	}

	cmd.Flags().IntVar(&peerCount, "nodes", 3, "number of simulated peer nodes (local transport only)")
	return cmd
}
