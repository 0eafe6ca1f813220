package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cipherkit/internal/app"
)

// start-session <peer>: run X3DH against the peer's published bundle.
func startSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <peer>",
		Short: "Fetch a peer's bundle and establish a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if device.Directory == nil {
				return app.ErrOffline
			}
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			sess, err := device.Sessions.InitSession(cmd.Context(), peer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session with %s (%s).\n", peer, sess.Phase)
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <peer>",
		Short: "Forget the session with a peer; the next send starts a new handshake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			if err := device.Sessions.Reset(peer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session with %s reset.\n", peer)
			return nil
		},
	}
}
