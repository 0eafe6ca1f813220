package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func safetyNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "safety-number <peer>",
		Short: "Print the safety number to compare with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			sn, err := device.SafetyNumber(peer)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sn)
			return nil
		},
	}
}

// verify <peer> <digits...>: the number may be split across arguments.
func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <peer> <safety number>",
		Short: "Check the safety number read out by a peer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			if err := device.Verify(peer, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Safety number for %s matches.\n", peer)
			return nil
		},
	}
}
