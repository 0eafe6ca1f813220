package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity and prekeys, publishing them when a directory is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := device.Init(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created for %s.\nFingerprint: %s\n", device.Self, fp)
			if device.Directory == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No directory configured; run register once online.")
			}
			return nil
		},
	}
}
