package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// register: publish the current bundle to the directory.
func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Publish your prekey bundle to the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := device.Register(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (signed prekey %d, %d one-time prekeys).\n",
				device.Self, b.SignedPreKey.ID, len(b.OneTimePreKeys))
			return nil
		},
	}
}

func rotateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the signed prekey when it is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rotated, err := device.Rotate(cmd.Context(), force)
			if err != nil {
				return err
			}
			if rotated {
				fmt.Fprintln(cmd.OutOrStdout(), "Signed prekey rotated.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Signed prekey is current.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rotate even if not due")
	return cmd
}
