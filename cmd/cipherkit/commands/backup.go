package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cipherkit/internal/config"
	"cipherkit/internal/services/identity"
)

func backupCmd() *cobra.Command {
	var pass string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import the encrypted local state",
	}
	cmd.PersistentFlags().StringVar(&pass, "backup-pass", "", "passphrase for the backup file (default: store passphrase)")

	backupPass := func() (string, error) {
		if pass == "" {
			return v.GetString(config.PassphraseKey), nil
		}
		return pass, identity.CheckPassphrase(pass)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Write an encrypted backup of identity, prekeys, sessions and groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := backupPass()
			if err != nil {
				return err
			}
			if err := device.Store.ExportFile(args[0], p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s.\n", args[0])
			return nil
		},
	}, &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a backup into the local store, overwriting existing entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := backupPass()
			if err != nil {
				return err
			}
			if err := device.Store.ImportFile(args[0], p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup restored from %s.\n", args[0])
			return nil
		},
	})
	return cmd
}
