package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cipherkit/internal/domain"
)

// recv: fetch and decrypt queued messages, direct then group.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := device.Receive(cmd.Context(), limit)
			printMessages(cmd.OutOrStdout(), msgs)
			if err != nil {
				return err
			}
			return device.Maintain(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum envelopes per mailbox, 0 for all")
	return cmd
}

func printMessages(w io.Writer, msgs []domain.DecryptedMessage) {
	for _, m := range msgs {
		at := time.Unix(m.Timestamp, 0).Format(time.RFC3339)
		if m.Group != "" {
			fmt.Fprintf(w, "%s [%s] %s: %s\n", at, m.Group, m.From, m.Plaintext)
			continue
		}
		fmt.Fprintf(w, "%s %s: %s\n", at, m.From, m.Plaintext)
	}
}
