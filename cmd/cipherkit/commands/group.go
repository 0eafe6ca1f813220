package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cipherkit/internal/domain"
)

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups and exchange group messages",
	}
	cmd.AddCommand(
		groupCreateCmd(),
		groupEditCmd("add", "Add a member; starts a new epoch", addMember),
		groupEditCmd("remove", "Remove a member; rotates every sender key", removeMember),
		groupSendCmd(),
		groupRecvCmd(),
		groupMissingCmd(),
	)
	return cmd
}

func parsePeers(args []string) ([]domain.Address, error) {
	out := make([]domain.Address, 0, len(args))
	for _, a := range args {
		addr, err := parsePeer(a)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func printGroup(cmd *cobra.Command, g domain.Group) {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.String()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s epoch %d: %s\n", g.ID, g.Epoch, strings.Join(names, ", "))
}

func groupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <group> <member>...",
		Short: "Create a group with the given members",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := parsePeers(args[1:])
			if err != nil {
				return err
			}
			g, err := device.Groups.CreateGroup(domain.GroupID(args[0]), members)
			if err != nil {
				return err
			}
			printGroup(cmd, g)
			return nil
		},
	}
}

func addMember(id domain.GroupID, m domain.Address) (domain.Group, error) {
	return device.Groups.AddMember(id, m)
}

func removeMember(id domain.GroupID, m domain.Address) (domain.Group, error) {
	return device.Groups.RemoveMember(id, m)
}

func groupEditCmd(
	use, short string,
	edit func(domain.GroupID, domain.Address) (domain.Group, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <group> <member>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parsePeer(args[1])
			if err != nil {
				return err
			}
			g, err := edit(domain.GroupID(args[0]), m)
			if err != nil {
				return err
			}
			printGroup(cmd, g)
			return nil
		},
	}
}

func groupSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <group> <message>",
		Short: "Encrypt once and send to every member",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := device.SendGroup(cmd.Context(), domain.GroupID(args[0]), []byte(strings.Join(args[1:], " ")))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s (epoch %d, step %d)\n", env.ID, env.Epoch, env.Step)
			return nil
		},
	}
}

func groupRecvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt queued group messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := device.ReceiveGroup(cmd.Context(), limit)
			printMessages(cmd.OutOrStdout(), msgs)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum envelopes, 0 for all")
	return cmd
}

func groupMissingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "missing <group>",
		Short: "List members that have not fetched our sender key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := device.PendingKeyDeliveries(cmd.Context(), domain.GroupID(args[0]))
			if err != nil {
				return err
			}
			for _, m := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}
