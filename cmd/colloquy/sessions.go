package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/colloquy"
	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/recorder"
	"github.com/hupe1980/colloquy/session"
)

func newSessionsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored sessions, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, cleanup, err := g.newManager(cmd.Context())
				if err != nil {
					return err
				}
				defer cleanup()

				list, err := colloquy.DataAs[[]core.SnapshotSummary](m.Sessions(cmd.Context()))
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				printf(tw, "ID\tNAME\tTYPE\tAGENTS\tEXCHANGES\tCREATED\n")
				for _, s := range list {
					printf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", s.ID, s.Name, s.Type, s.Agents, s.Exchanges, s.CreatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "export <session-id> <file>",
			Short: "Write a stored session to a JSON file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, cleanup, err := g.newManager(cmd.Context())
				if err != nil {
					return err
				}
				defer cleanup()

				snap, err := colloquy.DataAs[*core.Snapshot](m.LoadSession(cmd.Context(), args[0]))
				if err != nil {
					return err
				}
				data, err := recorder.EncodeSnapshot(snap)
				if err != nil {
					return err
				}
				return session.WriteSnapshotFile(args[1], data)
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Store a session from a JSON snapshot file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, cleanup, err := g.newManager(cmd.Context())
				if err != nil {
					return err
				}
				defer cleanup()

				snap, err := session.ReadSnapshotFile(args[0])
				if err != nil {
					return err
				}
				sum, err := colloquy.DataAs[core.SnapshotSummary](m.Import(cmd.Context(), snap))
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "imported %s (%d exchanges)\n", sum.ID, sum.Exchanges)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a stored session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, cleanup, err := g.newManager(cmd.Context())
				if err != nil {
					return err
				}
				defer cleanup()

				if err := m.DeleteSession(cmd.Context(), args[0]).Err(); err != nil {
					return fmt.Errorf("delete %s: %w", args[0], err)
				}
				return nil
			},
		},
	)
	return cmd
}
