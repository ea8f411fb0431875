package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jensholdgaard/cloverville/internal/ledger"
)

// ledger returns a Manager over the source's Ledger, or an error when the
// driver cannot write.
func (a *app) ledger() (*ledger.Manager, error) {
	if a.repos.Ledger == nil {
		return nil, fmt.Errorf("source driver %q is read-only", a.cfg.Source.Driver)
	}
	return ledger.NewManager(a.repos.Ledger, a.repos.Events, a.logger, a.tel.TracerProvider, a.clock), nil
}

func newCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete an activity and move its points",
	}
	cmd.AddCommand(newCompleteTradeCmd(), newCompleteCommunalCmd())
	return cmd
}

func newCompleteTradeCmd() *cobra.Command {
	var receiver string
	cmd := &cobra.Command{
		Use:   "trade <offer-id>",
		Short: "Complete a trade offer",
		Long: `Completes a trade offer and removes it from the list. For a TRADE_TASK the
performer pays the receiver, who is credited with a completed task. For
TRADE_GOODS, and offers without a type, the receiver pays the performer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.ledger()
			if err != nil {
				return err
			}
			c, err := m.CompleteTrade(cmd.Context(), args[0], receiver)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d points from %s to %s\n", c.Title, c.Points, c.From, c.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "receiving member ID (defaults to the offer's receiver)")
	return cmd
}

func newCompleteCommunalCmd() *cobra.Command {
	var performer string
	cmd := &cobra.Command{
		Use:   "communal <task-id>",
		Short: "Complete a communal task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.ledger()
			if err != nil {
				return err
			}
			c, err := m.CompleteCommunal(cmd.Context(), args[0], performer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d points to %s\n", c.Title, c.Points, c.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&performer, "performer", "", "performing member ID (defaults to the task's performer)")
	return cmd
}

func newGreenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "green",
		Short: "Record green actions",
	}
	cmd.AddCommand(newGreenAddCmd(), newGreenResetCmd())
	return cmd
}

func newGreenAddCmd() *cobra.Command {
	var (
		title       string
		description string
		points      float64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a green action and add its points to the community pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.ledger()
			if err != nil {
				return err
			}
			action, settings, err := m.AddGreenAction(cmd.Context(), title, description, points)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s), community points now %v\n",
				action.Title, action.ID, settings.CommunityPoints)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "action title")
	cmd.Flags().StringVar(&description, "description", "", "action description")
	cmd.Flags().Float64Var(&points, "points", 0, "whole number of points")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newGreenResetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove green actions older than a week",
		Long: `Removes green actions recorded more than a week ago. Does nothing when the
last reset was less than a week ago, unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.ledger()
			if err != nil {
				return err
			}
			removed, ran, err := m.WeeklyGreenReset(cmd.Context(), force)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "reset not due")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d green actions\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reset even if the last reset was less than a week ago")
	return cmd
}
