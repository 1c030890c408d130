package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pulsewatch/internal/models"
	"github.com/spf13/cobra"
)

func NewAlertCommand(newClient ClientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert management commands",
		Aliases: []string{"alerts", "a"},
	}

	cmd.AddCommand(newAlertListCommand(newClient))
	cmd.AddCommand(newAlertHistoryCommand(newClient))
	cmd.AddCommand(newAlertStatsCommand(newClient))
	cmd.AddCommand(newAlertSuppressCommand(newClient))
	return cmd
}

func newAlertListCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List firing alerts",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, err := newClient().ActiveAlerts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}
			return printAlerts(cmd, alerts)
		},
	}
}

func newAlertHistoryCommand(newClient ClientFactory) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent alerts, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, err := newClient().AlertHistory(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to get alert history: %w", err)
			}
			return printAlerts(cmd, alerts)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of alerts to show (0 for all)")
	return cmd
}

func printAlerts(cmd *cobra.Command, alerts []models.Alert) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tRULE\tSEVERITY\tSTATUS\tVALUE\tSTARTED\tENDED")
	for _, a := range alerts {
		ended := "-"
		if a.EndsAt != nil {
			ended = a.EndsAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.Name,
			a.Severity,
			a.Status,
			a.Annotations["current_value"],
			a.StartsAt.Format(time.RFC3339),
			ended,
		)
	}
	return w.Flush()
}

func newAlertStatsCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show alert statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().AlertStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get alert stats: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintf(w, "Rules:\t%d\n", s.TotalRules)
			fmt.Fprintf(w, "Active:\t%d\n", s.ActiveAlerts)
			fmt.Fprintf(w, "Fired:\t%d\n", s.TotalFired)
			fmt.Fprintf(w, "Resolved:\t%d\n", s.TotalResolved)
			fmt.Fprintf(w, "Avg resolution:\t%s\n", s.AverageResolutionTime)
			return w.Flush()
		},
	}
}

func newAlertSuppressCommand(newClient ClientFactory) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "suppress [rule_name]",
		Short: "Silence a rule for a while",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration <= 0 {
				return fmt.Errorf("duration must be positive")
			}
			if err := newClient().SuppressAlert(cmd.Context(), args[0], duration); err != nil {
				return fmt.Errorf("failed to suppress alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %s suppressed for %s\n", args[0], duration)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", time.Hour, "How long to suppress the rule")
	return cmd
}
