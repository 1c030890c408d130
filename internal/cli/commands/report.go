package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewReportCommand(newClient ClientFactory) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise alerts and health checks over a recent window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return fmt.Errorf("since must be positive")
			}
			end := time.Now()
			d, err := newClient().Report(cmd.Context(), end.Add(-since), end)
			if err != nil {
				return fmt.Errorf("failed to get report: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Report %s - %s\n\n", d.Start.Format(time.RFC3339), d.End.Format(time.RFC3339))

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintf(w, "Alerts:\t%d (critical %d, high %d, medium %d, low %d)\n",
				d.Alerts.Total, d.Alerts.Critical, d.Alerts.High, d.Alerts.Medium, d.Alerts.Low)
			fmt.Fprintf(w, "Resolved:\t%d\n", d.Alerts.Resolved)
			fmt.Fprintln(w)

			if len(d.Alerts.TopRules) > 0 {
				fmt.Fprintln(w, "RULE\tSEVERITY\tALERTS\tPEAK")
				for _, r := range d.Alerts.TopRules {
					fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\n", r.Rule, r.Severity, r.Count, r.Peak)
				}
				fmt.Fprintln(w)
			}

			fmt.Fprintln(w, "SERVICE\tCHECKS\tAVG\tMAX\tWARNING\tCRITICAL\tERRORS")
			for _, s := range d.Services {
				fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%d\t%d\t%d\n",
					s.Service, s.Checks, s.Average, s.Max, s.Warning, s.Critical, s.Errors)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Length of the window ending now")
	return cmd
}
