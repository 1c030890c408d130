package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewModelCommand(newClient ClientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "model",
		Short:   "Anomaly model commands",
		Aliases: []string{"models", "m"},
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List trained anomaly models",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := newClient().Models(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list models: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "METRIC\tTYPE\tACCURACY\tLAST TRAINED")
			for _, m := range infos {
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\n",
					m.Metric, m.Type, m.Accuracy, m.LastTrained.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	var horizon int
	forecast := &cobra.Command{
		Use:   "forecast <metric>",
		Short: "Project a trained model forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if horizon < 0 {
				return fmt.Errorf("horizon must not be negative")
			}
			f, err := newClient().Forecast(cmd.Context(), args[0], horizon)
			if err != nil {
				return fmt.Errorf("failed to forecast %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Metric %s, trend %s (%+.3f per %s)\n", f.Metric, f.Direction, f.Slope, f.Step)
			fmt.Fprintf(out, "Peak %.2f at %s\n\n", f.Peak, f.PeakAt.Format(time.RFC3339))

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIME\tVALUE\tLOWER\tUPPER")
			for _, p := range f.Points {
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\n", p.Timestamp.Format(time.RFC3339), p.Value, p.Lower, p.Upper)
			}
			return w.Flush()
		},
	}
	forecast.Flags().IntVar(&horizon, "horizon", 0, "Number of model steps to project (default: server setting)")
	cmd.AddCommand(forecast)
	return cmd
}
