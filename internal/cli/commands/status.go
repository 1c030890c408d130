package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewStatusCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status and current metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			ctx := cmd.Context()

			status, err := c.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			m, err := c.LatestMetrics(ctx)
			if err != nil {
				return fmt.Errorf("failed to get metrics: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintf(w, "Alert manager:\t%s\n", status.Alerts.Status)
			fmt.Fprintf(w, "Active alerts:\t%d\n", status.Stats.ActiveAlerts)
			fmt.Fprintf(w, "Alert rules:\t%d\n", status.Stats.TotalRules)
			fmt.Fprintf(w, "Anomaly models:\t%d (training: %t)\n", status.Anomaly.Models, status.Anomaly.Training)
			fmt.Fprintln(w)
			fmt.Fprintf(w, "CPU:\t%.1f%% (%d cores)\n", m.CPU.Usage, m.CPU.Cores)
			fmt.Fprintf(w, "Memory:\t%.1f%% of %s\n", m.Memory.UsedPercent(), formatBytes(m.Memory.Total))
			fmt.Fprintf(w, "Disk %s:\t%.1f%% of %s\n", m.Disk.Path, m.Disk.UsedPercent(), formatBytes(m.Disk.Total))
			fmt.Fprintf(w, "Network latency:\t%.1f ms\n", m.Network.Latency)
			for name, v := range m.Custom {
				fmt.Fprintf(w, "%s:\t%.2f\n", name, v)
			}
			fmt.Fprintf(w, "Sampled at:\t%s\n", m.Timestamp.Format(time.RFC3339))
			return w.Flush()
		},
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
