package commands

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewEvaluateCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [query] [value]",
		Short: "Feed a value to every rule watching a metric",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value '%s': %w", args[1], err)
			}

			states, err := newClient().Evaluate(cmd.Context(), args[0], value)
			if err != nil {
				return fmt.Errorf("failed to evaluate: %w", err)
			}
			if len(states) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No rules watch %s\n", args[0])
				return nil
			}

			names := make([]string, 0, len(states))
			for name := range states {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "RULE\tSTATUS\tVALUE\tFIRE COUNT")
			for _, name := range names {
				s := states[name]
				fmt.Fprintf(w, "%s\t%s\t%g\t%d\n", name, s.Status, s.CurrentValue, s.FireCount)
			}
			return w.Flush()
		},
	}
}
