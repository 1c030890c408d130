package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/models"
	"github.com/spf13/cobra"
)

func NewRuleCommand(newClient ClientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rule",
		Short:   "Alert rule management commands",
		Aliases: []string{"rules", "r"},
	}

	cmd.AddCommand(newRuleListCommand(newClient))
	cmd.AddCommand(newRuleAddCommand(newClient))
	cmd.AddCommand(newRuleRemoveCommand(newClient))
	cmd.AddCommand(newRuleImportCommand(newClient))
	cmd.AddCommand(newRuleExportCommand(newClient))
	return cmd
}

func newRuleListCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List alert rules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := newClient().Rules(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tQUERY\tCONDITION\tFOR\tSEVERITY\tSUMMARY")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s %g\t%s\t%s\t%s\n",
					r.Name, r.Query, r.Condition, r.Threshold, durationOrDash(r.Duration), r.Severity, r.Annotations.Summary)
			}
			return w.Flush()
		},
	}
}

func newRuleAddCommand(newClient ClientFactory) *cobra.Command {
	var (
		rule      models.AlertRule
		condition string
		severity  string
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create or replace an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule.Name = args[0]
			rule.Condition = models.Condition(condition)
			rule.Severity = models.Severity(severity)
			if err := rule.Validate(); err != nil {
				return err
			}
			if err := newClient().AddRule(cmd.Context(), rule); err != nil {
				return fmt.Errorf("failed to add rule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %s saved\n", rule.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&rule.Query, "query", "q", "", "Metric name the rule watches")
	cmd.Flags().StringVar(&condition, "condition", ">", "Comparison: >, <, >=, <=, ==, !=")
	cmd.Flags().Float64VarP(&rule.Threshold, "threshold", "t", 0, "Threshold value")
	cmd.Flags().DurationVar(&rule.Duration, "for", 0, "How long the condition must hold before firing")
	cmd.Flags().StringVarP(&severity, "severity", "s", string(models.SeverityMedium), "low, medium, high or critical")
	cmd.Flags().StringVar(&rule.Annotations.Summary, "summary", "", "Short summary for notifications")
	cmd.Flags().StringVar(&rule.Annotations.Description, "description", "", "Longer description for notifications")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newRuleRemoveCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:     "remove [name]",
		Short:   "Delete an alert rule",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().RemoveRule(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to remove rule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %s removed\n", args[0])
			return nil
		},
	}
}

func newRuleImportCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Add every rule from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := alert.LoadRulesFile(args[0])
			if err != nil {
				return err
			}
			c := newClient()
			for _, r := range rules {
				if err := c.AddRule(cmd.Context(), r); err != nil {
					return fmt.Errorf("failed to import rule '%s': %w", r.Name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully imported %d rules\n", len(rules))
			return nil
		},
	}
}

func newRuleExportCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every rule to a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := newClient().Rules(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			if err := alert.ExportRulesFile(args[0], rules); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rules to %s\n", len(rules), args[0])
			return nil
		},
	}
}

// durationOrDash renders zero durations as "-" in tables.
func durationOrDash(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
