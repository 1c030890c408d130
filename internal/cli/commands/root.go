// Package commands holds the cobra commands of the pulsewatch binary.
package commands

import (
	"github.com/pulsewatch/internal/api/client"
	"github.com/spf13/cobra"
)

// ClientFactory returns an API client for the current invocation.
type ClientFactory func() *client.Client

// NewRootCommand assembles the CLI. version is printed by --version.
func NewRootCommand(version string) *cobra.Command {
	var apiURL string

	root := &cobra.Command{
		Use:   "pulsewatch",
		Short: "PulseWatch - system health monitoring with anomaly detection and alerting",
		Long: `PulseWatch watches host health, learns the normal behaviour of every
metric and alerts through console, webhook, Slack or email channels.

Run "pulsewatch serve" to start the service; every other command talks to a
running instance over its REST API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "PulseWatch API address (default $PULSEWATCH_API_URL or "+client.DefaultURL+")")

	newClient := func() *client.Client { return client.NewClient(apiURL) }

	root.AddCommand(NewServeCommand(version))
	root.AddCommand(NewStatusCommand(newClient))
	root.AddCommand(NewAlertCommand(newClient))
	root.AddCommand(NewRuleCommand(newClient))
	root.AddCommand(NewModelCommand(newClient))
	root.AddCommand(NewEvaluateCommand(newClient))
	root.AddCommand(NewReportCommand(newClient))
	return root
}
