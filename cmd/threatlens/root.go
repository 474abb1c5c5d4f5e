package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "threatlens",
		Short: "Multi-tenant threat event analytics",
		Long: `ThreatLens aggregates security threat events into summaries, timelines,
rankings, correlations and anomaly reports, scoped to the ASNs each tenant owns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./threatlens.yaml or /etc/threatlens/threatlens.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newOverviewCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}
