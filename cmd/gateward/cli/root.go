package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateward",
		Short: "Access registry and quota gatekeeper for cloud storage gateways",
		Long: `Gateward tracks who may use a storage gateway, at what role, and how much.

It keeps the whitelist, blacklist, admin set, and pending access requests in
one registry, enforces per-user daily quotas, expires time-limited access in
the background, and records every decision in an append-only audit ledger.
Collaborating services (bots, dashboards) talk to it over a small REST API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gateward.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for SQLite storage (default: ~/.gateward)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newAccessCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("gateward")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.gateward")
	}

	viper.SetEnvPrefix("GATEWARD")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
