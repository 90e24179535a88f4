package cmd

import (
	"github.com/akemora/Granter-2.0-sub001/config"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const appName = "granter"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "granter matches public grants against user profiles, recommends them and sends alerts",
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		cfg = config.LoadConfig()

		logging := cfg.Unified().Logging
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logging.Level = "debug"
		}
		if text, _ := cmd.Flags().GetBool("text"); text {
			logging.Format = "text"
		}
		shared.ConfigureLogging(logging)
	},
	SilenceUsage: true,
}

// cfg is loaded once per invocation before the subcommand runs
var cfg *config.Config

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().Bool("text", false, "text format for logging instead of json")
}

func fatalOnError(err error, msg string) {
	if err != nil {
		logrus.WithError(err).Fatal(msg)
	}
}
