package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "screenwise",
	Short: "ScreenWise - Screen time management core with negotiated overrides",
	Long: `ScreenWise tracks per-app screen time against daily limits, maintains a
behavioral trust score, and arbitrates limit override requests. Instead of a
flat allow/deny, overrides are negotiated: credible urgent requests are
granted, doubtful ones get a reduced counter-offer the user must accept.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/screenwise/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
