package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rayscan/internal/logger"
)

var cfgFile string
var verbose bool
var logFile string

var rootCmd = &cobra.Command{
	Use:   "rayscan <file|url>",
	Short: "Find which proxies in a subscription actually reach the internet",
	Long: `Reads a proxies document from a file or subscription URL, derives the
address variants worth trying, loads all of them into one xray process and
probes every local inbound for its exit IP. Live proxies are published.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(verbose, logFile)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context(), args[0])
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Sync()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stdout (overwrites file)")
}
