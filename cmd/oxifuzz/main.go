package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // Will be set by build flags

	// exitCode is the folded verdict of the last run command.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "oxifuzz",
	Short: "Template-based payload fuzzer",
	Long: `Oxifuzz replaces a target marker in a template with randomly selected
words, executes each resulting payload through a configurable runner
(subprocess, HTTP request, JWT encoder or plain output), and classifies
every result against a list of expectations.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./oxifuzz.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
}

// Commands are defined in separate files:
// - runCmd in run.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
