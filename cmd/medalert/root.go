// medalert is the MedAlert risk-escalation service and its operator CLI.
//
// Usage:
//
//	medalert serve      [--config=<path>]
//	medalert analyze    [--config=<path>] [--dry-run] <transcript...>
//	medalert rules      [--config=<path>] [--path=<rules file>] [--strict]
//	medalert test-call  [--config=<path>] [--reason=<reason>] [--symptom=<s>...]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/triage-ai/medalert/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "medalert",
	Short: "Keyword-driven medical risk advice with autonomous emergency escalation",
	Long: "MedAlert matches patient transcripts against clinical keyword rules, keeps a\n" +
		"rolling history of advice, and places an emergency call to the on-duty doctor\n" +
		"when a high-risk case clears the confidence threshold.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", config.Path(), "Path to YAML config file (optional)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(testCallCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
