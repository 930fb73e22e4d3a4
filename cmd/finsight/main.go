// Finsight is an AI chat assistant for financial and business data.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "AI chat assistant for financial and business data",
	Long: `Finsight is an AI chat assistant for financial and business reporting.
It answers natural-language questions about revenue, expenses, and financial
statements by calling permission-gated data tools, with a full audit trail of
every query and tool invocation.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, queryCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
