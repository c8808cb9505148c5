package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nocpilot",
	Short: "Alert analysis and remediation with human approval",
	Long: `nocpilot ingests alerts from monitoring systems, analyzes them against a
runbook knowledge base and executes remediation actions, asking operators for
approval whenever the policy does not allow an action to run on its own.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $NOCPILOT_CONFIG)")
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunbooksCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
}

func main() {
	// Load .env if present; real environment variables win
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
