package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/assessly/codermill/cmd/codermill/commands"
	"github.com/assessly/codermill/logger"
)

var rootCmd = &cobra.Command{
	Use:   "codermill",
	Short: "codermill - coding coordination for survey response data",
	Long: `codermill - coordination service for manual and automatic coding
of survey response data.

codermill distributes unique response cases fairly across human coders
(with double-coding quotas for inter-rater reliability) and runs
automatic batch coding of responses against their coding schemes.

Available commands:
  distribute - Preview or create distributed coding jobs
  coding     - Inspect coding jobs and record coding progress
  autocode   - Enqueue an automatic batch coding run
  jobs       - Inspect and control background jobs
  serve      - Start the background job worker
  db         - Manage the codermill database

Examples:
  codermill distribute --workspace 1 --coders 1,2 --vars UNIT:VAR --dry-run
  codermill coding ls --workspace 1
  codermill autocode --workspace 1 --groups groupA
  codermill jobs ls
  codermill serve --workers 2`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.DistributeCmd)
	rootCmd.AddCommand(commands.CodingCmd)
	rootCmd.AddCommand(commands.AutocodeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DbCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
