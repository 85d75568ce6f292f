package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the codermill database",
	Long: `db — Manage codermill database operations

Examples:
  codermill db migrate            # Apply pending schema migrations
  codermill db stats --workspace 1  # Show response and job counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Database schema is up to date")
		return nil
	},
}

var dbStatsWorkspaceFlag int64

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display response counts by status, coding job counts and background job counts for a workspace",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().Int64Var(&dbStatsWorkspaceFlag, "workspace", 1, "Workspace id")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	var persons, responses, codingJobs, backgroundJobs int
	if err := database.QueryRow(
		`SELECT COUNT(*) FROM persons WHERE workspace_id = ?`, dbStatsWorkspaceFlag).Scan(&persons); err != nil {
		return fmt.Errorf("failed to count persons: %w", err)
	}
	if err := database.QueryRow(
		`SELECT COUNT(*) FROM responses WHERE workspace_id = ?`, dbStatsWorkspaceFlag).Scan(&responses); err != nil {
		return fmt.Errorf("failed to count responses: %w", err)
	}
	if err := database.QueryRow(
		`SELECT COUNT(*) FROM coding_jobs WHERE workspace_id = ?`, dbStatsWorkspaceFlag).Scan(&codingJobs); err != nil {
		return fmt.Errorf("failed to count coding jobs: %w", err)
	}
	if err := database.QueryRow(
		`SELECT COUNT(*) FROM background_jobs`).Scan(&backgroundJobs); err != nil {
		return fmt.Errorf("failed to count background jobs: %w", err)
	}

	fmt.Printf("Workspace %d\n", dbStatsWorkspaceFlag)
	fmt.Printf("  Persons:         %d\n", persons)
	fmt.Printf("  Responses:       %d\n", responses)
	fmt.Printf("  Coding jobs:     %d\n", codingJobs)
	fmt.Printf("  Background jobs: %d (all workspaces)\n", backgroundJobs)

	rows, err := database.Query(
		`SELECT status, COUNT(*) FROM responses WHERE workspace_id = ? GROUP BY status ORDER BY status`,
		dbStatsWorkspaceFlag)
	if err != nil {
		return fmt.Errorf("failed to count responses by status: %w", err)
	}
	defer rows.Close()

	fmt.Println("\nResponses by status:")
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return fmt.Errorf("failed to scan status count: %w", err)
		}
		fmt.Printf("  %-20s %d\n", status, n)
	}
	return rows.Err()
}
