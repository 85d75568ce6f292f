package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/assessly/codermill/cache"
	"github.com/assessly/codermill/coding"
	"github.com/assessly/codermill/config"
	"github.com/assessly/codermill/logger"
)

// CodingCmd represents the coding command group for persisted coding
// jobs: the manual side of the system, as opposed to the background
// jobs the jobs command controls.
var CodingCmd = &cobra.Command{
	Use:   "coding",
	Short: "Inspect coding jobs and record coding progress",
	Long: `coding — Inspect coding jobs and record coding progress

Examples:
  codermill coding ls --workspace 1                        # List coding jobs
  codermill coding save <job-id> <response-id> --code 2    # Record one unit
  codermill coding rm <job-id>                             # Delete a coding job`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var codingLsWorkspaceFlag int64

var codingLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List coding jobs of a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCodingService(func(ctx context.Context, service *coding.Service) error {
			list, err := service.ListCodingJobs(ctx, codingLsWorkspaceFlag)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No coding jobs found")
				return nil
			}

			fmt.Printf("%-36s %-40s %-10s %-6s %s\n", "JOB ID", "NAME", "STATUS", "CODER", "PROGRESS")
			for _, job := range list {
				progress, err := service.Store().JobProgress(ctx, job.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%-36s %-40s %-10s %6d %7d%%\n",
					job.ID, job.Name, job.Status, job.CoderID, progress)
			}
			return nil
		})
	},
}

var (
	codingSaveCodeFlag  int
	codingSaveScoreFlag int
	codingSaveOpenFlag  bool
	codingSaveNotesFlag string
)

var codingSaveCmd = &cobra.Command{
	Use:   "save <job-id> <response-id>",
	Short: "Record coding progress on one unit",
	Long: `Save a code, score and notes on one coding-job unit. The unit
is closed unless --keep-open is set; closing the last open unit of a
job completes the job.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		responseID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid response id %q", args[1])
		}

		var code, score *int
		if cmd.Flags().Changed("code") {
			code = &codingSaveCodeFlag
		}
		if cmd.Flags().Changed("score") {
			score = &codingSaveScoreFlag
		}

		return withCodingService(func(ctx context.Context, service *coding.Service) error {
			status, err := service.SaveUnitProgress(ctx, args[0], responseID,
				code, score, codingSaveOpenFlag, codingSaveNotesFlag)
			if err != nil {
				return err
			}
			fmt.Printf("Saved; job is now %s\n", status)
			return nil
		})
	},
}

var codingRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a coding job and its units",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCodingService(func(ctx context.Context, service *coding.Service) error {
			if err := service.DeleteCodingJob(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted coding job %s\n", args[0])
			return nil
		})
	},
}

func init() {
	codingLsCmd.Flags().Int64Var(&codingLsWorkspaceFlag, "workspace", 1, "Workspace id")

	codingSaveCmd.Flags().IntVar(&codingSaveCodeFlag, "code", 0, "Code to record on the unit")
	codingSaveCmd.Flags().IntVar(&codingSaveScoreFlag, "score", 0, "Score to record on the unit")
	codingSaveCmd.Flags().BoolVar(&codingSaveOpenFlag, "keep-open", false, "Leave the unit open after saving")
	codingSaveCmd.Flags().StringVar(&codingSaveNotesFlag, "notes", "", "Free-form coder notes")

	CodingCmd.AddCommand(codingLsCmd)
	CodingCmd.AddCommand(codingSaveCmd)
	CodingCmd.AddCommand(codingRmCmd)
}

// withCodingService opens the database and runs fn with a coding
// service wired the same way distribute wires it.
func withCodingService(fn func(context.Context, *coding.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	responseCache := cache.New()
	defer responseCache.Stop()

	service := coding.NewService(database, responseCache, logger.Logger, cfg.Coding.MatchingMode)
	return fn(context.Background(), service)
}
