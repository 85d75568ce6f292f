package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/assessly/codermill/jobs"
	"github.com/assessly/codermill/logger"
)

// JobsCmd represents the jobs command group for background job control.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control background jobs",
	Long: `jobs — Inspect and control background coding jobs

Examples:
  codermill jobs ls                 # List recent jobs
  codermill jobs status <job-id>    # Show one job's status and progress
  codermill jobs pause <job-id>     # Request a pause at the next chunk boundary
  codermill jobs resume <job-id>    # Clear the pause flag
  codermill jobs cancel <job-id>    # Cancel a job that is not processing
  codermill jobs restart <job-id>   # Re-enqueue a failed job
  codermill jobs rm <job-id>        # Delete a job record`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var (
	jobsLsStateFlag string
	jobsLsLimitFlag int
)

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsLs(jobsLsStateFlag, jobsLsLimitFlag)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(m *jobs.Manager) error {
			status, err := m.GetJobStatus(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Job %s\n", args[0])
			fmt.Printf("  Status:   %s\n", status.Status)
			fmt.Printf("  Progress: %d%%\n", status.Progress)
			if status.Error != "" {
				fmt.Printf("  Error:    %s\n", status.Error)
			}
			if status.Result != nil {
				fmt.Printf("  Result:   %s\n", status.Result)
			}
			return nil
		})
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Request a pause at the next chunk boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlAction(args[0], func(m *jobs.Manager, id string) (*jobs.ControlResult, error) {
			return m.Pause(id)
		})
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Clear a job's pause flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlAction(args[0], func(m *jobs.Manager, id string) (*jobs.ControlResult, error) {
			return m.Resume(id)
		})
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that is not currently processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlAction(args[0], func(m *jobs.Manager, id string) (*jobs.ControlResult, error) {
			return m.Cancel(id)
		})
	},
}

var jobsRestartCmd = &cobra.Command{
	Use:   "restart <job-id>",
	Short: "Re-enqueue a failed job with the same payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlAction(args[0], func(m *jobs.Manager, id string) (*jobs.ControlResult, error) {
			return m.Restart(id)
		})
	},
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlAction(args[0], func(m *jobs.Manager, id string) (*jobs.ControlResult, error) {
			return m.Delete(id)
		})
	},
}

func init() {
	jobsLsCmd.Flags().StringVar(&jobsLsStateFlag, "state", "", "Filter by state (waiting, delayed, active, paused, completed, failed)")
	jobsLsCmd.Flags().IntVar(&jobsLsLimitFlag, "limit", 20, "Maximum number of jobs to show")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsPauseCmd)
	JobsCmd.AddCommand(jobsResumeCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsRestartCmd)
	JobsCmd.AddCommand(jobsRmCmd)
}

// withManager opens the database and runs fn with a lifecycle manager.
func withManager(fn func(*jobs.Manager) error) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	manager := jobs.NewManager(jobs.NewQueue(database), logger.Logger)
	return fn(manager)
}

// controlAction runs one lifecycle action and prints its structured
// result. An ineligible or missing job is reported, not an error.
func controlAction(jobID string, action func(*jobs.Manager, string) (*jobs.ControlResult, error)) error {
	return withManager(func(m *jobs.Manager) error {
		result, err := action(m, jobID)
		if err != nil {
			return err
		}
		if result.Success {
			fmt.Println(result.Message)
			if result.JobID != "" {
				fmt.Printf("New job id: %s\n", result.JobID)
			}
		} else {
			fmt.Printf("Refused: %s\n", result.Message)
		}
		return nil
	})
}

func runJobsLs(stateFilter string, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := jobs.NewQueue(database)

	var state *jobs.State
	if stateFilter != "" {
		if !jobs.IsValidState(stateFilter) {
			return fmt.Errorf("invalid state filter: %s", stateFilter)
		}
		s := jobs.State(stateFilter)
		state = &s
	}

	list, err := queue.ListJobs(state, limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-12s %-15s %-9s %s\n", "JOB ID", "STATUS", "HANDLER", "PROGRESS", "CREATED")
	for _, job := range list {
		fmt.Printf("%-36s %-12s %-15s %8d%% %s\n",
			job.ID,
			job.SurfaceStatus(),
			job.HandlerName,
			job.Progress,
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(list))
	return nil
}
