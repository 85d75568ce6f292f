package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/assessly/codermill/batch"
	"github.com/assessly/codermill/jobs"
)

var (
	autocodeWorkspaceFlag int64
	autocodePersonsFlag   []int64
	autocodeGroupsFlag    []string
)

// AutocodeCmd enqueues an automatic batch coding run.
var AutocodeCmd = &cobra.Command{
	Use:   "autocode",
	Short: "Enqueue an automatic batch coding run",
	Long: `autocode — Enqueue a background job that codes the responses of
the given persons (or person groups) against their coding schemes.

The job is picked up by a running worker (codermill serve). Progress and
control are available through 'codermill jobs'.

Examples:
  codermill autocode --workspace 1 --persons 1,2,3
  codermill autocode --workspace 1 --groups groupA,groupB`,
	RunE: runAutocode,
}

func init() {
	AutocodeCmd.Flags().Int64Var(&autocodeWorkspaceFlag, "workspace", 1, "Workspace id")
	AutocodeCmd.Flags().Int64SliceVar(&autocodePersonsFlag, "persons", nil, "Person ids (comma-separated)")
	AutocodeCmd.Flags().StringSliceVar(&autocodeGroupsFlag, "groups", nil, "Person group names (comma-separated)")
}

func runAutocode(cmd *cobra.Command, args []string) error {
	if len(autocodePersonsFlag) == 0 && len(autocodeGroupsFlag) == 0 {
		return fmt.Errorf("nothing to code: pass --persons or --groups")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := jobs.NewQueue(database)
	source := fmt.Sprintf("workspace:%d", autocodeWorkspaceFlag)

	// One unfinished run per workspace; a second enqueue just reports
	// the existing job
	if existing, err := queue.FindActiveJobBySource(source, batch.HandlerName); err != nil {
		return err
	} else if existing != nil {
		fmt.Printf("A batch coding run for this workspace is already %s: %s\n",
			existing.SurfaceStatus(), existing.ID)
		return nil
	}

	payload, err := json.Marshal(batch.Payload{
		WorkspaceID: autocodeWorkspaceFlag,
		PersonIDs:   autocodePersonsFlag,
		GroupNames:  autocodeGroupsFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	job, err := jobs.NewJob(batch.HandlerName, source, payload)
	if err != nil {
		return err
	}

	if err := queue.Enqueue(job); err != nil {
		return err
	}

	fmt.Printf("Enqueued batch coding job %s\n", job.ID)
	fmt.Println("Track it with: codermill jobs status", job.ID)
	return nil
}
