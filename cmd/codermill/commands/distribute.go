package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/assessly/codermill/cache"
	"github.com/assessly/codermill/coding"
	"github.com/assessly/codermill/config"
	"github.com/assessly/codermill/logger"
)

var (
	distWorkspaceFlag int64
	distCodersFlag    []int64
	distVarsFlag      []string
	distDoubleAbsFlag int
	distDoublePctFlag float64
	distMaxCasesFlag  int
	distAlternateFlag bool
	distDryRunFlag    bool
)

// DistributeCmd previews or creates distributed coding jobs.
var DistributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Preview or create distributed coding jobs",
	Long: `distribute — Split unique response cases fairly across coders.

Variables are given as unit:variable pairs. With --dry-run the plan is
printed without writing anything; without it, coding jobs and their
units are created in one transaction. Variable bundles are available
through the service API; the CLI distributes plain variables.

Examples:
  codermill distribute --workspace 1 --coders 1,2 --vars MATH01:a1 --dry-run
  codermill distribute --workspace 1 --coders 1,2,3 --vars MATH01:a1,MATH01:a2 \
    --double-coding-absolute 5 --max-cases 100`,
	RunE: runDistribute,
}

func init() {
	DistributeCmd.Flags().Int64Var(&distWorkspaceFlag, "workspace", 1, "Workspace id")
	DistributeCmd.Flags().Int64SliceVar(&distCodersFlag, "coders", nil, "Coder ids (comma-separated)")
	DistributeCmd.Flags().StringSliceVar(&distVarsFlag, "vars", nil, "Variables as unit:variable pairs")
	DistributeCmd.Flags().IntVar(&distDoubleAbsFlag, "double-coding-absolute", -1, "Absolute number of double-coded cases per item")
	DistributeCmd.Flags().Float64Var(&distDoublePctFlag, "double-coding-percent", -1, "Percentage of cases to double-code per item")
	DistributeCmd.Flags().IntVar(&distMaxCasesFlag, "max-cases", -1, "Global case budget across all items")
	DistributeCmd.Flags().BoolVar(&distAlternateFlag, "alternating", false, "Use alternating case ordering instead of continuous")
	DistributeCmd.Flags().BoolVar(&distDryRunFlag, "dry-run", false, "Compute the plan without creating jobs")
}

func runDistribute(cmd *cobra.Command, args []string) error {
	req, err := buildDistributionRequest()
	if err != nil {
		return err
	}

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

	ctx := context.Background()
	var result *coding.DistributionResult
	if distDryRunFlag {
		result, err = service.CalculateDistribution(ctx, distWorkspaceFlag, *req)
	} else {
		result, err = service.CreateDistributedCodingJobs(ctx, distWorkspaceFlag, *req)
	}
	if err != nil {
		return err
	}

	printPlan(result.Plan)

	if distDryRunFlag {
		fmt.Println("\nDry run: no jobs were created")
		return nil
	}

	fmt.Printf("\nCreated %d coding job(s):\n", len(result.Jobs))
	for _, job := range result.Jobs {
		fmt.Printf("  %-40s %s\n", job.Name, job.ID)
	}
	return nil
}

func buildDistributionRequest() (*coding.DistributionRequest, error) {
	if len(distCodersFlag) == 0 {
		return nil, fmt.Errorf("at least one coder is required (--coders)")
	}
	if len(distVarsFlag) == 0 {
		return nil, fmt.Errorf("nothing to distribute: pass --vars")
	}

	req := &coding.DistributionRequest{
		CoderIDs:         distCodersFlag,
		CaseOrderingMode: coding.OrderingContinuous,
	}
	if distAlternateFlag {
		req.CaseOrderingMode = coding.OrderingAlternating
	}

	for _, pair := range distVarsFlag {
		unit, variable, ok := strings.Cut(pair, ":")
		if !ok || unit == "" || variable == "" {
			return nil, fmt.Errorf("invalid variable %q, expected unit:variable", pair)
		}
		req.Variables = append(req.Variables, coding.VariableReference{
			UnitName:   unit,
			VariableID: variable,
		})
	}
	if distDoubleAbsFlag >= 0 {
		v := distDoubleAbsFlag
		req.DoubleCodingAbsolute = &v
	}
	if distDoublePctFlag >= 0 {
		v := distDoublePctFlag
		req.DoubleCodingPercent = &v
	}
	if distMaxCasesFlag >= 0 {
		v := distMaxCasesFlag
		req.MaxCodingCases = &v
	}

	return req, nil
}

func printPlan(plan *coding.AllocationPlan) {
	encoded, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		fmt.Printf("Assigned cases: %d\n", plan.AssignedCases)
		return
	}
	fmt.Println(string(encoded))

	for _, warning := range plan.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
}
