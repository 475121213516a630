package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/civictrail/promisetrack/internal/pipeline"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [stage] [job]",
	Short: "List configured jobs or show recent executions",
	Long: `List the configured pipeline jobs, or show the recent execution
history of one job.

Examples:
  promisetrack jobs                          # List configured jobs
  promisetrack jobs linking evidence_linker  # Recent runs of one job`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		return showJobHistory(context.Background(), args[0], args[1])
	}

	pipeCfg, err := pipeline.LoadConfig(cfg.PipelineConfigPath)
	if err != nil {
		return fmt.Errorf("load pipeline config: %w", err)
	}

	stageFilter := ""
	if len(args) == 1 {
		stageFilter = args[0]
	}
	return listConfiguredJobs(pipeCfg, stageFilter)
}

func listConfiguredJobs(pipeCfg pipeline.Config, stageFilter string) error {
	fmt.Printf("%-12s %-20s %-10s %-8s %s\n", "STAGE", "JOB", "TIMEOUT", "RETRIES", "TRIGGERS")
	fmt.Println("----------------------------------------------------------------------")

	for stageName, stage := range pipeCfg.Stages {
		if stageFilter != "" && stageName != stageFilter {
			continue
		}
		for jobName, spec := range stage.Jobs {
			timeout := spec.TimeoutMinutes
			if timeout <= 0 {
				timeout = pipeline.DefaultTimeoutMinutes
			}
			retries := pipeline.DefaultRetryAttempts
			if spec.RetryAttempts != nil {
				retries = *spec.RetryAttempts
			}

			triggers := ""
			for i, t := range spec.Triggers {
				if i > 0 {
					triggers += ", "
				}
				triggers += fmt.Sprintf("%s.%s on %s", t.Stage, t.Job, t.Condition)
			}

			fmt.Printf("%-12s %-20s %-10s %-8d %s\n",
				stageName, jobName, fmt.Sprintf("%dm", timeout), retries, triggers)
		}
	}
	return nil
}

func showJobHistory(ctx context.Context, stage, job string) error {
	records, err := dbClient.RecentJobExecutions(ctx, stage, job, 20)
	if err != nil {
		return fmt.Errorf("recent executions: %w", err)
	}

	if len(records) == 0 {
		fmt.Printf("No executions recorded for %s.%s\n", stage, job)
		return nil
	}

	fmt.Printf("%-10s %-10s %-20s %-10s %s\n", "RUN", "STATUS", "STARTED", "DURATION", "COUNTS")
	fmt.Println("----------------------------------------------------------------------")
	for _, rec := range records {
		duration := time.Duration(rec.DurationMs) * time.Millisecond
		counts := fmt.Sprintf("p=%d c=%d u=%d s=%d e=%d",
			rec.Processed, rec.Created, rec.Updated, rec.Skipped, rec.Errors)
		fmt.Printf("%-10s %-10s %-20s %-10s %s\n",
			rec.RunID, rec.Status, rec.StartedAt.Format("2006-01-02 15:04:05"),
			duration.Round(time.Millisecond), counts)
		if rec.Message != nil && *rec.Message != "" {
			fmt.Printf("           %s\n", *rec.Message)
		}
	}
	return nil
}
