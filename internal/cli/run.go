package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/civictrail/promisetrack/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	runSession string
	runLimit   int
)

var runCmd = &cobra.Command{
	Use:   "run <stage> <job>",
	Short: "Execute a pipeline job",
	Long: `Execute a configured pipeline job and wait for it to finish,
including any downstream jobs it triggers.

Examples:
  promisetrack run linking evidence_linker
  promisetrack run linking evidence_linker --session 44-1 --limit 50
  promisetrack run scoring promise_scorer`,
	Args: cobra.ExactArgs(2),
	RunE: runJob,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "parliament session filter (e.g. 44-1)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "maximum evidence items to process")
	rootCmd.AddCommand(runCmd)
}

func runJob(cmd *cobra.Command, cmdArgs []string) error {
	stage, job := cmdArgs[0], cmdArgs[1]

	collector := metrics.NewCollector()
	orchestrator, err := buildOrchestrator(collector)
	if err != nil {
		return err
	}

	args := map[string]any{}
	if runSession != "" {
		args["parliament_session"] = runSession
	}
	if runLimit > 0 {
		args["limit"] = runLimit
	}

	result := orchestrator.ExecuteJob(context.Background(), stage, job, args)

	// Downstream jobs spawned by triggers run detached; wait so the process
	// does not exit under them.
	orchestrator.WaitForTriggered()

	fmt.Printf("Job: %s.%s\n", result.Stage, result.JobName)
	fmt.Printf("  Status: %s\n", result.Status)
	fmt.Printf("  Duration: %s\n", result.Duration().Round(time.Millisecond))
	fmt.Printf("  Processed: %d  Created: %d  Updated: %d  Skipped: %d  Errors: %d\n",
		result.Counts.Processed, result.Counts.Created, result.Counts.Updated,
		result.Counts.Skipped, result.Counts.Errors)
	if result.Message != "" {
		fmt.Printf("  Message: %s\n", result.Message)
	}

	if !result.Succeeded() {
		return fmt.Errorf("job %s.%s finished with status %s", stage, job, result.Status)
	}
	return nil
}
