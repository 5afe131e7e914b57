// ABOUTME: Run command for executing workflows
// ABOUTME: Implements the primary workflow execution functionality

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forgeflow/core/internal/circuit"
	"github.com/forgeflow/core/internal/config"
	"github.com/forgeflow/core/internal/scheduler"
	"github.com/forgeflow/core/internal/taskexec"
	"github.com/forgeflow/core/internal/workflow/parser"
	"github.com/forgeflow/core/pkg/types"
)

var (
	runConcurrency   int
	runOutputBackend string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [workflow.yaml]",
	Short: "Execute a workflow",
	Long: `Execute a workflow from a YAML file. The workflow is parsed, built
into a dependency graph, and driven layer by layer with bounded-parallel
execution. External-service tasks are gated by a circuit breaker and
retried with exponential backoff.

Examples:
  forgeflow run workflow.yaml
  forgeflow run workflow.yaml --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	workflowPath := args[0]
	logger := GetLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	concurrency := cfg.MaxConcurrency
	if runConcurrency > 0 {
		concurrency = runConcurrency
	}
	if runOutputBackend != "" {
		cfg.OutputBackend = runOutputBackend
	}

	p := parser.New(afero.NewOsFs())
	workflow, err := p.ParseFile(workflowPath)
	if err != nil {
		return fmt.Errorf("failed to parse workflow: %w", err)
	}

	store, err := buildOutputStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to build output storage: %w", err)
	}
	sched := scheduler.New(scheduler.Config{
		MaxConcurrency: concurrency,
		Executor:       taskexec.Execute,
		CircuitStore:   circuit.New(),
		CircuitOptions: cfg.CircuitBreaker,
		RetryOptions:   cfg.RetryPolicy,
		Logger:         logger,
	}, store)

	logger.Info().Str("workflow", workflow.Name).Msg("starting workflow execution")

	result := sched.Run(context.Background(), workflow, map[string]any{})
	printRunResult(result)

	if result.Status != types.RunSucceeded {
		os.Exit(1)
	}
	return nil
}

func printRunResult(result types.WorkflowRunResult) {
	statusIcon := "OK"
	if result.Status != types.RunSucceeded {
		statusIcon = "FAILED"
	}

	fmt.Printf("\n[%s] workflow %q (%s)\n", statusIcon, result.WorkflowName, result.ExecutionID)
	fmt.Printf("  duration: %s\n", result.Duration)
	fmt.Printf("  tasks: %d\n", len(result.TaskResults))

	for id, tr := range result.TaskResults {
		icon := "ok"
		if !tr.Success {
			icon = "fail"
		}
		fmt.Printf("  - %s: %s\n", id, icon)
		if !tr.Success && verboseMode {
			for _, e := range tr.Errors {
				fmt.Printf("      %s\n", e)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max tasks to run in parallel per layer (0 = use config default)")
	runCmd.Flags().StringVar(&runOutputBackend, "output-backend", "", "output storage backend: memory or s3 (default from config)")
}
