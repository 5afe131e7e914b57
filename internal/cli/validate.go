// ABOUTME: Validate command for checking workflow syntax and dependencies
// ABOUTME: Provides workflow validation without execution

package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forgeflow/core/internal/graph"
	"github.com/forgeflow/core/internal/workflow/parser"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [workflow.yaml]",
	Short: "Validate workflow syntax and dependencies",
	Long: `Validate a workflow file for syntax errors, duplicate task ids,
and dependency cycles, without executing any tasks.

Examples:
  forgeflow validate workflow.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: validateWorkflow,
}

func validateWorkflow(cmd *cobra.Command, args []string) error {
	workflowPath := args[0]
	logger := GetLogger()

	logger.Info().Str("workflow", workflowPath).Msg("validating workflow")

	p := parser.New(afero.NewOsFs())
	workflow, err := p.ParseFile(workflowPath)
	if err != nil {
		fmt.Printf("parse error: %s\n", err)
		return fmt.Errorf("validation failed")
	}

	build := graph.Build(workflow)
	if !build.Valid {
		fmt.Println("dependency errors:")
		for _, e := range build.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return fmt.Errorf("validation failed")
	}

	fmt.Printf("workflow %q is valid (%d tasks, %d layers)\n", workflow.Name, len(workflow.Tasks), len(build.Graph.Layers))
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
