// ABOUTME: Plan command for showing workflow execution layers
// ABOUTME: Allows users to preview task ordering without executing anything

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forgeflow/core/internal/graph"
	"github.com/forgeflow/core/internal/workflow/parser"
)

var planFormat string

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan [workflow.yaml]",
	Short: "Show the execution plan without running any tasks",
	Long: `Parse a workflow, build its dependency graph, and display the
topological layering the scheduler would drive it through, without
executing any task.

Examples:
  forgeflow plan workflow.yaml
  forgeflow plan workflow.yaml --format json`,
	Args: cobra.ExactArgs(1),
	RunE: planWorkflow,
}

func planWorkflow(cmd *cobra.Command, args []string) error {
	workflowPath := args[0]

	p := parser.New(afero.NewOsFs())
	workflow, err := p.ParseFile(workflowPath)
	if err != nil {
		return fmt.Errorf("failed to parse workflow: %w", err)
	}

	build := graph.Build(workflow)
	if !build.Valid {
		fmt.Println("dependency errors:")
		for _, e := range build.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return fmt.Errorf("cannot plan an invalid workflow")
	}

	switch planFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(build.Graph)
	default:
		fmt.Printf("workflow: %s\n", workflow.Name)
		for i, layer := range build.Graph.Layers {
			fmt.Printf("layer %d:\n", i)
			for _, taskID := range layer {
				node := build.Graph.Nodes[taskID]
				fmt.Printf("  - %s", taskID)
				if len(node.Explicit) > 0 || len(node.Implicit) > 0 {
					fmt.Printf(" (depends on: %v)", append(append([]string{}, node.Explicit...), node.Implicit...))
				}
				fmt.Println()
			}
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVar(&planFormat, "format", "text", "output format (text, json)")
}
