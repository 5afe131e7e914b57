// ABOUTME: Execution graph builder for workflow task specs
// ABOUTME: Extracts explicit and implicit dependency edges, rejects cycles, and computes topological layers

package graph

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/forgeflow/core/pkg/types"
)

// taskRefPattern matches "tasks.<id>.output" inside a template string,
// capturing the referenced task id. It deliberately stops at the next
// '.' or '}' so that "tasks.a.output.value" and "tasks.a.output[0]"
// both yield "a".
var taskRefPattern = regexp.MustCompile(`tasks\.([A-Za-z0-9_-]+)\.output`)

// BuildResult is the outcome of Build. When Valid is false, Graph is
// nil and Errors explains why.
type BuildResult struct {
	Valid  bool
	Graph  *types.ExecutionGraph
	Errors []error
}

// Build parses a workflow's tasks into a directed graph, deduplicating
// explicit dependsOn edges against implicit template-reference edges,
// and rejects cycles. A dependency naming a task id absent from the
// workflow is not rejected here -- per the builder's contract it
// becomes an edge to a nonexistent node and surfaces only when the
// scheduler later tries to resolve that id's output.
func Build(workflow *types.WorkflowResource) *BuildResult {
	nodes := make(map[string]*types.GraphNode, len(workflow.Tasks))

	seen := make(map[string]struct{}, len(workflow.Tasks))
	var dupErrors []error
	for _, task := range workflow.Tasks {
		if _, ok := seen[task.ID]; ok {
			dupErrors = append(dupErrors, types.NewDuplicateTaskError(task.ID, "duplicate task id in workflow"))
			continue
		}
		seen[task.ID] = struct{}{}
		nodes[task.ID] = &types.GraphNode{
			Task:      task,
			DependsOn: make(map[string]struct{}),
		}
	}
	if len(dupErrors) > 0 {
		return &BuildResult{Valid: false, Errors: dupErrors}
	}

	for _, task := range workflow.Tasks {
		node := nodes[task.ID]

		for _, dep := range task.DependsOn {
			if _, exists := node.DependsOn[dep]; !exists {
				node.DependsOn[dep] = struct{}{}
				node.Explicit = append(node.Explicit, dep)
			}
		}

		for _, tmpl := range task.Input {
			for _, match := range taskRefPattern.FindAllStringSubmatch(tmpl, -1) {
				dep := match[1]
				if _, exists := node.DependsOn[dep]; exists {
					continue
				}
				node.DependsOn[dep] = struct{}{}
				node.Implicit = append(node.Implicit, dep)
			}
		}
		if task.ForEach != nil {
			for _, match := range taskRefPattern.FindAllStringSubmatch(task.ForEach.Items, -1) {
				dep := match[1]
				if _, exists := node.DependsOn[dep]; exists {
					continue
				}
				node.DependsOn[dep] = struct{}{}
				node.Implicit = append(node.Implicit, dep)
			}
		}
	}

	if cycle := detectCycle(nodes); cycle != nil {
		return &BuildResult{
			Valid: false,
			Errors: []error{types.NewCircularDependencyError(
				cycle, fmt.Sprintf("workflow '%s' contains a circular dependency", workflow.Name),
			)},
		}
	}

	layers, err := computeLayers(nodes)
	if err != nil {
		return &BuildResult{Valid: false, Errors: []error{err}}
	}

	return &BuildResult{
		Valid: true,
		Graph: &types.ExecutionGraph{
			WorkflowName: workflow.Name,
			Nodes:        nodes,
			Layers:       layers,
		},
	}
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// detectCycle runs a recursive (not iterative) DFS with white/gray/black
// coloring over the node set, returning the first cycle found as an ordered path of
// task ids, or nil if the graph is acyclic. Edges to ids absent from
// nodes are skipped -- they are not part of this graph's node set and
// cannot participate in a cycle.
func detectCycle(nodes map[string]*types.GraphNode) []string {
	color := make(map[string]int, len(nodes))
	var path []string
	var cycle []string

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = colorGray
		path = append(path, id)

		deps := make([]string, 0, len(nodes[id].DependsOn))
		for dep := range nodes[id].DependsOn {
			deps = append(deps, dep)
		}
		sort.Strings(deps)

		for _, dep := range deps {
			if _, exists := nodes[dep]; !exists {
				continue
			}
			switch color[dep] {
			case colorGray:
				start := 0
				for i, v := range path {
					if v == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			case colorWhite:
				if dfs(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = colorBlack
		return false
	}

	for _, id := range ids {
		if color[id] == colorWhite {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}

// computeLayers groups nodes into topological layers using Kahn's
// algorithm: each layer holds every node whose remaining in-degree is
// zero, computed against nodes already placed in prior layers. Edges
// to ids absent from the node set do not contribute to in-degree.
func computeLayers(nodes map[string]*types.GraphNode) ([][]string, error) {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))

	for id, node := range nodes {
		for dep := range node.DependsOn {
			if _, exists := nodes[dep]; !exists {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var layers [][]string
	placed := make(map[string]struct{}, len(nodes))

	for len(placed) < len(nodes) {
		var layer []string
		for id := range nodes {
			if _, done := placed[id]; done {
				continue
			}
			if inDegree[id] == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, types.NewCircularDependencyError(nil, "no progress computing topological layers")
		}
		sort.Strings(layer)
		layers = append(layers, layer)

		for _, id := range layer {
			placed[id] = struct{}{}
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
			}
		}
	}

	return layers, nil
}
