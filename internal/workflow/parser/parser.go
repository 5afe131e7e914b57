// ABOUTME: YAML parser for workflow resource definitions
// ABOUTME: Strict-mode decode plus the duplicate-id check the graph builder assumes is already done

package parser

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/forgeflow/core/pkg/types"
)

// Parser parses workflow resource documents from YAML.
type Parser struct {
	fs afero.Fs
}

// New returns a Parser backed by fs. A nil fs defaults to the OS
// filesystem.
func New(fs afero.Fs) *Parser {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Parser{fs: fs}
}

// Parse decodes a single workflow resource document.
func (p *Parser) Parse(data []byte) (*types.WorkflowResource, error) {
	var workflow types.WorkflowResource

	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)

	if err := decoder.Decode(&workflow); err != nil {
		return nil, types.NewParseError("", "failed to decode workflow YAML", err)
	}

	if err := p.Validate(&workflow); err != nil {
		return nil, err
	}

	return &workflow, nil
}

// ParseFile reads and parses a workflow resource document from fs.
func (p *Parser) ParseFile(filename string) (*types.WorkflowResource, error) {
	exists, err := afero.Exists(p.fs, filename)
	if err != nil {
		return nil, types.NewParseError(filename, "failed to check file existence", err)
	}
	if !exists {
		return nil, types.NewParseError(filename, "workflow file does not exist", nil)
	}

	data, err := afero.ReadFile(p.fs, filename)
	if err != nil {
		return nil, types.NewParseError(filename, "failed to read file", err)
	}

	workflow, err := p.Parse(data)
	if err != nil {
		if parseErr, ok := err.(*types.ParseError); ok {
			parseErr.File = filename
			return nil, parseErr
		}
		return nil, types.NewParseError(filename, "failed to parse workflow", err)
	}

	return workflow, nil
}

// Validate checks structural requirements the graph builder assumes
// are already satisfied: a non-empty name, at least one task, and
// unique task ids. It does not check dependency targets exist or that
// the graph is acyclic -- those are the graph builder's job.
func (p *Parser) Validate(workflow *types.WorkflowResource) error {
	if workflow.Name == "" {
		return types.NewValidationError("name", workflow.Name, "workflow name is required")
	}
	if len(workflow.Tasks) == 0 {
		return types.NewValidationError("tasks", len(workflow.Tasks), "workflow must have at least one task")
	}

	seen := make(map[string]bool, len(workflow.Tasks))
	for i, task := range workflow.Tasks {
		if task.ID == "" {
			return types.NewValidationError("tasks", i, fmt.Sprintf("task[%d] id is required", i))
		}
		if seen[task.ID] {
			return types.NewDuplicateTaskError(task.ID, fmt.Sprintf("duplicate task id: %s", task.ID))
		}
		seen[task.ID] = true

		if task.ForEach != nil && task.ForEach.ItemVar == "" {
			return types.NewValidationError("forEach.itemVar", task.ID, fmt.Sprintf("task[%d] '%s' forEach requires itemVar", i, task.ID))
		}
		if task.ForEach != nil && task.ForEach.Items == "" {
			return types.NewValidationError("forEach.items", task.ID, fmt.Sprintf("task[%d] '%s' forEach requires items", i, task.ID))
		}
	}

	return nil
}

// ParseString is a convenience wrapper for parsing YAML held in memory.
func ParseString(yamlContent string) (*types.WorkflowResource, error) {
	return New(nil).Parse([]byte(yamlContent))
}
