// ABOUTME: Drives one ExecutionGraph to completion, layer by layer
// ABOUTME: Adapts the donor orchestrator's per-layer semaphore fan-out to condition/resolve/execute/store

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/forgeflow/core/internal/circuit"
	"github.com/forgeflow/core/internal/condition"
	"github.com/forgeflow/core/internal/foreach"
	"github.com/forgeflow/core/internal/graph"
	"github.com/forgeflow/core/internal/resolver"
	"github.com/forgeflow/core/internal/retry"
	"github.com/forgeflow/core/pkg/types"
)

// TaskExecutor runs a single task's resolved input and returns its
// result. A task marked ExternalService is routed through the Retry
// Policy and gated on the Circuit State Store before each attempt.
type TaskExecutor func(ctx context.Context, resolved map[string]string) types.TaskExecutionResult

// ExternalServiceResolver names the circuit-breaker service key for a
// task, or "" if the task does not cross an external boundary.
type ExternalServiceResolver func(task types.TaskSpec) string

// Config wires a Scheduler's dependencies.
type Config struct {
	MaxConcurrency  int
	Executor        TaskExecutor
	ForEachExecutor func(ctx context.Context, itemCtx *types.TemplateContext, item any, index int) types.TaskExecutionResult
	CircuitStore    *circuit.Store
	CircuitOptions  types.CircuitBreakerOptions
	RetryOptions    types.RetryPolicyOptions
	ExternalService ExternalServiceResolver
	Logger          types.Logger
}

// Scheduler executes a WorkflowResource end to end: builds the graph,
// walks its topological layers, and for each task in a layer evaluates
// its condition, resolves its input, executes it (directly or via the
// ForEach Executor), and records the result into Output Storage.
type Scheduler struct {
	cfg     Config
	storage types.OptimizedJsonStorage
}

// New returns a Scheduler that records task outputs into storage.
func New(cfg Config, storage types.OptimizedJsonStorage) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Scheduler{cfg: cfg, storage: storage}
}

// Run builds workflow's execution graph and drives it to completion,
// returning a WorkflowRunResult keyed by a generated execution id.
func (s *Scheduler) Run(ctx context.Context, workflow *types.WorkflowResource, input map[string]any) types.WorkflowRunResult {
	started := time.Now()
	executionID := uuid.NewString()

	result := types.WorkflowRunResult{
		ExecutionID:  executionID,
		WorkflowName: workflow.Name,
		TaskResults:  make(map[string]types.TaskExecutionResult),
		StartedAt:    started,
	}

	build := graph.Build(workflow)
	if !build.Valid {
		result.Status = types.RunFailed
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(started)
		return result
	}

	nodesByID := build.Graph.Nodes
	failed := false

	for _, layer := range build.Graph.Layers {
		s.runLayer(ctx, workflow.Name, layer, nodesByID, input, result.TaskResults, &failed)
		if failed && ctx.Err() != nil {
			break
		}
	}

	result.Status = types.RunSucceeded
	if failed {
		result.Status = types.RunFailed
	}
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(started)
	return result
}

func (s *Scheduler) runLayer(ctx context.Context, workflowName string, layer []string, nodes map[string]*types.GraphNode, input map[string]any, results map[string]types.TaskExecutionResult, failed *bool) {
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, taskID := range layer {
		node := nodes[taskID]

		wg.Add(1)
		sem <- struct{}{}
		go func(node *types.GraphNode) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.runTask(ctx, workflowName, node.Task, input)

			mu.Lock()
			results[node.Task.ID] = result
			if !result.Success {
				*failed = true
			}
			mu.Unlock()

			if result.Success && result.Output != nil {
				_ = s.storage.Put(node.Task.ID, result.Output)
			}
		}(node)
	}

	wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, workflowName string, task types.TaskSpec, input map[string]any) types.TaskExecutionResult {
	tctx := &types.TemplateContext{Input: input, TaskOutputs: s.storage}

	cond := condition.Evaluate(task.Condition, tctx)
	if cond.Failure != "" {
		err := fmt.Errorf("condition evaluation failed: %s", cond.Failure)
		s.logTaskError(workflowName, task.ID, err)
		return types.TaskExecutionResult{Success: false, Errors: []string{cond.Failure}}
	}
	if !cond.Execute {
		return types.TaskExecutionResult{Success: true, Output: json.RawMessage("null")}
	}

	if task.ForEach != nil {
		if s.cfg.ForEachExecutor == nil {
			err := fmt.Errorf("no forEach executor configured")
			s.logTaskError(workflowName, task.ID, err)
			return types.TaskExecutionResult{Success: false, Errors: []string{err.Error()}}
		}
		fr := foreach.Execute(ctx, task.ForEach, tctx, s.cfg.ForEachExecutor)
		outputs := marshalForEachOutputs(fr.Outputs)
		if !fr.Success {
			errs := []string{fr.Failure}
			if errs[0] == "" {
				errs[0] = fmt.Sprintf("%d iteration(s) failed", fr.FailureCount)
			}
			s.logTaskError(workflowName, task.ID, fmt.Errorf("forEach execution failed: %s", errs[0]))
			return types.TaskExecutionResult{Success: false, Output: outputs, Errors: errs}
		}
		return types.TaskExecutionResult{Success: true, Output: outputs}
	}

	resolved, err := s.resolveInput(task, tctx)
	if err != nil {
		s.logTaskError(workflowName, task.ID, err)
		return types.TaskExecutionResult{Success: false, Errors: []string{err.Error()}}
	}

	service := ""
	if s.cfg.ExternalService != nil {
		service = s.cfg.ExternalService(task)
	}
	if service == "" {
		return s.cfg.Executor(ctx, resolved)
	}

	return s.runExternal(ctx, workflowName, task.ID, service, resolved)
}

// logTaskError reports a cross-boundary task error with the fields
// every ambient log line in this package shares: the underlying
// error, the task it happened in, and the workflow it belongs to.
func (s *Scheduler) logTaskError(workflowName, taskID string, err error) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Error().Err(err).Str("task_id", taskID).Str("workflow", workflowName).Msg("task execution error")
}

// marshalForEachOutputs assembles a forEach task's per-item outputs
// into a single JSON array, appending each element in turn (sjson path
// "-1") rather than round-tripping through a Go slice marshal.
func marshalForEachOutputs(outputs []json.RawMessage) json.RawMessage {
	raw := []byte("[]")
	for _, item := range outputs {
		updated, err := sjson.SetRawBytes(raw, "-1", item)
		if err != nil {
			continue
		}
		raw = updated
	}
	return json.RawMessage(raw)
}

func (s *Scheduler) resolveInput(task types.TaskSpec, tctx *types.TemplateContext) (map[string]string, error) {
	resolved := make(map[string]string, len(task.Input))
	for field, tmpl := range task.Input {
		value, err := resolver.Resolve(tmpl, tctx)
		if err != nil {
			return nil, fmt.Errorf("task %q field %q: %w", task.ID, field, err)
		}
		resolved[field] = value
	}
	return resolved, nil
}

// runExternal gates an external-service task on the Circuit State
// Store and drives it through the Retry Policy, classifying a failure
// from the executor's ErrorInfo.
func (s *Scheduler) runExternal(ctx context.Context, workflowName, taskID, service string, resolved map[string]string) types.TaskExecutionResult {
	if s.cfg.CircuitStore != nil {
		state := s.cfg.CircuitStore.GetState(service)
		if state.State == types.CircuitOpen {
			state = s.cfg.CircuitStore.TransitionToHalfOpen(service, s.cfg.CircuitOptions)
			if state.State == types.CircuitOpen {
				err := fmt.Errorf("circuit open for service %q", service)
				s.logTaskError(workflowName, taskID, err)
				return types.TaskExecutionResult{
					Success: false,
					Errors:  []string{err.Error()},
					ErrorInfo: &types.ErrorInfo{
						Kind:    types.ErrKindTransportTransient,
						Message: "circuit open",
					},
				}
			}
		}
	}

	value, err := retry.Do(ctx, s.cfg.RetryOptions, func(attempt int) retry.Attempt[types.TaskExecutionResult] {
		// A retry finds the circuit open (a failed attempt may have opened
		// it) and ends the loop with the same error as the check above.
		if attempt > 0 && s.cfg.CircuitStore != nil {
			if st := s.cfg.CircuitStore.TransitionToHalfOpen(service, s.cfg.CircuitOptions); st.State == types.CircuitOpen {
				openErr := fmt.Errorf("circuit open for service %q", service)
				return retry.Attempt[types.TaskExecutionResult]{
					Value: types.TaskExecutionResult{Success: false, Errors: []string{openErr.Error()}, ErrorInfo: &types.ErrorInfo{Kind: types.ErrKindTransportTransient, Message: "circuit open"}},
					Err:   openErr,
					Kind:  types.ErrKindPermanent,
				}
			}
		}

		result := s.cfg.Executor(ctx, resolved)

		if s.cfg.CircuitStore != nil {
			if result.Success {
				s.cfg.CircuitStore.RecordSuccess(service, s.cfg.CircuitOptions)
			} else {
				s.cfg.CircuitStore.RecordFailure(service, s.cfg.CircuitOptions)
			}
		}

		if result.Success {
			return retry.Attempt[types.TaskExecutionResult]{Value: result}
		}
		kind := types.ErrKindUnknown
		if result.ErrorInfo != nil {
			kind = result.ErrorInfo.Kind
		}
		return retry.Attempt[types.TaskExecutionResult]{Value: result, Err: fmt.Errorf("task failed: %v", result.Errors), Kind: kind}
	})
	if err != nil && value.Errors == nil {
		s.logTaskError(workflowName, taskID, err)
		return types.TaskExecutionResult{Success: false, Errors: []string{err.Error()}}
	}
	if err != nil {
		s.logTaskError(workflowName, taskID, err)
	}
	return value
}
