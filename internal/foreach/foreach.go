// ABOUTME: Bounded-parallelism fan-out executor for forEach task specs
// ABOUTME: Counting semaphore plus WaitGroup, deterministic output ordering by item index

package foreach

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgeflow/core/internal/resolver"
	"github.com/forgeflow/core/pkg/types"
)

// TaskExecutor is invoked once per resolved item with a fresh
// iteration context (parent context plus forEach.itemVar/currentItem/
// index) so the caller can resolve the underlying task spec's input
// templates against the current item. Implementations must never
// panic across this boundary; Execute recovers from a panic and
// converts it into a per-item failure regardless.
type TaskExecutor func(ctx context.Context, itemCtx *types.TemplateContext, item any, index int) types.TaskExecutionResult

// ItemResult is one iteration's outcome, always present in Results
// regardless of success, ordered by Index.
type ItemResult struct {
	Index    int
	Success  bool
	Output   json.RawMessage
	Errors   []string
	Duration time.Duration
}

// Result is the aggregate outcome of a forEach execution.
type Result struct {
	Success      bool
	FailureCount int
	Results      []ItemResult
	// Outputs holds the outputs of successful iterations only, ordered
	// by ascending item index.
	Outputs []json.RawMessage
	Failure string
}

// Execute resolves forEachSpec.Items as a template, parses it as a
// JSON array, and fans out taskExecutor over each element with
// parallelism bounded by forEachSpec.MaxParallel (0 or negative means
// unbounded). Per-item panics and errors are isolated: they never
// abort sibling iterations, and Outputs is ordered by index regardless
// of completion order.
func Execute(ctx context.Context, spec *types.ForEachSpec, tctx *types.TemplateContext, exec TaskExecutor) Result {
	if spec == nil || spec.Items == "" {
		return Result{Failure: "forEach spec must declare non-empty items"}
	}
	if spec.ItemVar == "" {
		return Result{Failure: "forEach spec must declare a non-empty itemVar"}
	}

	resolved, err := resolver.Resolve(spec.Items, tctx)
	if err != nil {
		return Result{Failure: fmt.Sprintf("failed to resolve forEach items: %v", err)}
	}

	var items []any
	if err := json.Unmarshal([]byte(resolved), &items); err != nil {
		return Result{Failure: fmt.Sprintf("forEach items did not resolve to a JSON array: %v", err)}
	}
	if len(items) == 0 {
		return Result{Success: true}
	}

	maxParallel := spec.MaxParallel
	var sem chan struct{}
	if maxParallel > 0 {
		sem = make(chan struct{}, maxParallel)
	}

	results := make([]ItemResult, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case <-ctx.Done():
			results[i] = ItemResult{Index: i, Success: false, Errors: []string{ctx.Err().Error()}}
			continue
		default:
		}

		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			iterCtx := &types.TemplateContext{
				Input:       tctx.Input,
				TaskOutputs: tctx.TaskOutputs,
				ForEach: &types.ForEachContext{
					ItemVar:     spec.ItemVar,
					CurrentItem: item,
					Index:       i,
				},
			}

			results[i] = runOne(ctx, exec, iterCtx, item, i)
		}(i, item)
	}

	wg.Wait()

	out := Result{Results: results}
	var outputs []json.RawMessage
	for _, r := range results {
		if !r.Success {
			out.FailureCount++
			continue
		}
		outputs = append(outputs, r.Output)
	}
	out.Outputs = outputs
	out.Success = out.FailureCount == 0
	return out
}

// runOne invokes exec for a single item, recovering from a panic and
// converting it into a per-item failure, and records elapsed duration.
func runOne(ctx context.Context, exec TaskExecutor, iterCtx *types.TemplateContext, item any, index int) (result ItemResult) {
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		result.Index = index
		if r := recover(); r != nil {
			result.Success = false
			result.Errors = []string{fmt.Sprintf("panic in forEach iteration %d: %v", index, r)}
			result.Output = nil
		}
	}()

	execResult := exec(ctx, iterCtx, item, index)
	result.Success = execResult.Success
	result.Output = execResult.Output
	result.Errors = execResult.Errors
	return result
}
