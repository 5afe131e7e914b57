// ABOUTME: Tests for the workflow scheduler
// ABOUTME: Covers layered execution, conditions, forEach dispatch, and the circuit/retry path for external tasks

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgeflow/core/internal/circuit"
	"github.com/forgeflow/core/internal/storage"
	"github.com/forgeflow/core/pkg/types"
)

// capturingLogger records the field/message of every Error() call so
// tests can assert that cross-boundary failures actually get logged.
type capturingLogger struct {
	errEvents []string
}

func (l *capturingLogger) Debug() types.LogEvent { return &noopLogEvent{} }
func (l *capturingLogger) Info() types.LogEvent  { return &noopLogEvent{} }
func (l *capturingLogger) Warn() types.LogEvent  { return &noopLogEvent{} }
func (l *capturingLogger) Error() types.LogEvent {
	return &capturingLogEvent{logger: l}
}
func (l *capturingLogger) With() types.LogContext { return &noopLogContext{logger: l} }

type capturingLogEvent struct {
	logger *capturingLogger
	fields []string
}

func (e *capturingLogEvent) Str(key, val string) types.LogEvent {
	e.fields = append(e.fields, key+"="+val)
	return e
}
func (e *capturingLogEvent) Int(key string, val int) types.LogEvent { return e }
func (e *capturingLogEvent) Dur(key string, val time.Duration) types.LogEvent {
	return e
}
func (e *capturingLogEvent) Err(err error) types.LogEvent {
	e.fields = append(e.fields, "err="+err.Error())
	return e
}
func (e *capturingLogEvent) Bool(key string, val bool) types.LogEvent { return e }
func (e *capturingLogEvent) Any(key string, val interface{}) types.LogEvent {
	return e
}
func (e *capturingLogEvent) Msg(msg string) {
	e.logger.errEvents = append(e.logger.errEvents, msg+" ["+strings.Join(e.fields, " ")+"]")
}
func (e *capturingLogEvent) Msgf(format string, args ...interface{}) {
	e.Msg(fmt.Sprintf(format, args...))
}

type noopLogEvent struct{}

func (e *noopLogEvent) Str(key, val string) types.LogEvent               { return e }
func (e *noopLogEvent) Int(key string, val int) types.LogEvent           { return e }
func (e *noopLogEvent) Dur(key string, val time.Duration) types.LogEvent { return e }
func (e *noopLogEvent) Err(err error) types.LogEvent                     { return e }
func (e *noopLogEvent) Bool(key string, val bool) types.LogEvent         { return e }
func (e *noopLogEvent) Any(key string, val interface{}) types.LogEvent   { return e }
func (e *noopLogEvent) Msg(msg string)                                  {}
func (e *noopLogEvent) Msgf(format string, args ...interface{})         {}

type noopLogContext struct{ logger *capturingLogger }

func (c *noopLogContext) Str(key, val string) types.LogContext { return c }
func (c *noopLogContext) Logger() types.Logger                 { return c.logger }

func TestRunExecutesDependentLayersInOrder(t *testing.T) {
	store := storage.New()
	var order []string

	executor := func(ctx context.Context, resolved map[string]string) types.TaskExecutionResult {
		order = append(order, resolved["name"])
		out, _ := json.Marshal(map[string]string{"name": resolved["name"]})
		return types.TaskExecutionResult{Success: true, Output: out}
	}

	sched := New(Config{MaxConcurrency: 2, Executor: executor}, store)

	wf := &types.WorkflowResource{
		Name: "wf",
		Tasks: []types.TaskSpec{
			{ID: "a", Input: map[string]string{"name": "a"}},
			{ID: "b", DependsOn: []string{"a"}, Input: map[string]string{"name": "{{tasks.a.output.name}}"}},
		},
	}

	result := sched.Run(context.Background(), wf, map[string]any{})
	if result.Status != types.RunSucceeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(order) != 2 || order[0] != "a" {
		t.Fatalf("expected a before b, got %v", order)
	}
}

func TestRunSkipsTaskOnFalseCondition(t *testing.T) {
	store := storage.New()
	called := false
	executor := func(ctx context.Context, resolved map[string]string) types.TaskExecutionResult {
		called = true
		return types.TaskExecutionResult{Success: true, Output: json.RawMessage("1")}
	}

	sched := New(Config{MaxConcurrency: 1, Executor: executor}, store)
	wf := &types.WorkflowResource{
		Name: "wf",
		Tasks: []types.TaskSpec{
			{ID: "a", Condition: "false"},
		},
	}

	result := sched.Run(context.Background(), wf, map[string]any{})
	if result.Status != types.RunSucceeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if called {
		t.Fatalf("expected executor not to be called when condition is false")
	}
}

func TestRunMarksFailureOnCycle(t *testing.T) {
	store := storage.New()
	sched := New(Config{MaxConcurrency: 1, Executor: func(ctx context.Context, resolved map[string]string) types.TaskExecutionResult {
		return types.TaskExecutionResult{Success: true}
	}}, store)

	wf := &types.WorkflowResource{
		Name: "wf",
		Tasks: []types.TaskSpec{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
	}

	result := sched.Run(context.Background(), wf, map[string]any{})
	if result.Status != types.RunFailed {
		t.Fatalf("expected failure for a cyclic graph, got %+v", result)
	}
}

func TestRunDispatchesForEachTask(t *testing.T) {
	store := storage.New()

	forEachExecutor := func(ctx context.Context, itemCtx *types.TemplateContext, item any, index int) types.TaskExecutionResult {
		out, _ := json.Marshal(map[string]any{"item": item})
		return types.TaskExecutionResult{Success: true, Output: out}
	}

	sched := New(Config{
		MaxConcurrency:  2,
		Executor:        func(ctx context.Context, resolved map[string]string) types.TaskExecutionResult { return types.TaskExecutionResult{Success: true} },
		ForEachExecutor: forEachExecutor,
	}, store)

	wf := &types.WorkflowResource{
		Name: "wf",
		Tasks: []types.TaskSpec{
			{ID: "a", Input: map[string]string{"list": `["x","y"]`}},
			{ID: "b", ForEach: &types.ForEachSpec{Items: "[1,2,3]", ItemVar: "n"}},
		},
	}

	result := sched.Run(context.Background(), wf, map[string]any{})
	if result.Status != types.RunSucceeded {
		t.Fatalf("expected success, got %+v", result)
	}

	tr := result.TaskResults["b"]
	var outputs []map[string]any
	if err := json.Unmarshal(tr.Output, &outputs); err != nil {
		t.Fatalf("failed to decode forEach outputs: %v", err)
	}
	if len(outputs) != 3 {
		t.Fatalf("expected 3 forEach outputs, got %d", len(outputs))
	}
}

func TestRunGatesExternalTaskOnOpenCircuit(t *testing.T) {
	store := storage.New()
	cs := circuit.New()
	opts := types.CircuitBreakerOptions{FailureThreshold: 1, SamplingDuration: time.Minute, HalfOpenRequests: 1, OpenDuration: time.Minute}
	cs.RecordFailure("payments", opts)

	var attempts int32
	executor := func(ctx context.Context, resolved map[string]string) types.TaskExecutionResult {
		atomic.AddInt32(&attempts, 1)
		return types.TaskExecutionResult{Success: true, Output: json.RawMessage("1")}
	}

	logger := &capturingLogger{}

	sched := New(Config{
		MaxConcurrency: 1,
		Executor:       executor,
		CircuitStore:   cs,
		CircuitOptions: opts,
		RetryOptions:   types.DefaultRetryPolicyOptions(),
		ExternalService: func(task types.TaskSpec) string {
			return "payments"
		},
		Logger: logger,
	}, store)

	wf := &types.WorkflowResource{Name: "wf", Tasks: []types.TaskSpec{{ID: "charge"}}}
	result := sched.Run(context.Background(), wf, map[string]any{})

	if result.Status != types.RunFailed {
		t.Fatalf("expected failure while the circuit is open and has not yet cooled down, got %+v", result)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Fatalf("expected the executor never to be invoked while the circuit is open, got %d calls", attempts)
	}

	if len(logger.errEvents) != 1 {
		t.Fatalf("expected exactly one logged error, got %v", logger.errEvents)
	}
	logged := logger.errEvents[0]
	if !strings.Contains(logged, "task_id=charge") || !strings.Contains(logged, "workflow=wf") || !strings.Contains(logged, "err=") {
		t.Fatalf("expected the logged error to carry task_id/workflow/err fields, got %q", logged)
	}
}
