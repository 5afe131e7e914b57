// ABOUTME: Reference shell command task executor
// ABOUTME: Runs a resolved command/script against a TaskExecutionResult, exercising the scheduler and forEach executor

package taskexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/forgeflow/core/pkg/types"
)

// commandOutput is the JSON shape recorded as this executor's output,
// resolvable later via template expressions like
// "{{tasks.build.output.stdout}}".
type commandOutput struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returnCode"`
}

// Execute runs a command built from resolved, the task's input map
// after template resolution. Recognized keys: "command" (required,
// split on whitespace unless "shell" is set), "shell" (run command
// through this shell via -c when present), "workingDir", "environment"
// (";"-separated KEY=VALUE pairs), "timeout" (per the engine's
// "<number><unit>" format), "failOnError" ("true"/"false", default
// true).
func Execute(ctx context.Context, resolved map[string]string) types.TaskExecutionResult {
	command := resolved["command"]
	if command == "" {
		return types.TaskExecutionResult{
			Success:   false,
			Errors:    []string{"command input is required"},
			ErrorInfo: &types.ErrorInfo{Kind: types.ErrKindPermanent, Message: "command input is required"},
		}
	}

	failOnError := true
	if v, ok := resolved["failOnError"]; ok && v == "false" {
		failOnError = false
	}

	if timeoutStr := resolved["timeout"]; timeoutStr != "" {
		d, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return types.TaskExecutionResult{
				Success:   false,
				Errors:    []string{fmt.Sprintf("invalid timeout %q: %v", timeoutStr, err)},
				ErrorInfo: &types.ErrorInfo{Kind: types.ErrKindPermanent, Message: err.Error()},
			}
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var cmd *exec.Cmd
	if shell := resolved["shell"]; shell != "" {
		cmd = exec.CommandContext(ctx, shell, "-c", command)
	} else {
		parts := strings.Fields(command)
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}

	if workDir := resolved["workingDir"]; workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return failureResult(fmt.Sprintf("invalid working directory: %v", err), types.ErrKindPermanent)
		}
		cmd.Dir = abs
	}

	cmd.Env = os.Environ()
	for _, pair := range strings.Split(resolved["environment"], ";") {
		if pair == "" {
			continue
		}
		cmd.Env = append(cmd.Env, pair)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := commandOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failureResult("command timed out", types.ErrKindTransportTransient)
		}
		if ctx.Err() == context.Canceled {
			return failureResult("command cancelled", types.ErrKindCancellation)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				out.ReturnCode = status.ExitStatus()
			} else {
				out.ReturnCode = 1
			}
			if !failOnError {
				return successResult(out)
			}
			return failureResult(fmt.Sprintf("command failed with exit code %d", out.ReturnCode), types.ErrKindPermanent)
		}
		return failureResult(fmt.Sprintf("failed to execute command: %v", err), types.ErrKindTransportTransient)
	}

	return successResult(out)
}

func successResult(out commandOutput) types.TaskExecutionResult {
	raw, _ := json.Marshal(out)
	return types.TaskExecutionResult{Success: true, Output: raw}
}

func failureResult(message string, kind types.ErrorKind) types.TaskExecutionResult {
	return types.TaskExecutionResult{
		Success:   false,
		Errors:    []string{message},
		ErrorInfo: &types.ErrorInfo{Kind: kind, Message: message},
	}
}
