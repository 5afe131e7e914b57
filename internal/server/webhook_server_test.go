// ABOUTME: Tests for the webhook intake and execution-status HTTP API
// ABOUTME: Covers signature validation, dispatch, and execution lookup

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/forgeflow/core/internal/history"
	"github.com/forgeflow/core/internal/scheduler"
	"github.com/forgeflow/core/internal/security"
	"github.com/forgeflow/core/internal/storage"
	"github.com/forgeflow/core/pkg/types"
)

func testServer(t *testing.T, secret []byte) (*Server, *history.Store) {
	t.Helper()

	store := storage.New()
	sched := scheduler.New(scheduler.Config{
		MaxConcurrency: 1,
		Executor: func(ctx context.Context, resolved map[string]string) types.TaskExecutionResult {
			return types.TaskExecutionResult{Success: true, Output: json.RawMessage(`{"ok":true}`)}
		},
	}, store)

	hist := history.New(afero.NewMemMapFs(), "/data")

	wf := &types.WorkflowResource{
		Name:  "on-push",
		Tasks: []types.TaskSpec{{ID: "notify"}},
	}

	srv := New(Config{
		Scheduler: sched,
		History:   hist,
		Workflows: func(source string) (*types.WorkflowResource, bool) {
			if source == "github" {
				return wf, true
			}
			return nil, false
		},
		Secrets: func(source string) ([]byte, bool) {
			if source == "github" {
				return secret, true
			}
			return nil, false
		},
	})
	return srv, hist
}

func TestHandleWebhookAcceptsValidSignature(t *testing.T) {
	secret := []byte("topsecret")
	srv, hist := testServer(t, secret)

	body := []byte(`{"event":"push"}`)
	sig := security.Sign(body, secret)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-Forgeflow-Signature", sig)
	rec := httptest.NewRecorder()

	srv.handleWebhook(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	executionID := resp["executionId"]
	if executionID == "" {
		t.Fatalf("expected an execution id in the response")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := hist.Get(executionID); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s was never recorded", executionID)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := testServer(t, []byte("topsecret"))

	body := []byte(`{"event":"push"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-Forgeflow-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()

	srv.handleWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleWebhookRejectsUnknownSource(t *testing.T) {
	srv, _ := testServer(t, []byte("topsecret"))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/unknown", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	srv.handleWebhook(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleExecutionReturnsRecordedResult(t *testing.T) {
	_, hist := testServer(t, []byte("topsecret"))
	srv := &Server{cfg: Config{History: hist}}

	result := types.WorkflowRunResult{ExecutionID: "exec-1", WorkflowName: "on-push", Status: types.RunSucceeded}
	if err := hist.Record(result); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/executions/exec-1", nil)
	rec := httptest.NewRecorder()
	srv.handleExecution(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleExecutionMissingReturns404(t *testing.T) {
	_, hist := testServer(t, []byte("topsecret"))
	srv := &Server{cfg: Config{History: hist}}

	req := httptest.NewRequest(http.MethodGet, "/executions/nope", nil)
	rec := httptest.NewRecorder()
	srv.handleExecution(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
