// ABOUTME: Tests for the execution history store
// ABOUTME: Covers in-memory recording, disk persistence, and cold-read fallback

package history

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/forgeflow/core/pkg/types"
)

func sampleResult(id string) types.WorkflowRunResult {
	return types.WorkflowRunResult{
		ExecutionID:  id,
		WorkflowName: "deploy",
		Status:       types.RunSucceeded,
		StartedAt:    time.Now(),
		FinishedAt:   time.Now(),
	}
}

func TestRecordAndGet(t *testing.T) {
	s := New(afero.NewMemMapFs(), "/history")
	result := sampleResult("exec-1")

	if err := s.Record(result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := s.Get("exec-1")
	if !ok {
		t.Fatalf("expected to find recorded execution")
	}
	if got.WorkflowName != "deploy" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := New(afero.NewMemMapFs(), "/history")
	_, ok := s.Get("does-not-exist")
	if ok {
		t.Fatalf("expected missing execution to report not-found")
	}
}

func TestGetFallsBackToDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/history")
	result := sampleResult("exec-2")
	if err := s.Record(result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cold := New(fs, "/history")
	got, ok := cold.Get("exec-2")
	if !ok {
		t.Fatalf("expected a fresh store to find the record on disk")
	}
	if got.ExecutionID != "exec-2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestList(t *testing.T) {
	s := New(afero.NewMemMapFs(), "/history")
	s.Record(sampleResult("a"))
	s.Record(sampleResult("b"))

	if len(s.List()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(s.List()))
	}
}
