// ABOUTME: Execution history storage for completed workflow runs
// ABOUTME: In-memory index backed by one JSON file per run, used by the webhook server's execution lookup

package history

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/forgeflow/core/pkg/types"
)

// Store records WorkflowRunResults as they complete and serves them
// back by execution id. Writes go to both an in-memory index and a
// per-run JSON file under dataDir, so a restart can still answer
// queries for runs it did not itself observe.
type Store struct {
	fs      afero.Fs
	dataDir string

	mu      sync.RWMutex
	results map[string]types.WorkflowRunResult
}

// New returns a Store that persists under dataDir on fs. A nil fs
// defaults to the OS filesystem.
func New(fs afero.Fs, dataDir string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{
		fs:      fs,
		dataDir: dataDir,
		results: make(map[string]types.WorkflowRunResult),
	}
}

// Record stores result, indexed by its ExecutionID, and writes it to
// disk. Disk write failures are returned but do not prevent the
// in-memory index from being updated.
func (s *Store) Record(result types.WorkflowRunResult) error {
	s.mu.Lock()
	s.results[result.ExecutionID] = result
	s.mu.Unlock()

	if s.dataDir == "" {
		return nil
	}

	if err := s.fs.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}

	path := fmt.Sprintf("%s/%s.json", s.dataDir, result.ExecutionID)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write execution record: %w", err)
	}
	return nil
}

// Get returns the run result for executionID, consulting the
// in-memory index first and falling back to disk.
func (s *Store) Get(executionID string) (types.WorkflowRunResult, bool) {
	s.mu.RLock()
	result, ok := s.results[executionID]
	s.mu.RUnlock()
	if ok {
		return result, true
	}

	if s.dataDir == "" {
		return types.WorkflowRunResult{}, false
	}

	path := fmt.Sprintf("%s/%s.json", s.dataDir, executionID)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return types.WorkflowRunResult{}, false
	}

	var loaded types.WorkflowRunResult
	if err := json.Unmarshal(data, &loaded); err != nil {
		return types.WorkflowRunResult{}, false
	}

	s.mu.Lock()
	s.results[executionID] = loaded
	s.mu.Unlock()
	return loaded, true
}

// List returns every run result currently held in the in-memory
// index, in no particular order.
func (s *Store) List() []types.WorkflowRunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.WorkflowRunResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	return out
}
