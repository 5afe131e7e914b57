// ABOUTME: In-memory OptimizedJsonStorage backing the template resolver
// ABOUTME: Read-many-write-rarely map of task id to raw output bytes, navigated via gjson

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// JSONStore is a mutex-guarded map from task id to that task's raw
// output bytes. Writes happen once, at task completion; reads happen
// many times as later tasks' templates reference earlier outputs.
// GetRawJson returns the stored bytes verbatim so that whole-output
// template substitution is a byte-identical passthrough.
type JSONStore struct {
	mu      sync.RWMutex
	outputs map[string]json.RawMessage
}

// New returns an empty JSONStore.
func New() *JSONStore {
	return &JSONStore{outputs: make(map[string]json.RawMessage)}
}

// Put records taskID's raw output bytes, replacing any prior value.
func (s *JSONStore) Put(taskID string, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("output for task %q is not valid JSON", taskID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[taskID] = append(json.RawMessage(nil), raw...)
	return nil
}

// GetRawJson returns the stored bytes for taskID verbatim.
func (s *JSONStore) GetRawJson(taskID string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.outputs[taskID]
	return raw, ok
}

// GetValue navigates a dot/bracket path into taskID's stored output
// using gjson and returns the leaf as a gjson.Result, which the
// resolver formats per its leaf-conversion rules. A missing segment
// anywhere along the path is reported as an error naming the path.
func (s *JSONStore) GetValue(taskID string, path string) (any, error) {
	raw, ok := s.GetRawJson(taskID)
	if !ok {
		return nil, fmt.Errorf("unknown task id %q", taskID)
	}
	if path == "" {
		return gjson.ParseBytes(raw), nil
	}

	result := gjson.GetBytes(raw, toGjsonPath(path))
	if !result.Exists() {
		return nil, fmt.Errorf("missing segment in path %q", path)
	}
	return result, nil
}

// toGjsonPath rewrites the resolver's "name[3].field" segment syntax
// into gjson's "name.3.field" dotted-index syntax. A leading index, as
// in "[0].field", becomes "0.field".
func toGjsonPath(path string) string {
	var out strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '[':
			out.WriteByte('.')
		case ']':
			// no-op, closes the index segment opened by '['
		default:
			out.WriteByte(c)
		}
	}
	return strings.TrimPrefix(out.String(), ".")
}
