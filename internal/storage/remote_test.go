// ABOUTME: Tests for the afero-backed remote output store
// ABOUTME: Exercises Put/GetRawJson/GetValue against an in-memory afero filesystem standing in for S3

package storage

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
)

func TestRemoteStorePutAndGetRawJson(t *testing.T) {
	r := NewRemoteStore(afero.NewMemMapFs(), "outputs")
	raw := json.RawMessage(`{"status":"ok","count":3}`)

	if err := r.Put("fetch", raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := r.GetRawJson("fetch")
	if !ok {
		t.Fatalf("expected stored output to be found")
	}
	if string(got) != string(raw) {
		t.Fatalf("got %s, want %s", got, raw)
	}
}

func TestRemoteStoreRejectsInvalidJSON(t *testing.T) {
	r := NewRemoteStore(afero.NewMemMapFs(), "outputs")
	if err := r.Put("bad", json.RawMessage("not json")); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestRemoteStoreGetValueNavigatesPath(t *testing.T) {
	r := NewRemoteStore(afero.NewMemMapFs(), "")
	r.Put("fetch", json.RawMessage(`{"body":{"items":[10,20,30]}}`))

	v, err := r.GetValue("fetch", "body.items[1]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(interface{ Int() int64 }).Int() != 20 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestRemoteStoreGetValueMissingTask(t *testing.T) {
	r := NewRemoteStore(afero.NewMemMapFs(), "")
	if _, err := r.GetValue("missing", ""); err == nil {
		t.Fatalf("expected error for missing task output")
	}
}
