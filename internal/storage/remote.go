// ABOUTME: Afero-backed OptimizedJsonStorage for remote output persistence
// ABOUTME: Adapts the URI-dispatched filesystem factory pattern down to a single S3 backend

package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	s3fs "github.com/fclairamb/afero-s3"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/forgeflow/core/pkg/types"
)

// S3Config names the bucket and credentials used to back a RemoteStore.
// Empty credential fields fall through to the AWS SDK's normal
// provider chain (environment, shared config, instance role).
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Fs builds the afero.Fs for an S3Config, the same shape the
// filesystem factory produces for an "s3://bucket/..." URI.
func NewS3Fs(cfg S3Config) (afero.Fs, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}

	awsConfig := &aws.Config{}
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	awsConfig.Region = aws.String(region)

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return s3fs.NewFs(cfg.Bucket, sess), nil
}

// RemoteStore is an OptimizedJsonStorage backed by an afero.Fs, one
// object per task id under prefix. It exists alongside the in-memory
// JSONStore for workflows whose output volume or durability
// requirements call for an external object store rather than
// process memory.
type RemoteStore struct {
	fs     afero.Fs
	prefix string
}

// NewRemoteStore returns a RemoteStore that stores each task's output
// at prefix/<taskID>.json on fs.
func NewRemoteStore(fs afero.Fs, prefix string) *RemoteStore {
	return &RemoteStore{fs: fs, prefix: prefix}
}

func (r *RemoteStore) path(taskID string) string {
	if r.prefix == "" {
		return taskID + ".json"
	}
	return r.prefix + "/" + taskID + ".json"
}

// Put writes raw to the object backing taskID, failing if raw is not
// valid JSON.
func (r *RemoteStore) Put(taskID string, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("output for task %q is not valid JSON", taskID)
	}
	return afero.WriteFile(r.fs, r.path(taskID), raw, 0o644)
}

// GetRawJson returns the exact bytes stored for taskID.
func (r *RemoteStore) GetRawJson(taskID string) (json.RawMessage, bool) {
	f, err := r.fs.Open(r.path(taskID))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false
	}
	return json.RawMessage(data), true
}

// GetValue navigates path into taskID's stored output via gjson.
func (r *RemoteStore) GetValue(taskID string, path string) (any, error) {
	raw, ok := r.GetRawJson(taskID)
	if !ok {
		return nil, fmt.Errorf("no output recorded for task %q", taskID)
	}
	if path == "" {
		return gjson.ParseBytes(raw), nil
	}

	result := gjson.GetBytes(raw, toGjsonPath(path))
	if !result.Exists() {
		return nil, fmt.Errorf("path %q not found in output of task %q", path, taskID)
	}
	return result, nil
}
