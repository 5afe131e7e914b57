// ABOUTME: Output storage backend selection shared by run and serve
// ABOUTME: Builds the in-memory JSONStore or an S3-backed RemoteStore from resolved config

package cli

import (
	"fmt"

	"github.com/forgeflow/core/internal/config"
	"github.com/forgeflow/core/internal/storage"
	"github.com/forgeflow/core/pkg/types"
)

func buildOutputStorage(cfg config.Config) (types.OptimizedJsonStorage, error) {
	switch cfg.OutputBackend {
	case "", "memory":
		return storage.New(), nil
	case "s3":
		fs, err := storage.NewS3Fs(cfg.OutputS3)
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 output backend: %w", err)
		}
		return storage.NewRemoteStore(fs, cfg.OutputS3Prefix), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", cfg.OutputBackend)
	}
}
