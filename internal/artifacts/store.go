package artifacts

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/lsync/internal/shared"
)

// Store saves and loads opaque blobs by slash-separated key.
type Store interface {
	// Put writes data under key and returns a location string for display.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get returns [shared.ErrArtifactNotFound] when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// New opens the backend named by cfg.Backend. "none" and "" return a nil Store.
func New(ctx context.Context, cfg shared.ArtifactsConfig, logger *log.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "local":
		l, err := NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "minio":
		m, err := NewMinIO(ctx, cfg.MinIO, RetryConfig{}, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown artifacts backend %q", shared.ErrInvalidConfig, cfg.Backend)
	}
}
