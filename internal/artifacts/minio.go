package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/desertthunder/lsync/internal/shared"
)

// RetryConfig bounds connection attempts while the object store comes up.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// MinIO stores artifacts as objects in one bucket, under an optional base path.
type MinIO struct {
	client   *minio.Client
	bucket   string
	basePath string
}

// NewMinIO connects and creates the bucket when missing, retrying with exponential backoff.
func NewMinIO(ctx context.Context, cfg shared.MinIOConfig, retry RetryConfig, logger *log.Logger) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: empty MinIO endpoint", shared.ErrInvalidConfig)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: empty MinIO bucket", shared.ErrInvalidConfig)
	}
	if logger == nil {
		logger = log.Default()
	}
	logger = shared.WithLogger(logger, "component", "artifacts", "backend", "minio")

	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = time.Second
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 30 * time.Second
	}

	var lastErr error
	interval := retry.InitialInterval

	for attempt := range retry.MaxRetries {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context canceled before MinIO init: %w", ctx.Err())
		}

		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: "us-east-1",
		})
		if err != nil {
			lastErr = fmt.Errorf("create MinIO client: %w", err)
		} else if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
			lastErr = err
		} else {
			return newMinIO(client, cfg.Bucket, cfg.BasePath), nil
		}

		logger.Warn("MinIO not ready", "attempt", attempt+1, "error", lastErr)
		if attempt < retry.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled while waiting to retry MinIO: %w", ctx.Err())
			case <-time.After(interval):
				interval = min(interval*2, retry.MaxInterval)
			}
		}
	}

	return nil, fmt.Errorf("init MinIO failed after %d attempts: %w", retry.MaxRetries, lastErr)
}

func newMinIO(client *minio.Client, bucket, basePath string) *MinIO {
	basePath = strings.Trim(basePath, "/")
	if basePath != "" {
		basePath += "/"
	}
	return &MinIO{client: client, bucket: bucket, basePath: basePath}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *MinIO) objectName(key string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: bad artifact key %q", shared.ErrInvalidInput, key)
	}
	return s.basePath + key, nil
}

func (s *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	objectName, err := s.objectName(key)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectName), nil
}

func (s *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	objectName, err := s.objectName(key)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) && merr.Code == minio.NoSuchKey {
			return nil, fmt.Errorf("%w: %s", shared.ErrArtifactNotFound, key)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}
