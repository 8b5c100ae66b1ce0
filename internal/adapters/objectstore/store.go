// Package objectstore writes pipeline artifacts to an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ewilliams-labs/cadence/internal/breaker"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/logging"
)

// compile-time interface assertion
var _ ports.ArtifactStore = (*Store)(nil)

// Config points the store at a bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	// Region skips bucket location discovery when set.
	Region  string
	Timeout time.Duration
}

// Store uploads JSON documents and files. Every call goes through a circuit
// breaker so a dead endpoint costs one fast failure per call.
type Store struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
	log     zerolog.Logger
}

// New creates a client. It does not contact the endpoint.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("objectstore: endpoint and bucket are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: create client: %w", err)
	}
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
		cb:      breaker.New[struct{}](breaker.Defaults("objectstore")),
		log:     logging.Component("objectstore").With().Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			return fmt.Errorf("check bucket: %w", err)
		}
		if exists {
			return nil
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.log.Info().Msg("bucket created")
		return nil
	})
}

// PutJSON encodes v and uploads it under key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("objectstore: encode %s: %w", key, err)
	}
	return s.PutBytes(ctx, key, body, "application/json")
}

// PutBytes uploads body under key.
func (s *Store) PutBytes(ctx context.Context, key string, body []byte, contentType string) error {
	key = strings.TrimLeft(key, "/")
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
		return nil
	})
}

// SyncSeed keeps the local seed catalog and the bucket copy aligned: a local
// file is pushed, a missing one is pulled. It reports whether the local file
// exists afterwards.
func (s *Store) SyncSeed(ctx context.Context, localPath, key string) (bool, error) {
	key = strings.TrimLeft(key, "/")
	if _, err := os.Stat(localPath); err == nil {
		err := s.do(ctx, func(ctx context.Context) error {
			if _, err := s.client.FPutObject(ctx, s.bucket, key, localPath,
				minio.PutObjectOptions{ContentType: "text/csv"}); err != nil {
				return fmt.Errorf("push seed %s: %w", key, err)
			}
			return nil
		})
		return true, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("objectstore: stat %s: %w", localPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return false, fmt.Errorf("objectstore: create %s: %w", filepath.Dir(localPath), err)
	}
	err := s.do(ctx, func(ctx context.Context) error {
		if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("pull seed %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	s.log.Info().Str("key", key).Str("path", localPath).Msg("pulled seed catalog from bucket")
	return true, nil
}

func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := s.cb.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return struct{}{}, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("objectstore: %w", err)
	}
	return nil
}
