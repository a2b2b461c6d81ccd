package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Storage keeps document blobs in one S3/MinIO bucket.
type Storage struct {
	client   *minio.Client
	bucket   string
	region   string
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		executor: executor,
	}, nil
}

// EnsureBucket creates the document bucket if it does not exist yet. Startup
// races with MinIO coming up, so the check is retried like any other call.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.guard(ctx, resilience.OpBucketEnsure, func(ctx context.Context) error {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			return domain.WrapError(domain.ErrTemporary, "check bucket "+s.bucket, err)
		}
		if exists {
			return nil
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
		return nil
	})
}

// Save uploads once; the resilience policy for s3.put disables retries.
func (s *Storage) Save(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	call := func(ctx context.Context) error {
		if _, err := s.client.PutObject(ctx, s.bucket, key, data, size, opts); err != nil {
			return classifyResponse("put object", err)
		}
		return nil
	}
	return s.guard(ctx, resilience.OpObjectPut, call)
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	var obj *minio.Object
	call := func(ctx context.Context) error {
		o, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return classifyResponse("get object", err)
		}
		// GetObject is lazy; Stat surfaces a missing key before the caller reads.
		if _, err := o.Stat(); err != nil {
			_ = o.Close()
			return classifyResponse("stat object", err)
		}
		obj = o
		return nil
	}
	if err := s.guard(ctx, resilience.OpObjectGet, call); err != nil {
		return nil, err
	}
	return obj, nil
}

// Delete is idempotent; S3 reports success for missing keys.
func (s *Storage) Delete(ctx context.Context, key string) error {
	call := func(ctx context.Context) error {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return classifyResponse("remove object", err)
		}
		return nil
	}
	return s.guard(ctx, resilience.OpObjectDelete, call)
}

func (s *Storage) guard(ctx context.Context, operation string, call func(context.Context) error) error {
	if s.executor == nil {
		return call(ctx)
	}
	return s.executor.Execute(ctx, operation, call, resilience.TransientClassifier)
}

func classifyResponse(operation string, err error) error {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return domain.WrapError(domain.ErrDocumentNotFound, operation, err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
